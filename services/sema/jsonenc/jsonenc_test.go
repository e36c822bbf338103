// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonenc

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/AleutianAI/semagate/pkg/logging"
	"github.com/AleutianAI/semagate/services/sema/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declared struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

type envelope struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

type base struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type tagged struct {
	base
	Kind     string `json:"kind"`
	Note     string `json:"note,omitempty"`
	Skipped  string `json:"-"`
	Dash     string `json:"-,"`
	Count    int    `json:"count,string"`
	Untagged bool
}

type undeclared struct {
	Name    string
	Line    int
	private string
}

type hidden struct {
	secret string
}

type failingMarshaler struct{}

func (failingMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("nope")
}

func newTestEncoder(t *testing.T) (*Encoder, *logging.BufferedExporter, *observability.Metrics) {
	t.Helper()
	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Quiet: true, Exporter: exporter})
	t.Cleanup(func() { _ = logger.Close() })
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(logger.Slog(), metrics), exporter, metrics
}

func TestMarshal_NativeShapes(t *testing.T) {
	enc, exporter, _ := newTestEncoder(t)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"bool", true, `true`},
		{"nil", nil, `null`},
		{"string", "x", `"x"`},
		{"int", 3, `3`},
		{"slice", []int{1, 2}, `[1,2]`},
		{"nil slice", []string(nil), `[]`},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
		{"int keys", map[int]string{1: "one"}, `{"1":"one"}`},
		{"declared record", declared{Name: "n", Line: 2}, `{"name":"n","line":2}`},
		{"pointer to declared", &declared{Name: "p"}, `{"name":"p","line":0}`},
		{"marshaler", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), `"2024-01-02T03:04:05Z"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := enc.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}

	assert.Empty(t, exporter.Messages(logging.LevelWarn), "native shapes must not log fallbacks")
}

func TestMarshal_DeclaredRecordWithUnencodableField(t *testing.T) {
	enc, exporter, metrics := newTestEncoder(t)

	data, err := enc.Marshal(envelope{Kind: "completion", Payload: complex(1, 2)})
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"completion","payload":"(1+2i)"}`, string(data))

	data, err = enc.Marshal(envelope{Kind: "cb", Payload: func() {}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":"0x`)

	assert.Len(t, exporter.Messages(logging.LevelWarn), 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.EncoderFallbacksTotal.WithLabelValues(FallbackDisplay)))
}

func TestMarshal_DeclaredRecordFollowsTags(t *testing.T) {
	enc, exporter, _ := newTestEncoder(t)

	in := tagged{
		base:     base{Path: "a.swift", Kind: "shadowed"},
		Kind:     "outer",
		Skipped:  "x",
		Dash:     "d",
		Count:    3,
		Untagged: true,
	}
	data, err := enc.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"outer","-":"d","count":"3","Untagged":true,"path":"a.swift"}`, string(data))

	in.Note = "n"
	data, err = enc.Marshal(&in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"note":"n"`)

	assert.Empty(t, exporter.Messages(logging.LevelWarn))
}

func TestMarshal_ReflectFallbackAddsType(t *testing.T) {
	enc, exporter, metrics := newTestEncoder(t)

	data, err := enc.Marshal(undeclared{Name: "n", Line: 4, private: "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Name":"n","Line":4,"TYPE":"undeclared"}`, string(data))

	assert.Len(t, exporter.Messages(logging.LevelWarn), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EncoderFallbacksTotal.WithLabelValues(FallbackReflect)))
}

func TestMarshal_NestedFallbackInsideContainers(t *testing.T) {
	enc, _, _ := newTestEncoder(t)

	data, err := enc.Marshal(map[string]any{
		"items": []any{undeclared{Name: "a"}, declared{Name: "b"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"items":[{"Name":"a","Line":0,"TYPE":"undeclared"},{"name":"b","line":0}]}`,
		string(data))
}

func TestMarshal_DisplayFallback(t *testing.T) {
	enc, exporter, metrics := newTestEncoder(t)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"complex", complex(1, 2), `"(1+2i)"`},
		{"nan", math.NaN(), `"NaN"`},
		{"no exported fields", hidden{secret: "s"}, `"{s}"`},
		{"struct keys", map[declared]int{{Name: "k"}: 1}, `"map[{k 0}:1]"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := enc.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}

	assert.Len(t, exporter.Messages(logging.LevelWarn), len(tests))
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(metrics.EncoderFallbacksTotal.WithLabelValues(FallbackDisplay)))
}

func TestMarshal_FuncAndChan(t *testing.T) {
	enc, _, _ := newTestEncoder(t)

	data, err := enc.Marshal(map[string]any{"fn": func() {}, "ch": make(chan int)})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fn":"0x`)
	assert.Contains(t, string(data), `"ch":"0x`)
}

func TestMarshal_CycleIsBounded(t *testing.T) {
	enc, _, _ := newTestEncoder(t)

	m := map[string]any{}
	m["self"] = m

	_, err := enc.Marshal(m)
	assert.NoError(t, err)
}

func TestMarshal_FailingMarshaler(t *testing.T) {
	enc, _, _ := newTestEncoder(t)

	_, err := enc.Marshal(failingMarshaler{})
	assert.ErrorIs(t, err, ErrUnencodable)
}

func TestMarshal_PackageDefault(t *testing.T) {
	data, err := Marshal(true)
	require.NoError(t, err)
	assert.Equal(t, "true", string(data))
}
