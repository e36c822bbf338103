// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package sourcekitten

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/AleutianAI/semagate/services/sema/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	name    string
	args    []string
	content string
}

func fakeRunner(out string, err error, rec *recordedRun) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		rec.name = name
		rec.args = args
		// The buffer file is removed after the call returns.
		if data, readErr := os.ReadFile(args[2]); readErr == nil {
			rec.content = string(data)
		}
		return []byte(out), err
	}
}

func TestCompletions_RunsToolAndKeepsOrder(t *testing.T) {
	var rec recordedRun
	b := New(Config{Runner: fakeRunner(`[
		{"descriptionKey":"foo()","sourcetext":"foo()","kind":"source.lang.swift.decl.function.free"},
		{"descriptionKey":"bar","sourcetext":"bar","docBrief":"A bar."}
	]`, nil, &rec)})

	req := engine.Request{SourcePath: "/src/a.swift", Content: []byte("let x = 1\nfo"), Line: 2, Column: 2}
	got, err := b.Completions(context.Background(), req, nil)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "foo()", got[0].(engine.SourceKitCompletion)["sourcetext"])
	assert.Equal(t, "A bar.", got[1].(engine.SourceKitCompletion)["docBrief"])

	assert.Equal(t, DefaultCommand, rec.name)
	assert.Equal(t, "let x = 1\nfo", rec.content)
	assert.Equal(t, []string{"complete", "--file", rec.args[2], "--offset", "12", "--", "/src/a.swift"}, rec.args[:7])
	assert.Equal(t, engine.DefaultFlags, rec.args[7:])

	_, statErr := os.Stat(rec.args[2])
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "buffer file must be removed")
}

func TestCompletions_CustomFlagsNoPath(t *testing.T) {
	var rec recordedRun
	b := New(Config{Command: "/opt/sk", Runner: fakeRunner(`[]`, nil, &rec)})

	got, err := b.Completions(context.Background(), engine.Request{
		Content: []byte("x"),
		Flags:   []string{"-sdk", "/sdk"},
		Line:    1,
		Column:  1,
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, "/opt/sk", rec.name)
	assert.Equal(t, []string{"--", "-sdk", "/sdk"}, rec.args[5:])
}

func TestCompletions_Errors(t *testing.T) {
	var rec recordedRun

	b := New(Config{Runner: fakeRunner(`not json`, nil, &rec)})
	_, err := b.Completions(context.Background(), engine.Request{Content: []byte("x"), Line: 1}, nil)
	assert.ErrorIs(t, err, engine.ErrMalformedResult)

	b = New(Config{Runner: fakeRunner(``, ErrCommandFailed, &rec)})
	_, err = b.Completions(context.Background(), engine.Request{Content: []byte("x"), Line: 1}, nil)
	assert.ErrorIs(t, err, ErrCommandFailed)

	_, err = b.Completions(context.Background(), engine.Request{Content: []byte("x"), Line: 9}, nil)
	assert.ErrorIs(t, err, engine.ErrInvalidPosition)
}

func TestUnsupportedOperations(t *testing.T) {
	b := New(Config{Runner: fakeRunner(`[]`, nil, &recordedRun{})})
	ctx := context.Background()

	_, err := b.GotoDefinitions(ctx, engine.Request{}, nil)
	assert.ErrorIs(t, err, engine.ErrUnsupportedOperation)
	_, err = b.GotoAssignments(ctx, engine.Request{}, true, nil)
	assert.ErrorIs(t, err, engine.ErrUnsupportedOperation)
	_, err = b.Usages(ctx, engine.Request{}, nil)
	assert.ErrorIs(t, err, engine.ErrUnsupportedOperation)
	_, err = b.Names(ctx, engine.NamesRequest{}, nil)
	assert.ErrorIs(t, err, engine.ErrUnsupportedOperation)

	assert.NoError(t, b.PreloadModules(ctx, []string{"Foundation"}, nil))
	assert.NoError(t, b.Close(ctx))
	assert.Equal(t, "sourcekitten", b.Name())
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, err := ExecRunner(context.Background(), "semagate-no-such-binary-xyz")
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
}
