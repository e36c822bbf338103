// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"testing"
)

func TestRequest_EffectiveFlags(t *testing.T) {
	if got := (Request{}).EffectiveFlags(); len(got) != len(DefaultFlags) || got[0] != "-sdk" {
		t.Errorf("EffectiveFlags() = %v, want DefaultFlags", got)
	}

	custom := []string{"-target", "arm64-apple-macosx14.0"}
	if got := (Request{Flags: custom}).EffectiveFlags(); got[1] != custom[1] {
		t.Errorf("EffectiveFlags() = %v, want %v", got, custom)
	}
}

func TestNamesRequest_EffectiveFlags(t *testing.T) {
	if got := (NamesRequest{}).EffectiveFlags(); len(got) != len(DefaultFlags) || got[0] != "-sdk" {
		t.Errorf("EffectiveFlags() = %v, want DefaultFlags", got)
	}

	custom := []string{"-sdk", "/sdk"}
	if got := (NamesRequest{Flags: custom}).EffectiveFlags(); got[1] != "/sdk" {
		t.Errorf("EffectiveFlags() = %v, want %v", got, custom)
	}
}

func TestRequest_Offset(t *testing.T) {
	src := []byte("let a = 1\nlet bb = 2\n\nprint(a)")

	tests := []struct {
		name    string
		line    int
		col     int
		want    int
		wantErr error
	}{
		{"first line start", 1, 0, 0, nil},
		{"first line mid", 1, 4, 4, nil},
		{"second line", 2, 4, 14, nil},
		{"empty line", 3, 0, 21, nil},
		{"last line without newline", 4, 6, 28, nil},
		{"column clamped", 1, 99, 9, nil},
		{"line zero", 0, 0, 0, ErrInvalidPosition},
		{"negative column", 1, -1, 0, ErrInvalidPosition},
		{"line past end", 9, 0, 0, ErrInvalidPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Request{Content: src, Line: tt.line, Column: tt.col}.Offset()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Offset() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("Offset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFunc_MissingOperations(t *testing.T) {
	ctx := context.Background()

	lenient := &Func{}
	if items, err := lenient.Completions(ctx, Request{}, nil); err != nil || items != nil {
		t.Errorf("lenient Completions() = %v, %v; want nil, nil", items, err)
	}

	strict := &Func{Strict: true}
	if _, err := strict.Usages(ctx, Request{}, nil); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("strict Usages() error = %v, want ErrUnsupportedOperation", err)
	}
	if err := strict.PreloadModules(ctx, []string{"Foundation"}, nil); !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("strict PreloadModules() error = %v, want ErrUnsupportedOperation", err)
	}
	if strict.Name() != "func" {
		t.Errorf("Name() = %q, want func", strict.Name())
	}
}
