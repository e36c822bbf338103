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

	"github.com/AleutianAI/semagate/services/sema/settings"
)

// Func is an Engine whose operations are plain function fields.
//
// A nil field answers with an empty result (or ErrUnsupportedOperation
// when Strict is set). Used by tests and by the "none" backend, which
// lets the gateway run without an engine for health checks.
type Func struct {
	BackendName   string
	Strict        bool
	CompletionsFn func(ctx context.Context, req Request, s settings.Snapshot) ([]Completion, error)
	DefinitionsFn func(ctx context.Context, req Request, s settings.Snapshot) ([]Definition, error)
	AssignmentsFn func(ctx context.Context, req Request, followImports bool, s settings.Snapshot) ([]Definition, error)
	UsagesFn      func(ctx context.Context, req Request, s settings.Snapshot) ([]Definition, error)
	NamesFn       func(ctx context.Context, req NamesRequest, s settings.Snapshot) ([]Definition, error)
	PreloadFn     func(ctx context.Context, modules []string, s settings.Snapshot) error
	CloseFn       func(ctx context.Context) error
}

var _ Engine = (*Func)(nil)

// Name returns BackendName, or "func".
func (f *Func) Name() string {
	if f.BackendName == "" {
		return "func"
	}
	return f.BackendName
}

func (f *Func) missing() error {
	if f.Strict {
		return ErrUnsupportedOperation
	}
	return nil
}

// Completions calls CompletionsFn.
func (f *Func) Completions(ctx context.Context, req Request, s settings.Snapshot) ([]Completion, error) {
	if f.CompletionsFn == nil {
		return nil, f.missing()
	}
	return f.CompletionsFn(ctx, req, s)
}

// GotoDefinitions calls DefinitionsFn.
func (f *Func) GotoDefinitions(ctx context.Context, req Request, s settings.Snapshot) ([]Definition, error) {
	if f.DefinitionsFn == nil {
		return nil, f.missing()
	}
	return f.DefinitionsFn(ctx, req, s)
}

// GotoAssignments calls AssignmentsFn.
func (f *Func) GotoAssignments(ctx context.Context, req Request, followImports bool, s settings.Snapshot) ([]Definition, error) {
	if f.AssignmentsFn == nil {
		return nil, f.missing()
	}
	return f.AssignmentsFn(ctx, req, followImports, s)
}

// Usages calls UsagesFn.
func (f *Func) Usages(ctx context.Context, req Request, s settings.Snapshot) ([]Definition, error) {
	if f.UsagesFn == nil {
		return nil, f.missing()
	}
	return f.UsagesFn(ctx, req, s)
}

// Names calls NamesFn.
func (f *Func) Names(ctx context.Context, req NamesRequest, s settings.Snapshot) ([]Definition, error) {
	if f.NamesFn == nil {
		return nil, f.missing()
	}
	return f.NamesFn(ctx, req, s)
}

// PreloadModules calls PreloadFn.
func (f *Func) PreloadModules(ctx context.Context, modules []string, s settings.Snapshot) error {
	if f.PreloadFn == nil {
		return f.missing()
	}
	return f.PreloadFn(ctx, modules, s)
}

// Close calls CloseFn.
func (f *Func) Close(ctx context.Context) error {
	if f.CloseFn == nil {
		return nil
	}
	return f.CloseFn(ctx)
}
