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
	"bytes"
	"context"
	"errors"

	"github.com/AleutianAI/semagate/services/sema/settings"
)

// Sentinel errors shared by all backends.
var (
	// ErrUnsupportedOperation is returned by a backend that cannot serve an
	// operation (the sourcekitten backend only completes).
	ErrUnsupportedOperation = errors.New("operation not supported by engine")

	// ErrEngineUnavailable is returned when the engine process cannot be
	// started or has exited.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrInvalidPosition is returned when line or column fall outside the
	// source.
	ErrInvalidPosition = errors.New("position outside source")

	// ErrMalformedResult is returned when the engine answered with data
	// that could not be decoded.
	ErrMalformedResult = errors.New("malformed engine result")
)

// DefaultFlags are the compiler arguments used when a request carries none.
var DefaultFlags = []string{
	"-sdk",
	"/Applications/Xcode.app/Contents/Developer/Platforms/MacOSX.platform/Developer/SDKs/MacOSX.sdk",
	"-target",
	"x86_64-apple-macosx10.12",
}

// Request addresses a position in one source file.
//
// Line is 1-based. Column is 0-based, matching the editor protocol.
type Request struct {
	SourcePath string
	Content    []byte
	Flags      []string
	Line       int
	Column     int
}

// EffectiveFlags returns Flags, or DefaultFlags when Flags is empty.
func (r Request) EffectiveFlags() []string {
	if len(r.Flags) == 0 {
		return DefaultFlags
	}
	return r.Flags
}

// Offset returns the byte offset of (Line, Column) in Content.
//
// Column counts bytes within the line. A column past the end of its line
// is clamped to the line end.
func (r Request) Offset() (int, error) {
	if r.Line < 1 || r.Column < 0 {
		return 0, ErrInvalidPosition
	}
	line := 1
	start := 0
	for line < r.Line {
		idx := bytes.IndexByte(r.Content[start:], '\n')
		if idx < 0 {
			return 0, ErrInvalidPosition
		}
		start += idx + 1
		line++
	}
	end := bytes.IndexByte(r.Content[start:], '\n')
	if end < 0 {
		end = len(r.Content) - start
	}
	if r.Column > end {
		return start + end, nil
	}
	return start + r.Column, nil
}

// NamesRequest lists the names defined in a source.
type NamesRequest struct {
	SourcePath  string
	Content     []byte
	Flags       []string
	AllScopes   bool
	Definitions bool
	References  bool
}

// EffectiveFlags returns Flags, or DefaultFlags when Flags is empty.
func (r NamesRequest) EffectiveFlags() []string {
	if len(r.Flags) == 0 {
		return DefaultFlags
	}
	return r.Flags
}

// Engine is the contract every code-intelligence backend implements.
//
// # Description
//
// Implementations are NOT safe for concurrent use; the caller must hold
// the execution gate for every call. The settings snapshot is the value of
// the engine settings for the duration of the call.
type Engine interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	Completions(ctx context.Context, req Request, s settings.Snapshot) ([]Completion, error)
	GotoDefinitions(ctx context.Context, req Request, s settings.Snapshot) ([]Definition, error)
	GotoAssignments(ctx context.Context, req Request, followImports bool, s settings.Snapshot) ([]Definition, error)
	Usages(ctx context.Context, req Request, s settings.Snapshot) ([]Definition, error)
	Names(ctx context.Context, req NamesRequest, s settings.Snapshot) ([]Definition, error)
	PreloadModules(ctx context.Context, modules []string, s settings.Snapshot) error

	// Close stops any engine process.
	Close(ctx context.Context) error
}
