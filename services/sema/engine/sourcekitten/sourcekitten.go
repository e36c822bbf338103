// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package sourcekitten implements engine.Engine by running the
// sourcekitten command line tool once per completion request.
//
// Only completion is available through the tool; every other operation
// returns engine.ErrUnsupportedOperation.
package sourcekitten

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/semagate/services/sema/engine"
	"github.com/AleutianAI/semagate/services/sema/settings"
	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

// DefaultCommand is the executable run when none is configured.
const DefaultCommand = "sourcekitten"

// ErrCommandFailed is returned when the tool exits non-zero.
var ErrCommandFailed = errors.New("sourcekitten command failed")

// Runner executes name with args and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command as a child process. Standard error is
// folded into the returned error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s not found", engine.ErrEngineUnavailable, name)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrCommandFailed, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// Config configures the Backend.
type Config struct {
	// Command is the sourcekitten executable. Default: sourcekitten.
	Command string

	// Runner executes Command. Nil selects ExecRunner.
	Runner Runner

	// Logger receives per-call debug logs. Nil selects slog.Default().
	Logger *slog.Logger
}

// Backend runs sourcekitten per request.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no state between calls.
type Backend struct {
	command string
	run     Runner
	logger  *slog.Logger
}

var _ engine.Engine = (*Backend)(nil)

// New creates a Backend.
func New(cfg Config) *Backend {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{
		command: cfg.Command,
		run:     cfg.Runner,
		logger:  cfg.Logger.With(slog.String("engine", "sourcekitten")),
	}
}

// Name implements engine.Engine.
func (b *Backend) Name() string { return "sourcekitten" }

// Completions implements engine.Engine.
//
// # Description
//
// Writes the request content to a temporary .swift file and runs
//
//	sourcekitten complete --file <tmp> --offset <n> -- <source_path> <flags...>
//
// The tool answers with a JSON array of SourceKit dictionaries, which are
// returned as engine.SourceKitCompletion values in the order received.
// Settings have no effect on the tool.
//
// # Outputs
//
//   - []engine.Completion: Possibly empty.
//   - error: engine.ErrInvalidPosition, engine.ErrEngineUnavailable,
//     ErrCommandFailed or engine.ErrMalformedResult, wrapped.
func (b *Backend) Completions(ctx context.Context, req engine.Request, _ settings.Snapshot) ([]engine.Completion, error) {
	ctx, span := telemetry.StartSpan(ctx, "semagate.engine.sourcekitten", "sourcekitten.complete",
		trace.WithAttributes(attribute.String("source_path", req.SourcePath)),
	)
	defer span.End()

	offset, err := req.Offset()
	if err != nil {
		return nil, fmt.Errorf("line %d column %d: %w", req.Line, req.Column, err)
	}

	tmp, err := writeTemp(req.Content)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer os.Remove(tmp)

	args := []string{"complete", "--file", tmp, "--offset", strconv.Itoa(offset), "--"}
	if req.SourcePath != "" {
		args = append(args, req.SourcePath)
	}
	args = append(args, req.EffectiveFlags()...)

	start := time.Now()
	out, err := b.run(ctx, b.command, args...)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var raw []map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out), &raw); err != nil {
		err = fmt.Errorf("%w: sourcekitten output: %v", engine.ErrMalformedResult, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	completions := make([]engine.Completion, 0, len(raw))
	for _, item := range raw {
		completions = append(completions, engine.SourceKitCompletion(item))
	}

	span.SetAttributes(attribute.Int("result_count", len(completions)))
	b.logger.Debug("sourcekitten complete",
		slog.Int("offset", offset),
		slog.Int("results", len(completions)),
		slog.Duration("duration", time.Since(start)),
	)
	return completions, nil
}

// GotoDefinitions implements engine.Engine. Unsupported.
func (b *Backend) GotoDefinitions(context.Context, engine.Request, settings.Snapshot) ([]engine.Definition, error) {
	return nil, b.unsupported("gotodefinition")
}

// GotoAssignments implements engine.Engine. Unsupported.
func (b *Backend) GotoAssignments(context.Context, engine.Request, bool, settings.Snapshot) ([]engine.Definition, error) {
	return nil, b.unsupported("gotoassignment")
}

// Usages implements engine.Engine. Unsupported.
func (b *Backend) Usages(context.Context, engine.Request, settings.Snapshot) ([]engine.Definition, error) {
	return nil, b.unsupported("usages")
}

// Names implements engine.Engine. Unsupported.
func (b *Backend) Names(context.Context, engine.NamesRequest, settings.Snapshot) ([]engine.Definition, error) {
	return nil, b.unsupported("names")
}

// PreloadModules implements engine.Engine. There is no process to warm,
// so it succeeds without doing anything.
func (b *Backend) PreloadModules(context.Context, []string, settings.Snapshot) error {
	return nil
}

// Close implements engine.Engine.
func (b *Backend) Close(context.Context) error { return nil }

func (b *Backend) unsupported(op string) error {
	return fmt.Errorf("%w: %s via %s", engine.ErrUnsupportedOperation, op, b.Name())
}

func writeTemp(content []byte) (string, error) {
	f, err := os.CreateTemp("", "semagate-*.swift")
	if err != nil {
		return "", fmt.Errorf("creating completion buffer: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing completion buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("closing completion buffer: %w", err)
	}
	return f.Name(), nil
}
