// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/semagate/services/sema/engine"
	"github.com/AleutianAI/semagate/services/sema/gate"
	"github.com/AleutianAI/semagate/services/sema/normalize"
	"github.com/AleutianAI/semagate/services/sema/observability"
	"github.com/AleutianAI/semagate/services/sema/settings"
	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

const tracerName = "semagate.gateway"

// Operation names, used in spans, metrics and error messages.
const (
	OpCompletions     = "completions"
	OpGotoDefinitions = "gotodefinition"
	OpGotoAssignments = "gotoassignment"
	OpUsages          = "usages"
	OpNames           = "names"
	OpPreload         = "preload_module"
)

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// Flags are the compiler arguments sent with every request. Empty
	// selects engine.DefaultFlags.
	Flags []string

	// CallTimeout bounds each engine call. 0 leaves calls unbounded.
	CallTimeout time.Duration
}

// Service runs engine operations one at a time.
//
// # Description
//
// Every operation goes through Run: it takes the gate, applies the
// request's settings overlay, calls the engine and normalizes the result
// before releasing the gate. Settings are restored and the gate released
// on every path, panics included.
//
// # Thread Safety
//
// Safe for concurrent use; operations are serialized by the gate.
type Service struct {
	engine  engine.Engine
	gate    *gate.Gate
	store   *settings.Store
	metrics *observability.Metrics
	cfg     ServiceConfig
}

// NewService creates a Service.
//
// # Inputs
//
//   - eng: Engine backend. Must not be nil.
//   - g: Gate shared by every engine caller. Must not be nil.
//   - store: Settings store. Must not be nil.
//   - metrics: May be nil.
//   - cfg: Flags and call timeout.
func NewService(eng engine.Engine, g *gate.Gate, store *settings.Store, metrics *observability.Metrics, cfg ServiceConfig) *Service {
	return &Service{
		engine:  eng,
		gate:    g,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Engine returns the backend.
func (s *Service) Engine() engine.Engine {
	return s.engine
}

// Settings returns the settings store.
func (s *Service) Settings() *settings.Store {
	return s.store
}

// Run executes fn exclusively with overlay applied.
//
// # Description
//
// The wait for the gate follows ctx, so a client that disconnects while
// queued gives up its place. Once admitted, fn receives a context detached
// from ctx's cancellation: an engine call is never interrupted midway by
// the client. ServiceConfig.CallTimeout, when set, bounds that context.
//
// # Inputs
//
//   - ctx: Request context.
//   - op: Operation name.
//   - overlay: Settings overrides. May be nil.
//   - fn: Engine work. Receives the settings in effect.
//
// # Outputs
//
//   - error: Gate wait error, *RequestError for invalid settings or
//     positions, *EngineError for engine failures.
func (s *Service) Run(ctx context.Context, op string, overlay map[string]any, fn func(ctx context.Context, snap settings.Snapshot) error) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "gateway."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("engine", s.engine.Name()),
		attribute.Int("settings.overlay", len(overlay)),
	)

	lease, err := s.gate.Acquire(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer lease.Release()

	scope, err := s.store.Enter(overlay)
	if err != nil {
		telemetry.RecordError(span, err)
		return &RequestError{Op: op, Err: err}
	}
	defer scope.Exit()

	callCtx := context.WithoutCancel(ctx)
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, s.cfg.CallTimeout)
		defer cancel()
	}

	err = fn(callCtx, s.store.Snapshot())
	s.metrics.RecordEngineCall(op, err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, engine.ErrInvalidPosition) {
			return &RequestError{Op: op, Err: err}
		}
		return &EngineError{Op: op, Engine: s.engine.Name(), Err: err}
	}
	return nil
}

// withFlags fills in the configured compiler flags.
func (s *Service) withFlags(req engine.Request) engine.Request {
	if len(req.Flags) == 0 {
		req.Flags = s.cfg.Flags
	}
	return req
}

// Completions returns normalized completions at req's position.
func (s *Service) Completions(ctx context.Context, req engine.Request, overlay map[string]any) (normalize.CompletionsResponse, error) {
	req = s.withFlags(req)
	var resp normalize.CompletionsResponse
	err := s.Run(ctx, OpCompletions, overlay, func(ctx context.Context, snap settings.Snapshot) error {
		raw, err := s.engine.Completions(ctx, req, snap)
		if err != nil {
			return err
		}
		resp = normalize.Completions(raw)
		return nil
	})
	return resp, err
}

// GotoDefinitions returns the definitions of the symbol at req's position.
func (s *Service) GotoDefinitions(ctx context.Context, req engine.Request, overlay map[string]any) (normalize.DefinitionsResponse, error) {
	req = s.withFlags(req)
	return s.definitions(ctx, OpGotoDefinitions, overlay, func(ctx context.Context, snap settings.Snapshot) ([]engine.Definition, error) {
		return s.engine.GotoDefinitions(ctx, req, snap)
	})
}

// GotoAssignments returns where the symbol at req's position was assigned.
func (s *Service) GotoAssignments(ctx context.Context, req engine.Request, followImports bool, overlay map[string]any) (normalize.DefinitionsResponse, error) {
	req = s.withFlags(req)
	return s.definitions(ctx, OpGotoAssignments, overlay, func(ctx context.Context, snap settings.Snapshot) ([]engine.Definition, error) {
		return s.engine.GotoAssignments(ctx, req, followImports, snap)
	})
}

// Usages returns every usage of the symbol at req's position.
func (s *Service) Usages(ctx context.Context, req engine.Request, overlay map[string]any) (normalize.DefinitionsResponse, error) {
	req = s.withFlags(req)
	return s.definitions(ctx, OpUsages, overlay, func(ctx context.Context, snap settings.Snapshot) ([]engine.Definition, error) {
		return s.engine.Usages(ctx, req, snap)
	})
}

// Names returns the names declared in a source file.
func (s *Service) Names(ctx context.Context, req engine.NamesRequest, overlay map[string]any) (normalize.DefinitionsResponse, error) {
	if len(req.Flags) == 0 {
		req.Flags = s.cfg.Flags
	}
	return s.definitions(ctx, OpNames, overlay, func(ctx context.Context, snap settings.Snapshot) ([]engine.Definition, error) {
		return s.engine.Names(ctx, req, snap)
	})
}

// PreloadModules asks the engine to load modules ahead of use.
func (s *Service) PreloadModules(ctx context.Context, modules []string, overlay map[string]any) error {
	return s.Run(ctx, OpPreload, overlay, func(ctx context.Context, snap settings.Snapshot) error {
		return s.engine.PreloadModules(ctx, modules, snap)
	})
}

func (s *Service) definitions(ctx context.Context, op string, overlay map[string]any, call func(context.Context, settings.Snapshot) ([]engine.Definition, error)) (normalize.DefinitionsResponse, error) {
	var resp normalize.DefinitionsResponse
	err := s.Run(ctx, op, overlay, func(ctx context.Context, snap settings.Snapshot) error {
		raw, err := call(ctx, snap)
		if err != nil {
			return err
		}
		resp = normalize.Definitions(raw)
		return nil
	})
	return resp, err
}
