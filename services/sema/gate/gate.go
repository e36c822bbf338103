// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate serializes access to the code-intelligence engine.
//
// The engine is stateful and non-reentrant: one call at a time, across the
// whole process. Gate is an exclusive lock with FIFO admission and a
// cancellable wait.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/semagate/services/sema/observability"
	"golang.org/x/sync/semaphore"
)

// ErrNilContext is returned by Acquire when called with a nil context.
var ErrNilContext = errors.New("gate: nil context")

// Gate is the process-wide exclusive lock around engine calls.
//
// # Description
//
// Backed by a weighted semaphore of size one. Waiters are admitted in
// arrival order, so no waiter starves as long as every engine call
// finishes. A waiter whose context ends before admission leaves the queue
// without holding the gate. Once admitted, a holder is never revoked.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The gate is not reentrant:
// acquiring it twice from the same call chain deadlocks.
type Gate struct {
	sem     *semaphore.Weighted
	metrics *observability.Metrics

	waiting atomic.Int64
	held    atomic.Bool
}

// New creates an unheld Gate.
//
// # Inputs
//
//   - metrics: Optional metrics. May be nil.
func New(metrics *observability.Metrics) *Gate {
	return &Gate{
		sem:     semaphore.NewWeighted(1),
		metrics: metrics,
	}
}

// Lease is a held gate. Release it exactly once; extra calls are no-ops.
type Lease struct {
	gate     *Gate
	once     sync.Once
	acquired time.Time
}

// Acquire blocks until the gate is free or ctx is done.
//
// # Description
//
// Returns a Lease that must be released on every path, normally with
// defer. The context bounds only the wait: cancelling it after admission
// has no effect on the holder.
//
// # Inputs
//
//   - ctx: Bounds the wait for admission.
//
// # Outputs
//
//   - *Lease: Held gate.
//   - error: ctx.Err() wrapped, if the wait ended first.
//
// # Example
//
//	lease, err := g.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
func (g *Gate) Acquire(ctx context.Context) (*Lease, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	start := time.Now()
	g.waiting.Add(1)
	g.metrics.GateWaitStarted()

	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	g.metrics.GateWaitEnded(time.Since(start).Seconds(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("waiting for engine gate: %w", err)
	}

	g.held.Store(true)
	return &Lease{gate: g, acquired: time.Now()}, nil
}

// TryAcquire takes the gate only if it is free right now.
func (g *Gate) TryAcquire() (*Lease, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	g.metrics.GateWaitStarted()
	g.metrics.GateWaitEnded(0, true)
	g.held.Store(true)
	return &Lease{gate: g, acquired: time.Now()}, true
}

// Release frees the gate. Safe to call more than once and on a nil Lease.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.gate.held.Store(false)
		l.gate.metrics.GateReleased(time.Since(l.acquired).Seconds())
		l.gate.sem.Release(1)
	})
}

// Held reports whether some caller currently holds the gate.
func (g *Gate) Held() bool {
	return g.held.Load()
}

// Waiting returns the number of callers queued for the gate.
func (g *Gate) Waiting() int64 {
	return g.waiting.Load()
}

// Do runs fn while holding the gate.
//
// # Description
//
// The gate is released when fn returns or panics; the panic propagates.
//
// # Inputs
//
//   - ctx: Bounds the wait for admission only.
//   - fn: Work to run exclusively.
//
// # Outputs
//
//   - error: Wait error, or fn's error.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	lease, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn()
}
