// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/semagate/services/sema/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGate_MutualExclusion(t *testing.T) {
	g := New(nil)

	var inFlight, maxInFlight atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxInFlight.Load())
	assert.False(t, g.Held())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := New(nil)

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()

	// A double release must not admit two holders.
	first, ok := g.TryAcquire()
	require.True(t, ok)
	_, ok = g.TryAcquire()
	assert.False(t, ok)
	first.Release()

	var nilLease *Lease
	assert.NotPanics(t, nilLease.Release)
}

func TestGate_ReleasedOnPanic(t *testing.T) {
	g := New(nil)

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func() error {
			panic("engine crashed")
		})
	})
	assert.False(t, g.Held())

	lease, ok := g.TryAcquire()
	require.True(t, ok)
	lease.Release()
}

func TestGate_DoReturnsFnError(t *testing.T) {
	g := New(nil)
	want := errors.New("boom")

	err := g.Do(context.Background(), func() error { return want })
	assert.ErrorIs(t, err, want)
	assert.False(t, g.Held())
}

func TestGate_WaiterCancellation(t *testing.T) {
	g := New(nil)

	holder, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), g.Waiting())
	assert.True(t, g.Held(), "holder must not be revoked")

	holder.Release()
}

func TestGate_FIFOAdmission(t *testing.T) {
	g := New(nil)

	holder, err := g.Acquire(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			lease, err := g.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			lease.Release()
		}(i)
		// Queue each waiter before starting the next one.
		require.Eventually(t, func() bool { return g.Waiting() == int64(i+1) },
			time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	holder.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGate_NilContext(t *testing.T) {
	g := New(nil)

	//nolint:staticcheck // exercising the nil guard
	_, err := g.Acquire(nil)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestGate_Metrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	g := New(m)

	lease, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateHolders))

	lease.Release()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.GateHolders))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.GateWaiters))
}
