// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPool_DrainExecutesDueRecords(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	sessionID := f.startSession(t)

	ids := []int64{
		f.submit(t, sessionID, TypeAdjustStock, `{"product_id":1,"location_id":1,"delta":5}`),
		f.submit(t, sessionID, TypeRecordSale, `{"product_id":1,"location_id":1,"quantity":2,"sale_ref":"S-1"}`),
	}

	pool := NewWorkerPool(f.scheduler, 2, 10*time.Millisecond, testLogger())
	n, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range ids {
		rec, err := f.store.GetOfflineRecord(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StateCompleted, rec.State)
	}
}

func TestWorkerPool_DrainSkipsFutureRecords(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	sessionID := f.startSession(t)

	recID := f.submit(t, sessionID, TypeAdjustStock, `{"product_id":2,"location_id":1,"delta":1}`)
	require.NoError(t, f.store.BindOfflineRecord(ctx, recID, sessionID, time.Now().Add(time.Hour)))

	pool := NewWorkerPool(f.scheduler, 1, 10*time.Millisecond, testLogger())
	n, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestWorkerPool_RunProcessesUntilCancelled(t *testing.T) {
	f := newSchedulerFixture(t)
	sessionID := f.startSession(t)
	recID := f.submit(t, sessionID, TypeAdjustStock, `{"product_id":3,"location_id":1,"delta":4}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	pool := NewWorkerPool(f.scheduler, 2, 5*time.Millisecond, testLogger())
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		rec, err := f.store.GetOfflineRecord(context.Background(), recID)
		return err == nil && rec.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not stop after cancellation")
	}
}
