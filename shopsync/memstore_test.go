// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemStore_ClaimCAS(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	rec := &OfflineRecord{Type: TypeAdjustStock}
	require.NoError(t, store.CreateOfflineRecord(ctx, rec))

	claimed, err := store.ClaimOfflineRecord(ctx, rec.ID, 0, time.Now())
	require.NoError(t, err)
	require.Equal(t, StateProcessing, claimed.State)
	require.Equal(t, 1, claimed.AttemptCount)
	require.Equal(t, int64(1), claimed.Version)

	// A second claim against the stale version loses.
	_, err = store.ClaimOfflineRecord(ctx, rec.ID, 0, time.Now())
	require.ErrorIs(t, err, ErrRecordBusy)

	// Even with the current version, a processing record is not claimable.
	_, err = store.ClaimOfflineRecord(ctx, rec.ID, claimed.Version, time.Now())
	require.ErrorIs(t, err, ErrRecordBusy)
}

func TestMemStore_BindRejectsNonEnqueueable(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	sessionID := uuid.New()

	rec := &OfflineRecord{Type: TypeAdjustStock}
	require.NoError(t, store.CreateOfflineRecord(ctx, rec))

	claimed, err := store.ClaimOfflineRecord(ctx, rec.ID, 0, time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, store.BindOfflineRecord(ctx, rec.ID, sessionID, time.Now()), ErrRecordBusy)

	_, err = store.TransitionOfflineRecord(ctx, rec.ID, claimed.Version, StateCompleted, nil)
	require.NoError(t, err)
	require.ErrorIs(t, store.BindOfflineRecord(ctx, rec.ID, sessionID, time.Now()), ErrRecordTerminal)

	// The completed record stays completed.
	got, err := store.GetOfflineRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, got.State)
}

func TestMemStore_TransitionVersionMismatch(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	rec := &OfflineRecord{Type: TypeRecordSale}
	require.NoError(t, store.CreateOfflineRecord(ctx, rec))

	_, err := store.TransitionOfflineRecord(ctx, rec.ID, 5, StateCompleted, nil)
	require.ErrorIs(t, err, ErrVersionMismatch)

	updated, err := store.TransitionOfflineRecord(ctx, rec.ID, 0, StateCompleted, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, updated.State)
	require.Equal(t, int64(1), updated.Version)
}

func TestMemStore_ListDueRecords(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	now := time.Now()
	sessionID := uuid.New()

	due := &OfflineRecord{Type: TypeAdjustStock}
	future := &OfflineRecord{Type: TypeAdjustStock}
	terminal := &OfflineRecord{Type: TypeAdjustStock}
	require.NoError(t, store.CreateOfflineRecord(ctx, due))
	require.NoError(t, store.CreateOfflineRecord(ctx, future))
	require.NoError(t, store.CreateOfflineRecord(ctx, terminal))

	require.NoError(t, store.BindOfflineRecord(ctx, due.ID, sessionID, now.Add(-time.Minute)))
	require.NoError(t, store.BindOfflineRecord(ctx, future.ID, sessionID, now.Add(time.Hour)))
	_, err := store.TransitionOfflineRecord(ctx, terminal.ID, 0, StateCompleted, nil)
	require.NoError(t, err)

	records, err := store.ListDueRecords(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, due.ID, records[0].ID)
}

func TestMemStore_SessionCounters(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	sess := &SyncSession{DeviceID: "dev-1"}
	require.NoError(t, store.CreateSyncSession(ctx, sess))

	require.NoError(t, store.BumpSessionCounters(ctx, sess.ID, 1, 0))
	require.NoError(t, store.BumpSessionCounters(ctx, sess.ID, 0, 1))
	require.NoError(t, store.BumpSessionCounters(ctx, sess.ID, 1, 0))

	got, err := store.GetSyncSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.RecordsSucceeded)
	require.Equal(t, int64(1), got.RecordsFailed)

	require.ErrorIs(t, store.BumpSessionCounters(ctx, uuid.New(), 1, 0), ErrNotFound)
}

func TestMemStore_EffectGatePerRecord(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	applied, err := store.ApplyStockDelta(ctx, 1, 8, 1, 10)
	require.NoError(t, err)
	require.True(t, applied)

	// Same record id again: gate holds.
	applied, err = store.ApplyStockDelta(ctx, 1, 8, 1, 10)
	require.NoError(t, err)
	require.False(t, applied)

	// A different record id applies independently.
	applied, err = store.ApplyStockDelta(ctx, 2, 8, 1, 10)
	require.NoError(t, err)
	require.True(t, applied)

	proj, err := store.GetProjection(ctx, 8, 1)
	require.NoError(t, err)
	require.Equal(t, int64(20), proj.OnHandQuantity)
}

func TestMemStore_ProductsWithSales(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	_, err := store.ApplySale(ctx, 1, &SaleLedgerEntry{ProductID: 3, LocationID: 1, Quantity: 2, SaleRef: "S-1"})
	require.NoError(t, err)
	_, err = store.ApplySale(ctx, 2, &SaleLedgerEntry{ProductID: 1, LocationID: 1, Quantity: 1, SaleRef: "S-2"})
	require.NoError(t, err)
	_, err = store.ApplySale(ctx, 3, &SaleLedgerEntry{ProductID: 3, LocationID: 2, Quantity: 5, SaleRef: "S-3"})
	require.NoError(t, err)

	ids, err := store.ProductsWithSales(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, ids)
}

func TestMemStore_GetMissing(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	_, err := store.GetOfflineRecord(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetSyncSession(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetProjection(ctx, 1, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
