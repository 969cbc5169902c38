// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable state behind the scheduler, the processors and the
// reconciliation engine. PgStore implements it on PostgreSQL; MemStore is an
// in-process implementation for tests and demos.
//
// Apply* operations carry their own insert-first idempotency gate keyed by
// record id: the first call applies the effect and returns true, repeated
// calls for the same record are no-ops returning false. Gate and mutation
// commit atomically, so a failed apply does not consume the gate.
type Store interface {
	// Offline records
	CreateOfflineRecord(ctx context.Context, rec *OfflineRecord) error
	GetOfflineRecord(ctx context.Context, id int64) (*OfflineRecord, error)

	// BindOfflineRecord attaches the record to a sync session and schedules
	// it for immediate pickup in state pending.
	BindOfflineRecord(ctx context.Context, recordID int64, sessionID uuid.UUID, dueAt time.Time) error

	// ClaimOfflineRecord transitions (pending|error) -> processing with a
	// compare-and-swap on version, incrementing attempt_count. A CAS miss
	// returns ErrRecordBusy so two workers can never hold the same record.
	ClaimOfflineRecord(ctx context.Context, id, version int64, now time.Time) (*OfflineRecord, error)

	// TransitionOfflineRecord moves the record to state with a version
	// check. nextAttemptAt is only meaningful for StateError.
	TransitionOfflineRecord(ctx context.Context, id, version int64, state RecordState, nextAttemptAt *time.Time) (*OfflineRecord, error)

	AppendRecordError(ctx context.Context, recordID int64, attempt int, message string, occurredAt time.Time) error
	ListRecordErrors(ctx context.Context, recordID int64) ([]RecordError, error)

	// ListDueRecords returns records ready for pickup: pending, or error
	// with next_attempt_at <= now. No ordering is guaranteed.
	ListDueRecords(ctx context.Context, now time.Time, limit int) ([]*OfflineRecord, error)

	// Sync sessions
	CreateSyncSession(ctx context.Context, sess *SyncSession) error
	GetSyncSession(ctx context.Context, id uuid.UUID) (*SyncSession, error)
	CountSessionRecords(ctx context.Context, sessionID uuid.UUID) (int64, error)
	BumpSessionCounters(ctx context.Context, sessionID uuid.UUID, succeeded, failed int64) error

	// Idempotent processor effects
	ApplyStockDelta(ctx context.Context, recordID, productID, locationID, delta int64) (bool, error)
	ApplySale(ctx context.Context, recordID int64, entry *SaleLedgerEntry) (bool, error)
	ApplyCustomerUpdate(ctx context.Context, recordID int64, customer *Customer) (bool, error)

	// Inventory projection and sales ledger
	GetProjection(ctx context.Context, productID, locationID int64) (*InventoryProjection, error)

	// UpdateProjectionLocked runs fn under the exclusive row lock for the
	// (product, location) projection. fn receives the current on-hand
	// quantity (0 when the row does not exist yet) and returns the new
	// quantity plus whether to write it. Both sync processors and the
	// reconciliation engine go through this lock; it is the only write path
	// to on_hand_quantity.
	UpdateProjectionLocked(ctx context.Context, productID, locationID int64, fn func(onHand int64) (int64, bool, error)) error

	AppendLedgerEntry(ctx context.Context, entry *SaleLedgerEntry) error
	SumSales(ctx context.Context, productID, locationID int64) (int64, error)
	ProductsWithSales(ctx context.Context, locationID int64) ([]int64, error)

	// Reconciliation audit
	AppendStockCorrection(ctx context.Context, c *StockCorrection) error
	ListStockCorrections(ctx context.Context, productID, locationID int64) ([]StockCorrection, error)
}
