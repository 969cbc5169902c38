// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Database entity models for the shopsync schema
// These models are used for database operations and have db struct tags

// OfflineRecord represents a row in shopsync.offline_records. One record is
// one client-submitted operation awaiting server-side application. Records
// are never deleted; they are retained as an audit trail.
type OfflineRecord struct {
	ID            int64           `db:"id"`              // BIGSERIAL PRIMARY KEY
	Type          RecordType      `db:"record_type"`     // Processor selector
	Payload       json.RawMessage `db:"payload"`         // Opaque structured data
	State         RecordState     `db:"state"`           // Lifecycle state
	AttemptCount  int             `db:"attempt_count"`   // Monotonically non-decreasing
	Version       int64           `db:"version"`         // Optimistic concurrency counter
	SyncSessionID uuid.UUID       `db:"sync_session_id"` // Weak back-reference, zero until enqueued
	NextAttemptAt time.Time       `db:"next_attempt_at"` // Due time for the next pickup
	CreatedAt     time.Time       `db:"created_at"`      // Submission timestamp
	UpdatedAt     time.Time       `db:"updated_at"`      // Last transition timestamp
}

// RecordError represents a row in shopsync.offline_record_errors. The list
// is append-only.
type RecordError struct {
	RecordID   int64     `db:"record_id"`   // Owning offline record
	Attempt    int       `db:"attempt"`     // Attempt that produced the failure (0 for terminal entries)
	Message    string    `db:"message"`     // Recorded failure message
	OccurredAt time.Time `db:"occurred_at"` // Failure timestamp
}

// SyncSession represents a row in shopsync.sync_sessions. Counters only
// increase and move on terminal record outcomes.
type SyncSession struct {
	ID               uuid.UUID `db:"id"`                // Session identifier
	DeviceID         string    `db:"device_id"`         // Submitting device (from JWT did)
	RecordsSucceeded int64     `db:"records_succeeded"` // Records that reached completed
	RecordsFailed    int64     `db:"records_failed"`    // Records that reached permanently_failed
	StartedAt        time.Time `db:"started_at"`        // Batch start timestamp
}

// InventoryProjection represents a row in shopsync.inventory_projections.
// on_hand_quantity is a server-authoritative cache; the reconciliation
// invariant is on_hand = initial_stock - sum(committed sale quantities).
type InventoryProjection struct {
	ProductID      int64     `db:"product_id"`
	LocationID     int64     `db:"location_id"`
	OnHandQuantity int64     `db:"on_hand_quantity"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// SaleLedgerEntry represents a row in shopsync.sale_ledger_entries. The
// ledger is immutable from this core's perspective and is the source of
// truth for reconciliation.
type SaleLedgerEntry struct {
	ID         int64     `db:"id"`          // BIGSERIAL PRIMARY KEY
	ProductID  int64     `db:"product_id"`  // Sold product
	LocationID int64     `db:"location_id"` // Selling location
	Quantity   int64     `db:"quantity"`    // Committed sale quantity
	SaleRef    string    `db:"sale_ref"`    // Committed sale transaction reference
	RecordedAt time.Time `db:"recorded_at"` // Ledger timestamp
}

// StockCorrection represents a row in shopsync.stock_corrections, the audit
// trail of reconciliation overwrites.
type StockCorrection struct {
	ID          int64     `db:"id"`
	ProductID   int64     `db:"product_id"`
	LocationID  int64     `db:"location_id"`
	OldQuantity int64     `db:"old_quantity"`
	NewQuantity int64     `db:"new_quantity"`
	CorrectedAt time.Time `db:"corrected_at"`
}

// Customer represents a row in shopsync.customers, the target of the
// update_customer processor.
type Customer struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"`
	UpdatedAt time.Time `db:"updated_at"`
}
