// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the required shopsync tables within an
// existing transaction.
func (s *PgStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		// Dedicated schema for the offline-sync pipeline
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS shopsync`,

		// 1) Durable queue of client-submitted operations. Records are
		// never deleted; version guards concurrent state transitions.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.offline_records (
			id              BIGSERIAL PRIMARY KEY,
			record_type     TEXT        NOT NULL,
			payload         JSON        NOT NULL,
			state           TEXT        NOT NULL DEFAULT 'pending'
				CHECK (state IN ('pending','processing','completed','error','permanently_failed')),
			attempt_count   INT         NOT NULL DEFAULT 0 CHECK (attempt_count >= 0),
			version         BIGINT      NOT NULL DEFAULT 0,
			sync_session_id UUID,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS offline_records_due_idx
			ON shopsync.offline_records(next_attempt_at)
			WHERE state IN ('pending','error')`, // Optimizes worker due-record polling
		`CREATE INDEX IF NOT EXISTS offline_records_session_idx
			ON shopsync.offline_records(sync_session_id)`,

		// 2) Append-only failure log per record
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.offline_record_errors (
			id          BIGSERIAL PRIMARY KEY,
			record_id   BIGINT      NOT NULL REFERENCES shopsync.offline_records(id),
			attempt     INT         NOT NULL,
			message     TEXT        NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS offline_record_errors_record_idx
			ON shopsync.offline_record_errors(record_id, id)`,

		// 3) Client batch tracking. No FK from records: the session is a
		// weak reference, deleting a session must not cascade to records.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.sync_sessions (
			id                UUID        PRIMARY KEY,
			device_id         TEXT        NOT NULL,
			records_succeeded BIGINT      NOT NULL DEFAULT 0 CHECK (records_succeeded >= 0),
			records_failed    BIGINT      NOT NULL DEFAULT 0 CHECK (records_failed >= 0),
			started_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// 4) Server-authoritative stock cache, per product and location
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.inventory_projections (
			product_id       BIGINT      NOT NULL,
			location_id      BIGINT      NOT NULL,
			on_hand_quantity BIGINT      NOT NULL DEFAULT 0,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (product_id, location_id)
		)`,

		// 5) Immutable ledger of committed sales, source of truth for
		// reconciliation
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.sale_ledger_entries (
			id          BIGSERIAL PRIMARY KEY,
			product_id  BIGINT      NOT NULL,
			location_id BIGINT      NOT NULL,
			quantity    BIGINT      NOT NULL CHECK (quantity > 0),
			sale_ref    TEXT        NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS sale_ledger_product_idx
			ON shopsync.sale_ledger_entries(location_id, product_id)`,

		// 6) Audit trail of reconciliation overwrites
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.stock_corrections (
			id           BIGSERIAL PRIMARY KEY,
			product_id   BIGINT      NOT NULL,
			location_id  BIGINT      NOT NULL,
			old_quantity BIGINT      NOT NULL,
			new_quantity BIGINT      NOT NULL,
			corrected_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// 7) Insert-first idempotency gate for processor effects
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.record_effects (
			record_id  BIGINT      PRIMARY KEY,
			effect     TEXT        NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		// 8) Customer rows, target of the update_customer processor
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS shopsync.customers (
			id         BIGINT      PRIMARY KEY,
			name       TEXT        NOT NULL,
			phone      TEXT        NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration %d failed: %w", i, err)
		}
	}
	return nil
}
