// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore implements Store on PostgreSQL via a pgx pool. All Apply*
// operations run the idempotency gate and the business mutation in one
// transaction, so a failed apply never consumes the gate.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore creates the store and initializes the shopsync schema.
// The caller keeps ownership of the pool lifecycle.
func NewPgStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PgStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PgStore{pool: pool, logger: logger}
	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize shopsync schema: %w", err)
	}
	logger.Debug("shopsync schema initialized")
	return s, nil
}

// Pool returns the underlying database connection pool.
func (s *PgStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PgStore) CreateOfflineRecord(ctx context.Context, rec *OfflineRecord) error {
	state := rec.State
	if state == "" {
		state = StatePending
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO shopsync.offline_records (record_type, payload, state)
		VALUES (@record_type, @payload, @state)
		RETURNING id, state, attempt_count, version, next_attempt_at, created_at, updated_at`,
		pgx.NamedArgs{
			"record_type": rec.Type,
			"payload":     rec.Payload,
			"state":       state,
		},
	).Scan(&rec.ID, &rec.State, &rec.AttemptCount, &rec.Version, &rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create offline record: %w", err)
	}
	return nil
}

func (s *PgStore) GetOfflineRecord(ctx context.Context, id int64) (*OfflineRecord, error) {
	rec := &OfflineRecord{}
	var sessionID *uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id, record_type, payload, state, attempt_count, version,
		       sync_session_id, next_attempt_at, created_at, updated_at
		FROM shopsync.offline_records
		WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Type, &rec.Payload, &rec.State, &rec.AttemptCount, &rec.Version,
		&sessionID, &rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "offline record", ID: formatID(id)}
		}
		return nil, fmt.Errorf("get offline record %d: %w", id, err)
	}
	if sessionID != nil {
		rec.SyncSessionID = *sessionID
	}
	return rec, nil
}

func (s *PgStore) BindOfflineRecord(ctx context.Context, recordID int64, sessionID uuid.UUID, dueAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shopsync.offline_records
		SET sync_session_id = @session_id,
		    state = 'pending',
		    next_attempt_at = @due_at,
		    version = version + 1,
		    updated_at = now()
		WHERE id = @id AND state IN ('pending','error')`,
		pgx.NamedArgs{"session_id": sessionID, "due_at": dueAt, "id": recordID})
	if err != nil {
		return fmt.Errorf("bind offline record %d: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		rec, err := s.GetOfflineRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.State == StateProcessing {
			return ErrRecordBusy
		}
		return fmt.Errorf("offline record %d already %s: %w", recordID, rec.State, ErrRecordTerminal)
	}
	return nil
}

func (s *PgStore) ClaimOfflineRecord(ctx context.Context, id, version int64, now time.Time) (*OfflineRecord, error) {
	rec := &OfflineRecord{}
	var sessionID *uuid.UUID
	err := s.pool.QueryRow(ctx, `
		UPDATE shopsync.offline_records
		SET state = 'processing',
		    version = version + 1,
		    attempt_count = attempt_count + 1,
		    updated_at = @now
		WHERE id = @id AND version = @version AND state IN ('pending','error')
		RETURNING id, record_type, payload, state, attempt_count, version,
		          sync_session_id, next_attempt_at, created_at, updated_at`,
		pgx.NamedArgs{"id": id, "version": version, "now": now},
	).Scan(&rec.ID, &rec.Type, &rec.Payload, &rec.State, &rec.AttemptCount, &rec.Version,
		&sessionID, &rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing record from a lost CAS race.
			if _, getErr := s.GetOfflineRecord(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrRecordBusy
		}
		return nil, fmt.Errorf("claim offline record %d: %w", id, err)
	}
	if sessionID != nil {
		rec.SyncSessionID = *sessionID
	}
	return rec, nil
}

func (s *PgStore) TransitionOfflineRecord(ctx context.Context, id, version int64, state RecordState, nextAttemptAt *time.Time) (*OfflineRecord, error) {
	args := pgx.NamedArgs{"id": id, "version": version, "state": state}
	setDue := ""
	if nextAttemptAt != nil {
		setDue = ", next_attempt_at = @next_attempt_at"
		args["next_attempt_at"] = *nextAttemptAt
	}
	rec := &OfflineRecord{}
	var sessionID *uuid.UUID
	err := s.pool.QueryRow(ctx, `
		UPDATE shopsync.offline_records
		SET state = @state,
		    version = version + 1,
		    updated_at = now()`+setDue+`
		WHERE id = @id AND version = @version
		RETURNING id, record_type, payload, state, attempt_count, version,
		          sync_session_id, next_attempt_at, created_at, updated_at`,
		args,
	).Scan(&rec.ID, &rec.Type, &rec.Payload, &rec.State, &rec.AttemptCount, &rec.Version,
		&sessionID, &rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetOfflineRecord(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrVersionMismatch
		}
		return nil, fmt.Errorf("transition offline record %d: %w", id, err)
	}
	if sessionID != nil {
		rec.SyncSessionID = *sessionID
	}
	return rec, nil
}

func (s *PgStore) AppendRecordError(ctx context.Context, recordID int64, attempt int, message string, occurredAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shopsync.offline_record_errors (record_id, attempt, message, occurred_at)
		VALUES (@record_id, @attempt, @message, @occurred_at)`,
		pgx.NamedArgs{"record_id": recordID, "attempt": attempt, "message": message, "occurred_at": occurredAt})
	if err != nil {
		return fmt.Errorf("append record error for %d: %w", recordID, err)
	}
	return nil
}

func (s *PgStore) ListRecordErrors(ctx context.Context, recordID int64) ([]RecordError, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record_id, attempt, message, occurred_at
		FROM shopsync.offline_record_errors
		WHERE record_id = $1
		ORDER BY id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list record errors for %d: %w", recordID, err)
	}
	defer rows.Close()
	var out []RecordError
	for rows.Next() {
		var e RecordError
		if err := rows.Scan(&e.RecordID, &e.Attempt, &e.Message, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) ListDueRecords(ctx context.Context, now time.Time, limit int) ([]*OfflineRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, record_type, payload, state, attempt_count, version,
		       sync_session_id, next_attempt_at, created_at, updated_at
		FROM shopsync.offline_records
		WHERE state IN ('pending','error') AND next_attempt_at <= @now
		LIMIT @limit`,
		pgx.NamedArgs{"now": now, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list due records: %w", err)
	}
	defer rows.Close()
	var out []*OfflineRecord
	for rows.Next() {
		rec := &OfflineRecord{}
		var sessionID *uuid.UUID
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Payload, &rec.State, &rec.AttemptCount, &rec.Version,
			&sessionID, &rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if sessionID != nil {
			rec.SyncSessionID = *sessionID
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PgStore) CreateSyncSession(ctx context.Context, sess *SyncSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO shopsync.sync_sessions (id, device_id)
		VALUES (@id, @device_id)
		RETURNING started_at`,
		pgx.NamedArgs{"id": sess.ID, "device_id": sess.DeviceID},
	).Scan(&sess.StartedAt)
	if err != nil {
		return fmt.Errorf("create sync session: %w", err)
	}
	return nil
}

func (s *PgStore) GetSyncSession(ctx context.Context, id uuid.UUID) (*SyncSession, error) {
	sess := &SyncSession{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, device_id, records_succeeded, records_failed, started_at
		FROM shopsync.sync_sessions
		WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.DeviceID, &sess.RecordsSucceeded, &sess.RecordsFailed, &sess.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "sync session", ID: id.String()}
		}
		return nil, fmt.Errorf("get sync session %s: %w", id, err)
	}
	return sess, nil
}

func (s *PgStore) CountSessionRecords(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM shopsync.offline_records WHERE sync_session_id = $1`,
		sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session records for %s: %w", sessionID, err)
	}
	return n, nil
}

func (s *PgStore) BumpSessionCounters(ctx context.Context, sessionID uuid.UUID, succeeded, failed int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shopsync.sync_sessions
		SET records_succeeded = records_succeeded + @succeeded,
		    records_failed = records_failed + @failed
		WHERE id = @id`,
		pgx.NamedArgs{"succeeded": succeeded, "failed": failed, "id": sessionID})
	if err != nil {
		return fmt.Errorf("bump session counters for %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "sync session", ID: sessionID.String()}
	}
	return nil
}

func (s *PgStore) ApplyStockDelta(ctx context.Context, recordID, productID, locationID, delta int64) (bool, error) {
	applied := false
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		gated, err := s.gateEffect(ctx, tx, recordID, EffectAdjustStock)
		if err != nil || !gated {
			return err
		}
		onHand, err := s.lockProjection(ctx, tx, productID, locationID)
		if err != nil {
			return err
		}
		if onHand+delta < 0 {
			return fmt.Errorf("on hand %d with delta %d: %w", onHand, delta, ErrInsufficientStock)
		}
		if err := s.writeProjection(ctx, tx, productID, locationID, onHand+delta); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if isRetryablePGTxError(err) {
			return false, Transient(ReasonInternalError, err)
		}
		return false, err
	}
	return applied, nil
}

func (s *PgStore) ApplySale(ctx context.Context, recordID int64, entry *SaleLedgerEntry) (bool, error) {
	applied := false
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		gated, err := s.gateEffect(ctx, tx, recordID, EffectRecordSale)
		if err != nil || !gated {
			return err
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO shopsync.sale_ledger_entries (product_id, location_id, quantity, sale_ref)
			VALUES (@product_id, @location_id, @quantity, @sale_ref)
			RETURNING id, recorded_at`,
			pgx.NamedArgs{
				"product_id":  entry.ProductID,
				"location_id": entry.LocationID,
				"quantity":    entry.Quantity,
				"sale_ref":    entry.SaleRef,
			}).Scan(&entry.ID, &entry.RecordedAt); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
		onHand, err := s.lockProjection(ctx, tx, entry.ProductID, entry.LocationID)
		if err != nil {
			return err
		}
		if err := s.writeProjection(ctx, tx, entry.ProductID, entry.LocationID, onHand-entry.Quantity); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if isRetryablePGTxError(err) {
			return false, Transient(ReasonInternalError, err)
		}
		return false, err
	}
	return applied, nil
}

func (s *PgStore) ApplyCustomerUpdate(ctx context.Context, recordID int64, customer *Customer) (bool, error) {
	applied := false
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		gated, err := s.gateEffect(ctx, tx, recordID, EffectUpdateCustomer)
		if err != nil || !gated {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO shopsync.customers (id, name, phone, updated_at)
			VALUES (@id, @name, @phone, now())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				phone = EXCLUDED.phone,
				updated_at = now()`,
			pgx.NamedArgs{"id": customer.ID, "name": customer.Name, "phone": customer.Phone}); err != nil {
			return fmt.Errorf("upsert customer %d: %w", customer.ID, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		if isRetryablePGTxError(err) {
			return false, Transient(ReasonInternalError, err)
		}
		return false, err
	}
	return applied, nil
}

// gateEffect is the insert-first idempotency gate. It returns false when the
// record's effect was already applied by an earlier attempt.
func (s *PgStore) gateEffect(ctx context.Context, tx pgx.Tx, recordID int64, effect string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO shopsync.record_effects (record_id, effect)
		VALUES (@record_id, @effect)
		ON CONFLICT (record_id) DO NOTHING`,
		pgx.NamedArgs{"record_id": recordID, "effect": effect})
	if err != nil {
		return false, fmt.Errorf("effect gate for record %d: %w", recordID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// lockProjection takes the exclusive row lock on the projection, inserting
// the row first if it does not exist yet, and returns the current quantity.
func (s *PgStore) lockProjection(ctx context.Context, tx pgx.Tx, productID, locationID int64) (int64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO shopsync.inventory_projections (product_id, location_id)
		VALUES (@product_id, @location_id)
		ON CONFLICT (product_id, location_id) DO NOTHING`,
		pgx.NamedArgs{"product_id": productID, "location_id": locationID}); err != nil {
		return 0, fmt.Errorf("ensure projection (%d,%d): %w", productID, locationID, err)
	}
	var onHand int64
	if err := tx.QueryRow(ctx, `
		SELECT on_hand_quantity FROM shopsync.inventory_projections
		WHERE product_id = @product_id AND location_id = @location_id
		FOR UPDATE`,
		pgx.NamedArgs{"product_id": productID, "location_id": locationID}).Scan(&onHand); err != nil {
		return 0, fmt.Errorf("lock projection (%d,%d): %w", productID, locationID, err)
	}
	return onHand, nil
}

func (s *PgStore) writeProjection(ctx context.Context, tx pgx.Tx, productID, locationID, quantity int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE shopsync.inventory_projections
		SET on_hand_quantity = @quantity, updated_at = now()
		WHERE product_id = @product_id AND location_id = @location_id`,
		pgx.NamedArgs{"quantity": quantity, "product_id": productID, "location_id": locationID}); err != nil {
		return fmt.Errorf("write projection (%d,%d): %w", productID, locationID, err)
	}
	return nil
}

func (s *PgStore) GetProjection(ctx context.Context, productID, locationID int64) (*InventoryProjection, error) {
	p := &InventoryProjection{}
	err := s.pool.QueryRow(ctx, `
		SELECT product_id, location_id, on_hand_quantity, updated_at
		FROM shopsync.inventory_projections
		WHERE product_id = $1 AND location_id = $2`, productID, locationID,
	).Scan(&p.ProductID, &p.LocationID, &p.OnHandQuantity, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Entity: "inventory projection", ID: formatID(productID)}
		}
		return nil, fmt.Errorf("get projection (%d,%d): %w", productID, locationID, err)
	}
	return p, nil
}

func (s *PgStore) UpdateProjectionLocked(ctx context.Context, productID, locationID int64, fn func(onHand int64) (int64, bool, error)) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		onHand, err := s.lockProjection(ctx, tx, productID, locationID)
		if err != nil {
			return err
		}
		newQty, write, err := fn(onHand)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		return s.writeProjection(ctx, tx, productID, locationID, newQty)
	})
}

func (s *PgStore) AppendLedgerEntry(ctx context.Context, entry *SaleLedgerEntry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO shopsync.sale_ledger_entries (product_id, location_id, quantity, sale_ref)
		VALUES (@product_id, @location_id, @quantity, @sale_ref)
		RETURNING id, recorded_at`,
		pgx.NamedArgs{
			"product_id":  entry.ProductID,
			"location_id": entry.LocationID,
			"quantity":    entry.Quantity,
			"sale_ref":    entry.SaleRef,
		}).Scan(&entry.ID, &entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *PgStore) SumSales(ctx context.Context, productID, locationID int64) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM shopsync.sale_ledger_entries
		WHERE product_id = $1 AND location_id = $2`, productID, locationID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum sales (%d,%d): %w", productID, locationID, err)
	}
	return total, nil
}

func (s *PgStore) ProductsWithSales(ctx context.Context, locationID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT product_id
		FROM shopsync.sale_ledger_entries
		WHERE location_id = $1
		ORDER BY product_id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("products with sales at %d: %w", locationID, err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PgStore) AppendStockCorrection(ctx context.Context, c *StockCorrection) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO shopsync.stock_corrections (product_id, location_id, old_quantity, new_quantity, corrected_at)
		VALUES (@product_id, @location_id, @old_quantity, @new_quantity, @corrected_at)
		RETURNING id`,
		pgx.NamedArgs{
			"product_id":   c.ProductID,
			"location_id":  c.LocationID,
			"old_quantity": c.OldQuantity,
			"new_quantity": c.NewQuantity,
			"corrected_at": c.CorrectedAt,
		}).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("append stock correction: %w", err)
	}
	return nil
}

func (s *PgStore) ListStockCorrections(ctx context.Context, productID, locationID int64) ([]StockCorrection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, location_id, old_quantity, new_quantity, corrected_at
		FROM shopsync.stock_corrections
		WHERE product_id = $1 AND location_id = $2
		ORDER BY id`, productID, locationID)
	if err != nil {
		return nil, fmt.Errorf("list stock corrections (%d,%d): %w", productID, locationID, err)
	}
	defer rows.Close()
	var out []StockCorrection
	for rows.Next() {
		var c StockCorrection
		if err := rows.Scan(&c.ID, &c.ProductID, &c.LocationID, &c.OldQuantity, &c.NewQuantity, &c.CorrectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
