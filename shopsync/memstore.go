// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type projectionKey struct {
	productID  int64
	locationID int64
}

// MemStore is an in-memory Store. It backs the unit tests and the demo
// server; the production path is PgStore.
type MemStore struct {
	mu sync.Mutex

	nextRecordID     int64
	nextLedgerID     int64
	nextCorrectionID int64

	records      map[int64]*OfflineRecord
	recordErrors map[int64][]RecordError
	sessions     map[uuid.UUID]*SyncSession
	effects      map[int64]string // record id -> effect key
	projections  map[projectionKey]*InventoryProjection
	ledger       []SaleLedgerEntry
	corrections  []StockCorrection
	customers    map[int64]*Customer
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:      make(map[int64]*OfflineRecord),
		recordErrors: make(map[int64][]RecordError),
		sessions:     make(map[uuid.UUID]*SyncSession),
		effects:      make(map[int64]string),
		projections:  make(map[projectionKey]*InventoryProjection),
		customers:    make(map[int64]*Customer),
	}
}

func (m *MemStore) CreateOfflineRecord(_ context.Context, rec *OfflineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRecordID++
	rec.ID = m.nextRecordID
	if rec.State == "" {
		rec.State = StatePending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemStore) GetOfflineRecord(_ context.Context, id int64) (*OfflineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, &NotFoundError{Entity: "offline record", ID: formatID(id)}
	}
	cp := *rec
	return &cp, nil
}

func (m *MemStore) BindOfflineRecord(_ context.Context, recordID int64, sessionID uuid.UUID, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordID]
	if !ok {
		return &NotFoundError{Entity: "offline record", ID: formatID(recordID)}
	}
	switch rec.State {
	case StatePending, StateError:
	case StateProcessing:
		return ErrRecordBusy
	default:
		return fmt.Errorf("offline record %d already %s: %w", recordID, rec.State, ErrRecordTerminal)
	}
	rec.SyncSessionID = sessionID
	rec.State = StatePending
	rec.NextAttemptAt = dueAt
	rec.Version++
	rec.UpdatedAt = dueAt
	return nil
}

func (m *MemStore) ClaimOfflineRecord(_ context.Context, id, version int64, now time.Time) (*OfflineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, &NotFoundError{Entity: "offline record", ID: formatID(id)}
	}
	if rec.Version != version || (rec.State != StatePending && rec.State != StateError) {
		return nil, ErrRecordBusy
	}
	rec.State = StateProcessing
	rec.Version++
	rec.AttemptCount++
	rec.UpdatedAt = now
	cp := *rec
	return &cp, nil
}

func (m *MemStore) TransitionOfflineRecord(_ context.Context, id, version int64, state RecordState, nextAttemptAt *time.Time) (*OfflineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, &NotFoundError{Entity: "offline record", ID: formatID(id)}
	}
	if rec.Version != version {
		return nil, ErrVersionMismatch
	}
	rec.State = state
	rec.Version++
	rec.UpdatedAt = time.Now()
	if nextAttemptAt != nil {
		rec.NextAttemptAt = *nextAttemptAt
	}
	cp := *rec
	return &cp, nil
}

func (m *MemStore) AppendRecordError(_ context.Context, recordID int64, attempt int, message string, occurredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[recordID]; !ok {
		return &NotFoundError{Entity: "offline record", ID: formatID(recordID)}
	}
	m.recordErrors[recordID] = append(m.recordErrors[recordID], RecordError{
		RecordID:   recordID,
		Attempt:    attempt,
		Message:    message,
		OccurredAt: occurredAt,
	})
	return nil
}

func (m *MemStore) ListRecordErrors(_ context.Context, recordID int64) ([]RecordError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecordError, len(m.recordErrors[recordID]))
	copy(out, m.recordErrors[recordID])
	return out, nil
}

func (m *MemStore) ListDueRecords(_ context.Context, now time.Time, limit int) ([]*OfflineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*OfflineRecord
	for _, rec := range m.records {
		if rec.State != StatePending && rec.State != StateError {
			continue
		}
		if rec.NextAttemptAt.After(now) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) CreateSyncSession(_ context.Context, sess *SyncSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemStore) GetSyncSession(_ context.Context, id uuid.UUID) (*SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, &NotFoundError{Entity: "sync session", ID: id.String()}
	}
	cp := *sess
	return &cp, nil
}

func (m *MemStore) CountSessionRecords(_ context.Context, sessionID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if rec.SyncSessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) BumpSessionCounters(_ context.Context, sessionID uuid.UUID, succeeded, failed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return &NotFoundError{Entity: "sync session", ID: sessionID.String()}
	}
	sess.RecordsSucceeded += succeeded
	sess.RecordsFailed += failed
	return nil
}

func (m *MemStore) ApplyStockDelta(_ context.Context, recordID, productID, locationID, delta int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.effects[recordID]; done {
		return false, nil
	}
	p := m.projectionLocked(productID, locationID)
	if p.OnHandQuantity+delta < 0 {
		return false, ErrInsufficientStock
	}
	p.OnHandQuantity += delta
	p.UpdatedAt = time.Now()
	m.effects[recordID] = EffectAdjustStock
	return true, nil
}

func (m *MemStore) ApplySale(_ context.Context, recordID int64, entry *SaleLedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.effects[recordID]; done {
		return false, nil
	}
	m.appendLedgerLocked(entry)
	p := m.projectionLocked(entry.ProductID, entry.LocationID)
	p.OnHandQuantity -= entry.Quantity
	p.UpdatedAt = time.Now()
	m.effects[recordID] = EffectRecordSale
	return true, nil
}

func (m *MemStore) ApplyCustomerUpdate(_ context.Context, recordID int64, customer *Customer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.effects[recordID]; done {
		return false, nil
	}
	cp := *customer
	cp.UpdatedAt = time.Now()
	m.customers[customer.ID] = &cp
	m.effects[recordID] = EffectUpdateCustomer
	return true, nil
}

func (m *MemStore) GetProjection(_ context.Context, productID, locationID int64) (*InventoryProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projections[projectionKey{productID, locationID}]
	if !ok {
		return nil, &NotFoundError{Entity: "inventory projection", ID: formatID(productID)}
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) UpdateProjectionLocked(_ context.Context, productID, locationID int64, fn func(onHand int64) (int64, bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var onHand int64
	if p, ok := m.projections[projectionKey{productID, locationID}]; ok {
		onHand = p.OnHandQuantity
	}
	newQty, write, err := fn(onHand)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	p := m.projectionLocked(productID, locationID)
	p.OnHandQuantity = newQty
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) AppendLedgerEntry(_ context.Context, entry *SaleLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLedgerLocked(entry)
	return nil
}

func (m *MemStore) SumSales(_ context.Context, productID, locationID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, e := range m.ledger {
		if e.ProductID == productID && e.LocationID == locationID {
			total += e.Quantity
		}
	}
	return total, nil
}

func (m *MemStore) ProductsWithSales(_ context.Context, locationID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[int64]struct{})
	for _, e := range m.ledger {
		if e.LocationID == locationID {
			seen[e.ProductID] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemStore) AppendStockCorrection(_ context.Context, c *StockCorrection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextCorrectionID++
	c.ID = m.nextCorrectionID
	m.corrections = append(m.corrections, *c)
	return nil
}

func (m *MemStore) ListStockCorrections(_ context.Context, productID, locationID int64) ([]StockCorrection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StockCorrection
	for _, c := range m.corrections {
		if c.ProductID == productID && c.LocationID == locationID {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetCustomer returns a stored customer; demo/test helper beyond the Store
// interface.
func (m *MemStore) GetCustomer(id int64) (*Customer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (m *MemStore) projectionLocked(productID, locationID int64) *InventoryProjection {
	key := projectionKey{productID, locationID}
	p, ok := m.projections[key]
	if !ok {
		p = &InventoryProjection{ProductID: productID, LocationID: locationID}
		m.projections[key] = p
	}
	return p
}

func (m *MemStore) appendLedgerLocked(entry *SaleLedgerEntry) {
	m.nextLedgerID++
	entry.ID = m.nextLedgerID
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	m.ledger = append(m.ledger, *entry)
}
