// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*ProcessorRegistry, *MemStore) {
	t.Helper()
	store := NewMemStore()
	registry := NewProcessorRegistry()
	require.NoError(t, RegisterDefaultProcessors(registry, store, testLogger()))
	return registry, store
}

func TestProcessorRegistry_DuplicateRegistration(t *testing.T) {
	registry, store := newTestRegistry(t)
	err := registry.Register(&AdjustStockProcessor{store: store, logger: testLogger()})
	require.Error(t, err)
}

func TestProcessorRegistry_UnknownType(t *testing.T) {
	registry, _ := newTestRegistry(t)
	rec := &OfflineRecord{ID: 1, Type: RecordType("bogus"), Payload: json.RawMessage(`{}`)}
	err := registry.Process(context.Background(), rec)
	require.ErrorIs(t, err, ErrUnknownRecordType)
}

func TestProcessorRegistry_ValidationFailure(t *testing.T) {
	registry, _ := newTestRegistry(t)

	cases := []struct {
		name    string
		recType RecordType
		payload string
	}{
		{"adjust stock zero delta", TypeAdjustStock, `{"product_id":1,"location_id":1,"delta":0}`},
		{"adjust stock missing product", TypeAdjustStock, `{"location_id":1,"delta":5}`},
		{"sale non-positive quantity", TypeRecordSale, `{"product_id":1,"location_id":1,"quantity":0,"sale_ref":"S-1"}`},
		{"sale missing ref", TypeRecordSale, `{"product_id":1,"location_id":1,"quantity":2}`},
		{"customer missing name", TypeUpdateCustomer, `{"customer_id":7}`},
		{"malformed json", TypeAdjustStock, `{not json`},
		{"empty payload", TypeRecordSale, ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &OfflineRecord{ID: 1, Type: tc.recType, Payload: json.RawMessage(tc.payload)}
			err := registry.Process(context.Background(), rec)
			var terr *TransientProcessingError
			require.ErrorAs(t, err, &terr)
			require.Equal(t, ReasonValidation, terr.Reason)
		})
	}
}

func TestAdjustStock_AppliesDelta(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	rec := &OfflineRecord{ID: 11, Type: TypeAdjustStock,
		Payload: json.RawMessage(`{"product_id":5,"location_id":1,"delta":12}`)}
	require.NoError(t, registry.Process(ctx, rec))

	proj, err := store.GetProjection(ctx, 5, 1)
	require.NoError(t, err)
	require.Equal(t, int64(12), proj.OnHandQuantity)
}

func TestAdjustStock_InsufficientStock(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	rec := &OfflineRecord{ID: 12, Type: TypeAdjustStock,
		Payload: json.RawMessage(`{"product_id":6,"location_id":1,"delta":-5}`)}
	err := registry.Process(ctx, rec)
	var terr *TransientProcessingError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, ReasonInsufficientStock, terr.Reason)
	require.ErrorIs(t, err, ErrInsufficientStock)

	// The failed apply must not consume the idempotency gate; a retry after
	// stock arrives goes through.
	_, err = store.ApplyStockDelta(ctx, 99, 6, 1, 10)
	require.NoError(t, err)
	require.NoError(t, registry.Process(ctx, rec))

	proj, err := store.GetProjection(ctx, 6, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), proj.OnHandQuantity)
}

func TestRecordSale_AtLeastOnceDelivery(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	rec := &OfflineRecord{ID: 21, Type: TypeRecordSale,
		Payload: json.RawMessage(`{"product_id":7,"location_id":1,"quantity":3,"sale_ref":"S-21"}`)}

	// Duplicate delivery of the same record applies its effect once.
	require.NoError(t, registry.Process(ctx, rec))
	require.NoError(t, registry.Process(ctx, rec))

	total, err := store.SumSales(ctx, 7, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	proj, err := store.GetProjection(ctx, 7, 1)
	require.NoError(t, err)
	require.Equal(t, int64(-3), proj.OnHandQuantity)
}

func TestUpdateCustomer_Upserts(t *testing.T) {
	registry, store := newTestRegistry(t)
	ctx := context.Background()

	rec := &OfflineRecord{ID: 31, Type: TypeUpdateCustomer,
		Payload: json.RawMessage(`{"customer_id":9,"name":"Amina","phone":"+25570000001"}`)}
	require.NoError(t, registry.Process(ctx, rec))

	c, ok := store.GetCustomer(9)
	require.True(t, ok)
	require.Equal(t, "Amina", c.Name)
	require.Equal(t, "+25570000001", c.Phone)

	// A later record overwrites, an earlier duplicate does not.
	rec2 := &OfflineRecord{ID: 32, Type: TypeUpdateCustomer,
		Payload: json.RawMessage(`{"customer_id":9,"name":"Amina B."}`)}
	require.NoError(t, registry.Process(ctx, rec2))
	require.NoError(t, registry.Process(ctx, rec))

	c, ok = store.GetCustomer(9)
	require.True(t, ok)
	require.Equal(t, "Amina B.", c.Name)
}

func TestProcessorRegistry_Types(t *testing.T) {
	registry, _ := newTestRegistry(t)
	types := registry.Types()
	require.ElementsMatch(t, []RecordType{TypeAdjustStock, TypeRecordSale, TypeUpdateCustomer}, types)
}
