// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Payload shapes for the built-in offline-sync processors.

// AdjustStockPayload is the payload of an adjust_stock record.
type AdjustStockPayload struct {
	ProductID  int64 `json:"product_id"`
	LocationID int64 `json:"location_id"`
	Delta      int64 `json:"delta"`
}

// RecordSalePayload is the payload of a record_sale record.
type RecordSalePayload struct {
	ProductID  int64  `json:"product_id"`
	LocationID int64  `json:"location_id"`
	Quantity   int64  `json:"quantity"`
	SaleRef    string `json:"sale_ref"`
}

// UpdateCustomerPayload is the payload of an update_customer record.
type UpdateCustomerPayload struct {
	CustomerID int64  `json:"customer_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
}

// RegisterDefaultProcessors wires the built-in processors for the
// offline-sync task family into the registry.
func RegisterDefaultProcessors(reg *ProcessorRegistry, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	procs := []Processor{
		&AdjustStockProcessor{store: store, logger: logger},
		&RecordSaleProcessor{store: store, logger: logger},
		&UpdateCustomerProcessor{store: store, logger: logger},
	}
	for _, p := range procs {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// AdjustStockProcessor applies a quantity delta to an inventory projection
// under the exclusive projection lock.
type AdjustStockProcessor struct {
	store  Store
	logger *slog.Logger
}

func (p *AdjustStockProcessor) Type() RecordType { return TypeAdjustStock }

func (p *AdjustStockProcessor) Validate(payload json.RawMessage) error {
	var body AdjustStockPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	if body.ProductID <= 0 {
		return fmt.Errorf("product_id must be positive")
	}
	if body.LocationID <= 0 {
		return fmt.Errorf("location_id must be positive")
	}
	if body.Delta == 0 {
		return fmt.Errorf("delta must be non-zero")
	}
	return nil
}

func (p *AdjustStockProcessor) Apply(ctx context.Context, rec *OfflineRecord) error {
	var body AdjustStockPayload
	if err := decodePayload(rec.Payload, &body); err != nil {
		return Transient(ReasonValidation, err)
	}

	applied, err := p.store.ApplyStockDelta(ctx, rec.ID, body.ProductID, body.LocationID, body.Delta)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return Transient(ReasonInsufficientStock,
				fmt.Errorf("adjustment of %d for product %d at location %d: %w",
					body.Delta, body.ProductID, body.LocationID, err))
		}
		return err
	}
	if !applied {
		p.logger.Debug("Stock adjustment already applied, skipping",
			"record_id", rec.ID, "product_id", body.ProductID)
	}
	return nil
}

// RecordSaleProcessor appends a committed sale to the ledger and decrements
// the projection. Ledger and projection move atomically behind the same
// idempotency gate.
type RecordSaleProcessor struct {
	store  Store
	logger *slog.Logger
}

func (p *RecordSaleProcessor) Type() RecordType { return TypeRecordSale }

func (p *RecordSaleProcessor) Validate(payload json.RawMessage) error {
	var body RecordSalePayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	if body.ProductID <= 0 {
		return fmt.Errorf("product_id must be positive")
	}
	if body.LocationID <= 0 {
		return fmt.Errorf("location_id must be positive")
	}
	if body.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if body.SaleRef == "" {
		return fmt.Errorf("sale_ref is required")
	}
	return nil
}

func (p *RecordSaleProcessor) Apply(ctx context.Context, rec *OfflineRecord) error {
	var body RecordSalePayload
	if err := decodePayload(rec.Payload, &body); err != nil {
		return Transient(ReasonValidation, err)
	}

	applied, err := p.store.ApplySale(ctx, rec.ID, &SaleLedgerEntry{
		ProductID:  body.ProductID,
		LocationID: body.LocationID,
		Quantity:   body.Quantity,
		SaleRef:    body.SaleRef,
	})
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("Sale already recorded, skipping",
			"record_id", rec.ID, "sale_ref", body.SaleRef)
	}
	return nil
}

// UpdateCustomerProcessor upserts a customer row.
type UpdateCustomerProcessor struct {
	store  Store
	logger *slog.Logger
}

func (p *UpdateCustomerProcessor) Type() RecordType { return TypeUpdateCustomer }

func (p *UpdateCustomerProcessor) Validate(payload json.RawMessage) error {
	var body UpdateCustomerPayload
	if err := decodePayload(payload, &body); err != nil {
		return err
	}
	if body.CustomerID <= 0 {
		return fmt.Errorf("customer_id must be positive")
	}
	if body.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func (p *UpdateCustomerProcessor) Apply(ctx context.Context, rec *OfflineRecord) error {
	var body UpdateCustomerPayload
	if err := decodePayload(rec.Payload, &body); err != nil {
		return Transient(ReasonValidation, err)
	}

	applied, err := p.store.ApplyCustomerUpdate(ctx, rec.ID, &Customer{
		ID:    body.CustomerID,
		Name:  body.Name,
		Phone: body.Phone,
	})
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("Customer update already applied, skipping",
			"record_id", rec.ID, "customer_id", body.CustomerID)
	}
	return nil
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}
