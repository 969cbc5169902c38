// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reconciliation defaults. The initial stock baseline is a deployment
// constant, not derived from an opening-balance entity; a future redesign
// should model explicit opening-balance ledger entries per product/location.
const (
	DefaultInitialStock      = 50
	DefaultReconcileLocation = 1
)

// ReconcileConfig holds configuration for the reconciliation engine.
type ReconcileConfig struct {
	InitialStock      int64 // Opening stock baseline per product
	DefaultLocationID int64 // Location used for batch reconciliation
}

// CorrectionReport describes the outcome of reconciling one product.
type CorrectionReport struct {
	ProductID        int64 `json:"product_id"`
	LocationID       int64 `json:"location_id"`
	TotalSold        int64 `json:"total_sold"`
	RecordedQuantity int64 `json:"recorded_quantity"`
	CorrectQuantity  int64 `json:"correct_quantity"`
	Corrected        bool  `json:"corrected"`
}

// ReconcileEngine recomputes authoritative stock quantities from the sales
// ledger and corrects drift in the inventory projection. The operation is
// idempotent and performs no internal retries; any read/write failure
// surfaces to the caller as a ReconciliationIOError.
type ReconcileEngine struct {
	store  Store
	config ReconcileConfig
	logger *slog.Logger

	// Progress receives a human-readable line per reconciled product when
	// set. Used by the operator entrypoint.
	Progress func(line string)
}

// NewReconcileEngine creates an engine. Zero config fields get the defaults.
func NewReconcileEngine(store Store, config ReconcileConfig, logger *slog.Logger) *ReconcileEngine {
	if config.InitialStock == 0 {
		config.InitialStock = DefaultInitialStock
	}
	if config.DefaultLocationID == 0 {
		config.DefaultLocationID = DefaultReconcileLocation
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileEngine{store: store, config: config, logger: logger}
}

// ReconcileProduct corrects the projection for one product at the default
// location. Running it twice with no new ledger entries in between leaves
// the projection unchanged and emits no second correction.
func (e *ReconcileEngine) ReconcileProduct(ctx context.Context, productID int64) (*CorrectionReport, error) {
	locationID := e.config.DefaultLocationID

	totalSold, err := e.store.SumSales(ctx, productID, locationID)
	if err != nil {
		return nil, &ReconciliationIOError{Op: "sum sales", Err: err}
	}
	correct := e.config.InitialStock - totalSold

	report := &CorrectionReport{
		ProductID:       productID,
		LocationID:      locationID,
		TotalSold:       totalSold,
		CorrectQuantity: correct,
	}

	// Compare and overwrite happen under the same exclusive lock the sync
	// processors take, so a concurrent sale application cannot interleave
	// with the read-modify-write.
	err = e.store.UpdateProjectionLocked(ctx, productID, locationID, func(onHand int64) (int64, bool, error) {
		report.RecordedQuantity = onHand
		if onHand == correct {
			return onHand, false, nil
		}
		report.Corrected = true
		return correct, true, nil
	})
	if err != nil {
		return nil, &ReconciliationIOError{Op: "update projection", Err: err}
	}

	if report.Corrected {
		if err := e.store.AppendStockCorrection(ctx, &StockCorrection{
			ProductID:   productID,
			LocationID:  locationID,
			OldQuantity: report.RecordedQuantity,
			NewQuantity: correct,
			CorrectedAt: time.Now(),
		}); err != nil {
			return nil, &ReconciliationIOError{Op: "append correction", Err: err}
		}
		e.logger.Info("Corrected drifted projection",
			"product_id", productID, "location_id", locationID,
			"old", report.RecordedQuantity, "new", correct, "total_sold", totalSold)
	}

	e.emitProgress(report)
	return report, nil
}

// ReconcileAll corrects every product with at least one ledger entry at the
// default location.
func (e *ReconcileEngine) ReconcileAll(ctx context.Context) ([]CorrectionReport, error) {
	productIDs, err := e.store.ProductsWithSales(ctx, e.config.DefaultLocationID)
	if err != nil {
		return nil, &ReconciliationIOError{Op: "list products", Err: err}
	}

	reports := make([]CorrectionReport, 0, len(productIDs))
	for _, id := range productIDs {
		report, err := e.ReconcileProduct(ctx, id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

func (e *ReconcileEngine) emitProgress(r *CorrectionReport) {
	if e.Progress == nil {
		return
	}
	action := "no correction needed"
	if r.Corrected {
		action = "correction applied"
	}
	e.Progress(fmt.Sprintf("product %d @ location %d: recorded=%d correct=%d (%s)",
		r.ProductID, r.LocationID, r.RecordedQuantity, r.CorrectQuantity, action))
}
