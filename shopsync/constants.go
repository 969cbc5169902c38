// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

// RecordState is the lifecycle state of an offline record.
type RecordState string

// Offline record lifecycle states. Transitions only move forward, except
// error -> processing (retry) and error -> permanently_failed (exhausted).
const (
	StatePending           RecordState = "pending"
	StateProcessing        RecordState = "processing"
	StateCompleted         RecordState = "completed"
	StateError             RecordState = "error"
	StatePermanentlyFailed RecordState = "permanently_failed"
)

// RecordType identifies which processor applies to an offline record.
type RecordType string

// Record types of the offline-sync task family.
const (
	TypeAdjustStock    RecordType = "adjust_stock"
	TypeRecordSale     RecordType = "record_sale"
	TypeUpdateCustomer RecordType = "update_customer"
)

// Effect keys for the processed-effect idempotency gate.
const (
	EffectAdjustStock    = "adjust_stock"
	EffectRecordSale     = "record_sale"
	EffectUpdateCustomer = "update_customer"
)

// Failure reason constants recorded on error entries and statuses.
const (
	ReasonValidation        = "validation_failed"
	ReasonDownstreamMissing = "downstream_missing"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonAttemptTimeout    = "attempt_timeout"
	ReasonInternalError     = "internal_error"
)
