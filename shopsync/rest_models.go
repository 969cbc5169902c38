// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"encoding/json"
)

// REST/JSON models for HTTP API requests and responses

// SubmitRequest carries one client operation to store and enqueue.
// The device identity comes from the JWT did claim, not from the body.
type SubmitRequest struct {
	RecordType string          `json:"record_type"`          // adjust_stock, record_sale, update_customer
	Payload    json.RawMessage `json:"payload"`              // Processor-specific body
	SessionID  string          `json:"session_id,omitempty"` // Existing sync session (optional)
}

// SubmitResponse echoes the stored record and its session.
type SubmitResponse struct {
	RecordID  int64  `json:"record_id"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// EnqueueRequest re-schedules an already stored offline record.
type EnqueueRequest struct {
	RecordID  int64  `json:"record_id"`
	SessionID string `json:"session_id"`
}

// EnqueueResponse acknowledges scheduling.
type EnqueueResponse struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state"`
}

// SessionSummaryResponse is the aggregate report for one sync session.
type SessionSummaryResponse struct {
	SessionID        string `json:"session_id"`
	RecordsSucceeded int64  `json:"records_succeeded"`
	RecordsFailed    int64  `json:"records_failed"`
	Total            int64  `json:"total"`
}

// ReconcileResponse carries per-product reconciliation outcomes.
type ReconcileResponse struct {
	Reports []CorrectionReport `json:"reports"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
