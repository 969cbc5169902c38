// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"errors"
	"fmt"
	"strconv"
)

// Error sentinels for better error mapping
var (
	ErrNotFound          = errors.New("not_found")
	ErrRecordBusy        = errors.New("record_busy")
	ErrRecordTerminal    = errors.New("record_terminal")
	ErrUnknownRecordType = errors.New("unknown_record_type")
	ErrInsufficientStock = errors.New("insufficient_stock")
	ErrVersionMismatch   = errors.New("version_mismatch")
)

// NotFoundError reports a referenced entity that does not exist. It is
// surfaced to the caller and never retried.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TransientProcessingError is a processor-reported failure that is retried
// per the backoff policy up to the attempt cap.
type TransientProcessingError struct {
	Reason string
	Err    error
}

func (e *TransientProcessingError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *TransientProcessingError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientProcessingError with the given reason.
func Transient(reason string, err error) *TransientProcessingError {
	return &TransientProcessingError{Reason: reason, Err: err}
}

// PermanentFailure marks a record whose retry attempts are exhausted. It is
// recorded on the offline record and absorbed at the scheduler boundary; it
// never propagates past the terminal handler.
type PermanentFailure struct {
	RecordID int64
	Attempts int
	LastErr  error
}

func (e *PermanentFailure) Error() string {
	return fmt.Sprintf("record %d permanently failed after %d attempts: %v", e.RecordID, e.Attempts, e.LastErr)
}

func (e *PermanentFailure) Unwrap() error { return e.LastErr }

// ReconciliationIOError is a read/write failure during a correction. It is
// surfaced synchronously to the caller and never retried internally.
type ReconciliationIOError struct {
	Op  string
	Err error
}

func (e *ReconciliationIOError) Error() string {
	return fmt.Sprintf("reconciliation %s: %v", e.Op, e.Err)
}

func (e *ReconciliationIOError) Unwrap() error { return e.Err }

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
