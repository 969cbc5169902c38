// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"log/slog"
	"sync/atomic"
)

const (
	MetricsOutcomeCompleted = "completed"
	MetricsOutcomeFailed    = "permanently_failed"
)

// OutcomeEvent describes one terminal scheduler outcome.
type OutcomeEvent struct {
	RecordType RecordType
	Outcome    string
	Attempts   int
}

// OutcomeRecorder receives terminal outcome events for metrics backends.
type OutcomeRecorder interface {
	ObserveOutcome(ctx context.Context, ev OutcomeEvent)
}

// OutcomeRecorderFunc adapts a function to OutcomeRecorder.
type OutcomeRecorderFunc func(ctx context.Context, ev OutcomeEvent)

func (f OutcomeRecorderFunc) ObserveOutcome(ctx context.Context, ev OutcomeEvent) {
	f(ctx, ev)
}

// MetricsHook is a SyncHook that feeds terminal outcomes into an
// OutcomeRecorder and keeps running totals.
type MetricsHook struct {
	recorder  OutcomeRecorder
	logger    *slog.Logger
	completed atomic.Int64
	failed    atomic.Int64
}

// NewMetricsHook creates a metrics hook. recorder may be nil, in which case
// only the totals are kept.
func NewMetricsHook(recorder OutcomeRecorder, logger *slog.Logger) *MetricsHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsHook{recorder: recorder, logger: logger}
}

func (m *MetricsHook) OnSuccess(ctx context.Context, rec *OfflineRecord) {
	m.completed.Add(1)
	if m.recorder != nil {
		m.recorder.ObserveOutcome(ctx, OutcomeEvent{
			RecordType: rec.Type,
			Outcome:    MetricsOutcomeCompleted,
			Attempts:   rec.AttemptCount,
		})
	}
}

func (m *MetricsHook) OnFailure(ctx context.Context, rec *OfflineRecord, err error) {
	m.failed.Add(1)
	if m.recorder != nil {
		m.recorder.ObserveOutcome(ctx, OutcomeEvent{
			RecordType: rec.Type,
			Outcome:    MetricsOutcomeFailed,
			Attempts:   rec.AttemptCount,
		})
	}
	m.logger.Debug("Recorded permanent failure metric", "record_id", rec.ID, "error", err)
}

// Totals returns the completed and permanently failed counts observed so
// far.
func (m *MetricsHook) Totals() (completed, failed int64) {
	return m.completed.Load(), m.failed.Load()
}
