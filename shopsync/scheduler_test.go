// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// flakyProcessor fails the first failuresBeforeSuccess attempts, then
// succeeds. failuresBeforeSuccess < 0 means it always fails.
type flakyProcessor struct {
	failuresBeforeSuccess int
	calls                 int
}

func (p *flakyProcessor) Type() RecordType { return RecordType("flaky_op") }

func (p *flakyProcessor) Validate(_ json.RawMessage) error { return nil }

func (p *flakyProcessor) Apply(_ context.Context, _ *OfflineRecord) error {
	p.calls++
	if p.failuresBeforeSuccess < 0 || p.calls <= p.failuresBeforeSuccess {
		return Transient(ReasonDownstreamMissing, fmt.Errorf("simulated outage on call %d", p.calls))
	}
	return nil
}

type schedulerFixture struct {
	store     *MemStore
	registry  *ProcessorRegistry
	hooks     *HookDispatcher
	scheduler *Scheduler
}

func newSchedulerFixture(t *testing.T, extra ...Processor) *schedulerFixture {
	t.Helper()
	logger := testLogger()
	store := NewMemStore()
	registry := NewProcessorRegistry()
	require.NoError(t, RegisterDefaultProcessors(registry, store, logger))

	family := []RecordType{TypeAdjustStock, TypeRecordSale, TypeUpdateCustomer}
	for _, p := range extra {
		require.NoError(t, registry.Register(p))
		family = append(family, p.Type())
	}
	hooks := NewHookDispatcher(family, logger)

	scheduler, err := NewScheduler(store, registry, hooks, DefaultSchedulerConfig(), logger)
	require.NoError(t, err)
	return &schedulerFixture{store: store, registry: registry, hooks: hooks, scheduler: scheduler}
}

func (f *schedulerFixture) startSession(t *testing.T) uuid.UUID {
	t.Helper()
	sess, err := f.scheduler.StartSession(context.Background(), "test-device")
	require.NoError(t, err)
	return sess.ID
}

func (f *schedulerFixture) submit(t *testing.T, sessionID uuid.UUID, recType RecordType, payload string) int64 {
	t.Helper()
	rec := &OfflineRecord{Type: recType, Payload: json.RawMessage(payload)}
	require.NoError(t, f.scheduler.Submit(context.Background(), rec, sessionID))
	return rec.ID
}

func TestScheduler_SubmitAndComplete(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	sessionID := f.startSession(t)

	recID := f.submit(t, sessionID, TypeAdjustStock,
		`{"product_id":1,"location_id":1,"delta":5}`)

	require.NoError(t, f.scheduler.Execute(ctx, recID))

	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, rec.State)
	require.Equal(t, 1, rec.AttemptCount)

	proj, err := f.store.GetProjection(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), proj.OnHandQuantity)

	summary, err := f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.RecordsSucceeded)
	require.Equal(t, int64(0), summary.RecordsFailed)
	require.Equal(t, int64(1), summary.Total)
}

func TestScheduler_RetryThenSucceed(t *testing.T) {
	proc := &flakyProcessor{failuresBeforeSuccess: 2}
	f := newSchedulerFixture(t, proc)
	ctx := context.Background()
	sessionID := f.startSession(t)
	recID := f.submit(t, sessionID, proc.Type(), `{}`)

	// First two attempts fail and are re-raised as transient errors.
	for i := 0; i < 2; i++ {
		err := f.scheduler.Execute(ctx, recID)
		var terr *TransientProcessingError
		require.ErrorAs(t, err, &terr)
		require.Equal(t, ReasonDownstreamMissing, terr.Reason)

		rec, err := f.store.GetOfflineRecord(ctx, recID)
		require.NoError(t, err)
		require.Equal(t, StateError, rec.State)
	}

	// Third attempt succeeds.
	require.NoError(t, f.scheduler.Execute(ctx, recID))

	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, rec.State)
	require.Equal(t, 3, rec.AttemptCount)

	errorsList, err := f.store.ListRecordErrors(ctx, recID)
	require.NoError(t, err)
	require.Len(t, errorsList, 2)
	require.Equal(t, 1, errorsList[0].Attempt)
	require.Equal(t, 2, errorsList[1].Attempt)

	summary, err := f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.RecordsSucceeded)
	require.Equal(t, int64(0), summary.RecordsFailed)
}

func TestScheduler_PermanentFailure(t *testing.T) {
	proc := &flakyProcessor{failuresBeforeSuccess: -1}
	f := newSchedulerFixture(t, proc)
	ctx := context.Background()

	var failureHookCalls int
	var hookErr error
	f.hooks.Register(HookFuncs{
		Failure: func(_ context.Context, _ *OfflineRecord, err error) {
			failureHookCalls++
			hookErr = err
		},
	})

	sessionID := f.startSession(t)
	recID := f.submit(t, sessionID, proc.Type(), `{}`)

	// Two transient failures, then the third attempt exhausts the cap and is
	// absorbed by the terminal handler.
	require.Error(t, f.scheduler.Execute(ctx, recID))
	require.Error(t, f.scheduler.Execute(ctx, recID))
	require.NoError(t, f.scheduler.Execute(ctx, recID))

	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, StatePermanentlyFailed, rec.State)
	require.Equal(t, 3, rec.AttemptCount)

	// One entry per failed attempt plus the final terminal entry.
	errorsList, err := f.store.ListRecordErrors(ctx, recID)
	require.NoError(t, err)
	require.Len(t, errorsList, 4)
	last := errorsList[len(errorsList)-1]
	require.Equal(t, 0, last.Attempt)
	require.Contains(t, last.Message, "permanently failed after 3 attempts")
	require.False(t, last.OccurredAt.IsZero())

	require.Equal(t, 1, failureHookCalls)
	var perm *PermanentFailure
	require.ErrorAs(t, hookErr, &perm)
	require.Equal(t, recID, perm.RecordID)
	require.Equal(t, 3, perm.Attempts)

	summary, err := f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(0), summary.RecordsSucceeded)
	require.Equal(t, int64(1), summary.RecordsFailed)

	// A terminal record is a no-op for further execution.
	require.NoError(t, f.scheduler.Execute(ctx, recID))
	require.Equal(t, 1, failureHookCalls)
}

func TestScheduler_BackoffSchedule(t *testing.T) {
	proc := &flakyProcessor{failuresBeforeSuccess: -1}
	f := newSchedulerFixture(t, proc)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.scheduler.now = func() time.Time { return base }

	sessionID := f.startSession(t)
	recID := f.submit(t, sessionID, proc.Type(), `{}`)

	require.Error(t, f.scheduler.Execute(ctx, recID))
	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, base.Add(60*time.Second), rec.NextAttemptAt)

	require.Error(t, f.scheduler.Execute(ctx, recID))
	rec, err = f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, base.Add(300*time.Second), rec.NextAttemptAt)
}

func TestScheduler_SubmitUnknownType(t *testing.T) {
	f := newSchedulerFixture(t)
	sessionID := f.startSession(t)

	rec := &OfflineRecord{Type: RecordType("no_such_op"), Payload: json.RawMessage(`{}`)}
	err := f.scheduler.Submit(context.Background(), rec, sessionID)
	require.ErrorIs(t, err, ErrUnknownRecordType)
}

func TestScheduler_EnqueueMissingRecord(t *testing.T) {
	f := newSchedulerFixture(t)
	sessionID := f.startSession(t)

	err := f.scheduler.Enqueue(context.Background(), 9999, sessionID)
	require.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "offline record", nf.Entity)
}

func TestScheduler_EnqueueMissingSession(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	rec := &OfflineRecord{Type: TypeAdjustStock, Payload: json.RawMessage(`{"product_id":1,"location_id":1,"delta":1}`)}
	require.NoError(t, f.store.CreateOfflineRecord(ctx, rec))

	err := f.scheduler.Enqueue(ctx, rec.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_SubmitMissingSessionLeavesNoRecord(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	rec := &OfflineRecord{Type: TypeAdjustStock, Payload: json.RawMessage(`{"product_id":1,"location_id":1,"delta":5}`)}
	err := f.scheduler.Submit(ctx, rec, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	// The failed submit must not leave a due record behind, otherwise a
	// worker would apply its effect even though the client saw an error.
	due, err := f.store.ListDueRecords(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	require.Empty(t, due)

	_, err = f.store.GetProjection(ctx, 1, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_EnqueueTerminalRecord(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	sessionID := f.startSession(t)

	recID := f.submit(t, sessionID, TypeAdjustStock,
		`{"product_id":1,"location_id":1,"delta":5}`)
	require.NoError(t, f.scheduler.Execute(ctx, recID))

	// A completed record must never go back to pending.
	err := f.scheduler.Enqueue(ctx, recID, sessionID)
	require.ErrorIs(t, err, ErrRecordTerminal)

	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, rec.State)

	summary, err := f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.RecordsSucceeded)
	require.Equal(t, int64(1), summary.Total)
}

func TestScheduler_EnqueuePermanentlyFailedRecord(t *testing.T) {
	broken := &flakyProcessor{failuresBeforeSuccess: -1}
	f := newSchedulerFixture(t, broken)
	ctx := context.Background()
	sessionID := f.startSession(t)

	recID := f.submit(t, sessionID, "flaky_op", `{}`)
	for i := 0; i < DefaultSchedulerConfig().MaxAttempts; i++ {
		_ = f.scheduler.Execute(ctx, recID)
	}
	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	require.Equal(t, StatePermanentlyFailed, rec.State)

	err = f.scheduler.Enqueue(ctx, recID, sessionID)
	require.ErrorIs(t, err, ErrRecordTerminal)

	summary, err := f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.RecordsFailed)
	require.Equal(t, int64(1), summary.Total)
}

func TestScheduler_ConcurrentClaim(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	sessionID := f.startSession(t)
	recID := f.submit(t, sessionID, TypeAdjustStock,
		`{"product_id":2,"location_id":1,"delta":3}`)

	// Another worker claims the record first.
	rec, err := f.store.GetOfflineRecord(ctx, recID)
	require.NoError(t, err)
	_, err = f.store.ClaimOfflineRecord(ctx, rec.ID, rec.Version, time.Now())
	require.NoError(t, err)

	err = f.scheduler.Execute(ctx, recID)
	require.ErrorIs(t, err, ErrRecordBusy)
}

func TestScheduler_ExecuteMissingRecord(t *testing.T) {
	f := newSchedulerFixture(t)
	err := f.scheduler.Execute(context.Background(), 4242)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_CounterConsistency(t *testing.T) {
	proc := &flakyProcessor{failuresBeforeSuccess: -1}
	f := newSchedulerFixture(t, proc)
	ctx := context.Background()
	sessionID := f.startSession(t)

	good := f.submit(t, sessionID, TypeAdjustStock, `{"product_id":3,"location_id":1,"delta":7}`)
	bad := f.submit(t, sessionID, proc.Type(), `{}`)
	pending := f.submit(t, sessionID, TypeRecordSale,
		`{"product_id":3,"location_id":1,"quantity":1,"sale_ref":"S-1"}`)

	require.NoError(t, f.scheduler.Execute(ctx, good))
	// Counters only move on terminal outcomes; a retryable failure leaves the
	// failed counter untouched.
	require.Error(t, f.scheduler.Execute(ctx, bad))

	summary, err := f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.RecordsSucceeded)
	require.Equal(t, int64(0), summary.RecordsFailed)
	require.Equal(t, int64(3), summary.Total)
	require.LessOrEqual(t, summary.RecordsSucceeded+summary.RecordsFailed, summary.Total)

	require.Error(t, f.scheduler.Execute(ctx, bad))
	require.NoError(t, f.scheduler.Execute(ctx, bad)) // terminal, absorbed
	require.NoError(t, f.scheduler.Execute(ctx, pending))

	summary, err = f.scheduler.SessionSummary(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.RecordsSucceeded)
	require.Equal(t, int64(1), summary.RecordsFailed)
	require.Equal(t, summary.Total, summary.RecordsSucceeded+summary.RecordsFailed)
}

func TestScheduler_SessionSummaryMissing(t *testing.T) {
	f := newSchedulerFixture(t)
	_, err := f.scheduler.SessionSummary(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestScheduler_ErrorLogAppendOnly(t *testing.T) {
	proc := &flakyProcessor{failuresBeforeSuccess: -1}
	f := newSchedulerFixture(t, proc)
	ctx := context.Background()
	sessionID := f.startSession(t)
	recID := f.submit(t, sessionID, proc.Type(), `{}`)

	var snapshots [][]RecordError
	for i := 0; i < 3; i++ {
		_ = f.scheduler.Execute(ctx, recID)
		entries, err := f.store.ListRecordErrors(ctx, recID)
		require.NoError(t, err)
		snapshots = append(snapshots, entries)
	}

	// Every earlier snapshot is a prefix of the later ones.
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		require.GreaterOrEqual(t, len(cur), len(prev))
		for j := range prev {
			require.Equal(t, prev[j].Message, cur[j].Message)
			require.Equal(t, prev[j].Attempt, cur[j].Attempt)
		}
	}
}

func TestScheduler_InvalidConfig(t *testing.T) {
	store := NewMemStore()
	registry := NewProcessorRegistry()
	cfg := &SchedulerConfig{MaxAttempts: 0, AttemptBudget: time.Second}
	_, err := NewScheduler(store, registry, nil, cfg, testLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "max attempts")
}
