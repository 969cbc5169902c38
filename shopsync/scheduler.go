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
)

// Scheduler drives offline records through their processing lifecycle with
// bounded retries and backoff. State transitions are guarded by a per-record
// version CAS, so two workers can never process the same record at once.
type Scheduler struct {
	store    Store
	registry *ProcessorRegistry
	hooks    *HookDispatcher
	config   *SchedulerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler. A nil config gets the default retry
// policy; a nil logger falls back to slog.Default().
func NewScheduler(store Store, registry *ProcessorRegistry, hooks *HookDispatcher, config *SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(logger); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if hooks == nil {
		hooks = NewHookDispatcher(nil, logger)
	}
	return &Scheduler{
		store:    store,
		registry: registry,
		hooks:    hooks,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Submit stores a freshly ingested client operation and enqueues it on the
// session in one step. The record type is validated against the registry so
// unknown types fail fast at ingestion.
func (s *Scheduler) Submit(ctx context.Context, rec *OfflineRecord, sessionID uuid.UUID) error {
	if _, ok := s.registry.Lookup(rec.Type); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecordType, rec.Type)
	}
	// Validate the session before the record exists. A record created
	// against a bad session would still be due and a worker would apply
	// its effect even though the client saw the submit fail.
	if _, err := s.store.GetSyncSession(ctx, sessionID); err != nil {
		return err
	}
	rec.State = StatePending
	if err := s.store.CreateOfflineRecord(ctx, rec); err != nil {
		return fmt.Errorf("create offline record: %w", err)
	}
	if err := s.store.BindOfflineRecord(ctx, rec.ID, sessionID, s.now()); err != nil {
		return fmt.Errorf("bind offline record %d: %w", rec.ID, err)
	}
	s.logger.Debug("Submitted offline record",
		"record_id", rec.ID, "type", rec.Type, "session_id", sessionID)
	return nil
}

// Enqueue schedules an existing offline record for processing under the
// given sync session. Only pending and error records are enqueueable;
// terminal records stay terminal.
func (s *Scheduler) Enqueue(ctx context.Context, recordID int64, sessionID uuid.UUID) error {
	rec, err := s.store.GetOfflineRecord(ctx, recordID)
	if err != nil {
		return err
	}
	switch rec.State {
	case StatePending, StateError:
		// enqueueable
	case StateProcessing:
		return fmt.Errorf("offline record %d is processing: %w", recordID, ErrRecordBusy)
	default:
		return fmt.Errorf("offline record %d already %s: %w", recordID, rec.State, ErrRecordTerminal)
	}
	if _, ok := s.registry.Lookup(rec.Type); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecordType, rec.Type)
	}
	if _, err := s.store.GetSyncSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.store.BindOfflineRecord(ctx, recordID, sessionID, s.now()); err != nil {
		return fmt.Errorf("bind offline record %d: %w", recordID, err)
	}
	s.logger.Debug("Enqueued offline record",
		"record_id", recordID, "type", rec.Type, "session_id", sessionID)
	return nil
}

// Execute runs one attempt for the record.
//
// Outcomes:
//   - success: record completed, session succeeded counter bumped, success
//     hooks fired; returns nil.
//   - transient failure with attempts left: error appended, record parked in
//     state error with the backoff due time; the TransientProcessingError is
//     returned so the runtime sees the failed attempt.
//   - attempts exhausted: terminal handler marks permanently_failed, appends
//     the final error entry, bumps the failed counter and fires failure
//     hooks; the failure is absorbed and Execute returns nil.
//   - claim lost to a concurrent worker: returns ErrRecordBusy.
func (s *Scheduler) Execute(ctx context.Context, recordID int64) error {
	rec, err := s.store.GetOfflineRecord(ctx, recordID)
	if err != nil {
		return err
	}
	switch rec.State {
	case StatePending, StateError:
		// claimable
	case StateProcessing:
		return ErrRecordBusy
	default:
		s.logger.Debug("Record already terminal, nothing to execute",
			"record_id", recordID, "state", rec.State)
		return nil
	}
	if rec.AttemptCount >= s.config.MaxAttempts {
		return fmt.Errorf("record %d attempt count %d already at cap", recordID, rec.AttemptCount)
	}

	claimed, err := s.store.ClaimOfflineRecord(ctx, rec.ID, rec.Version, s.now())
	if err != nil {
		if errors.Is(err, ErrRecordBusy) {
			return ErrRecordBusy
		}
		return fmt.Errorf("claim record %d: %w", recordID, err)
	}
	attempt := claimed.AttemptCount

	s.logger.Debug("Processing offline record",
		"record_id", claimed.ID, "type", claimed.Type, "attempt", attempt)

	procErr := s.runAttempt(ctx, claimed)
	if procErr == nil {
		return s.completeRecord(ctx, claimed)
	}
	return s.failAttempt(ctx, claimed, attempt, procErr)
}

// runAttempt invokes the processor under the per-attempt time budget. An
// attempt that exceeds the budget is treated as a failure of that attempt.
func (s *Scheduler) runAttempt(ctx context.Context, rec *OfflineRecord) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.config.AttemptBudget)
	defer cancel()

	err := s.registry.Process(attemptCtx, rec)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return Transient(ReasonAttemptTimeout,
			fmt.Errorf("attempt exceeded budget of %s", s.config.AttemptBudget))
	}
	return err
}

func (s *Scheduler) completeRecord(ctx context.Context, rec *OfflineRecord) error {
	updated, err := s.store.TransitionOfflineRecord(ctx, rec.ID, rec.Version, StateCompleted, nil)
	if err != nil {
		return fmt.Errorf("transition record %d to completed: %w", rec.ID, err)
	}
	if rec.SyncSessionID != uuid.Nil {
		if err := s.store.BumpSessionCounters(ctx, rec.SyncSessionID, 1, 0); err != nil {
			return fmt.Errorf("bump session counters for %s: %w", rec.SyncSessionID, err)
		}
	}
	s.logger.Info("Offline record completed",
		"record_id", rec.ID, "type", rec.Type, "attempts", updated.AttemptCount)
	s.hooks.DispatchSuccess(ctx, updated)
	return nil
}

func (s *Scheduler) failAttempt(ctx context.Context, rec *OfflineRecord, attempt int, procErr error) error {
	now := s.now()
	if err := s.store.AppendRecordError(ctx, rec.ID, attempt, procErr.Error(), now); err != nil {
		return fmt.Errorf("append error for record %d: %w", rec.ID, err)
	}

	if attempt >= s.config.MaxAttempts {
		return s.failTerminally(ctx, rec, attempt, procErr)
	}

	dueAt := now.Add(s.config.backoffBefore(attempt + 1))
	if _, err := s.store.TransitionOfflineRecord(ctx, rec.ID, rec.Version, StateError, &dueAt); err != nil {
		return fmt.Errorf("transition record %d to error: %w", rec.ID, err)
	}
	s.logger.Warn("Offline record attempt failed, retry scheduled",
		"record_id", rec.ID, "type", rec.Type, "attempt", attempt,
		"next_attempt_at", dueAt, "error", procErr)

	// Re-raise so the runtime observes the failed attempt. The record itself
	// is parked for later pickup; the worker does not hold it across the
	// backoff delay.
	var terr *TransientProcessingError
	if errors.As(procErr, &terr) {
		return terr
	}
	return Transient(ReasonInternalError, procErr)
}

// failTerminally is the terminal handler: it marks the record permanently
// failed, appends the final timestamped error entry and absorbs the failure.
func (s *Scheduler) failTerminally(ctx context.Context, rec *OfflineRecord, attempt int, procErr error) error {
	perm := &PermanentFailure{RecordID: rec.ID, Attempts: attempt, LastErr: procErr}

	updated, err := s.store.TransitionOfflineRecord(ctx, rec.ID, rec.Version, StatePermanentlyFailed, nil)
	if err != nil {
		return fmt.Errorf("transition record %d to permanently_failed: %w", rec.ID, err)
	}
	if err := s.store.AppendRecordError(ctx, rec.ID, 0, perm.Error(), s.now()); err != nil {
		return fmt.Errorf("append terminal error for record %d: %w", rec.ID, err)
	}
	if rec.SyncSessionID != uuid.Nil {
		if err := s.store.BumpSessionCounters(ctx, rec.SyncSessionID, 0, 1); err != nil {
			return fmt.Errorf("bump session counters for %s: %w", rec.SyncSessionID, err)
		}
	}
	s.logger.Error("Offline record permanently failed",
		"record_id", rec.ID, "type", rec.Type, "attempts", attempt, "error", procErr)
	s.hooks.DispatchFailure(ctx, updated, perm)
	return nil
}

// Config returns the scheduler's retry policy.
func (s *Scheduler) Config() *SchedulerConfig { return s.config }

// Store returns the underlying store. This allows advanced users to run
// custom queries.
func (s *Scheduler) Store() Store { return s.store }
