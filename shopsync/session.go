// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SessionSummary is the aggregate report for one sync session.
type SessionSummary struct {
	SessionID        uuid.UUID `json:"session_id"`
	RecordsSucceeded int64     `json:"records_succeeded"`
	RecordsFailed    int64     `json:"records_failed"`
	Total            int64     `json:"total"`
}

// StartSession creates a new sync session for a device batch.
func (s *Scheduler) StartSession(ctx context.Context, deviceID string) (*SyncSession, error) {
	sess := &SyncSession{ID: uuid.New(), DeviceID: deviceID, StartedAt: s.now()}
	if err := s.store.CreateSyncSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create sync session: %w", err)
	}
	return sess, nil
}

// SessionSummary reports succeeded/failed counters and the total number of
// records referencing the session.
func (s *Scheduler) SessionSummary(ctx context.Context, sessionID uuid.UUID) (*SessionSummary, error) {
	sess, err := s.store.GetSyncSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountSessionRecords(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count session records: %w", err)
	}
	return &SessionSummary{
		SessionID:        sess.ID,
		RecordsSucceeded: sess.RecordsSucceeded,
		RecordsFailed:    sess.RecordsFailed,
		Total:            total,
	}, nil
}
