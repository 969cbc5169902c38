// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerConfig_DefaultIsValid(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	require.NoError(t, cfg.Validate(testLogger()))
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 300*time.Second, cfg.AttemptBudget)
	require.Equal(t, []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second}, cfg.Backoff)
}

func TestSchedulerConfig_Validate(t *testing.T) {
	t.Run("zero max attempts", func(t *testing.T) {
		cfg := &SchedulerConfig{MaxAttempts: 0, AttemptBudget: time.Second}
		require.Error(t, cfg.Validate(testLogger()))
	})
	t.Run("non-positive budget", func(t *testing.T) {
		cfg := &SchedulerConfig{MaxAttempts: 3, AttemptBudget: 0}
		require.Error(t, cfg.Validate(testLogger()))
	})
	t.Run("negative backoff entry", func(t *testing.T) {
		cfg := &SchedulerConfig{MaxAttempts: 3, AttemptBudget: time.Second,
			Backoff: []time.Duration{time.Second, -time.Second}}
		require.Error(t, cfg.Validate(testLogger()))
	})
	t.Run("unreachable backoff entries pass with warning", func(t *testing.T) {
		// Three backoff entries but only two retry slots: valid, just noisy.
		cfg := DefaultSchedulerConfig()
		require.NoError(t, cfg.Validate(testLogger()))
	})
}

func TestSchedulerConfig_BackoffBefore(t *testing.T) {
	cfg := DefaultSchedulerConfig()

	require.Equal(t, time.Duration(0), cfg.backoffBefore(1))
	require.Equal(t, 60*time.Second, cfg.backoffBefore(2))
	require.Equal(t, 300*time.Second, cfg.backoffBefore(3))
	require.Equal(t, 600*time.Second, cfg.backoffBefore(4))
	// Past the end of the list the last delay is reused.
	require.Equal(t, 600*time.Second, cfg.backoffBefore(9))
}

func TestSchedulerConfig_BackoffBeforeEmpty(t *testing.T) {
	cfg := &SchedulerConfig{MaxAttempts: 3, AttemptBudget: time.Second}
	require.Equal(t, time.Duration(0), cfg.backoffBefore(2))
}
