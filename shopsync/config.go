// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"fmt"
	"log/slog"
	"time"
)

// Default scheduler settings. The third backoff entry is only reachable with
// a raised attempt cap; it is kept as configuration and flagged by Validate.
const (
	DefaultMaxAttempts   = 3
	DefaultAttemptBudget = 300 * time.Second
)

// DefaultBackoff holds the delays inserted before retry attempts. Backoff[0]
// precedes attempt 2, Backoff[1] precedes attempt 3, and so on.
var DefaultBackoff = []time.Duration{60 * time.Second, 300 * time.Second, 600 * time.Second}

// SchedulerConfig holds configuration for the task scheduler
type SchedulerConfig struct {
	MaxAttempts   int             // Maximum attempts per offline record
	AttemptBudget time.Duration   // Time budget for a single attempt
	Backoff       []time.Duration // Delay before attempt n+1 is Backoff[n-1]
}

// DefaultSchedulerConfig returns the stock retry policy: three attempts,
// a 300s per-attempt budget and 60s/300s delays before retries.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxAttempts:   DefaultMaxAttempts,
		AttemptBudget: DefaultAttemptBudget,
		Backoff:       append([]time.Duration(nil), DefaultBackoff...),
	}
}

// Validate checks the retry policy for hard errors and logs a warning when
// the attempt cap and backoff list disagree in either direction.
func (c *SchedulerConfig) Validate(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.AttemptBudget <= 0 {
		return fmt.Errorf("attempt budget must be positive, got %s", c.AttemptBudget)
	}
	for i, d := range c.Backoff {
		if d < 0 {
			return fmt.Errorf("backoff[%d] must be >= 0, got %s", i, d)
		}
	}

	reachable := c.MaxAttempts - 1
	if len(c.Backoff) > reachable {
		logger.Warn("Backoff entries beyond the attempt cap are unreachable",
			"max_attempts", c.MaxAttempts,
			"backoff_len", len(c.Backoff),
			"unreachable", len(c.Backoff)-reachable)
	}
	if len(c.Backoff) < reachable {
		logger.Warn("Fewer backoff entries than retry slots; last delay is reused",
			"max_attempts", c.MaxAttempts,
			"backoff_len", len(c.Backoff))
	}
	return nil
}

// backoffBefore returns the delay inserted before the given attempt number
// (attempt numbers start at 1; there is no delay before the first attempt).
func (c *SchedulerConfig) backoffBefore(attempt int) time.Duration {
	if attempt <= 1 || len(c.Backoff) == 0 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(c.Backoff) {
		idx = len(c.Backoff) - 1
	}
	return c.Backoff[idx]
}
