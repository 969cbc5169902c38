// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// isRetryablePGTxError reports whether a failed transaction is worth
// retrying. Processors and the reconcile engine serialize on the projection
// row lock, so under load the store sees deadlocks and lock timeouts rather
// than data errors; those clear on a fresh attempt.
func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available, typically a FOR UPDATE lock_timeout
		return true
	default:
		return false
	}
}

// sleepWithContext waits for d or until ctx is cancelled. The worker uses
// it between polls so shutdown does not wait out a full poll interval.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
