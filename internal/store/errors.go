package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsConflictError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that is worth retrying.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
)

// withRetry runs fn, retrying conflict errors with exponential backoff
// (100ms, 200ms, 400ms).
func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !IsConflictError(err) || i == maxRetries-1 {
			return err
		}

		delay := baseRetryDelay * time.Duration(1<<i)
		logger.Debug("store operation hit a locked database, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
