package database

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
	"strings"
	"time"
)

const (
	maxRetries = 100
	baseDelay  = 10 * time.Millisecond
	maxDelay   = 250 * time.Millisecond
)

// isRetryableError checks if the error is a retryable SQLite lock error
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "busy") ||
		strings.Contains(errStr, "locked")
}

// backoff sleeps before the next attempt. It returns false when ctx is done.
func backoff(ctx context.Context, attempt int) bool {
	// Linear backoff capped at maxDelay
	delay := time.Duration(attempt+1) * baseDelay
	if delay > maxDelay {
		delay = maxDelay
	}
	// Add random jitter (up to 50% of delay)
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))

	t := time.NewTimer(delay + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryableExec executes a SQL statement with retry logic for lock conflicts
func retryableExec(ctx context.Context, db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err = db.ExecContext(ctx, query, args...)
		if !isRetryableError(err) {
			return result, err
		}
		log.Printf("[DB]: retry attempt %d/%d for query (first 50 chars): %s... Error: %v",
			attempt+1, maxRetries, truncateString(query, 50), err)
		if !backoff(ctx, attempt) {
			return result, ctx.Err()
		}
	}

	return result, err
}

// retryableTransactionExec runs txFunc in a transaction and commits it, restarting the whole
// transaction when SQLite reports a lock conflict
func retryableTransactionExec(ctx context.Context, db *sql.DB, txFunc func(*sql.Tx) error) error {
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err = runTx(ctx, db, txFunc)
		if !isRetryableError(err) {
			return err
		}
		log.Printf("[DB]: retry attempt %d/%d for transaction: %v", attempt+1, maxRetries, err)
		if !backoff(ctx, attempt) {
			return ctx.Err()
		}
	}

	return err
}

func runTx(ctx context.Context, db *sql.DB, txFunc func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := txFunc(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Printf("[DB]: rollback failed: %v", rerr)
		}
		return err
	}
	return tx.Commit()
}

// truncateString truncates a string to the specified length
func truncateString(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length]
}
