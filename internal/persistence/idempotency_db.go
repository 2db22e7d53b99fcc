package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"
)

// PostgresIdempotencyChecker is the second dedup tier behind the core's
// LRU: it looks the key up in the persisted event log.
//
// It starts disabled. Replaying the log during recovery would otherwise
// find every command in the log and skip it; call Enable once recovery
// is done.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
	enabled atomic.Bool
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

func (pic *PostgresIdempotencyChecker) Enable() {
	pic.enabled.Store(true)
}

// IsDuplicate reports whether (eventType, idempotencyKey) is already in
// event_log.events.
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	if !pic.enabled.Load() {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
