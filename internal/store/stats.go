package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ping verifies the database connection is alive. Used by health checks.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// CountSources returns the total and active source counts.
func (db *DB) CountSources(ctx context.Context) (total, active int, err error) {
	err = db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE active = TRUE)
		FROM sources
	`).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return total, active, nil
}

// LastCaptureTime returns when the most recent raw capture was fetched.
// Returns nil when no captures exist yet.
func (db *DB) LastCaptureTime(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(fetched_at) FROM raw_events`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query last capture time: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}
