package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// InsertRawCaptureIdempotent persists one fetch attempt's payload. The
// raw_hash UNIQUE constraint makes a repeated capture a no-op: the method
// returns the new raw_id on a genuinely new row and nil when the hash
// already exists.
func (db *DB) InsertRawCaptureIdempotent(ctx context.Context, sourceID string, fetchedAt time.Time, rawPayload []byte, rawHash string) (*string, error) {
	query := `
		INSERT INTO raw_events (source_id, fetched_at, raw_payload, raw_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (raw_hash) DO NOTHING
		RETURNING raw_id
	`

	var rawID string
	err := db.conn.QueryRowContext(ctx, query, sourceID, fetchedAt, rawPayload, rawHash).Scan(&rawID)
	if err != nil {
		if err == sql.ErrNoRows {
			// No row was inserted: the hash already exists.
			slog.Debug("Raw capture already exists, skipping",
				"source_id", sourceID,
				"raw_hash", shortHash(rawHash),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to insert raw capture: %w", err)
	}

	slog.Info("Inserted raw capture",
		"raw_id", rawID,
		"source_id", sourceID,
		"raw_hash", shortHash(rawHash),
	)

	return &rawID, nil
}

// CountRawCaptures returns the total number of raw captures.
func (db *DB) CountRawCaptures(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count raw captures: %w", err)
	}
	return count, nil
}

// shortHash truncates a content hash for log fields.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
