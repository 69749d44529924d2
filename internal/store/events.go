package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/CharlieCardenasToledo/sistema-alertas-comunitarias/internal/events"
)

// UpsertEvent persists a normalized event. The dedup_hash UNIQUE constraint
// collapses independent reports of the same real-world event: a colliding
// hash only bumps updated_at and yields no fresh identifier, so no
// downstream publish occurs for it.
//
// Every call also records the (dedup_hash, source_id) pair in event_sources,
// which is what lets the verifier's cross-validation rule see corroboration
// from sources whose reports merged into an existing record.
func (db *DB) UpsertEvent(ctx context.Context, e *events.NormalizedEvent) (*string, error) {
	query := `
		INSERT INTO events (
			type, occurred_at, zone, severity, title, description,
			evidence_url, source_id, dedup_hash, status, score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		ON CONFLICT (dedup_hash) DO UPDATE
		SET updated_at = CURRENT_TIMESTAMP
		RETURNING event_id, (xmax = 0) AS inserted
	`

	var severity, description sql.NullString
	if e.Severity != "" {
		severity = sql.NullString{String: e.Severity, Valid: true}
	}
	if e.Description != "" {
		description = sql.NullString{String: e.Description, Valid: true}
	}

	var eventID string
	var inserted bool
	err := db.conn.QueryRowContext(ctx, query,
		e.Type,
		e.OccurredAt,
		e.Zone,
		severity,
		e.Title,
		description,
		e.EvidenceURL,
		e.SourceID,
		e.DedupHash,
		events.StatusNoVerificado,
	).Scan(&eventID, &inserted)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert event: %w", err)
	}

	if err := db.recordEventSource(ctx, e.DedupHash, e.SourceID); err != nil {
		// Corroboration bookkeeping must not fail the upsert; the worst
		// case is a missed cross-validation bonus on the next verification.
		slog.Warn("Failed to record event source",
			"dedup_hash", shortHash(e.DedupHash),
			"source_id", e.SourceID,
			"error", err,
		)
	}

	if !inserted {
		slog.Info("Event merged into existing record",
			"event_id", eventID,
			"dedup_hash", shortHash(e.DedupHash),
		)
		return nil, nil
	}

	slog.Info("Inserted new event",
		"event_id", eventID,
		"type", e.Type,
		"zone", e.Zone,
		"dedup_hash", shortHash(e.DedupHash),
	)

	return &eventID, nil
}

// recordEventSource registers that a source reported the event identified by
// dedupHash. Idempotent on the (dedup_hash, source_id) primary key.
func (db *DB) recordEventSource(ctx context.Context, dedupHash, sourceID string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO event_sources (dedup_hash, source_id)
		VALUES ($1, $2)
		ON CONFLICT (dedup_hash, source_id) DO NOTHING
	`, dedupHash, sourceID)
	if err != nil {
		return fmt.Errorf("failed to record event source: %w", err)
	}
	return nil
}

// CountDistinctSources returns how many distinct sources reported the event
// identified by dedupHash. Used by the cross-validation rule.
func (db *DB) CountDistinctSources(ctx context.Context, dedupHash string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT source_id)
		FROM event_sources
		WHERE dedup_hash = $1
	`, dedupHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct sources: %w", err)
	}
	return count, nil
}

// UpdateEventVerification persists the verifier's score and status. The
// score is always written; the status never regresses once CONFIRMADO
// (re-verification may recompute a lower score but the confirmed status is
// kept for auditability). Returns false when the event no longer exists.
func (db *DB) UpdateEventVerification(ctx context.Context, eventID string, score int, status string) (bool, error) {
	query := `
		UPDATE events
		SET score = $2,
		    status = CASE WHEN status = 'CONFIRMADO' THEN status ELSE $3 END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE event_id = $1
		RETURNING event_id
	`

	var id string
	err := db.conn.QueryRowContext(ctx, query, eventID, score, status).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			slog.Warn("Event not found during verification update", "event_id", eventID)
			return false, nil
		}
		return false, fmt.Errorf("failed to update event verification: %w", err)
	}

	slog.Info("Updated event verification",
		"event_id", eventID,
		"score", score,
		"status", status,
	)

	return true, nil
}

// Event is a stored event row as read by the query API.
type Event struct {
	EventID     string     `json:"event_id"`
	Type        string     `json:"type"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Zone        string     `json:"zone"`
	Severity    string     `json:"severity,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	EvidenceURL string     `json:"evidence_url"`
	SourceID    string     `json:"source_id"`
	DedupHash   string     `json:"dedup_hash"`
	Status      string     `json:"status"`
	Score       int        `json:"score"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const eventColumns = `event_id, type, occurred_at, zone, severity, title, description,
		evidence_url, source_id, dedup_hash, status, score, created_at, updated_at`

func scanEvent(scan func(dest ...any) error) (*Event, error) {
	var e Event
	var severity, description sql.NullString
	err := scan(
		&e.EventID, &e.Type, &e.OccurredAt, &e.Zone, &severity, &e.Title,
		&description, &e.EvidenceURL, &e.SourceID, &e.DedupHash, &e.Status,
		&e.Score, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Severity = severity.String
	e.Description = description.String
	return &e, nil
}

// EventFilter narrows ListEvents results. Zero values mean "no filter".
type EventFilter struct {
	Status string
	Type   string
	Zone   string
	Limit  int
}

// ListEvents returns recent events, newest first, honoring the filter.
func (db *DB) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR zone = $3)
		ORDER BY occurred_at DESC
		LIMIT $4
	`, eventColumns)

	rows, err := db.conn.QueryContext(ctx, query, f.Status, f.Type, f.Zone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		result = append(result, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return result, nil
}

// GetEvent returns one event by id. Returns nil when it does not exist.
func (db *DB) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE event_id = $1`, eventColumns)
	e, err := scanEvent(db.conn.QueryRowContext(ctx, query, eventID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// CountEventsByStatus returns event counts grouped by verification status.
func (db *DB) CountEventsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}
