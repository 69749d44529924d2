package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Source is a configured origin the collector captures from.
type Source struct {
	SourceID     string
	Name         string
	BaseURL      string
	Type         string
	Domain       string
	Active       bool
	FrequencySec int
	ParserConfig map[string]string
}

// GetActiveSources returns all sources with the active flag set, ordered by
// name. The collector reads this each scheduling cycle.
func (db *DB) GetActiveSources(ctx context.Context) ([]Source, error) {
	query := `
		SELECT source_id, name, base_url, type, domain, active, frequency_sec, parser_config
		FROM sources
		WHERE active = TRUE
		ORDER BY name
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		var parserJSON sql.NullString
		if err := rows.Scan(&s.SourceID, &s.Name, &s.BaseURL, &s.Type, &s.Domain, &s.Active, &s.FrequencySec, &parserJSON); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		if parserJSON.Valid && parserJSON.String != "" {
			if err := json.Unmarshal([]byte(parserJSON.String), &s.ParserConfig); err != nil {
				slog.Warn("Failed to unmarshal parser config", "source_id", s.SourceID, "error", err)
				s.ParserConfig = nil
			}
		}
		sources = append(sources, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

// ListSources returns all configured sources, optionally only active ones,
// ordered by name. Backs the query API's source listing.
func (db *DB) ListSources(ctx context.Context, activeOnly bool) ([]Source, error) {
	query := `
		SELECT source_id, name, base_url, type, domain, active, frequency_sec, parser_config
		FROM sources
		WHERE ($1 = FALSE OR active = TRUE)
		ORDER BY name
	`
	rows, err := db.conn.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		var parserJSON sql.NullString
		if err := rows.Scan(&s.SourceID, &s.Name, &s.BaseURL, &s.Type, &s.Domain, &s.Active, &s.FrequencySec, &parserJSON); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		if parserJSON.Valid && parserJSON.String != "" {
			if err := json.Unmarshal([]byte(parserJSON.String), &s.ParserConfig); err != nil {
				slog.Warn("Failed to unmarshal parser config", "source_id", s.SourceID, "error", err)
				s.ParserConfig = nil
			}
		}
		sources = append(sources, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

// GetSourceType returns the event type a source produces. Returns
// sql.ErrNoRows wrapped when the source does not exist; the normalizer
// falls back to a default type in that case.
func (db *DB) GetSourceType(ctx context.Context, sourceID string) (string, error) {
	var eventType string
	err := db.conn.QueryRowContext(ctx,
		`SELECT type FROM sources WHERE source_id = $1`, sourceID,
	).Scan(&eventType)
	if err != nil {
		return "", fmt.Errorf("failed to look up source type for %s: %w", sourceID, err)
	}
	return eventType, nil
}
