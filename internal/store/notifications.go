package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Notification delivery outcomes recorded in the audit trail.
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// InsertNotificationRecord appends one delivery attempt outcome. The table
// is an append-only audit trail; rows are never updated.
func (db *DB) InsertNotificationRecord(ctx context.Context, subscriptionID, eventID, status, errorMessage string) error {
	var errMsg sql.NullString
	if errorMessage != "" {
		errMsg = sql.NullString{String: errorMessage, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO notifications (subscription_id, event_id, status, error_message)
		VALUES ($1, $2, $3, $4)
	`, subscriptionID, eventID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to insert notification record: %w", err)
	}

	slog.Debug("Notification record saved",
		"subscription_id", subscriptionID,
		"event_id", eventID,
		"status", status,
	)

	return nil
}
