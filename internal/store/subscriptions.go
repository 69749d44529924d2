package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Subscription is a user's interest filter joined with the delivery address.
type Subscription struct {
	SubscriptionID string
	UserID         string
	Username       string
	TelegramChatID string
}

// GetMatchingSubscriptions returns active subscriptions whose filters match
// the event. A null filter matches everything: (event_type IS NULL OR
// event_type = $1) AND (zone IS NULL OR zone = $2).
func (db *DB) GetMatchingSubscriptions(ctx context.Context, eventType, zone string) ([]Subscription, error) {
	query := `
		SELECT s.subscription_id, s.user_id, s.telegram_chat_id, u.username
		FROM subscriptions s
		JOIN users u ON s.user_id = u.user_id
		WHERE s.active = TRUE
		  AND u.active = TRUE
		  AND (s.event_type = $1 OR s.event_type IS NULL)
		  AND (s.zone = $2 OR s.zone IS NULL)
		ORDER BY s.subscription_id
	`

	rows, err := db.conn.QueryContext(ctx, query, eventType, zone)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		var chatID sql.NullString
		if err := rows.Scan(&s.SubscriptionID, &s.UserID, &chatID, &s.Username); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		s.TelegramChatID = chatID.String
		subs = append(subs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscriptions: %w", err)
	}

	slog.Info("Subscriptions matched",
		"count", len(subs),
		"event_type", eventType,
		"zone", zone,
	)

	return subs, nil
}
