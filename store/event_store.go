package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"ohiobeerpath/api/models"
)

// EventStore persists the primary analytics_events log. A whole batch is
// written inside one transaction: either every valid event row commits or
// none do. Validation happens before this layer, so by the time events reach
// SaveBatch they are all insertable.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const insertEventQuery = `
	INSERT INTO analytics_events (
		event_id, event_type, category, action, label, value,
		user_id, session_id, url, referrer, user_agent,
		screen_width, screen_height, viewport_width, viewport_height,
		timestamp, ip_address, additional_data
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
	);
`

// SaveBatch inserts the given events inside a single transaction. Each event
// is assigned its row ID here. Any insert or commit failure rolls back every
// row and is returned as a transaction-level error.
func (s *EventStore) SaveBatch(ctx context.Context, events []*models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		ev.EventID = uuid.New().String()
		_, err := stmt.ExecContext(ctx,
			ev.EventID,
			ev.EventType,
			ev.Category,
			ev.Action,
			ev.Label,
			ev.Value,
			ev.UserID,
			ev.SessionID,
			ev.URL,
			ev.Referrer,
			ev.UserAgent,
			ev.ScreenWidth,
			ev.ScreenHeight,
			ev.ViewportWidth,
			ev.ViewportHeight,
			ev.Timestamp,
			ev.IPAddress,
			[]byte(ev.AdditionalData),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event batch: %w", err)
	}
	return nil
}
