package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ohiobeerpath/api/database"
	"ohiobeerpath/api/models"
	"ohiobeerpath/api/utils"
)

// ArchiveStore mirrors accepted events into ClickHouse for the time-bucketed
// aggregate queries the admin dashboard needs (event counts over time, unique
// visitors). It is write-behind: the Postgres transaction is the source of
// truth and an archive failure is logged, never surfaced to the client.
type ArchiveStore struct {
	DB *database.ClickHouseClient
}

type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewArchiveStore(chClient *database.ClickHouseClient) *ArchiveStore {
	return &ArchiveStore{DB: chClient}
}

// InsertEvents appends a batch of accepted events to the archive.
func (s *ArchiveStore) InsertEvents(ctx context.Context, events []*models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_type, category, action, label, value,
			user_id, session_id, timestamp, url, referrer, user_agent,
			ip_address, additional_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, ev := range events {
		err := batch.Append(
			ev.EventID,
			ev.EventType,
			derefString(ev.Category),
			derefString(ev.Action),
			derefString(ev.Label),
			derefFloat(ev.Value),
			ev.UserID,
			ev.SessionID,
			ev.Timestamp,
			derefString(ev.URL),
			derefString(ev.Referrer),
			derefString(ev.UserAgent),
			ev.IPAddress,
			string(ev.AdditionalData),
		)
		if err != nil {
			log.Error().Err(err).Str("event_id", ev.EventID).Msg("error appending event to archive batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}
	return nil
}

// GetEventCountsOverTime buckets events by the given interval, optionally
// split by event type.
func (s *ArchiveStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	var args []interface{}
	args = append(args, start, end)

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var (
			timeBucket  time.Time
			count       uint64
			eventTypeDB string
			current     EventCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				log.Error().Err(err).Msg("error scanning event counts row")
				continue
			}
			current.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Error().Err(err).Msg("error scanning event counts row")
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts query: %w", err)
	}
	return results, nil
}

// GetUniqueUsersOverTime buckets distinct visitor IDs by the given interval.
func (s *ArchiveStore) GetUniqueUsersOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(user_id) AS unique_users
		FROM analytics_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique users over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueUsers uint64
		if err := rows.Scan(&timeBucket, &uniqueUsers); err != nil {
			log.Error().Err(err).Msg("error scanning unique users row")
			continue
		}
		results = append(results, EventCountByTime{
			Time:  timeBucket,
			Count: uniqueUsers,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique users: %w", err)
	}
	return results, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
