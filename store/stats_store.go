package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ohiobeerpath/api/models"
)

// StatsStore maintains the derived aggregates fed by side-effect dispatch:
// page view counters, brewery engagement counters, and the append-only
// conversion and performance logs.
//
// The counter writes use single-statement upserts (INSERT ... ON CONFLICT DO
// UPDATE) so concurrent batches incrementing the same key can never lose an
// update. A read-then-write pattern here would race across requests.
type StatsStore struct {
	db *sql.DB
}

func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

// breweryCounterColumns maps an engagement action to the counter it
// increments. Unknown actions fall back to view_count. The map doubles as a
// whitelist: the column name is interpolated into SQL and must never come
// from client input directly.
var breweryCounterColumns = map[string]string{
	"view":       "view_count",
	"save":       "save_count",
	"directions": "directions_count",
	"website":    "website_clicks",
	"phone":      "phone_clicks",
	"share":      "share_count",
}

// UpsertPageView increments the view counter for a page, creating the row on
// first sight of the URL.
func (s *StatsStore) UpsertPageView(ctx context.Context, pageURL, title string) error {
	query := `
		INSERT INTO page_stats (page_url, page_title, view_count, first_viewed, last_viewed)
		VALUES ($1, $2, 1, NOW(), NOW())
		ON CONFLICT (page_url) DO UPDATE SET
			view_count = page_stats.view_count + 1,
			last_viewed = NOW();
	`
	if _, err := s.db.ExecContext(ctx, query, pageURL, title); err != nil {
		return fmt.Errorf("failed to upsert page stats for %s: %w", pageURL, err)
	}
	return nil
}

// IncrementBreweryCounter bumps exactly one engagement counter for a brewery,
// creating the row with that counter at 1 when the brewery is new.
func (s *StatsStore) IncrementBreweryCounter(ctx context.Context, breweryID, action string) error {
	column, ok := breweryCounterColumns[action]
	if !ok {
		column = "view_count"
	}

	query := fmt.Sprintf(`
		INSERT INTO brewery_stats (brewery_id, %[1]s, first_interaction, last_interaction)
		VALUES ($1, 1, NOW(), NOW())
		ON CONFLICT (brewery_id) DO UPDATE SET
			%[1]s = brewery_stats.%[1]s + 1,
			last_interaction = NOW();
	`, column)

	if _, err := s.db.ExecContext(ctx, query, breweryID); err != nil {
		return fmt.Errorf("failed to increment brewery %s counter %s: %w", breweryID, column, err)
	}
	return nil
}

// InsertConversion appends one goal-completion record. Conversions are never
// updated after the fact.
func (s *StatsStore) InsertConversion(ctx context.Context, c *models.Conversion) error {
	query := `
		INSERT INTO conversions (
			conversion_type, user_id, session_id, url, referrer, timestamp, additional_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ConversionType, c.UserID, c.SessionID, c.URL, c.Referrer, c.Timestamp, c.AdditionalData)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

// InsertPerformance appends one page-load timing record.
func (s *StatsStore) InsertPerformance(ctx context.Context, m *models.PerformanceMetric, userAgent string, additionalData []byte) error {
	query := `
		INSERT INTO performance_metrics (
			page_url, user_id, session_id,
			dns_time, connect_time, ttfb, dom_load, page_load, total_time,
			resource_count, resource_size, timestamp, user_agent, additional_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`
	_, err := s.db.ExecContext(ctx, query,
		m.PageURL, m.UserID, m.SessionID,
		m.DNSTime, m.ConnectTime, m.TTFB, m.DOMLoad, m.PageLoad, m.TotalTime,
		m.ResourceCount, m.ResourceSize, m.Timestamp, userAgent, additionalData)
	if err != nil {
		return fmt.Errorf("failed to insert performance metrics: %w", err)
	}
	return nil
}

// GetTopPages returns page aggregates ordered by view count.
func (s *StatsStore) GetTopPages(ctx context.Context, limit int) ([]models.PageStat, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT page_url, COALESCE(page_title, ''), view_count, first_viewed, last_viewed
		FROM page_stats
		ORDER BY view_count DESC
		LIMIT $1;
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.PageStat
	for rows.Next() {
		var p models.PageStat
		if err := rows.Scan(&p.PageURL, &p.PageTitle, &p.ViewCount, &p.FirstViewed, &p.LastViewed); err != nil {
			return nil, fmt.Errorf("failed to scan page stats row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during top pages query: %w", err)
	}
	return results, nil
}

// GetBreweryStats returns engagement counters, most-viewed breweries first.
func (s *StatsStore) GetBreweryStats(ctx context.Context, limit int) ([]models.BreweryStat, error) {
	if limit <= 0 {
		limit = 25
	}
	query := `
		SELECT brewery_id, view_count, save_count, directions_count,
			website_clicks, phone_clicks, share_count,
			first_interaction, last_interaction
		FROM brewery_stats
		ORDER BY view_count DESC
		LIMIT $1;
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query brewery stats: %w", err)
	}
	defer rows.Close()

	var results []models.BreweryStat
	for rows.Next() {
		var b models.BreweryStat
		err := rows.Scan(&b.BreweryID, &b.ViewCount, &b.SaveCount, &b.DirectionsCount,
			&b.WebsiteClicks, &b.PhoneClicks, &b.ShareCount,
			&b.FirstInteraction, &b.LastInteraction)
		if err != nil {
			return nil, fmt.Errorf("failed to scan brewery stats row: %w", err)
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during brewery stats query: %w", err)
	}
	return results, nil
}

// GetRecentConversions returns the newest conversion records.
func (s *StatsStore) GetRecentConversions(ctx context.Context, limit int) ([]models.Conversion, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, conversion_type, user_id, session_id,
			COALESCE(url, ''), COALESCE(referrer, ''), timestamp
		FROM conversions
		ORDER BY timestamp DESC
		LIMIT $1;
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	var results []models.Conversion
	for rows.Next() {
		var c models.Conversion
		if err := rows.Scan(&c.ID, &c.ConversionType, &c.UserID, &c.SessionID, &c.URL, &c.Referrer, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan conversion row: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during conversions query: %w", err)
	}
	return results, nil
}

// GetPerformanceSummary averages the load-timing fields over a time window.
func (s *StatsStore) GetPerformanceSummary(ctx context.Context, start, end time.Time) (*models.PerformanceSummary, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(AVG(ttfb), 0),
			COALESCE(AVG(dom_load), 0),
			COALESCE(AVG(page_load), 0),
			COALESCE(AVG(total_time), 0)
		FROM performance_metrics
		WHERE timestamp >= $1 AND timestamp <= $2;
	`
	summary := &models.PerformanceSummary{}
	err := s.db.QueryRowContext(ctx, query, start, end).Scan(
		&summary.SampleCount, &summary.AvgTTFB, &summary.AvgDOMLoad,
		&summary.AvgPageLoad, &summary.AvgTotalTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance summary: %w", err)
	}
	return summary, nil
}
