// Package dispatch routes persisted events to their aggregation side effects.
// Dispatch runs after the primary event transaction commits; a handler
// failure is logged and swallowed so it can never roll back persisted events
// or starve sibling handlers.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"

	"ohiobeerpath/api/models"
)

// StatsWriter is the slice of the stats store the handlers need.
type StatsWriter interface {
	UpsertPageView(ctx context.Context, pageURL, title string) error
	IncrementBreweryCounter(ctx context.Context, breweryID, action string) error
	InsertConversion(ctx context.Context, c *models.Conversion) error
	InsertPerformance(ctx context.Context, m *models.PerformanceMetric, userAgent string, additionalData []byte) error
}

// HandlerFunc maintains one derived aggregate for one event kind.
type HandlerFunc func(ctx context.Context, ev *models.AnalyticsEvent) error

// Dispatcher holds the closed routing table from event kind to handler.
// Kinds without an entry (timing, session, error) have no side effect and
// dispatch is a no-op for them.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// New builds a Dispatcher with the standard routing table wired to the given
// stats writer.
func New(stats StatsWriter) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]HandlerFunc)}
	d.Register(models.KindPageview, updatePageStats(stats))
	d.Register(models.KindEvent, updateBreweryStats(stats))
	d.Register(models.KindConversion, trackConversion(stats))
	d.Register(models.KindPerformance, storePerformanceData(stats))
	return d
}

// Register binds a handler to an event kind, replacing any existing binding.
func (d *Dispatcher) Register(kind string, h HandlerFunc) {
	d.handlers[kind] = h
}

// Dispatch runs the side effect for one persisted event. Handler errors are
// logged and absorbed here: they must not reach the caller or the response's
// errors list.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.AnalyticsEvent) {
	h, ok := d.handlers[ev.EventType]
	if !ok {
		return
	}
	if err := h(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("event_id", ev.EventID).
			Str("event_type", ev.EventType).
			Msg("side-effect handler failed")
	}
}

// updatePageStats counts a pageview against the normalized page URL.
func updatePageStats(stats StatsWriter) HandlerFunc {
	return func(ctx context.Context, ev *models.AnalyticsEvent) error {
		var rawURL string
		if ev.URL != nil {
			rawURL = *ev.URL
		}
		pageURL := models.NormalizePageURL(rawURL)
		if pageURL == "" {
			return nil
		}
		return stats.UpsertPageView(ctx, pageURL, ev.RawString("title"))
	}
}

// updateBreweryStats increments an engagement counter for generic events in
// the brewery category. Other categories carry no aggregate.
func updateBreweryStats(stats StatsWriter) HandlerFunc {
	return func(ctx context.Context, ev *models.AnalyticsEvent) error {
		if ev.Category == nil || *ev.Category != "brewery" || ev.Action == nil {
			return nil
		}
		breweryID := ev.RawString("breweryId")
		if breweryID == "" {
			// breweryId may arrive numeric depending on the call site.
			if n, ok := ev.RawNumber("breweryId"); ok {
				breweryID = formatBreweryID(n)
			}
		}
		if breweryID == "" {
			return nil
		}
		return stats.IncrementBreweryCounter(ctx, breweryID, *ev.Action)
	}
}

// trackConversion appends a conversion record.
func trackConversion(stats StatsWriter) HandlerFunc {
	return func(ctx context.Context, ev *models.AnalyticsEvent) error {
		conversionType := ev.RawString("conversionType")
		if conversionType == "" {
			conversionType = "unknown"
		}
		c := &models.Conversion{
			ConversionType: conversionType,
			UserID:         ev.UserID,
			SessionID:      ev.SessionID,
			Timestamp:      ev.Timestamp,
			AdditionalData: ev.AdditionalData,
		}
		if ev.URL != nil {
			c.URL = *ev.URL
		}
		if ev.Referrer != nil {
			c.Referrer = *ev.Referrer
		}
		return stats.InsertConversion(ctx, c)
	}
}

// storePerformanceData appends a page-load timing record. Events without a
// metrics object are ignored.
func storePerformanceData(stats StatsWriter) HandlerFunc {
	return func(ctx context.Context, ev *models.AnalyticsEvent) error {
		metrics, ok := ev.Raw["metrics"].(map[string]interface{})
		if !ok {
			return nil
		}

		m := &models.PerformanceMetric{
			PageURL:   ev.RawString("page"),
			UserID:    ev.UserID,
			SessionID: ev.SessionID,
			Timestamp: ev.Timestamp,
		}
		m.DNSTime = metricValue(metrics, "dnsTime")
		m.ConnectTime = metricValue(metrics, "connectTime")
		m.TTFB = metricValue(metrics, "ttfb")
		m.DOMLoad = metricValue(metrics, "domLoad")
		m.PageLoad = metricValue(metrics, "pageLoad")
		m.TotalTime = metricValue(metrics, "totalTime")

		additionalData := []byte("{}")
		if resources, ok := ev.Raw["resources"].(map[string]interface{}); ok {
			if count, ok := resources["count"].(float64); ok {
				m.ResourceCount = int64(count)
			}
			if size, ok := resources["totalSize"].(float64); ok {
				m.ResourceSize = int64(size)
			}
			if encoded, err := json.Marshal(resources); err == nil {
				additionalData = encoded
			}
		}

		var userAgent string
		if ev.UserAgent != nil {
			userAgent = *ev.UserAgent
		}
		return stats.InsertPerformance(ctx, m, userAgent, additionalData)
	}
}

func metricValue(metrics map[string]interface{}, key string) float64 {
	v, _ := metrics[key].(float64)
	return v
}

// formatBreweryID renders numeric brewery IDs without a trailing ".0".
func formatBreweryID(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
