package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohiobeerpath/api/models"
)

// fakeStatsWriter records every write and can fail selected calls.
type fakeStatsWriter struct {
	pageViews   []string
	pageTitles  []string
	counters    [][2]string
	conversions []*models.Conversion
	metrics     []*models.PerformanceMetric
	failWith    error
}

func (f *fakeStatsWriter) UpsertPageView(ctx context.Context, pageURL, title string) error {
	f.pageViews = append(f.pageViews, pageURL)
	f.pageTitles = append(f.pageTitles, title)
	return f.failWith
}

func (f *fakeStatsWriter) IncrementBreweryCounter(ctx context.Context, breweryID, action string) error {
	f.counters = append(f.counters, [2]string{breweryID, action})
	return f.failWith
}

func (f *fakeStatsWriter) InsertConversion(ctx context.Context, c *models.Conversion) error {
	f.conversions = append(f.conversions, c)
	return f.failWith
}

func (f *fakeStatsWriter) InsertPerformance(ctx context.Context, m *models.PerformanceMetric, userAgent string, additionalData []byte) error {
	f.metrics = append(f.metrics, m)
	return f.failWith
}

func normalized(t *testing.T, body string) *models.AnalyticsEvent {
	t.Helper()
	ev, err := models.NormalizeEvent(json.RawMessage(body), "198.51.100.1")
	require.NoError(t, err)
	return ev
}

func TestDispatchRoutesPageviewToPageStats(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{
		"type": "pageview",
		"userId": "u1",
		"sessionId": "s1",
		"url": "https://ohiobeerpath.com/breweries?region=central",
		"title": "Breweries",
		"timestamp": 1700000000000
	}`)
	d.Dispatch(context.Background(), ev)

	require.Len(t, stats.pageViews, 1)
	assert.Equal(t, "/breweries", stats.pageViews[0], "query string is stripped before aggregation")
	assert.Equal(t, "Breweries", stats.pageTitles[0])
}

func TestDispatchPageviewWithoutURLIsNoop(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{"type":"pageview","userId":"u1","sessionId":"s1","timestamp":1700000000000}`)
	d.Dispatch(context.Background(), ev)

	assert.Empty(t, stats.pageViews)
}

func TestDispatchBreweryEventIncrementsCounter(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{
		"type": "event",
		"category": "brewery",
		"action": "directions",
		"userId": "u1",
		"sessionId": "s1",
		"breweryId": "42",
		"timestamp": 1700000000000
	}`)
	d.Dispatch(context.Background(), ev)

	require.Len(t, stats.counters, 1)
	assert.Equal(t, [2]string{"42", "directions"}, stats.counters[0])
}

func TestDispatchBreweryEventNumericID(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{
		"type": "event",
		"category": "brewery",
		"action": "view",
		"userId": "u1",
		"sessionId": "s1",
		"breweryId": 42,
		"timestamp": 1700000000000
	}`)
	d.Dispatch(context.Background(), ev)

	require.Len(t, stats.counters, 1)
	assert.Equal(t, "42", stats.counters[0][0])
}

func TestDispatchNonBreweryEventIsNoop(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{
		"type": "event",
		"category": "search",
		"action": "query",
		"userId": "u1",
		"sessionId": "s1",
		"timestamp": 1700000000000
	}`)
	d.Dispatch(context.Background(), ev)

	assert.Empty(t, stats.counters)
}

func TestDispatchConversion(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{
		"type": "conversion",
		"conversionType": "itinerary_created",
		"userId": "u1",
		"sessionId": "s1",
		"url": "/itinerary/new",
		"referrer": "/breweries",
		"timestamp": 1700000000000,
		"stops": 4
	}`)
	d.Dispatch(context.Background(), ev)

	require.Len(t, stats.conversions, 1)
	c := stats.conversions[0]
	assert.Equal(t, "itinerary_created", c.ConversionType)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "/itinerary/new", c.URL)
	assert.Equal(t, "/breweries", c.Referrer)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), c.Timestamp)

	var extra map[string]interface{}
	require.NoError(t, json.Unmarshal(c.AdditionalData, &extra))
	assert.Equal(t, float64(4), extra["stops"])
}

func TestDispatchConversionWithoutTypeFallsBack(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{"type":"conversion","userId":"u1","sessionId":"s1","timestamp":1700000000000}`)
	d.Dispatch(context.Background(), ev)

	require.Len(t, stats.conversions, 1)
	assert.Equal(t, "unknown", stats.conversions[0].ConversionType)
}

func TestDispatchPerformance(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{
		"type": "performance",
		"userId": "u1",
		"sessionId": "s1",
		"page": "/brewery/42",
		"metrics": {"dnsTime": 10, "connectTime": 20, "ttfb": 80, "domLoad": 200, "pageLoad": 350, "totalTime": 350},
		"resources": {"count": 12, "totalSize": 48000},
		"timestamp": 1700000000000
	}`)
	d.Dispatch(context.Background(), ev)

	require.Len(t, stats.metrics, 1)
	m := stats.metrics[0]
	assert.Equal(t, "/brewery/42", m.PageURL)
	assert.Equal(t, float64(80), m.TTFB)
	assert.Equal(t, float64(350), m.PageLoad)
	assert.Equal(t, int64(12), m.ResourceCount)
	assert.Equal(t, int64(48000), m.ResourceSize)
}

func TestDispatchPerformanceWithoutMetricsIsNoop(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	ev := normalized(t, `{"type":"performance","userId":"u1","sessionId":"s1","timestamp":1700000000000}`)
	d.Dispatch(context.Background(), ev)

	assert.Empty(t, stats.metrics)
}

func TestDispatchUnroutedKindIsNoop(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	for _, kind := range []string{models.KindTiming, models.KindSession, models.KindError} {
		ev := normalized(t, `{"type":"`+kind+`","userId":"u1","sessionId":"s1","timestamp":1700000000000}`)
		d.Dispatch(context.Background(), ev)
	}

	assert.Empty(t, stats.pageViews)
	assert.Empty(t, stats.counters)
	assert.Empty(t, stats.conversions)
	assert.Empty(t, stats.metrics)
}

func TestDispatchSwallowsHandlerErrors(t *testing.T) {
	stats := &fakeStatsWriter{failWith: errors.New("deadlock detected")}
	d := New(stats)

	ev := normalized(t, `{"type":"pageview","userId":"u1","sessionId":"s1","url":"/","timestamp":1700000000000}`)
	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), ev)
	})
	assert.Len(t, stats.pageViews, 1, "handler ran even though it failed")
}

func TestRegisterReplacesHandler(t *testing.T) {
	stats := &fakeStatsWriter{}
	d := New(stats)

	called := false
	d.Register(models.KindPageview, func(ctx context.Context, ev *models.AnalyticsEvent) error {
		called = true
		return nil
	})

	ev := normalized(t, `{"type":"pageview","userId":"u1","sessionId":"s1","url":"/","timestamp":1700000000000}`)
	d.Dispatch(context.Background(), ev)

	assert.True(t, called)
	assert.Empty(t, stats.pageViews, "replaced handler must not run")
}
