package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, agent *fakeAgent) (*Pipeline, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	p := New(cfg, Environment{
		UserAgent:     "test-agent/1.0",
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		ViewportWidth: 1200,
		InitialPage:   "/",
	}, Collaborators{Clock: clock.Now})
	// Swap in the recording agent behind the buffer.
	p.buffer.agent = agent
	return p, clock
}

func drain(t *testing.T, p *Pipeline) []Event {
	t.Helper()
	p.buffer.Flush(false)
	require.True(t, p.buffer.WaitIdle(time.Second))
	agent := p.buffer.agent.(*fakeAgent)
	var all []Event
	for _, batch := range agent.delivered() {
		all = append(all, batch...)
	}
	return all
}

func TestTrackPageViewStampsEnvelope(t *testing.T) {
	agent := &fakeAgent{}
	p, clock := newTestPipeline(t, agent)

	p.TrackPageView("/breweries?region=central", map[string]interface{}{"title": "Breweries"})

	events := drain(t, p)
	require.Len(t, events, 1)
	ev := events[0]
	userID, sessionID := p.session.Identity()

	assert.Equal(t, KindPageview, ev.Kind)
	assert.Equal(t, userID, ev.UserID)
	assert.Equal(t, sessionID, ev.SessionID)
	assert.Equal(t, "/breweries?region=central", ev.URL)
	assert.Equal(t, "test-agent/1.0", ev.UserAgent)
	assert.Equal(t, int64(1920), ev.ScreenWidth)
	assert.Equal(t, clock.Now().UnixMilli(), ev.Timestamp)
	assert.Equal(t, "Breweries", ev.Data["title"])
}

func TestTrackPageViewEmitsDwellTiming(t *testing.T) {
	agent := &fakeAgent{}
	p, clock := newTestPipeline(t, agent)

	p.TrackPageView("/", nil)
	clock.Advance(90 * time.Second)
	p.TrackPageView("/breweries", nil)

	events := drain(t, p)
	var timing *Event
	for i := range events {
		if events[i].Kind == KindTiming {
			timing = &events[i]
		}
	}
	require.NotNil(t, timing, "leaving a page should emit a timing event")
	assert.Equal(t, "page", timing.Category)
	assert.Equal(t, "/", timing.Label)
	require.NotNil(t, timing.Value)
	assert.Equal(t, float64(90), *timing.Value)
}

func TestWatchdogRotationRefiresPageview(t *testing.T) {
	agent := &fakeAgent{}
	p, clock := newTestPipeline(t, agent)

	p.TrackPageView("/brewery/42", nil)
	_, sessionBefore := p.session.Identity()
	drain(t, p)

	clock.Advance(31 * time.Minute)
	p.checkSessionTimeout()

	_, sessionAfter := p.session.Identity()
	require.NotEqual(t, sessionBefore, sessionAfter)

	events := drain(t, p)
	var sessionStart, pageview *Event
	for i := range events {
		switch events[i].Kind {
		case KindSession:
			sessionStart = &events[i]
		case KindPageview:
			pageview = &events[i]
		}
	}
	require.NotNil(t, sessionStart)
	assert.Equal(t, "start", sessionStart.Action)
	assert.Equal(t, "timeout", sessionStart.Data["previous"])
	require.NotNil(t, pageview, "the current page is re-fired under the new session")
	assert.Equal(t, "/brewery/42", pageview.URL)
	assert.Equal(t, sessionAfter, pageview.SessionID)
}

func TestWatchdogNoRotationWhileActive(t *testing.T) {
	agent := &fakeAgent{}
	p, clock := newTestPipeline(t, agent)
	_, before := p.session.Identity()

	clock.Advance(10 * time.Minute)
	p.Touch()
	clock.Advance(10 * time.Minute)
	p.checkSessionTimeout()

	_, after := p.session.Identity()
	assert.Equal(t, before, after)
}

func TestTrackConversionIsHighPriority(t *testing.T) {
	agent := &fakeAgent{}
	p, _ := newTestPipeline(t, agent)

	p.TrackEvent("link", "click", "footer", nil, nil)
	p.TrackConversion("newsletter", nil)

	events := drain(t, p)
	require.Len(t, events, 2)
	assert.Equal(t, KindConversion, events[0].Kind)
	assert.Equal(t, "newsletter", events[0].Data["conversionType"])
	assert.Equal(t, KindEvent, events[1].Kind)
}

func TestTrackBreweryCarriesBreweryID(t *testing.T) {
	agent := &fakeAgent{}
	p, _ := newTestPipeline(t, agent)

	p.TrackBrewery("42", "directions", nil)
	p.TrackBrewery("", "view", nil)

	events := drain(t, p)
	require.Len(t, events, 1, "empty brewery id is ignored")
	assert.Equal(t, "brewery", events[0].Category)
	assert.Equal(t, "directions", events[0].Action)
	assert.Equal(t, "42", events[0].Data["breweryId"])
}

func TestCloseFlushesWithBeaconPreference(t *testing.T) {
	agent := &fakeAgent{}
	p, clock := newTestPipeline(t, agent)

	p.TrackPageView("/breweries", nil)
	clock.Advance(45 * time.Second)
	p.Close()

	require.True(t, p.buffer.WaitIdle(time.Second))
	batches := agent.delivered()
	require.NotEmpty(t, batches)
	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.True(t, agent.beacons[len(agent.beacons)-1], "unload flush prefers fire-and-forget")

	var sawDwell bool
	for _, batch := range batches {
		for _, ev := range batch {
			if ev.Kind == KindTiming {
				sawDwell = true
			}
		}
	}
	assert.True(t, sawDwell, "unload records dwell time before flushing")
}

func TestSanitizeDataRedactsAndTruncates(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}

	out := sanitizeData(map[string]interface{}{
		"email":      "someone@example.com",
		"password":   "hunter2",
		"cardNumber": "4111111111111111",
		"comment":    string(long),
		"nested":     map[string]interface{}{"apiToken": "abc"},
		"rating":     5,
		"ssn_field":  "123-45-6789",
	})

	assert.Equal(t, "someone@example.com", out["email"])
	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "[REDACTED]", out["cardNumber"])
	assert.Equal(t, "[REDACTED]", out["ssn_field"])
	assert.Equal(t, 5, out["rating"])
	assert.Len(t, out["comment"].(string), 100)
	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", nested["apiToken"])
}

func TestPerformanceCaptureRetriesUntilReady(t *testing.T) {
	agent := &fakeAgent{}
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.BatchSize = 50
	cfg.PerformanceRetryDelay = 5 * time.Millisecond

	source := &stubPerfSource{readyAfter: 2}
	p := New(cfg, Environment{InitialPage: "/"}, Collaborators{
		Clock:       clock.Now,
		Performance: source,
	})
	p.buffer.agent = agent

	p.capturePerformance()
	require.Eventually(t, func() bool {
		p.buffer.mu.Lock()
		defer p.buffer.mu.Unlock()
		for _, e := range p.buffer.queue {
			if e.ev.Kind == KindPerformance {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	events := drain(t, p)
	var perf *Event
	for i := range events {
		if events[i].Kind == KindPerformance {
			perf = &events[i]
		}
	}
	require.NotNil(t, perf)
	metrics := perf.Data["metrics"].(PerformanceTiming)
	assert.Equal(t, int64(350), metrics.PageLoad)
}

// stubPerfSource reports not-ready for the first readyAfter polls.
type stubPerfSource struct {
	polls      int
	readyAfter int
}

func (s *stubPerfSource) LoadTiming() (PerformanceTiming, bool) {
	s.polls++
	if s.polls <= s.readyAfter {
		return PerformanceTiming{}, false
	}
	return PerformanceTiming{DNSTime: 10, ConnectTime: 20, TTFB: 80, DOMLoad: 200, PageLoad: 350, TotalTime: 350}, true
}

func (s *stubPerfSource) Resources() (ResourceSummary, bool) {
	return ResourceSummary{Count: 12, TotalSize: 48000}, true
}
