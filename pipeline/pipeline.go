// Package pipeline is the client half of the analytics system: an event
// buffer that batches, prioritizes and samples behavioral events, a session
// tracker owning visitor identity, and a delivery agent that transmits
// batches and requeues them on failure. All host facilities (durable
// storage, transports, load timing, the clock) are injected, so independent
// pipelines can run side by side and tests can drive one deterministically.
package pipeline

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Collaborators are the host facilities a pipeline runs against. Storage and
// Transport are required (Transport defaults to an HTTPTransport aimed at
// Config.Endpoint); the rest are optional.
type Collaborators struct {
	Storage     Storage
	Transport   Transport
	Beacon      BeaconTransport
	Performance PerformanceSource
	Clock       func() time.Time
	Rand        func() float64
}

// Pipeline composes the session tracker, event buffer and delivery agent and
// exposes the track call surface.
type Pipeline struct {
	cfg     Config
	env     Environment
	session *SessionTracker
	buffer  *EventBuffer
	agent   *DeliveryAgent
	clock   func() time.Time
	perf    PerformanceSource

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a pipeline. Start must be called to run the flush and watchdog
// timers; the track methods work either way.
func New(cfg Config, env Environment, collab Collaborators) *Pipeline {
	if collab.Clock == nil {
		collab.Clock = time.Now
	}
	if collab.Rand == nil {
		collab.Rand = rand.Float64
	}
	if collab.Storage == nil {
		collab.Storage = NewMemoryStorage()
	}
	if collab.Transport == nil {
		collab.Transport = NewHTTPTransport(cfg.Endpoint, cfg.RequestTimeout)
	}

	p := &Pipeline{
		cfg:   cfg,
		env:   env,
		clock: collab.Clock,
		perf:  collab.Performance,
		done:  make(chan struct{}),
	}

	p.session = NewSessionTracker(collab.Storage, env, collab.Clock)
	p.agent = NewDeliveryAgent(collab.Transport, collab.Beacon, cfg.RequestTimeout, p.batchMetadata)
	p.buffer = NewEventBuffer(cfg, p.agent, p.stampEnvelope, collab.Rand)
	return p
}

// Start runs the periodic flush and the session-timeout watchdog, tracks the
// initial pageview, and kicks off performance capture.
func (p *Pipeline) Start() {
	p.TrackPageView("", nil)
	if p.cfg.TrackPerformance {
		p.capturePerformance()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		flush := time.NewTicker(p.cfg.FlushInterval)
		watchdog := time.NewTicker(p.cfg.WatchdogInterval)
		defer flush.Stop()
		defer watchdog.Stop()

		for {
			select {
			case <-flush.C:
				p.buffer.Flush(false)
			case <-watchdog.C:
				p.checkSessionTimeout()
			case <-p.done:
				return
			}
		}
	}()
}

// Close is the unload path: it records dwell time on the current page,
// force-flushes through the fire-and-forget transport, stops the timers, and
// waits briefly for in-flight deliveries.
func (p *Pipeline) Close() {
	p.stopOnce.Do(func() {
		if p.cfg.TrackPageTime {
			p.trackDwellTime(p.session.CurrentPage())
		}
		flushes := (p.buffer.Len() + p.cfg.BatchSize - 1) / p.cfg.BatchSize
		for i := 0; i < flushes; i++ {
			p.buffer.Flush(true)
		}
		close(p.done)
		p.wg.Wait()
		p.buffer.WaitIdle(p.cfg.RequestTimeout)
	})
}

// Flush forces an immediate confirmable flush of pending events.
func (p *Pipeline) Flush() {
	p.buffer.Flush(false)
}

// Touch records visitor activity from the host's input listeners.
func (p *Pipeline) Touch() {
	p.session.Touch()
}

// TrackPageView records a navigation to url (empty means the current page).
// Dwell time on the page being left is recorded first.
func (p *Pipeline) TrackPageView(url string, data map[string]interface{}) {
	if p.cfg.TrackPageTime && p.session.PreviousPage() != "" {
		p.trackDwellTime(p.session.CurrentPage())
	}

	p.session.RecordPageView(url)

	ev := Event{
		Kind: KindPageview,
		Data: cloneData(data),
	}
	ev.Data["pageViewCount"] = p.session.PageViewCount()
	// A pageview's referrer is the page navigated from when the document
	// referrer is empty.
	if p.session.Referrer() == "" {
		ev.Referrer = p.session.PreviousPage()
	}
	p.buffer.Enqueue(ev, false)

	if p.cfg.TrackPerformance {
		p.capturePerformance()
	}
}

// TrackEvent records a categorized user action.
func (p *Pipeline) TrackEvent(category, action, label string, value *float64, data map[string]interface{}) {
	p.session.Touch()
	ev := Event{
		Kind:     KindEvent,
		Category: category,
		Action:   action,
		Label:    label,
		Value:    value,
		Data:     cloneData(data),
	}
	ev.Data["page"] = p.session.CurrentPage()
	p.buffer.Enqueue(ev, false)
}

// TrackBrewery records brewery engagement (view, save, directions, website,
// phone, share).
func (p *Pipeline) TrackBrewery(breweryID, action string, data map[string]interface{}) {
	if breweryID == "" {
		return
	}
	d := cloneData(data)
	d["breweryId"] = breweryID
	p.TrackEvent("brewery", action, breweryID, nil, d)
}

// TrackItinerary records itinerary actions (create, save, share, ...).
func (p *Pipeline) TrackItinerary(action string, data map[string]interface{}) {
	p.TrackEvent("itinerary", action, "", nil, data)
}

// TrackSearch records a search query and its result count.
func (p *Pipeline) TrackSearch(query string, resultCount int, filters map[string]interface{}) {
	if query == "" {
		return
	}
	value := float64(resultCount)
	p.TrackEvent("search", "query", query, &value, map[string]interface{}{
		"query":       query,
		"resultCount": resultCount,
		"filters":     filters,
	})
}

// TrackConversion records a completed goal. Conversions are high priority:
// they enter at the queue head and are exempt from sampling.
func (p *Pipeline) TrackConversion(conversionType string, data map[string]interface{}) {
	d := cloneData(data)
	d["conversionType"] = conversionType
	d["page"] = p.session.CurrentPage()
	p.buffer.Enqueue(Event{Kind: KindConversion, Data: d}, true)
}

// TrackForm records a form submission with sensitive fields redacted and
// long values truncated.
func (p *Pipeline) TrackForm(formID string, fields map[string]interface{}) {
	p.TrackEvent("form", "submit", formID, nil, map[string]interface{}{
		"formId":   formID,
		"formData": sanitizeData(fields),
	})
}

// TrackFeedback records a user rating with an optional comment.
func (p *Pipeline) TrackFeedback(rating int, comment, category string) {
	if category == "" {
		category = "general"
	}
	value := float64(rating)
	p.TrackEvent("feedback", category, comment, &value, map[string]interface{}{
		"rating":   rating,
		"comment":  comment,
		"category": category,
	})
}

// TrackError records a runtime error. Errors are high priority and exempt
// from sampling.
func (p *Pipeline) TrackError(message, source string, line, col int, stack string) {
	p.buffer.Enqueue(Event{
		Kind: KindError,
		Data: map[string]interface{}{
			"message": message,
			"source":  source,
			"lineno":  line,
			"colno":   col,
			"stack":   stack,
			"page":    p.session.CurrentPage(),
		},
	}, true)
}

// checkSessionTimeout is the watchdog tick: on rotation it records the new
// session start (reason timeout) and re-fires the current page as a fresh
// pageview under the new identity.
func (p *Pipeline) checkSessionTimeout() {
	if !p.session.CheckTimeout(p.cfg.SessionTimeout) {
		return
	}
	p.buffer.Enqueue(Event{
		Kind:   KindSession,
		Action: "start",
		Data:   map[string]interface{}{"previous": "timeout"},
	}, false)
	p.TrackPageView("", nil)
}

// trackDwellTime synthesizes a timing event for time spent on page.
// Implausible dwell (negative, or longer than a whole session) is discarded.
func (p *Pipeline) trackDwellTime(page string) {
	if page == "" {
		return
	}
	dwell := p.session.IdleTime()
	if dwell <= 0 || dwell >= p.cfg.SessionTimeout {
		return
	}
	seconds := float64(int64(dwell.Seconds()))
	p.buffer.Enqueue(Event{
		Kind:     KindTiming,
		Category: "page",
		Action:   "time",
		Label:    page,
		Value:    &seconds,
		Data:     map[string]interface{}{"page": page},
	}, false)
}

// capturePerformance polls the performance source. If load timing is not
// ready yet, it re-polls after PerformanceRetryDelay until the pipeline
// closes.
func (p *Pipeline) capturePerformance() {
	if p.perf == nil {
		return
	}

	timing, ok := p.perf.LoadTiming()
	if !ok {
		time.AfterFunc(p.cfg.PerformanceRetryDelay, func() {
			select {
			case <-p.done:
			default:
				p.capturePerformance()
			}
		})
		return
	}

	data := map[string]interface{}{
		"page":    p.session.CurrentPage(),
		"metrics": timing,
	}
	if resources, ok := p.perf.Resources(); ok {
		data["resources"] = resources
	}
	p.buffer.Enqueue(Event{Kind: KindPerformance, Data: data}, false)
}

// stampEnvelope attaches the common envelope once, at enqueue time.
func (p *Pipeline) stampEnvelope(ev *Event) {
	userID, sessionID := p.session.Identity()
	now := p.clock()

	ev.Timestamp = now.UnixMilli()
	ev.UserID = userID
	ev.SessionID = sessionID
	if ev.URL == "" {
		ev.URL = p.session.CurrentPage()
	}
	if ev.Referrer == "" {
		ev.Referrer = p.session.Referrer()
	}
	ev.UserAgent = p.env.UserAgent
	ev.ScreenWidth = p.env.ScreenWidth
	ev.ScreenHeight = p.env.ScreenHeight
	ev.ViewportWidth = p.env.ViewportWidth
	ev.ViewportHeight = p.env.ViewportHeight
	ev.SessionDuration = p.session.SessionDuration().Milliseconds()
}

// batchMetadata snapshots identity and page context for a transmission.
func (p *Pipeline) batchMetadata() batchMetadata {
	userID, sessionID := p.session.Identity()
	return batchMetadata{
		Timestamp: p.clock().UnixMilli(),
		SessionID: sessionID,
		UserID:    userID,
		UserAgent: p.env.UserAgent,
		URL:       p.session.CurrentPage(),
		Referrer:  p.session.Referrer(),
	}
}

var sensitiveFields = []string{"password", "token", "secret", "credit", "card", "cvv", "ssn", "social"}

// sanitizeData redacts sensitive keys and truncates long string values,
// recursing into nested maps.
func sanitizeData(data map[string]interface{}) map[string]interface{} {
	sanitized := make(map[string]interface{}, len(data))
	for key, value := range data {
		lower := strings.ToLower(key)
		redact := false
		for _, field := range sensitiveFields {
			if strings.Contains(lower, field) {
				redact = true
				break
			}
		}
		if redact {
			sanitized[key] = "[REDACTED]"
			continue
		}

		switch v := value.(type) {
		case string:
			if len(v) > 100 {
				sanitized[key] = v[:97] + "..."
			} else {
				sanitized[key] = v
			}
		case map[string]interface{}:
			sanitized[key] = sanitizeData(v)
		default:
			sanitized[key] = v
		}
	}
	return sanitized
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		cloned[k] = v
	}
	return cloned
}
