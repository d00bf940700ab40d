package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kinds accepted by the ingestion endpoint.
const (
	KindPageview    = "pageview"
	KindEvent       = "event"
	KindConversion  = "conversion"
	KindPerformance = "performance"
	KindError       = "error"
	KindTiming      = "timing"
	KindSession     = "session"
)

// IngestRequest is the body of POST /analytics-ingest. Events arrive as raw
// JSON objects because each kind carries its own extra fields; normalization
// happens per event so one malformed entry never rejects the batch.
type IngestRequest struct {
	Events   []json.RawMessage `json:"events"`
	Metadata *BatchMetadata    `json:"metadata,omitempty"`
}

// BatchMetadata repeats client identity and page context alongside a batch.
type BatchMetadata struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserAgent string `json:"userAgent"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
}

// IngestResponse is the 200 body: how many rows were persisted plus one
// message per skipped event.
type IngestResponse struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// AnalyticsEvent is one normalized event row. Envelope and classification
// fields live in structured columns; everything else the client sent is
// preserved in AdditionalData. Raw keeps the original decoded object so
// side-effect handlers can reach kind-specific fields (breweryId, metrics,
// title) without re-parsing.
type AnalyticsEvent struct {
	EventID        string
	EventType      string
	Category       *string
	Action         *string
	Label          *string
	Value          *float64
	UserID         string
	SessionID      string
	URL            *string
	Referrer       *string
	UserAgent      *string
	ScreenWidth    *int64
	ScreenHeight   *int64
	ViewportWidth  *int64
	ViewportHeight *int64
	Timestamp      time.Time
	IPAddress      string
	AdditionalData json.RawMessage

	Raw map[string]interface{} `json:"-"`
}

// envelopeFields are stripped from the raw object before the remainder is
// serialized into additional_data.
var envelopeFields = []string{
	"type", "category", "action", "label", "value",
	"userId", "sessionId", "url", "referrer", "userAgent",
	"screenWidth", "screenHeight", "viewportWidth", "viewportHeight",
	"timestamp",
}

// NormalizeEvent validates and flattens one raw event object into an
// AnalyticsEvent. An error means the event must be skipped and reported in
// the response's errors list, not that the batch failed.
func NormalizeEvent(raw json.RawMessage, ip string) (*AnalyticsEvent, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("event is not a JSON object: %w", err)
	}

	eventType, _ := fields["type"].(string)
	userID, _ := fields["userId"].(string)
	sessionID, _ := fields["sessionId"].(string)
	tsMillis, tsOK := numberField(fields, "timestamp")

	if eventType == "" || userID == "" || sessionID == "" || !tsOK {
		return nil, fmt.Errorf("event missing required fields")
	}

	ev := &AnalyticsEvent{
		EventType:      eventType,
		Category:       stringField(fields, "category"),
		Action:         stringField(fields, "action"),
		Label:          stringField(fields, "label"),
		UserID:         userID,
		SessionID:      sessionID,
		URL:            stringField(fields, "url"),
		Referrer:       stringField(fields, "referrer"),
		UserAgent:      stringField(fields, "userAgent"),
		ScreenWidth:    intField(fields, "screenWidth"),
		ScreenHeight:   intField(fields, "screenHeight"),
		ViewportWidth:  intField(fields, "viewportWidth"),
		ViewportHeight: intField(fields, "viewportHeight"),
		Timestamp:      time.UnixMilli(int64(tsMillis)).UTC(),
		IPAddress:      ip,
		Raw:            fields,
	}

	if v, ok := numberField(fields, "value"); ok {
		ev.Value = &v
	}

	// Conversions classify themselves through conversionType rather than
	// category/action.
	if eventType == KindConversion {
		if ct, ok := fields["conversionType"].(string); ok && ct != "" {
			action := "conversion"
			ev.Category = &ct
			ev.Action = &action
		}
	}

	extra := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		extra[k] = v
	}
	for _, k := range envelopeFields {
		delete(extra, k)
	}
	additional, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize additional data: %w", err)
	}
	ev.AdditionalData = additional

	return ev, nil
}

// RawString returns a string-valued field from the original event object.
func (e *AnalyticsEvent) RawString(key string) string {
	s, _ := e.Raw[key].(string)
	return s
}

// RawNumber returns a numeric field from the original event object.
func (e *AnalyticsEvent) RawNumber(key string) (float64, bool) {
	return numberField(e.Raw, key)
}

func stringField(fields map[string]interface{}, key string) *string {
	if s, ok := fields[key].(string); ok && s != "" {
		return &s
	}
	return nil
}

func intField(fields map[string]interface{}, key string) *int64 {
	if n, ok := numberField(fields, key); ok {
		v := int64(n)
		return &v
	}
	return nil
}

func numberField(fields map[string]interface{}, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
