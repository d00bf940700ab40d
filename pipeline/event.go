package pipeline

import "encoding/json"

// Event kinds produced by the track call surface.
const (
	KindPageview    = "pageview"
	KindEvent       = "event"
	KindConversion  = "conversion"
	KindPerformance = "performance"
	KindError       = "error"
	KindTiming      = "timing"
	KindSession     = "session"
)

// Event is one observed action plus the common envelope. Track helpers fill
// the classification fields and Data; the envelope is attached once at
// enqueue time and never touched again, including when a failed batch is
// requeued.
type Event struct {
	Kind     string
	Category string
	Action   string
	Label    string
	Value    *float64

	// Data holds kind-specific fields (title, breweryId, metrics, ...)
	// flattened into the wire object next to the envelope.
	Data map[string]interface{}

	// Envelope, attached at enqueue.
	Timestamp       int64
	UserID          string
	SessionID       string
	URL             string
	Referrer        string
	UserAgent       string
	ScreenWidth     int64
	ScreenHeight    int64
	ViewportWidth   int64
	ViewportHeight  int64
	SessionDuration int64
}

// MarshalJSON flattens Data and the envelope into one object, matching the
// shape the ingestion endpoint normalizes.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(e.Data)+16)
	for k, v := range e.Data {
		obj[k] = v
	}

	obj["type"] = e.Kind
	if e.Category != "" {
		obj["category"] = e.Category
	}
	if e.Action != "" {
		obj["action"] = e.Action
	}
	if e.Label != "" {
		obj["label"] = e.Label
	}
	if e.Value != nil {
		obj["value"] = *e.Value
	}

	obj["timestamp"] = e.Timestamp
	obj["userId"] = e.UserID
	obj["sessionId"] = e.SessionID
	obj["url"] = e.URL
	obj["referrer"] = e.Referrer
	obj["userAgent"] = e.UserAgent
	obj["screenWidth"] = e.ScreenWidth
	obj["screenHeight"] = e.ScreenHeight
	obj["viewportWidth"] = e.ViewportWidth
	obj["viewportHeight"] = e.ViewportHeight
	obj["sessionDuration"] = e.SessionDuration

	return json.Marshal(obj)
}

// exemptFromSampling reports whether an event kind must never be dropped by
// the sampling filter.
func exemptFromSampling(kind string) bool {
	return kind == KindConversion || kind == KindError
}

// needsConfirmation reports whether a batch carries events whose delivery
// must be acknowledged. Such batches are never handed to the fire-and-forget
// transport, even during unload.
func needsConfirmation(batch []Event) bool {
	for _, ev := range batch {
		if ev.Kind == KindConversion || ev.Kind == KindError {
			return true
		}
	}
	return false
}
