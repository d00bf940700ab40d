package pipeline

import "time"

// Config controls batching, sampling and session behavior for one pipeline
// instance. Multiple independent pipelines can coexist; nothing here is
// global.
type Config struct {
	// Endpoint receives batched events as POST {events, metadata}.
	Endpoint string

	// SessionTimeout is the idle period after which the session rotates.
	SessionTimeout time.Duration

	// WatchdogInterval is how often idle time is checked. Timeout detection
	// latency is bounded by this interval, not instantaneous.
	WatchdogInterval time.Duration

	// BatchSize is the maximum number of events per flush.
	BatchSize int

	// FlushInterval triggers a periodic flush regardless of queue size.
	FlushInterval time.Duration

	// SamplingRate keeps this percentage of events (0-100). Conversion and
	// error events are exempt and always kept.
	SamplingRate int

	// MaxQueueSize bounds the pending queue. On overflow the oldest
	// low-priority event is evicted, so conversions and errors survive a
	// sustained outage longest.
	MaxQueueSize int

	// RequestTimeout bounds the confirmable transport so a slow server
	// cannot pile up in-flight batches forever.
	RequestTimeout time.Duration

	// PerformanceRetryDelay is how long to wait before re-polling a
	// performance source whose load timing is not yet available.
	PerformanceRetryDelay time.Duration

	TrackPageTime    bool
	TrackPerformance bool
}

// DefaultConfig mirrors the tracking defaults used on the site.
func DefaultConfig() Config {
	return Config{
		Endpoint:              "/analytics-ingest",
		SessionTimeout:        30 * time.Minute,
		WatchdogInterval:      time.Minute,
		BatchSize:             10,
		FlushInterval:         10 * time.Second,
		SamplingRate:          100,
		MaxQueueSize:          500,
		RequestTimeout:        10 * time.Second,
		PerformanceRetryDelay: time.Second,
		TrackPageTime:         true,
		TrackPerformance:      true,
	}
}

// Environment describes the host the pipeline runs in: the user agent and
// device geometry stamped onto every event's envelope, plus the initial page
// context.
type Environment struct {
	UserAgent      string
	ScreenWidth    int64
	ScreenHeight   int64
	ViewportWidth  int64
	ViewportHeight int64
	InitialPage    string
	Referrer       string
}
