package models

import (
	"net/url"
	"time"
)

// NormalizePageURL strips the query string so all variants of a page count
// toward the same aggregate row.
func NormalizePageURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path != "" {
		return u.Path
	}
	return raw
}

// PageStat is the per-URL pageview aggregate. The URL is normalized (query
// string stripped) before it becomes the aggregate key.
type PageStat struct {
	PageURL     string    `json:"pageUrl"`
	PageTitle   string    `json:"pageTitle"`
	ViewCount   int64     `json:"viewCount"`
	FirstViewed time.Time `json:"firstViewed"`
	LastViewed  time.Time `json:"lastViewed"`
}

// BreweryStat holds the six engagement counters for one brewery.
type BreweryStat struct {
	BreweryID        string    `json:"breweryId"`
	ViewCount        int64     `json:"viewCount"`
	SaveCount        int64     `json:"saveCount"`
	DirectionsCount  int64     `json:"directionsCount"`
	WebsiteClicks    int64     `json:"websiteClicks"`
	PhoneClicks      int64     `json:"phoneClicks"`
	ShareCount       int64     `json:"shareCount"`
	FirstInteraction time.Time `json:"firstInteraction"`
	LastInteraction  time.Time `json:"lastInteraction"`
}

// Conversion is an append-only goal-completion record.
type Conversion struct {
	ID             int64     `json:"id"`
	ConversionType string    `json:"conversionType"`
	UserID         string    `json:"userId"`
	SessionID      string    `json:"sessionId"`
	URL            string    `json:"url"`
	Referrer       string    `json:"referrer"`
	Timestamp      time.Time `json:"timestamp"`
	AdditionalData []byte    `json:"-"`
}

// PerformanceMetric is an append-only page-load timing record.
type PerformanceMetric struct {
	PageURL       string    `json:"pageUrl"`
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	DNSTime       float64   `json:"dnsTime"`
	ConnectTime   float64   `json:"connectTime"`
	TTFB          float64   `json:"ttfb"`
	DOMLoad       float64   `json:"domLoad"`
	PageLoad      float64   `json:"pageLoad"`
	TotalTime     float64   `json:"totalTime"`
	ResourceCount int64     `json:"resourceCount"`
	ResourceSize  int64     `json:"resourceSize"`
	Timestamp     time.Time `json:"timestamp"`
}

// PerformanceSummary is the admin-facing rollup of performance_metrics.
type PerformanceSummary struct {
	SampleCount  int64   `json:"sampleCount"`
	AvgTTFB      float64 `json:"avgTtfb"`
	AvgDOMLoad   float64 `json:"avgDomLoad"`
	AvgPageLoad  float64 `json:"avgPageLoad"`
	AvgTotalTime float64 `json:"avgTotalTime"`
}
