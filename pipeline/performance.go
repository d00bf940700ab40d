package pipeline

// PerformanceTiming holds page-load timing deltas in milliseconds, computed
// by the host from its navigation timing source.
type PerformanceTiming struct {
	DNSTime     int64 `json:"dnsTime"`
	ConnectTime int64 `json:"connectTime"`
	TTFB        int64 `json:"ttfb"`
	DOMLoad     int64 `json:"domLoad"`
	PageLoad    int64 `json:"pageLoad"`
	TotalTime   int64 `json:"totalTime"`
}

// ResourceSummary aggregates the resources fetched for the page.
type ResourceSummary struct {
	Count     int                         `json:"count"`
	TotalSize int64                       `json:"totalSize"`
	Types     map[string]ResourceTypeStat `json:"types,omitempty"`
}

type ResourceTypeStat struct {
	Count     int   `json:"count"`
	TotalTime int64 `json:"totalTime"`
}

// PerformanceSource exposes the host's load-timing data. LoadTiming returns
// false while the page has not finished loading; the pipeline re-polls after
// a short delay instead of giving up.
type PerformanceSource interface {
	LoadTiming() (PerformanceTiming, bool)
	Resources() (ResourceSummary, bool)
}
