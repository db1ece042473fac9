package feature

import "time"

// RequestContext carries everything known about one gated call. Immutable
// once created; it lives for the duration of a single pre- or post-check.
type RequestContext struct {
	RequestID string
	TenantID  string
	UserID    string
	Content   string
	Endpoint  string
	UserAgent string
	IPAddress string
	Headers   map[string]string
	Metadata  map[string]string // bounded side-channel for unmodeled fields
	Timestamp time.Time
}

// FeatureVector is the fixed-shape numeric view of one request, keyed by
// request id. All *Score/*Risk fields are clamped to [0, 1].
type FeatureVector struct {
	ContentLength          int
	TokenCount             int
	ComplexityScore        float64
	RequestFrequency       float64
	TimeOfDay              float64
	UserAgentRisk          float64
	IPRiskScore            float64
	EndpointRisk           float64
	PayloadSize            float64
	HeaderAnomalies        float64
	InjectionPatternCount  int
	SuspiciousKeywordCount int
	ContainsPII            bool
	ContainsSecrets        bool
}
