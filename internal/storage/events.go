package storage

import "time"

// EventWriter is the interface for persisting decision records.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(rec *DecisionRecord)
	Close()
}

// DecisionRecord is one gate decision to be persisted for audit and
// analysis. Content is stored as a bounded preview plus hash, never in full.
type DecisionRecord struct {
	RequestID      string
	TenantID       string
	Timestamp      time.Time
	Phase          string // "pre" or "post"
	ContentPreview string // first 500 chars
	ContentHash    string // SHA256 of full content
	ContentSize    uint32
	Allowed        bool
	Mode           string
	Degraded       bool
	RiskScore      float32
	Confidence     float32
	ThreatTypes    []string
	Reason         string
	ModelIDs       []string
	ModelScores    []float32
	ModelActions   []string
	UserID         string
	Endpoint       string
	IPAddress      string
	UserAgent      string
	Metadata       map[string]string
	LatencyMs      float32
}

// ContentPreviewLength is the max chars stored in content_preview.
const ContentPreviewLength = 500

// TruncateContent returns the first N characters (runes) of content for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateContent(content string, maxLen int) string {
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen])
}
