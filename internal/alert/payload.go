package alert

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the payload body, keyed by
// the webhook's secret. Receivers verify it before trusting the alert.
const SignatureHeader = "X-Aegis-Signature"

// payload is the wire form of an alert. Raw-data fields are only present
// when the webhook opted in via IncludeRawData.
type payload struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	TenantID  string            `json:"tenantId"`
	Type      AlertType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Source    string            `json:"source"`
	Tags      []string          `json:"tags"`
	Data      map[string]string `json:"data,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
}

// BuildPayload renders the alert for one webhook. The base payload carries
// only event identity and classification; per-request details ride along
// only for webhooks configured with IncludeRawData.
func BuildPayload(alert AlertMessage, webhook WebhookConfig) ([]byte, error) {
	p := payload{
		ID:        alert.ID,
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
		TenantID:  alert.TenantID,
		Type:      alert.Type,
		Severity:  alert.Severity,
		Title:     alert.Title,
		Message:   alert.Message,
		Source:    alert.Source,
		Tags:      alert.Tags,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if webhook.Filters.IncludeRawData {
		p.Data = alert.Data
		p.UserID = alert.UserID
		p.SessionID = alert.SessionID
		p.IPAddress = alert.IPAddress
		p.UserAgent = alert.UserAgent
	}
	return json.Marshal(p)
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret,
// in constant time.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
