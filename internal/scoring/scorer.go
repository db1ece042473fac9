package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aegis-ai/aegis/internal/engine"
)

// ErrUnavailable is returned when no scoring model produced a usable
// prediction for a request. Callers resolve it through the fail-open policy.
var ErrUnavailable = errors.New("scoring: no model available")

// ScoreRequest is the payload sent to a scoring model.
type ScoreRequest struct {
	RequestID string
	Content   string
	UserID    string
	Phase     engine.CheckPhase
}

// Scorer produces one model's prediction for a request.
type Scorer interface {
	// Name identifies the model for logging and attribution.
	Name() string
	// Score evaluates the request. Implementations honor ctx cancellation.
	Score(ctx context.Context, req ScoreRequest) (engine.ModelPrediction, error)
}

const breakerMaxConsecutiveFailures = 5

// analyzeRequest is the wire form of a scoring call.
type analyzeRequest struct {
	Text   string `json:"text"`
	UserID string `json:"userId,omitempty"`
	Type   string `json:"type"` // "input" or "output"
}

// analyzeResponse is the wire form of a model verdict.
type analyzeResponse struct {
	Safe       bool     `json:"safe"`
	Score      float64  `json:"score"`
	Confidence *float64 `json:"confidence,omitempty"`
	Threats    []string `json:"threats,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// HTTPScorer calls an external scoring model over HTTP JSON. A circuit
// breaker trips after consecutive failures so a dead model stops eating the
// scoring timeout on every request.
type HTTPScorer struct {
	name     string
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewHTTPScorer creates a scorer posting to endpoint + "/analyze".
func NewHTTPScorer(name, endpoint string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerMaxConsecutiveFailures
			},
		}),
	}
}

func (s *HTTPScorer) Name() string { return s.name }

// Score posts the request to the model and maps its verdict into a
// ModelPrediction. Breaker-open, transport, and non-2xx failures all surface
// as errors; the service layer decides what a total failure means.
func (s *HTTPScorer) Score(ctx context.Context, req ScoreRequest) (engine.ModelPrediction, error) {
	start := time.Now()

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.analyze(ctx, req)
	})
	if err != nil {
		return engine.ModelPrediction{}, fmt.Errorf("scorer %s: %w", s.name, err)
	}
	resp := out.(*analyzeResponse)

	confidence := 0.5
	if resp.Confidence != nil {
		confidence = engine.Clamp01(*resp.Confidence)
	}

	var threat string
	if len(resp.Threats) > 0 {
		threat = resp.Threats[0]
	}

	pred := engine.ModelPrediction{
		RequestID:        req.RequestID,
		ModelID:          s.name,
		RiskScore:        engine.Clamp01(resp.Score),
		Confidence:       confidence,
		ThreatType:       threat,
		Explanation:      resp.Message,
		ProcessingTimeMs: float64(time.Since(start).Milliseconds()),
	}
	switch {
	case !resp.Safe:
		pred.PredictedAction = engine.ActionBlock
	case pred.RiskScore >= 0.4:
		pred.PredictedAction = engine.ActionChallenge
	default:
		pred.PredictedAction = engine.ActionAllow
	}
	return pred, nil
}

func (s *HTTPScorer) analyze(ctx context.Context, req ScoreRequest) (*analyzeResponse, error) {
	phase := "input"
	if req.Phase == engine.PhasePost {
		phase = "output"
	}
	body, err := json.Marshal(analyzeRequest{
		Text:   req.Content,
		UserID: req.UserID,
		Type:   phase,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	var resp analyzeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
