package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-ai/aegis/internal/engine"
)

// Service fans out one request to all registered scorers in parallel and
// collects their predictions within a deadline.
type Service struct {
	scorers []Scorer
	timeout time.Duration
	logger  *zap.Logger
}

// NewService creates a scoring service with the given scorers and per-request
// deadline.
func NewService(scorers []Scorer, timeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		scorers: scorers,
		timeout: timeout,
		logger:  logger,
	}
}

type scorerOutput struct {
	name string
	pred engine.ModelPrediction
	err  error
}

// Score runs all scorers in parallel and returns the predictions that
// completed before the deadline. Returns ErrUnavailable when no scorer
// produced a prediction, whether by error, timeout, or an empty scorer set.
//
// Each goroutine sends through a buffered channel sized for all scorers, so
// late finishers never block and are simply never read after the deadline.
func (s *Service) Score(ctx context.Context, req ScoreRequest) ([]engine.ModelPrediction, error) {
	if len(s.scorers) == 0 {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := make(chan scorerOutput, len(s.scorers))
	for _, sc := range s.scorers {
		go func(sc Scorer) {
			pred, err := sc.Score(ctx, req)
			ch <- scorerOutput{name: sc.Name(), pred: pred, err: err}
		}(sc)
	}

	preds := make([]engine.ModelPrediction, 0, len(s.scorers))
	remaining := len(s.scorers)
	for remaining > 0 {
		select {
		case out := <-ch:
			remaining--
			if out.err != nil {
				s.logger.Warn("scorer failed",
					zap.String("model", out.name),
					zap.String("request_id", req.RequestID),
					zap.Error(out.err),
				)
				continue
			}
			preds = append(preds, out.pred)
		case <-ctx.Done():
			s.logger.Warn("scoring deadline exceeded, returning partial predictions",
				zap.String("request_id", req.RequestID),
				zap.Duration("timeout", s.timeout),
				zap.Int("pending", remaining),
			)
			remaining = 0
		}
	}

	if len(preds) == 0 {
		return nil, ErrUnavailable
	}
	return preds, nil
}
