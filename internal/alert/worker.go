package alert

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 32
	maxResponseBodyLen  = 1024
)

// Worker drains the delivery queue: it polls the store for due deliveries
// and attempts them over HTTP. Retries are driven by NextRetryAt stamps, not
// in-process timers, so scheduled work survives a restart.
type Worker struct {
	webhooks   WebhookSource
	alerts     AlertStore
	deliveries DeliveryStore
	client     *http.Client
	logger     *zap.Logger

	pollInterval time.Duration
	batchSize    int
	now          func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewWorker(webhooks WebhookSource, alerts AlertStore, deliveries DeliveryStore, client *http.Client, logger *zap.Logger) *Worker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Worker{
		webhooks:     webhooks,
		alerts:       alerts,
		deliveries:   deliveries,
		client:       client,
		logger:       logger,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		now:          time.Now,
		inflight:     make(map[string]struct{}),
	}
}

// Run polls for due deliveries until ctx ends, then waits for in-flight
// attempts to finish.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims and attempts one batch of due deliveries. Exported so tests
// and the scheduler share the same path.
func (w *Worker) Tick(ctx context.Context) {
	due, err := w.deliveries.Due(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Warn("poll deliveries failed", zap.Error(err))
		return
	}
	for _, d := range due {
		if !w.claim(d.ID) {
			continue // already being attempted
		}
		w.wg.Add(1)
		go func(d WebhookDelivery) {
			defer w.wg.Done()
			defer w.release(d.ID)
			w.attempt(ctx, d)
		}(d)
	}
}

func (w *Worker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inflight[id]; ok {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

// attempt makes one delivery attempt and persists the resulting transition.
func (w *Worker) attempt(ctx context.Context, d WebhookDelivery) {
	wh, err := w.webhooks.GetWebhook(ctx, d.WebhookID)
	if err == nil && wh == nil {
		w.fail(ctx, d, "webhook no longer exists")
		return
	}
	if err != nil {
		w.logger.Warn("load webhook failed", zap.String("delivery_id", d.ID), zap.Error(err))
		return
	}
	alert, err := w.alerts.GetAlert(ctx, d.AlertID)
	if err == nil && alert == nil {
		w.fail(ctx, d, "alert no longer exists")
		return
	}
	if err != nil {
		w.logger.Warn("load alert failed", zap.String("delivery_id", d.ID), zap.Error(err))
		return
	}

	body, err := BuildPayload(*alert, *wh)
	if err != nil {
		w.fail(ctx, d, "encode payload: "+err.Error())
		return
	}

	d.AttemptCount++
	d.LastAttemptAt = w.now()

	status, respBody, sendErr := w.send(ctx, *wh, body)
	d.ResponseStatus = status

	if sendErr == nil && status >= 200 && status < 300 {
		d.Status = StatusDelivered
		d.DeliveredAt = w.now()
		d.ErrorMessage = ""
		d.ResponseBody = ""
		w.persist(ctx, d)
		w.logger.Info("alert delivered",
			zap.String("delivery_id", d.ID),
			zap.String("webhook_id", d.WebhookID),
			zap.Int("attempts", d.AttemptCount),
		)
		return
	}

	if sendErr != nil {
		d.ErrorMessage = sendErr.Error()
	} else {
		d.ResponseBody = respBody
		d.ErrorMessage = "unexpected status " + http.StatusText(status)
	}

	policy := wh.RetryPolicy
	if policy.MaxRetries == 0 {
		policy = DefaultRetryPolicy()
	}
	if d.AttemptCount < policy.MaxRetries {
		d.Status = StatusRetrying
		d.NextRetryAt = w.now().Add(backoff(policy, d.AttemptCount))
		w.persist(ctx, d)
		w.logger.Warn("delivery attempt failed, retry scheduled",
			zap.String("delivery_id", d.ID),
			zap.Int("attempt", d.AttemptCount),
			zap.Time("next_retry_at", d.NextRetryAt),
			zap.String("error", d.ErrorMessage),
		)
		return
	}

	d.Status = StatusFailed
	w.persist(ctx, d)
	w.logger.Error("delivery failed permanently",
		zap.String("delivery_id", d.ID),
		zap.String("webhook_id", d.WebhookID),
		zap.Int("attempts", d.AttemptCount),
		zap.String("error", d.ErrorMessage),
	)
}

func (w *Worker) send(ctx context.Context, wh WebhookConfig, body []byte) (int, string, error) {
	method := wh.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Aegis-Gateway/1.0")
	if wh.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, wh.Secret))
	}
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLen))
	return resp.StatusCode, string(respBody), nil
}

func (w *Worker) fail(ctx context.Context, d WebhookDelivery, msg string) {
	d.Status = StatusFailed
	d.ErrorMessage = msg
	d.LastAttemptAt = w.now()
	w.persist(ctx, d)
}

func (w *Worker) persist(ctx context.Context, d WebhookDelivery) {
	if err := w.deliveries.PutDelivery(ctx, d); err != nil {
		w.logger.Error("persist delivery state failed",
			zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

// backoff computes the delay before the next attempt:
// initialDelay * multiplier^(attempts-1).
func backoff(policy RetryPolicy, attempts int) time.Duration {
	mult := policy.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(policy.InitialDelay) * math.Pow(mult, float64(attempts-1))
	return time.Duration(delay)
}
