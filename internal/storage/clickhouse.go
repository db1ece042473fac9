package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes decision records to ClickHouse asynchronously.
// Write() is non-blocking; records are buffered and batch-inserted in a
// background goroutine, and dropped with a warning when the buffer is full.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *DecisionRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background
// flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN enables TLS when ?secure=true is present; enforce it here as
	// well so a cloud DSN without the flag still connects securely.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *DecisionRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a decision record for async insertion.
// Non-blocking: drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(rec *DecisionRecord) {
	select {
	case w.buffer <- rec:
	default:
		w.logger.Warn("clickhouse buffer full, dropping decision record",
			zap.String("request_id", rec.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining records, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*DecisionRecord, 0, flushBatch)

	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*DecisionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO decision_events (
			request_id, tenant_id, timestamp, phase,
			content_preview, content_hash, content_size,
			allowed, mode, degraded, risk_score, confidence,
			threat_types, reason,
			model_ids, model_scores, model_actions,
			user_id, endpoint, ip_address, user_agent, metadata,
			latency_ms
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		var allowedUint8, degradedUint8 uint8
		if r.Allowed {
			allowedUint8 = 1
		}
		if r.Degraded {
			degradedUint8 = 1
		}

		if err := batch.Append(
			r.RequestID,
			r.TenantID,
			r.Timestamp,
			r.Phase,
			r.ContentPreview,
			r.ContentHash,
			r.ContentSize,
			allowedUint8,
			r.Mode,
			degradedUint8,
			r.RiskScore,
			r.Confidence,
			r.ThreatTypes,
			r.Reason,
			r.ModelIDs,
			r.ModelScores,
			r.ModelActions,
			r.UserID,
			r.Endpoint,
			r.IPAddress,
			r.UserAgent,
			r.Metadata,
			r.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("request_id", r.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs decision records as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(rec *DecisionRecord) {
	w.logger.Info("decision_event",
		zap.String("request_id", rec.RequestID),
		zap.String("tenant_id", rec.TenantID),
		zap.String("phase", rec.Phase),
		zap.Bool("allowed", rec.Allowed),
		zap.String("mode", rec.Mode),
		zap.Bool("degraded", rec.Degraded),
		zap.Float32("risk_score", rec.RiskScore),
		zap.Strings("threat_types", rec.ThreatTypes),
		zap.String("reason", rec.Reason),
		zap.Float32("latency_ms", rec.LatencyMs),
		zap.String("user_id", rec.UserID),
		zap.String("content_preview", rec.ContentPreview),
	)
}

func (w *LogWriter) Close() {}
