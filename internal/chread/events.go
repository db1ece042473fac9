package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse decision_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the decision_events table.
type EventRow struct {
	RequestID      string
	TenantID       string
	Timestamp      time.Time
	Phase          string
	ContentPreview string
	ContentSize    uint32
	Allowed        uint8
	Mode           string
	Degraded       uint8
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
	LatencyMs      float32
}

const eventColumns = "request_id, tenant_id, timestamp, phase, content_preview, content_size, " +
	"allowed, mode, degraded, risk_score, confidence, threat_types, reason, " +
	"model_ids, model_scores, model_actions, " +
	"user_id, endpoint, ip_address, user_agent, latency_ms"

func scanEventRow(row driver.Rows) (EventRow, error) {
	var e EventRow
	err := row.Scan(
		&e.RequestID, &e.TenantID, &e.Timestamp, &e.Phase, &e.ContentPreview, &e.ContentSize,
		&e.Allowed, &e.Mode, &e.Degraded, &e.RiskScore, &e.Confidence, &e.ThreatTypes, &e.Reason,
		&e.ModelIDs, &e.ModelScores, &e.ModelActions,
		&e.UserID, &e.Endpoint, &e.IPAddress, &e.UserAgent, &e.LatencyMs,
	)
	return e, err
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	TenantID   string
	Phase      *string
	Allowed    *bool
	Degraded   *bool
	ThreatType *string
	UserID     *string
	Endpoint   *string
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
}

// ListEvents returns paginated, filtered decision events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"tenant_id = @tenant_id"}
	args := []any{
		clickhouse.Named("tenant_id", params.TenantID),
	}

	if params.Phase != nil {
		conditions = append(conditions, "phase = @phase")
		args = append(args, clickhouse.Named("phase", *params.Phase))
	}
	if params.Allowed != nil {
		var v uint8
		if *params.Allowed {
			v = 1
		}
		conditions = append(conditions, "allowed = @allowed")
		args = append(args, clickhouse.Named("allowed", v))
	}
	if params.Degraded != nil {
		var v uint8
		if *params.Degraded {
			v = 1
		}
		conditions = append(conditions, "degraded = @degraded")
		args = append(args, clickhouse.Named("degraded", v))
	}
	if params.ThreatType != nil {
		conditions = append(conditions, "has(threat_types, @threat_type)")
		args = append(args, clickhouse.Named("threat_type", *params.ThreatType))
	}
	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.Endpoint != nil {
		conditions = append(conditions, "endpoint = @endpoint")
		args = append(args, clickhouse.Named("endpoint", *params.Endpoint))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM decision_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT "+eventColumns+" FROM decision_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by tenant ID and request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, tenantID, requestID string) (*EventRow, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+eventColumns+" FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND request_id = @request_id "+
			"ORDER BY timestamp DESC LIMIT 1",
		clickhouse.Named("tenant_id", tenantID),
		clickhouse.Named("request_id", requestID),
	)
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEventRow(rows)
	if err != nil {
		return nil, fmt.Errorf("GetEvent scan: %w", err)
	}
	return &e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	TotalChecks int `json:"total_checks"`
	Blocked     int `json:"blocked"`
	Allowed     int `json:"allowed"`
	Degraded    int `json:"degraded"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// ThreatCount holds a threat type and its count.
type ThreatCount struct {
	ThreatType string `json:"threat_type"`
	Count      int    `json:"count"`
}

// ShadowReportStats counts shadow-mode decisions that enforcement would
// have blocked.
type ShadowReportStats struct {
	Total      int `json:"total"`
	WouldBlock int `json:"would_block"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// UserCount holds a user_id and its count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	BlocksOverTime     []TimeSeriesBucket `json:"blocks_over_time"`
	TopThreats         []ThreatCount      `json:"top_threats"`
	ShadowReport       ShadowReportStats  `json:"shadow_report"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
	TopFlaggedUsers    []UserCount        `json:"top_flagged_users"`
}

// GetAnalytics returns aggregated analytics for a tenant over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, tenantID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("tenant_id", tenantID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var totalChecks, blocked, allowed, degraded uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total_checks, "+
			"countIf(allowed = 0) as blocked, "+
			"countIf(allowed = 1) as allowed, "+
			"countIf(degraded = 1) as degraded "+
			"FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&totalChecks, &blocked, &allowed, &degraded)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalChecks: int(totalChecks),
		Blocked:     int(blocked),
		Allowed:     int(allowed),
		Degraded:    int(degraded),
	}

	// Blocks over time (hourly)
	botRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND allowed = 0 "+
			"AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics blocks_over_time: %w", err)
	}
	defer func() { _ = botRows.Close() }()
	for botRows.Next() {
		var hour time.Time
		var count uint64
		if err := botRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics blocks_over_time scan: %w", err)
		}
		result.BlocksOverTime = append(result.BlocksOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top threat types
	threatRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(threat_types) as threat_type, count() as count "+
			"FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND timestamp >= @range_start "+
			"GROUP BY threat_type ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_threats: %w", err)
	}
	defer func() { _ = threatRows.Close() }()
	for threatRows.Next() {
		var threat string
		var count uint64
		if err := threatRows.Scan(&threat, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_threats scan: %w", err)
		}
		result.TopThreats = append(result.TopThreats, ThreatCount{
			ThreatType: threat, Count: int(count),
		})
	}

	// Shadow report. In shadow mode a would-block decision is recorded as
	// allowed with a non-empty reason.
	var shadowTotal, wouldBlock uint64
	err = r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(reason != '') as would_block "+
			"FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND mode = 'shadow' "+
			"AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&shadowTotal, &wouldBlock)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics shadow_report: %w", err)
	}
	result.ShadowReport = ShadowReportStats{
		Total: int(shadowTotal), WouldBlock: int(wouldBlock),
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND timestamp >= @day_start",
		clickhouse.Named("tenant_id", tenantID),
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Top flagged users
	userRows, err := r.conn.Query(ctx,
		"SELECT user_id, count() as count "+
			"FROM decision_events "+
			"WHERE tenant_id = @tenant_id AND allowed = 0 "+
			"AND user_id != '' AND timestamp >= @range_start "+
			"GROUP BY user_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_users: %w", err)
	}
	defer func() { _ = userRows.Close() }()
	for userRows.Next() {
		var uid string
		var count uint64
		if err := userRows.Scan(&uid, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_users scan: %w", err)
		}
		result.TopFlaggedUsers = append(result.TopFlaggedUsers, UserCount{
			UserID: uid, Count: int(count),
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.BlocksOverTime == nil {
		result.BlocksOverTime = []TimeSeriesBucket{}
	}
	if result.TopThreats == nil {
		result.TopThreats = []ThreatCount{}
	}
	if result.TopFlaggedUsers == nil {
		result.TopFlaggedUsers = []UserCount{}
	}

	return result, nil
}

// safeFloat replaces NaN (empty quantile over zero rows) with 0.
func safeFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
