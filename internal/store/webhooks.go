package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aegis-ai/aegis/internal/alert"
)

const webhookColumns = `
	id, tenant_id, name, url, method, COALESCE(headers, '{}'::jsonb), secret, enabled,
	max_retries, backoff_multiplier, initial_delay_ms,
	max_per_minute, max_per_hour,
	COALESCE(alert_types, '[]'::jsonb), min_severity, include_raw_data,
	created_at, updated_at`

// CreateWebhook inserts a new webhook configuration and returns it with its
// generated ID.
func (s *Store) CreateWebhook(ctx context.Context, w alert.WebhookConfig) (*alert.WebhookConfig, error) {
	headers, err := json.Marshal(w.Headers)
	if err != nil {
		return nil, fmt.Errorf("CreateWebhook: %w", err)
	}
	types, err := json.Marshal(w.Filters.AlertTypes)
	if err != nil {
		return nil, fmt.Errorf("CreateWebhook: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (
			tenant_id, name, url, method, headers, secret, enabled,
			max_retries, backoff_multiplier, initial_delay_ms,
			max_per_minute, max_per_hour,
			alert_types, min_severity, include_raw_data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING`+webhookColumns,
		w.TenantID, w.Name, w.URL, w.Method, headers, w.Secret, w.Enabled,
		w.RetryPolicy.MaxRetries, w.RetryPolicy.BackoffMultiplier, w.RetryPolicy.InitialDelay.Milliseconds(),
		w.RateLimit.MaxPerMinute, w.RateLimit.MaxPerHour,
		types, string(w.Filters.MinSeverity), w.Filters.IncludeRawData,
	)
	return scanWebhook(row)
}

// UpdateWebhook replaces the mutable fields of a webhook.
func (s *Store) UpdateWebhook(ctx context.Context, w alert.WebhookConfig) (*alert.WebhookConfig, error) {
	headers, err := json.Marshal(w.Headers)
	if err != nil {
		return nil, fmt.Errorf("UpdateWebhook: %w", err)
	}
	types, err := json.Marshal(w.Filters.AlertTypes)
	if err != nil {
		return nil, fmt.Errorf("UpdateWebhook: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE webhooks SET
			name               = $2,
			url                = $3,
			method             = $4,
			headers            = $5,
			enabled            = $6,
			max_retries        = $7,
			backoff_multiplier = $8,
			initial_delay_ms   = $9,
			max_per_minute     = $10,
			max_per_hour       = $11,
			alert_types        = $12,
			min_severity       = $13,
			include_raw_data   = $14,
			updated_at         = now()
		WHERE id = $1
		RETURNING`+webhookColumns,
		w.ID, w.Name, w.URL, w.Method, headers, w.Enabled,
		w.RetryPolicy.MaxRetries, w.RetryPolicy.BackoffMultiplier, w.RetryPolicy.InitialDelay.Milliseconds(),
		w.RateLimit.MaxPerMinute, w.RateLimit.MaxPerHour,
		types, string(w.Filters.MinSeverity), w.Filters.IncludeRawData,
	)
	wh, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wh, err
}

// DeleteWebhook removes a webhook by ID.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteWebhook: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListForTenant returns all webhook configurations for a tenant. Implements
// alert.WebhookSource.
func (s *Store) ListForTenant(ctx context.Context, tenantID string) ([]alert.WebhookConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+webhookColumns+` FROM webhooks WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("ListForTenant: %w", err)
	}
	defer rows.Close()

	var webhooks []alert.WebhookConfig
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("ListForTenant: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}

// GetWebhook returns a webhook by ID, or nil if not found. Implements
// alert.WebhookSource.
func (s *Store) GetWebhook(ctx context.Context, id string) (*alert.WebhookConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	w, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetWebhook: %w", err)
	}
	return w, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*alert.WebhookConfig, error) {
	var w alert.WebhookConfig
	var headers, types []byte
	var initialDelayMs int64
	var minSeverity string

	err := row.Scan(
		&w.ID, &w.TenantID, &w.Name, &w.URL, &w.Method, &headers, &w.Secret, &w.Enabled,
		&w.RetryPolicy.MaxRetries, &w.RetryPolicy.BackoffMultiplier, &initialDelayMs,
		&w.RateLimit.MaxPerMinute, &w.RateLimit.MaxPerHour,
		&types, &minSeverity, &w.Filters.IncludeRawData,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.RetryPolicy.InitialDelay = msToDuration(initialDelayMs)
	w.Filters.MinSeverity = alert.Severity(minSeverity)
	if err := json.Unmarshal(headers, &w.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if err := json.Unmarshal(types, &w.Filters.AlertTypes); err != nil {
		return nil, fmt.Errorf("decode alert types: %w", err)
	}
	return &w, nil
}
