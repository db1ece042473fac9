package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aegis-ai/aegis/internal/alert"
)

const deliveryColumns = `
	id, webhook_id, alert_id, status, attempt_count,
	COALESCE(last_attempt_at, 'epoch'::timestamptz),
	COALESCE(next_retry_at, 'epoch'::timestamptz),
	COALESCE(response_status, 0), COALESCE(response_body, ''), COALESCE(error_message, ''),
	COALESCE(delivered_at, 'epoch'::timestamptz)`

// msToDuration converts a milliseconds column to a time.Duration.
func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// PutDelivery upserts a delivery record. Implements alert.DeliveryStore.
func (s *Store) PutDelivery(ctx context.Context, d alert.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_id, alert_id, status, attempt_count,
			last_attempt_at, next_retry_at,
			response_status, response_body, error_message, delivered_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 'epoch'::timestamptz), NULLIF($7, 'epoch'::timestamptz),
		        NULLIF($8, 0), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, 'epoch'::timestamptz))
		ON CONFLICT (id) DO UPDATE SET
			status          = EXCLUDED.status,
			attempt_count   = EXCLUDED.attempt_count,
			last_attempt_at = EXCLUDED.last_attempt_at,
			next_retry_at   = EXCLUDED.next_retry_at,
			response_status = EXCLUDED.response_status,
			response_body   = EXCLUDED.response_body,
			error_message   = EXCLUDED.error_message,
			delivered_at    = EXCLUDED.delivered_at`,
		d.ID, d.WebhookID, d.AlertID, string(d.Status), d.AttemptCount,
		d.LastAttemptAt, d.NextRetryAt,
		d.ResponseStatus, d.ResponseBody, d.ErrorMessage, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("PutDelivery: %w", err)
	}
	return nil
}

// GetDelivery returns a delivery by ID, or nil if not found.
func (s *Store) GetDelivery(ctx context.Context, id string) (*alert.WebhookDelivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetDelivery: %w", err)
	}
	return d, nil
}

// Due returns pending deliveries plus retrying ones whose next_retry_at has
// passed, oldest first. Implements alert.DeliveryStore.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]alert.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'pending'
		   OR (status = 'retrying' AND next_retry_at <= $1)
		ORDER BY created_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("DueDeliveries: %w", err)
	}
	defer rows.Close()

	var due []alert.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("DueDeliveries: %w", err)
		}
		due = append(due, *d)
	}
	return due, rows.Err()
}

// ListForWebhook returns recent deliveries for one webhook, newest first.
// Implements alert.DeliveryStore.
func (s *Store) ListForWebhook(ctx context.Context, webhookID string, limit int) ([]alert.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListForWebhook: %w", err)
	}
	defer rows.Close()

	var out []alert.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("ListForWebhook: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDelivery(row rowScanner) (*alert.WebhookDelivery, error) {
	var d alert.WebhookDelivery
	var status string
	err := row.Scan(
		&d.ID, &d.WebhookID, &d.AlertID, &status, &d.AttemptCount,
		&d.LastAttemptAt, &d.NextRetryAt,
		&d.ResponseStatus, &d.ResponseBody, &d.ErrorMessage,
		&d.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = alert.DeliveryStatus(status)
	return &d, nil
}
