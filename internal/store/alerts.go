package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	alertpkg "github.com/aegis-ai/aegis/internal/alert"
)

// PutAlert upserts an alert row. Implements alert.AlertStore.
func (s *Store) PutAlert(ctx context.Context, a alertpkg.AlertMessage) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("PutAlert: %w", err)
	}
	tags, err := json.Marshal(a.Tags)
	if err != nil {
		return fmt.Errorf("PutAlert: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			id, tenant_id, timestamp, type, severity, title, message,
			data, source, tags, user_id, session_id, ip_address, user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''))
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.TenantID, a.Timestamp, string(a.Type), string(a.Severity),
		a.Title, a.Message, data, a.Source, tags,
		a.UserID, a.SessionID, a.IPAddress, a.UserAgent)
	if err != nil {
		return fmt.Errorf("PutAlert: %w", err)
	}
	return nil
}

// GetAlert returns an alert by ID, or nil if not found. Implements
// alert.AlertStore.
func (s *Store) GetAlert(ctx context.Context, id string) (*alertpkg.AlertMessage, error) {
	var a alertpkg.AlertMessage
	var typ, severity string
	var data, tags []byte
	var userID, sessionID, ipAddress, userAgent sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, timestamp, type, severity, title, message,
		       COALESCE(data, '{}'::jsonb), source, COALESCE(tags, '[]'::jsonb),
		       user_id, session_id, ip_address, user_agent
		FROM alerts WHERE id = $1`, id,
	).Scan(&a.ID, &a.TenantID, &a.Timestamp, &typ, &severity, &a.Title, &a.Message,
		&data, &a.Source, &tags, &userID, &sessionID, &ipAddress, &userAgent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAlert: %w", err)
	}

	a.Type = alertpkg.AlertType(typ)
	a.Severity = alertpkg.Severity(severity)
	a.UserID = userID.String
	a.SessionID = sessionID.String
	a.IPAddress = ipAddress.String
	a.UserAgent = userAgent.String
	if err := json.Unmarshal(data, &a.Data); err != nil {
		return nil, fmt.Errorf("GetAlert: decode data: %w", err)
	}
	if err := json.Unmarshal(tags, &a.Tags); err != nil {
		return nil, fmt.Errorf("GetAlert: decode tags: %w", err)
	}
	return &a, nil
}
