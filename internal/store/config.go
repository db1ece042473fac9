package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aegis-ai/aegis/internal/policy"
)

// GetPolicyConfig loads the single-row policy configuration, or nil when
// none has been saved yet (the caller falls back to defaults).
func (s *Store) GetPolicyConfig(ctx context.Context) (*policy.Config, error) {
	var cfg policy.Config
	var mode string
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, mode, fail_open, sampling, redaction_token
		FROM policy_config WHERE id = 1`,
	).Scan(&cfg.Enabled, &mode, &cfg.FailOpen, &cfg.Sampling, &cfg.RedactionToken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicyConfig: %w", err)
	}
	cfg.Mode = policy.Mode(mode)
	return &cfg, nil
}

// SavePolicyConfig upserts the policy configuration row.
func (s *Store) SavePolicyConfig(ctx context.Context, cfg policy.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_config (id, enabled, mode, fail_open, sampling, redaction_token, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			enabled         = EXCLUDED.enabled,
			mode            = EXCLUDED.mode,
			fail_open       = EXCLUDED.fail_open,
			sampling        = EXCLUDED.sampling,
			redaction_token = EXCLUDED.redaction_token,
			updated_at      = now()`,
		cfg.Enabled, string(cfg.Mode), cfg.FailOpen, cfg.Sampling, cfg.RedactionToken)
	if err != nil {
		return fmt.Errorf("SavePolicyConfig: %w", err)
	}
	return nil
}
