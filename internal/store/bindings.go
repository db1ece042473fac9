package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Binding represents a row in the policy_bindings table: one route-prefix
// scope for the gate, optionally restricted to a tenant.
type Binding struct {
	ID          string
	TenantID    string // empty means global
	RoutePrefix string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateBinding inserts a new binding. An empty tenantID creates a global
// binding.
func (s *Store) CreateBinding(ctx context.Context, tenantID, routePrefix string) (*Binding, error) {
	var b Binding
	var tenant sql.NullString
	if tenantID != "" {
		tenant = sql.NullString{String: tenantID, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO policy_bindings (tenant_id, route_prefix)
		VALUES ($1, $2)
		RETURNING id, COALESCE(tenant_id::text, ''), route_prefix, is_active, created_at, updated_at`,
		tenant, routePrefix,
	).Scan(&b.ID, &b.TenantID, &b.RoutePrefix, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("CreateBinding: %w", err)
	}
	return &b, nil
}

// ListBindings returns all bindings, newest first.
func (s *Store) ListBindings(ctx context.Context) ([]*Binding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(tenant_id::text, ''), route_prefix, is_active, created_at, updated_at
		FROM policy_bindings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListBindings: %w", err)
	}
	defer rows.Close()

	var bindings []*Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.ID, &b.TenantID, &b.RoutePrefix, &b.IsActive,
			&b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListBindings: %w", err)
		}
		bindings = append(bindings, &b)
	}
	return bindings, rows.Err()
}

// SetBindingActive flips a binding on or off.
func (s *Store) SetBindingActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE policy_bindings SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("SetBindingActive: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteBinding removes a binding by ID.
func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policy_bindings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteBinding: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
