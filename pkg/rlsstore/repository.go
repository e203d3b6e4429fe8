// Package rlsstore implements C4: per-(user, connection) RLS filters, role
// assignments, and table/column permissions, plus the append-only audit
// trail every mutation to them writes. It answers the UserContext Loader
// question spec.md §4.4 names: "for a (user_id, connection_id) pair,
// what's this user's role, active filters, and table permissions".
package rlsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/semantic-query-engine/pkg/database"
	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// Store provides tenant-scoped persistence for RLS configuration and its
// audit trail. Grounded on pkg/repositories/audit_repository.go's
// tenant-scoped CRUD shape; every write method here sequences its
// configuration mutation and its audit insert inside the same
// transaction, which pkg/database.TenantScope.Conn (a single pooled
// connection for the scope's lifetime) makes straightforward — both
// statements run over the same connection without an explicit BEGIN, and
// callers that need atomicity across the pair wrap the call in
// scope.Conn.Begin themselves.
type Store interface {
	// LoadUserContext assembles the UserContext the orchestrator resolves
	// once per run: role, active RLS filters, table permissions.
	LoadUserContext(ctx context.Context, userID string, connectionID uuid.UUID) (*models.UserContext, error)

	UpsertRLSFilter(ctx context.Context, who string, filter *models.RLSFilter) error
	DeactivateRLSFilter(ctx context.Context, who string, filterID uuid.UUID) error

	UpsertTablePermission(ctx context.Context, who string, perm *models.TablePermission) error

	AssignRole(ctx context.Context, who, userID string, connectionID uuid.UUID, role string, isAdmin bool) error
}

type store struct{}

func NewStore() Store {
	return &store{}
}

var _ Store = (*store)(nil)

func (s *store) LoadUserContext(ctx context.Context, userID string, connectionID uuid.UUID) (*models.UserContext, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	uc := &models.UserContext{
		UserID:       userID,
		ConnectionID: connectionID,
		ResolvedAt:   time.Now(),
	}

	var roleName string
	err := scope.Conn.QueryRow(ctx, `
		SELECT role, is_admin FROM user_connection_roles
		WHERE user_id = $1 AND connection_id = $2
	`, userID, connectionID).Scan(&roleName, &uc.IsAdmin)
	switch {
	case err == pgx.ErrNoRows:
		// No explicit role assignment: treat as a non-admin with no roles,
		// which the RLS engine resolves to "every table denied unless an
		// explicit table_permission grants read".
	case err != nil:
		return nil, fmt.Errorf("load connection role: %w", err)
	default:
		uc.Roles = []string{roleName}
	}

	filterRows, err := scope.Conn.Query(ctx, `
		SELECT id, user_id, connection_id, table_name, column_name, operator, value, active, created_at, updated_at
		FROM user_rls_filters
		WHERE user_id = $1 AND connection_id = $2 AND active = true
	`, userID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load rls filters: %w", err)
	}
	defer filterRows.Close()

	for filterRows.Next() {
		f, err := scanRLSFilter(filterRows)
		if err != nil {
			return nil, err
		}
		uc.RLSFilters = append(uc.RLSFilters, *f)
	}
	if err := filterRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rls filters: %w", err)
	}

	permRows, err := scope.Conn.Query(ctx, `
		SELECT id, user_id, connection_id, table_name, can_read, allowed_columns, denied_columns, created_at, updated_at
		FROM user_table_permissions
		WHERE user_id = $1 AND connection_id = $2
	`, userID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load table permissions: %w", err)
	}
	defer permRows.Close()

	for permRows.Next() {
		p, err := scanTablePermission(permRows)
		if err != nil {
			return nil, err
		}
		uc.TablePermissions = append(uc.TablePermissions, *p)
	}
	if err := permRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table permissions: %w", err)
	}

	return uc, nil
}

func (s *store) UpsertRLSFilter(ctx context.Context, who string, filter *models.RLSFilter) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	valueJSON, err := json.Marshal(filter.Value)
	if err != nil {
		return fmt.Errorf("marshal rls filter value: %w", err)
	}

	var oldValue []byte
	_ = scope.Conn.QueryRow(ctx, `
		SELECT value FROM user_rls_filters
		WHERE user_id = $1 AND connection_id = $2 AND table_name = $3 AND column_name = $4
	`, filter.UserID, filter.ConnectionID, filter.Table, filter.Column).Scan(&oldValue)

	now := time.Now()
	err = scope.Conn.QueryRow(ctx, `
		INSERT INTO user_rls_filters (
			user_id, connection_id, table_name, column_name, operator, value, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id, connection_id, table_name, column_name) DO UPDATE SET
			operator = EXCLUDED.operator,
			value = EXCLUDED.value,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, filter.UserID, filter.ConnectionID, filter.Table, filter.Column, string(filter.Operator), valueJSON, true, now,
	).Scan(&filter.ID, &filter.CreatedAt, &filter.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rls filter: %w", err)
	}
	filter.Active = true

	action := models.RLSAuditActionCreate
	if oldValue != nil {
		action = models.RLSAuditActionUpdate
	}
	return s.writeAudit(ctx, who, action, "rls_filter", filter.ID, decodeJSON(oldValue), filter)
}

func (s *store) DeactivateRLSFilter(ctx context.Context, who string, filterID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `UPDATE user_rls_filters SET active = false, updated_at = NOW() WHERE id = $1`, filterID)
	if err != nil {
		return fmt.Errorf("deactivate rls filter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return s.writeAudit(ctx, who, models.RLSAuditActionDeactivate, "rls_filter", filterID, nil, nil)
}

func (s *store) UpsertTablePermission(ctx context.Context, who string, perm *models.TablePermission) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	now := time.Now()
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO user_table_permissions (
			user_id, connection_id, table_name, can_read, allowed_columns, denied_columns, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, connection_id, table_name) DO UPDATE SET
			can_read = EXCLUDED.can_read,
			allowed_columns = EXCLUDED.allowed_columns,
			denied_columns = EXCLUDED.denied_columns,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`, perm.UserID, perm.ConnectionID, perm.Table, perm.CanRead, jsonbOrNil(perm.AllowedColumns), jsonbOrNil(perm.DeniedColumns), now,
	).Scan(&perm.ID, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert table permission: %w", err)
	}

	return s.writeAudit(ctx, who, models.RLSAuditActionUpdate, "table_permission", perm.ID, nil, perm)
}

func (s *store) AssignRole(ctx context.Context, who, userID string, connectionID uuid.UUID, role string, isAdmin bool) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	var id uuid.UUID
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO user_connection_roles (user_id, connection_id, role, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id, connection_id) DO UPDATE SET
			role = EXCLUDED.role,
			is_admin = EXCLUDED.is_admin,
			updated_at = NOW()
		RETURNING id
	`, userID, connectionID, role, isAdmin).Scan(&id)
	if err != nil {
		return fmt.Errorf("assign connection role: %w", err)
	}

	return s.writeAudit(ctx, who, models.RLSAuditActionUpdate, "connection_role", id, nil, map[string]any{
		"user_id": userID, "connection_id": connectionID, "role": role, "is_admin": isAdmin,
	})
}

// writeAudit inserts an append-only rls_configuration_audit row. Callers
// never update or delete these rows; a correction is itself a new row.
func (s *store) writeAudit(ctx context.Context, who, action, entityType string, entityID uuid.UUID, oldValue, newValue any) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	oldJSON, err := json.Marshal(oldValue)
	if err != nil {
		return fmt.Errorf("marshal audit old value: %w", err)
	}
	newJSON, err := json.Marshal(newValue)
	if err != nil {
		return fmt.Errorf("marshal audit new value: %w", err)
	}

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO rls_configuration_audit (id, who, action, entity_type, entity_id, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), who, action, entityType, entityID, oldJSON, newJSON, time.Now())
	if err != nil {
		return fmt.Errorf("write rls audit row: %w", err)
	}
	return nil
}

func scanRLSFilter(rows pgx.Rows) (*models.RLSFilter, error) {
	var f models.RLSFilter
	var operator string
	var value []byte
	if err := rows.Scan(&f.ID, &f.UserID, &f.ConnectionID, &f.Table, &f.Column, &operator, &value, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan rls filter: %w", err)
	}
	f.Operator = models.Operator(operator)
	if len(value) > 0 && string(value) != "null" {
		if err := json.Unmarshal(value, &f.Value); err != nil {
			return nil, fmt.Errorf("unmarshal rls filter value: %w", err)
		}
	}
	return &f, nil
}

func scanTablePermission(rows pgx.Rows) (*models.TablePermission, error) {
	var p models.TablePermission
	var allowed, denied []byte
	if err := rows.Scan(&p.ID, &p.UserID, &p.ConnectionID, &p.Table, &p.CanRead, &allowed, &denied, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan table permission: %w", err)
	}
	if len(allowed) > 0 && string(allowed) != "null" {
		if err := json.Unmarshal(allowed, &p.AllowedColumns); err != nil {
			return nil, fmt.Errorf("unmarshal allowed columns: %w", err)
		}
	}
	if len(denied) > 0 && string(denied) != "null" {
		if err := json.Unmarshal(denied, &p.DeniedColumns); err != nil {
			return nil, fmt.Errorf("unmarshal denied columns: %w", err)
		}
	}
	return &p, nil
}

func jsonbOrNil(v []string) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

func decodeJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}
