package models

import (
	"time"

	"github.com/google/uuid"
)

// UserContext is the resolved row-level-security scope for a single user on
// a single connection: role, active RLS filters, and table permissions. It
// is loaded once per orchestration run and never mutated during it.
type UserContext struct {
	UserID       string    `json:"user_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	Roles        []string  `json:"roles"`
	IsAdmin      bool      `json:"is_admin"`

	RLSFilters      []RLSFilter       `json:"rls_filters,omitempty"`
	TablePermissions []TablePermission `json:"table_permissions,omitempty"`

	ResolvedAt time.Time `json:"resolved_at"`
}

// UserContextDigestInput is a stable hash input for (roles, active RLS filters, table
// permissions) — callers hash the canonical JSON encoding of this to get
// the "user context digest" used in result-cache keys.
type UserContextDigestInput struct {
	Roles            []string          `json:"roles"`
	RLSFilters       []RLSFilter       `json:"rls_filters"`
	TablePermissions []TablePermission `json:"table_permissions"`
}

// RLSFilter is a single bound-parameter predicate the RLS engine injects
// onto every reference to Table. Multiple filters for the same user combine
// with AND. Values are always substituted as bound parameters, never
// interpolated into SQL text.
type RLSFilter struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	Table        string    `json:"table"`
	Column       string    `json:"column"`
	Operator     Operator  `json:"operator"`
	Value        any       `json:"value,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TablePermission grants or denies read access and column-level visibility
// for a user on a table. An empty AllowedColumns means every column not
// otherwise denied is visible; DeniedColumns always wins on overlap.
type TablePermission struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	ConnectionID   uuid.UUID `json:"connection_id"`
	Table          string    `json:"table"`
	CanRead        bool      `json:"can_read"`
	AllowedColumns []string  `json:"allowed_columns,omitempty"`
	DeniedColumns  []string  `json:"denied_columns,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// VisibleColumns returns the subset of candidates the permission allows,
// applying the deny-wins-over-allow rule.
func (p *TablePermission) VisibleColumns(candidates []string) []string {
	denied := make(map[string]bool, len(p.DeniedColumns))
	for _, c := range p.DeniedColumns {
		denied[c] = true
	}

	var allowed map[string]bool
	if len(p.AllowedColumns) > 0 {
		allowed = make(map[string]bool, len(p.AllowedColumns))
		for _, c := range p.AllowedColumns {
			allowed[c] = true
		}
	}

	visible := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if denied[c] {
			continue
		}
		if allowed != nil && !allowed[c] {
			continue
		}
		visible = append(visible, c)
	}
	return visible
}

// AuditAction values for rls_configuration_audit rows.
const (
	RLSAuditActionCreate     = "CREATE"
	RLSAuditActionUpdate     = "UPDATE"
	RLSAuditActionDelete     = "DELETE"
	RLSAuditActionActivate   = "ACTIVATE"
	RLSAuditActionDeactivate = "DEACTIVATE"
)

// RLSConfigurationAudit is an append-only record of a mutation to RLS
// configuration (filters, role assignments, table permissions), written in
// the same transaction as the mutation it records.
type RLSConfigurationAudit struct {
	ID         uuid.UUID `json:"id"`
	Who        string    `json:"who"`
	Action     string    `json:"action"` // CREATE, UPDATE, DELETE, ACTIVATE, DEACTIVATE
	EntityType string    `json:"entity_type"` // "rls_filter", "connection_role", "table_permission"
	EntityID   uuid.UUID `json:"entity_id"`
	OldValue   any       `json:"old_value,omitempty"`
	NewValue   any       `json:"new_value,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
