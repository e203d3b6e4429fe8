package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntityType represents the type of entity being audited.
const (
	AuditEntityTypeConnection     = "connection"
	AuditEntityTypeSemanticField  = "semantic_field"
	AuditEntityTypeRLSFilter      = "rls_filter"
	AuditEntityTypeTablePermission = "table_permission"
)

// AuditAction represents the type of action being audited.
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
)

// AuditLogEntry represents a single entry in the unified configuration audit log.
// It covers mutations to semantic-layer and row-level-security configuration,
// never query execution itself. No migration in this module creates a table
// for it.
type AuditLogEntry struct {
	ID         uuid.UUID `json:"id"`
	ProjectID  uuid.UUID `json:"project_id"`
	EntityType string    `json:"entity_type"` // 'connection', 'semantic_field', 'rls_filter', 'table_permission'
	EntityID   uuid.UUID `json:"entity_id"`   // ID of the affected object
	Action     string    `json:"action"`      // 'create', 'update', 'delete'

	// Who/how
	Source string     `json:"source"`           // 'api', 'migration', 'system'
	UserID *uuid.UUID `json:"user_id,omitempty"` // who triggered the action (from JWT, may be null for system operations)

	// What changed (for updates)
	ChangedFields map[string]FieldChange `json:"changed_fields,omitempty"` // {"field": {"old": ..., "new": ...}}

	CreatedAt time.Time `json:"created_at"`
}

// FieldChange represents the old and new values for a changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}
