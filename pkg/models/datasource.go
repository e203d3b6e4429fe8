package models

import (
	"time"

	"github.com/google/uuid"
)

// Dialect identifies the SQL dialect spoken by a connection's warehouse.
type Dialect string

// Supported dialects. The adapter registry maps each to a concrete
// datasource.DatasourceAdapterFactory at startup.
const (
	DialectPostgres  Dialect = "postgres"
	DialectMySQL     Dialect = "mysql"
	DialectSQLServer Dialect = "sqlserver"
	DialectOracle    Dialect = "oracle"
	DialectSnowflake Dialect = "snowflake"
	DialectBigQuery  Dialect = "bigquery"
)

// IsValidDialect reports whether d is one of the supported dialects.
func IsValidDialect(d Dialect) bool {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLServer, DialectOracle, DialectSnowflake, DialectBigQuery:
		return true
	default:
		return false
	}
}

// Datasource represents an external data connection for a project.
// The Config field contains connection details (credentials, host, etc.)
// which are encrypted at rest by the service layer.
type Datasource struct {
	ID             uuid.UUID      `json:"id"`
	ProjectID      uuid.UUID      `json:"project_id"`
	Name           string         `json:"name"`
	DatasourceType string         `json:"datasource_type"` // "postgres", "clickhouse", "bigquery", etc.
	Config         map[string]any `json:"config"`          // Decrypted config, structure varies by type
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Connection is the runtime identity of a governed warehouse connection: a
// Datasource plus the dialect it speaks, its credential role, and the most
// recent schema snapshot taken from it. The orchestrator resolves a
// connection_id to one of these before planning or executing a query.
//
// The credential the connection holds MUST be read-only at the warehouse
// level; nothing downstream (synthesis, validation, execution) is permitted
// to assume or fall back to a more privileged role.
type Connection struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	Dialect   Dialect   `json:"dialect"`
	ReadOnly  bool      `json:"read_only"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// DialectAdapterVersion stamps which revision of the C3 dialect adapter
	// produced Snapshot, so an adapter upgrade can force a re-introspect
	// independent of the snapshot's own TTL.
	DialectAdapterVersion int `json:"dialect_adapter_version"`

	// Snapshot is the cached schema introspected from the warehouse. Nil
	// until the first successful introspection.
	Snapshot *SchemaSnapshot `json:"snapshot,omitempty"`
}

// SnapshotAge returns how long ago the schema snapshot was taken, or a
// negative duration if no snapshot exists yet.
func (c *Connection) SnapshotAge(now time.Time) time.Duration {
	if c.Snapshot == nil {
		return -1
	}
	return now.Sub(c.Snapshot.TakenAt)
}
