package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaTable represents a table discovered by introspecting a connection's warehouse.
type SchemaTable struct {
	ID           uuid.UUID      `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	ConnectionID uuid.UUID      `json:"connection_id"`
	SchemaName   string         `json:"schema_name"`
	TableName    string         `json:"table_name"`
	RowCount     *int64         `json:"row_count,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Columns      []SchemaColumn `json:"columns,omitempty"` // populated on demand
}

// SchemaColumn represents a column in a discovered table.
type SchemaColumn struct {
	ID              uuid.UUID      `json:"id"`
	ProjectID       uuid.UUID      `json:"project_id"`
	SchemaTableID   uuid.UUID      `json:"schema_table_id"`
	ColumnName      string         `json:"column_name"`
	DataType        string         `json:"data_type"`
	IsNullable      bool           `json:"is_nullable"`
	IsPrimaryKey    bool           `json:"is_primary_key"`
	OrdinalPosition int            `json:"ordinal_position"`
	DistinctCount   *int64         `json:"distinct_count,omitempty"`
	NullCount       *int64         `json:"null_count,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SchemaForeignKey represents a foreign-key edge between two columns, the
// primitive the join-path resolver walks as a graph.
type SchemaForeignKey struct {
	ID             uuid.UUID `json:"id"`
	ProjectID      uuid.UUID `json:"project_id"`
	SourceTableID  uuid.UUID `json:"source_table_id"`
	SourceColumnID uuid.UUID `json:"source_column_id"`
	TargetTableID  uuid.UUID `json:"target_table_id"`
	TargetColumnID uuid.UUID `json:"target_column_id"`
	Cardinality    string    `json:"cardinality"` // "1:1", "1:N", "N:1", "N:M", "unknown"
	ConstraintName string    `json:"constraint_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Cardinality types
const (
	Cardinality1To1    = "1:1"
	Cardinality1ToN    = "1:N"
	CardinalityNTo1    = "N:1"
	CardinalityNToM    = "N:M"
	CardinalityUnknown = "unknown"
)

// SchemaSnapshot is the cached, point-in-time view of a connection's
// warehouse schema used by plan validation, SQL synthesis, and join-path
// resolution. It is refreshed on introspection and stamped with the time it
// was taken so staleness can be judged against a configured TTL.
type SchemaSnapshot struct {
	ConnectionID uuid.UUID          `json:"connection_id"`
	Dialect      Dialect            `json:"dialect"`
	Tables       []SchemaTable      `json:"tables"`
	ForeignKeys  []SchemaForeignKey `json:"foreign_keys"`
	TakenAt      time.Time          `json:"taken_at"`
}

// TableByName returns the table matching schema.table, or nil if absent.
func (s *SchemaSnapshot) TableByName(schemaName, tableName string) *SchemaTable {
	for i := range s.Tables {
		if s.Tables[i].SchemaName == schemaName && s.Tables[i].TableName == tableName {
			return &s.Tables[i]
		}
	}
	return nil
}

// TableByTableName returns the table matching tableName regardless of
// schema, for callers (formula parsing, plan validation) that only ever
// see a bare table identifier. Ambiguous names across schemas resolve to
// the first match encountered during introspection.
func (s *SchemaSnapshot) TableByTableName(tableName string) *SchemaTable {
	for i := range s.Tables {
		if s.Tables[i].TableName == tableName {
			return &s.Tables[i]
		}
	}
	return nil
}
