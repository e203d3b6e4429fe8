package datasource

import "context"

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// SchemaExtractor extracts database schema information.
// Used for schema discovery in text2sql workflows.
type SchemaExtractor interface {
	// GetTables returns all tables in the database.
	GetTables(ctx context.Context) ([]Table, error)

	// GetColumns returns columns for a specific table.
	GetColumns(ctx context.Context, table string) ([]Column, error)

	// GetForeignKeys returns foreign key relationships for a table.
	GetForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
}

// SQLExecutor executes SQL queries against the database.
// Used for running generated SQL in text2sql workflows.
type SQLExecutor interface {
	// Execute runs a query and returns results.
	Execute(ctx context.Context, query string, params ...any) (*QueryResult, error)
}

// Table represents a database table.
type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Column represents a database column.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// QueryResult contains the results of a SQL query execution.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	RowsAff int64            `json:"rows_affected"`
}

// SchemaDiscoverer introspects a connection's warehouse: tables, columns,
// foreign keys, and the statistics the join-path resolver and plan
// validator need. Each per-dialect adapter (postgres, mssql, ...)
// implements this against its own information-schema queries.
type SchemaDiscoverer interface {
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMetadata, error)
	SupportsForeignKeys() bool
	AnalyzeColumnStats(ctx context.Context, schemaName, tableName string, columnNames []string) ([]ColumnStats, error)
	CheckValueOverlap(ctx context.Context, sourceSchema, sourceTable, sourceColumn, targetSchema, targetTable, targetColumn string, sampleLimit int) (*ValueOverlapResult, error)
	AnalyzeJoin(ctx context.Context, sourceSchema, sourceTable, sourceColumn, targetSchema, targetTable, targetColumn string) (*JoinAnalysis, error)
	GetDistinctValues(ctx context.Context, schemaName, tableName, columnName string, limit int) ([]string, error)
	Close() error
}

// QueryExecutor runs governed, read-only SQL against a connection and
// returns the raw result set the executor (C10) post-processes into a
// ResultSet.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, sqlQuery string, limit int) (*QueryExecutionResult, error)
	ExecuteQueryWithParams(ctx context.Context, sqlQuery string, params []any, limit int) (*QueryExecutionResult, error)
	Execute(ctx context.Context, sqlStatement string) (*ExecuteResult, error)
	ValidateQuery(ctx context.Context, sqlQuery string) error
	Close() error
}

// MaxQueryLimit is the executor's hard row cap (spec.md §4.10 default
// 10,000). The SQL Server QueryExecutor replaces a zero, negative or larger
// limit with it; the PostgreSQL QueryExecutor applies any positive limit
// as given and no limit at all for zero.
const MaxQueryLimit = 10000

// ColumnInfo describes one column of a QueryExecutionResult: its name and
// the dialect-native type name reported by the driver.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryExecutionResult is the raw output of QueryExecutor.ExecuteQuery,
// before C10 folds it into a models.ResultSet.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ExecuteResult is the raw output of QueryExecutor.Execute, used for
// statements that may or may not return rows (EXPLAIN, introspection
// helper queries).
type ExecuteResult struct {
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected"`
}

// ExplainResult holds the parsed output of an EXPLAIN ANALYZE, used by the
// SQL validator's performance pass (spec.md §4.8, WARN-only).
type ExplainResult struct {
	Plan             string   `json:"plan"`
	ExecutionTimeMs  float64  `json:"execution_time_ms"`
	PlanningTimeMs   float64  `json:"planning_time_ms"`
	PerformanceHints []string `json:"performance_hints,omitempty"`
}
