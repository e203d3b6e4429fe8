package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryHistoryEntry records one completed orchestration run. Only
// successfully-executed queries are recorded; validation and planning
// failures are logged but not persisted here.
type QueryHistoryEntry struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	UserID       string    `json:"user_id"`

	NaturalLanguage string `json:"natural_language"`
	SQL             string `json:"sql"`

	ExecutedAt          time.Time `json:"executed_at"`
	ExecutionDurationMs *int      `json:"execution_duration_ms,omitempty"`
	RowCount            *int      `json:"row_count,omitempty"`
	Truncated           bool      `json:"truncated"`

	TablesUsed       []string `json:"tables_used,omitempty"`
	AggregationsUsed []string `json:"aggregations_used,omitempty"`

	CacheHit  bool `json:"cache_hit"`
	FromPlanCache bool `json:"from_plan_cache"`

	CreatedAt time.Time `json:"created_at"`
}

// QueryHistoryFilters contains filters for querying the query history table.
type QueryHistoryFilters struct {
	UserID       string
	ConnectionID *uuid.UUID
	TablesUsed   []string
	Since        *time.Time
	Limit        int
}
