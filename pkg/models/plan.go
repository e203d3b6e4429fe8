package models

import (
	"time"

	"github.com/google/uuid"
)

// TimeGrain is the bucketing granularity for a time-series dimension.
// The zero value TimeGrainNone means no bucketing is requested.
type TimeGrain string

const (
	TimeGrainNone    TimeGrain = ""
	TimeGrainDay     TimeGrain = "day"
	TimeGrainWeek    TimeGrain = "week"
	TimeGrainMonth   TimeGrain = "month"
	TimeGrainQuarter TimeGrain = "quarter"
	TimeGrainYear    TimeGrain = "year"
)

// Operator is a comparison operator shared by plan filters and RLS filters.
type Operator string

const (
	OpEq         Operator = "="
	OpNeq        Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT LIKE"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
)

// PlanFilter is a single predicate over a semantic field name (not a
// physical column — the synthesizer resolves the mapping).
type PlanFilter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// SortDirection orders a projected field.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// TimeRange bounds a query to a window, either a named relative/calendar
// range ("last_quarter", "last_90_days") or an explicit [Start, End) pair
// resolved by the plan validator. The named "_days" ranges are rolling
// windows (no "_years" named range is resolved); "last_quarter"/"last_month"/"last_week" are calendar
// boundaries (DESIGN.md section 7, decision 1).
type TimeRange struct {
	Named string     `json:"named,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// QueryPlan is the structured intermediate representation between a natural
// language question and synthesized SQL.
//
// Invariant: if NeedsClarification is true, no SQL synthesis is attempted.
type QueryPlan struct {
	// Metric is empty only when NeedsClarification is true.
	Metric     string              `json:"metric"`
	Dimensions []string            `json:"dimensions,omitempty"`
	TimeRange  *TimeRange          `json:"time_range,omitempty"`
	TimeGrain  TimeGrain           `json:"time_grain,omitempty"`
	Filters    []PlanFilter        `json:"filters,omitempty"`
	OrderBy    map[string]SortDirection `json:"order_by,omitempty"` // dimension/metric name -> asc|desc
	Limit      *int                `json:"limit,omitempty"`
	Offset     *int                `json:"offset,omitempty"`

	Intent      string   `json:"intent,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`

	NeedsClarification    bool   `json:"needs_clarification"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`

	// RawLLMResponse is the verbatim model output, kept for troubleshooting.
	// Never serialized to the API response.
	RawLLMResponse *string `json:"-"`
}

// ExtractResult is C5's output: the plan plus extraction-confidence metadata.
type ExtractResult struct {
	Plan          QueryPlan `json:"query_plan"`
	Confidence    float64   `json:"confidence"`
	EntitiesFound []string  `json:"entities_found,omitempty"`
	PlanCached    bool      `json:"plan_cached"`
}

// CanonicalSQL is the deterministic, parameterized statement produced by SQL
// synthesis, prior to RLS predicate injection.
type CanonicalSQL struct {
	SQL               string   `json:"sql"`
	Params            []any    `json:"params"`
	Dialect           Dialect  `json:"dialect"`
	ReferencedTables  []string `json:"referenced_tables"`
	ReferencedColumns []string `json:"referenced_columns"`
	HasCTE            bool     `json:"has_cte"`
	HasSubquery       bool     `json:"has_subquery"`
	JoinCount         int      `json:"join_count"`
	Depth             int      `json:"depth"`
}

// PlanCacheEntry is a cached (connection_id, normalized_question,
// user_id_or_role_scope, semantic_version) -> plan mapping.
type PlanCacheEntry struct {
	Key       string    `json:"key"`
	Plan      QueryPlan `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultCacheEntry is a cached (dialect, final_sql, params,
// user_context_digest, semantic_version) -> result mapping.
type ResultCacheEntry struct {
	Key       string    `json:"key"`
	Result    ResultSet `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// LearnedSynonym is a user-term-to-canonical-field association recorded
// after a successful run, with a confidence that is reinforced via
// exponential moving average on repeat observations.
type LearnedSynonym struct {
	ID            uuid.UUID `json:"id"`
	ConnectionID  uuid.UUID `json:"connection_id"`
	UserTerm      string    `json:"user_term"`
	CanonicalName string    `json:"canonical_field_name"`
	Confidence    float64   `json:"confidence"`
	LastSeen      time.Time `json:"last_seen"`
	CreatedAt     time.Time `json:"created_at"`
}
