package models

// ValidationLevel configures how strict the SQL validator (C8) is about
// allowed functions and complexity caps.
type ValidationLevel string

const (
	ValidationStrict     ValidationLevel = "STRICT"
	ValidationModerate   ValidationLevel = "MODERATE"
	ValidationPermissive ValidationLevel = "PERMISSIVE"
)

// PaginationRequest is the caller-supplied page window.
type PaginationRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// QueryRequest is the external request shape the orchestrator accepts.
type QueryRequest struct {
	Question       string             `json:"question"`
	ConnectionID   string             `json:"connection_id"`
	Pagination     *PaginationRequest `json:"pagination,omitempty"`
	EnableAnalytics *bool             `json:"enable_analytics,omitempty"` // default true
	EnableCaching   *bool             `json:"enable_caching,omitempty"`   // default true
	EnableRLS       *bool             `json:"enable_rls,omitempty"`       // default true
	Conversation    []string          `json:"conversation,omitempty"`
	ValidationLevel ValidationLevel   `json:"validation_level,omitempty"`
}

// WantsAnalytics returns the effective enable_analytics value, defaulting true.
func (r *QueryRequest) WantsAnalytics() bool {
	return r.EnableAnalytics == nil || *r.EnableAnalytics
}

// WantsCaching returns the effective enable_caching value, defaulting true.
func (r *QueryRequest) WantsCaching() bool {
	return r.EnableCaching == nil || *r.EnableCaching
}

// WantsRLS returns the effective enable_rls value, defaulting true.
func (r *QueryRequest) WantsRLS() bool {
	return r.EnableRLS == nil || *r.EnableRLS
}

// PerformanceInfo reports stage timings and cache accounting.
type PerformanceInfo struct {
	TotalMs        int64            `json:"total_ms"`
	StageTimingsMs map[string]int64 `json:"stage_timings_ms"`
	PlanCached     bool             `json:"plan_cached"`
	ResultCached   bool             `json:"result_cached"`
}

// ErrorInfo is the wire representation of a StageError.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	DebugInfo any    `json:"debug_info,omitempty"`
}

// QueryResponse is the external response shape the orchestrator returns.
type QueryResponse struct {
	Success    bool             `json:"success"`
	RequestID  string           `json:"request_id"`
	QueryPlan  *QueryPlan       `json:"query_plan,omitempty"`
	SQL        string           `json:"sql,omitempty"`
	Results    []map[string]any `json:"results,omitempty"`
	Pagination *Pagination      `json:"pagination,omitempty"`
	Analytics  *AnalyticsResult `json:"analytics,omitempty"`
	Performance PerformanceInfo `json:"performance"`
	Error      *ErrorInfo       `json:"error,omitempty"`
}
