package models

import "time"

// ColumnDescriptor describes one column of a ResultSet: its semantic field
// name (when the column maps to one) and its scalar type, used by the
// analytics stage to decide which statistics apply.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	FieldName  string `json:"field_name,omitempty"`
	ScalarType string `json:"scalar_type"` // "number", "string", "date", "boolean"
}

// ResultSet is the full, untruncated-for-analysis set of rows returned by
// query execution. Pagination and analytics both run against this before
// any page is cut from it.
type ResultSet struct {
	Columns      []ColumnDescriptor `json:"columns"`
	Rows         []map[string]any   `json:"rows"`
	RowCountFull int                `json:"row_count_full"`
	CachedResult bool               `json:"cached_result"`
	Truncated    bool               `json:"truncated"` // true if the executor hit the hard row cap
	ExecutedAt   time.Time          `json:"executed_at"`
	DurationMs   int64              `json:"duration_ms"`
}

// ColumnStats holds descriptive statistics for one numeric column, computed
// over the full (pre-pagination) result set.
type ColumnStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

// Anomaly flags a single row/column value as statistically unusual.
type Anomaly struct {
	RowIndex int     `json:"row_index"`
	Column   string  `json:"column"`
	Value    float64 `json:"value"`
	ZScore   float64 `json:"z_score,omitempty"`
	Method   string  `json:"method"` // "z_score", "iqr"
}

// TimeSeriesPoint augments a time-bucketed row with period-over-period
// deltas and moving averages, computed when the result shape is a single
// date dimension paired with one or more numeric measures.
type TimeSeriesPoint struct {
	RowIndex        int                `json:"row_index"`
	Deltas          map[string]float64 `json:"deltas,omitempty"`
	MovingAverages3 map[string]float64 `json:"moving_averages_3,omitempty"`
	MovingAverages7 map[string]float64 `json:"moving_averages_7,omitempty"`
}

// AnalyticsMetadata is attached to every AnalyticsResult so callers can
// confirm statistics covered the full warehouse result, not just the page
// returned to the client.
type AnalyticsMetadata struct {
	ComputedOnFullDataset bool `json:"computed_on_full_dataset"`
	TotalRows             int  `json:"total_rows"`
}

// AnalyticsResult is C11's output, attached to the pipeline response
// alongside the paginated result page.
type AnalyticsResult struct {
	Columns    map[string]ColumnStats `json:"columns"`
	Anomalies  []Anomaly              `json:"anomalies,omitempty"`
	TimeSeries []TimeSeriesPoint      `json:"time_series,omitempty"`
	Metadata   AnalyticsMetadata      `json:"metadata"`
}

// Pagination describes one page of a paginated ResultSet.
type Pagination struct {
	Page      int  `json:"page"`
	PageSize  int  `json:"page_size"`
	TotalRows int  `json:"total_rows"`
	HasMore   bool `json:"has_more"`
}
