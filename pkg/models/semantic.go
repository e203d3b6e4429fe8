package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/semantic-query-engine/pkg/apperrors"
)

// FieldKind distinguishes a metric (aggregatable measure) from a dimension
// (groupable attribute). Identity of a SemanticField is
// (connection_id, kind, name).
type FieldKind string

const (
	FieldKindMetric    FieldKind = "metric"
	FieldKindDimension FieldKind = "dimension"
)

// Aggregation is the aggregation a metric applies to its column, or the
// sentinel "calculated"/"none" values for formula-backed metrics and plain
// dimensions respectively.
type Aggregation string

const (
	AggregationSum        Aggregation = "sum"
	AggregationAvg        Aggregation = "avg"
	AggregationMin        Aggregation = "min"
	AggregationMax        Aggregation = "max"
	AggregationCount      Aggregation = "count"
	AggregationCalculated Aggregation = "calculated"
	AggregationNone       Aggregation = "none"
)

// Format is the display format hint returned alongside a field's values.
type Format string

const (
	FormatCurrency   Format = "currency"
	FormatPercentage Format = "percentage"
	FormatNumber     Format = "number"
	FormatDate       Format = "date"
	FormatText       Format = "text"
)

// SemanticField is one canonical business field bound to a physical column,
// or, for calculated metrics, to a formula over other fields.
//
// Invariant: a metric with Aggregation == AggregationCalculated MUST have a
// non-empty Formula; every other field MUST have (Table, Column, Aggregation).
type SemanticField struct {
	ID           uuid.UUID   `json:"id"`
	ConnectionID uuid.UUID   `json:"connection_id"`
	Kind         FieldKind   `json:"kind"`
	Name         string      `json:"name"`
	DisplayName  string      `json:"display_name"`
	Description  string      `json:"description,omitempty"`
	DataType     string      `json:"data_type,omitempty"`

	Table       string      `json:"table,omitempty"`
	Column      string      `json:"column,omitempty"`
	Aggregation Aggregation `json:"aggregation"`
	Format      Format      `json:"format,omitempty"`

	// Formula holds a calculated-metric expression referencing other
	// SemanticField names and physical columns, e.g.
	// "SUM(transactions.amount - transactions.cost)". Empty for
	// column-backed fields.
	Formula string `json:"formula,omitempty"`

	Synonyms       []string     `json:"synonyms,omitempty"`
	DefaultFilters []PlanFilter `json:"default_filters,omitempty"`

	Active bool `json:"active"`

	// UsageCount and LastUsedAt back C5's "top N canonical fields by usage"
	// prompt-building step; bumped by the orchestrator's learning hook.
	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	Version   int       `json:"version"` // bumped on every update; the semantic version cache-key component
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCalculated reports whether the field is derived from a formula rather
// than backed directly by a column.
func (f *SemanticField) IsCalculated() bool {
	return f.Aggregation == AggregationCalculated
}

// Validate checks the table/column-vs-formula invariant.
func (f *SemanticField) Validate() error {
	if f.IsCalculated() {
		if f.Formula == "" {
			return apperrors.ErrMissingFormula
		}
		return nil
	}
	if f.Table == "" || f.Column == "" {
		return apperrors.ErrMissingColumnMapping
	}
	return nil
}

// SemanticContext is the resolved set of active fields available for a
// connection at a point in time, plus the join graph derived from the
// connection's schema foreign keys. Version is the monotonic semantic
// version used as a plan/result cache-key component.
type SemanticContext struct {
	ConnectionID uuid.UUID                 `json:"connection_id"`
	Version      int                       `json:"version"`
	Fields       map[string]*SemanticField `json:"fields"` // keyed by "kind:name"
	ForeignKeys  []SchemaForeignKey        `json:"-"`
	ResolvedAt   time.Time                 `json:"resolved_at"`
}

// FieldKey builds the SemanticContext.Fields lookup key for a (kind, name) pair.
func FieldKey(kind FieldKind, name string) string {
	return string(kind) + ":" + name
}

// Field looks up a field by kind and name.
func (c *SemanticContext) Field(kind FieldKind, name string) (*SemanticField, bool) {
	f, ok := c.Fields[FieldKey(kind, name)]
	return f, ok
}

// TopFieldsByUsage returns up to n active fields of the given kind, ordered
// by descending usage count, for prompt construction.
func (c *SemanticContext) TopFieldsByUsage(kind FieldKind, n int) []*SemanticField {
	candidates := make([]*SemanticField, 0, len(c.Fields))
	for _, f := range c.Fields {
		if f.Kind == kind && f.Active {
			candidates = append(candidates, f)
		}
	}
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && candidates[j-1].UsageCount < candidates[j].UsageCount {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
			j--
		}
	}
	if n >= 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
