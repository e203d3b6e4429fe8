// Package planvalidator implements C6, the plan validator: it rejects
// plans that reference unknown field names, resolves named time periods
// into concrete UTC boundaries, and enforces the row-limit ceiling before
// a plan ever reaches SQL synthesis.
package planvalidator

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
)

// dateTypedDataTypes are the data_type strings (as reported by schema
// introspection) treated as date/time for time_grain compatibility
// checking. Matched case-insensitively against SemanticField.DataType.
var dateTypedDataTypes = map[string]bool{
	"date": true, "timestamp": true, "timestamptz": true,
	"timestamp without time zone": true, "timestamp with time zone": true,
	"datetime": true, "datetime2": true,
}

// Validator is C6.
type Validator struct {
	maxRowLimit int
}

func NewValidator(maxRowLimit int) *Validator {
	return &Validator{maxRowLimit: maxRowLimit}
}

// Validate checks plan against the given semantic context and mutates it
// in place: it fills in TimeRange.Start/End for named ranges, and sets
// Limit to maxRowLimit if unset. An error means the plan is rejected
// outright and carries Kind PLAN_ERROR; an unknown-name rejection's
// debug payload is {plan, missing_names}.
func (v *Validator) Validate(ctx context.Context, plan *models.QueryPlan, sem *models.SemanticContext, now time.Time) error {
	var missing []string

	if plan.Metric != "" {
		if _, ok := sem.Field(models.FieldKindMetric, plan.Metric); !ok {
			missing = append(missing, plan.Metric)
		}
	}
	for _, dim := range plan.Dimensions {
		if _, ok := sem.Field(models.FieldKindDimension, dim); !ok {
			missing = append(missing, dim)
		}
	}
	for _, f := range plan.Filters {
		if _, okM := sem.Field(models.FieldKindMetric, f.Field); okM {
			continue
		}
		if _, okD := sem.Field(models.FieldKindDimension, f.Field); okD {
			continue
		}
		missing = append(missing, f.Field)
	}
	if len(missing) > 0 {
		return stageerr.New(stageerr.KindPlan, stageerr.StagePlanValidation,
			"plan references unknown field names", map[string]any{"plan": plan, "missing_names": missing})
	}

	if plan.TimeRange != nil && plan.TimeRange.Named != "" && plan.TimeRange.Start == nil {
		start, end, err := ResolveNamedRange(plan.TimeRange.Named, now)
		if err != nil {
			return stageerr.Wrap(stageerr.KindPlan, stageerr.StagePlanValidation, "unresolvable named time range", err, map[string]any{"named": plan.TimeRange.Named})
		}
		plan.TimeRange.Start = &start
		plan.TimeRange.End = &end
	}

	if plan.TimeGrain != models.TimeGrainNone {
		if err := v.validateTimeGrainCompatibility(plan, sem); err != nil {
			return err
		}
	}

	if plan.Limit == nil {
		limit := v.maxRowLimit
		plan.Limit = &limit
	} else if *plan.Limit > v.maxRowLimit {
		return stageerr.New(stageerr.KindPlan, stageerr.StagePlanValidation,
			fmt.Sprintf("limit %d exceeds max_row_limit %d", *plan.Limit, v.maxRowLimit), nil)
	} else if *plan.Limit <= 0 {
		return stageerr.New(stageerr.KindPlan, stageerr.StagePlanValidation, "limit must be positive", nil)
	}

	return nil
}

// validateTimeGrainCompatibility requires at least one dimension typed as
// date/time when a time_grain is requested, since the grain buckets a
// date column; a grain with nothing date-typed to bucket is a plan error.
func (v *Validator) validateTimeGrainCompatibility(plan *models.QueryPlan, sem *models.SemanticContext) error {
	for _, dim := range plan.Dimensions {
		field, ok := sem.Field(models.FieldKindDimension, dim)
		if !ok {
			continue
		}
		if dateTypedDataTypes[normalizeDataType(field.DataType)] {
			return nil
		}
	}
	return stageerr.New(stageerr.KindPlan, stageerr.StagePlanValidation,
		fmt.Sprintf("time_grain %q requires a date-typed dimension", plan.TimeGrain), map[string]any{"dimensions": plan.Dimensions})
}

func normalizeDataType(dt string) string {
	result := make([]rune, 0, len(dt))
	for _, r := range dt {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		result = append(result, r)
	}
	return string(result)
}
