// Package rlsengine implements C9, the row-level-security engine. It has
// two distinct responsibilities split across the pipeline: AuthorizePlan
// constrains a QueryPlan to the fields a user's table/column permissions
// allow before SQL synthesis ever sees it, and InjectFilters conjoins a
// user's RLSFilter predicates onto already-synthesized SQL afterward.
// Splitting them this way means column-level restriction happens by
// never projecting a denied column in the first place, rather than by
// editing a SELECT list after the fact.
package rlsengine

import (
	"fmt"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/semantic/formula"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
)

// Engine is C9.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// tablePermissionFor finds the permission row for table, if any.
func tablePermissionFor(userCtx *models.UserContext, table string) *models.TablePermission {
	for i := range userCtx.TablePermissions {
		if userCtx.TablePermissions[i].Table == table {
			return &userCtx.TablePermissions[i]
		}
	}
	return nil
}

// fieldTables returns every physical table a semantic field touches: its
// own Table for a column-backed field, or every table its formula
// references for a calculated metric.
func fieldTables(f *models.SemanticField) []string {
	if !f.IsCalculated() {
		if f.Table == "" {
			return nil
		}
		return []string{f.Table}
	}
	parsed, err := formula.Parse(f.Formula)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var tables []string
	for _, c := range parsed.Columns() {
		if !seen[c.Table] {
			seen[c.Table] = true
			tables = append(tables, c.Table)
		}
	}
	return tables
}

// AuthorizePlan applies C9's table and column rules to plan, returning a
// copy with denied dimensions dropped. Admins and requests with RLS
// disabled bypass this entirely (callers should not invoke it in that
// case, but a nil or IsAdmin userCtx is treated as a no-op for safety).
//
// A FORBIDDEN_TABLE error is raised if any table behind the metric or a
// requested dimension has table_permission.can_read == false. A denied
// dimension (present in a table_permission's denied_columns, or absent
// from a non-empty allowed_columns whitelist) is silently dropped from
// the plan rather than rejected — only the metric itself is load-bearing
// enough to fail the whole request.
func (e *Engine) AuthorizePlan(plan *models.QueryPlan, sem *models.SemanticContext, userCtx *models.UserContext) (*models.QueryPlan, error) {
	if userCtx == nil || userCtx.IsAdmin {
		return plan, nil
	}

	out := *plan
	out.Dimensions = nil

	metricField, ok := sem.Field(models.FieldKindMetric, plan.Metric)
	if !ok {
		return nil, stageerr.New(stageerr.KindAuth, stageerr.StageRLSInjection,
			fmt.Sprintf("metric %q not found in semantic context during authorization", plan.Metric), nil)
	}
	for _, table := range fieldTables(metricField) {
		perm := tablePermissionFor(userCtx, table)
		if perm != nil && !perm.CanRead {
			return nil, stageerr.New(stageerr.KindAuth, stageerr.StageRLSInjection,
				fmt.Sprintf("table %q is not readable by this user", table), map[string]any{"code": "FORBIDDEN_TABLE", "table": table})
		}
		if perm != nil && !isColumnVisible(perm, metricField.Column) {
			return nil, stageerr.New(stageerr.KindAuth, stageerr.StageRLSInjection,
				fmt.Sprintf("column %q.%q is not visible to this user", table, metricField.Column), map[string]any{"table": table, "column": metricField.Column})
		}
	}

	for _, dimName := range plan.Dimensions {
		dimField, ok := sem.Field(models.FieldKindDimension, dimName)
		if !ok {
			continue // plan validation already rejects unknown names; nothing to authorize
		}
		denied := false
		for _, table := range fieldTables(dimField) {
			perm := tablePermissionFor(userCtx, table)
			if perm == nil {
				continue
			}
			if !perm.CanRead {
				return nil, stageerr.New(stageerr.KindAuth, stageerr.StageRLSInjection,
					fmt.Sprintf("table %q is not readable by this user", table), map[string]any{"code": "FORBIDDEN_TABLE", "table": table})
			}
			if !isColumnVisible(perm, dimField.Column) {
				denied = true
			}
		}
		if !denied {
			out.Dimensions = append(out.Dimensions, dimName)
		}
	}

	return &out, nil
}

// isColumnVisible applies the deny-wins-over-allow rule from
// TablePermission.VisibleColumns to a single column.
func isColumnVisible(perm *models.TablePermission, column string) bool {
	visible := perm.VisibleColumns([]string{column})
	return len(visible) == 1
}
