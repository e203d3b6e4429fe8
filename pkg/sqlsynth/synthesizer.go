// Package sqlsynth implements C7, the SQL synthesizer: deterministic,
// template-driven translation of a validated QueryPlan plus semantic and
// schema context into parameterized SQL. Synthesis never calls an LLM.
package sqlsynth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/semantic/formula"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
)

// Synthesizer is C7.
type Synthesizer struct{}

func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// projection is one SELECT-list entry, either a plain qualified dimension
// column or a date_trunc(...) expression when a time grain applies to it.
type projection struct {
	expr  string
	alias string
	isAgg bool
}

// Synthesize implements spec.md §4.7's eight steps against an already
// plan-validated QueryPlan.
func (s *Synthesizer) Synthesize(plan *models.QueryPlan, sem *models.SemanticContext, snapshot *models.SchemaSnapshot, dialect models.Dialect) (*models.CanonicalSQL, error) {
	metricField, ok := sem.Field(models.FieldKindMetric, plan.Metric)
	if !ok {
		return nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, fmt.Sprintf("unknown metric %q", plan.Metric), nil)
	}

	dimFields := make([]*models.SemanticField, 0, len(plan.Dimensions))
	for _, d := range plan.Dimensions {
		f, ok := sem.Field(models.FieldKindDimension, d)
		if !ok {
			return nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, fmt.Sprintf("unknown dimension %q", d), nil)
		}
		dimFields = append(dimFields, f)
	}

	baseTableName, metricTablesUsed, err := resolveMetricTables(metricField, snapshot)
	if err != nil {
		return nil, err
	}
	baseTable := snapshot.TableByTableName(baseTableName)
	if baseTable == nil {
		return nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, fmt.Sprintf("metric table %q not found in schema", baseTableName), nil)
	}

	// Step 1: join in every table referenced by the metric or a dimension,
	// via the shortest undirected FK path from the base table.
	joinedTableIDs := map[string]bool{baseTable.ID.String(): true}
	var joins []JoinStep
	neededTables := map[string]bool{}
	for _, tbl := range metricTablesUsed {
		neededTables[tbl] = true
	}
	for _, f := range dimFields {
		neededTables[f.Table] = true
	}
	delete(neededTables, baseTable.TableName)

	// Deterministic join order: sort table names before pathing.
	var sortedTables []string
	for t := range neededTables {
		sortedTables = append(sortedTables, t)
	}
	sort.Strings(sortedTables)

	for _, neededTableName := range sortedTables {
		target := snapshot.TableByTableName(neededTableName)
		if target == nil {
			return nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, fmt.Sprintf("dimension table %q not found in schema", neededTableName), nil)
		}
		if joinedTableIDs[target.ID.String()] {
			continue
		}
		path, err := ShortestJoinPath(snapshot, baseTable.ID, target.ID)
		if err != nil {
			return nil, stageerr.Wrap(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, "NO_JOIN_PATH", err, map[string]any{"from": baseTable.TableName, "to": neededTableName})
		}
		for _, step := range path {
			if !joinedTableIDs[step.Table.String()] {
				joins = append(joins, step)
				joinedTableIDs[step.Table.String()] = true
			}
		}
	}

	qualify := func(table, column string) string {
		return QuoteQualified(dialect, table, column)
	}

	// Step 4 & 2: time-grain bucketing replaces the matching date dimension
	// projection with a date_trunc expression.
	var projections []projection
	var groupBy []string
	var timeColumn string // qualified time column used by the time_range predicate
	for _, f := range dimFields {
		col := qualify(f.Table, f.Column)
		if isDateTyped(f.DataType) && timeColumn == "" {
			timeColumn = col
		}
		expr := col
		if plan.TimeGrain != models.TimeGrainNone && isDateTyped(f.DataType) {
			expr = DateTrunc(dialect, plan.TimeGrain, col)
		}
		projections = append(projections, projection{expr: expr, alias: f.Name})
		groupBy = append(groupBy, expr)
	}
	if timeColumn == "" {
		if tc, ok := findTimeColumn(sem, baseTable.TableName); ok {
			timeColumn = qualify(baseTable.TableName, tc)
		}
	}

	// Step 2: metric projection.
	var metricExpr string
	if metricField.IsCalculated() {
		f, err := formula.Parse(metricField.Formula)
		if err != nil {
			return nil, stageerr.Wrap(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, "calculated metric formula failed to parse", err, map[string]any{"metric": metricField.Name})
		}
		metricExpr = "(" + f.Render(qualify) + ")"
	} else {
		metricExpr = AggregationSQL(metricField.Aggregation, qualify(metricField.Table, metricField.Column))
	}
	projections = append(projections, projection{expr: metricExpr, alias: metricField.Name, isAgg: true})

	// Step 3: WHERE.
	var whereClauses []string
	var params []any
	placeholder := func() string { return Placeholder(dialect, len(params)+1) }

	for _, f := range []*models.SemanticField{metricField} {
		for _, df := range f.DefaultFilters {
			clause, val, ok := renderFilter(df, sem, qualify, placeholder)
			if ok {
				whereClauses = append(whereClauses, clause)
				if val != nil {
					params = append(params, val)
				}
			}
		}
	}
	for _, pf := range plan.Filters {
		clause, val, ok := renderFilter(pf, sem, qualify, placeholder)
		if !ok {
			return nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, fmt.Sprintf("unknown filter field %q", pf.Field), nil)
		}
		whereClauses = append(whereClauses, clause)
		if val != nil {
			params = append(params, val)
		}
	}
	if plan.TimeRange != nil && plan.TimeRange.Start != nil && plan.TimeRange.End != nil {
		if timeColumn == "" {
			return nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, "time range set but no date column resolved for metric table", nil)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("%s >= %s", timeColumn, placeholder()))
		params = append(params, *plan.TimeRange.Start)
		whereClauses = append(whereClauses, fmt.Sprintf("%s < %s", timeColumn, placeholder()))
		params = append(params, *plan.TimeRange.End)
	}

	// Step 6: ORDER BY.
	var orderBy []string
	if len(plan.OrderBy) > 0 {
		var names []string
		for name := range plan.OrderBy {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dir := plan.OrderBy[name]
			orderBy = append(orderBy, fmt.Sprintf("%s %s", quoteAliasRef(name), strings.ToUpper(string(dir))))
		}
	} else if plan.TimeGrain != models.TimeGrainNone {
		for _, p := range projections {
			if !p.isAgg && isDateProjection(p, dimFields) {
				orderBy = append(orderBy, fmt.Sprintf("%s ASC", quoteAliasRef(p.alias)))
				break
			}
		}
	} else {
		orderBy = append(orderBy, fmt.Sprintf("%s DESC", quoteAliasRef(metricField.Name)))
	}

	// Step 7: LIMIT/OFFSET.
	limit := *plan.Limit
	offset := 0
	if plan.Offset != nil {
		offset = *plan.Offset
	}

	sql := renderSQL(dialect, snapshot, baseTable, joins, projections, whereClauses, groupBy, orderBy, limit, offset)

	referencedTables := []string{baseTable.TableName}
	for _, j := range joins {
		referencedTables = append(referencedTables, tableName(snapshot, j.Table))
	}
	var referencedColumns []string
	for _, p := range projections {
		referencedColumns = append(referencedColumns, p.alias)
	}

	return &models.CanonicalSQL{
		SQL:               sql,
		Params:            params,
		Dialect:           dialect,
		ReferencedTables:  referencedTables,
		ReferencedColumns: referencedColumns,
		HasCTE:            false,
		HasSubquery:       false,
		JoinCount:         len(joins),
		Depth:             1,
	}, nil
}

func isDateProjection(p projection, dimFields []*models.SemanticField) bool {
	for _, f := range dimFields {
		if f.Name == p.alias && isDateTyped(f.DataType) {
			return true
		}
	}
	return false
}

func quoteAliasRef(alias string) string {
	return `"` + strings.ReplaceAll(alias, `"`, `""`) + `"`
}

func isDateTyped(dataType string) bool {
	lower := strings.ToLower(dataType)
	switch lower {
	case "date", "timestamp", "timestamptz", "timestamp without time zone", "timestamp with time zone", "datetime", "datetime2":
		return true
	default:
		return false
	}
}

// findTimeColumn picks the first active date-typed dimension field bound
// to tableName, as a fallback time column for a TimeRange filter when no
// plan dimension itself carries the date type.
func findTimeColumn(sem *models.SemanticContext, tableName string) (string, bool) {
	for _, f := range sem.Fields {
		if f.Kind == models.FieldKindDimension && f.Table == tableName && isDateTyped(f.DataType) {
			return f.Column, true
		}
	}
	return "", false
}

// resolveMetricTables returns the metric's base table (the first
// referenced table) and the full set of tables its definition touches —
// a single table for column-backed metrics, potentially several for a
// calculated metric's formula.
func resolveMetricTables(metricField *models.SemanticField, snapshot *models.SchemaSnapshot) (string, []string, error) {
	if !metricField.IsCalculated() {
		return metricField.Table, []string{metricField.Table}, nil
	}
	f, err := formula.Parse(metricField.Formula)
	if err != nil {
		return "", nil, stageerr.Wrap(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, "calculated metric formula failed to parse", err, map[string]any{"metric": metricField.Name})
	}
	seen := map[string]bool{}
	var tables []string
	for _, col := range f.Columns() {
		if !seen[col.Table] {
			seen[col.Table] = true
			tables = append(tables, col.Table)
		}
	}
	if len(tables) == 0 {
		return "", nil, stageerr.New(stageerr.KindSQLGeneration, stageerr.StageSQLGeneration, fmt.Sprintf("calculated metric %q formula references no columns", metricField.Name), nil)
	}
	return tables[0], tables, nil
}

// onClause renders the join predicate for step, qualifying each side by
// its table name. FK.SourceTableID/TargetTableID name the "source" and
// "target" side of the declared constraint; Reversed just tells us which
// side was already present in the FROM clause before this step, it
// doesn't change which column belongs to which table.
func onClause(dialect models.Dialect, snapshot *models.SchemaSnapshot, step JoinStep) string {
	sourceTable := tableName(snapshot, step.FK.SourceTableID)
	targetTable := tableName(snapshot, step.FK.TargetTableID)
	sourceCol := columnName(snapshot, step.FK.SourceColumnID)
	targetCol := columnName(snapshot, step.FK.TargetColumnID)
	return fmt.Sprintf("%s = %s",
		QuoteQualified(dialect, sourceTable, sourceCol),
		QuoteQualified(dialect, targetTable, targetCol))
}

func columnName(snapshot *models.SchemaSnapshot, columnID uuid.UUID) string {
	for _, t := range snapshot.Tables {
		for _, c := range t.Columns {
			if c.ID == columnID {
				return c.ColumnName
			}
		}
	}
	return columnID.String()
}

func renderFilter(pf models.PlanFilter, sem *models.SemanticContext, qualify func(string, string) string, placeholder func() string) (string, any, bool) {
	field, ok := sem.Field(models.FieldKindDimension, pf.Field)
	if !ok {
		field, ok = sem.Field(models.FieldKindMetric, pf.Field)
	}
	if !ok {
		return "", nil, false
	}
	col := qualify(field.Table, field.Column)

	switch pf.Operator {
	case models.OpIsNull:
		return fmt.Sprintf("%s IS NULL", col), nil, true
	case models.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil, true
	case models.OpIn, models.OpNotIn:
		values, _ := pf.Value.([]any)
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = placeholder()
		}
		op := "IN"
		if pf.Operator == models.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), values, true
	default:
		return fmt.Sprintf("%s %s %s", col, pf.Operator, placeholder()), pf.Value, true
	}
}

func renderSQL(dialect models.Dialect, snapshot *models.SchemaSnapshot, baseTable *models.SchemaTable, joins []JoinStep, projections []projection, where, groupBy, orderBy []string, limit, offset int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	parts := make([]string, len(projections))
	for i, p := range projections {
		parts[i] = fmt.Sprintf("%s AS %s", p.expr, quoteAliasRef(p.alias))
	}
	b.WriteString(strings.Join(parts, ", "))

	fmt.Fprintf(&b, "\nFROM %s", QuoteQualified(dialect, baseTable.TableName))
	for _, j := range joins {
		joinedTable := tableName(snapshot, j.Table)
		fmt.Fprintf(&b, "\nJOIN %s ON %s", QuoteQualified(dialect, joinedTable), onClause(dialect, snapshot, j))
	}

	if len(where) > 0 {
		fmt.Fprintf(&b, "\nWHERE %s", strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		fmt.Fprintf(&b, "\nGROUP BY %s", strings.Join(groupBy, ", "))
	}
	if len(orderBy) > 0 {
		fmt.Fprintf(&b, "\nORDER BY %s", strings.Join(orderBy, ", "))
	}
	fmt.Fprintf(&b, "\n%s", LimitOffset(dialect, limit, offset))
	return b.String()
}
