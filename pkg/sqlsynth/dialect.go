package sqlsynth

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
)

// QuoteIdentifier escapes a single identifier (no dot-splitting) the way
// each dialect's own driver/adapter does: doubled double-quotes for
// Postgres/Oracle/Snowflake (grounded on
// pkg/adapters/datasource/postgres/query_executor.go's QuoteIdentifier),
// doubled closing-bracket for SQL Server (grounded on
// pkg/adapters/datasource/mssql/helpers.go's quoteName), and backticks for
// MySQL/BigQuery.
func QuoteIdentifier(dialect models.Dialect, name string) string {
	switch dialect {
	case models.DialectSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case models.DialectMySQL, models.DialectBigQuery:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default: // postgres, oracle, snowflake
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// QuoteQualified quotes a schema.table or table.column pair, each segment
// independently.
func QuoteQualified(dialect models.Dialect, segments ...string) string {
	quoted := make([]string, len(segments))
	for i, s := range segments {
		quoted[i] = QuoteIdentifier(dialect, s)
	}
	return strings.Join(quoted, ".")
}

// DateTrunc renders a date_trunc(grain, column) expression in the target
// dialect's own syntax, for the time_grain bucketing step.
func DateTrunc(dialect models.Dialect, grain models.TimeGrain, qualifiedColumn string) string {
	switch dialect {
	case models.DialectPostgres:
		return fmt.Sprintf("date_trunc('%s', %s)", grain, qualifiedColumn)
	case models.DialectSQLServer:
		return fmt.Sprintf("DATETRUNC(%s, %s)", sqlServerGrain(grain), qualifiedColumn)
	case models.DialectMySQL:
		return mysqlDateTrunc(grain, qualifiedColumn)
	case models.DialectSnowflake:
		return fmt.Sprintf("DATE_TRUNC('%s', %s)", grain, qualifiedColumn)
	case models.DialectBigQuery:
		return fmt.Sprintf("DATE_TRUNC(%s, %s)", qualifiedColumn, strings.ToUpper(string(grain)))
	case models.DialectOracle:
		return fmt.Sprintf("TRUNC(%s, '%s')", qualifiedColumn, oracleGrainFormat(grain))
	default:
		return qualifiedColumn
	}
}

func sqlServerGrain(grain models.TimeGrain) string {
	switch grain {
	case models.TimeGrainDay:
		return "day"
	case models.TimeGrainWeek:
		return "week"
	case models.TimeGrainMonth:
		return "month"
	case models.TimeGrainQuarter:
		return "quarter"
	case models.TimeGrainYear:
		return "year"
	default:
		return "day"
	}
}

// mysqlDateTrunc has no native DATE_TRUNC before 8.0's derived
// expressions, so it's built from DATE_FORMAT/date arithmetic the way the
// rest of the pack's MySQL-facing code (e.g. mssql/helpers.go's manual
// string building for identifiers a driver doesn't expose natively)
// hand-builds dialect gaps rather than reaching for an ORM.
func mysqlDateTrunc(grain models.TimeGrain, col string) string {
	switch grain {
	case models.TimeGrainDay:
		return fmt.Sprintf("DATE(%s)", col)
	case models.TimeGrainWeek:
		return fmt.Sprintf("DATE_SUB(DATE(%s), INTERVAL WEEKDAY(%s) DAY)", col, col)
	case models.TimeGrainMonth:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-01')", col)
	case models.TimeGrainQuarter:
		return fmt.Sprintf("MAKEDATE(YEAR(%s), 1) + INTERVAL (QUARTER(%s)-1) QUARTER", col, col)
	case models.TimeGrainYear:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-01-01')", col)
	default:
		return col
	}
}

func oracleGrainFormat(grain models.TimeGrain) string {
	switch grain {
	case models.TimeGrainDay:
		return "DD"
	case models.TimeGrainWeek:
		return "IW"
	case models.TimeGrainMonth:
		return "MM"
	case models.TimeGrainQuarter:
		return "Q"
	case models.TimeGrainYear:
		return "YYYY"
	default:
		return "DD"
	}
}

// Placeholder renders the Nth bound-parameter placeholder in the target
// dialect's native syntax: "$N" for Postgres, "?" for the rest. Values are
// always bound this way; synthesis never interpolates a literal directly
// into the SQL text.
func Placeholder(dialect models.Dialect, n int) string {
	switch dialect {
	case models.DialectPostgres:
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// LimitOffset renders the row-windowing clause in the target dialect's
// own syntax, appended after ORDER BY. SQL Server has no LIMIT keyword at
// all (grounded on pkg/adapters/datasource/mssql/query_executor.go, which
// already rewrites a bare ExecuteQuery(limit) into its own paging query
// the same way); Oracle's FETCH FIRST form requires OFFSET to precede it
// even when zero.
func LimitOffset(dialect models.Dialect, limit, offset int) string {
	switch dialect {
	case models.DialectSQLServer:
		clause := fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
		return clause
	case models.DialectOracle:
		return fmt.Sprintf("OFFSET %d ROWS FETCH FIRST %d ROWS ONLY", offset, limit)
	default: // postgres, mysql, snowflake, bigquery
		if offset > 0 {
			return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
		}
		return fmt.Sprintf("LIMIT %d", limit)
	}
}

// AggregationSQL renders a non-calculated metric's aggregation wrapping
// its qualified column.
func AggregationSQL(agg models.Aggregation, qualifiedColumn string) string {
	switch agg {
	case models.AggregationSum:
		return fmt.Sprintf("SUM(%s)", qualifiedColumn)
	case models.AggregationAvg:
		return fmt.Sprintf("AVG(%s)", qualifiedColumn)
	case models.AggregationMin:
		return fmt.Sprintf("MIN(%s)", qualifiedColumn)
	case models.AggregationMax:
		return fmt.Sprintf("MAX(%s)", qualifiedColumn)
	case models.AggregationCount:
		return fmt.Sprintf("COUNT(%s)", qualifiedColumn)
	default:
		return qualifiedColumn
	}
}
