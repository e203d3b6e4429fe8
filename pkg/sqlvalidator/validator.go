// Package sqlvalidator implements C8, the SQL validator: structural,
// security, schema, and performance checks run on synthesized SQL both
// before and after RLS predicate injection.
package sqlvalidator

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	sqlpkg "github.com/ekaya-inc/semantic-query-engine/pkg/sql"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlvalidator/ast"
)

// Level is a validation strictness tier. The three levels differ only in
// allowed function sets and complexity caps, per spec.md §4.8.
type Level string

const (
	LevelStrict     Level = "STRICT"
	LevelModerate   Level = "MODERATE"
	LevelPermissive Level = "PERMISSIVE"
)

// Severity of a reported issue.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Stable error/warning codes. Callers key off these, not Message text.
const (
	CodeParseError         = "PARSE_ERROR"
	CodeForbiddenOperation = "FORBIDDEN_OPERATION"
	CodeSQLInjectionRisk   = "SQL_INJECTION_RISK"
	CodeUnknownTable       = "UNKNOWN_TABLE"
	CodeUnknownColumn      = "UNKNOWN_COLUMN"
	CodeMultipleStatements = "MULTIPLE_STATEMENTS"
	CodeLimitRequired      = "LIMIT_REQUIRED"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeDepthExceeded      = "NESTING_TOO_DEEP"
	CodeTooManyJoins       = "TOO_MANY_JOINS"
	CodeSelectStar         = "SELECT_STAR"
	CodeJoinWithoutWhere   = "JOIN_WITHOUT_WHERE"
)

// Issue is one finding, matching spec.md §4.8's output contract.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Location int      `json:"location,omitempty"` // token byte offset, 0 if not applicable
	Context  string   `json:"context,omitempty"`
}

// Metadata describes the parsed statement's shape.
type Metadata struct {
	HasCTE        bool   `json:"has_cte"`
	HasSubquery   bool   `json:"has_subquery"`
	JoinCount     int    `json:"join_count"`
	Depth         int    `json:"depth"`
	StatementType string `json:"statement_type"`
}

// Result is C8's full output.
type Result struct {
	OK       bool     `json:"ok"`
	Errors   []Issue  `json:"errors"`
	Warnings []Issue  `json:"warnings"`
	Metadata Metadata `json:"metadata"`
}

// Limits bound structural complexity; STRICT/MODERATE/PERMISSIVE each map
// to a preset via DefaultLimits, but callers may override.
type Limits struct {
	MaxDepth     int
	MaxJoins     int
	MaxRowLimit  int
	RequireLimit bool
}

// DefaultLimits returns the preset complexity caps for level. STRICT is
// tightest; PERMISSIVE relaxes caps and downgrades schema-check errors to
// warnings.
func DefaultLimits(level Level, maxRowLimit int) Limits {
	switch level {
	case LevelStrict:
		return Limits{MaxDepth: 2, MaxJoins: 4, MaxRowLimit: maxRowLimit, RequireLimit: true}
	case LevelPermissive:
		return Limits{MaxDepth: 5, MaxJoins: 12, MaxRowLimit: maxRowLimit, RequireLimit: false}
	default: // MODERATE
		return Limits{MaxDepth: 3, MaxJoins: 8, MaxRowLimit: maxRowLimit, RequireLimit: true}
	}
}

// forbiddenKeywords are DDL/DML/permission statements never allowed to
// appear anywhere in the token stream, not just as the leading statement
// keyword — catching e.g. a DELETE smuggled inside a string that survived
// as an identifier, or a dialect that permits statement chaining through
// a function call.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"ALTER": true, "TRUNCATE": true, "GRANT": true, "REVOKE": true,
	"CREATE": true, "MERGE": true,
}

// dangerousFunctions is the denied-function blacklist spec.md §4.8 names.
// Matched case-insensitively against identifier tokens and multi-word
// phrases found in the raw SQL text.
var dangerousFunctions = []string{
	"xp_cmdshell", "load_file", "into outfile", "pg_read_file", "copy", "exec", "execute",
}

// injectionPhrases are literal raw-text fingerprints spec.md §4.8 step 3
// calls out explicitly, checked in addition to libinjection-backed
// parameter scanning (pkg/sql.CheckParameterForInjection, reused
// unchanged from the teacher's stack).
var injectionPhrases = []string{"' or '1'='1", "union select"}

// Validator is C8.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs the full pipeline. snapshot may be nil only when the
// schema-existence check (step 4) is to be skipped entirely (never done
// in production — the orchestrator always has a snapshot by the time C8
// runs); params are the bound values that will accompany sql, scanned for
// injection fingerprints independently of the SQL text itself.
func (v *Validator) Validate(sql string, params []any, snapshot *models.SchemaSnapshot, level Level, limits Limits) Result {
	result := Result{OK: true}

	normalized := sqlpkg.ValidateAndNormalize(sql)
	if normalized.Error != nil {
		result.OK = false
		result.Errors = append(result.Errors, Issue{Code: CodeMultipleStatements, Message: normalized.Error.Error(), Severity: SeverityError})
		return result
	}

	stmt, err := ast.Parse(normalized.NormalizedSQL)
	if err != nil {
		result.OK = false
		pos := 0
		if pe, ok := err.(*ast.ParseError); ok {
			pos = pe.Pos
		}
		result.Errors = append(result.Errors, Issue{Code: CodeParseError, Message: err.Error(), Severity: SeverityError, Location: pos})
		return result
	}

	result.Metadata = Metadata{
		HasCTE:        len(stmt.CTEs) > 0,
		HasSubquery:   len(stmt.Query.Subqueries) > 0 || hasNestedSubquery(stmt),
		JoinCount:     stmt.Query.JoinCount(),
		Depth:         stmt.Query.MaxDepth(),
		StatementType: "SELECT",
	}

	// Step 2: structure.
	if result.Metadata.Depth > limits.MaxDepth {
		result.addError(Issue{Code: CodeDepthExceeded, Message: fmt.Sprintf("nesting depth %d exceeds max %d", result.Metadata.Depth, limits.MaxDepth), Severity: SeverityError})
	}
	if result.Metadata.JoinCount > limits.MaxJoins {
		result.addError(Issue{Code: CodeTooManyJoins, Message: fmt.Sprintf("join count %d exceeds max %d", result.Metadata.JoinCount, limits.MaxJoins), Severity: SeverityError})
	}

	// Step 3: security.
	tokens := ast.Lex(normalized.NormalizedSQL)
	for _, t := range tokens {
		if t.Kind == ast.TokenKeyword && forbiddenKeywords[t.Value] {
			result.addError(Issue{Code: CodeForbiddenOperation, Message: fmt.Sprintf("forbidden operation %q", t.Value), Severity: SeverityError, Location: t.Pos})
		}
	}
	lowerSQL := strings.ToLower(normalized.NormalizedSQL)
	for _, fn := range dangerousFunctions {
		if strings.Contains(lowerSQL, fn) {
			result.addError(Issue{Code: CodeForbiddenOperation, Message: fmt.Sprintf("dangerous function or clause %q", fn), Severity: SeverityError})
		}
	}
	for _, phrase := range injectionPhrases {
		if strings.Contains(lowerSQL, phrase) {
			result.addError(Issue{Code: CodeSQLInjectionRisk, Message: fmt.Sprintf("injection pattern detected: %q", phrase), Severity: SeverityError})
		}
	}
	for i, val := range params {
		if check := sqlpkg.CheckParameterForInjection(fmt.Sprintf("param_%d", i), val); check != nil {
			result.addError(Issue{Code: CodeSQLInjectionRisk, Message: fmt.Sprintf("injection pattern in bound parameter: %s", check.Fingerprint), Severity: SeverityError})
		}
	}

	// Step 4: schema.
	if snapshot != nil {
		schemaSeverity := SeverityError
		if level == LevelPermissive {
			schemaSeverity = SeverityWarning
		}
		for _, tableName := range stmt.Query.AllTableNames() {
			if snapshot.TableByTableName(tableName) == nil {
				issue := Issue{Code: CodeUnknownTable, Message: fmt.Sprintf("unknown table %q", tableName), Severity: schemaSeverity, Context: tableName}
				if schemaSeverity == SeverityError {
					result.addError(issue)
				} else {
					result.Warnings = append(result.Warnings, issue)
				}
			}
		}
	}

	// Step 5: performance, WARN-only regardless of level.
	if stmt.Query.SelectStars {
		result.Warnings = append(result.Warnings, Issue{Code: CodeSelectStar, Message: "SELECT * prevents column-level RLS pruning", Severity: SeverityWarning})
	}
	if len(stmt.Query.From) > 1 && len(stmt.Query.WhereTokens) == 0 {
		result.Warnings = append(result.Warnings, Issue{Code: CodeJoinWithoutWhere, Message: "JOIN without WHERE", Severity: SeverityWarning})
	}

	// Step 6: LIMIT.
	if limits.RequireLimit && !stmt.Query.HasLimit {
		result.addError(Issue{Code: CodeLimitRequired, Message: "LIMIT is required but absent", Severity: SeverityError})
	}
	if stmt.Query.HasLimit && stmt.Query.Limit > limits.MaxRowLimit {
		result.addError(Issue{Code: CodeLimitExceeded, Message: fmt.Sprintf("LIMIT %d exceeds max_row_limit %d", stmt.Query.Limit, limits.MaxRowLimit), Severity: SeverityError})
	}

	return result
}

func (r *Result) addError(issue Issue) {
	r.Errors = append(r.Errors, issue)
	r.OK = false
}

// hasNestedSubquery reports whether any CTE body itself contains a
// subquery, for HasCTE+HasSubquery metadata completeness beyond the
// final query's own direct subqueries.
func hasNestedSubquery(stmt *ast.Statement) bool {
	for _, c := range stmt.CTEs {
		if len(c.Query.Subqueries) > 0 {
			return true
		}
	}
	return false
}
