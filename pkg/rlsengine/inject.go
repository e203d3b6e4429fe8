package rlsengine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/semantic-query-engine/pkg/models"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlsynth"
	"github.com/ekaya-inc/semantic-query-engine/pkg/sqlvalidator/ast"
	"github.com/ekaya-inc/semantic-query-engine/pkg/stageerr"
)

// clauseEnderKeywords are the keywords that mark where a scope's
// WHERE-eligible region ends; GROUP/HAVING/ORDER/LIMIT/OFFSET never
// appear inside a well-formed scope body before its own terminator.
var clauseEnderKeywords = map[string]bool{
	"GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true, "OFFSET": true,
}

// scope is one SELECT body eligible for predicate injection: either the
// statement's final query or one CTE's body, identified by its rune
// range within the original SQL text.
type scope struct {
	name      string // CTE name, or "" for the main query
	bodyStart int
	bodyEnd   int
	tables    []string // lower-cased bare table names FROM'd directly in this scope
	hasWhere  bool
	insertAt  int // rune offset, within the full text, to splice injected predicate text
}

// findScopes walks sql looking for `WITH name AS ( ... ) [, ...]` CTE
// bindings followed by the final SELECT, and returns one scope per body.
// Each CTE body and the final query body are independently re-lexed and
// re-parsed as standalone SELECT fragments — every CTE body and the
// final query are themselves complete, grammatically standalone SELECT
// statements, so this requires no special-cased sub-grammar.
func findScopes(sql string) ([]scope, error) {
	runes := []rune(sql)
	tokens := ast.Lex(sql)

	var scopes []scope
	i := 0
	if tokens[i].Kind == ast.TokenKeyword && tokens[i].Value == "WITH" {
		i++
		for {
			if tokens[i].Kind != ast.TokenIdent {
				return nil, fmt.Errorf("rlsengine: expected CTE name at offset %d", tokens[i].Pos)
			}
			name := tokens[i].Value
			i++
			if !(tokens[i].Kind == ast.TokenKeyword && tokens[i].Value == "AS") {
				return nil, fmt.Errorf("rlsengine: expected AS after CTE name %q", name)
			}
			i++
			if !(tokens[i].Kind == ast.TokenPunct && tokens[i].Value == "(") {
				return nil, fmt.Errorf("rlsengine: expected ( after CTE AS for %q", name)
			}
			i++
			bodyStart := tokens[i].Pos
			depth := 1
			for depth > 0 {
				if tokens[i].Kind == ast.TokenEOF {
					return nil, fmt.Errorf("rlsengine: unterminated CTE body for %q", name)
				}
				if tokens[i].Kind == ast.TokenPunct && tokens[i].Value == "(" {
					depth++
				}
				if tokens[i].Kind == ast.TokenPunct && tokens[i].Value == ")" {
					depth--
					if depth == 0 {
						break
					}
				}
				i++
			}
			bodyEnd := tokens[i].Pos
			s, err := buildScope(name, string(runes[bodyStart:bodyEnd]), bodyStart)
			if err != nil {
				return nil, err
			}
			scopes = append(scopes, s)
			i++ // consume ")"
			if tokens[i].Kind == ast.TokenPunct && tokens[i].Value == "," {
				i++
				continue
			}
			break
		}
	}

	mainStart := tokens[i].Pos
	mainBody := string(runes[mainStart:])
	mainScope, err := buildScope("", mainBody, mainStart)
	if err != nil {
		return nil, err
	}
	scopes = append(scopes, mainScope)
	return scopes, nil
}

// buildScope parses body (a standalone SELECT fragment, offset by
// baseOffset runes into the original text) and computes where within the
// full text a new or extended WHERE predicate should be spliced.
func buildScope(name, body string, baseOffset int) (scope, error) {
	stmt, err := ast.Parse(strings.TrimRight(body, " \t\n"))
	if err != nil {
		return scope{}, fmt.Errorf("rlsengine: scope %q did not parse as a standalone SELECT: %w", name, err)
	}

	var tables []string
	for _, f := range stmt.Query.From {
		if f.Subquery == nil {
			tables = append(tables, strings.ToLower(f.Table))
		}
	}

	tokens := ast.Lex(body)
	depth := 0
	hasWhere := false
	insertAt := len([]rune(body))
	for _, t := range tokens {
		if t.Kind == ast.TokenPunct && t.Value == "(" {
			depth++
		}
		if t.Kind == ast.TokenPunct && t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == ast.TokenKeyword && t.Value == "WHERE" {
			hasWhere = true
		}
		if depth == 0 && t.Kind == ast.TokenKeyword && clauseEnderKeywords[t.Value] {
			insertAt = t.Pos
			break
		}
	}

	return scope{
		name:      name,
		bodyStart: baseOffset,
		bodyEnd:   baseOffset + len([]rune(body)),
		tables:    tables,
		hasWhere:  hasWhere,
		insertAt:  baseOffset + insertAt,
	}, nil
}

// InjectFilters conjoins every active RLSFilter bound to a table present
// in canonical.SQL onto the correct scope's WHERE clause (CTE-aware: a
// filter on a table materialized only inside a CTE attaches to that
// CTE's own body, not the outer query). Values are always appended to
// Params and referenced by a placeholder, never spliced into the SQL
// text. Admins and nil contexts pass through unchanged.
func (e *Engine) InjectFilters(canonical *models.CanonicalSQL, userCtx *models.UserContext) (*models.CanonicalSQL, error) {
	if userCtx == nil || userCtx.IsAdmin {
		return canonical, nil
	}
	if len(userCtx.RLSFilters) == 0 {
		return canonical, nil
	}

	scopes, err := findScopes(canonical.SQL)
	if err != nil {
		return nil, stageerr.Wrap(stageerr.KindAuth, stageerr.StageRLSInjection, "could not re-parse synthesized SQL for predicate injection", err, map[string]any{"sql": canonical.SQL})
	}

	out := *canonical
	out.Params = append([]any{}, canonical.Params...)

	type edit struct {
		pos  int
		text string
	}
	var edits []edit

	for _, sc := range scopes {
		tableSet := map[string]bool{}
		for _, t := range sc.tables {
			tableSet[t] = true
		}

		var predicates []string
		for _, filter := range userCtx.RLSFilters {
			if !filter.Active || !tableSet[strings.ToLower(filter.Table)] {
				continue
			}
			pred, newParams := renderRLSPredicate(filter, canonical.Dialect, len(out.Params))
			predicates = append(predicates, pred)
			out.Params = append(out.Params, newParams...)
		}
		if len(predicates) == 0 {
			continue
		}
		sort.Strings(predicates) // deterministic ordering regardless of filter storage order

		var text string
		joined := strings.Join(predicates, " AND ")
		if sc.hasWhere {
			text = " AND (" + joined + ")"
		} else {
			text = " WHERE (" + joined + ")"
		}
		edits = append(edits, edit{pos: sc.insertAt, text: text})
	}

	if len(edits) == 0 {
		return &out, nil
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].pos > edits[j].pos })
	runes := []rune(canonical.SQL)
	for _, ed := range edits {
		var b []rune
		b = append(b, runes[:ed.pos]...)
		b = append(b, []rune(ed.text)...)
		b = append(b, runes[ed.pos:]...)
		runes = b
	}
	out.SQL = string(runes)

	return &out, nil
}

// renderRLSPredicate builds one bound predicate for filter, continuing
// placeholder numbering from nextParamIndex (the count of params already
// bound ahead of it). For IN/NOT IN it expects filter.Value to be a
// slice and binds one placeholder per element.
func renderRLSPredicate(filter models.RLSFilter, dialect models.Dialect, nextParamIndex int) (string, []any) {
	col := sqlsynth.QuoteQualified(dialect, filter.Table, filter.Column)

	switch filter.Operator {
	case models.OpIsNull:
		return fmt.Sprintf("%s IS NULL", col), nil
	case models.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil
	case models.OpIn, models.OpNotIn:
		values, ok := filter.Value.([]any)
		if !ok {
			values = []any{filter.Value}
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = sqlsynth.Placeholder(dialect, nextParamIndex+i+1)
		}
		op := "IN"
		if filter.Operator == models.OpNotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), values
	default:
		ph := sqlsynth.Placeholder(dialect, nextParamIndex+1)
		return fmt.Sprintf("%s %s %s", col, string(filter.Operator), ph), []any{filter.Value}
	}
}
