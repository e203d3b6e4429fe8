package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// TableRef is one FROM/JOIN source: either a bare table name or a
// parenthesized subquery, optionally aliased.
type TableRef struct {
	Schema   string
	Table    string // empty when Subquery != nil
	Alias    string
	Subquery *SelectQuery
	JoinKind string // "", "INNER", "LEFT", "RIGHT", "FULL" — "" for the first FROM item
}

// ColumnRef is a dotted (or bare) column reference found anywhere in the
// statement — select list, WHERE, GROUP BY, ORDER BY, HAVING.
type ColumnRef struct {
	Qualifier string // table name or alias; empty if unqualified
	Column    string
}

// SelectQuery is one SELECT ... of a (possibly CTE-wrapped) statement.
type SelectQuery struct {
	Distinct    bool
	SelectStars bool // true if any select-list item is a bare "*"
	Columns     []ColumnRef
	From        []TableRef
	WhereTokens []Token // raw token span, scanned for forbidden keywords/functions
	GroupBy     []ColumnRef
	OrderBy     []ColumnRef
	HasLimit    bool
	Limit       int
	Offset      int
	Subqueries  []*SelectQuery // nested subqueries found in FROM or the select list, for depth/count
}

// CTE is one WITH name AS (query) binding.
type CTE struct {
	Name  string
	Query *SelectQuery
}

// Statement is the top of the parse tree: zero or more CTEs feeding one
// final SELECT.
type Statement struct {
	CTEs  []CTE
	Query *SelectQuery
}

// ParseError carries the byte offset of the failing token alongside the
// message, so callers can report a location the way spec.md's error
// contract expects.
type ParseError struct {
	Message string
	Pos     int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sql parse error at %d: %s", e.Pos, e.Message)
}

type parser struct {
	tokens []Token
	pos    int
}

// Parse parses sql as a single SELECT or WITH ... SELECT statement. Any
// other leading keyword (INSERT, UPDATE, DELETE, DROP, ...) or trailing
// content after the statement is a parse error — this parser has no
// grammar for anything but read-only SELECT, which is the point.
func Parse(sql string) (*Statement, error) {
	p := &parser{tokens: Lex(sql)}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, &ParseError{Message: fmt.Sprintf("unexpected trailing token %q", tok.Value), Pos: tok.Pos}
	}
	return stmt, nil
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+offset]
}

func (p *parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectKeyword(kw string) (Token, error) {
	t := p.peek()
	if t.Kind != TokenKeyword || t.Value != kw {
		return t, &ParseError{Message: fmt.Sprintf("expected %s, got %q", kw, t.Value), Pos: t.Pos}
	}
	return p.advance(), nil
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.Kind == TokenKeyword && t.Value == kw
}

func (p *parser) isPunct(v string) bool {
	t := p.peek()
	return t.Kind == TokenPunct && t.Value == v
}

func (p *parser) parseStatement() (*Statement, error) {
	stmt := &Statement{}

	if p.isKeyword("WITH") {
		p.advance()
		for {
			nameTok := p.advance()
			if nameTok.Kind != TokenIdent {
				return nil, &ParseError{Message: "expected CTE name", Pos: nameTok.Pos}
			}
			if _, err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if !p.isPunct("(") {
				return nil, &ParseError{Message: "expected ( after CTE AS", Pos: p.peek().Pos}
			}
			p.advance()
			q, err := p.parseSelectCore()
			if err != nil {
				return nil, err
			}
			if !p.isPunct(")") {
				return nil, &ParseError{Message: "expected ) closing CTE", Pos: p.peek().Pos}
			}
			p.advance()
			stmt.CTEs = append(stmt.CTEs, CTE{Name: nameTok.Value, Query: q})
			if p.isPunct(",") {
				p.advance()
				continue
			}
			break
		}
	}

	if !p.isKeyword("SELECT") {
		t := p.peek()
		if t.Kind == TokenKeyword {
			return nil, &ParseError{Message: fmt.Sprintf("statement type %q is not permitted; only SELECT is", t.Value), Pos: t.Pos}
		}
		return nil, &ParseError{Message: "expected SELECT", Pos: t.Pos}
	}

	q, err := p.parseSelectCore()
	if err != nil {
		return nil, err
	}
	stmt.Query = q
	return stmt, nil
}

// clauseKeywords are the keywords that terminate the preceding clause
// when scanning a raw token span (WHERE/GROUP BY/etc.), so the parser
// knows where to stop without a full expression grammar.
var clauseEnders = map[string]bool{
	"FROM": true, "WHERE": true, "GROUP": true, "HAVING": true,
	"ORDER": true, "LIMIT": true, "OFFSET": true,
}

func (p *parser) parseSelectCore() (*SelectQuery, error) {
	if _, err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	q := &SelectQuery{}
	if p.isKeyword("DISTINCT") {
		q.Distinct = true
		p.advance()
	}

	cols, subqueries, stars, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}
	q.Columns = cols
	q.Subqueries = append(q.Subqueries, subqueries...)
	q.SelectStars = stars

	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, fromSubqueries, err := p.parseFromList()
	if err != nil {
		return nil, err
	}
	q.From = from
	q.Subqueries = append(q.Subqueries, fromSubqueries...)

	if p.isKeyword("WHERE") {
		p.advance()
		q.WhereTokens = p.consumeUntilClauseEnd()
	}
	if p.isKeyword("GROUP") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		q.GroupBy = p.parseColumnRefList()
	}
	if p.isKeyword("HAVING") {
		p.advance()
		p.consumeUntilClauseEnd()
	}
	if p.isKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		q.OrderBy = p.parseOrderByList()
	}
	if p.isKeyword("LIMIT") {
		p.advance()
		t := p.advance()
		n, convErr := strconv.Atoi(t.Value)
		if convErr == nil {
			q.HasLimit = true
			q.Limit = n
		}
	}
	if p.isKeyword("OFFSET") {
		p.advance()
		t := p.advance()
		n, convErr := strconv.Atoi(t.Value)
		if convErr == nil {
			q.Offset = n
		}
		// SQL Server and Oracle have no LIMIT keyword at all (spec.md
		// §4.7's dialect fan-out): OFFSET n ROWS FETCH {FIRST|NEXT} n ROWS
		// ONLY is the only paging syntax either dialect accepts, so an
		// OFFSET with no preceding LIMIT is read as that form instead.
		if p.isKeyword("ROWS") {
			p.advance()
		}
		if p.isKeyword("FETCH") {
			p.advance()
			if p.isKeyword("FIRST") || p.isKeyword("NEXT") {
				p.advance()
			}
			t := p.advance()
			if n, convErr := strconv.Atoi(t.Value); convErr == nil {
				q.HasLimit = true
				q.Limit = n
			}
			if p.isKeyword("ROWS") {
				p.advance()
			}
			if p.isKeyword("ONLY") {
				p.advance()
			}
		}
	}

	return q, nil
}

// consumeUntilClauseEnd returns the raw token span up to (not including)
// the next top-level clause keyword or statement end, respecting
// parenthesis nesting so a subquery's own GROUP BY doesn't end the outer
// clause early.
func (p *parser) consumeUntilClauseEnd() []Token {
	var span []Token
	depth := 0
	for {
		t := p.peek()
		if t.Kind == TokenEOF || t.Value == ")" && depth == 0 {
			break
		}
		if t.Kind == TokenPunct && t.Value == "(" {
			depth++
		}
		if t.Kind == TokenPunct && t.Value == ")" {
			depth--
		}
		if depth == 0 && t.Kind == TokenKeyword && clauseEnders[t.Value] {
			break
		}
		span = append(span, p.advance())
	}
	return span
}

// parseSelectList splits the select list on top-level commas, captures
// any dotted column references, collects "*" usage, and descends into
// scalar subqueries "(SELECT ...)" appearing as a select-list item.
func (p *parser) parseSelectList() ([]ColumnRef, []*SelectQuery, bool, error) {
	var cols []ColumnRef
	var subqueries []*SelectQuery
	stars := false

	for {
		if p.isPunct("(") && p.peekAt(1).Kind == TokenKeyword && (p.peekAt(1).Value == "SELECT" || p.peekAt(1).Value == "WITH") {
			p.advance()
			sub, err := p.parseSelectCore()
			if err != nil {
				return nil, nil, false, err
			}
			if !p.isPunct(")") {
				return nil, nil, false, &ParseError{Message: "expected ) closing subquery", Pos: p.peek().Pos}
			}
			p.advance()
			subqueries = append(subqueries, sub)
			p.skipOptionalAlias()
		} else {
			itemCols, isStar := p.scanExpressionItem()
			cols = append(cols, itemCols...)
			if isStar {
				stars = true
			}
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return cols, subqueries, stars, nil
}

// scanExpressionItem consumes one select-list expression up to the next
// top-level comma or FROM, extracting any column references it contains
// without needing a full expression grammar (aggregate/function call
// arguments and arithmetic are all just scanned through uniformly).
func (p *parser) scanExpressionItem() ([]ColumnRef, bool) {
	var cols []ColumnRef
	depth := 0
	star := false
	for {
		t := p.peek()
		if t.Kind == TokenEOF {
			break
		}
		if depth == 0 && (t.Kind == TokenPunct && t.Value == ",") {
			break
		}
		if depth == 0 && t.Kind == TokenKeyword && t.Value == "FROM" {
			break
		}
		if t.Kind == TokenPunct && t.Value == "(" {
			depth++
			p.advance()
			continue
		}
		if t.Kind == TokenPunct && t.Value == ")" {
			if depth == 0 {
				break
			}
			depth--
			p.advance()
			continue
		}
		if t.Kind == TokenPunct && t.Value == "*" {
			star = true
			p.advance()
			continue
		}
		if t.Kind == TokenIdent {
			ref, consumed := p.scanDottedIdent()
			cols = append(cols, ref)
			if consumed {
				continue
			}
		}
		p.advance()
	}
	return cols, star
}

// scanDottedIdent consumes ident[.ident] starting at the current
// position (which must be a TokenIdent) and returns the resulting
// reference. The bool reports whether it advanced (always true).
func (p *parser) scanDottedIdent() (ColumnRef, bool) {
	first := p.advance()
	if p.isPunct(".") {
		p.advance()
		second := p.advance()
		return ColumnRef{Qualifier: first.Value, Column: second.Value}, true
	}
	return ColumnRef{Column: first.Value}, true
}

// parseColumnRefList parses a comma-separated list of (possibly dotted)
// column references, stopping at the next top-level clause keyword or
// end of input. Non-identifier tokens between commas (e.g. a bare
// ordinal position in GROUP BY 1) are skipped.
func (p *parser) parseColumnRefList() []ColumnRef {
	var refs []ColumnRef
	for {
		t := p.peek()
		if t.Kind == TokenEOF || (t.Kind == TokenKeyword && clauseEnders[t.Value]) {
			break
		}
		if t.Kind == TokenIdent {
			ref, _ := p.scanDottedIdent()
			refs = append(refs, ref)
		} else {
			p.advance()
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		break
	}
	return refs
}

// parseOrderByList is parseColumnRefList plus ASC/DESC direction
// keywords, which carry no information the caller needs but must still
// be consumed so they don't trip clause-boundary detection.
func (p *parser) parseOrderByList() []ColumnRef {
	var refs []ColumnRef
	for {
		t := p.peek()
		if t.Kind == TokenEOF || (t.Kind == TokenKeyword && clauseEnders[t.Value]) {
			break
		}
		switch {
		case t.Kind == TokenIdent:
			ref, _ := p.scanDottedIdent()
			refs = append(refs, ref)
		case t.Kind == TokenKeyword && (t.Value == "ASC" || t.Value == "DESC"):
			p.advance()
		default:
			p.advance()
		}
		if p.isPunct(",") {
			p.advance()
			continue
		}
		if t.Kind == TokenKeyword && (t.Value == "ASC" || t.Value == "DESC") {
			continue
		}
		break
	}
	return refs
}

// parseFromList parses the comma-separated FROM items and any following
// JOIN clauses (INNER/LEFT/RIGHT/FULL [OUTER] JOIN ... ON ...).
func (p *parser) parseFromList() ([]TableRef, []*SelectQuery, error) {
	var refs []TableRef
	var subqueries []*SelectQuery

	ref, sub, err := p.parseTableRef("")
	if err != nil {
		return nil, nil, err
	}
	refs = append(refs, ref)
	if sub != nil {
		subqueries = append(subqueries, sub)
	}

	for p.isPunct(",") {
		p.advance()
		ref, sub, err := p.parseTableRef("")
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, ref)
		if sub != nil {
			subqueries = append(subqueries, sub)
		}
	}

	for {
		kind := p.joinKind()
		if kind == "" {
			break
		}
		if _, err := p.expectKeyword("JOIN"); err != nil {
			return nil, nil, err
		}
		ref, sub, err := p.parseTableRef(kind)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, ref)
		if sub != nil {
			subqueries = append(subqueries, sub)
		}
		if p.isKeyword("ON") {
			p.advance()
			p.consumeUntilClauseEnd()
		}
	}

	return refs, subqueries, nil
}

// joinKind consumes any INNER/LEFT/RIGHT/FULL/OUTER qualifiers preceding
// a JOIN keyword and returns the resolved join kind, or "" if the current
// position isn't a join at all.
func (p *parser) joinKind() string {
	kind := ""
	save := p.pos
	for p.isKeyword("INNER") || p.isKeyword("LEFT") || p.isKeyword("RIGHT") || p.isKeyword("FULL") || p.isKeyword("OUTER") {
		if kind == "" {
			kind = p.peek().Value
		}
		p.advance()
	}
	if p.isKeyword("JOIN") {
		if kind == "" {
			kind = "INNER"
		}
		return kind
	}
	p.pos = save
	return ""
}

func (p *parser) parseTableRef(joinKind string) (TableRef, *SelectQuery, error) {
	if p.isPunct("(") {
		p.advance()
		sub, err := p.parseSelectCore()
		if err != nil {
			return TableRef{}, nil, err
		}
		if !p.isPunct(")") {
			return TableRef{}, nil, &ParseError{Message: "expected ) closing derived table", Pos: p.peek().Pos}
		}
		p.advance()
		alias := p.skipOptionalAlias()
		return TableRef{Subquery: sub, Alias: alias, JoinKind: joinKind}, sub, nil
	}

	first := p.advance()
	if first.Kind != TokenIdent {
		return TableRef{}, nil, &ParseError{Message: fmt.Sprintf("expected table name, got %q", first.Value), Pos: first.Pos}
	}
	ref := TableRef{Table: first.Value, JoinKind: joinKind}
	if p.isPunct(".") {
		p.advance()
		second := p.advance()
		ref.Schema = first.Value
		ref.Table = second.Value
	}
	ref.Alias = p.skipOptionalAlias()
	return ref, nil, nil
}

// skipOptionalAlias consumes an optional "[AS] ident" alias and returns
// it, or "" if none is present.
func (p *parser) skipOptionalAlias() string {
	if p.isKeyword("AS") {
		p.advance()
		t := p.advance()
		return t.Value
	}
	t := p.peek()
	if t.Kind == TokenIdent {
		p.advance()
		return t.Value
	}
	return ""
}

// MaxDepth returns the deepest nesting of subqueries within q, counting q
// itself as depth 1.
func (q *SelectQuery) MaxDepth() int {
	depth := 1
	for _, s := range q.Subqueries {
		if d := s.MaxDepth() + 1; d > depth {
			depth = d
		}
	}
	return depth
}

// JoinCount returns the number of JOIN clauses in q (not counting nested
// subqueries).
func (q *SelectQuery) JoinCount() int {
	count := 0
	for _, f := range q.From {
		if f.JoinKind != "" {
			count++
		}
	}
	return count
}

// AllTableNames returns every bare table name referenced by q and its
// subqueries, lower-cased, for schema existence checking.
func (q *SelectQuery) AllTableNames() []string {
	var names []string
	for _, f := range q.From {
		if f.Subquery != nil {
			names = append(names, f.Subquery.AllTableNames()...)
			continue
		}
		names = append(names, strings.ToLower(f.Table))
	}
	for _, s := range q.Subqueries {
		names = append(names, s.AllTableNames()...)
	}
	return names
}
