// Recursive-descent parser for SELECT/INSERT/UPDATE/DELETE (spec §4.5).
package sqlfront

import (
	"strconv"
	"strings"

	"github.com/jpl-au/minirel/errs"
)

type parser struct {
	toks []Token
	pos  int
}

// Parse lexes and parses one SQL statement into a LogicalQuery.
func Parse(sql string) (LogicalQuery, error) {
	toks, err := Lex(sql)
	if err != nil {
		return LogicalQuery{}, err
	}
	p := &parser{toks: toks}
	return p.statement()
}

func (p *parser) peek() Token  { return p.toks[p.pos] }
func (p *parser) advance() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) atKeyword(kw string) bool {
	t := p.peek()
	return t.Kind == TokKeyword && t.Text == kw
}

func (p *parser) expectKeyword(kw string) (Token, error) {
	if !p.atKeyword(kw) {
		return Token{}, p.syntaxErr(kw)
	}
	return p.advance(), nil
}

func (p *parser) expectPunct(s string) (Token, error) {
	t := p.peek()
	if t.Kind != TokPunct || t.Text != s {
		return Token{}, p.syntaxErr(s)
	}
	return p.advance(), nil
}

func (p *parser) expectIdent() (Token, error) {
	t := p.peek()
	if t.Kind != TokIdent {
		return Token{}, p.syntaxErr("identifier")
	}
	return p.advance(), nil
}

func (p *parser) syntaxErr(expected string) error {
	t := p.peek()
	found := t.Text
	if found == "" {
		found = "end of input"
	}
	return errs.New(errs.SyntaxError, posMsg(t.Pos, expected, found))
}

func (p *parser) statement() (LogicalQuery, error) {
	t := p.peek()
	if t.Kind != TokKeyword {
		return LogicalQuery{}, p.syntaxErr("SELECT, INSERT, UPDATE, or DELETE")
	}
	switch t.Text {
	case "SELECT":
		return p.selectStmt()
	case "INSERT":
		return p.insertStmt()
	case "UPDATE":
		return p.updateStmt()
	case "DELETE":
		return p.deleteStmt()
	default:
		return LogicalQuery{}, errs.New(errs.UnsupportedConstruct, "unsupported statement: "+t.Text)
	}
}

// qualifiedName parses `ident[.ident]` and returns it joined by '.'.
func (p *parser) qualifiedName() (string, error) {
	first, err := p.expectIdent()
	if err != nil {
		return "", err
	}
	name := first.Text
	if p.peek().Kind == TokPunct && p.peek().Text == "." {
		p.advance()
		second, err := p.expectIdent()
		if err != nil {
			return "", err
		}
		name += "." + second.Text
	}
	return name, nil
}

func (p *parser) selectStmt() (LogicalQuery, error) {
	if _, err := p.expectKeyword("SELECT"); err != nil {
		return LogicalQuery{}, err
	}
	q := LogicalQuery{Kind: Select}

	cols, err := p.selectColumns()
	if err != nil {
		return LogicalQuery{}, err
	}
	q.Columns = cols

	if _, err := p.expectKeyword("FROM"); err != nil {
		return LogicalQuery{}, err
	}
	tables, err := p.identList()
	if err != nil {
		return LogicalQuery{}, err
	}
	q.Tables = tables

	for p.atKeyword("JOIN") {
		p.advance()
		table, err := p.expectIdent()
		if err != nil {
			return LogicalQuery{}, err
		}
		if _, err := p.expectKeyword("ON"); err != nil {
			return LogicalQuery{}, err
		}
		on := p.captureUntil("WHERE", "JOIN", "GROUP", "ORDER")
		q.Joins = append(q.Joins, JoinClause{Table: table.Text, On: on})
	}

	if p.atKeyword("WHERE") {
		p.advance()
		q.Where = p.captureUntil("GROUP", "ORDER")
	}

	if p.atKeyword("GROUP") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return LogicalQuery{}, err
		}
		cols, err := p.identList()
		if err != nil {
			return LogicalQuery{}, err
		}
		q.GroupBy = cols
	}

	if p.atKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return LogicalQuery{}, err
		}
		terms, err := p.orderTerms()
		if err != nil {
			return LogicalQuery{}, err
		}
		q.OrderBy = terms
	}

	return q, nil
}

func (p *parser) selectColumns() ([]string, error) {
	if p.peek().Kind == TokOp && p.peek().Text == "*" {
		p.advance()
		return []string{"*"}, nil
	}
	var cols []string
	for {
		name, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		cols = append(cols, name)
		if p.peek().Kind == TokPunct && p.peek().Text == "," {
			p.advance()
			continue
		}
		break
	}
	return cols, nil
}

func (p *parser) identList() ([]string, error) {
	var names []string
	for {
		name, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if p.peek().Kind == TokPunct && p.peek().Text == "," {
			p.advance()
			continue
		}
		break
	}
	return names, nil
}

func (p *parser) orderTerms() ([]OrderTerm, error) {
	var terms []OrderTerm
	for {
		name, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		term := OrderTerm{Column: name}
		if p.atKeyword("ASC") {
			p.advance()
		} else if p.atKeyword("DESC") {
			p.advance()
			term.Desc = true
		}
		terms = append(terms, term)
		if p.peek().Kind == TokPunct && p.peek().Text == "," {
			p.advance()
			continue
		}
		break
	}
	return terms, nil
}

// appendToken renders one token into sb, re-escaping strings and
// omitting the space around "." and before "," / ")" so that a
// qualified name like `t.col` round-trips without spurious whitespace.
func appendToken(sb *strings.Builder, t Token) {
	noSpaceBefore := t.Kind == TokPunct && (t.Text == "." || t.Text == "," || t.Text == ")")
	noSpaceAfter := sb.Len() > 0 && strings.HasSuffix(sb.String(), ".")
	if sb.Len() > 0 && !noSpaceBefore && !noSpaceAfter {
		sb.WriteByte(' ')
	}
	if t.Kind == TokString {
		sb.WriteByte('\'')
		sb.WriteString(strings.ReplaceAll(t.Text, "'", "''"))
		sb.WriteByte('\'')
	} else {
		sb.WriteString(t.Text)
	}
}

// captureUntil consumes tokens up to (not including) the next
// top-level occurrence of any of stop, or EOF, re-rendering them as a
// raw source-like string for the optimizer to re-lex (spec §4.5).
func (p *parser) captureUntil(stop ...string) string {
	var sb strings.Builder
	depth := 0
	for {
		t := p.peek()
		if t.Kind == TokEOF {
			break
		}
		if depth == 0 && t.Kind == TokKeyword {
			stopped := false
			for _, s := range stop {
				if t.Text == s {
					stopped = true
					break
				}
			}
			if stopped {
				break
			}
		}
		if t.Kind == TokPunct && t.Text == "(" {
			depth++
		}
		if t.Kind == TokPunct && t.Text == ")" {
			depth--
		}
		appendToken(&sb, t)
		p.advance()
	}
	return sb.String()
}

func (p *parser) insertStmt() (LogicalQuery, error) {
	if _, err := p.expectKeyword("INSERT"); err != nil {
		return LogicalQuery{}, err
	}
	if _, err := p.expectKeyword("INTO"); err != nil {
		return LogicalQuery{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return LogicalQuery{}, err
	}
	q := LogicalQuery{Kind: Insert, InsertTable: table.Text}

	if p.peek().Kind == TokPunct && p.peek().Text == "(" {
		p.advance()
		cols, err := p.identList()
		if err != nil {
			return LogicalQuery{}, err
		}
		if _, err := p.expectPunct(")"); err != nil {
			return LogicalQuery{}, err
		}
		q.InsertColumns = cols
	}

	if p.atKeyword("SELECT") {
		sub, err := p.selectStmt()
		if err != nil {
			return LogicalQuery{}, err
		}
		q.InsertSelect = &sub
		return q, nil
	}

	if _, err := p.expectKeyword("VALUES"); err != nil {
		return LogicalQuery{}, err
	}
	for {
		row, err := p.valueRow()
		if err != nil {
			return LogicalQuery{}, err
		}
		q.InsertRows = append(q.InsertRows, row)
		if p.peek().Kind == TokPunct && p.peek().Text == "," {
			p.advance()
			continue
		}
		break
	}
	return q, nil
}

func (p *parser) valueRow() ([]Literal, error) {
	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var vals []Literal
	for {
		lit, err := p.literal()
		if err != nil {
			return nil, err
		}
		vals = append(vals, lit)
		if p.peek().Kind == TokPunct && p.peek().Text == "," {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return vals, nil
}

func (p *parser) literal() (Literal, error) {
	t := p.peek()
	switch t.Kind {
	case TokNumber:
		p.advance()
		if strings.Contains(t.Text, ".") {
			f, err := strconv.ParseFloat(t.Text, 32)
			if err != nil {
				return Literal{}, errs.Wrap(errs.SyntaxError, "invalid float literal", err)
			}
			return Literal{Kind: LiteralFloat, Flt: float32(f)}, nil
		}
		n, err := strconv.ParseInt(t.Text, 10, 32)
		if err != nil {
			return Literal{}, errs.Wrap(errs.SyntaxError, "invalid int literal", err)
		}
		return Literal{Kind: LiteralInt, Int: int32(n)}, nil
	case TokString:
		p.advance()
		return Literal{Kind: LiteralString, Str: t.Text}, nil
	default:
		return Literal{}, p.syntaxErr("a literal value")
	}
}

func (p *parser) updateStmt() (LogicalQuery, error) {
	if _, err := p.expectKeyword("UPDATE"); err != nil {
		return LogicalQuery{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return LogicalQuery{}, err
	}
	q := LogicalQuery{Kind: Update, UpdateTable: table.Text}

	if _, err := p.expectKeyword("SET"); err != nil {
		return LogicalQuery{}, err
	}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return LogicalQuery{}, err
		}
		if _, err := p.expectEq(); err != nil {
			return LogicalQuery{}, err
		}
		expr := p.captureAssignmentExpr()
		q.Assignments = append(q.Assignments, Assignment{Column: col.Text, Expr: expr})
		if p.peek().Kind == TokPunct && p.peek().Text == "," {
			p.advance()
			continue
		}
		break
	}

	if p.atKeyword("WHERE") {
		p.advance()
		q.Where = p.captureUntil()
	}
	return q, nil
}

// captureAssignmentExpr renders one SET assignment's right-hand side as
// a raw string, stopping at the assignment list's comma or at WHERE —
// unlike captureUntil, a top-level comma also terminates capture here.
func (p *parser) captureAssignmentExpr() string {
	var sb strings.Builder
	depth := 0
	for {
		t := p.peek()
		if t.Kind == TokEOF {
			break
		}
		if depth == 0 && t.Kind == TokPunct && t.Text == "," {
			break
		}
		if depth == 0 && t.Kind == TokKeyword && t.Text == "WHERE" {
			break
		}
		if t.Kind == TokPunct && t.Text == "(" {
			depth++
		}
		if t.Kind == TokPunct && t.Text == ")" {
			depth--
		}
		appendToken(&sb, t)
		p.advance()
	}
	return sb.String()
}

func (p *parser) expectEq() (Token, error) {
	t := p.peek()
	if t.Kind != TokOp || t.Text != "=" {
		return Token{}, p.syntaxErr("=")
	}
	return p.advance(), nil
}

func (p *parser) deleteStmt() (LogicalQuery, error) {
	if _, err := p.expectKeyword("DELETE"); err != nil {
		return LogicalQuery{}, err
	}
	if _, err := p.expectKeyword("FROM"); err != nil {
		return LogicalQuery{}, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return LogicalQuery{}, err
	}
	q := LogicalQuery{Kind: Delete, DeleteTable: table.Text}
	if p.atKeyword("WHERE") {
		p.advance()
		q.Where = p.captureUntil()
	}
	return q, nil
}
