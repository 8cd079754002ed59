package sqlfront

import (
	"testing"

	"github.com/jpl-au/minirel/errs"
)

func TestLexStringEscape(t *testing.T) {
	toks, err := Lex(`'O''Brien'`)
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	if len(toks) != 2 || toks[0].Kind != TokString || toks[0].Text != "O'Brien" {
		t.Fatalf("unexpected tokens: %+v", toks)
	}
}

func TestParseSimpleSelect(t *testing.T) {
	q, err := Parse("SELECT * FROM students WHERE id = 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Kind != Select || len(q.Tables) != 1 || q.Tables[0] != "students" {
		t.Fatalf("unexpected query: %+v", q)
	}
	if q.Where != "id = 1" {
		t.Fatalf("unexpected where: %q", q.Where)
	}
}

func TestParseSelectWithJoinGroupOrder(t *testing.T) {
	sql := "SELECT employees.name, departments.name FROM employees JOIN departments ON employees.dept_id = departments.id " +
		"WHERE employees.age > 30 GROUP BY departments.name ORDER BY employees.name DESC"
	q, err := Parse(sql)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.Joins) != 1 || q.Joins[0].Table != "departments" {
		t.Fatalf("unexpected joins: %+v", q.Joins)
	}
	if q.Joins[0].On != "employees.dept_id = departments.id" {
		t.Fatalf("unexpected on clause: %q", q.Joins[0].On)
	}
	if q.Where != "employees.age > 30" {
		t.Fatalf("unexpected where: %q", q.Where)
	}
	if len(q.GroupBy) != 1 || q.GroupBy[0] != "departments.name" {
		t.Fatalf("unexpected group by: %+v", q.GroupBy)
	}
	if len(q.OrderBy) != 1 || q.OrderBy[0].Column != "employees.name" || !q.OrderBy[0].Desc {
		t.Fatalf("unexpected order by: %+v", q.OrderBy)
	}
}

func TestParseInsertValues(t *testing.T) {
	q, err := Parse("INSERT INTO students (id, name, gpa) VALUES (1, 'Alice', 3.5)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Kind != Insert || q.InsertTable != "students" {
		t.Fatalf("unexpected query: %+v", q)
	}
	if len(q.InsertColumns) != 3 {
		t.Fatalf("unexpected columns: %+v", q.InsertColumns)
	}
	if len(q.InsertRows) != 1 || len(q.InsertRows[0]) != 3 {
		t.Fatalf("unexpected rows: %+v", q.InsertRows)
	}
	row := q.InsertRows[0]
	if row[0].Kind != LiteralInt || row[0].Int != 1 {
		t.Fatalf("unexpected id literal: %+v", row[0])
	}
	if row[1].Kind != LiteralString || row[1].Str != "Alice" {
		t.Fatalf("unexpected name literal: %+v", row[1])
	}
	if row[2].Kind != LiteralFloat || row[2].Flt != 3.5 {
		t.Fatalf("unexpected gpa literal: %+v", row[2])
	}
}

func TestParseInsertMultiRow(t *testing.T) {
	q, err := Parse("INSERT INTO students (id) VALUES (1), (2), (3)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.InsertRows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(q.InsertRows))
	}
}

func TestParseUpdateMultipleAssignments(t *testing.T) {
	q, err := Parse("UPDATE accounts SET bal = 900, name = 'closed' WHERE id = 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %+v", q.Assignments)
	}
	if q.Assignments[0].Column != "bal" || q.Assignments[0].Expr != "900" {
		t.Fatalf("unexpected first assignment: %+v", q.Assignments[0])
	}
	if q.Assignments[1].Column != "name" || q.Assignments[1].Expr != "'closed'" {
		t.Fatalf("unexpected second assignment: %+v", q.Assignments[1])
	}
	if q.Where != "id = 1" {
		t.Fatalf("unexpected where: %q", q.Where)
	}
}

func TestParseDeleteWithoutWhere(t *testing.T) {
	q, err := Parse("DELETE FROM students")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Kind != Delete || q.DeleteTable != "students" || q.Where != "" {
		t.Fatalf("unexpected query: %+v", q)
	}
}

func TestParseSyntaxErrorOnMissingFrom(t *testing.T) {
	_, err := Parse("SELECT * students")
	if err == nil || !errs.Is(err, errs.SyntaxError) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestParseUnsupportedStatement(t *testing.T) {
	_, err := Parse("CREATE TABLE foo (id INT)")
	if err == nil || !errs.Is(err, errs.UnsupportedConstruct) {
		t.Fatalf("expected UnsupportedConstruct, got %v", err)
	}
}
