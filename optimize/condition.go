// Decomposing a raw WHERE/ON clause (captured verbatim by sqlfront, spec
// §4.5) into the conjunction of typed plan.Condition values the cost
// model and the operator engine operate on (spec §4.6 step 1: "decompose
// WHERE into a conjunction").
package optimize

import (
	"strconv"
	"strings"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/plan"
	"github.com/jpl-au/minirel/sqlfront"
)

// decomposeConjunction re-lexes raw and splits it into top-level
// (paren-depth zero) AND-separated conditions. An OR at top level is
// rejected: spec §4.6's rewrite only ever reasons about a conjunction.
func decomposeConjunction(raw string) ([]plan.Condition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	toks, err := sqlfront.Lex(raw)
	if err != nil {
		return nil, err
	}

	var conjuncts [][]sqlfront.Token
	var cur []sqlfront.Token
	depth := 0
	for _, t := range toks {
		if t.Kind == sqlfront.TokEOF {
			break
		}
		if t.Kind == sqlfront.TokPunct && t.Text == "(" {
			depth++
		}
		if t.Kind == sqlfront.TokPunct && t.Text == ")" {
			depth--
		}
		if depth == 0 && t.Kind == sqlfront.TokKeyword && t.Text == "OR" {
			return nil, errs.New(errs.UnsupportedConstruct, "OR is not supported in WHERE/ON clauses")
		}
		if depth == 0 && t.Kind == sqlfront.TokKeyword && t.Text == "AND" {
			conjuncts = append(conjuncts, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		conjuncts = append(conjuncts, cur)
	}

	conditions := make([]plan.Condition, 0, len(conjuncts))
	for _, c := range conjuncts {
		cond, err := parseCondition(c)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// operand is one side of a condition: either a column reference (bare or
// table-qualified) or a literal value.
type operand struct {
	isColumn bool
	column   string
	value    any
}

func parseCondition(toks []sqlfront.Token) (plan.Condition, error) {
	opIdx := -1
	for i, t := range toks {
		if t.Kind == sqlfront.TokOp && t.Text != "*" {
			opIdx = i
			break
		}
	}
	if opIdx < 0 {
		return plan.Condition{}, errs.New(errs.SyntaxError, "condition has no comparison operator")
	}

	op, err := compareOpFromText(toks[opIdx].Text)
	if err != nil {
		return plan.Condition{}, err
	}
	left, err := parseOperand(toks[:opIdx])
	if err != nil {
		return plan.Condition{}, err
	}
	right, err := parseOperand(toks[opIdx+1:])
	if err != nil {
		return plan.Condition{}, err
	}

	switch {
	case left.isColumn && right.isColumn:
		return plan.Condition{Shape: plan.ColumnColumn, Left: left.column, Right: right.column, Op: op}, nil
	case left.isColumn && !right.isColumn:
		return plan.Condition{Shape: plan.ColumnValue, Left: left.column, Value: right.value, Op: op}, nil
	case !left.isColumn && right.isColumn:
		return plan.Condition{Shape: plan.ValueColumn, Left: right.column, Value: left.value, Op: op}, nil
	default:
		return plan.Condition{}, errs.New(errs.SyntaxError, "condition compares two literals")
	}
}

func parseOperand(toks []sqlfront.Token) (operand, error) {
	if len(toks) == 0 {
		return operand{}, errs.New(errs.SyntaxError, "empty operand in condition")
	}
	if toks[0].Kind == sqlfront.TokIdent {
		name := toks[0].Text
		i := 1
		for i+1 < len(toks) && toks[i].Kind == sqlfront.TokPunct && toks[i].Text == "." && toks[i+1].Kind == sqlfront.TokIdent {
			name += "." + toks[i+1].Text
			i += 2
		}
		if i != len(toks) {
			return operand{}, errs.New(errs.SyntaxError, "malformed column reference in condition")
		}
		return operand{isColumn: true, column: name}, nil
	}
	if len(toks) == 1 {
		switch toks[0].Kind {
		case sqlfront.TokNumber:
			if strings.Contains(toks[0].Text, ".") {
				f, err := strconv.ParseFloat(toks[0].Text, 32)
				if err != nil {
					return operand{}, errs.Wrap(errs.SyntaxError, "bad float literal", err)
				}
				return operand{value: float32(f)}, nil
			}
			n, err := strconv.ParseInt(toks[0].Text, 10, 32)
			if err != nil {
				return operand{}, errs.Wrap(errs.SyntaxError, "bad int literal", err)
			}
			return operand{value: int32(n)}, nil
		case sqlfront.TokString:
			return operand{value: toks[0].Text}, nil
		}
	}
	return operand{}, errs.New(errs.SyntaxError, "unrecognized operand in condition")
}

func compareOpFromText(text string) (plan.CompareOp, error) {
	switch text {
	case "=":
		return plan.Eq, nil
	case "<>", "!=":
		return plan.Ne, nil
	case "<":
		return plan.Lt, nil
	case "<=":
		return plan.Le, nil
	case ">":
		return plan.Gt, nil
	case ">=":
		return plan.Ge, nil
	default:
		return 0, errs.New(errs.SyntaxError, "unknown comparison operator: "+text)
	}
}

// unqualifiedColumn strips a "table." prefix, if present.
func unqualifiedColumn(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// tableOf returns the table prefix of a qualified column, or "" if bare.
func tableOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return ""
}
