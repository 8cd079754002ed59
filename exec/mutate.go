// Insert/Update/Delete leaves (spec §4.7): the only operators that
// mutate storage, each delegating lock validation, WAL logging, and
// undo bookkeeping to the transaction core rather than doing any of
// that itself.
package exec

import (
	"iter"
	"strconv"

	"github.com/jpl-au/minirel/errs"
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
	"github.com/jpl-au/minirel/sqlfront"
)

// runInsert inserts every row in turn, yielding each as it lands. A
// VALUES insert supplies its rows as n.InsertLiteral; an INSERT ...
// SELECT instead sets n.Input to the sub-select's plan and the two
// pull the same per-row path from there.
func runInsert(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	if n.Input != nil {
		return runInsertSelect(n, ctx)
	}
	return func(yield func(Row, error) bool) {
		for _, literal := range n.InsertLiteral {
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			values := make(map[string]pagestore.Value, len(literal))
			for k, v := range literal {
				values[k] = v
			}
			id, err := ctx.Core.Insert(ctx.Txn, n.Table, values)
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if !yield(Row{ID: id, Values: qualify(n.Table, literal)}, nil) {
				return
			}
		}
	}
}

// runInsertSelect drains n.Input and inserts one row per source row,
// zipping InsertSelectColumns positionally against InsertColumns so the
// two lists never need to share column names.
func runInsertSelect(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}

			literal := make(map[string]any, len(n.InsertColumns))
			values := make(map[string]pagestore.Value, len(n.InsertColumns))
			for i, destCol := range n.InsertColumns {
				v, found := lookupColumn(row, n.InsertSelectColumns[i])
				if !found {
					if !yield(Row{}, errs.New(errs.SchemaMismatch, "no such column in INSERT ... SELECT source: "+n.InsertSelectColumns[i])) {
						return
					}
					literal = nil
					break
				}
				literal[destCol] = v
				values[destCol] = v
			}
			if literal == nil {
				continue
			}

			id, err := ctx.Core.Insert(ctx.Txn, n.Table, values)
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if !yield(Row{ID: id, Values: qualify(n.Table, literal)}, nil) {
				return
			}
		}
	}
}

// runUpdate applies n.Assignments to every row its Input subtree
// surfaces, resolving each through the composite-id-aware UpdateByID
// (spec §4.7: "for every component row-id in the composite row-id...
// validate an exclusive lock... call storage update").
func runUpdate(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		schema, err := ctx.Store.Schema(n.Table)
		if err != nil {
			yield(Row{}, err)
			return
		}

		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}

			id, err := resolveTableRow(row, n.Table)
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			newValues, err := buildNewValues(schema, n.Assignments, row, n.Table)
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.Core.UpdateByID(ctx.Txn, n.Table, id, newValues); err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if !yield(Row{ID: id, Values: qualify(n.Table, newValues)}, nil) {
				return
			}
		}
	}
}

func buildNewValues(schema pagestore.Schema, assignments map[string]string, row Row, table string) (map[string]pagestore.Value, error) {
	newValues := make(map[string]pagestore.Value, len(schema.Columns))
	for _, col := range schema.Columns {
		expr, assigned := assignments[col.Name]
		if !assigned {
			cur, _ := lookupColumn(row, table+"."+col.Name)
			newValues[col.Name] = cur
			continue
		}
		v, err := coerceAssignment(expr, col, row)
		if err != nil {
			return nil, err
		}
		newValues[col.Name] = v
	}
	return newValues, nil
}

// runDelete removes every row its Input subtree surfaces.
func runDelete(n *plan.Node, ctx *Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for row, err := range Run(n.Input, ctx) {
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.checkActive(); err != nil {
				yield(Row{}, err)
				return
			}
			id, err := resolveTableRow(row, n.Table)
			if err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if err := ctx.Core.DeleteByID(ctx.Txn, n.Table, id); err != nil {
				if !yield(Row{}, err) {
					return
				}
				continue
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// resolveTableRow finds the component of row's (possibly composite) id
// that belongs to table; Update/Delete are always built over a
// single-table scan (optimize/build.go), so there is exactly one.
func resolveTableRow(row Row, table string) (string, error) {
	parts := componentIDs(row.ID)
	if len(parts) != 1 {
		return "", errs.New(errs.InternalInvariant, "update/delete over a composite row id is not supported")
	}
	return parts[0], nil
}

// coerceAssignment turns one SET expression (sqlfront's raw capture —
// a literal or a bare column reference) into a typed value for col,
// per spec §4.7: "coercing to the column's runtime type when
// possible".
func coerceAssignment(expr string, col pagestore.Column, row Row) (pagestore.Value, error) {
	toks, err := sqlfront.Lex(expr)
	if err != nil {
		return nil, err
	}
	var content []sqlfront.Token
	for _, t := range toks {
		if t.Kind != sqlfront.TokEOF {
			content = append(content, t)
		}
	}
	if len(content) != 1 {
		return nil, errs.New(errs.UnsupportedConstruct, "unsupported assignment expression: "+expr)
	}
	t := content[0]

	switch t.Kind {
	case sqlfront.TokIdent:
		v, ok := lookupColumn(row, t.Text)
		if !ok {
			return nil, errs.New(errs.SchemaMismatch, "unknown column in assignment: "+t.Text)
		}
		return v, nil
	case sqlfront.TokString:
		if col.Type != pagestore.TypeString {
			return nil, errs.New(errs.SchemaMismatch, "column "+col.Name+" expects a non-string value")
		}
		return t.Text, nil
	case sqlfront.TokNumber:
		switch col.Type {
		case pagestore.TypeInt:
			n, err := strconv.ParseInt(t.Text, 10, 32)
			if err != nil {
				return nil, errs.Wrap(errs.SyntaxError, "bad int literal in assignment", err)
			}
			return int32(n), nil
		case pagestore.TypeFloat:
			f, err := strconv.ParseFloat(t.Text, 32)
			if err != nil {
				return nil, errs.Wrap(errs.SyntaxError, "bad float literal in assignment", err)
			}
			return float32(f), nil
		default:
			return nil, errs.New(errs.SchemaMismatch, "column "+col.Name+" expects a string value")
		}
	default:
		return nil, errs.New(errs.UnsupportedConstruct, "unsupported assignment expression: "+expr)
	}
}
