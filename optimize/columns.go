// Attributing a WHERE/ON condition to the single table it can be pushed
// down to (spec §4.6 step 2: "push single-table predicates down to their
// table's scan"), and resolving bare (unqualified) column references
// against the schemas of the tables in scope.
package optimize

import (
	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
)

// resolveColumnTable finds which table in tables owns column. A
// table-qualified name resolves directly; a bare name resolves only if
// exactly one table's schema declares it (an ambiguous bare name is left
// unresolved, which pushes the owning condition to the top-level filter
// instead of risking an incorrect pushdown).
func resolveColumnTable(column string, tables []string, schemas map[string]pagestore.Schema) (string, bool) {
	if qualified := tableOf(column); qualified != "" {
		if _, ok := schemas[qualified]; ok {
			return qualified, true
		}
		return "", false
	}

	match := ""
	for _, t := range tables {
		if _, _, ok := schemas[t].ColumnByName(column); ok {
			if match != "" {
				return "", false // ambiguous
			}
			match = t
		}
	}
	if match == "" {
		return "", false
	}
	return match, true
}

// attributeSingleTable reports the one table a condition is entirely
// about, or false if it spans more than one table (a join condition or
// an unresolvable bare reference).
func attributeSingleTable(c plan.Condition, tables []string, schemas map[string]pagestore.Schema) (string, bool) {
	leftTable, leftOK := resolveColumnTable(c.Left, tables, schemas)
	if !leftOK {
		return "", false
	}
	if c.Shape != plan.ColumnColumn {
		return leftTable, true
	}
	rightTable, rightOK := resolveColumnTable(c.Right, tables, schemas)
	if !rightOK || rightTable != leftTable {
		return "", false
	}
	return leftTable, true
}

func schemaColumnNames(s pagestore.Schema) []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
