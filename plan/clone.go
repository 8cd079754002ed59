package plan

// Clone deep-copies a plan tree. The plan cache (package optimize) must
// never hand out a cached tree directly — spec §4.6: "cached plans are
// deep-cloned on get so that callers never mutate a cached value" — since
// Sort caches its materialized result on the node itself (spec §4.7) and
// two callers running the same cached plan concurrently must not share
// that cache slot.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Input = Clone(n.Input)
	c.Right = Clone(n.Right)
	// A fresh clone always starts with an empty Sort cache: the
	// materialized rows belong to whatever execution produced them, and
	// a cloned plan is about to be handed to a different one.
	c.SortCache = nil

	if n.SeekConditions != nil {
		c.SeekConditions = append([]Condition(nil), n.SeekConditions...)
	}
	if n.FilterConditions != nil {
		c.FilterConditions = append([]Condition(nil), n.FilterConditions...)
	}
	if n.ProjectColumns != nil {
		c.ProjectColumns = append([]string(nil), n.ProjectColumns...)
	}
	if n.SortKeys != nil {
		c.SortKeys = append([]SortKey(nil), n.SortKeys...)
	}
	if n.GroupBy != nil {
		c.GroupBy = append([]string(nil), n.GroupBy...)
	}
	if n.InsertColumns != nil {
		c.InsertColumns = append([]string(nil), n.InsertColumns...)
	}
	if n.InsertSelectColumns != nil {
		c.InsertSelectColumns = append([]string(nil), n.InsertSelectColumns...)
	}
	if n.InsertLiteral != nil {
		rows := make([]map[string]any, len(n.InsertLiteral))
		for i, row := range n.InsertLiteral {
			m := make(map[string]any, len(row))
			for k, v := range row {
				m[k] = v
			}
			rows[i] = m
		}
		c.InsertLiteral = rows
	}
	if n.Assignments != nil {
		m := make(map[string]string, len(n.Assignments))
		for k, v := range n.Assignments {
			m[k] = v
		}
		c.Assignments = m
	}

	return &c
}
