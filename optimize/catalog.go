// Catalog is the read-only view of table shape the optimizer needs:
// schema (for column types and projection resolution) and statistics
// (for costing). pagestore.Engine already exposes both methods with
// this exact signature, so the storage engine itself satisfies this
// interface with no adapter.
package optimize

import "github.com/jpl-au/minirel/pagestore"

type Catalog interface {
	Schema(table string) (pagestore.Schema, error)
	Stats(table string) (pagestore.Statistics, error)
}
