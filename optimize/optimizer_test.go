package optimize

import (
	"testing"

	"github.com/jpl-au/minirel/pagestore"
	"github.com/jpl-au/minirel/plan"
	"github.com/stretchr/testify/require"
)

func TestOptimizerCachesAcrossRepeatedCalls(t *testing.T) {
	cat := fakeCatalog{
		schemas: map[string]pagestore.Schema{"students": studentsSchema()},
		stats: map[string]pagestore.Statistics{
			"students": {TupleCount: 100, BlockCount: 5, EstimatedDistinct: map[string]int{"id": 100}, IndexedColumns: []string{"id"}},
		},
	}
	opt := New(cat, Config{})

	first, err := opt.Optimize("SELECT * FROM students WHERE id = 1")
	require.NoError(t, err)
	require.Equal(t, plan.IndexSeek, first.Kind)

	second, err := opt.Optimize("select * from STUDENTS where id = 1")
	require.NoError(t, err)
	require.Equal(t, plan.IndexSeek, second.Kind)

	// Mutating one returned plan must never affect the other: both came
	// from the same cache slot via a cloning Get.
	first.SeekConditions[0].Value = int32(999)
	require.NotEqual(t, first.SeekConditions[0].Value, second.SeekConditions[0].Value)
}

func studentsSchema() pagestore.Schema {
	return pagestore.Schema{
		TableName: "students",
		Columns: []pagestore.Column{
			{Name: "id", Type: pagestore.TypeInt, Length: 4},
			{Name: "name", Type: pagestore.TypeString, Length: 32},
			{Name: "gpa", Type: pagestore.TypeFloat, Length: 4},
		},
	}
}
