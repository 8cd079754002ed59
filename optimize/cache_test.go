package optimize

import (
	"testing"
	"time"

	"github.com/jpl-au/minirel/plan"
	"github.com/stretchr/testify/require"
)

func TestSignatureIsCaseAndWhitespaceCanonical(t *testing.T) {
	a := Signature("SELECT * FROM students WHERE id = 1")
	b := Signature("select   *   from   STUDENTS where id=1")
	require.Equal(t, a, b)
}

func TestCacheGetClonesSoMutationDoesNotLeak(t *testing.T) {
	c := NewCache(4, time.Minute)
	now := time.Now()
	original := &plan.Node{Kind: plan.TableScan, Table: "students", ProjectColumns: []string{"id"}}
	c.Set("sig", original, now)

	got, ok := c.Get("sig", now)
	require.True(t, ok)
	got.ProjectColumns[0] = "mutated"

	got2, ok := c.Get("sig", now)
	require.True(t, ok)
	require.Equal(t, "id", got2.ProjectColumns[0])
}

func TestCacheEvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	c := NewCache(2, time.Minute)
	now := time.Now()
	c.Set("a", &plan.Node{Table: "a"}, now)
	c.Set("b", &plan.Node{Table: "b"}, now)
	c.Get("a", now) // touch a, making b the LRU entry
	c.Set("c", &plan.Node{Table: "c"}, now)

	_, aOK := c.Get("a", now)
	_, bOK := c.Get("b", now)
	_, cOK := c.Get("c", now)
	require.True(t, aOK)
	require.False(t, bOK)
	require.True(t, cOK)
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	c := NewCache(4, time.Minute)
	now := time.Now()
	c.Set("sig", &plan.Node{Table: "students"}, now)

	_, ok := c.Get("sig", now.Add(2*time.Minute))
	require.False(t, ok)
}
