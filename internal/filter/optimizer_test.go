package filter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/index"
)

// newTestOptimizer builds an optimizer over a real index manager with the
// default equality indices plus a presence index on mail and a substring
// index on description.
func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()

	opts := storage.DefaultOptions()
	opts.CreateIfNew = true
	rm, err := storage.OpenRecordManager(filepath.Join(t.TempDir(), "opt.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { rm.Close() })

	im, err := index.NewIndexManager(rm)
	require.NoError(t, err)
	t.Cleanup(func() { im.Close() })

	require.NoError(t, im.DropIndex("mail"))
	require.NoError(t, im.CreateIndex("mail", index.IndexPresence))
	require.NoError(t, im.CreateIndex("description", index.IndexSubstring))

	return NewOptimizer(im)
}

func mustParse(t *testing.T, s string) *Filter {
	t.Helper()
	f, err := Parse(s)
	require.NoError(t, err)
	return f
}

func TestNilOptimizerAlwaysScans(t *testing.T) {
	o := NewOptimizer(nil)
	plan := o.Optimize(mustParse(t, "(uid=alice)"))
	assert.True(t, plan.IsFullScan())

	plan = o.Optimize(nil)
	assert.True(t, plan.IsFullScan())
	assert.Nil(t, plan.PostFilter)
}

func TestEqualityUsesIndex(t *testing.T) {
	o := newTestOptimizer(t)

	plan := o.Optimize(mustParse(t, "(uid=alice)"))
	require.True(t, plan.UseIndex)
	assert.Equal(t, "uid", plan.IndexAttr)
	assert.Equal(t, index.IndexEquality, plan.IndexType)
	assert.Equal(t, []byte("alice"), plan.IndexLookup)
	assert.False(t, plan.HasPostFilter(), "equality index answers exactly")

	// Attribute names are normalized before lookup.
	plan = o.Optimize(mustParse(t, "(UID=alice)"))
	assert.True(t, plan.UseIndex)

	plan = o.Optimize(mustParse(t, "(unindexed=x)"))
	assert.True(t, plan.IsFullScan())
}

func TestPresencePlans(t *testing.T) {
	o := newTestOptimizer(t)

	plan := o.Optimize(mustParse(t, "(mail=*)"))
	require.True(t, plan.UseIndex)
	assert.Equal(t, index.IndexPresence, plan.IndexType)
	assert.Equal(t, index.PresenceMarker, plan.IndexLookup)

	// A presence filter over an equality-indexed attribute cannot use it.
	plan = o.Optimize(mustParse(t, "(uid=*)"))
	assert.True(t, plan.IsFullScan())
}

func TestSubstringPlans(t *testing.T) {
	o := newTestOptimizer(t)

	plan := o.Optimize(mustParse(t, "(description=*admin*)"))
	require.True(t, plan.UseIndex)
	assert.Equal(t, index.IndexSubstring, plan.IndexType)
	assert.Equal(t, []byte("admin"), plan.IndexLookup)
	require.NotNil(t, plan.SubstringPattern)
	assert.True(t, plan.HasPostFilter(), "gram candidates need verification")

	// Components shorter than a gram cannot probe the index.
	plan = o.Optimize(mustParse(t, "(description=*ab*)"))
	assert.True(t, plan.IsFullScan())

	// No substring index on cn.
	plan = o.Optimize(mustParse(t, "(cn=*admin*)"))
	assert.True(t, plan.IsFullScan())
}

func TestSubstringLookupKeyPreference(t *testing.T) {
	// Prefix wins over middles, middles over suffix.
	key := substringLookupKey(&SubstringFilter{
		Initial: []byte("abc"),
		Any:     [][]byte{[]byte("def")},
		Final:   []byte("ghi"),
	})
	assert.Equal(t, []byte("abc"), key)

	key = substringLookupKey(&SubstringFilter{
		Initial: []byte("ab"),
		Any:     [][]byte{[]byte("x"), []byte("def")},
		Final:   []byte("ghi"),
	})
	assert.Equal(t, []byte("def"), key)

	key = substringLookupKey(&SubstringFilter{Final: []byte("ghi")})
	assert.Equal(t, []byte("ghi"), key)

	assert.Nil(t, substringLookupKey(&SubstringFilter{Initial: []byte("ab")}))
}

func TestAndDrivesFromCheapestChild(t *testing.T) {
	o := newTestOptimizer(t)

	plan := o.Optimize(mustParse(t, "(&(unindexed=x)(uid=alice))"))
	require.True(t, plan.UseIndex)
	assert.Equal(t, "uid", plan.IndexAttr)
	require.NotNil(t, plan.PostFilter)
	assert.Equal(t, FilterEquality, plan.PostFilter.Type)
	assert.Equal(t, "unindexed", plan.PostFilter.Attribute)

	// Several leftover children fold into one AND post-filter.
	plan = o.Optimize(mustParse(t, "(&(a=1)(b=2)(uid=alice))"))
	require.True(t, plan.UseIndex)
	require.NotNil(t, plan.PostFilter)
	assert.Equal(t, FilterAnd, plan.PostFilter.Type)
	assert.Len(t, plan.PostFilter.Children, 2)

	// No indexable child at all.
	plan = o.Optimize(mustParse(t, "(&(a=1)(b=2))"))
	assert.True(t, plan.IsFullScan())
}

func TestOrAndNotScan(t *testing.T) {
	o := newTestOptimizer(t)

	// OR execution scans even when every branch is indexable; the whole
	// filter rides as the per-entry test.
	plan := o.Optimize(mustParse(t, "(|(uid=alice)(uid=bob))"))
	assert.False(t, plan.UseIndex)
	assert.NotNil(t, plan.PostFilter)

	plan = o.Optimize(mustParse(t, "(|(uid=alice)(unindexed=x))"))
	assert.True(t, plan.IsFullScan())

	plan = o.Optimize(mustParse(t, "(!(uid=alice))"))
	assert.True(t, plan.IsFullScan())
}

func TestRangeRidesEqualityIndex(t *testing.T) {
	o := newTestOptimizer(t)

	plan := o.Optimize(mustParse(t, "(uid>=m)"))
	require.True(t, plan.UseIndex)
	assert.Equal(t, index.IndexEquality, plan.IndexType)
	assert.True(t, plan.HasPostFilter(), "boundary needs the filter as post-check")

	plan = o.Optimize(mustParse(t, "(unindexed<=5)"))
	assert.True(t, plan.IsFullScan())
}

func TestPlanString(t *testing.T) {
	o := newTestOptimizer(t)

	assert.Equal(t, "FULL_SCAN", NewFullScanPlan(nil).String())

	plan := o.Optimize(mustParse(t, "(uid=alice)"))
	assert.Equal(t, "INDEX_LOOKUP(uid, equality)", plan.String())

	plan = o.Optimize(mustParse(t, "(&(x=1)(uid=alice))"))
	assert.Equal(t, "INDEX_LOOKUP(uid, equality) + POST_FILTER", plan.String())
}

func TestPlanCostsOrder(t *testing.T) {
	o := newTestOptimizer(t)

	eq := o.Optimize(mustParse(t, "(uid=alice)"))
	pres := o.Optimize(mustParse(t, "(mail=*)"))
	sub := o.Optimize(mustParse(t, "(description=*admin*)"))
	scan := o.Optimize(mustParse(t, "(unindexed=x)"))

	assert.Less(t, eq.EstimatedCost, pres.EstimatedCost)
	assert.Less(t, pres.EstimatedCost, sub.EstimatedCost)
	assert.Less(t, sub.EstimatedCost, scan.EstimatedCost)
}
