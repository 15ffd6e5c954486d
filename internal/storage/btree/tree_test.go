package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dircore/engine/internal/storage"
)

func newTestTree(t *testing.T) *BPlusTree {
	t.Helper()

	opts := storage.DefaultOptions()
	opts.CreateIfNew = true
	rm, err := storage.OpenRecordManager(filepath.Join(t.TempDir(), "tree.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { rm.Close() })

	tree, err := NewBPlusTree(rm, 0)
	require.NoError(t, err)
	return tree
}

func TestNewTreeStartsEmpty(t *testing.T) {
	tree := newTestTree(t)
	assert.NotEqual(t, InvalidPageID, tree.Root())
	assert.Equal(t, BPlusOrder, tree.Order())
	assert.True(t, tree.IsEmpty())

	_, err := NewBPlusTree(nil, 0)
	assert.ErrorIs(t, err, ErrInvalidRecordManager)
}

func TestInsertAndSearch(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.Insert([]byte("cn=alice"), EntryRef{PageID: 10, SlotID: 0}))
	require.NoError(t, tree.Insert([]byte("cn=bob"), EntryRef{PageID: 11, SlotID: 0}))
	assert.False(t, tree.IsEmpty())

	refs, err := tree.Search([]byte("cn=alice"))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, storage.PageID(10), refs[0].PageID)

	refs, err = tree.Search([]byte("cn=carol"))
	require.NoError(t, err)
	assert.Empty(t, refs)

	assert.ErrorIs(t, tree.Insert(nil, EntryRef{}), ErrEmptyKey)
	_, err = tree.Search(nil)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestDuplicateKeysAccumulate(t *testing.T) {
	tree := newTestTree(t)

	// One attribute value referencing many entries, the multi-valued
	// forward index case.
	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert([]byte("objectclass=person"), EntryRef{PageID: storage.PageID(i + 1)}))
	}

	refs, err := tree.Search([]byte("objectclass=person"))
	require.NoError(t, err)
	assert.Len(t, refs, 50)
}

func TestInsertUniqueRefusesDuplicates(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.InsertUnique([]byte("ou=system"), EntryRef{PageID: 1}))
	err := tree.InsertUnique([]byte("ou=system"), EntryRef{PageID: 2})
	assert.ErrorIs(t, err, ErrKeyExists)

	refs, err := tree.Search([]byte("ou=system"))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, storage.PageID(1), refs[0].PageID)
}

func TestSplitsPreserveAllKeys(t *testing.T) {
	tree := newTestTree(t)

	// Enough keys to force several leaf splits and at least one internal
	// split.
	const n = BPlusLeafCapacity * 4
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("uid=user%05d", i))
		require.NoError(t, tree.Insert(key, EntryRef{PageID: storage.PageID(i + 1)}))
	}

	for _, i := range []int{0, 1, n / 3, n / 2, n - 2, n - 1} {
		key := []byte(fmt.Sprintf("uid=user%05d", i))
		refs, err := tree.Search(key)
		require.NoError(t, err)
		require.Len(t, refs, 1, "key %s", key)
		assert.Equal(t, storage.PageID(i+1), refs[0].PageID)
	}

	stats, err := tree.Stats()
	require.NoError(t, err)
	assert.Equal(t, n, stats.TotalKeys)
	assert.Greater(t, stats.Height, 1)
	assert.Greater(t, stats.LeafNodes, 1)
}

func TestDeleteSingleRef(t *testing.T) {
	tree := newTestTree(t)

	a := EntryRef{PageID: 1}
	b := EntryRef{PageID: 2}
	require.NoError(t, tree.Insert([]byte("cn=shared"), a))
	require.NoError(t, tree.Insert([]byte("cn=shared"), b))

	require.NoError(t, tree.Delete([]byte("cn=shared"), a))

	refs, err := tree.Search([]byte("cn=shared"))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, b, refs[0])

	assert.ErrorIs(t, tree.Delete([]byte("cn=shared"), a), ErrKeyNotFound)
	assert.ErrorIs(t, tree.Delete([]byte("cn=absent"), a), ErrKeyNotFound)
}

func TestDeleteKeyDropsWholeRun(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, tree.Insert([]byte("ou=dup"), EntryRef{PageID: storage.PageID(i + 1)}))
	}
	require.NoError(t, tree.Insert([]byte("ou=keep"), EntryRef{PageID: 99}))

	require.NoError(t, tree.DeleteKey([]byte("ou=dup")))

	refs, err := tree.Search([]byte("ou=dup"))
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = tree.Search([]byte("ou=keep"))
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	assert.ErrorIs(t, tree.DeleteKey([]byte("ou=dup")), ErrKeyNotFound)
}

func TestDeleteRebalances(t *testing.T) {
	tree := newTestTree(t)

	const n = BPlusLeafCapacity * 3
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("uid=user%05d", i))
		require.NoError(t, tree.Insert(key, EntryRef{PageID: storage.PageID(i + 1)}))
	}

	// Remove every other key to force borrows and merges.
	for i := 0; i < n; i += 2 {
		key := []byte(fmt.Sprintf("uid=user%05d", i))
		require.NoError(t, tree.Delete(key, EntryRef{PageID: storage.PageID(i + 1)}))
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("uid=user%05d", i))
		refs, err := tree.Search(key)
		require.NoError(t, err)
		if i%2 == 0 {
			assert.Empty(t, refs, "key %s should be gone", key)
		} else {
			assert.Len(t, refs, 1, "key %s should survive", key)
		}
	}
}

func TestSearchRange(t *testing.T) {
	tree := newTestTree(t)

	for _, k := range []string{"a", "c", "e", "g", "i"} {
		require.NoError(t, tree.Insert([]byte(k), EntryRef{PageID: storage.PageID(k[0])}))
	}

	refs, err := tree.SearchRange([]byte("c"), []byte("g"))
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	refs, err = tree.SearchRange(nil, nil)
	require.NoError(t, err)
	assert.Len(t, refs, 5)

	refs, err = tree.SearchRange([]byte("f"), nil)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	refs, err = tree.SearchRange(nil, []byte("b"))
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestCursorScans(t *testing.T) {
	tree := newTestTree(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert([]byte(fmt.Sprintf("dc=node%02d", i)), EntryRef{PageID: storage.PageID(i + 1)}))
	}

	all := tree.All()
	keys, refs := all.Collect()
	all.Close()
	require.Len(t, keys, 10)
	require.Len(t, refs, 10)
	// Key order is the scan order.
	for i := 1; i < len(keys); i++ {
		assert.Negative(t, CompareKeys(keys[i-1], keys[i]))
	}

	ge := tree.GreaterThanOrEqual([]byte("dc=node07"))
	assert.Len(t, ge.CollectRefs(), 3)
	ge.Close()

	lt := tree.LessThan([]byte("dc=node03"))
	assert.Len(t, lt.CollectRefs(), 3)
	lt.Close()

	rng := tree.Range([]byte("dc=node02"), []byte("dc=node05"))
	assert.Len(t, rng.CollectRefs(), 4)
	rng.Close()
}

func TestPrefixCursor(t *testing.T) {
	tree := newTestTree(t)

	for _, k := range []string{"cn=adam", "cn=admin", "cn=administrator", "cn=bob", "ou=admins"} {
		require.NoError(t, tree.Insert([]byte(k), EntryRef{PageID: 1}))
	}

	cur := tree.Prefix([]byte("cn=adm"))
	keys, _ := cur.Collect()
	cur.Close()
	require.Len(t, keys, 2)
	assert.Equal(t, []byte("cn=admin"), keys[0])
	assert.Equal(t, []byte("cn=administrator"), keys[1])

	cur = tree.Prefix([]byte("l="))
	assert.Empty(t, cur.CollectRefs())
	cur.Close()
}

func TestReopenFromRoot(t *testing.T) {
	opts := storage.DefaultOptions()
	opts.CreateIfNew = true
	path := filepath.Join(t.TempDir(), "tree.db")

	rm, err := storage.OpenRecordManager(path, opts)
	require.NoError(t, err)

	tree, err := NewBPlusTree(rm, 0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Insert([]byte(fmt.Sprintf("cn=user%03d", i)), EntryRef{PageID: storage.PageID(i + 1)}))
	}
	root := tree.Root()
	require.NoError(t, rm.Sync())
	require.NoError(t, rm.Close())

	rm, err = storage.OpenRecordManager(path, storage.DefaultOptions())
	require.NoError(t, err)
	defer rm.Close()

	reopened, err := NewBPlusTreeWithRoot(rm, root, 0)
	require.NoError(t, err)

	refs, err := reopened.Search([]byte("cn=user042"))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, storage.PageID(43), refs[0].PageID)
}
