package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dircore/engine/internal/storage"
)

func TestNodeConstruction(t *testing.T) {
	leaf := NewLeafNode(7)
	assert.True(t, leaf.IsLeaf)
	assert.Equal(t, storage.PageID(7), leaf.PageID)
	assert.Equal(t, InvalidPageID, leaf.Next)
	assert.Equal(t, InvalidPageID, leaf.Prev)
	assert.Zero(t, leaf.KeyCount())

	internal := NewInternalNode(8)
	assert.False(t, internal.IsLeaf)
	assert.Nil(t, internal.Values)
}

func TestLeafInsertRemoveOrder(t *testing.T) {
	leaf := NewLeafNode(1)

	for i, k := range []string{"cn=carol", "cn=alice", "cn=bob"} {
		idx, found := leaf.FindKeyIndex([]byte(k))
		assert.False(t, found)
		leaf.InsertKeyAt(idx, []byte(k), &EntryRef{PageID: storage.PageID(i + 10)}, InvalidPageID)
	}

	require.Equal(t, 3, leaf.KeyCount())
	assert.Equal(t, []byte("cn=alice"), leaf.GetFirstKey())
	assert.Equal(t, []byte("cn=carol"), leaf.GetLastKey())

	_, found := leaf.FindKeyIndex([]byte("cn=bob"))
	assert.True(t, found)

	key, val, _ := leaf.RemoveKeyAt(1)
	assert.Equal(t, []byte("cn=bob"), key)
	require.NotNil(t, val)
	assert.Equal(t, 2, leaf.KeyCount())
	assert.Len(t, leaf.Values, 2)
}

func TestInsertKeyAtCopiesKey(t *testing.T) {
	leaf := NewLeafNode(1)
	buf := []byte("ou=users")
	leaf.InsertKeyAt(0, buf, &EntryRef{}, InvalidPageID)
	buf[0] = 'X'
	assert.Equal(t, []byte("ou=users"), leaf.Keys[0])
}

func TestInternalChildRouting(t *testing.T) {
	n := NewInternalNode(1)
	n.Keys = [][]byte{[]byte("m")}
	n.Children = []storage.PageID{10, 20}

	assert.Equal(t, storage.PageID(10), n.GetChildForKey([]byte("a")))
	assert.Equal(t, storage.PageID(20), n.GetChildForKey([]byte("m")))
	assert.Equal(t, storage.PageID(20), n.GetChildForKey([]byte("z")))

	leaf := NewLeafNode(2)
	assert.Equal(t, InvalidPageID, leaf.GetChildForKey([]byte("a")))
}

func TestOccupancyThresholds(t *testing.T) {
	leaf := NewLeafNode(1)
	assert.True(t, leaf.IsUnderflow())
	assert.False(t, leaf.CanBorrow())
	assert.False(t, leaf.IsFull())

	for i := 0; i < BPlusLeafCapacity; i++ {
		leaf.Keys = append(leaf.Keys, []byte(fmt.Sprintf("k%04d", i)))
		leaf.Values = append(leaf.Values, EntryRef{})
	}
	assert.True(t, leaf.IsFull())
	assert.True(t, leaf.CanBorrow())
	assert.False(t, leaf.IsUnderflow())
}

func TestCompareKeysOrdering(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"abc", "abc", 0},
		{"abc", "abd", -1},
		{"abd", "abc", 1},
		{"ab", "abc", -1},
		{"abc", "ab", 1},
		{"", "a", -1},
		{"", "", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CompareKeys([]byte(tc.a), []byte(tc.b)), "%q vs %q", tc.a, tc.b)
	}
}

func TestLeafSerializeRoundTrip(t *testing.T) {
	leaf := NewLeafNode(42)
	leaf.Next = 43
	leaf.Prev = 41
	for i := 0; i < 5; i++ {
		leaf.Keys = append(leaf.Keys, []byte(fmt.Sprintf("uid=user%d", i)))
		leaf.Values = append(leaf.Values, EntryRef{PageID: storage.PageID(100 + i), SlotID: uint16(i)})
	}

	buf := make([]byte, leaf.SerializedSize())
	n, err := leaf.Serialize(buf)
	require.NoError(t, err)
	assert.Equal(t, leaf.SerializedSize(), n)

	var got BPlusNode
	require.NoError(t, got.Deserialize(buf, 42))

	assert.True(t, got.IsLeaf)
	assert.Equal(t, storage.PageID(43), got.Next)
	assert.Equal(t, storage.PageID(41), got.Prev)
	assert.Equal(t, leaf.Keys, got.Keys)
	assert.Equal(t, leaf.Values, got.Values)
}

func TestInternalSerializeRoundTrip(t *testing.T) {
	n := NewInternalNode(9)
	n.Keys = [][]byte{[]byte("g"), []byte("p")}
	n.Children = []storage.PageID{3, 4, 5}

	buf := make([]byte, n.SerializedSize())
	_, err := n.Serialize(buf)
	require.NoError(t, err)

	var got BPlusNode
	require.NoError(t, got.Deserialize(buf, 9))
	assert.False(t, got.IsLeaf)
	assert.Equal(t, n.Keys, got.Keys)
	assert.Equal(t, n.Children, got.Children)
	assert.Nil(t, got.Values)
}

func TestSerializeRejectsBadShapes(t *testing.T) {
	big := NewLeafNode(1)
	big.Keys = [][]byte{make([]byte, MaxKeySize+1)}
	big.Values = []EntryRef{{}}
	buf := make([]byte, big.SerializedSize())
	_, err := big.Serialize(buf)
	assert.ErrorIs(t, err, ErrKeyTooLarge)

	skewed := NewLeafNode(1)
	skewed.Keys = [][]byte{[]byte("a")}
	_, err = skewed.Serialize(make([]byte, 64))
	assert.ErrorIs(t, err, ErrMismatchedKeyValue)

	lopsided := NewInternalNode(1)
	lopsided.Keys = [][]byte{[]byte("a")}
	lopsided.Children = []storage.PageID{1}
	_, err = lopsided.Serialize(make([]byte, 64))
	assert.ErrorIs(t, err, ErrInvalidChildCount)

	good := NewLeafNode(1)
	good.Keys = [][]byte{[]byte("a")}
	good.Values = []EntryRef{{}}
	_, err = good.Serialize(make([]byte, 4))
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestDeserializeRejectsCorruption(t *testing.T) {
	var n BPlusNode
	assert.ErrorIs(t, n.Deserialize(make([]byte, 4), 1), ErrBufferTooSmall)

	// A header promising more keys than the payload carries.
	buf := make([]byte, nodeHeaderSize+1)
	buf[0] = 1
	buf[1] = 200 // key count
	assert.Error(t, n.Deserialize(buf, 1))
}

func TestPageRoundTrip(t *testing.T) {
	leaf := NewLeafNode(5)
	leaf.Keys = [][]byte{[]byte("ou=system")}
	leaf.Values = []EntryRef{{PageID: 77, SlotID: 3}}

	page, err := leaf.CreatePage()
	require.NoError(t, err)
	assert.Equal(t, storage.PageTypeAttrIndex, page.Header.PageType)
	assert.Equal(t, uint16(1), page.Header.ItemCount)

	got, err := NewNodeFromPage(page)
	require.NoError(t, err)
	assert.Equal(t, leaf.Keys, got.Keys)
	assert.Equal(t, leaf.Values, got.Values)

	// A page of the wrong type is refused outright.
	wrong := storage.NewPage(6, storage.PageTypeData)
	_, err = NewNodeFromPage(wrong)
	assert.ErrorIs(t, err, ErrInvalidNodeData)
}
