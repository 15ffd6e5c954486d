package btree

import (
	"encoding/binary"
	"errors"

	"github.com/dircore/engine/internal/storage"
)

const (
	// BPlusOrder is the branching factor: the maximum number of children
	// an internal node may carry.
	BPlusOrder = 128

	// BPlusLeafCapacity is the maximum number of keyed entries per leaf.
	BPlusLeafCapacity = 256

	// MinInternalKeys and MinLeafKeys are the underflow thresholds for
	// non-root nodes.
	MinInternalKeys = (BPlusOrder - 1) / 2
	MinLeafKeys     = BPlusLeafCapacity / 2

	// InvalidPageID is the null page reference.
	InvalidPageID storage.PageID = 0

	// MaxKeySize bounds a single index key. Normalized attribute values and
	// normalized DNs both fit comfortably; anything longer is refused at
	// serialization time.
	MaxKeySize = 1024

	// On-disk node layout. The header is:
	//   [0]     leaf flag
	//   [1:3]   key count
	//   [3:11]  next-leaf page id
	//   [11:19] prev-leaf page id
	//   [19:21] reserved
	// followed by length-prefixed keys, then either EntryRefs (leaf) or
	// child page ids (internal).
	nodeHeaderSize = 21
	keyLenSize     = 2
	entryRefBase   = 12 // page id + slot + payload length prefix
	pageIDSize     = 8
	maxRefPayload  = 65535
)

var (
	ErrTreeNotInitialized   = errors.New("b+ tree not initialized")
	ErrKeyNotFound          = errors.New("key not found")
	ErrKeyExists            = errors.New("key already exists")
	ErrInvalidRecordManager = errors.New("invalid record manager")
	ErrEmptyKey             = errors.New("key cannot be empty")
	ErrNodeNotFound         = errors.New("node not found")
	ErrInvalidNode          = errors.New("invalid node")
	ErrTreeEmpty            = errors.New("tree is empty")

	ErrKeyTooLarge        = errors.New("key exceeds maximum size")
	ErrBufferTooSmall     = errors.New("buffer too small for node")
	ErrInvalidNodeData    = errors.New("page does not hold a tree node")
	ErrNodeTooLarge       = errors.New("node does not fit in a page")
	ErrCorruptedNode      = errors.New("corrupted node data")
	ErrInvalidKeyCount    = errors.New("key count out of range")
	ErrInvalidChildCount  = errors.New("child count does not match key count")
	ErrMismatchedKeyValue = errors.New("leaf key and value counts differ")
)

// EntryRef is what a leaf slot points at. For the master entry tree that is
// a (page, slot) location; system indices instead carry their value in DN —
// an entry id rendered as decimal digits, or a DN string — with the
// location fields zero. Both shapes serialize the same way.
type EntryRef struct {
	PageID storage.PageID
	SlotID uint16
	DN     string
}

// BPlusNode is one page-sized tree node. Internal nodes carry separator keys
// and child page ids; leaves carry keys with EntryRefs plus sibling links for
// ordered scans.
type BPlusNode struct {
	IsLeaf bool

	// Keys are sorted. In an internal node Keys[i] separates Children[i]
	// from Children[i+1]; in a leaf Keys[i] pairs with Values[i].
	Keys [][]byte

	Children []storage.PageID
	Values   []EntryRef

	// Next and Prev chain the leaf level. InvalidPageID terminates.
	Next storage.PageID
	Prev storage.PageID

	// PageID is where this node lives.
	PageID storage.PageID
}

// NewInternalNode returns an empty internal node bound to pageID.
func NewInternalNode(pageID storage.PageID) *BPlusNode {
	return &BPlusNode{
		Keys:     make([][]byte, 0, BPlusOrder-1),
		Children: make([]storage.PageID, 0, BPlusOrder),
		Next:     InvalidPageID,
		Prev:     InvalidPageID,
		PageID:   pageID,
	}
}

// NewLeafNode returns an empty leaf node bound to pageID.
func NewLeafNode(pageID storage.PageID) *BPlusNode {
	return &BPlusNode{
		IsLeaf: true,
		Keys:   make([][]byte, 0, BPlusLeafCapacity),
		Values: make([]EntryRef, 0, BPlusLeafCapacity),
		Next:   InvalidPageID,
		Prev:   InvalidPageID,
		PageID: pageID,
	}
}

// KeyCount returns the number of keys held by the node.
func (n *BPlusNode) KeyCount() int { return len(n.Keys) }

// IsFull reports whether the node is at capacity.
func (n *BPlusNode) IsFull() bool {
	if n.IsLeaf {
		return len(n.Keys) >= BPlusLeafCapacity
	}
	return len(n.Keys) >= BPlusOrder-1
}

// IsUnderflow reports whether a non-root node has dropped below the minimum
// occupancy and needs rebalancing.
func (n *BPlusNode) IsUnderflow() bool {
	if n.IsLeaf {
		return len(n.Keys) < MinLeafKeys
	}
	return len(n.Keys) < MinInternalKeys
}

// CanBorrow reports whether the node can give up a key to a sibling without
// itself underflowing.
func (n *BPlusNode) CanBorrow() bool {
	if n.IsLeaf {
		return len(n.Keys) > MinLeafKeys
	}
	return len(n.Keys) > MinInternalKeys
}

// InsertKeyAt splices key into position index. A leaf also receives value at
// the same position; an internal node hooks child in to the right of the key.
// The key bytes are copied so callers may reuse their buffer.
func (n *BPlusNode) InsertKeyAt(index int, key []byte, value *EntryRef, child storage.PageID) {
	kc := make([]byte, len(key))
	copy(kc, key)

	n.Keys = append(n.Keys, nil)
	copy(n.Keys[index+1:], n.Keys[index:])
	n.Keys[index] = kc

	if n.IsLeaf {
		if value != nil {
			n.Values = append(n.Values, EntryRef{})
			copy(n.Values[index+1:], n.Values[index:])
			n.Values[index] = *value
		}
		return
	}
	n.Children = append(n.Children, InvalidPageID)
	copy(n.Children[index+2:], n.Children[index+1:])
	n.Children[index+1] = child
}

// RemoveKeyAt removes the key at index along with its value (leaf) or the
// child to its right (internal), returning what was removed.
func (n *BPlusNode) RemoveKeyAt(index int) ([]byte, *EntryRef, storage.PageID) {
	if index < 0 || index >= len(n.Keys) {
		return nil, nil, InvalidPageID
	}

	key := n.Keys[index]
	n.Keys = append(n.Keys[:index], n.Keys[index+1:]...)

	var value *EntryRef
	child := InvalidPageID

	if n.IsLeaf {
		if index < len(n.Values) {
			v := n.Values[index]
			value = &v
			n.Values = append(n.Values[:index], n.Values[index+1:]...)
		}
	} else if index+1 < len(n.Children) {
		child = n.Children[index+1]
		n.Children = append(n.Children[:index+1], n.Children[index+2:]...)
	}

	return key, value, child
}

// FindKeyIndex binary-searches for key. It returns the slot where the key
// sits (the first slot of a run of duplicates), or where it would be
// inserted, plus whether an exact match exists.
func (n *BPlusNode) FindKeyIndex(key []byte) (int, bool) {
	lo, hi := 0, len(n.Keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if compareKeys(n.Keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(n.Keys) && compareKeys(n.Keys[lo], key) == 0
}

// GetChildForKey returns the child an internal node routes key to.
func (n *BPlusNode) GetChildForKey(key []byte) storage.PageID {
	if n.IsLeaf || len(n.Children) == 0 {
		return InvalidPageID
	}
	idx, found := n.FindKeyIndex(key)
	if found {
		// A separator is a copy of its right child's first key.
		idx++
	}
	if idx < len(n.Children) {
		return n.Children[idx]
	}
	return n.Children[len(n.Children)-1]
}

// SetLink rewires the leaf's sibling pointers.
func (n *BPlusNode) SetLink(prev, next storage.PageID) {
	n.Prev = prev
	n.Next = next
}

// GetFirstKey returns the smallest key in the node, nil when empty.
func (n *BPlusNode) GetFirstKey() []byte {
	if len(n.Keys) == 0 {
		return nil
	}
	return n.Keys[0]
}

// GetLastKey returns the largest key in the node, nil when empty.
func (n *BPlusNode) GetLastKey() []byte {
	if len(n.Keys) == 0 {
		return nil
	}
	return n.Keys[len(n.Keys)-1]
}

// compareKeys orders keys bytewise, shorter prefix first.
func compareKeys(a, b []byte) int {
	m := len(a)
	if len(b) < m {
		m = len(b)
	}
	for i := 0; i < m; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// CompareKeys exposes the tree's key ordering to index code that pre-sorts
// batches before bulk insertion.
func CompareKeys(a, b []byte) int { return compareKeys(a, b) }

// SerializedSize returns the number of bytes the node occupies on disk.
func (n *BPlusNode) SerializedSize() int {
	size := nodeHeaderSize
	for _, key := range n.Keys {
		size += keyLenSize + len(key)
	}
	if n.IsLeaf {
		for _, ref := range n.Values {
			size += entryRefBase + len(ref.DN)
		}
		return size
	}
	return size + len(n.Children)*pageIDSize
}

// FitsInPage reports whether the node serializes within one page payload.
func (n *BPlusNode) FitsInPage() bool {
	return n.SerializedSize() <= storage.PageSize-storage.PageHeaderSize
}

// Serialize writes the node into buf and returns the bytes written. The
// node's structural invariants are checked first so a corrupt in-memory
// node never reaches disk.
func (n *BPlusNode) Serialize(buf []byte) (int, error) {
	need := n.SerializedSize()
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}
	for _, key := range n.Keys {
		if len(key) > MaxKeySize {
			return 0, ErrKeyTooLarge
		}
	}
	if !n.IsLeaf && len(n.Keys) > 0 && len(n.Children) != len(n.Keys)+1 {
		return 0, ErrInvalidChildCount
	}
	if n.IsLeaf && len(n.Values) != len(n.Keys) {
		return 0, ErrMismatchedKeyValue
	}

	off := 0
	if n.IsLeaf {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(n.Keys)))
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], uint64(n.Next))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(n.Prev))
	off += 8
	buf[off], buf[off+1] = 0, 0
	off += 2

	for _, key := range n.Keys {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(key)))
		off += 2
		copy(buf[off:], key)
		off += len(key)
	}

	if n.IsLeaf {
		for _, ref := range n.Values {
			if len(ref.DN) > maxRefPayload {
				return 0, ErrKeyTooLarge
			}
			binary.LittleEndian.PutUint64(buf[off:], uint64(ref.PageID))
			off += 8
			binary.LittleEndian.PutUint16(buf[off:], ref.SlotID)
			off += 2
			binary.LittleEndian.PutUint16(buf[off:], uint16(len(ref.DN)))
			off += 2
			copy(buf[off:], ref.DN)
			off += len(ref.DN)
		}
	} else {
		for _, child := range n.Children {
			binary.LittleEndian.PutUint64(buf[off:], uint64(child))
			off += 8
		}
	}

	return off, nil
}

// Deserialize reconstructs the node from buf, binding it to pageID.
func (n *BPlusNode) Deserialize(buf []byte, pageID storage.PageID) error {
	if len(buf) < nodeHeaderSize {
		return ErrBufferTooSmall
	}

	off := 0
	n.IsLeaf = buf[off] == 1
	off++
	keyCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	n.Next = storage.PageID(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	n.Prev = storage.PageID(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	off += 2 // reserved
	n.PageID = pageID

	if n.IsLeaf && keyCount > BPlusLeafCapacity {
		return ErrInvalidKeyCount
	}
	if !n.IsLeaf && keyCount > BPlusOrder-1 {
		return ErrInvalidKeyCount
	}

	n.Keys = make([][]byte, keyCount)
	for i := 0; i < keyCount; i++ {
		if off+keyLenSize > len(buf) {
			return ErrCorruptedNode
		}
		kl := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if kl > MaxKeySize {
			return ErrKeyTooLarge
		}
		if off+kl > len(buf) {
			return ErrCorruptedNode
		}
		n.Keys[i] = make([]byte, kl)
		copy(n.Keys[i], buf[off:off+kl])
		off += kl
	}

	if n.IsLeaf {
		n.Values = make([]EntryRef, keyCount)
		n.Children = nil
		for i := 0; i < keyCount; i++ {
			if off+entryRefBase > len(buf) {
				return ErrCorruptedNode
			}
			n.Values[i].PageID = storage.PageID(binary.LittleEndian.Uint64(buf[off:]))
			off += 8
			n.Values[i].SlotID = binary.LittleEndian.Uint16(buf[off:])
			off += 2
			dnLen := int(binary.LittleEndian.Uint16(buf[off:]))
			off += 2
			if off+dnLen > len(buf) {
				return ErrCorruptedNode
			}
			n.Values[i].DN = string(buf[off : off+dnLen])
			off += dnLen
		}
		return nil
	}

	childCount := keyCount + 1
	if keyCount == 0 {
		childCount = 0
	}
	n.Children = make([]storage.PageID, childCount)
	n.Values = nil
	for i := 0; i < childCount; i++ {
		if off+pageIDSize > len(buf) {
			return ErrCorruptedNode
		}
		n.Children[i] = storage.PageID(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
	}
	return nil
}

// SerializeToPage writes the node into page, refreshing the page header.
func (n *BPlusNode) SerializeToPage(page *storage.Page) error {
	if !n.FitsInPage() {
		return ErrNodeTooLarge
	}

	for i := range page.Data {
		page.Data[i] = 0
	}
	if _, err := n.Serialize(page.Data); err != nil {
		return err
	}

	page.Header.PageType = storage.PageTypeAttrIndex
	page.Header.ItemCount = uint16(len(n.Keys))
	if n.IsLeaf {
		page.Header.SetLeaf()
	} else {
		page.Header.Flags &^= storage.PageFlagLeaf
	}
	page.Header.FreeSpace = uint16(storage.PageSize - storage.PageHeaderSize - n.SerializedSize())
	page.Header.SetDirty()
	return nil
}

// DeserializeFromPage reconstructs the node stored in page.
func (n *BPlusNode) DeserializeFromPage(page *storage.Page) error {
	if page.Header.PageType != storage.PageTypeAttrIndex {
		return ErrInvalidNodeData
	}
	return n.Deserialize(page.Data, page.Header.PageID)
}

// NewNodeFromPage reads a node out of a page.
func NewNodeFromPage(page *storage.Page) (*BPlusNode, error) {
	node := &BPlusNode{}
	if err := node.DeserializeFromPage(page); err != nil {
		return nil, err
	}
	return node, nil
}

// CreatePage materializes a fresh page holding this node.
func (n *BPlusNode) CreatePage() (*storage.Page, error) {
	page := storage.NewPage(n.PageID, storage.PageTypeAttrIndex)
	if err := n.SerializeToPage(page); err != nil {
		return nil, err
	}
	return page, nil
}
