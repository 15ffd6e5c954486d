package btree

import (
	"bytes"
)

// Cursor streams leaf entries in key order without materializing the whole
// result set. Bounds are fixed at creation: an endKey caps the scan, a
// prefix stops it at the first non-matching key. Close after use.
type Cursor struct {
	tree    *BPlusTree
	leaf    *BPlusNode
	pos     int
	endKey  []byte
	prefix  []byte
	openEnd bool // endKey itself is excluded (strict less-than scans)
	closed  bool
}

func emptyCursor() *Cursor {
	return &Cursor{closed: true}
}

// Next yields the next entry in key order, reporting false when the scan is
// exhausted or hits its bound.
func (c *Cursor) Next() (key []byte, ref EntryRef, ok bool) {
	if c.closed || c.leaf == nil {
		return nil, EntryRef{}, false
	}

	for c.pos >= len(c.leaf.Keys) {
		if c.leaf.Next == InvalidPageID {
			return nil, EntryRef{}, false
		}
		next, err := c.tree.load(c.leaf.Next)
		if err != nil {
			return nil, EntryRef{}, false
		}
		c.leaf, c.pos = next, 0
	}

	key = c.leaf.Keys[c.pos]
	if !c.inBounds(key) {
		return nil, EntryRef{}, false
	}

	ref = c.leaf.Values[c.pos]
	c.pos++
	return key, ref, true
}

func (c *Cursor) inBounds(key []byte) bool {
	if c.endKey != nil {
		cmp := compareKeys(key, c.endKey)
		if cmp > 0 || (c.openEnd && cmp == 0) {
			return false
		}
	}
	if c.prefix != nil && !bytes.HasPrefix(key, c.prefix) {
		return false
	}
	return true
}

// Close ends the scan; further Next calls report exhaustion.
func (c *Cursor) Close() {
	c.closed = true
	c.leaf = nil
}

// Collect drains the cursor into slices.
func (c *Cursor) Collect() (keys [][]byte, refs []EntryRef) {
	for {
		key, ref, ok := c.Next()
		if !ok {
			return keys, refs
		}
		keys = append(keys, key)
		refs = append(refs, ref)
	}
}

// CollectRefs drains the cursor, keeping only the entry references.
func (c *Cursor) CollectRefs() []EntryRef {
	var refs []EntryRef
	for {
		_, ref, ok := c.Next()
		if !ok {
			return refs
		}
		refs = append(refs, ref)
	}
}

// Range scans keys in [startKey, endKey]. Nil bounds are open.
func (t *BPlusTree) Range(startKey, endKey []byte) *Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, pos, ok := t.scanStart(startKey)
	if !ok {
		return emptyCursor()
	}
	return &Cursor{tree: t, leaf: leaf, pos: pos, endKey: endKey}
}

// All scans every entry in the tree.
func (t *BPlusTree) All() *Cursor {
	return t.Range(nil, nil)
}

// GreaterThanOrEqual scans keys >= key to the end of the tree.
func (t *BPlusTree) GreaterThanOrEqual(key []byte) *Cursor {
	if len(key) == 0 {
		return t.All()
	}
	return t.Range(key, nil)
}

// LessThan scans keys strictly below key, from the start of the tree.
func (t *BPlusTree) LessThan(key []byte) *Cursor {
	if len(key) == 0 {
		return emptyCursor()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, pos, ok := t.scanStart(nil)
	if !ok {
		return emptyCursor()
	}
	return &Cursor{tree: t, leaf: leaf, pos: pos, endKey: key, openEnd: true}
}

// Prefix scans every key carrying the given byte prefix.
func (t *BPlusTree) Prefix(prefix []byte) *Cursor {
	if len(prefix) == 0 {
		return t.All()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == InvalidPageID {
		return emptyCursor()
	}
	leaf, err := t.leafFor(prefix)
	if err != nil {
		return emptyCursor()
	}
	pos, _ := leaf.FindKeyIndex(prefix)

	// The run may begin in an earlier leaf when the prefix sorts below
	// everything in this one.
	if pos == 0 {
		for leaf.Prev != InvalidPageID {
			prev, err := t.load(leaf.Prev)
			if err != nil || len(prev.Keys) == 0 || !bytes.HasPrefix(prev.GetLastKey(), prefix) {
				break
			}
			leaf = prev
		}
		pos = 0
		for i, key := range leaf.Keys {
			if bytes.HasPrefix(key, prefix) {
				pos = i
				break
			}
		}
	}

	if pos < len(leaf.Keys) && !bytes.HasPrefix(leaf.Keys[pos], prefix) {
		return emptyCursor()
	}
	return &Cursor{tree: t, leaf: leaf, pos: pos, prefix: prefix}
}

// scanStart positions a scan at startKey, or at the leftmost leaf for a nil
// start.
func (t *BPlusTree) scanStart(startKey []byte) (*BPlusNode, int, bool) {
	if t.root == InvalidPageID {
		return nil, 0, false
	}
	if startKey == nil {
		leaf, err := t.edgeLeaf(false)
		if err != nil {
			return nil, 0, false
		}
		return leaf, 0, true
	}
	leaf, err := t.leafFor(startKey)
	if err != nil {
		return nil, 0, false
	}
	pos, _ := leaf.FindKeyIndex(startKey)
	return leaf, pos, true
}
