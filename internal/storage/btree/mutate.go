package btree

import (
	"github.com/dircore/engine/internal/storage"
)

// Insert records ref under key. Duplicate keys are allowed, so inserting an
// existing key simply adds another EntryRef to its run.
func (t *BPlusTree) Insert(key []byte, ref EntryRef) error {
	return t.insert(key, ref, false)
}

// InsertUnique records ref under key, failing with ErrKeyExists when the
// key is already present. Used by indices that must stay bijective, the
// normalized-DN index above all.
func (t *BPlusTree) InsertUnique(key []byte, ref EntryRef) error {
	return t.insert(key, ref, true)
}

func (t *BPlusTree) insert(key []byte, ref EntryRef, unique bool) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.descend(key, true)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]

	idx, found := leaf.FindKeyIndex(key)
	if unique && found {
		return ErrKeyExists
	}
	leaf.InsertKeyAt(idx, key, &ref, InvalidPageID)

	// A leaf splits when it hits entry capacity or outgrows its page,
	// whichever comes first: long keys can exhaust page space well before
	// the slot count does.
	if leaf.IsFull() || !leaf.FitsInPage() {
		return t.splitLeaf(path)
	}
	return t.store(leaf)
}

// splitLeaf halves an overfull leaf and pushes the split key upward.
func (t *BPlusTree) splitLeaf(path []*BPlusNode) error {
	leaf := path[len(path)-1]

	right, err := t.alloc(true)
	if err != nil {
		return err
	}

	// Keep the larger half on the left.
	at := (len(leaf.Keys) + 1) / 2
	right.Keys = append(right.Keys, leaf.Keys[at:]...)
	right.Values = append(right.Values, leaf.Values[at:]...)
	leaf.Keys = leaf.Keys[:at]
	leaf.Values = leaf.Values[:at]

	// Splice the new leaf into the sibling chain.
	right.Next = leaf.Next
	right.Prev = leaf.PageID
	leaf.Next = right.PageID
	if right.Next != InvalidPageID {
		if after, err := t.load(right.Next); err == nil {
			after.Prev = right.PageID
			t.store(after)
		}
	}

	sep := make([]byte, len(right.Keys[0]))
	copy(sep, right.Keys[0])

	if err := t.store(leaf); err != nil {
		return err
	}
	if err := t.store(right); err != nil {
		return err
	}
	return t.promote(path[:len(path)-1], leaf.PageID, sep, right.PageID)
}

// promote inserts a separator key and right child into the parent level,
// splitting upward as needed. An empty remaining path means the root itself
// split and a new root is required.
func (t *BPlusTree) promote(path []*BPlusNode, left storage.PageID, key []byte, right storage.PageID) error {
	if len(path) == 0 {
		root, err := t.alloc(false)
		if err != nil {
			return err
		}
		root.Keys = [][]byte{key}
		root.Children = []storage.PageID{left, right}
		if err := t.store(root); err != nil {
			return err
		}
		t.root = root.PageID
		return nil
	}

	parent := path[len(path)-1]
	idx, _ := parent.FindKeyIndex(key)
	parent.InsertKeyAt(idx, key, nil, right)

	if parent.IsFull() || !parent.FitsInPage() {
		return t.splitInternal(path)
	}
	return t.store(parent)
}

// splitInternal halves an overfull internal node. Unlike a leaf split the
// middle key moves up rather than being copied.
func (t *BPlusTree) splitInternal(path []*BPlusNode) error {
	node := path[len(path)-1]

	right, err := t.alloc(false)
	if err != nil {
		return err
	}

	at := len(node.Keys) / 2
	sep := make([]byte, len(node.Keys[at]))
	copy(sep, node.Keys[at])

	right.Keys = append(right.Keys, node.Keys[at+1:]...)
	right.Children = append(right.Children, node.Children[at+1:]...)
	node.Keys = node.Keys[:at]
	node.Children = node.Children[:at+1]

	if err := t.store(node); err != nil {
		return err
	}
	if err := t.store(right); err != nil {
		return err
	}
	return t.promote(path[:len(path)-1], node.PageID, sep, right.PageID)
}

// Delete removes the one (key, ref) pair that matches exactly. Other refs
// filed under the same key are untouched. Returns ErrKeyNotFound when no
// such pair exists.
func (t *BPlusTree) Delete(key []byte, ref EntryRef) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.descend(key, true)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]

	leaf, path, err = t.rewindToFirst(leaf, path, key)
	if err != nil {
		return err
	}

	for {
		if idx, found := leaf.FindKeyIndex(key); found {
			for i := idx; i < len(leaf.Keys) && compareKeys(leaf.Keys[i], key) == 0; i++ {
				if leaf.Values[i] != ref {
					continue
				}
				leaf.RemoveKeyAt(i)
				if len(path) == 1 {
					return t.store(leaf)
				}
				if leaf.IsUnderflow() {
					return t.rebalanceLeaf(path)
				}
				return t.store(leaf)
			}
		}

		// The pair may sit in a later leaf of the duplicate run.
		if leaf.Next == InvalidPageID {
			break
		}
		next, err := t.load(leaf.Next)
		if err != nil || len(next.Keys) == 0 || compareKeys(next.Keys[0], key) != 0 {
			break
		}
		if path, err = t.pathToLeafPage(next.PageID); err != nil {
			break
		}
		leaf = next
	}
	return ErrKeyNotFound
}

// DeleteKey removes every pair filed under key. Returns ErrKeyNotFound when
// the key has no entries at all.
func (t *BPlusTree) DeleteKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.descend(key, true)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]

	leaf, path, err = t.rewindToFirst(leaf, path, key)
	if err != nil {
		return err
	}

	idx, found := leaf.FindKeyIndex(key)
	if !found {
		return ErrKeyNotFound
	}

	removed := 0
	for {
		for idx < len(leaf.Keys) && compareKeys(leaf.Keys[idx], key) == 0 {
			leaf.RemoveKeyAt(idx)
			removed++
		}
		if err := t.store(leaf); err != nil {
			return err
		}
		if len(path) > 1 && leaf.IsUnderflow() {
			if err := t.rebalanceLeaf(path); err != nil {
				return err
			}
		}

		if leaf.Next == InvalidPageID {
			break
		}
		next, err := t.load(leaf.Next)
		if err != nil || len(next.Keys) == 0 || compareKeys(next.Keys[0], key) != 0 {
			break
		}
		if path, err = t.pathToLeafPage(next.PageID); err != nil {
			break
		}
		leaf, idx = next, 0
	}

	if removed == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// rewindToFirst backs up through the sibling chain to the first leaf of a
// duplicate run, rebuilding the descent path as it goes.
func (t *BPlusTree) rewindToFirst(leaf *BPlusNode, path []*BPlusNode, key []byte) (*BPlusNode, []*BPlusNode, error) {
	for leaf.Prev != InvalidPageID {
		prev, err := t.load(leaf.Prev)
		if err != nil || len(prev.Keys) == 0 || compareKeys(prev.GetLastKey(), key) != 0 {
			break
		}
		newPath, err := t.pathToLeafPage(prev.PageID)
		if err != nil {
			break
		}
		leaf, path = prev, newPath
	}
	return leaf, path, nil
}

// mergedLeafFits reports whether a and b merged into one leaf fit a page.
func mergedLeafFits(a, b *BPlusNode) bool {
	return a.SerializedSize()+b.SerializedSize()-nodeHeaderSize <= storage.PageSize-storage.PageHeaderSize
}

// childIndex locates child among parent's children, -1 when absent.
func childIndex(parent *BPlusNode, child storage.PageID) int {
	for i, id := range parent.Children {
		if id == child {
			return i
		}
	}
	return -1
}

// rebalanceLeaf restores minimum occupancy for the leaf at the end of path,
// borrowing from a sibling when one has spare keys and merging otherwise.
// When the merged leaf would not fit in one page, the leaf is stored
// underfull instead.
func (t *BPlusTree) rebalanceLeaf(path []*BPlusNode) error {
	leaf := path[len(path)-1]
	parent := path[len(path)-2]

	pos := childIndex(parent, leaf.PageID)
	if pos == -1 {
		return ErrInvalidNode
	}

	if pos > 0 {
		if left, err := t.load(parent.Children[pos-1]); err == nil && left.CanBorrow() {
			return t.shiftLeafKey(path, left, pos, true)
		}
	}
	if pos < len(parent.Children)-1 {
		if right, err := t.load(parent.Children[pos+1]); err == nil && right.CanBorrow() {
			return t.shiftLeafKey(path, right, pos, false)
		}
	}

	if pos > 0 {
		left, err := t.load(parent.Children[pos-1])
		if err != nil {
			return err
		}
		if !mergedLeafFits(left, leaf) {
			return t.store(leaf)
		}
		return t.mergeLeaves(path, left, leaf, pos-1)
	}
	right, err := t.load(parent.Children[pos+1])
	if err != nil {
		return err
	}
	if !mergedLeafFits(leaf, right) {
		return t.store(leaf)
	}
	return t.mergeLeaves(path, leaf, right, pos)
}

// shiftLeafKey moves one key from a sibling into the underflowing leaf and
// refreshes the parent separator.
func (t *BPlusTree) shiftLeafKey(path []*BPlusNode, sibling *BPlusNode, pos int, fromLeft bool) error {
	leaf := path[len(path)-1]
	parent := path[len(path)-2]

	if fromLeft {
		last := len(sibling.Keys) - 1
		key, val := sibling.Keys[last], sibling.Values[last]
		sibling.RemoveKeyAt(last)
		leaf.InsertKeyAt(0, key, &val, InvalidPageID)

		sep := make([]byte, len(leaf.Keys[0]))
		copy(sep, leaf.Keys[0])
		parent.Keys[pos-1] = sep
	} else {
		key, val := sibling.Keys[0], sibling.Values[0]
		sibling.RemoveKeyAt(0)
		leaf.InsertKeyAt(len(leaf.Keys), key, &val, InvalidPageID)

		sep := make([]byte, len(sibling.Keys[0]))
		copy(sep, sibling.Keys[0])
		parent.Keys[pos] = sep
	}

	if err := t.store(sibling); err != nil {
		return err
	}
	if err := t.store(leaf); err != nil {
		return err
	}
	return t.store(parent)
}

// mergeLeaves folds right into left, unlinks right from the sibling chain,
// and removes the dead separator from the parent.
func (t *BPlusTree) mergeLeaves(path []*BPlusNode, left, right *BPlusNode, sepIdx int) error {
	left.Keys = append(left.Keys, right.Keys...)
	left.Values = append(left.Values, right.Values...)

	left.Next = right.Next
	if right.Next != InvalidPageID {
		if after, err := t.load(right.Next); err == nil {
			after.Prev = left.PageID
			t.store(after)
		}
	}

	if err := t.store(left); err != nil {
		return err
	}
	if err := t.release(right.PageID); err != nil {
		return err
	}
	return t.removeSeparator(path[:len(path)-1], sepIdx)
}

// removeSeparator drops a separator key and its right child from the parent,
// collapsing the root when it empties out.
func (t *BPlusTree) removeSeparator(path []*BPlusNode, sepIdx int) error {
	if len(path) == 0 {
		return nil
	}

	parent := path[len(path)-1]
	parent.Keys = append(parent.Keys[:sepIdx], parent.Keys[sepIdx+1:]...)
	parent.Children = append(parent.Children[:sepIdx+1], parent.Children[sepIdx+2:]...)

	if len(path) == 1 {
		// A keyless root with a single child hands the root role down one
		// level, shrinking the tree.
		if len(parent.Keys) == 0 && len(parent.Children) == 1 {
			t.root = parent.Children[0]
			return t.release(parent.PageID)
		}
		return t.store(parent)
	}

	if parent.IsUnderflow() {
		return t.rebalanceInternal(path)
	}
	return t.store(parent)
}

// rebalanceInternal restores minimum occupancy for an internal node, in the
// same borrow-then-merge order as the leaf case.
func (t *BPlusTree) rebalanceInternal(path []*BPlusNode) error {
	node := path[len(path)-1]
	parent := path[len(path)-2]

	pos := childIndex(parent, node.PageID)
	if pos == -1 {
		return ErrInvalidNode
	}

	if pos > 0 {
		if left, err := t.load(parent.Children[pos-1]); err == nil && left.CanBorrow() {
			return t.rotateInternal(path, left, pos, true)
		}
	}
	if pos < len(parent.Children)-1 {
		if right, err := t.load(parent.Children[pos+1]); err == nil && right.CanBorrow() {
			return t.rotateInternal(path, right, pos, false)
		}
	}

	if pos > 0 {
		left, err := t.load(parent.Children[pos-1])
		if err != nil {
			return err
		}
		return t.mergeInternals(path, left, node, pos-1)
	}
	right, err := t.load(parent.Children[pos+1])
	if err != nil {
		return err
	}
	return t.mergeInternals(path, node, right, pos)
}

// rotateInternal rotates one key through the parent: the separator drops
// into the underflowing node and the sibling's edge key replaces it.
func (t *BPlusTree) rotateInternal(path []*BPlusNode, sibling *BPlusNode, pos int, fromLeft bool) error {
	node := path[len(path)-1]
	parent := path[len(path)-2]

	if fromLeft {
		sep := parent.Keys[pos-1]
		lastKey := len(sibling.Keys) - 1
		lastChild := len(sibling.Children) - 1

		parent.Keys[pos-1] = sibling.Keys[lastKey]
		node.Keys = append([][]byte{sep}, node.Keys...)
		node.Children = append([]storage.PageID{sibling.Children[lastChild]}, node.Children...)

		sibling.Keys = sibling.Keys[:lastKey]
		sibling.Children = sibling.Children[:lastChild]
	} else {
		sep := parent.Keys[pos]
		parent.Keys[pos] = sibling.Keys[0]
		node.Keys = append(node.Keys, sep)
		node.Children = append(node.Children, sibling.Children[0])

		sibling.Keys = sibling.Keys[1:]
		sibling.Children = sibling.Children[1:]
	}

	if err := t.store(sibling); err != nil {
		return err
	}
	if err := t.store(node); err != nil {
		return err
	}
	return t.store(parent)
}

// mergeInternals folds right into left with the parent separator between
// them, then removes the separator from the parent.
func (t *BPlusTree) mergeInternals(path []*BPlusNode, left, right *BPlusNode, sepIdx int) error {
	parent := path[len(path)-2]

	left.Keys = append(left.Keys, parent.Keys[sepIdx])
	left.Keys = append(left.Keys, right.Keys...)
	left.Children = append(left.Children, right.Children...)

	if err := t.store(left); err != nil {
		return err
	}
	if err := t.release(right.PageID); err != nil {
		return err
	}
	return t.removeSeparator(path[:len(path)-1], sepIdx)
}
