package btree

import (
	"sync"

	"github.com/dircore/engine/internal/storage"
)

// BPlusTree is a disk-backed B+ tree over a record manager. Keys are
// arbitrary byte strings (normalized attribute values, normalized DNs,
// encoded entry ids); duplicate keys are permitted, so one key can fan out
// to many EntryRefs. A single writer and any number of readers may use the
// tree concurrently.
type BPlusTree struct {
	root  storage.PageID
	rm    *storage.RecordManager
	order int
	mu    sync.RWMutex
}

// NewBPlusTree allocates an empty tree on rm. An order of 0 selects
// BPlusOrder.
func NewBPlusTree(rm *storage.RecordManager, order int) (*BPlusTree, error) {
	if rm == nil {
		return nil, ErrInvalidRecordManager
	}
	if order <= 0 {
		order = BPlusOrder
	}

	t := &BPlusTree{root: InvalidPageID, rm: rm, order: order}

	// The root starts life as an empty leaf.
	pageID, err := rm.AllocatePage(storage.PageTypeAttrIndex)
	if err != nil {
		return nil, err
	}
	if err := t.store(NewLeafNode(pageID)); err != nil {
		return nil, err
	}
	t.root = pageID
	return t, nil
}

// NewBPlusTreeWithRoot reopens a tree whose root page already exists.
func NewBPlusTreeWithRoot(rm *storage.RecordManager, rootPageID storage.PageID, order int) (*BPlusTree, error) {
	if rm == nil {
		return nil, ErrInvalidRecordManager
	}
	if order <= 0 {
		order = BPlusOrder
	}

	t := &BPlusTree{root: rootPageID, rm: rm, order: order}
	if _, err := t.load(rootPageID); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the current root page id. Callers persist this in index
// metadata so the tree can be reopened.
func (t *BPlusTree) Root() storage.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Order returns the tree's branching factor.
func (t *BPlusTree) Order() int { return t.order }

// IsEmpty reports whether the tree holds no keys.
func (t *BPlusTree) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == InvalidPageID {
		return true
	}
	node, err := t.load(t.root)
	if err != nil {
		return true
	}
	return len(node.Keys) == 0
}

// load reads the node stored at pageID.
func (t *BPlusTree) load(pageID storage.PageID) (*BPlusNode, error) {
	if pageID == InvalidPageID {
		return nil, ErrNodeNotFound
	}
	page, err := t.rm.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	return NewNodeFromPage(page)
}

// store writes node back to its page.
func (t *BPlusTree) store(node *BPlusNode) error {
	if node == nil {
		return ErrInvalidNode
	}
	page, err := node.CreatePage()
	if err != nil {
		return err
	}
	return t.rm.WritePage(page)
}

// alloc claims a fresh page and wraps it in an empty node.
func (t *BPlusTree) alloc(isLeaf bool) (*BPlusNode, error) {
	pageID, err := t.rm.AllocatePage(storage.PageTypeAttrIndex)
	if err != nil {
		return nil, err
	}
	if isLeaf {
		return NewLeafNode(pageID), nil
	}
	return NewInternalNode(pageID), nil
}

// release returns a node's page to the free list.
func (t *BPlusTree) release(pageID storage.PageID) error {
	return t.rm.FreePage(pageID)
}

// descend walks from the root to the leaf responsible for key. When
// wantPath is set the whole root-to-leaf chain is returned; otherwise only
// the leaf (as a one-element slice).
func (t *BPlusTree) descend(key []byte, wantPath bool) ([]*BPlusNode, error) {
	if t.root == InvalidPageID {
		return nil, ErrTreeNotInitialized
	}

	node, err := t.load(t.root)
	if err != nil {
		return nil, err
	}

	var path []*BPlusNode
	if wantPath {
		path = append(path, node)
	}
	for !node.IsLeaf {
		childID := node.GetChildForKey(key)
		if childID == InvalidPageID {
			return nil, ErrNodeNotFound
		}
		if node, err = t.load(childID); err != nil {
			return nil, err
		}
		if wantPath {
			path = append(path, node)
		}
	}
	if wantPath {
		return path, nil
	}
	return []*BPlusNode{node}, nil
}

// leafFor returns the leaf responsible for key.
func (t *BPlusTree) leafFor(key []byte) (*BPlusNode, error) {
	p, err := t.descend(key, false)
	if err != nil {
		return nil, err
	}
	return p[0], nil
}

// pathToLeafPage rebuilds the root-to-leaf path ending at a known leaf page.
// Needed when duplicate chasing has moved the cursor to a sibling leaf whose
// path was never recorded. An empty leaf cannot be located by key, so it is
// returned as a path of one.
func (t *BPlusTree) pathToLeafPage(target storage.PageID) ([]*BPlusNode, error) {
	leaf, err := t.load(target)
	if err != nil {
		return nil, err
	}
	if !leaf.IsLeaf {
		return nil, ErrInvalidNode
	}
	if len(leaf.Keys) == 0 {
		return []*BPlusNode{leaf}, nil
	}
	return t.descend(leaf.Keys[0], true)
}

// edgeLeaf returns the leftmost (or rightmost) leaf.
func (t *BPlusTree) edgeLeaf(rightmost bool) (*BPlusNode, error) {
	if t.root == InvalidPageID {
		return nil, ErrTreeNotInitialized
	}
	node, err := t.load(t.root)
	if err != nil {
		return nil, err
	}
	for !node.IsLeaf {
		if len(node.Children) == 0 {
			return nil, ErrInvalidNode
		}
		idx := 0
		if rightmost {
			idx = len(node.Children) - 1
		}
		if node, err = t.load(node.Children[idx]); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Search returns every EntryRef recorded under key, in leaf order. A key
// that is not present yields a nil slice, not an error.
func (t *BPlusTree) Search(key []byte) ([]EntryRef, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	leaf, err := t.leafFor(key)
	if err != nil {
		if err == ErrTreeNotInitialized {
			return nil, nil
		}
		return nil, err
	}

	// Duplicates of one key may span leaf boundaries; rewind to the first
	// leaf whose last key still equals ours.
	for leaf.Prev != InvalidPageID {
		prev, err := t.load(leaf.Prev)
		if err != nil || len(prev.Keys) == 0 || compareKeys(prev.GetLastKey(), key) != 0 {
			break
		}
		leaf = prev
	}

	idx, found := leaf.FindKeyIndex(key)
	if !found {
		// Rewinding may have overshot; the run could start in the next leaf.
		if leaf.Next != InvalidPageID {
			if next, err := t.load(leaf.Next); err == nil {
				if i, ok := next.FindKeyIndex(key); ok {
					leaf, idx, found = next, i, true
				}
			}
		}
		if !found {
			return nil, nil
		}
	}

	// Sweep forward collecting the duplicate run.
	var refs []EntryRef
	for {
		for i := idx; i < len(leaf.Keys); i++ {
			if compareKeys(leaf.Keys[i], key) != 0 {
				return refs, nil
			}
			refs = append(refs, leaf.Values[i])
		}
		if leaf.Next == InvalidPageID {
			return refs, nil
		}
		next, err := t.load(leaf.Next)
		if err != nil {
			return refs, nil
		}
		leaf, idx = next, 0
	}
}

// SearchRange returns all EntryRefs whose keys fall in [startKey, endKey].
// A nil startKey starts at the smallest key; a nil endKey runs to the end.
func (t *BPlusTree) SearchRange(startKey, endKey []byte) ([]EntryRef, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == InvalidPageID {
		return nil, nil
	}

	var (
		leaf *BPlusNode
		idx  int
		err  error
		refs []EntryRef
	)
	if startKey == nil {
		if leaf, err = t.edgeLeaf(false); err != nil {
			return nil, err
		}
	} else {
		if leaf, err = t.leafFor(startKey); err != nil {
			return nil, err
		}
		idx, _ = leaf.FindKeyIndex(startKey)
	}

	for leaf != nil {
		for i := idx; i < len(leaf.Keys); i++ {
			if endKey != nil && compareKeys(leaf.Keys[i], endKey) > 0 {
				return refs, nil
			}
			refs = append(refs, leaf.Values[i])
		}
		if leaf.Next == InvalidPageID {
			break
		}
		if leaf, err = t.load(leaf.Next); err != nil {
			return refs, err
		}
		idx = 0
	}
	return refs, nil
}

// TreeStats summarizes tree shape for diagnostics.
type TreeStats struct {
	Height        int
	InternalNodes int
	LeafNodes     int
	TotalKeys     int
	TotalEntries  int
}

// Stats walks the tree and reports its shape. The internal-node count is
// estimated from leaf count and order rather than walked exactly.
func (t *BPlusTree) Stats() (TreeStats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats TreeStats
	if t.root == InvalidPageID {
		return stats, nil
	}

	node, err := t.load(t.root)
	if err != nil {
		return stats, err
	}
	stats.Height = 1
	for !node.IsLeaf {
		stats.Height++
		if len(node.Children) == 0 {
			break
		}
		if node, err = t.load(node.Children[0]); err != nil {
			return stats, err
		}
	}

	leaf, err := t.edgeLeaf(false)
	if err != nil {
		return stats, err
	}
	for leaf != nil {
		stats.LeafNodes++
		stats.TotalKeys += len(leaf.Keys)
		stats.TotalEntries += len(leaf.Values)
		if leaf.Next == InvalidPageID {
			break
		}
		if leaf, err = t.load(leaf.Next); err != nil {
			return stats, err
		}
	}

	if stats.Height > 1 {
		stats.InternalNodes = (stats.LeafNodes + t.order - 2) / (t.order - 1)
	}
	return stats, nil
}
