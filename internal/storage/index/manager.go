package index

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"

	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
)

var (
	ErrIndexExists          = errors.New("index already exists")
	ErrIndexNotFound        = errors.New("index not found")
	ErrInvalidAttribute     = errors.New("invalid attribute name")
	ErrManagerClosed        = errors.New("index manager is closed")
	ErrInvalidRecordManager = errors.New("invalid record manager")
	ErrMetadataCorrupted    = errors.New("index metadata corrupted")
)

const (
	// MetadataPageType marks the manager's directory page; the first
	// payload byte distinguishes it from ordinary tree pages of the same
	// storage.PageType.
	MetadataPageType byte = 0xAA

	// MaxAttributeNameLength bounds an indexed attribute's name.
	MaxAttributeNameLength = 256

	// metadataEntryHeader is type byte + root page id + name length.
	metadataEntryHeader = 11
)

// IndexManager is the user half of the index plane: one B+ tree per
// configured attribute, keyed by normalized value, n-gram, or presence
// marker. A directory page persists the attribute → (type, root) mapping so
// the same indices reopen after a restart.
type IndexManager struct {
	indexes map[string]*Index
	rm      *storage.RecordManager
	dirPage storage.PageID
	closed  bool
	mu      sync.RWMutex
}

// NewIndexManager opens the attribute indices recorded on rm's directory
// page, or initializes a fresh directory with the default index set.
func NewIndexManager(rm *storage.RecordManager) (*IndexManager, error) {
	if rm == nil {
		return nil, ErrInvalidRecordManager
	}

	im := &IndexManager{
		indexes: make(map[string]*Index),
		rm:      rm,
	}

	if err := im.loadDirectory(); err != nil {
		// No directory yet: new file. Lay one down with the defaults.
		if err := im.initDirectory(); err != nil {
			return nil, err
		}
		for _, attr := range DefaultIndexedAttributes() {
			if err := im.createLocked(attr, IndexEquality); err != nil {
				return nil, err
			}
		}
	}
	return im, nil
}

// initDirectory allocates and writes an empty directory page.
func (im *IndexManager) initDirectory() error {
	pageID, err := im.rm.AllocatePage(storage.PageTypeAttrIndex)
	if err != nil {
		return err
	}
	im.dirPage = pageID
	return im.writeDirectory()
}

// loadDirectory scans for the directory page and reopens every index it
// names.
func (im *IndexManager) loadDirectory() error {
	total := im.rm.TotalPages()
	for pageID := storage.PageID(1); uint64(pageID) < total; pageID++ {
		page, err := im.rm.ReadPage(pageID)
		if err != nil {
			continue
		}
		if page.Header.PageType == storage.PageTypeAttrIndex && len(page.Data) > 0 && page.Data[0] == MetadataPageType {
			im.dirPage = pageID
			return im.parseDirectory(page)
		}
	}
	return errors.New("no metadata page found")
}

// parseDirectory decodes the directory page:
// marker byte, entry count, then per entry the type byte, root page id,
// and length-prefixed attribute name.
func (im *IndexManager) parseDirectory(page *storage.Page) error {
	data := page.Data
	if len(data) < 3 || data[0] != MetadataPageType {
		return ErrMetadataCorrupted
	}

	off := 1
	count := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	for i := 0; i < count; i++ {
		if off+metadataEntryHeader > len(data) {
			return ErrMetadataCorrupted
		}
		idxType := IndexType(data[off])
		off++
		root := storage.PageID(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		nameLen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if nameLen > MaxAttributeNameLength || off+nameLen > len(data) {
			return ErrMetadataCorrupted
		}
		attr := string(data[off : off+nameLen])
		off += nameLen

		tree, err := btree.NewBPlusTreeWithRoot(im.rm, root, 0)
		if err != nil {
			return err
		}
		im.indexes[attr] = &Index{
			Attribute:  attr,
			Type:       idxType,
			Tree:       tree,
			RootPageID: root,
		}
	}
	return nil
}

// writeDirectory persists the index directory. Each index's root is
// re-read from its tree first: the root moves when the root node splits,
// and persisting the creation-time page id would reopen the index at a
// stale root.
func (im *IndexManager) writeDirectory() error {
	page, err := im.rm.ReadPage(im.dirPage)
	if err != nil {
		page = storage.NewPage(im.dirPage, storage.PageTypeAttrIndex)
	}

	for i := range page.Data {
		page.Data[i] = 0
	}

	off := 0
	page.Data[off] = MetadataPageType
	off++
	binary.LittleEndian.PutUint16(page.Data[off:], uint16(len(im.indexes)))
	off += 2

	for attr, idx := range im.indexes {
		page.Data[off] = byte(idx.Type)
		off++
		if idx.Tree != nil {
			idx.RootPageID = idx.Tree.Root()
		}
		binary.LittleEndian.PutUint64(page.Data[off:], uint64(idx.RootPageID))
		off += 8
		binary.LittleEndian.PutUint16(page.Data[off:], uint16(len(attr)))
		off += 2
		copy(page.Data[off:], attr)
		off += len(attr)
	}

	page.Header.ItemCount = uint16(len(im.indexes))
	return im.rm.WritePage(page)
}

// normalizeAttr lowercases and trims an attribute name for map keys.
func normalizeAttr(attr string) string {
	return strings.ToLower(strings.TrimSpace(attr))
}

// CreateIndex configures a new index over attr.
func (im *IndexManager) CreateIndex(attr string, indexType IndexType) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.closed {
		return ErrManagerClosed
	}
	return im.createLocked(attr, indexType)
}

func (im *IndexManager) createLocked(attr string, indexType IndexType) error {
	attr = normalizeAttr(attr)
	if attr == "" || len(attr) > MaxAttributeNameLength {
		return ErrInvalidAttribute
	}
	if _, ok := im.indexes[attr]; ok {
		return ErrIndexExists
	}

	tree, err := btree.NewBPlusTree(im.rm, 0)
	if err != nil {
		return err
	}
	im.indexes[attr] = &Index{
		Attribute:  attr,
		Type:       indexType,
		Tree:       tree,
		RootPageID: tree.Root(),
	}
	return im.writeDirectory()
}

// DropIndex removes attr's index and frees its tree pages.
func (im *IndexManager) DropIndex(attr string) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.closed {
		return ErrManagerClosed
	}

	attr = normalizeAttr(attr)
	idx, ok := im.indexes[attr]
	if !ok {
		return ErrIndexNotFound
	}

	im.releaseTreePages(idx.Tree)
	delete(im.indexes, attr)
	return im.writeDirectory()
}

// releaseTreePages walks the tree and frees every page it touches,
// best-effort: a page that fails to free stays leaked until compaction.
func (im *IndexManager) releaseTreePages(tree *btree.BPlusTree) {
	if tree == nil || tree.Root() == btree.InvalidPageID {
		return
	}
	for _, pageID := range im.collectTreePages(tree.Root()) {
		im.rm.FreePage(pageID)
	}
}

// collectTreePages gathers every page id reachable from root, internal
// nodes via children and leaves via the sibling chain.
func (im *IndexManager) collectTreePages(root storage.PageID) []storage.PageID {
	var ids []storage.PageID
	visited := make(map[storage.PageID]bool)

	var walk func(pageID storage.PageID)
	walk = func(pageID storage.PageID) {
		if pageID == btree.InvalidPageID || visited[pageID] {
			return
		}
		visited[pageID] = true
		ids = append(ids, pageID)

		page, err := im.rm.ReadPage(pageID)
		if err != nil {
			return
		}
		node := &btree.BPlusNode{}
		if err := node.DeserializeFromPage(page); err != nil {
			return
		}

		if node.IsLeaf {
			walk(node.Next)
			return
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(root)
	return ids
}

// GetIndex returns attr's index when one is configured.
func (im *IndexManager) GetIndex(attr string) (*Index, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	if im.closed {
		return nil, false
	}
	idx, ok := im.indexes[normalizeAttr(attr)]
	return idx, ok
}

// UpdateIndexes patches every configured index for an entry transition:
// (nil, new) on add, (old, nil) on delete, (old, new) on modify. The old
// values come out before the new go in, so an unchanged value is dropped
// and re-added rather than duplicated.
func (im *IndexManager) UpdateIndexes(oldEntry, newEntry *Entry) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.closed {
		return ErrManagerClosed
	}

	if oldEntry != nil {
		im.unindexLocked(oldEntry)
	}
	if newEntry != nil {
		return im.indexLocked(newEntry)
	}
	return nil
}

// indexLocked files an entry's values into every index that covers them.
func (im *IndexManager) indexLocked(entry *Entry) error {
	ref := entry.EntryRef()

	for attr, idx := range im.indexes {
		values := entry.GetAttribute(attr)
		for _, value := range values {
			if len(value) == 0 {
				continue
			}
			switch idx.Type {
			case IndexEquality:
				if err := idx.Tree.Insert(value, ref); err != nil {
					return err
				}
			case IndexPresence:
				// One marker row regardless of how many values.
				if err := idx.Tree.Insert(PresenceMarker, ref); err != nil {
					return err
				}
			case IndexSubstring:
				for _, gram := range GenerateUniqueNgrams(string(value), NgramSize) {
					if err := idx.Tree.Insert([]byte(gram), ref); err != nil {
						return err
					}
				}
			}
			if idx.Type == IndexPresence {
				break
			}
		}
	}
	return nil
}

// unindexLocked withdraws an entry's values; rows already gone are not an
// error, which is what makes index drops idempotent.
func (im *IndexManager) unindexLocked(entry *Entry) {
	ref := entry.EntryRef()

	for attr, idx := range im.indexes {
		values := entry.GetAttribute(attr)
		for _, value := range values {
			if len(value) == 0 {
				continue
			}
			switch idx.Type {
			case IndexEquality:
				idx.Tree.Delete(value, ref)
			case IndexPresence:
				idx.Tree.Delete(PresenceMarker, ref)
			case IndexSubstring:
				for _, gram := range GenerateUniqueNgrams(string(value), NgramSize) {
					idx.Tree.Delete([]byte(gram), ref)
				}
			}
			if idx.Type == IndexPresence {
				break
			}
		}
	}
}

// ListIndexes returns the configured attribute names.
func (im *IndexManager) ListIndexes() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()

	attrs := make([]string, 0, len(im.indexes))
	for attr := range im.indexes {
		attrs = append(attrs, attr)
	}
	return attrs
}

// IndexCount returns how many indices are configured.
func (im *IndexManager) IndexCount() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.indexes)
}

// Close persists the directory and refuses further use.
func (im *IndexManager) Close() error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.closed {
		return ErrManagerClosed
	}
	im.closed = true
	return im.writeDirectory()
}

// Search returns the entries filed under value in attr's index.
func (im *IndexManager) Search(attr string, value []byte) ([]btree.EntryRef, error) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	if im.closed {
		return nil, ErrManagerClosed
	}
	idx, ok := im.indexes[normalizeAttr(attr)]
	if !ok {
		return nil, ErrIndexNotFound
	}
	return idx.Tree.Search(value)
}

// SearchPresence returns every entry that carries attr at all.
func (im *IndexManager) SearchPresence(attr string) ([]btree.EntryRef, error) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	if im.closed {
		return nil, ErrManagerClosed
	}
	idx, ok := im.indexes[normalizeAttr(attr)]
	if !ok {
		return nil, ErrIndexNotFound
	}
	return idx.Tree.Search(PresenceMarker)
}

// SearchRange returns entries whose attr values fall in [startValue,
// endValue] under the index's byte ordering.
func (im *IndexManager) SearchRange(attr string, startValue, endValue []byte) ([]btree.EntryRef, error) {
	im.mu.RLock()
	defer im.mu.RUnlock()

	if im.closed {
		return nil, ErrManagerClosed
	}
	idx, ok := im.indexes[normalizeAttr(attr)]
	if !ok {
		return nil, ErrIndexNotFound
	}
	return idx.Tree.SearchRange(startValue, endValue)
}

// Sync persists the index directory without closing.
func (im *IndexManager) Sync() error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.closed {
		return ErrManagerClosed
	}
	return im.writeDirectory()
}
