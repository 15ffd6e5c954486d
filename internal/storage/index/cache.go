package index

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
	"github.com/dircore/engine/internal/storage/cache"
)

var ErrCacheCorrupt = errors.New("index cache corrupt")

// SaveCache snapshots the index directory — attribute, type, root page per
// index — to a cache file stamped with txID. The trees themselves already
// live in the data file; only the directory needs a fast-path copy.
func (im *IndexManager) SaveCache(path string, txID uint64) error {
	im.mu.RLock()
	defer im.mu.RUnlock()

	if len(im.indexes) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(im.indexes))); err != nil {
		return err
	}

	for attr, idx := range im.indexes {
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(attr))); err != nil {
			return err
		}
		if _, err := buf.WriteString(attr); err != nil {
			return err
		}
		if err := buf.WriteByte(byte(idx.Type)); err != nil {
			return err
		}
		root := idx.RootPageID
		if idx.Tree != nil {
			root = idx.Tree.Root()
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint64(root)); err != nil {
			return err
		}
	}

	return cache.WriteFile(path, cache.TypeIndexDirectory, buf.Bytes(), uint64(len(im.indexes)), txID)
}

// LoadCache restores the index directory from a snapshot, reopening each
// tree at its recorded root. A snapshot written at a different txID is
// refused by the cache layer before this runs.
func (im *IndexManager) LoadCache(path string, expectedTxID uint64) error {
	data, header, err := cache.ReadFile(path, cache.TypeIndexDirectory, expectedTxID)
	if err != nil {
		return err
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	buf := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return ErrCacheCorrupt
	}
	if uint64(count) != header.EntryCount {
		return ErrCacheCorrupt
	}

	for i := uint32(0); i < count; i++ {
		var attrLen uint16
		if err := binary.Read(buf, binary.LittleEndian, &attrLen); err != nil {
			return ErrCacheCorrupt
		}
		name := make([]byte, attrLen)
		if _, err := buf.Read(name); err != nil {
			return ErrCacheCorrupt
		}

		typeByte, err := buf.ReadByte()
		if err != nil {
			return ErrCacheCorrupt
		}

		var root uint64
		if err := binary.Read(buf, binary.LittleEndian, &root); err != nil {
			return ErrCacheCorrupt
		}

		tree, err := btree.NewBPlusTreeWithRoot(im.rm, storage.PageID(root), 0)
		if err != nil {
			// A root that no longer resolves means this index has to be
			// rebuilt; skip it rather than refusing the rest.
			continue
		}
		im.indexes[string(name)] = &Index{
			Attribute:  string(name),
			Type:       IndexType(typeByte),
			Tree:       tree,
			RootPageID: storage.PageID(root),
		}
	}
	return nil
}
