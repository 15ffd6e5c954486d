// Package engine implements the concrete storage engine that combines all
// storage components into a unified interface.
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dircore/engine/internal/dn"
	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
)

// File names within an engine's DataDir.
const (
	DataFileName  = "master.db"
	IndexFileName = "index.db"
	WALFileName   = "master.wal"
)

// Errors returned by the DirEngine.
var (
	ErrDatabaseClosed    = errors.New("database is closed")
	ErrDatabaseReadOnly  = errors.New("database is read-only")
	ErrEntryNotFound     = errors.New("entry not found")
	ErrEntryExists       = errors.New("entry already exists")
	ErrInvalidDN         = errors.New("invalid DN")
	ErrInvalidEntry      = errors.New("invalid entry")
	ErrTransactionClosed = errors.New("transaction is closed")
	ErrNilTransaction    = errors.New("nil transaction")
)

// opKind identifies the kind of mutation staged against a Transaction.
type opKind int

const (
	opPut opKind = iota
	opDelete
)

// pendingOp is one staged mutation, applied to the B+ trees only at Commit.
type pendingOp struct {
	kind  opKind
	dn    string
	entry *storage.Entry
}

// Transaction stages entry mutations in memory. Nothing touches the data
// file's B+ trees until Commit runs; Rollback simply discards the staged
// ops, which is what makes rollback of a successful-looking write actually
// work (the teacher's radix-tree-backed rollback never managed this).
type Transaction struct {
	id     uint64
	engine *DirEngine
	ops    []pendingOp
	done   bool
	mu     sync.Mutex
}

// IsActive reports whether the transaction has not yet committed or
// rolled back.
func (t *Transaction) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

// ID returns the transaction's identifier, used as the WAL TxID.
func (t *Transaction) ID() uint64 {
	return t.id
}

// DirEngine is the directory engine's embedded storage engine: a page
// manager plus write-ahead log back two B+ trees (one keyed by DN for entry
// lookup, one keyed by parent DN for child tracking) with copy-on-write
// entry storage across overflow page chains.
type DirEngine struct {
	opts storage.EngineOptions

	pm  *storage.RecordManager
	wal *storage.WAL
	bp  *storage.PageCache
	cp  *storage.CheckpointManager

	dnTree    *btree.BPlusTree // DN -> first page of serialized entry
	childTree *btree.BPlusTree // parent DN -> EntryRef of each child's first page

	mu       sync.RWMutex
	closed   bool
	nextTxID uint64
	active   int64
}

// Open opens (creating if necessary) a DirEngine rooted at opts.DataDir.
func Open(opts storage.EngineOptions) (*DirEngine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.CreateIfNotExists {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	e := &DirEngine{opts: opts}
	if err := e.initComponents(); err != nil {
		return nil, err
	}

	return e, nil
}

// initComponents wires the page manager, WAL, buffer pool, B+ trees, and
// checkpoint manager together, and replays the WAL if the engine was not
// shut down cleanly.
func (e *DirEngine) initComponents() error {
	dataPath := filepath.Join(e.opts.DataDir, DataFileName)

	pmOpts := storage.Options{
		PageSize:     e.opts.PageSize,
		InitialPages: e.opts.InitialPages,
		CreateIfNew:  e.opts.CreateIfNotExists,
		ReadOnly:     e.opts.ReadOnly,
		SyncOnWrite:  false, // DirEngine.Commit drives syncing explicitly via the WAL barrier
	}

	pm, err := storage.OpenRecordManager(dataPath, pmOpts)
	if err != nil {
		return fmt.Errorf("failed to open record manager: %w", err)
	}
	e.pm = pm

	e.bp = storage.NewPageCache(e.opts.PageCacheSize, e.opts.PageSize)

	if !e.opts.ReadOnly {
		walPath := filepath.Join(e.opts.DataDir, WALFileName)
		wal, err := storage.OpenWAL(walPath)
		if err != nil {
			e.pm.Close()
			return fmt.Errorf("failed to open WAL: %w", err)
		}
		e.wal = wal

		recovery := storage.NewRecovery(e.wal, e.pm)
		recovery.SetPageCache(e.bp)
		if err := recovery.Recover(); err != nil {
			e.wal.Close()
			e.pm.Close()
			return fmt.Errorf("crash recovery failed: %w", err)
		}

		e.cp = storage.NewCheckpointManager(e.wal, e.pm)
		e.cp.SetPageCache(e.bp)
		e.cp.SetCheckpointInterval(e.opts.CheckpointInterval)
		e.cp.SetActiveTxCallback(func() []uint64 { return nil })
	}

	header := e.pm.Header()
	if err := e.initTrees(header); err != nil {
		if e.wal != nil {
			e.wal.Close()
		}
		e.pm.Close()
		return err
	}

	return nil
}

// initTrees loads the DN tree and the parent-DN (child) tree from the
// header's root pages, creating fresh trees (and persisting their roots)
// when the database is new. The file header only carries two root-page
// slots (RootPages.DNIndex, RootPages.DataRoot); DirEngine repurposes them
// for the child index and the DN index respectively, since a directory
// engine has no use for the teacher's original DN-radix-tree root here.
func (e *DirEngine) initTrees(header storage.FileHeader) error {
	var err error

	if header.RootPages.DataRoot != 0 {
		e.dnTree, err = btree.NewBPlusTreeWithRoot(e.pm, header.RootPages.DataRoot, 0)
	} else {
		e.dnTree, err = btree.NewBPlusTree(e.pm, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize DN index: %w", err)
	}

	if header.RootPages.DNIndex != 0 {
		e.childTree, err = btree.NewBPlusTreeWithRoot(e.pm, header.RootPages.DNIndex, 0)
	} else {
		e.childTree, err = btree.NewBPlusTree(e.pm, 0)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize child index: %w", err)
	}

	if e.opts.ReadOnly {
		return nil
	}
	return e.persistRoots()
}

// persistRoots saves the current tree roots to the file header.
func (e *DirEngine) persistRoots() error {
	return e.pm.UpdateHeader(storage.FileHeader{
		RootPages: storage.RootPages{
			DNIndex:  e.childTree.Root(),
			DataRoot: e.dnTree.Root(),
		},
	})
}

// Close flushes and closes all underlying resources.
func (e *DirEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrDatabaseClosed
	}
	e.closed = true

	if !e.opts.ReadOnly {
		if err := e.persistRoots(); err != nil {
			return err
		}
		if err := e.bp.FlushAll(); err != nil {
			return err
		}
	}

	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			return err
		}
	}

	return e.pm.Close()
}

// Begin starts a new transaction.
func (e *DirEngine) Begin() (interface{}, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrDatabaseClosed
	}

	atomic.AddInt64(&e.active, 1)
	return &Transaction{
		id:     atomic.AddUint64(&e.nextTxID, 1),
		engine: e,
	}, nil
}

// asTxn type-asserts the interface{} handle callers pass back in, the way
// the teacher's tx-package callers did for *tx.Transaction.
func asTxn(t interface{}) (*Transaction, error) {
	txn, ok := t.(*Transaction)
	if !ok || txn == nil {
		return nil, ErrNilTransaction
	}
	return txn, nil
}

// Commit applies a transaction's staged mutations atomically: every op is
// written to fresh (copy-on-write) pages, logged to the WAL bracketed by a
// Begin/Commit record pair, and — when SyncOnWrite is set — fsynced before
// Commit returns, establishing the happens-before barrier between a
// successful Commit and the durability of its writes.
func (e *DirEngine) Commit(t interface{}) error {
	txn, err := asTxn(t)
	if err != nil {
		return err
	}

	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return ErrTransactionClosed
	}
	txn.done = true
	defer atomic.AddInt64(&e.active, -1)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrDatabaseClosed
	}
	if e.opts.ReadOnly {
		return ErrDatabaseReadOnly
	}
	if len(txn.ops) == 0 {
		return nil
	}

	if _, err := e.wal.Append(storage.NewWALRecord(0, txn.id, storage.WALBegin)); err != nil {
		return err
	}

	for _, op := range txn.ops {
		switch op.kind {
		case opPut:
			if err := e.applyPut(txn.id, op.entry); err != nil {
				return err
			}
		case opDelete:
			if err := e.applyDelete(txn.id, op.dn); err != nil {
				return err
			}
		}
	}

	if _, err := e.wal.Append(storage.NewWALRecord(0, txn.id, storage.WALCommit)); err != nil {
		return err
	}

	if e.opts.SyncOnWrite {
		if err := e.wal.Sync(); err != nil {
			return err
		}
		if err := e.pm.Sync(); err != nil {
			return err
		}
	}

	return e.persistRoots()
}

// Rollback discards a transaction's staged mutations. Because Commit never
// touches the trees until all ops are ready to apply, a rollback is a pure
// in-memory discard — it always leaves the store exactly as it was.
func (e *DirEngine) Rollback(t interface{}) error {
	txn, err := asTxn(t)
	if err != nil {
		return err
	}

	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.done {
		return nil
	}
	txn.done = true
	txn.ops = nil
	atomic.AddInt64(&e.active, -1)
	return nil
}

// Get retrieves an entry, honoring the transaction's own uncommitted writes
// first (read-your-own-writes) before falling through to committed state.
func (e *DirEngine) Get(t interface{}, dn string) (*storage.Entry, error) {
	txn, err := asTxn(t)
	if err != nil {
		return nil, err
	}
	if !txn.IsActive() {
		return nil, ErrTransactionClosed
	}

	if entry, found, deleted := localView(txn, dn); found {
		if deleted {
			return nil, ErrEntryNotFound
		}
		return entry.Clone(), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrDatabaseClosed
	}

	return e.readEntry(dn)
}

// localView scans a transaction's staged ops (most recent first) for dn.
func localView(txn *Transaction, key string) (entry *storage.Entry, found, deleted bool) {
	for i := len(txn.ops) - 1; i >= 0; i-- {
		op := txn.ops[i]
		if op.dn != key {
			continue
		}
		if op.kind == opDelete {
			return nil, true, true
		}
		return op.entry, true, false
	}
	return nil, false, false
}

// readEntry loads and deserializes the committed entry for dn, if any.
func (e *DirEngine) readEntry(normDN string) (*storage.Entry, error) {
	refs, err := e.dnTree.Search([]byte(normDN))
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrEntryNotFound
	}

	data, err := e.readPageChain(refs[0].PageID)
	if err != nil {
		return nil, err
	}

	return deserializeEntry(normDN, data)
}

// Put stages a write; the entry is not visible to other transactions nor
// written to disk until Commit.
func (e *DirEngine) Put(t interface{}, entry *storage.Entry) error {
	txn, err := asTxn(t)
	if err != nil {
		return err
	}
	if entry == nil || entry.DN == "" {
		return ErrInvalidEntry
	}
	if !txn.IsActive() {
		return ErrTransactionClosed
	}

	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.ops = append(txn.ops, pendingOp{kind: opPut, dn: entry.DN, entry: entry.Clone()})
	return nil
}

// Delete stages a delete.
func (e *DirEngine) Delete(t interface{}, dn string) error {
	txn, err := asTxn(t)
	if err != nil {
		return err
	}
	if dn == "" {
		return ErrInvalidDN
	}
	if !txn.IsActive() {
		return ErrTransactionClosed
	}

	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.ops = append(txn.ops, pendingOp{kind: opDelete, dn: dn})
	return nil
}

// HasChildren reports whether any entry's parent DN is dn, consulting the
// transaction's own staged ops first.
func (e *DirEngine) HasChildren(t interface{}, d string) (bool, error) {
	txn, err := asTxn(t)
	if err != nil {
		return false, err
	}
	if !txn.IsActive() {
		return false, ErrTransactionClosed
	}

	for _, op := range txn.ops {
		parent, ok := parentDN(op.dn)
		if ok && parent == d {
			if op.kind == opPut {
				return true, nil
			}
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false, ErrDatabaseClosed
	}

	refs, err := e.childTree.Search([]byte(d))
	if err != nil {
		return false, err
	}
	return len(refs) > 0, nil
}

// identityNormalizer normalizes nothing further: DNs reaching DirEngine have
// already been normalized by the dirstore layer above it.
func identityNormalizer(_, value string) (string, error) { return value, nil }

// parentDN extracts the normalized parent DN of dn using internal/dn's
// escape-aware component splitting. Returns false for a single-RDN (root)
// entry, which has no parent to index under.
func parentDN(normDN string) (string, bool) {
	parsed, err := dn.Parse(identityNormalizer, normDN)
	if err != nil {
		return "", false
	}
	parent, ok := parsed.Parent()
	if !ok {
		return "", false
	}
	return parent.NormString(), true
}

// applyPut writes entry to fresh pages (copy-on-write: the old page chain,
// if any, is only freed after the new one is durably in place) and updates
// the DN tree and child tree to point at it.
func (e *DirEngine) applyPut(txID uint64, entry *storage.Entry) error {
	data, err := serializeEntry(entry)
	if err != nil {
		return err
	}

	oldRefs, err := e.dnTree.Search([]byte(entry.DN))
	if err != nil {
		return err
	}

	firstPage, err := e.writePageChain(txID, data)
	if err != nil {
		return err
	}

	parent, hasParent := parentDN(entry.DN)

	if len(oldRefs) == 0 {
		if err := e.dnTree.InsertUnique([]byte(entry.DN), btree.EntryRef{PageID: firstPage}); err != nil {
			e.freePageChain([]btree.EntryRef{{PageID: firstPage}})
			return err
		}
		if hasParent {
			if err := e.childTree.Insert([]byte(parent), btree.EntryRef{PageID: firstPage}); err != nil {
				return err
			}
		}
		return nil
	}

	// Overwrite: repoint the DN tree and, if this entry is itself tracked as
	// a child of its parent, the child tree's reference to it, before
	// freeing the old page chain.
	if err := e.dnTree.DeleteKey([]byte(entry.DN)); err != nil {
		return err
	}
	if err := e.dnTree.InsertUnique([]byte(entry.DN), btree.EntryRef{PageID: firstPage}); err != nil {
		return err
	}
	if hasParent {
		if err := e.childTree.Delete([]byte(parent), oldRefs[0]); err == nil {
			if err := e.childTree.Insert([]byte(parent), btree.EntryRef{PageID: firstPage}); err != nil {
				return err
			}
		}
	}
	return e.freePageChain(oldRefs)
}

// applyDelete removes dn's entry from the DN tree and child tree and frees
// its page chain.
func (e *DirEngine) applyDelete(txID uint64, normDN string) error {
	refs, err := e.dnTree.Search([]byte(normDN))
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return ErrEntryNotFound
	}

	if err := e.dnTree.DeleteKey([]byte(normDN)); err != nil {
		return err
	}

	if parent, ok := parentDN(normDN); ok {
		if err := e.childTree.Delete([]byte(parent), refs[0]); err != nil {
			return err
		}
	}

	return e.freePageChain(refs)
}

// Page-chain format for entry storage: each page's first 8 bytes are the
// next page ID (0 terminates the chain, reusing the free list's
// GetNextPageID/SetNextPageID convention), followed by a 4-byte chunk
// length and the chunk bytes. This gives the previously-unused
// PageTypeOverflow real behavior: any entry larger than one page spills
// across a chain of overflow pages instead of being artificially bounded.
const pageChainHeaderSize = 12 // 8-byte next pointer + 4-byte chunk length

func (e *DirEngine) writePageChain(txID uint64, data []byte) (storage.PageID, error) {
	chunkCap := e.pm.PageSize() - storage.PageHeaderSize - pageChainHeaderSize
	if chunkCap <= 0 {
		return 0, fmt.Errorf("page size too small for entry storage")
	}

	var pageIDs []storage.PageID
	for offset := 0; offset < len(data) || len(pageIDs) == 0; offset += chunkCap {
		end := offset + chunkCap
		if end > len(data) {
			end = len(data)
		}

		pageID, err := e.pm.AllocatePage(storage.PageTypeOverflow)
		if err != nil {
			for _, id := range pageIDs {
				e.pm.FreePage(id)
			}
			return 0, err
		}
		pageIDs = append(pageIDs, pageID)

		if end >= len(data) {
			break
		}
	}

	for i, pageID := range pageIDs {
		page, err := e.pm.ReadPage(pageID)
		if err != nil {
			return 0, err
		}

		start := i * chunkCap
		end := start + chunkCap
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		var next storage.PageID
		if i+1 < len(pageIDs) {
			next = pageIDs[i+1]
		}

		storage.SetNextPageID(page, next)
		binary.LittleEndian.PutUint32(page.Data[8:12], uint32(len(chunk)))
		copy(page.Data[pageChainHeaderSize:], chunk)
		page.Header.SetDirty()

		if err := e.pm.WritePage(page); err != nil {
			return 0, err
		}

		if _, err := e.wal.Append(storage.NewWALUpdateRecord(0, txID, pageID, 0, nil, page.Data)); err != nil {
			return 0, err
		}
	}

	return pageIDs[0], nil
}

// readPageChain reassembles the bytes written by writePageChain.
func (e *DirEngine) readPageChain(firstPage storage.PageID) ([]byte, error) {
	var out []byte
	pageID := firstPage
	for pageID != 0 {
		page, err := e.pm.ReadPage(pageID)
		if err != nil {
			return nil, err
		}

		length := binary.LittleEndian.Uint32(page.Data[8:12])
		if int(pageChainHeaderSize+length) > len(page.Data) {
			return nil, fmt.Errorf("corrupted overflow page %d", pageID)
		}
		out = append(out, page.Data[pageChainHeaderSize:pageChainHeaderSize+int(length)]...)

		pageID = storage.GetNextPageID(page)
	}
	return out, nil
}

// freePageChain releases every page in the chains referenced by refs.
func (e *DirEngine) freePageChain(refs []btree.EntryRef) error {
	for _, ref := range refs {
		pageID := ref.PageID
		for pageID != 0 {
			page, err := e.pm.ReadPage(pageID)
			if err != nil {
				return err
			}
			next := storage.GetNextPageID(page)
			if err := e.pm.FreePage(pageID); err != nil {
				return err
			}
			pageID = next
		}
	}
	return nil
}

// Checkpoint flushes dirty pages and writes a checkpoint record to the WAL,
// then truncates the portion of the WAL the checkpoint makes redundant.
func (e *DirEngine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrDatabaseClosed
	}
	if e.opts.ReadOnly {
		return ErrDatabaseReadOnly
	}

	if err := e.cp.Checkpoint(); err != nil {
		return err
	}
	if err := e.persistRoots(); err != nil {
		return err
	}
	return e.cp.TruncateWAL()
}

// Compact is a no-op beyond a checkpoint: the copy-on-write page-chain
// design never rewrites pages in place, so space is already reclaimed by
// freePageChain as entries are overwritten or deleted; there is no
// fragmented live-data region left to compact out.
func (e *DirEngine) Compact() error {
	return e.Checkpoint()
}

// Stats reports current engine statistics.
func (e *DirEngine) Stats() *storage.EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return &storage.EngineStats{}
	}

	pmStats := e.pm.Stats()
	bpStats := e.bp.Stats()

	stats := &storage.EngineStats{
		TotalPages:         pmStats.TotalPages,
		FreePages:          pmStats.FreePages,
		UsedPages:          pmStats.UsedPages,
		ActiveTransactions: int(atomic.LoadInt64(&e.active)),
		PageCacheSize:      bpStats.Size,
		DirtyPages:         bpStats.DirtyPages,
	}

	if e.wal != nil {
		stats.WALSize = e.wal.CurrentLSN()
	}
	if e.cp != nil {
		stats.LastCheckpointLSN = e.cp.LastCheckpointLSN()
	}

	return stats
}

// serializeEntry encodes entry into the length-prefixed binary format
// stored in its page chain.
func serializeEntry(entry *storage.Entry) ([]byte, error) {
	if entry == nil {
		return nil, ErrInvalidEntry
	}

	size := 4 + len(entry.DN) + 4
	for name, values := range entry.Attributes {
		size += 2 + len(name) + 4
		for _, v := range values {
			size += 4 + len(v)
		}
	}

	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(entry.DN)))
	offset += 4
	copy(buf[offset:], entry.DN)
	offset += len(entry.DN)

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(entry.Attributes)))
	offset += 4

	for name, values := range entry.Attributes {
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(name)))
		offset += 2
		copy(buf[offset:], name)
		offset += len(name)

		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(values)))
		offset += 4

		for _, v := range values {
			binary.LittleEndian.PutUint32(buf[offset:], uint32(len(v)))
			offset += 4
			copy(buf[offset:], v)
			offset += len(v)
		}
	}

	return buf, nil
}

// deserializeEntry decodes the binary format produced by serializeEntry.
// dn is supplied by the caller (the DN tree key) rather than re-read from
// the payload, though the payload's own DN length prefix is still consumed.
func deserializeEntry(dn string, data []byte) (*storage.Entry, error) {
	if len(data) < 8 {
		return nil, ErrInvalidEntry
	}

	entry := &storage.Entry{
		DN:         dn,
		Attributes: make(map[string][][]byte),
	}

	offset := 0
	dnLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4 + int(dnLen)

	if offset+4 > len(data) {
		return entry, nil
	}

	attrCount := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	for i := uint32(0); i < attrCount && offset < len(data); i++ {
		if offset+2 > len(data) {
			break
		}

		nameLen := binary.LittleEndian.Uint16(data[offset:])
		offset += 2

		if offset+int(nameLen) > len(data) {
			break
		}

		name := string(data[offset : offset+int(nameLen)])
		offset += int(nameLen)

		if offset+4 > len(data) {
			break
		}

		valueCount := binary.LittleEndian.Uint32(data[offset:])
		offset += 4

		values := make([][]byte, 0, valueCount)

		for j := uint32(0); j < valueCount && offset < len(data); j++ {
			if offset+4 > len(data) {
				break
			}

			valueLen := binary.LittleEndian.Uint32(data[offset:])
			offset += 4

			if offset+int(valueLen) > len(data) {
				break
			}

			value := make([]byte, valueLen)
			copy(value, data[offset:offset+int(valueLen)])
			offset += int(valueLen)

			values = append(values, value)
		}

		entry.Attributes[name] = values
	}

	return entry, nil
}
