package storage

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrRecoveryFailed     = errors.New("recovery failed")
	ErrNoWAL              = errors.New("WAL is required for recovery")
	ErrNoRecordManager    = errors.New("record manager is required for recovery")
	ErrInvalidCheckpoint  = errors.New("invalid checkpoint record")
	ErrRecoveryInProgress = errors.New("recovery is already in progress")
)

// TxState classifies a transaction seen in the log during recovery.
type TxState int

const (
	TxStateActive TxState = iota
	TxStateCommitted
	TxStateAborted
)

func (s TxState) String() string {
	switch s {
	case TxStateActive:
		return "Active"
	case TxStateCommitted:
		return "Committed"
	case TxStateAborted:
		return "Aborted"
	}
	return "Unknown"
}

// RecoveryTxInfo is what the analysis pass learned about one transaction.
type RecoveryTxInfo struct {
	TxID        uint64
	State       TxState
	FirstLSN    uint64
	LastLSN     uint64
	UndoNextLSN uint64
}

// Recovery rebuilds a consistent partition after a crash, ARIES-style:
// analysis reads the log to classify transactions and collect dirty pages,
// redo replays logged page images forward, undo walks uncommitted
// transactions' updates backward restoring their before images. It runs once
// at open, before any caller touches the store.
type Recovery struct {
	wal *WAL
	rm  *RecordManager
	pc  *PageCache

	activeTx      map[uint64]*RecoveryTxInfo
	dirtyPages    map[PageID]uint64 // first LSN that dirtied each page
	checkpointLSN uint64
	redoLSN       uint64
	records       []*WALRecord

	inProgress bool
	mu         sync.Mutex
}

// NewRecovery returns a Recovery over the given log and record manager.
func NewRecovery(wal *WAL, rm *RecordManager) *Recovery {
	return &Recovery{
		wal:        wal,
		rm:         rm,
		activeTx:   make(map[uint64]*RecoveryTxInfo),
		dirtyPages: make(map[PageID]uint64),
	}
}

// SetPageCache lets recovery refresh cached pages as it rewrites them, so a
// warm cache never shadows recovered data.
func (r *Recovery) SetPageCache(pc *PageCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pc = pc
}

// Recover runs the three passes. On nil return the on-disk state reflects
// exactly the committed transactions.
func (r *Recovery) Recover() error {
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return ErrRecoveryInProgress
	}
	r.inProgress = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inProgress = false
		r.mu.Unlock()
	}()

	if r.wal == nil {
		return ErrNoWAL
	}
	if r.rm == nil {
		return ErrNoRecordManager
	}

	r.activeTx = make(map[uint64]*RecoveryTxInfo)
	r.dirtyPages = make(map[PageID]uint64)
	r.records = nil
	r.checkpointLSN = 0
	r.redoLSN = 0

	if err := r.analysis(); err != nil {
		return err
	}
	if err := r.redo(); err != nil {
		return err
	}
	return r.undo()
}

// analysis scans the whole log, building the transaction table and the
// dirty-page table, and remembering the last checkpoint.
func (r *Recovery) analysis() error {
	iter := r.wal.Iterator(1)
	for iter.Next() {
		record, err := iter.Record()
		if err != nil {
			break // end of readable log
		}
		r.records = append(r.records, record)
	}

	for _, record := range r.records {
		switch record.Type {
		case WALBegin:
			r.activeTx[record.TxID] = &RecoveryTxInfo{
				TxID:     record.TxID,
				State:    TxStateActive,
				FirstLSN: record.LSN,
				LastLSN:  record.LSN,
			}
		case WALCommit:
			if tx := r.activeTx[record.TxID]; tx != nil {
				tx.State = TxStateCommitted
				tx.LastLSN = record.LSN
			}
		case WALAbort:
			if tx := r.activeTx[record.TxID]; tx != nil {
				tx.State = TxStateAborted
				tx.LastLSN = record.LSN
			}
		case WALUpdate:
			if tx := r.activeTx[record.TxID]; tx != nil {
				tx.LastLSN = record.LSN
				tx.UndoNextLSN = record.LSN
			}
			if _, seen := r.dirtyPages[record.PageID]; !seen {
				r.dirtyPages[record.PageID] = record.LSN
			}
		case WALCheckpoint:
			r.checkpointLSN = record.LSN
		}
	}

	// Redo starts at the checkpoint or the oldest dirtying LSN, whichever
	// is earlier.
	r.redoLSN = r.checkpointLSN
	if r.redoLSN == 0 && len(r.records) > 0 {
		r.redoLSN = r.records[0].LSN
	}
	for _, lsn := range r.dirtyPages {
		if r.redoLSN == 0 || lsn < r.redoLSN {
			r.redoLSN = lsn
		}
	}
	return nil
}

// redo replays every update from the redo point forward. Pages that no
// longer exist are skipped; a later record or the free list owns them.
func (r *Recovery) redo() error {
	for _, record := range r.records {
		if record.LSN < r.redoLSN || record.Type != WALUpdate {
			continue
		}
		if _, known := r.activeTx[record.TxID]; !known {
			continue
		}
		r.applyImage(record, record.NewData)
	}
	return r.rm.Sync()
}

// undo restores the before images of every update belonging to a
// transaction that never committed, newest first, then logs an abort for
// each so a second crash does not repeat the work.
func (r *Recovery) undo() error {
	var loose []*RecoveryTxInfo
	for _, tx := range r.activeTx {
		if tx.State == TxStateActive {
			loose = append(loose, tx)
		}
	}
	if len(loose) == 0 {
		return nil
	}

	var updates []*WALRecord
	for _, record := range r.records {
		if record.Type != WALUpdate {
			continue
		}
		if tx := r.activeTx[record.TxID]; tx != nil && tx.State == TxStateActive {
			updates = append(updates, record)
		}
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].LSN > updates[j].LSN })

	for _, record := range updates {
		r.applyImage(record, record.OldData)
	}

	for _, tx := range loose {
		if _, err := r.wal.Append(NewWALRecord(0, tx.TxID, WALAbort)); err != nil {
			return err
		}
		tx.State = TxStateAborted
	}

	if err := r.wal.Sync(); err != nil {
		return err
	}
	return r.rm.Sync()
}

// applyImage writes one logged image back into its page, best-effort: a
// missing page or oversized image is skipped, not fatal.
func (r *Recovery) applyImage(record *WALRecord, image []byte) {
	if record.PageID == 0 || len(image) == 0 {
		return
	}

	page, err := r.rm.ReadPage(record.PageID)
	if err != nil {
		return
	}

	off := int(record.Offset)
	if off+len(image) > len(page.Data) {
		return
	}
	copy(page.Data[off:], image)
	page.Header.SetDirty()

	if err := r.rm.WritePage(page); err != nil {
		return
	}
	if r.pc != nil {
		r.pc.Put(record.PageID, page.Data)
	}
}

// GetActiveTx returns a copy of the transaction table built by analysis.
func (r *Recovery) GetActiveTx() map[uint64]*RecoveryTxInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uint64]*RecoveryTxInfo, len(r.activeTx))
	for id, tx := range r.activeTx {
		c := *tx
		out[id] = &c
	}
	return out
}

// GetDirtyPages returns a copy of the dirty-page table built by analysis.
func (r *Recovery) GetDirtyPages() map[PageID]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[PageID]uint64, len(r.dirtyPages))
	for id, lsn := range r.dirtyPages {
		out[id] = lsn
	}
	return out
}

// GetCheckpointLSN returns the last checkpoint LSN seen during analysis.
func (r *Recovery) GetCheckpointLSN() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkpointLSN
}

// GetRedoLSN returns where the redo pass started.
func (r *Recovery) GetRedoLSN() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redoLSN
}

// IsInProgress reports whether a recovery pass is running.
func (r *Recovery) IsInProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}
