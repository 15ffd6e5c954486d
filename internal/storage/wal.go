package storage

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
)

const (
	// WALBufferSize is the append buffer; records are batched here until a
	// Sync or the buffer fills.
	WALBufferSize = 64 * 1024

	// WALRecordLengthSize prefixes every on-disk record with its length.
	WALRecordLengthSize = 4
)

var (
	ErrWALClosed       = errors.New("WAL is closed")
	ErrWALCorrupted    = errors.New("WAL file is corrupted")
	ErrWALTruncateLSN  = errors.New("cannot truncate to LSN greater than current")
	ErrWALInvalidLSN   = errors.New("invalid LSN")
	ErrWALReadPastEnd  = errors.New("read past end of WAL")
	ErrWALRecordLength = errors.New("invalid WAL record length")
)

// WAL is the partition's transaction file. Every mutation appends its
// records here before any data page is touched, which is what makes a
// mid-mutation crash recoverable: replay what committed, discard what did
// not. Records carry monotonically increasing LSNs.
type WAL struct {
	file      *os.File
	path      string
	nextLSN   uint64
	buffer    []byte
	bufferPos int
	closed    bool

	// lsnIndex maps each record's LSN to its file offset for iteration and
	// truncation.
	lsnIndex map[uint64]int64

	mu sync.Mutex
}

// OpenWAL opens or creates the transaction file at path and scans whatever
// records it already holds. A torn tail — a record cut off by a crash — is
// truncated away.
func OpenWAL(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		file:     file,
		path:     path,
		buffer:   make([]byte, WALBufferSize),
		lsnIndex: make(map[uint64]int64),
	}
	if err := w.scan(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// scan walks the file record by record, rebuilding the LSN index and
// trimming any torn tail.
func (w *WAL) scan() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		w.nextLSN = 1
		return nil
	}

	var offset int64
	var maxLSN uint64
	for offset < size {
		record, recLen, err := w.readRecordAt(offset)
		if err != nil {
			break // torn or corrupt tail, cut here
		}
		w.lsnIndex[record.LSN] = offset
		if record.LSN > maxLSN {
			maxLSN = record.LSN
		}
		offset += WALRecordLengthSize + int64(recLen)
	}

	if len(w.lsnIndex) > 0 {
		w.nextLSN = maxLSN + 1
	} else {
		w.nextLSN = 1
	}

	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}

// readRecordAt reads and validates one length-prefixed record.
func (w *WAL) readRecordAt(offset int64) (*WALRecord, uint32, error) {
	lenBuf := make([]byte, WALRecordLengthSize)
	if n, err := w.file.ReadAt(lenBuf, offset); err != nil || n < WALRecordLengthSize {
		return nil, 0, ErrWALReadPastEnd
	}
	recLen := binary.LittleEndian.Uint32(lenBuf)
	if recLen == 0 || recLen > uint32(WALBufferSize) {
		return nil, 0, ErrWALRecordLength
	}

	buf := make([]byte, recLen)
	if n, err := w.file.ReadAt(buf, offset+WALRecordLengthSize); err != nil || n < int(recLen) {
		return nil, 0, ErrWALReadPastEnd
	}

	record := &WALRecord{}
	if err := record.DeserializeAndValidate(buf); err != nil {
		return nil, 0, err
	}
	return record, recLen, nil
}

// Append assigns the record its LSN and buffers it for writing. The record
// is durable only after Sync.
func (w *WAL) Append(record *WALRecord) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}

	record.LSN = w.nextLSN
	buf, err := record.Serialize()
	if err != nil {
		return 0, err
	}

	total := WALRecordLengthSize + len(buf)
	if w.bufferPos+total > len(w.buffer) {
		if err := w.flushBuffer(); err != nil {
			return 0, err
		}
	}

	filePos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	w.lsnIndex[record.LSN] = filePos + int64(w.bufferPos)

	binary.LittleEndian.PutUint32(w.buffer[w.bufferPos:], uint32(len(buf)))
	w.bufferPos += WALRecordLengthSize
	copy(w.buffer[w.bufferPos:], buf)
	w.bufferPos += len(buf)

	lsn := w.nextLSN
	w.nextLSN++
	return lsn, nil
}

func (w *WAL) flushBuffer() error {
	if w.bufferPos == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buffer[:w.bufferPos]); err != nil {
		return err
	}
	w.bufferPos = 0
	return nil
}

// Sync forces every appended record onto stable storage. This is the
// happens-before barrier: when Sync returns nil, everything appended before
// the call survives a crash.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.flushBuffer(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Truncate discards every record with LSN <= lsn, compacting the file.
// Called after a checkpoint makes those records redundant.
func (w *WAL) Truncate(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.flushBuffer(); err != nil {
		return err
	}

	// Find where the surviving suffix starts.
	var keepFrom int64 = -1
	for recLSN, off := range w.lsnIndex {
		if recLSN > lsn && (keepFrom == -1 || off < keepFrom) {
			keepFrom = off
		}
	}

	if keepFrom == -1 {
		// Nothing survives.
		w.lsnIndex = make(map[uint64]int64)
		if err := w.file.Truncate(0); err != nil {
			return err
		}
		_, err := w.file.Seek(0, io.SeekStart)
		return err
	}

	// Slide the surviving records to the front of the file.
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	keep := make([]byte, info.Size()-keepFrom)
	if _, err := w.file.ReadAt(keep, keepFrom); err != nil && err != io.EOF {
		return err
	}

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(keep); err != nil {
		return err
	}

	// Offsets all changed; rescan the compacted file.
	w.lsnIndex = make(map[uint64]int64)
	var offset int64
	for offset < int64(len(keep)) {
		record, recLen, err := w.readRecordAt(offset)
		if err != nil {
			break
		}
		w.lsnIndex[record.LSN] = offset
		offset += WALRecordLengthSize + int64(recLen)
	}

	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}

// Iterator returns an iterator positioned at startLSN. Buffered records are
// flushed first so the iterator sees everything appended so far.
func (w *WAL) Iterator(startLSN uint64) *WALIterator {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flushBuffer()
	return &WALIterator{wal: w, currentLSN: startLSN, offset: -1}
}

// CurrentLSN returns the LSN the next Append will receive.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// Close flushes, syncs, and closes the transaction file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushBuffer(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// WALIterator walks records in LSN order. LSN gaps left by truncation are
// skipped over.
type WALIterator struct {
	wal        *WAL
	currentLSN uint64
	offset     int64
	err        error
}

// Next positions the iterator on the next available record.
func (it *WALIterator) Next() bool {
	if it.err != nil {
		return false
	}

	it.wal.mu.Lock()
	defer it.wal.mu.Unlock()

	offset, ok := it.wal.lsnIndex[it.currentLSN]
	if !ok {
		// The exact LSN is gone; take the smallest one at or after it.
		var bestLSN uint64
		var bestOff int64 = -1
		for lsn, off := range it.wal.lsnIndex {
			if lsn >= it.currentLSN && (bestLSN == 0 || lsn < bestLSN) {
				bestLSN, bestOff = lsn, off
			}
		}
		if bestLSN == 0 {
			return false
		}
		it.currentLSN, offset = bestLSN, bestOff
	}

	it.offset = offset
	return true
}

// Record reads the record the iterator is positioned on and advances the
// cursor past it.
func (it *WALIterator) Record() (*WALRecord, error) {
	if it.offset < 0 {
		return nil, ErrWALInvalidLSN
	}

	it.wal.mu.Lock()
	defer it.wal.mu.Unlock()

	record, _, err := it.wal.readRecordAt(it.offset)
	if err != nil {
		return nil, err
	}
	it.currentLSN = record.LSN + 1
	return record, nil
}

// Error returns the first error hit during iteration.
func (it *WALIterator) Error() error { return it.err }

// LSN returns the iterator's current position.
func (it *WALIterator) LSN() uint64 { return it.currentLSN }
