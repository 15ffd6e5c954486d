package storage

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

var (
	ErrCheckpointFailed     = errors.New("checkpoint failed")
	ErrCheckpointInProgress = errors.New("checkpoint is already in progress")
	ErrNoActiveCheckpoint   = errors.New("no active checkpoint")
)

// CheckpointData is the payload of a WALCheckpoint record: a snapshot of
// what was in flight when the checkpoint was cut, so recovery can start
// there instead of at the beginning of the log.
type CheckpointData struct {
	Timestamp    time.Time
	ActiveTxIDs  []uint64
	DirtyPageIDs []PageID
	LastLSN      uint64
}

// Serialize packs the checkpoint payload: timestamp, last LSN, then each id
// list behind a count prefix.
func (cd *CheckpointData) Serialize() []byte {
	buf := make([]byte, 8+8+4+len(cd.ActiveTxIDs)*8+4+len(cd.DirtyPageIDs)*8)

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(cd.Timestamp.UnixNano()))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], cd.LastLSN)
	off += 8

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(cd.ActiveTxIDs)))
	off += 4
	for _, txID := range cd.ActiveTxIDs {
		binary.LittleEndian.PutUint64(buf[off:], txID)
		off += 8
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(cd.DirtyPageIDs)))
	off += 4
	for _, pageID := range cd.DirtyPageIDs {
		binary.LittleEndian.PutUint64(buf[off:], uint64(pageID))
		off += 8
	}
	return buf
}

// Deserialize unpacks a checkpoint payload.
func (cd *CheckpointData) Deserialize(buf []byte) error {
	if len(buf) < 24 {
		return ErrInvalidCheckpoint
	}

	off := 0
	cd.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[off:])))
	off += 8
	cd.LastLSN = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	txCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+txCount*8 > len(buf) {
		return ErrInvalidCheckpoint
	}
	cd.ActiveTxIDs = make([]uint64, txCount)
	for i := range cd.ActiveTxIDs {
		cd.ActiveTxIDs[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}

	if off+4 > len(buf) {
		return ErrInvalidCheckpoint
	}
	pageCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+pageCount*8 > len(buf) {
		return ErrInvalidCheckpoint
	}
	cd.DirtyPageIDs = make([]PageID, pageCount)
	for i := range cd.DirtyPageIDs {
		cd.DirtyPageIDs[i] = PageID(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
	}
	return nil
}

// CheckpointManager cuts checkpoints: flush the page cache, sync the record
// manager, log a checkpoint record, and optionally truncate the log behind
// it. Checkpoints bound both recovery time and log growth.
type CheckpointManager struct {
	wal *WAL
	rm  *RecordManager
	pc  *PageCache

	lastLSN    uint64
	lastTime   time.Time
	interval   time.Duration
	inProgress bool

	// activeTxIDs asks the transaction layer what is in flight, so the
	// checkpoint record can name it.
	activeTxIDs func() []uint64

	mu sync.Mutex
}

// NewCheckpointManager returns a manager over the given log and record
// manager with a five-minute default interval.
func NewCheckpointManager(wal *WAL, rm *RecordManager) *CheckpointManager {
	return &CheckpointManager{
		wal:      wal,
		rm:       rm,
		interval: 5 * time.Minute,
	}
}

// SetPageCache gives checkpoints a cache to flush first.
func (cm *CheckpointManager) SetPageCache(pc *PageCache) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.pc = pc
}

// SetCheckpointInterval adjusts the minimum spacing between automatic
// checkpoints.
func (cm *CheckpointManager) SetCheckpointInterval(interval time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.interval = interval
}

// SetActiveTxCallback installs the in-flight-transaction query.
func (cm *CheckpointManager) SetActiveTxCallback(cb func() []uint64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.activeTxIDs = cb
}

// Checkpoint flushes dirty state to disk and logs a durable checkpoint
// record marking the position.
func (cm *CheckpointManager) Checkpoint() error {
	cm.mu.Lock()
	if cm.inProgress {
		cm.mu.Unlock()
		return ErrCheckpointInProgress
	}
	cm.inProgress = true
	cm.mu.Unlock()

	defer func() {
		cm.mu.Lock()
		cm.inProgress = false
		cm.mu.Unlock()
	}()

	if cm.pc != nil {
		if err := cm.pc.FlushAll(); err != nil {
			return err
		}
	}
	if err := cm.rm.Sync(); err != nil {
		return err
	}

	data := &CheckpointData{
		Timestamp: time.Now(),
		LastLSN:   cm.wal.CurrentLSN() - 1,
	}
	if cm.activeTxIDs != nil {
		data.ActiveTxIDs = cm.activeTxIDs()
	}
	if cm.pc != nil {
		data.DirtyPageIDs = cm.pc.GetDirtyPageIDs()
	}

	record := NewWALRecord(0, 0, WALCheckpoint)
	record.NewData = data.Serialize()

	lsn, err := cm.wal.Append(record)
	if err != nil {
		return err
	}
	if err := cm.wal.Sync(); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.lastLSN = lsn
	cm.lastTime = data.Timestamp
	cm.mu.Unlock()
	return nil
}

// TruncateWAL drops log records the last checkpoint made redundant.
func (cm *CheckpointManager) TruncateWAL() error {
	cm.mu.Lock()
	lastLSN := cm.lastLSN
	cm.mu.Unlock()

	if lastLSN == 0 {
		return ErrNoActiveCheckpoint
	}
	return cm.wal.Truncate(lastLSN)
}

// ShouldCheckpoint reports whether the interval has elapsed since the last
// checkpoint.
func (cm *CheckpointManager) ShouldCheckpoint() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.lastTime.IsZero() {
		return true
	}
	return time.Since(cm.lastTime) >= cm.interval
}

// LastCheckpointLSN returns the LSN of the last checkpoint record.
func (cm *CheckpointManager) LastCheckpointLSN() uint64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastLSN
}

// LastCheckpointTime returns when the last checkpoint was cut.
func (cm *CheckpointManager) LastCheckpointTime() time.Time {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastTime
}

// IsInProgress reports whether a checkpoint is running.
func (cm *CheckpointManager) IsInProgress() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.inProgress
}

// GetCheckpointInterval returns the automatic-checkpoint spacing.
func (cm *CheckpointManager) GetCheckpointInterval() time.Duration {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.interval
}

// ParseCheckpointRecord unpacks the payload of a WALCheckpoint record.
func ParseCheckpointRecord(record *WALRecord) (*CheckpointData, error) {
	if record.Type != WALCheckpoint || len(record.NewData) == 0 {
		return nil, ErrInvalidCheckpoint
	}
	data := &CheckpointData{}
	if err := data.Deserialize(record.NewData); err != nil {
		return nil, err
	}
	return data, nil
}
