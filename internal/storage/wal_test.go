package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "master.db.wal")
	w, err := OpenWAL(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestWALRecordRoundTrip(t *testing.T) {
	r := NewWALUpdateRecord(7, 3, 12, 100, []byte("before"), []byte("after"))

	buf, err := r.Serialize()
	require.NoError(t, err)
	assert.Len(t, buf, r.Size())

	var got WALRecord
	require.NoError(t, got.DeserializeAndValidate(buf))
	assert.Equal(t, uint64(7), got.LSN)
	assert.Equal(t, uint64(3), got.TxID)
	assert.Equal(t, WALUpdate, got.Type)
	assert.Equal(t, PageID(12), got.PageID)
	assert.Equal(t, uint16(100), got.Offset)
	assert.Equal(t, []byte("before"), got.OldData)
	assert.Equal(t, []byte("after"), got.NewData)

	// Control records carry no images.
	c := NewWALRecord(1, 9, WALCommit)
	assert.True(t, c.IsTransactionControl())
	assert.False(t, c.IsDataModification())
	assert.True(t, r.IsDataModification())
}

func TestWALRecordChecksumCatchesCorruption(t *testing.T) {
	r := NewWALUpdateRecord(1, 1, 5, 0, nil, []byte("data"))
	buf, err := r.Serialize()
	require.NoError(t, err)

	buf[len(buf)-1] ^= 0xFF
	var got WALRecord
	assert.ErrorIs(t, got.DeserializeAndValidate(buf), ErrWALRecordChecksum)
}

func TestWALRecordRejectsOversizedData(t *testing.T) {
	r := NewWALUpdateRecord(1, 1, 5, 0, nil, make([]byte, MaxWALDataSize+1))
	_, err := r.Serialize()
	assert.ErrorIs(t, err, ErrWALDataTooLarge)
}

func TestWALRecordClone(t *testing.T) {
	r := NewWALUpdateRecord(1, 1, 5, 0, []byte("old"), []byte("new"))
	c := r.Clone()
	c.OldData[0] = 'X'
	assert.Equal(t, []byte("old"), r.OldData)
}

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	w, _ := openTestWAL(t)
	assert.Equal(t, uint64(1), w.CurrentLSN())

	for want := uint64(1); want <= 5; want++ {
		lsn, err := w.Append(NewWALRecord(0, 1, WALBegin))
		require.NoError(t, err)
		assert.Equal(t, want, lsn)
	}
	assert.Equal(t, uint64(6), w.CurrentLSN())
}

func TestIteratorWalksRecordsInOrder(t *testing.T) {
	w, _ := openTestWAL(t)

	w.Append(NewWALRecord(0, 1, WALBegin))
	w.Append(NewWALUpdateRecord(0, 1, 7, 0, nil, []byte("x")))
	w.Append(NewWALRecord(0, 1, WALCommit))
	require.NoError(t, w.Sync())

	it := w.Iterator(1)
	var types []WALType
	for it.Next() {
		record, err := it.Record()
		require.NoError(t, err)
		types = append(types, record.Type)
	}
	assert.Equal(t, []WALType{WALBegin, WALUpdate, WALCommit}, types)
}

func TestWALSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")

	w, err := OpenWAL(path)
	require.NoError(t, err)
	w.Append(NewWALRecord(0, 1, WALBegin))
	w.Append(NewWALRecord(0, 1, WALCommit))
	require.NoError(t, w.Close())

	w, err = OpenWAL(path)
	require.NoError(t, err)
	defer w.Close()

	// LSNs continue after the highest recovered one.
	assert.Equal(t, uint64(3), w.CurrentLSN())

	it := w.Iterator(1)
	count := 0
	for it.Next() {
		_, err := it.Record()
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestWALDiscardsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal")

	w, err := OpenWAL(path)
	require.NoError(t, err)
	w.Append(NewWALRecord(0, 1, WALBegin))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: garbage after the last good record.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x07, 0x00, 0x00, 0x00, 0xDE, 0xAD})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = OpenWAL(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, uint64(2), w.CurrentLSN(), "only the intact record survives")
}

func TestTruncateDropsOldRecords(t *testing.T) {
	w, _ := openTestWAL(t)

	for i := 0; i < 6; i++ {
		w.Append(NewWALRecord(0, uint64(i), WALBegin))
	}
	require.NoError(t, w.Sync())

	require.NoError(t, w.Truncate(3))

	it := w.Iterator(1)
	var lsns []uint64
	for it.Next() {
		record, err := it.Record()
		require.NoError(t, err)
		lsns = append(lsns, record.LSN)
	}
	assert.Equal(t, []uint64{4, 5, 6}, lsns)

	// New appends continue the sequence.
	lsn, err := w.Append(NewWALRecord(0, 9, WALBegin))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), lsn)
}

func TestTruncateEverything(t *testing.T) {
	w, _ := openTestWAL(t)
	w.Append(NewWALRecord(0, 1, WALBegin))
	w.Append(NewWALRecord(0, 1, WALCommit))
	require.NoError(t, w.Truncate(10))

	it := w.Iterator(1)
	assert.False(t, it.Next())
}

func TestClosedWALRefusesAppends(t *testing.T) {
	w, _ := openTestWAL(t)
	require.NoError(t, w.Close())

	_, err := w.Append(NewWALRecord(0, 1, WALBegin))
	assert.ErrorIs(t, err, ErrWALClosed)
	assert.ErrorIs(t, w.Sync(), ErrWALClosed)
	assert.NoError(t, w.Close())
}

func TestCheckpointDataRoundTrip(t *testing.T) {
	cd := &CheckpointData{
		ActiveTxIDs:  []uint64{3, 9},
		DirtyPageIDs: []PageID{5, 6, 7},
		LastLSN:      42,
	}

	var got CheckpointData
	require.NoError(t, got.Deserialize(cd.Serialize()))
	assert.Equal(t, cd.ActiveTxIDs, got.ActiveTxIDs)
	assert.Equal(t, cd.DirtyPageIDs, got.DirtyPageIDs)
	assert.Equal(t, cd.LastLSN, got.LastLSN)

	assert.ErrorIs(t, got.Deserialize([]byte("short")), ErrInvalidCheckpoint)
}

func TestCheckpointManagerCutsAndTruncates(t *testing.T) {
	dir := t.TempDir()
	rm, err := OpenRecordManager(filepath.Join(dir, "master.db"), DefaultOptions())
	require.NoError(t, err)
	defer rm.Close()

	w, err := OpenWAL(filepath.Join(dir, "master.db.wal"))
	require.NoError(t, err)
	defer w.Close()

	cm := NewCheckpointManager(w, rm)
	assert.True(t, cm.ShouldCheckpoint())
	assert.ErrorIs(t, cm.TruncateWAL(), ErrNoActiveCheckpoint)

	w.Append(NewWALRecord(0, 1, WALBegin))
	w.Append(NewWALRecord(0, 1, WALCommit))

	require.NoError(t, cm.Checkpoint())
	assert.NotZero(t, cm.LastCheckpointLSN())
	assert.False(t, cm.LastCheckpointTime().IsZero())

	require.NoError(t, cm.TruncateWAL())
	it := w.Iterator(1)
	assert.False(t, it.Next(), "checkpoint truncation clears the log")

	// The checkpoint record itself parses back.
	record := NewWALRecord(0, 0, WALCheckpoint)
	record.NewData = (&CheckpointData{LastLSN: 1}).Serialize()
	parsed, err := ParseCheckpointRecord(record)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), parsed.LastLSN)

	_, err = ParseCheckpointRecord(NewWALRecord(0, 0, WALBegin))
	assert.ErrorIs(t, err, ErrInvalidCheckpoint)
}
