package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recoveryRig struct {
	rm  *RecordManager
	wal *WAL
}

func newRecoveryRig(t *testing.T) *recoveryRig {
	t.Helper()

	dir := t.TempDir()
	rm, err := OpenRecordManager(filepath.Join(dir, "master.db"), DefaultOptions())
	require.NoError(t, err)
	w, err := OpenWAL(filepath.Join(dir, "master.db.wal"))
	require.NoError(t, err)
	t.Cleanup(func() {
		w.Close()
		rm.Close()
	})
	return &recoveryRig{rm: rm, wal: w}
}

// writePage puts content at offset 0 of a freshly allocated data page and
// returns the id.
func (rig *recoveryRig) writePage(t *testing.T, content string) PageID {
	t.Helper()
	id, err := rig.rm.AllocatePage(PageTypeData)
	require.NoError(t, err)
	page := NewPage(id, PageTypeData)
	copy(page.Data, content)
	require.NoError(t, rig.rm.WritePage(page))
	return id
}

func (rig *recoveryRig) pageContent(t *testing.T, id PageID, n int) string {
	t.Helper()
	page, err := rig.rm.ReadPage(id)
	require.NoError(t, err)
	return string(page.Data[:n])
}

func TestRecoverRequiresLogAndManager(t *testing.T) {
	rig := newRecoveryRig(t)

	assert.ErrorIs(t, NewRecovery(nil, rig.rm).Recover(), ErrNoWAL)
	assert.ErrorIs(t, NewRecovery(rig.wal, nil).Recover(), ErrNoRecordManager)
}

func TestRecoverEmptyLogIsNoop(t *testing.T) {
	rig := newRecoveryRig(t)

	r := NewRecovery(rig.wal, rig.rm)
	require.NoError(t, r.Recover())
	assert.Empty(t, r.GetActiveTx())
	assert.Empty(t, r.GetDirtyPages())
}

func TestAnalysisClassifiesTransactions(t *testing.T) {
	rig := newRecoveryRig(t)
	id := rig.writePage(t, "seed")

	// Tx 1 commits, tx 2 aborts, tx 3 never finishes.
	rig.wal.Append(NewWALRecord(0, 1, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 1, id, 0, []byte("seed"), []byte("one!")))
	rig.wal.Append(NewWALRecord(0, 1, WALCommit))
	rig.wal.Append(NewWALRecord(0, 2, WALBegin))
	rig.wal.Append(NewWALRecord(0, 2, WALAbort))
	rig.wal.Append(NewWALRecord(0, 3, WALBegin))
	require.NoError(t, rig.wal.Sync())

	r := NewRecovery(rig.wal, rig.rm)
	require.NoError(t, r.Recover())

	txs := r.GetActiveTx()
	require.Len(t, txs, 3)
	assert.Equal(t, TxStateCommitted, txs[1].State)
	assert.Equal(t, TxStateAborted, txs[2].State)
	// The dangling transaction was aborted by the undo pass.
	assert.Equal(t, TxStateAborted, txs[3].State)

	dirty := r.GetDirtyPages()
	assert.Contains(t, dirty, id)
}

func TestRedoReplaysCommittedUpdate(t *testing.T) {
	rig := newRecoveryRig(t)
	id := rig.writePage(t, "old!")

	rig.wal.Append(NewWALRecord(0, 1, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 1, id, 0, []byte("old!"), []byte("new!")))
	rig.wal.Append(NewWALRecord(0, 1, WALCommit))
	require.NoError(t, rig.wal.Sync())

	// The data page still carries the old content, as after a crash that
	// hit between the log sync and the page write.
	require.NoError(t, NewRecovery(rig.wal, rig.rm).Recover())

	assert.Equal(t, "new!", rig.pageContent(t, id, 4))
}

func TestUndoRollsBackUncommitted(t *testing.T) {
	rig := newRecoveryRig(t)
	id := rig.writePage(t, "keep")

	// The update reached the data page but its transaction never committed.
	page, err := rig.rm.ReadPage(id)
	require.NoError(t, err)
	copy(page.Data, "lost")
	require.NoError(t, rig.rm.WritePage(page))

	rig.wal.Append(NewWALRecord(0, 5, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 5, id, 0, []byte("keep"), []byte("lost")))
	require.NoError(t, rig.wal.Sync())

	require.NoError(t, NewRecovery(rig.wal, rig.rm).Recover())

	assert.Equal(t, "keep", rig.pageContent(t, id, 4))
}

func TestUndoRestoresInReverseOrder(t *testing.T) {
	rig := newRecoveryRig(t)
	id := rig.writePage(t, "v0")

	// Two stacked uncommitted updates to the same bytes; undo must land on
	// the original value, not the intermediate.
	rig.wal.Append(NewWALRecord(0, 8, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 8, id, 0, []byte("v0"), []byte("v1")))
	rig.wal.Append(NewWALUpdateRecord(0, 8, id, 0, []byte("v1"), []byte("v2")))
	require.NoError(t, rig.wal.Sync())

	page, err := rig.rm.ReadPage(id)
	require.NoError(t, err)
	copy(page.Data, "v2")
	require.NoError(t, rig.rm.WritePage(page))

	require.NoError(t, NewRecovery(rig.wal, rig.rm).Recover())

	assert.Equal(t, "v0", rig.pageContent(t, id, 2))
}

func TestMixedCommitAndCrash(t *testing.T) {
	rig := newRecoveryRig(t)
	committed := rig.writePage(t, "AAAA")
	crashed := rig.writePage(t, "BBBB")

	rig.wal.Append(NewWALRecord(0, 1, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 1, committed, 0, []byte("AAAA"), []byte("aaaa")))
	rig.wal.Append(NewWALRecord(0, 1, WALCommit))

	rig.wal.Append(NewWALRecord(0, 2, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 2, crashed, 0, []byte("BBBB"), []byte("bbbb")))
	require.NoError(t, rig.wal.Sync())

	// Tx 2's write reached disk before the crash.
	page, err := rig.rm.ReadPage(crashed)
	require.NoError(t, err)
	copy(page.Data, "bbbb")
	require.NoError(t, rig.rm.WritePage(page))

	require.NoError(t, NewRecovery(rig.wal, rig.rm).Recover())

	assert.Equal(t, "aaaa", rig.pageContent(t, committed, 4), "committed work is redone")
	assert.Equal(t, "BBBB", rig.pageContent(t, crashed, 4), "uncommitted work is undone")
}

func TestCheckpointBoundsRedo(t *testing.T) {
	rig := newRecoveryRig(t)
	id := rig.writePage(t, "base")

	rig.wal.Append(NewWALRecord(0, 1, WALBegin))
	rig.wal.Append(NewWALRecord(0, 1, WALCommit))

	cp := NewWALRecord(0, 0, WALCheckpoint)
	cp.NewData = (&CheckpointData{LastLSN: 2}).Serialize()
	rig.wal.Append(cp)

	rig.wal.Append(NewWALRecord(0, 2, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 2, id, 0, []byte("base"), []byte("post")))
	rig.wal.Append(NewWALRecord(0, 2, WALCommit))
	require.NoError(t, rig.wal.Sync())

	r := NewRecovery(rig.wal, rig.rm)
	require.NoError(t, r.Recover())

	assert.Equal(t, uint64(3), r.GetCheckpointLSN())
	assert.Equal(t, "post", rig.pageContent(t, id, 4))
}

func TestRecoveryRefreshesPageCache(t *testing.T) {
	rig := newRecoveryRig(t)
	id := rig.writePage(t, "cold")

	pc := NewPageCache(8, PageSize)
	stale := make([]byte, PageSize)
	copy(stale, "cold")
	pc.Put(id, stale)

	rig.wal.Append(NewWALRecord(0, 1, WALBegin))
	rig.wal.Append(NewWALUpdateRecord(0, 1, id, 0, []byte("cold"), []byte("warm")))
	rig.wal.Append(NewWALRecord(0, 1, WALCommit))
	require.NoError(t, rig.wal.Sync())

	r := NewRecovery(rig.wal, rig.rm)
	r.SetPageCache(pc)
	require.NoError(t, r.Recover())

	cached, ok := pc.Get(id)
	require.True(t, ok)
	assert.Equal(t, []byte("warm"), cached.Data()[:4])
}
