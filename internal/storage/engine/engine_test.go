// Package engine provides the directory engine storage implementation.
package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dircore/engine/internal/storage"
)

func openTestEngine(t *testing.T, dir string, opts storage.EngineOptions) *DirEngine {
	t.Helper()
	opts.DataDir = dir
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

// TestOpenClose tests the Open and Close lifecycle.
func TestOpenClose(t *testing.T) {
	dir := t.TempDir()

	db := openTestEngine(t, dir, storage.DefaultEngineOptions())

	if _, err := os.Stat(filepath.Join(dir, DataFileName)); os.IsNotExist(err) {
		t.Error("Data file was not created")
	}
	if _, err := os.Stat(filepath.Join(dir, WALFileName)); os.IsNotExist(err) {
		t.Error("WAL file was not created")
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	// Reopen the database
	db = openTestEngine(t, dir, storage.DefaultEngineOptions())
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}
}

// TestOpenReadOnly tests opening a database in read-only mode.
func TestOpenReadOnly(t *testing.T) {
	dir := t.TempDir()

	db := openTestEngine(t, dir, storage.DefaultEngineOptions())

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	entry := storage.NewEntry("uid=test,dc=example,dc=com")
	entry.SetStringAttribute("cn", "Test User")

	if err := db.Put(txIface, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
	if err := db.Commit(txIface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	opts := storage.DefaultEngineOptions().WithReadOnly(true)
	opts.DataDir = dir
	db, err = Open(opts)
	if err != nil {
		t.Fatalf("Failed to reopen database read-only: %v", err)
	}
	defer db.Close()

	txIface, err = db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin read-only transaction: %v", err)
	}

	retrieved, err := db.Get(txIface, "uid=test,dc=example,dc=com")
	if err != nil {
		t.Fatalf("Failed to get entry read-only: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved entry is nil")
	}

	if err := db.Commit(txIface); err == nil {
		t.Error("Expected error committing a write on a read-only engine, got nil")
	}

	txIface2, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin second read-only transaction: %v", err)
	}
	if err := db.Put(txIface2, storage.NewEntry("uid=nope,dc=example,dc=com")); err != nil {
		t.Fatalf("staging a Put should not itself fail: %v", err)
	}
	if err := db.Commit(txIface2); err != ErrDatabaseReadOnly {
		t.Errorf("Expected ErrDatabaseReadOnly committing a write, got %v", err)
	}
}

// TestTransactionLifecycle tests Begin, Commit, and Rollback.
func TestTransactionLifecycle(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	txn, ok := txIface.(*Transaction)
	if !ok || txn == nil {
		t.Fatal("Transaction is nil or wrong type")
	}
	if !txn.IsActive() {
		t.Error("Transaction should be active")
	}

	if err := db.Commit(txn); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}
	if txn.IsActive() {
		t.Error("Transaction should not be active after commit")
	}

	tx2Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin second transaction: %v", err)
	}
	tx2 := tx2Iface.(*Transaction)
	if err := db.Rollback(tx2); err != nil {
		t.Fatalf("Failed to rollback transaction: %v", err)
	}
	if tx2.IsActive() {
		t.Error("Transaction should not be active after rollback")
	}
}

// TestPutGetDelete tests basic entry operations.
func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	entry := storage.NewEntry("uid=alice,ou=users,dc=example,dc=com")
	entry.SetStringAttribute("cn", "Alice Smith")
	entry.SetStringAttribute("uid", "alice")
	entry.SetStringAttribute("mail", "alice@example.com")

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := db.Put(txIface, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
	if err := db.Commit(txIface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	tx2Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	retrieved, err := db.Get(tx2Iface, "uid=alice,ou=users,dc=example,dc=com")
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved entry is nil")
	}
	cn := retrieved.GetAttribute("cn")
	if len(cn) != 1 || string(cn[0]) != "Alice Smith" {
		t.Errorf("Expected cn='Alice Smith', got %v", cn)
	}
	if err := db.Commit(tx2Iface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	tx3Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := db.Delete(tx3Iface, "uid=alice,ou=users,dc=example,dc=com"); err != nil {
		t.Fatalf("Failed to delete entry: %v", err)
	}
	if err := db.Commit(tx3Iface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	tx4Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if _, err := db.Get(tx4Iface, "uid=alice,ou=users,dc=example,dc=com"); err != ErrEntryNotFound {
		t.Errorf("Expected ErrEntryNotFound, got %v", err)
	}
	if err := db.Commit(tx4Iface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}
}

// TestLargeEntryOverflowChain exercises the overflow page-chain path by
// storing an entry whose serialized form spans multiple pages.
func TestLargeEntryOverflowChain(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	entry := storage.NewEntry("uid=bigdata,dc=example,dc=com")
	big := make([]byte, storage.PageSize*3)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	entry.SetAttribute("description", [][]byte{big})

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := db.Put(txIface, entry); err != nil {
		t.Fatalf("Failed to put large entry: %v", err)
	}
	if err := db.Commit(txIface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	tx2Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	retrieved, err := db.Get(tx2Iface, "uid=bigdata,dc=example,dc=com")
	if err != nil {
		t.Fatalf("Failed to get large entry: %v", err)
	}
	got := retrieved.GetAttribute("description")
	if len(got) != 1 || len(got[0]) != len(big) {
		t.Fatalf("expected %d-byte value, got %d bytes", len(big), len(got[0]))
	}
	for i := range big {
		if got[0][i] != big[i] {
			t.Fatalf("overflow chain corrupted data at byte %d", i)
		}
	}
	db.Commit(tx2Iface)
}

// TestHasChildren tests parent-DN child tracking.
func TestHasChildren(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := db.Put(txIface, storage.NewEntry("ou=users,dc=example,dc=com")); err != nil {
		t.Fatalf("Failed to put parent: %v", err)
	}
	if err := db.Commit(txIface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	tx2Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	has, err := db.HasChildren(tx2Iface, "ou=users,dc=example,dc=com")
	if err != nil {
		t.Fatalf("HasChildren failed: %v", err)
	}
	if has {
		t.Error("expected no children yet")
	}
	db.Commit(tx2Iface)

	tx3Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := db.Put(tx3Iface, storage.NewEntry("uid=alice,ou=users,dc=example,dc=com")); err != nil {
		t.Fatalf("Failed to put child: %v", err)
	}
	if err := db.Commit(tx3Iface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	tx4Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	has, err = db.HasChildren(tx4Iface, "ou=users,dc=example,dc=com")
	if err != nil {
		t.Fatalf("HasChildren failed: %v", err)
	}
	if !has {
		t.Error("expected a child after adding uid=alice")
	}
	db.Commit(tx4Iface)
}

// TestCheckpoint tests the Checkpoint operation.
func TestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	entry := storage.NewEntry("uid=test,dc=example,dc=com")
	entry.SetStringAttribute("cn", "Test User")
	if err := db.Put(txIface, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
	if err := db.Commit(txIface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}

	if err := db.Checkpoint(); err != nil {
		t.Fatalf("Failed to checkpoint: %v", err)
	}

	stats := db.Stats()
	if stats.LastCheckpointLSN == 0 {
		t.Error("Expected non-zero checkpoint LSN after checkpoint")
	}
}

// TestStats tests the Stats operation.
func TestStats(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	stats := db.Stats()
	if stats.TotalPages == 0 {
		t.Error("Expected non-zero total pages")
	}
}

// TestRollbackChanges verifies that rollback genuinely discards staged
// changes: since Commit is the only place writes reach the B+ trees,
// Rollback's in-memory discard of staged ops means the entry is never
// visible anywhere.
func TestRollbackChanges(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())
	defer db.Close()

	txIface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	entry := storage.NewEntry("uid=rollback,dc=example,dc=com")
	entry.SetStringAttribute("cn", "Rollback Test")

	if err := db.Put(txIface, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}

	if err := db.Rollback(txIface); err != nil {
		t.Fatalf("Failed to rollback transaction: %v", err)
	}

	tx2Iface, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if _, err := db.Get(tx2Iface, "uid=rollback,dc=example,dc=com"); err != ErrEntryNotFound {
		t.Errorf("Expected ErrEntryNotFound after rollback, got %v", err)
	}
	if err := db.Commit(tx2Iface); err != nil {
		t.Fatalf("Failed to commit transaction: %v", err)
	}
}

// TestClosedDatabaseOperations tests that operations fail on closed database.
func TestClosedDatabaseOperations(t *testing.T) {
	dir := t.TempDir()
	db := openTestEngine(t, dir, storage.DefaultEngineOptions())

	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close database: %v", err)
	}

	if _, err := db.Begin(); err != ErrDatabaseClosed {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}

	if _, err := db.Get(&Transaction{engine: db}, "uid=test,dc=example,dc=com"); err != ErrDatabaseClosed {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}

	stats := db.Stats()
	if stats.TotalPages != 0 {
		t.Error("Expected zero stats on closed database")
	}
}
