// Package engine implements the concrete storage engine that combines all
// storage components into a unified interface.
//
// # Overview
//
// DirEngine combines a record manager, write-ahead log, page cache, and a
// pair of B+ trees into the storage.StorageEngine a directory partition is
// built on:
//
//   - Transaction staging with commit-time atomic apply and crash recovery
//   - Entry CRUD operations, keyed by DN
//   - Parent-DN child tracking for HasChildren
//   - Checkpoint and compaction maintenance operations
//
// # Opening an Engine
//
//	opts := storage.DefaultEngineOptions().WithDataDir("/var/lib/dircore")
//	eng, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Basic Operations
//
// Perform CRUD operations within transactions. A transaction stages its
// writes in memory; nothing reaches the data file until Commit, which is
// also where WAL durability and the SyncOnWrite barrier are enforced.
//
//	tx, _ := eng.Begin()
//	defer eng.Rollback(tx) // no-op once Commit has run
//
//	entry := storage.NewEntry("uid=alice,ou=users,dc=example,dc=com")
//	entry.SetStringAttribute("cn", "Alice Smith")
//	eng.Put(tx, entry)
//
//	eng.Commit(tx)
//
// # Maintenance
//
//	eng.Checkpoint() // flush dirty pages, log a checkpoint, truncate the WAL
//	eng.Compact()    // copy-on-write storage needs no separate compaction pass
//	stats := eng.Stats()
package engine
