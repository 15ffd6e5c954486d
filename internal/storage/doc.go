// Package storage is the record manager layer of the directory core: a
// paged data file per partition, a transaction file beside it, and the
// machinery that keeps the two honest with each other.
//
// The RecordManager owns the data file. It deals exclusively in fixed-size
// pages — allocation from a persistent free list, checksummed reads and
// writes at page offsets, a versioned file header on page 0 holding the
// root pointers everything else hangs off. The PageCache in front of it
// keeps hot pages in memory with pseudo-LRU replacement, writing dirty
// pages through before their frames are reused, so eviction is invisible
// to callers.
//
// Durability comes from the WAL: mutations log their page images to the
// transaction file before data pages change, Recovery replays the log
// after a crash (redo committed work, undo the rest), and the
// CheckpointManager periodically flushes everything and truncates the log
// behind a checkpoint record. A Sync on either file is a happens-before
// barrier — when it returns, everything written earlier is on stable
// storage.
//
// The StorageEngine interface at the bottom of engine.go is the seam the
// entry store consumes; the concrete implementation lives in the engine
// subpackage, and the B+ trees everything is indexed with live in btree.
package storage
