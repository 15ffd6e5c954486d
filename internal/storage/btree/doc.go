// Package btree implements the disk-backed B+ tree that every index in the
// directory core sits on: the master entry table, the seven system indices,
// and per-attribute user indices all store their keys here.
//
// Nodes are page-sized and persisted through the record manager, so a tree
// is identified by nothing more than its root page id. Leaves are chained
// in both directions, which gives ordered range and prefix scans without
// touching internal nodes, and duplicate keys are allowed so one attribute
// value can reference many entries. Uniqueness, where an index needs it, is
// opt-in through InsertUnique.
package btree
