// Package index is the index plane of the directory core.
//
// Two halves share one record manager. SystemIndexPlane carries the seven
// indices every partition must have — normalized DN, user-provided DN,
// hierarchy, existence, alias, one-level alias, subtree alias — each as a
// forward/reverse B+ tree pair keyed by DN or entry id. IndexManager
// carries the configurable per-attribute value indices (equality,
// presence, substring) and persists its directory on a dedicated metadata
// page so the same set reopens after a restart.
//
// Substring filters are answered by n-gram decomposition: indexed values
// file one row per distinct trigram, lookups intersect the pattern's
// trigram candidate sets, and MatchesPattern strips the false positives
// the gram intersection cannot avoid.
package index
