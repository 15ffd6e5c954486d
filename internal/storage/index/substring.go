package index

import (
	"errors"
	"strings"
	"sync"

	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
)

var (
	ErrIndexNotInitialized = errors.New("substring index not initialized")
	ErrEmptyValue          = errors.New("value cannot be empty")
	ErrEmptyPattern        = errors.New("pattern cannot be empty")
)

// SubstringIndex answers wildcard filters like (cn=*admin*) from an n-gram
// tree instead of a full scan. Every indexed value files one row per
// distinct gram; a lookup intersects the candidate sets of the pattern's
// grams. The result over-approximates — gram co-occurrence does not imply
// adjacency — so callers verify candidates against the real values.
type SubstringIndex struct {
	tree      *btree.BPlusTree
	rm        *storage.RecordManager
	ngramSize int
	mu        sync.RWMutex
}

// NewSubstringIndex opens a fresh index with the default gram size.
func NewSubstringIndex(rm *storage.RecordManager) (*SubstringIndex, error) {
	return NewSubstringIndexWithSize(rm, NgramSize)
}

// NewSubstringIndexWithSize opens a fresh index with a custom gram size.
func NewSubstringIndexWithSize(rm *storage.RecordManager, ngramSize int) (*SubstringIndex, error) {
	if rm == nil {
		return nil, ErrInvalidRecordManager
	}
	if ngramSize <= 0 {
		ngramSize = NgramSize
	}

	tree, err := btree.NewBPlusTree(rm, 0)
	if err != nil {
		return nil, err
	}
	return &SubstringIndex{tree: tree, rm: rm, ngramSize: ngramSize}, nil
}

// NewSubstringIndexWithRoot reopens an index at a persisted root.
func NewSubstringIndexWithRoot(rm *storage.RecordManager, rootPageID storage.PageID, ngramSize int) (*SubstringIndex, error) {
	if rm == nil {
		return nil, ErrInvalidRecordManager
	}
	if ngramSize <= 0 {
		ngramSize = NgramSize
	}

	tree, err := btree.NewBPlusTreeWithRoot(rm, rootPageID, 0)
	if err != nil {
		return nil, err
	}
	return &SubstringIndex{tree: tree, rm: rm, ngramSize: ngramSize}, nil
}

// Index files value's grams under ref.
func (si *SubstringIndex) Index(value string, ref btree.EntryRef) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}

	si.mu.Lock()
	defer si.mu.Unlock()

	for _, gram := range GenerateUniqueNgrams(value, si.ngramSize) {
		if err := si.tree.Insert([]byte(gram), ref); err != nil {
			return err
		}
	}
	return nil
}

// Remove withdraws value's grams for ref. Rows already gone are ignored so
// removal stays idempotent.
func (si *SubstringIndex) Remove(value string, ref btree.EntryRef) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}

	si.mu.Lock()
	defer si.mu.Unlock()

	for _, gram := range GenerateUniqueNgrams(value, si.ngramSize) {
		if err := si.tree.Delete([]byte(gram), ref); err != nil && err != btree.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

// Search returns candidates that may match the wildcard pattern. A nil,
// nil return means the pattern had no usable grams and the caller must
// scan instead.
func (si *SubstringIndex) Search(pattern string) ([]btree.EntryRef, error) {
	if len(pattern) == 0 {
		return nil, ErrEmptyPattern
	}

	si.mu.RLock()
	defer si.mu.RUnlock()

	grams := ExtractSearchableNgrams(pattern, si.ngramSize)
	if len(grams) == 0 {
		return nil, nil
	}

	candidates, err := si.tree.Search([]byte(grams[0]))
	if err != nil {
		return nil, err
	}

	for _, gram := range grams[1:] {
		if len(candidates) == 0 {
			return nil, nil
		}
		next, err := si.tree.Search([]byte(gram))
		if err != nil {
			return nil, err
		}
		candidates = intersectRefs(candidates, next)
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates, nil
}

// SearchSubstring answers *substring*.
func (si *SubstringIndex) SearchSubstring(substring string) ([]btree.EntryRef, error) {
	return si.Search("*" + substring + "*")
}

// SearchPrefix answers prefix*.
func (si *SubstringIndex) SearchPrefix(prefix string) ([]btree.EntryRef, error) {
	return si.Search(prefix + "*")
}

// SearchSuffix answers *suffix.
func (si *SubstringIndex) SearchSuffix(suffix string) ([]btree.EntryRef, error) {
	return si.Search("*" + suffix)
}

// Root returns the tree root for persistence.
func (si *SubstringIndex) Root() storage.PageID {
	return si.tree.Root()
}

// NgramSize returns the gram width this index was built with.
func (si *SubstringIndex) NgramSize() int {
	return si.ngramSize
}

// IsEmpty reports whether nothing is indexed.
func (si *SubstringIndex) IsEmpty() bool {
	return si.tree.IsEmpty()
}

// Stats reports the underlying tree's shape.
func (si *SubstringIndex) Stats() (btree.TreeStats, error) {
	return si.tree.Stats()
}

// intersectRefs keeps the refs present in both slices, each at most once.
func intersectRefs(a, b []btree.EntryRef) []btree.EntryRef {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if len(a) > len(b) {
		a, b = b, a
	}

	set := make(map[btree.EntryRef]struct{}, len(a))
	for _, ref := range a {
		set[ref] = struct{}{}
	}

	out := make([]btree.EntryRef, 0, len(a))
	for _, ref := range b {
		if _, ok := set[ref]; ok {
			out = append(out, ref)
			delete(set, ref)
		}
	}
	return out
}

// MatchesPattern verifies a candidate value against the original wildcard
// pattern, case-insensitively. This is the false-positive filter behind
// every gram-index lookup. * matches any run, ? any single character.
func MatchesPattern(value, pattern string) bool {
	return matchWildcard(strings.ToLower(value), strings.ToLower(pattern))
}

// matchWildcard runs the classic DP table over value and pattern.
func matchWildcard(value, pattern string) bool {
	v, p := len(value), len(pattern)

	dp := make([][]bool, v+1)
	for i := range dp {
		dp[i] = make([]bool, p+1)
	}
	dp[0][0] = true

	for j := 1; j <= p; j++ {
		if pattern[j-1] == '*' {
			dp[0][j] = dp[0][j-1]
		}
	}

	for i := 1; i <= v; i++ {
		for j := 1; j <= p; j++ {
			switch {
			case pattern[j-1] == '*':
				dp[i][j] = dp[i][j-1] || dp[i-1][j]
			case pattern[j-1] == '?' || value[i-1] == pattern[j-1]:
				dp[i][j] = dp[i-1][j-1]
			}
		}
	}
	return dp[v][p]
}

// FilterByPattern keeps the values that actually match pattern.
func FilterByPattern(values []string, pattern string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if MatchesPattern(v, pattern) {
			out = append(out, v)
		}
	}
	return out
}
