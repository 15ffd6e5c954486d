package storage

// Scope selects how much of the tree a search examines.
type Scope int

const (
	// ScopeBase examines only the base entry.
	ScopeBase Scope = iota
	// ScopeOneLevel examines the base entry's immediate children.
	ScopeOneLevel
	// ScopeSubtree examines the base entry and every descendant.
	ScopeSubtree
)

// IndexType selects what kind of lookups an attribute index answers.
type IndexType int

const (
	// IndexEquality answers (uid=alice).
	IndexEquality IndexType = iota
	// IndexPresence answers (mail=*).
	IndexPresence
	// IndexSubstring answers (cn=*admin*).
	IndexSubstring
)

// Entry is the stored shape of one directory entry: its DN plus a
// multi-valued attribute map keyed by lowercased attribute name.
type Entry struct {
	DN         string
	Attributes map[string][][]byte
}

// NewEntry returns an entry with no attributes yet.
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: make(map[string][][]byte),
	}
}

// GetAttribute returns the values stored under name, nil when absent.
func (e *Entry) GetAttribute(name string) [][]byte {
	if e.Attributes == nil {
		return nil
	}
	return e.Attributes[name]
}

// HasAttribute reports whether the entry carries the attribute at all.
func (e *Entry) HasAttribute(name string) bool {
	if e.Attributes == nil {
		return false
	}
	_, ok := e.Attributes[name]
	return ok
}

// SetAttribute replaces the attribute's value set.
func (e *Entry) SetAttribute(name string, values [][]byte) {
	if e.Attributes == nil {
		e.Attributes = make(map[string][][]byte)
	}
	e.Attributes[name] = values
}

// AddAttributeValue appends one value to the attribute.
func (e *Entry) AddAttributeValue(name string, value []byte) {
	if e.Attributes == nil {
		e.Attributes = make(map[string][][]byte)
	}
	e.Attributes[name] = append(e.Attributes[name], value)
}

// SetStringAttribute replaces the attribute's value set from strings.
func (e *Entry) SetStringAttribute(name string, values ...string) {
	bs := make([][]byte, len(values))
	for i, v := range values {
		bs[i] = []byte(v)
	}
	e.SetAttribute(name, bs)
}

// Clone deep-copies the entry. Mutations validate against a clone so a
// rejected operation never touches the stored original.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := &Entry{
		DN:         e.DN,
		Attributes: make(map[string][][]byte, len(e.Attributes)),
	}
	for name, vals := range e.Attributes {
		copied := make([][]byte, len(vals))
		for i, v := range vals {
			copied[i] = make([]byte, len(v))
			copy(copied[i], v)
		}
		c.Attributes[name] = copied
	}
	return c
}

// FilterMatcher evaluates a filter against an entry. Declared here so the
// filter package can plug in without an import cycle.
type FilterMatcher interface {
	Match(entry *Entry) bool
}

// Iterator streams search results.
type Iterator interface {
	Next() bool
	Entry() *Entry
	Error() error
	Close()
}

// EngineStats summarizes an engine's state for diagnostics.
type EngineStats struct {
	TotalPages         uint64
	FreePages          uint64
	UsedPages          uint64
	EntryCount         uint64
	IndexCount         int
	ActiveTransactions int
	PageCacheSize      int
	DirtyPages         int
	WALSize            uint64
	LastCheckpointLSN  uint64
}

// StorageEngine is the seam between the entry store and its embedded
// engine: transaction control plus the four entry operations a partition
// performs. Search is answered by the partition's own system indices and
// maintenance (checkpoint, compact, stats, close) is invoked on the
// concrete engine by its owner, so neither belongs on this interface.
//
// The tx parameter is the value Begin returned — a *engine.Transaction for
// the stock engine; interface{} keeps this package from importing the
// engine package it anchors.
type StorageEngine interface {
	Begin() (interface{}, error)
	Commit(tx interface{}) error
	Rollback(tx interface{}) error

	Get(tx interface{}, dn string) (*Entry, error)
	Put(tx interface{}, entry *Entry) error
	Delete(tx interface{}, dn string) error
	HasChildren(tx interface{}, dn string) (bool, error)
}
