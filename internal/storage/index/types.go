package index

import (
	"strings"

	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
)

// IndexType selects what kind of filter leaf an attribute index answers.
type IndexType int

const (
	// IndexEquality answers (uid=alice).
	IndexEquality IndexType = iota
	// IndexPresence answers (mail=*).
	IndexPresence
	// IndexSubstring answers (cn=*admin*).
	IndexSubstring
)

func (t IndexType) String() string {
	switch t {
	case IndexEquality:
		return "equality"
	case IndexPresence:
		return "presence"
	case IndexSubstring:
		return "substring"
	}
	return "unknown"
}

// Index is one per-attribute value index: a B+ tree keyed by normalized
// attribute value (or n-gram, or presence marker, per Type).
type Index struct {
	Attribute  string
	Type       IndexType
	Tree       *btree.BPlusTree
	RootPageID storage.PageID
}

// Entry is the index plane's view of a directory entry: enough to know
// which values to index and where the entry lives. Kept local to avoid an
// import cycle with the entry store.
type Entry struct {
	DN         string
	Attributes map[string][][]byte
	PageID     storage.PageID
	SlotID     uint16
}

// NewEntry returns an entry with no attributes yet.
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: make(map[string][][]byte),
	}
}

// GetAttribute returns the values stored under name, case-insensitively.
func (e *Entry) GetAttribute(name string) [][]byte {
	if e.Attributes == nil {
		return nil
	}
	name = strings.ToLower(name)
	for k, v := range e.Attributes {
		if strings.ToLower(k) == name {
			return v
		}
	}
	return nil
}

// HasAttribute reports whether the entry carries the attribute.
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

// EntryRef renders the entry's identity for leaf storage.
func (e *Entry) EntryRef() btree.EntryRef {
	return btree.EntryRef{
		PageID: e.PageID,
		SlotID: e.SlotID,
		DN:     e.DN,
	}
}

// IndexMetadata is the persisted shape of one index directory entry.
type IndexMetadata struct {
	Attribute  string
	Type       IndexType
	RootPageID storage.PageID
}

// DefaultIndexedAttributes names the attributes every fresh partition
// indexes for equality without being asked.
func DefaultIndexedAttributes() []string {
	return []string{
		"objectclass",
		"uid",
		"cn",
		"sn",
		"mail",
		"memberof",
	}
}

// PresenceMarker is the single key a presence index files every entry
// under; the entry set under it answers (attr=*) directly.
var PresenceMarker = []byte{0x01}
