package dirstore

import (
	"sort"
	"strings"

	"github.com/dircore/engine/internal/schema"
	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/index"
)

// Entry is the Entry Store's public representation of a directory
// entry: string-valued attributes keyed by lowercase attribute name,
// mirroring the attribute storage shape the rest of the engine uses but
// avoiding the []byte plumbing at the API boundary.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// NewEntry creates an empty Entry for the given (unnormalized) DN.
func NewEntry(dn string) *Entry {
	return &Entry{DN: dn, Attributes: make(map[string][]string)}
}

// GetAttribute returns the values for name (case-insensitive).
func (e *Entry) GetAttribute(name string) []string {
	for k, v := range e.Attributes {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// SetAttribute replaces all values for name.
func (e *Entry) SetAttribute(name string, values ...string) {
	e.Attributes[strings.ToLower(name)] = values
}

// AddAttributeValue appends a single value to name.
func (e *Entry) AddAttributeValue(name string, value string) {
	key := strings.ToLower(name)
	e.Attributes[key] = append(e.Attributes[key], value)
}

// DeleteAttribute removes name entirely.
func (e *Entry) DeleteAttribute(name string) {
	delete(e.Attributes, strings.ToLower(name))
}

// DeleteAttributeValue removes a single value from name, case-insensitively.
func (e *Entry) DeleteAttributeValue(name, value string) {
	key := strings.ToLower(name)
	values := e.Attributes[key]
	out := values[:0]
	for _, v := range values {
		if !strings.EqualFold(v, value) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		delete(e.Attributes, key)
	} else {
		e.Attributes[key] = out
	}
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	clone := NewEntry(e.DN)
	for k, v := range e.Attributes {
		cp := make([]string, len(v))
		copy(cp, v)
		clone.Attributes[k] = cp
	}
	return clone
}

// sortedAttributeNames returns e's attribute names in a stable order, used
// when an operation needs deterministic iteration (error messages, tests).
func (e *Entry) sortedAttributeNames() []string {
	names := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func toStorageEntry(e *Entry) *storage.Entry {
	se := storage.NewEntry(e.DN)
	for name, values := range e.Attributes {
		byteValues := make([][]byte, len(values))
		for i, v := range values {
			byteValues[i] = []byte(v)
		}
		se.SetAttribute(name, byteValues)
	}
	return se
}

func fromStorageEntry(se *storage.Entry) *Entry {
	e := NewEntry(se.DN)
	for name, values := range se.Attributes {
		strValues := make([]string, len(values))
		for i, v := range values {
			strValues[i] = string(v)
		}
		e.Attributes[name] = strValues
	}
	return e
}

// toIndexEntry renders e for the per-attribute value indices. Values are
// folded to lowercase so index keys line up with the evaluator's default
// case-insensitive matching, and the entry's normalized DN rides in the
// index rows as the entry reference — which is why a rename must re-index
// the affected entries.
func toIndexEntry(e *Entry) *index.Entry {
	ie := index.NewEntry(e.DN)
	for name, values := range e.Attributes {
		byteValues := make([][]byte, len(values))
		for i, v := range values {
			byteValues[i] = []byte(strings.ToLower(v))
		}
		ie.SetAttribute(name, byteValues)
	}
	return ie
}

func toSchemaEntry(e *Entry) *schema.Entry {
	se := schema.NewEntry(e.DN)
	for name, values := range e.Attributes {
		byteValues := make([][]byte, len(values))
		for i, v := range values {
			byteValues[i] = []byte(v)
		}
		se.SetAttribute(name, byteValues...)
	}
	return se
}
