// Package schema implements the directory engine's schema subsystem:
// the registry of attribute types, object classes, matching rules, and
// syntaxes, and the validator that checks every entry mutation against
// them.
package schema

import "strings"

// table stores one schema-object kind. Objects are held once, keyed by
// OID; every registered name (primary name and aliases) resolves to the
// owning OID through a case-folded alias map, since schema descriptors
// are case-insensitive names.
type table[T any] struct {
	byOID  map[string]T
	byName map[string]string
}

func newTable[T any]() table[T] {
	return table[T]{byOID: make(map[string]T), byName: make(map[string]string)}
}

func foldName(name string) string { return strings.ToLower(name) }

// put binds obj under oid plus every name in names. A name already bound
// to a different OID is rebound; registration-time collision policy is
// the Registry's concern, not the table's.
func (t *table[T]) put(oid string, names []string, obj T) {
	if oid == "" {
		return
	}
	t.byOID[oid] = obj
	for _, name := range names {
		if name != "" {
			t.byName[foldName(name)] = oid
		}
	}
}

// get resolves nameOrOID: first as an OID, then as a case-folded name.
func (t *table[T]) get(nameOrOID string) (T, bool) {
	if obj, ok := t.byOID[nameOrOID]; ok {
		return obj, true
	}
	if oid, ok := t.byName[foldName(nameOrOID)]; ok {
		obj, ok := t.byOID[oid]
		return obj, ok
	}
	var zero T
	return zero, false
}

// remove unbinds oid and every name that still points at it.
func (t *table[T]) remove(oid string, names []string) {
	delete(t.byOID, oid)
	for _, name := range names {
		if t.byName[foldName(name)] == oid {
			delete(t.byName, foldName(name))
		}
	}
}

// each visits every object once (by OID); returning false stops the walk.
func (t *table[T]) each(fn func(oid string, obj T) bool) {
	for oid, obj := range t.byOID {
		if !fn(oid, obj) {
			return
		}
	}
}

// Schema is the engine's live type system: one table per schema-object
// kind, plus the derived object-class closure cache (see closure.go).
// Lookups accept an OID or any registered name, names case-folded.
type Schema struct {
	objectClasses  table[*ObjectClass]
	attributeTypes table[*AttributeType]
	matchingRules  table[*MatchingRule]
	syntaxes       map[string]*Syntax

	closures map[string]*classClosure
}

// NewSchema creates an empty Schema.
func NewSchema() *Schema {
	return &Schema{
		objectClasses:  newTable[*ObjectClass](),
		attributeTypes: newTable[*AttributeType](),
		matchingRules:  newTable[*MatchingRule](),
		syntaxes:       make(map[string]*Syntax),
		closures:       make(map[string]*classClosure),
	}
}

// MatchingRule names the comparison semantics an attribute type can bind
// for equality, ordering, or substring assertions.
type MatchingRule struct {
	OID         string
	Name        string
	Names       []string
	Description string
	Syntax      string
	Obsolete    bool
}

// NewMatchingRule creates a MatchingRule with the given OID and name.
func NewMatchingRule(oid, name string) *MatchingRule {
	return &MatchingRule{OID: oid, Name: name, Names: []string{name}}
}

// GetObjectClass resolves an object class by OID or any registered name
// (case-insensitive). Returns nil if unknown.
func (s *Schema) GetObjectClass(nameOrOID string) *ObjectClass {
	oc, _ := s.objectClasses.get(nameOrOID)
	return oc
}

// GetAttributeType resolves an attribute type by OID or any registered
// name (case-insensitive). Returns nil if unknown.
func (s *Schema) GetAttributeType(nameOrOID string) *AttributeType {
	at, _ := s.attributeTypes.get(nameOrOID)
	return at
}

// GetSyntax resolves a syntax by OID. Returns nil if unknown.
func (s *Schema) GetSyntax(oid string) *Syntax {
	return s.syntaxes[oid]
}

// GetMatchingRule resolves a matching rule by OID or any registered name
// (case-insensitive). Returns nil if unknown.
func (s *Schema) GetMatchingRule(nameOrOID string) *MatchingRule {
	mr, _ := s.matchingRules.get(nameOrOID)
	return mr
}

// AddObjectClass registers oc under its OID and every name. The derived
// closure cache is invalidated: a new class can change any closure that
// names it as a superior.
func (s *Schema) AddObjectClass(oc *ObjectClass) {
	s.objectClasses.put(oc.OID, oc.Names, oc)
	s.invalidateClosures()
}

// AddAttributeType registers at under its OID and every name.
func (s *Schema) AddAttributeType(at *AttributeType) {
	s.attributeTypes.put(at.OID, at.Names, at)
}

// AddSyntax registers syn under its OID.
func (s *Schema) AddSyntax(syn *Syntax) {
	if syn.OID != "" {
		s.syntaxes[syn.OID] = syn
	}
}

// AddMatchingRule registers mr under its OID and every name.
func (s *Schema) AddMatchingRule(mr *MatchingRule) {
	s.matchingRules.put(mr.OID, mr.Names, mr)
}

// RemoveObjectClass unregisters oc and invalidates the closure cache.
func (s *Schema) RemoveObjectClass(oc *ObjectClass) {
	s.objectClasses.remove(oc.OID, oc.Names)
	s.invalidateClosures()
}

// RemoveAttributeType unregisters at.
func (s *Schema) RemoveAttributeType(at *AttributeType) {
	s.attributeTypes.remove(at.OID, at.Names)
}

// RemoveMatchingRule unregisters mr.
func (s *Schema) RemoveMatchingRule(mr *MatchingRule) {
	s.matchingRules.remove(mr.OID, mr.Names)
}

// RemoveSyntax unregisters the syntax bound to oid.
func (s *Schema) RemoveSyntax(oid string) {
	delete(s.syntaxes, oid)
}

// EachObjectClass visits every registered object class once; returning
// false stops the walk.
func (s *Schema) EachObjectClass(fn func(oid string, oc *ObjectClass) bool) {
	s.objectClasses.each(fn)
}

// EachAttributeType visits every registered attribute type once.
func (s *Schema) EachAttributeType(fn func(oid string, at *AttributeType) bool) {
	s.attributeTypes.each(fn)
}

// EachMatchingRule visits every registered matching rule once.
func (s *Schema) EachMatchingRule(fn func(oid string, mr *MatchingRule) bool) {
	s.matchingRules.each(fn)
}

// EachSyntax visits every registered syntax once.
func (s *Schema) EachSyntax(fn func(oid string, syn *Syntax) bool) {
	for oid, syn := range s.syntaxes {
		if !fn(oid, syn) {
			return
		}
	}
}
