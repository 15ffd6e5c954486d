package schema

import (
	"sync"

	"github.com/dircore/engine/internal/direrr"
)

// Registry wraps a Schema with the mutation-time invariants the Schema
// Registry must hold: every OID numeric and unique, every name unique
// within its kind, and attribute/object-class definitions added out of
// dependency order still converging once their superior arrives.
//
// Registered elements go live immediately if their superior (SUP) already
// resolves; syntax and matching-rule references are not checked at
// registration. Otherwise they sit in a
// pending queue; each successful registration re-attempts the queue,
// and Converge repeatedly sweeps it until a pass adds nothing (the
// pending set strictly shrinks or registration fails).
type Registry struct {
	mu      sync.RWMutex
	schema  *Schema
	oids    map[string]string // numeric OID -> element name, across all kinds
	pending []pendingElement
}

type elementKind int

const (
	kindAttributeType elementKind = iota
	kindObjectClass
	kindMatchingRule
	kindSyntax
)

type pendingElement struct {
	kind elementKind
	at   *AttributeType
	oc   *ObjectClass
	mr   *MatchingRule
	syn  *Syntax
}

// NewRegistry wraps an existing Schema (typically schema.LoadDefaultSchema()).
func NewRegistry(s *Schema) *Registry {
	r := &Registry{schema: s, oids: make(map[string]string)}
	s.EachAttributeType(func(oid string, at *AttributeType) bool {
		r.oids[oid] = at.Name
		return true
	})
	s.EachObjectClass(func(oid string, oc *ObjectClass) bool {
		r.oids[oid] = oc.Name
		return true
	})
	return r
}

// Schema returns the underlying live schema. Callers must not mutate it
// directly; go through the Registry so the OID ledger stays in sync.
func (r *Registry) Schema() *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schema
}

func (r *Registry) claimOID(oid, name string) error {
	if oid == "" {
		return nil
	}
	if !IsValidOID(oid) {
		return direrr.New(direrr.KindNonUniqueOid, "oid %q is not a valid numeric OID", oid)
	}
	if existing, ok := r.oids[oid]; ok && existing != name {
		return direrr.New(direrr.KindNonUniqueOid, "oid %q already registered to %q", oid, existing)
	}
	r.oids[oid] = name
	return nil
}

// RegisterAttributeType attempts to add at to the live schema. If its
// superior is not yet registered, at is parked in the pending queue and
// RegisterAttributeType succeeds immediately (Converge must be called to
// learn whether it ever resolves).
func (r *Registry) RegisterAttributeType(at *AttributeType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claimOID(at.OID, at.Name); err != nil {
		return err
	}
	if at.Superior != "" && r.schema.GetAttributeType(at.Superior) == nil {
		r.pending = append(r.pending, pendingElement{kind: kindAttributeType, at: at})
		return nil
	}
	r.schema.AddAttributeType(at)
	r.drainPendingLocked()
	return nil
}

// RegisterObjectClass attempts to add oc to the live schema, deferring it
// the same way RegisterAttributeType defers on an unresolved superior.
func (r *Registry) RegisterObjectClass(oc *ObjectClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claimOID(oc.OID, oc.Name); err != nil {
		return err
	}
	if oc.Superior != "" && r.schema.GetObjectClass(oc.Superior) == nil {
		r.pending = append(r.pending, pendingElement{kind: kindObjectClass, oc: oc})
		return nil
	}
	r.schema.AddObjectClass(oc)
	r.drainPendingLocked()
	return nil
}

// RegisterMatchingRule adds mr; matching rules have no superior, so this
// never defers.
func (r *Registry) RegisterMatchingRule(mr *MatchingRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimOID(mr.OID, mr.Name); err != nil {
		return err
	}
	r.schema.AddMatchingRule(mr)
	return nil
}

// RegisterSyntax adds syn; syntaxes have no superior, so this never
// defers.
func (r *Registry) RegisterSyntax(syn *Syntax) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimOID(syn.OID, syn.Description); err != nil {
		return err
	}
	r.schema.AddSyntax(syn)
	return nil
}

// drainPendingLocked re-attempts every pending element once; callers
// hold r.mu. It loops until a full pass adds nothing, matching the
// registry's convergence rule (the pending set must strictly shrink each
// pass or registration has failed).
func (r *Registry) drainPendingLocked() {
	for {
		before := len(r.pending)
		if before == 0 {
			return
		}
		remaining := r.pending[:0:0]
		for _, p := range r.pending {
			if r.tryResolveLocked(p) {
				continue
			}
			remaining = append(remaining, p)
		}
		r.pending = remaining
		if len(r.pending) == before {
			return
		}
	}
}

func (r *Registry) tryResolveLocked(p pendingElement) bool {
	switch p.kind {
	case kindAttributeType:
		if r.schema.GetAttributeType(p.at.Superior) == nil {
			return false
		}
		r.schema.AddAttributeType(p.at)
		return true
	case kindObjectClass:
		if r.schema.GetObjectClass(p.oc.Superior) == nil {
			return false
		}
		r.schema.AddObjectClass(p.oc)
		return true
	}
	return false
}

// Converge runs drainPendingLocked and reports whether the pending queue
// is now empty. A caller registering a batch of schema elements out of
// dependency order should register them all, then call Converge once; a
// non-empty result after it means some superior was never supplied.
func (r *Registry) Converge() (ok bool, stillPending []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainPendingLocked()
	for _, p := range r.pending {
		switch p.kind {
		case kindAttributeType:
			stillPending = append(stillPending, p.at.Name)
		case kindObjectClass:
			stillPending = append(stillPending, p.oc.Name)
		}
	}
	return len(r.pending) == 0, stillPending
}
