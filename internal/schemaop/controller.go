package schemaop

import (
	"strings"
	"sync"

	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/schema"
)

// ElementKind identifies which of the four ou=schema attribute families
// a registration targets.
type ElementKind int

const (
	KindAttributeType ElementKind = iota
	KindObjectClass
	KindMatchingRule
	KindSyntax
)

func (k ElementKind) String() string {
	switch k {
	case KindAttributeType:
		return "attributeTypes"
	case KindObjectClass:
		return "objectClasses"
	case KindMatchingRule:
		return "matchingRules"
	case KindSyntax:
		return "ldapSyntaxes"
	default:
		return "unknown"
	}
}

// State is a schema element's lifecycle state within the controller.
// Registered elements are visible to the Schema Validator; Disabled
// elements remain known (so existing entries referencing them still
// describe validly) but reject new values; Parked elements are staged
// behind an unresolved SUP and are invisible to validation until the
// registry converges them.
type State int

const (
	StateAbsent State = iota
	StateParked
	StateRegistered
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateParked:
		return "parked"
	case StateRegistered:
		return "registered"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

type elementKey struct {
	kind ElementKind
	name string
}

// Controller drives the ou=schema write path on top of a
// *schema.Registry: it parses RFC 4512 description strings, registers
// the parsed element, tracks each element's lifecycle State, and
// enforces the dependency rules that apply when an element is disabled
// or deleted.
type Controller struct {
	mu       sync.RWMutex
	registry *schema.Registry
	states   map[elementKey]State
}

// NewController wraps an existing registry. Every element already live
// in the registry's schema is recorded as StateRegistered.
func NewController(registry *schema.Registry) *Controller {
	c := &Controller{registry: registry, states: make(map[elementKey]State)}
	s := registry.Schema()
	s.EachAttributeType(func(_ string, at *schema.AttributeType) bool {
		if at.Name != "" {
			c.states[elementKey{KindAttributeType, strings.ToLower(at.Name)}] = StateRegistered
		}
		return true
	})
	s.EachObjectClass(func(_ string, oc *schema.ObjectClass) bool {
		if oc.Name != "" {
			c.states[elementKey{KindObjectClass, strings.ToLower(oc.Name)}] = StateRegistered
		}
		return true
	})
	s.EachMatchingRule(func(_ string, mr *schema.MatchingRule) bool {
		if mr.Name != "" {
			c.states[elementKey{KindMatchingRule, strings.ToLower(mr.Name)}] = StateRegistered
		}
		return true
	})
	s.EachSyntax(func(oid string, _ *schema.Syntax) bool {
		c.states[elementKey{KindSyntax, oid}] = StateRegistered
		return true
	})
	return c
}

// State reports the lifecycle state of a named element.
func (c *Controller) State(kind ElementKind, name string) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.states[elementKey{kind, strings.ToLower(name)}]; ok {
		return st
	}
	return StateAbsent
}

// AddAttributeType parses and registers an RFC 4512 attribute type
// description, moving it to Registered (if its SUP already resolves) or
// Parked (if not, until a later registration or Converge resolves it).
func (c *Controller) AddAttributeType(description string) (*schema.AttributeType, error) {
	at, err := schema.ParseAttributeTypeDescription(description)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing attributeTypes description")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.RegisterAttributeType(at); err != nil {
		return nil, err
	}
	parked := at.Superior != "" && c.registry.Schema().GetAttributeType(at.Superior) == nil
	c.setStateLocked(KindAttributeType, at.Name, parked)
	return at, nil
}

// AddObjectClass parses and registers an RFC 4512 object class
// description.
func (c *Controller) AddObjectClass(description string) (*schema.ObjectClass, error) {
	oc, err := schema.ParseObjectClassDescription(description)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing objectClasses description")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.RegisterObjectClass(oc); err != nil {
		return nil, err
	}
	parked := oc.Superior != "" && c.registry.Schema().GetObjectClass(oc.Superior) == nil
	c.setStateLocked(KindObjectClass, oc.Name, parked)
	return oc, nil
}

// AddMatchingRule parses and registers an RFC 4512 matching rule
// description. Matching rules have no SUP, so this always registers.
func (c *Controller) AddMatchingRule(description string) (*schema.MatchingRule, error) {
	mr, err := schema.ParseMatchingRuleDescription(description)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing matchingRules description")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.RegisterMatchingRule(mr); err != nil {
		return nil, err
	}
	c.states[elementKey{KindMatchingRule, strings.ToLower(mr.Name)}] = StateRegistered
	return mr, nil
}

// AddSyntax parses and registers an RFC 4512 LDAP syntax description.
func (c *Controller) AddSyntax(description string) (*schema.Syntax, error) {
	syn, err := schema.ParseSyntaxDescription(description)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing ldapSyntaxes description")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.registry.RegisterSyntax(syn); err != nil {
		return nil, err
	}
	c.states[elementKey{KindSyntax, syn.OID}] = StateRegistered
	return syn, nil
}

// Converge re-attempts every parked element and promotes any that now
// resolve to Registered. It mirrors the registry's own Converge but also
// keeps the controller's State map in sync.
func (c *Controller) Converge() (ok bool, stillPending []string) {
	ok, stillPending = c.registry.Converge()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, st := range c.states {
		if st != StateParked {
			continue
		}
		var resolved bool
		switch key.kind {
		case KindAttributeType:
			resolved = c.registry.Schema().GetAttributeType(key.name) != nil
		case KindObjectClass:
			resolved = c.registry.Schema().GetObjectClass(key.name) != nil
		}
		if resolved {
			c.states[key] = StateRegistered
		}
	}
	return ok, stillPending
}

// DisableObjectClass moves a registered object class to Disabled: it
// stays resolvable by name (so entries already carrying it still
// describe), but DeleteObjectClass or a new entry's Validate call should
// treat it as unusable for new assignments. The engine enforces the
// latter at the call site, not here, since schemaop has no entry data.
func (c *Controller) DisableObjectClass(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := elementKey{KindObjectClass, strings.ToLower(name)}
	if c.states[key] != StateRegistered {
		return direrr.New(direrr.KindUnwillingToPerform, "objectClass %q is not registered", name)
	}
	c.states[key] = StateDisabled
	return nil
}

// DeleteAttributeType removes a registered attribute type, refusing when
// any registered object class still names it in MUST or MAY (the
// dependency rule schema deletion must honor).
func (c *Controller) DeleteAttributeType(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lname := strings.ToLower(name)
	s := c.registry.Schema()
	var dependent *schema.ObjectClass
	s.EachObjectClass(func(_ string, oc *schema.ObjectClass) bool {
		if containsFold(oc.Must, name) || containsFold(oc.May, name) {
			dependent = oc
			return false
		}
		return true
	})
	if dependent != nil {
		return direrr.New(direrr.KindUnwillingToPerform,
			"attribute type %q is required or allowed by objectClass %q", name, dependent.Name)
	}

	at := s.GetAttributeType(name)
	if at == nil {
		return direrr.New(direrr.KindNoSuchAttribute, "attribute type %q is not registered", name)
	}
	s.RemoveAttributeType(at)
	c.states[elementKey{KindAttributeType, lname}] = StateAbsent
	return nil
}

// DeleteObjectClass removes a registered object class, refusing when
// another registered object class names it as SUP.
func (c *Controller) DeleteObjectClass(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lname := strings.ToLower(name)
	s := c.registry.Schema()
	var subordinate *schema.ObjectClass
	s.EachObjectClass(func(_ string, oc *schema.ObjectClass) bool {
		if strings.EqualFold(oc.Superior, name) {
			subordinate = oc
			return false
		}
		return true
	})
	if subordinate != nil {
		return direrr.New(direrr.KindUnwillingToPerform,
			"objectClass %q is the superior of %q", name, subordinate.Name)
	}

	oc := s.GetObjectClass(name)
	if oc == nil {
		return direrr.New(direrr.KindNoSuchObject, "objectClass %q is not registered", name)
	}
	s.RemoveObjectClass(oc)
	c.states[elementKey{KindObjectClass, lname}] = StateAbsent
	return nil
}

// DeleteMatchingRule removes a registered matching rule, refusing when any
// registered attribute type still names it for equality, ordering, or
// substring matching.
func (c *Controller) DeleteMatchingRule(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lname := strings.ToLower(name)
	s := c.registry.Schema()
	var user *schema.AttributeType
	s.EachAttributeType(func(_ string, at *schema.AttributeType) bool {
		if strings.EqualFold(at.Equality, name) || strings.EqualFold(at.Ordering, name) || strings.EqualFold(at.Substring, name) {
			user = at
			return false
		}
		return true
	})
	if user != nil {
		return direrr.New(direrr.KindUnwillingToPerform,
			"matching rule %q is used by attribute type %q", name, user.Name)
	}

	mr := s.GetMatchingRule(name)
	if mr == nil {
		return direrr.New(direrr.KindNoSuchAttribute, "matching rule %q is not registered", name)
	}
	s.RemoveMatchingRule(mr)
	c.states[elementKey{KindMatchingRule, lname}] = StateAbsent
	return nil
}

// DeleteSyntax removes a registered LDAP syntax, refusing when any
// registered attribute type or matching rule still references its OID.
func (c *Controller) DeleteSyntax(oid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.registry.Schema()
	var atUser *schema.AttributeType
	s.EachAttributeType(func(_ string, at *schema.AttributeType) bool {
		if at.Syntax == oid {
			atUser = at
			return false
		}
		return true
	})
	if atUser != nil {
		return direrr.New(direrr.KindUnwillingToPerform,
			"syntax %q is used by attribute type %q", oid, atUser.Name)
	}
	var mrUser *schema.MatchingRule
	s.EachMatchingRule(func(_ string, mr *schema.MatchingRule) bool {
		if mr.Syntax == oid {
			mrUser = mr
			return false
		}
		return true
	})
	if mrUser != nil {
		return direrr.New(direrr.KindUnwillingToPerform,
			"syntax %q is used by matching rule %q", oid, mrUser.Name)
	}

	syn := s.GetSyntax(oid)
	if syn == nil {
		return direrr.New(direrr.KindNoSuchAttribute, "syntax %q is not registered", oid)
	}
	s.RemoveSyntax(oid)
	c.states[elementKey{KindSyntax, oid}] = StateAbsent
	return nil
}

func (c *Controller) setStateLocked(kind ElementKind, name string, parked bool) {
	st := StateRegistered
	if parked {
		st = StateParked
	}
	c.states[elementKey{kind, strings.ToLower(name)}] = st
	if parked {
		return
	}
	// A live registration drains the registry's pending queue, so parked
	// elements it unblocked are live now as well.
	s := c.registry.Schema()
	for key, prev := range c.states {
		if prev == StateParked &&
			((key.kind == KindAttributeType && s.GetAttributeType(key.name) != nil) ||
				(key.kind == KindObjectClass && s.GetObjectClass(key.name) != nil)) {
			c.states[key] = StateRegistered
		}
	}
}

func containsFold(list []string, name string) bool {
	for _, s := range list {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
