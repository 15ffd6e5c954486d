package schema

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// ErrInheritanceCycle is reported when an object class or attribute type
// names itself, directly or transitively, as its own superior.
var ErrInheritanceCycle = errors.New("inheritance cycle detected")

// LoadDefaultSchema builds the engine's bootstrap schema: the RFC 4512
// core and RFC 4519 user classes from defaults.go, with attribute-type
// inheritance resolved and syntax validators attached. LDIF-based schema
// loading is an external collaborator's job; the bootstrap set ships as
// Go literals only.
func LoadDefaultSchema() *Schema {
	s := NewSchema()

	_ = loadDefaultSyntaxes(s)
	_ = loadDefaultMatchingRules(s)
	_ = loadDefaultAttributeTypes(s)
	_ = loadDefaultObjectClasses(s)

	_ = ResolveInheritance(s)
	return s
}

// ResolveInheritance checks every SUP chain in s for cycles and copies
// inherited attribute-type properties (syntax, matching rules) down onto
// subtypes that leave them unset. It must run after a bulk registration
// and before the schema is put in service; an error names the first
// offending element.
func ResolveInheritance(s *Schema) error {
	var firstErr error

	s.EachObjectClass(func(_ string, oc *ObjectClass) bool {
		if err := walkSuperiors(oc.Name, func(name string) (string, bool) {
			next := s.GetObjectClass(name)
			if next == nil {
				return "", false
			}
			return next.Superior, true
		}); err != nil {
			firstErr = pkgerrors.Wrapf(err, "object class %s", oc.Name)
			return false
		}
		return true
	})
	if firstErr != nil {
		return firstErr
	}

	s.EachAttributeType(func(_ string, at *AttributeType) bool {
		if err := walkSuperiors(at.Name, func(name string) (string, bool) {
			next := s.GetAttributeType(name)
			if next == nil {
				return "", false
			}
			return next.Superior, true
		}); err != nil {
			firstErr = pkgerrors.Wrapf(err, "attribute type %s", at.Name)
			return false
		}
		inheritTypeProperties(s, at)
		return true
	})
	return firstErr
}

// walkSuperiors follows a SUP chain from start, asking step for each
// element's superior, and fails on a repeated element. An unknown
// element ends the walk silently: bulk loads register elements in
// arbitrary order, and the Registry's deferred queue owns dangling-
// reference diagnostics.
func walkSuperiors(start string, step func(name string) (string, bool)) error {
	seen := map[string]bool{foldName(start): true}
	for name := start; ; {
		sup, ok := step(name)
		if !ok || sup == "" {
			return nil
		}
		if seen[foldName(sup)] {
			return ErrInheritanceCycle
		}
		seen[foldName(sup)] = true
		name = sup
	}
}

// inheritTypeProperties fills at's unset syntax and matching rules from
// the nearest superior that declares them, so later lookups never walk
// the chain for these four fields.
func inheritTypeProperties(s *Schema, at *AttributeType) {
	for sup := s.GetAttributeType(at.Superior); sup != nil; sup = s.GetAttributeType(sup.Superior) {
		if at.Syntax == "" {
			at.Syntax = sup.Syntax
		}
		if at.Equality == "" {
			at.Equality = sup.Equality
		}
		if at.Ordering == "" {
			at.Ordering = sup.Ordering
		}
		if at.Substring == "" {
			at.Substring = sup.Substring
		}
		if sup.Superior == "" {
			return
		}
	}
}

// effectiveTypeField walks atName's SUP chain and returns the first
// non-empty value pick yields, guarding against malformed cycles.
func (s *Schema) effectiveTypeField(atName string, pick func(*AttributeType) string) string {
	seen := make(map[string]bool)
	for at := s.GetAttributeType(atName); at != nil; at = s.GetAttributeType(at.Superior) {
		if v := pick(at); v != "" {
			return v
		}
		if at.Superior == "" || seen[foldName(at.Name)] {
			return ""
		}
		seen[foldName(at.Name)] = true
	}
	return ""
}

// GetEffectiveSyntax returns the syntax OID governing atName's values,
// resolving SUP inheritance. Empty if the type (or its whole chain)
// declares none.
func (s *Schema) GetEffectiveSyntax(atName string) string {
	return s.effectiveTypeField(atName, func(at *AttributeType) string { return at.Syntax })
}

// GetEffectiveEqualityMatch returns the equality matching rule governing
// atName, resolving SUP inheritance.
func (s *Schema) GetEffectiveEqualityMatch(atName string) string {
	return s.effectiveTypeField(atName, func(at *AttributeType) string { return at.Equality })
}

// GetEffectiveOrderingMatch returns the ordering matching rule governing
// atName, resolving SUP inheritance.
func (s *Schema) GetEffectiveOrderingMatch(atName string) string {
	return s.effectiveTypeField(atName, func(at *AttributeType) string { return at.Ordering })
}

// GetEffectiveSubstringMatch returns the substring matching rule governing
// atName, resolving SUP inheritance.
func (s *Schema) GetEffectiveSubstringMatch(atName string) string {
	return s.effectiveTypeField(atName, func(at *AttributeType) string { return at.Substring })
}
