package filter

import (
	"strings"

	"github.com/dircore/engine/internal/schema"
)

// Evaluator evaluates LDAP search filters against entries.
type Evaluator struct {
	schema *schema.Schema
}

// NewEvaluator creates a new filter evaluator with the given schema.
// The schema is used for attribute syntax matching. If nil, default
// case-insensitive string matching is used.
func NewEvaluator(s *schema.Schema) *Evaluator {
	return &Evaluator{
		schema: s,
	}
}

// Evaluate tests whether an entry matches a filter.
// Returns true if the entry matches the filter, false otherwise.
func (e *Evaluator) Evaluate(filter *Filter, entry *Entry) bool {
	if filter == nil || entry == nil {
		return false
	}

	switch filter.Type {
	case FilterAnd:
		return e.evaluateAnd(filter, entry)
	case FilterOr:
		return e.evaluateOr(filter, entry)
	case FilterNot:
		return e.evaluateNot(filter, entry)
	case FilterEquality:
		return e.evaluateEquality(filter.Attribute, filter.Value, entry)
	case FilterSubstring:
		return e.evaluateSubstring(filter.Substring, entry)
	case FilterPresent:
		return e.evaluatePresent(filter.Attribute, entry)
	case FilterGreaterOrEqual:
		return e.evaluateGreaterOrEqual(filter.Attribute, filter.Value, entry)
	case FilterLessOrEqual:
		return e.evaluateLessOrEqual(filter.Attribute, filter.Value, entry)
	case FilterApproxMatch:
		return e.evaluateApproxMatch(filter.Attribute, filter.Value, entry)
	case FilterExtensibleMatch:
		return e.evaluateExtensibleMatch(filter, entry)
	default:
		return false
	}
}

// evaluateAnd evaluates an AND filter.
// Returns true only if all children match.
func (e *Evaluator) evaluateAnd(filter *Filter, entry *Entry) bool {
	// Empty AND filter matches everything (vacuous truth)
	if len(filter.Children) == 0 {
		return true
	}

	for _, child := range filter.Children {
		if !e.Evaluate(child, entry) {
			return false
		}
	}
	return true
}

// evaluateOr evaluates an OR filter.
// Returns true if any child matches.
func (e *Evaluator) evaluateOr(filter *Filter, entry *Entry) bool {
	// Empty OR filter matches nothing
	if len(filter.Children) == 0 {
		return false
	}

	for _, child := range filter.Children {
		if e.Evaluate(child, entry) {
			return true
		}
	}
	return false
}

// evaluateNot evaluates a NOT filter.
// Returns the negation of the child filter result.
func (e *Evaluator) evaluateNot(filter *Filter, entry *Entry) bool {
	if filter.Child == nil {
		return false
	}
	return !e.Evaluate(filter.Child, entry)
}

// evaluateEquality tests if an entry has an attribute with the given
// value, under the attribute's own equality matching rule: caseIgnore
// family folds case, exact families (caseExactMatch, octetStringMatch,
// UUIDMatch, ...) compare bytes as they are. Without a schema the fold
// default applies.
func (e *Evaluator) evaluateEquality(attr string, value []byte, entry *Entry) bool {
	values := e.getAttributeValues(attr, entry)
	if values == nil {
		return false
	}

	matcher := e.equalityMatcher(attr)
	for _, v := range values {
		if matcher(v, value) {
			return true
		}
	}
	return false
}

// evaluateSubstring tests if an entry has an attribute matching the
// substring pattern, folding case unless the attribute's substring rule
// is an exact family.
func (e *Evaluator) evaluateSubstring(sf *SubstringFilter, entry *Entry) bool {
	if sf == nil {
		return false
	}

	values := e.getAttributeValues(sf.Attribute, entry)
	if values == nil {
		return false
	}

	fold := !e.ruleIsExactFor(sf.Attribute, func(s *schema.Schema, a string) string {
		return s.GetEffectiveSubstringMatch(a)
	})
	for _, v := range values {
		if matchSubstring(v, sf.Initial, sf.Any, sf.Final, fold) {
			return true
		}
	}
	return false
}

// evaluatePresent tests if an entry has the specified attribute.
func (e *Evaluator) evaluatePresent(attr string, entry *Entry) bool {
	values := e.getAttributeValues(attr, entry)
	return values != nil && len(values) > 0
}

// evaluateGreaterOrEqual tests if an entry has an attribute >= the given
// value under the attribute's ordering rule.
func (e *Evaluator) evaluateGreaterOrEqual(attr string, value []byte, entry *Entry) bool {
	values := e.getAttributeValues(attr, entry)
	if values == nil {
		return false
	}

	fold := !e.orderingIsExact(attr)
	for _, v := range values {
		if orderValues(v, value, fold) >= 0 {
			return true
		}
	}
	return false
}

// evaluateLessOrEqual tests if an entry has an attribute <= the given
// value under the attribute's ordering rule.
func (e *Evaluator) evaluateLessOrEqual(attr string, value []byte, entry *Entry) bool {
	values := e.getAttributeValues(attr, entry)
	if values == nil {
		return false
	}

	fold := !e.orderingIsExact(attr)
	for _, v := range values {
		if orderValues(v, value, fold) <= 0 {
			return true
		}
	}
	return false
}

// evaluateApproxMatch tests if an entry has an attribute approximately matching the value.
func (e *Evaluator) evaluateApproxMatch(attr string, value []byte, entry *Entry) bool {
	values := e.getAttributeValues(attr, entry)
	if values == nil {
		return false
	}

	for _, v := range values {
		if matchApprox(v, value) {
			return true
		}
	}
	return false
}

// evaluateExtensibleMatch tests an (attr:dn:rule:=value) filter: the named
// matching rule (or, absent one, the attribute's own equality rule) is
// resolved via the Schema Registry and applied to the candidate values.
// filter.Attribute may be empty, per RFC 4515, in which case every attribute
// on the entry is a candidate. DN-component matching (filter.DNAttributes)
// is not evaluated here — the DIT's DN decomposition is outside this
// package's Entry view — so the flag has no effect on the result.
func (e *Evaluator) evaluateExtensibleMatch(filter *Filter, entry *Entry) bool {
	if filter.Attribute == "" && filter.MatchingRule == "" {
		return false
	}

	var values [][]byte
	if filter.Attribute != "" {
		values = e.getAttributeValues(filter.Attribute, entry)
	} else {
		for _, v := range entry.Attributes {
			values = append(values, v...)
		}
	}
	if len(values) == 0 {
		return false
	}

	matcher := e.resolveExtensibleMatcher(filter)
	for _, v := range values {
		if matcher(v, filter.Value) {
			return true
		}
	}
	return false
}

// resolveExtensibleMatcher looks filter.MatchingRule up in the Schema
// Registry. If the filter names no rule, it falls back to the named
// attribute's own equality matching rule, mirroring RFC 4511 §4.5.1's
// default-rule behavior; if neither resolves (no schema attached, unknown
// rule name, or no attribute given), it falls back further to plain
// case-insensitive equality.
func (e *Evaluator) resolveExtensibleMatcher(filter *Filter) func(a, b []byte) bool {
	ruleName := filter.MatchingRule
	if ruleName == "" && e.schema != nil && filter.Attribute != "" {
		ruleName = e.schema.GetEffectiveEqualityMatch(filter.Attribute)
	}

	if e.schema != nil && ruleName != "" {
		if mr := e.schema.GetMatchingRule(ruleName); mr != nil {
			return matcherForMatchingRule(mr)
		}
	}
	return matchEquality
}

// matcherForMatchingRule maps a resolved matching rule to the byte-level
// comparison it performs.
func matcherForMatchingRule(mr *schema.MatchingRule) func(a, b []byte) bool {
	if ruleIsExactFamily(mr.Name) {
		return matchEqualityExact
	}
	return matchEquality
}

// ruleIsExactFamily classifies a matching rule name: the caseExact family
// by name, plus the rules whose values have no case to fold in the first
// place (octetStringMatch, UUIDMatch/UUIDOrderingMatch, bitStringMatch)
// and therefore compare bytes exactly. Everything else — caseIgnore and
// friends — folds.
func ruleIsExactFamily(name string) bool {
	n := normalizeAttributeName(name)
	if strings.Contains(n, "exact") {
		return true
	}
	for _, prefix := range []string{"octetstring", "uuid", "bitstring"} {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

// equalityMatcher resolves the comparison an equality leaf on attr uses:
// the attribute's effective equality rule (SUP inheritance included) when
// a schema is attached, the fold-case default otherwise.
func (e *Evaluator) equalityMatcher(attr string) func(a, b []byte) bool {
	if e.ruleIsExactFor(attr, func(s *schema.Schema, a string) string {
		return s.GetEffectiveEqualityMatch(a)
	}) {
		return matchEqualityExact
	}
	return matchEquality
}

// orderingIsExact reports whether attr's ordering rule forbids case
// folding.
func (e *Evaluator) orderingIsExact(attr string) bool {
	return e.ruleIsExactFor(attr, func(s *schema.Schema, a string) string {
		return s.GetEffectiveOrderingMatch(a)
	})
}

// ruleIsExactFor resolves attr's matching rule through pick and reports
// whether it is an exact family. No schema, no resolvable rule, or a
// caseIgnore-family rule all mean the fold default stands.
func (e *Evaluator) ruleIsExactFor(attr string, pick func(*schema.Schema, string) string) bool {
	if e.schema == nil {
		return false
	}
	rule := pick(e.schema, attr)
	return rule != "" && ruleIsExactFamily(rule)
}

// getAttributeValues retrieves attribute values from an entry.
// Performs case-insensitive attribute name lookup.
func (e *Evaluator) getAttributeValues(attr string, entry *Entry) [][]byte {
	if normalizeAttributeName(attr) == "name" {
		return e.getNameAttributeValues(entry)
	}

	// First try exact match
	if values, ok := entry.Attributes[attr]; ok {
		return values
	}

	// Try case-insensitive match
	attrLower := normalizeAttributeName(attr)
	for name, values := range entry.Attributes {
		if normalizeAttributeName(name) == attrLower {
			return values
		}
	}

	return nil
}

// getNameAttributeValues resolves the "name" virtual attribute: it has no
// values of its own, but expands to the union of every attribute present on
// entry whose type is "name" or a (transitive) subtype of it, per the
// attribute-type hierarchy rooted at "name" (e.g. cn, ou, o, l, st are all
// subtypes of "name" in the standard schema).
func (e *Evaluator) getNameAttributeValues(entry *Entry) [][]byte {
	var union [][]byte
	for attrName, values := range entry.Attributes {
		if e.isNameSubtype(attrName) {
			union = append(union, values...)
		}
	}
	return union
}

// isNameSubtype reports whether attrName's attribute type is "name" itself
// or descends from it through a chain of SUP references. Returns false
// (rather than matching everything) when no schema is attached, since the
// hierarchy is only knowable from the attribute type definitions.
func (e *Evaluator) isNameSubtype(attrName string) bool {
	if e.schema == nil {
		return normalizeAttributeName(attrName) == "name"
	}

	seen := make(map[string]bool)
	current := attrName
	for { // seen guards against malformed SUP cycles
		if normalizeAttributeName(current) == "name" {
			return true
		}
		if seen[normalizeAttributeName(current)] {
			return false
		}
		seen[normalizeAttributeName(current)] = true

		at := e.schema.GetAttributeType(current)
		if at == nil || at.Superior == "" {
			return false
		}
		current = at.Superior
	}
}

// GetSchema returns the evaluator's schema.
func (e *Evaluator) GetSchema() *schema.Schema {
	return e.schema
}

// SetSchema sets the evaluator's schema.
func (e *Evaluator) SetSchema(s *schema.Schema) {
	e.schema = s
}
