// Package schema provides LDAP schema validation for the directory server.
package schema

import (
	"fmt"
	"strings"

	"github.com/dircore/engine/internal/direrr"
)

// Validation error codes
const (
	// ErrObjectClassViolation indicates an object class constraint violation.
	ErrObjectClassViolation = iota
	// ErrUndefinedAttributeType indicates an attribute type is not defined in the schema.
	ErrUndefinedAttributeType
	// ErrInvalidAttributeSyntax indicates an attribute value does not match its syntax.
	ErrInvalidAttributeSyntax
	// ErrMissingRequiredAttribute indicates a required (MUST) attribute is missing.
	ErrMissingRequiredAttribute
	// ErrSingleValueViolation indicates a single-value attribute has multiple values.
	ErrSingleValueViolation
	// ErrNoUserModification indicates an attempt to modify a read-only attribute.
	ErrNoUserModification
	// ErrStructuralChainBroken indicates the entry's structural object
	// classes do not form a single inheritance chain (two unrelated
	// structural classes present at once).
	ErrStructuralChainBroken
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Code    int
	Message string
	Attr    string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Attr)
	}
	return e.Message
}

// NewValidationError creates a new ValidationError with the given code and message.
func NewValidationError(code int, message string) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: message,
	}
}

// NewValidationErrorWithAttr creates a new ValidationError with the given code, message, and attribute.
func NewValidationErrorWithAttr(code int, message, attr string) *ValidationError {
	return &ValidationError{
		Code:    code,
		Message: message,
		Attr:    attr,
	}
}

// Kind maps the validator's internal error code onto the engine-wide
// direrr.Kind table, so callers above the schema package (the Entry
// Store) can branch on a single stable error taxonomy regardless of
// which layer raised it.
func (e *ValidationError) Kind() direrr.Kind {
	switch e.Code {
	case ErrUndefinedAttributeType:
		return direrr.KindInvalidAttributeIdentifier
	case ErrInvalidAttributeSyntax:
		return direrr.KindInvalidAttributeSyntax
	case ErrMissingRequiredAttribute:
		return direrr.KindSchemaViolation
	case ErrSingleValueViolation:
		return direrr.KindSchemaViolation
	case ErrNoUserModification:
		return direrr.KindUnwillingToPerform
	case ErrStructuralChainBroken:
		return direrr.KindSchemaViolation
	default:
		return direrr.KindSchemaViolation
	}
}

// AsDirErr converts e into the engine-wide error type, attaching attr/dn
// context the caller already knows about.
func (e *ValidationError) AsDirErr(dn string) *direrr.Error {
	de := direrr.New(e.Kind(), "%s", e.Message)
	if dn != "" {
		de = de.WithDN(dn)
	}
	if e.Attr != "" {
		de = de.WithAttribute(e.Attr)
	}
	return de
}

// Entry represents an LDAP entry for validation.
// This is a simplified interface to avoid circular dependencies.
type Entry struct {
	DN         string
	Attributes map[string][][]byte
}

// NewEntry creates a new Entry with the given DN.
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: make(map[string][][]byte),
	}
}

// SetAttribute sets an attribute value on the entry.
func (e *Entry) SetAttribute(name string, values ...[]byte) {
	e.Attributes[name] = values
}

// SetStringAttribute sets a string attribute value on the entry.
func (e *Entry) SetStringAttribute(name string, values ...string) {
	byteValues := make([][]byte, len(values))
	for i, v := range values {
		byteValues[i] = []byte(v)
	}
	e.Attributes[name] = byteValues
}

// GetAttribute returns the values for an attribute.
func (e *Entry) GetAttribute(name string) [][]byte {
	return e.Attributes[name]
}

// Has checks if the entry has the given attribute.
func (e *Entry) Has(name string) bool {
	values, ok := e.Attributes[name]
	return ok && len(values) > 0
}

// Clone creates a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}

	clone := &Entry{
		DN:         e.DN,
		Attributes: make(map[string][][]byte, len(e.Attributes)),
	}

	for k, v := range e.Attributes {
		values := make([][]byte, len(v))
		for i, val := range v {
			values[i] = make([]byte, len(val))
			copy(values[i], val)
		}
		clone.Attributes[k] = values
	}

	return clone
}

// ModificationType represents the type of modification operation.
type ModificationType int

const (
	// ModAdd adds values to an attribute.
	ModAdd ModificationType = iota
	// ModDelete removes values from an attribute.
	ModDelete
	// ModReplace replaces all values of an attribute.
	ModReplace
)

// Modification represents a single modification to an entry.
type Modification struct {
	Type   ModificationType
	Attr   string
	Values [][]byte
}

// NewModification creates a new Modification.
func NewModification(modType ModificationType, attr string, values ...[]byte) *Modification {
	return &Modification{
		Type:   modType,
		Attr:   attr,
		Values: values,
	}
}

// NewStringModification creates a new Modification with string values.
func NewStringModification(modType ModificationType, attr string, values ...string) *Modification {
	byteValues := make([][]byte, len(values))
	for i, v := range values {
		byteValues[i] = []byte(v)
	}
	return &Modification{
		Type:   modType,
		Attr:   attr,
		Values: byteValues,
	}
}

// Validator validates LDAP entries against a schema.
type Validator struct {
	schema *Schema
}

// NewValidator creates a new Validator with the given schema.
func NewValidator(schema *Schema) *Validator {
	return &Validator{
		schema: schema,
	}
}

// ValidateEntry validates an entry against the schema.
// It checks:
// 1. Entry must have objectClass attribute
// 2. At least one structural object class required
// 3. All required (MUST) attributes present
// 4. All attributes allowed by MAY or MUST
// 5. Single-value attributes have at most one value
// 6. Attribute values match syntax
func (v *Validator) ValidateEntry(entry *Entry) error {
	if entry == nil {
		return NewValidationError(ErrObjectClassViolation, "entry is nil")
	}

	// 1. Get all object classes. The key is matched case-insensitively,
	// like every other attribute lookup in this file: callers that
	// canonicalize attribute names to lowercase store the key as
	// "objectclass".
	classes := attributeStringsFold(entry, "objectClass")
	if len(classes) == 0 {
		return NewValidationError(ErrObjectClassViolation, "objectClass required")
	}

	// Collect all MUST and MAY attributes from all object classes
	must := make(map[string]bool)
	may := make(map[string]bool)
	hasStructural := false
	var structuralClasses []*ObjectClass

	for _, className := range classes {
		oc := v.schema.GetObjectClass(className)
		if oc == nil {
			return NewValidationErrorWithAttr(ErrObjectClassViolation, "unknown objectClass", className)
		}

		// 2. Check for at least one structural object class
		if oc.IsStructural() {
			hasStructural = true
			structuralClasses = append(structuralClasses, oc)
		}

		// Collect MUST attributes (including inherited)
		for _, attr := range v.schema.GetAllMustAttributes(className) {
			must[strings.ToLower(attr)] = true
		}

		// Collect MAY attributes (including inherited)
		for _, attr := range v.schema.GetAllMayAttributes(className) {
			may[strings.ToLower(attr)] = true
		}
	}

	// 2. At least one structural object class required
	if !hasStructural {
		return NewValidationError(ErrObjectClassViolation, "at least one structural objectClass required")
	}

	extensible := v.closureHasExtensibleObject(classes)

	// Attribute recognition runs before the allowed-set check: an
	// attribute id the schema does not know at all is rejected even when
	// extensibleObject is present, since extensibleObject only opens the
	// MAY set to registered attribute types.
	for attr := range entry.Attributes {
		if strings.ToLower(attr) == "objectclass" {
			continue
		}
		if v.schema.GetAttributeType(attr) == nil {
			return NewValidationErrorWithAttr(ErrUndefinedAttributeType, "unknown attribute type", attr)
		}
	}

	// 2b. Every pair of structural classes present must be related by
	// superior/subordinate inheritance, so there is one unambiguous most
	// specific structural class for the entry.
	if err := v.checkStructuralChain(structuralClasses); err != nil {
		return err
	}

	// 3. Check required attributes
	for attr := range must {
		if !v.hasAttributeCaseInsensitive(entry, attr) {
			return NewValidationErrorWithAttr(ErrMissingRequiredAttribute, "missing required attribute", attr)
		}
	}

	// 4. Check all attributes are allowed. extensibleObject leaves the
	// MAY set unbounded, so only entries without it are held to the
	// closed allowed set.
	if !extensible {
		for attr := range entry.Attributes {
			attrLower := strings.ToLower(attr)

			// Skip objectClass - it's always allowed
			if attrLower == "objectclass" {
				continue
			}

			// Check if attribute is allowed by MUST or MAY
			if !must[attrLower] && !may[attrLower] {
				// Check if it's an operational attribute
				if !v.isOperational(attr) {
					return NewValidationErrorWithAttr(ErrObjectClassViolation, "attribute not allowed by objectClass", attr)
				}
			}
		}
	}

	// 5. Check single-value constraints
	for attr, values := range entry.Attributes {
		at := v.schema.GetAttributeType(attr)
		if at != nil && at.SingleValue && len(values) > 1 {
			return NewValidationErrorWithAttr(ErrSingleValueViolation, "single-value attribute has multiple values", attr)
		}
	}

	// 6. Validate attribute syntax
	for attr, values := range entry.Attributes {
		if err := v.validateAttributeSyntax(attr, values); err != nil {
			return err
		}
	}

	return nil
}

// ValidateModification validates a modification against the schema.
// It applies the modifications to a copy of the entry and validates the result.
func (v *Validator) ValidateModification(entry *Entry, mods []Modification) error {
	if entry == nil {
		return NewValidationError(ErrObjectClassViolation, "entry is nil")
	}

	// Create a copy of the entry to apply modifications
	modified := entry.Clone()

	// Apply modifications
	for _, mod := range mods {
		// Check if attribute is read-only (NO-USER-MODIFICATION)
		at := v.schema.GetAttributeType(mod.Attr)
		if at != nil && at.NoUserMod {
			return NewValidationErrorWithAttr(ErrNoUserModification, "attribute is read-only", mod.Attr)
		}

		switch mod.Type {
		case ModAdd:
			// Add values to existing attribute
			existing := modified.GetAttribute(mod.Attr)
			modified.SetAttribute(mod.Attr, append(existing, mod.Values...)...)

		case ModDelete:
			if len(mod.Values) == 0 {
				// Delete entire attribute
				delete(modified.Attributes, mod.Attr)
			} else {
				// Delete specific values
				existing := modified.GetAttribute(mod.Attr)
				newValues := make([][]byte, 0, len(existing))
				for _, ev := range existing {
					keep := true
					for _, dv := range mod.Values {
						if bytesEqual(ev, dv) {
							keep = false
							break
						}
					}
					if keep {
						newValues = append(newValues, ev)
					}
				}
				if len(newValues) == 0 {
					delete(modified.Attributes, mod.Attr)
				} else {
					modified.SetAttribute(mod.Attr, newValues...)
				}
			}

		case ModReplace:
			if len(mod.Values) == 0 {
				// Replace with empty = delete
				delete(modified.Attributes, mod.Attr)
			} else {
				modified.SetAttribute(mod.Attr, mod.Values...)
			}
		}

		// Validate single-value constraint after modification
		if at != nil && at.SingleValue {
			values := modified.GetAttribute(mod.Attr)
			if len(values) > 1 {
				return NewValidationErrorWithAttr(ErrSingleValueViolation, "single-value attribute has multiple values", mod.Attr)
			}
		}

		// Validate syntax for added/replaced values
		if mod.Type == ModAdd || mod.Type == ModReplace {
			if err := v.validateAttributeSyntax(mod.Attr, mod.Values); err != nil {
				return err
			}
		}
	}

	// Validate the modified entry
	return v.ValidateEntry(modified)
}

// checkStructuralChain verifies that classes (all structural) form a
// single ancestry chain: for every pair, one must be a superior of the
// other. Two structural classes neither of which descends from the
// other mean the entry has no single, most-specific structural identity.
func (v *Validator) checkStructuralChain(classes []*ObjectClass) error {
	for i := 0; i < len(classes); i++ {
		for j := i + 1; j < len(classes); j++ {
			if v.isStructuralAncestor(classes[i], classes[j]) || v.isStructuralAncestor(classes[j], classes[i]) {
				continue
			}
			return NewValidationErrorWithAttr(ErrStructuralChainBroken,
				"structural object classes are not in a single inheritance chain",
				classes[i].Name+"/"+classes[j].Name)
		}
	}
	return nil
}

// isStructuralAncestor reports whether anc is oc itself or a superior of
// oc, walking the SUP chain.
func (v *Validator) isStructuralAncestor(anc, oc *ObjectClass) bool {
	cur := oc
	for cur != nil {
		if cur.OID == anc.OID && cur.Name == anc.Name {
			return true
		}
		if cur.Superior == "" {
			return false
		}
		cur = v.schema.GetObjectClass(cur.Superior)
	}
	return false
}

// closureHasExtensibleObject reports whether extensibleObject appears in
// the declared classes or anywhere up their superior chains.
func (v *Validator) closureHasExtensibleObject(classes []string) bool {
	for _, className := range classes {
		seen := make(map[string]bool)
		for name := className; name != "" && !seen[strings.ToLower(name)]; {
			lower := strings.ToLower(name)
			if lower == "extensibleobject" {
				return true
			}
			seen[lower] = true
			oc := v.schema.GetObjectClass(name)
			if oc == nil {
				break
			}
			name = oc.Superior
		}
	}
	return false
}

// EffectiveObjectClasses computes the canonical object-class set for the
// declared classes: the transitive superior closure with duplicates
// removed and top always present. The Entry Store writes this set back
// onto the entry on add and modify, so a stored entry always names its
// full closure. Returns a ValidationError if any class (or superior) is
// unknown.
func (v *Validator) EffectiveObjectClasses(declared []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(oc *ObjectClass) {
		lower := strings.ToLower(oc.Name)
		if !seen[lower] {
			seen[lower] = true
			out = append(out, oc.Name)
		}
	}

	if top := v.schema.GetObjectClass("top"); top != nil {
		add(top)
	}
	for _, className := range declared {
		for name := className; name != ""; {
			oc := v.schema.GetObjectClass(name)
			if oc == nil {
				return nil, NewValidationErrorWithAttr(ErrObjectClassViolation, "unknown objectClass", name)
			}
			if seen[strings.ToLower(oc.Name)] {
				break
			}
			add(oc)
			name = oc.Superior
		}
	}
	return out, nil
}

// isOperational checks if an attribute is an operational attribute.
func (v *Validator) isOperational(attr string) bool {
	at := v.schema.GetAttributeType(attr)
	if at == nil {
		return false
	}
	return at.IsOperational()
}

// attributeStringsFold returns the entry's string values for name,
// matching the attribute key case-insensitively.
func attributeStringsFold(entry *Entry, name string) []string {
	values := entry.Attributes[name]
	if values == nil {
		for k, v := range entry.Attributes {
			if strings.EqualFold(k, name) {
				values = v
				break
			}
		}
	}
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// hasAttributeCaseInsensitive checks if the entry has an attribute (case-insensitive).
func (v *Validator) hasAttributeCaseInsensitive(entry *Entry, attrLower string) bool {
	for attr := range entry.Attributes {
		if strings.ToLower(attr) == attrLower {
			values := entry.Attributes[attr]
			if len(values) > 0 {
				return true
			}
		}
	}
	return false
}

// validateAttributeSyntax validates attribute values against their syntax.
func (v *Validator) validateAttributeSyntax(attr string, values [][]byte) error {
	// Get the effective syntax for this attribute
	syntaxOID := v.schema.GetEffectiveSyntax(attr)
	if syntaxOID == "" {
		// No syntax defined, skip validation
		return nil
	}

	// Get the syntax definition
	syntax := v.schema.GetSyntax(syntaxOID)
	if syntax == nil || !syntax.HasValidator() {
		// No validator defined, skip validation
		return nil
	}

	// Validate each value
	for _, value := range values {
		if !syntax.Validate(value) {
			return NewValidationErrorWithAttr(ErrInvalidAttributeSyntax, "invalid attribute syntax", attr)
		}
	}

	return nil
}

// bytesEqual compares two byte slices for equality.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetSchema returns the validator's schema.
func (v *Validator) GetSchema() *Schema {
	return v.schema
}
