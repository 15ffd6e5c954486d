// Package direrr defines the typed error kinds raised across the
// directory engine (schema, store, index, alias, filter, schema
// operation controller) so every collaborator layer can branch on a
// stable Kind instead of matching error strings.
package direrr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the error categories from the engine's error
// handling design. A Kind is never raised bare; it always carries a
// message and, where one exists, the underlying cause.
type Kind int

const (
	// KindSchemaViolation covers MUST missing, disallowed attribute
	// present, structural-class rule violations, and single-valued
	// cardinality violations.
	KindSchemaViolation Kind = iota
	// KindInvalidAttributeSyntax is raised when a value fails its
	// syntax checker.
	KindInvalidAttributeSyntax
	// KindInvalidAttributeIdentifier is raised when an attribute id is
	// unknown and the entry is not extensibleObject.
	KindInvalidAttributeIdentifier
	// KindNoSuchObject is raised when a target entry is missing.
	KindNoSuchObject
	// KindNoSuchAttribute is raised when a target attribute is missing.
	KindNoSuchAttribute
	// KindEntryAlreadyExists is raised when a DN is already bound.
	KindEntryAlreadyExists
	// KindAliasProblem covers cycles, chains, and targets outside the
	// partition suffix.
	KindAliasProblem
	// KindAliasDerefProblem is raised when an alias target cannot be
	// resolved.
	KindAliasDerefProblem
	// KindNamingViolation covers a missing RDN attribute and
	// schema-subtree parent rule violations.
	KindNamingViolation
	// KindUnwillingToPerform covers delete-with-dependents, REPLACE on
	// a schema subentry, and schema-subtree move rule violations.
	KindUnwillingToPerform
	// KindSizeLimitExceeded is raised when a search's size limit is hit.
	KindSizeLimitExceeded
	// KindTimeLimitExceeded is raised when a search's time limit is hit.
	KindTimeLimitExceeded
	// KindNonUniqueOid is raised on an OID collision during schema
	// registration.
	KindNonUniqueOid
	// KindIoError covers record-manager I/O failures. Fatal for the
	// owning partition.
	KindIoError
	// KindCorruptStore covers record-manager integrity failures. Fatal
	// for the owning partition.
	KindCorruptStore
)

// String returns the error kind's canonical name, matching the table in
// the error handling design.
func (k Kind) String() string {
	switch k {
	case KindSchemaViolation:
		return "SchemaViolation"
	case KindInvalidAttributeSyntax:
		return "InvalidAttributeSyntax"
	case KindInvalidAttributeIdentifier:
		return "InvalidAttributeIdentifier"
	case KindNoSuchObject:
		return "NoSuchObject"
	case KindNoSuchAttribute:
		return "NoSuchAttribute"
	case KindEntryAlreadyExists:
		return "EntryAlreadyExists"
	case KindAliasProblem:
		return "AliasProblem"
	case KindAliasDerefProblem:
		return "AliasDerefProblem"
	case KindNamingViolation:
		return "NamingViolation"
	case KindUnwillingToPerform:
		return "UnwillingToPerform"
	case KindSizeLimitExceeded:
		return "SizeLimitExceeded"
	case KindTimeLimitExceeded:
		return "TimeLimitExceeded"
	case KindNonUniqueOid:
		return "NonUniqueOid"
	case KindIoError:
		return "IoError"
	case KindCorruptStore:
		return "CorruptStore"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type for every Kind in the table. It
// carries enough context (DN, attribute, object class) for a caller to
// format a useful message without re-deriving it, and wraps the
// underlying cause (if any) so errors.Is/errors.As still reach it.
type Error struct {
	Kind        Kind
	Message     string
	DN          string
	Attribute   string
	ObjectClass string
	cause       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.DN != "" {
		msg = fmt.Sprintf("%s (dn=%q)", msg, e.DN)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, so callers
// can write errors.Is(err, direrr.New(direrr.KindNoSuchObject, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an Error with no underlying cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that wraps cause using pkg/errors so the root
// cause (typically an I/O failure from the record manager) remains
// inspectable via errors.Cause/errors.Unwrap.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, msg)
	}
	return &Error{Kind: kind, Message: msg, cause: wrapped}
}

// WithDN returns a copy of e with the DN field set.
func (e *Error) WithDN(dn string) *Error {
	c := *e
	c.DN = dn
	return &c
}

// WithAttribute returns a copy of e with the Attribute field set.
func (e *Error) WithAttribute(attr string) *Error {
	c := *e
	c.Attribute = attr
	return &c
}

// WithObjectClass returns a copy of e with the ObjectClass field set.
func (e *Error) WithObjectClass(oc string) *Error {
	c := *e
	c.ObjectClass = oc
	return &c
}

// Is reports whether err is a direrr.*Error of the given kind. It is the
// usual call site form: direrr.Is(err, direrr.KindNoSuchObject).
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, returning ok=false if err is not a
// *Error (or is nil).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}
