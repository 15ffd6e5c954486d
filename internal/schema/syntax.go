package schema

import (
	"bytes"
	"unicode/utf8"
)

// Syntax is one registered LDAP syntax: an OID, a description, and the
// value checker enforcing it. A nil Validator means accept-all, the
// §4.2 fallback for syntaxes the engine has no checker for, so an
// exotic SYNTAX clause never blocks registration.
type Syntax struct {
	OID         string
	Description string
	Validator   func([]byte) bool
}

// NewSyntax creates a Syntax, attaching the built-in checker for oid
// when one exists.
func NewSyntax(oid, description string) *Syntax {
	return &Syntax{OID: oid, Description: description, Validator: builtinChecker(oid)}
}

// NewSyntaxWithValidator creates a Syntax with an explicit checker.
func NewSyntaxWithValidator(oid, description string, validator func([]byte) bool) *Syntax {
	return &Syntax{OID: oid, Description: description, Validator: validator}
}

// Validate reports whether value conforms. No checker means accept-all.
func (s *Syntax) Validate(value []byte) bool {
	return s.Validator == nil || s.Validator(value)
}

// HasValidator reports whether a real checker is attached; the
// validator short-circuits syntax checking when there is none.
func (s *Syntax) HasValidator() bool {
	return s.Validator != nil
}

// The RFC 4517 syntax OIDs the engine knows checkers for.
const (
	SyntaxDirectoryString = "1.3.6.1.4.1.1466.115.121.1.15"
	SyntaxDN              = "1.3.6.1.4.1.1466.115.121.1.12"
	SyntaxInteger         = "1.3.6.1.4.1.1466.115.121.1.27"
	SyntaxBoolean         = "1.3.6.1.4.1.1466.115.121.1.7"
	SyntaxOctetString     = "1.3.6.1.4.1.1466.115.121.1.40"
	SyntaxGeneralizedTime = "1.3.6.1.4.1.1466.115.121.1.24"
	SyntaxOID             = "1.3.6.1.4.1.1466.115.121.1.38"
	SyntaxTelephoneNumber = "1.3.6.1.4.1.1466.115.121.1.50"
	SyntaxIA5String       = "1.3.6.1.4.1.1466.115.121.1.26"
	SyntaxPrintableString = "1.3.6.1.4.1.1466.115.121.1.44"
	SyntaxNumericString   = "1.3.6.1.4.1.1466.115.121.1.36"
	SyntaxBitString       = "1.3.6.1.4.1.1466.115.121.1.6"
	SyntaxUUID            = "1.3.6.1.1.16.1"
)

// builtinChecker maps a syntax OID onto its value checker, or nil for a
// syntax the engine accepts unchecked.
func builtinChecker(oid string) func([]byte) bool {
	switch oid {
	case SyntaxDirectoryString:
		return ValidateDirectoryString
	case SyntaxInteger:
		return ValidateInteger
	case SyntaxBoolean:
		return ValidateBoolean
	case SyntaxOctetString:
		return ValidateOctetString
	case SyntaxIA5String:
		return ValidateIA5String
	case SyntaxPrintableString:
		return ValidatePrintableString
	case SyntaxNumericString:
		return ValidateNumericString
	case SyntaxTelephoneNumber:
		return ValidateTelephoneNumber
	default:
		return nil
	}
}

// ValidateDirectoryString accepts any non-empty, well-formed UTF-8
// value.
func ValidateDirectoryString(value []byte) bool {
	return len(value) > 0 && utf8.Valid(value)
}

// ValidateInteger accepts an optionally signed decimal integer.
func ValidateInteger(value []byte) bool {
	digits := value
	if len(digits) > 0 && (digits[0] == '-' || digits[0] == '+') {
		digits = digits[1:]
	}
	if len(digits) == 0 {
		return false
	}
	return !bytes.ContainsFunc(digits, func(r rune) bool { return r < '0' || r > '9' })
}

// ValidateBoolean accepts exactly "TRUE" or "FALSE".
func ValidateBoolean(value []byte) bool {
	return string(value) == "TRUE" || string(value) == "FALSE"
}

// ValidateOctetString accepts any byte sequence.
func ValidateOctetString([]byte) bool { return true }

// ValidateIA5String accepts 7-bit ASCII only.
func ValidateIA5String(value []byte) bool {
	return !bytes.ContainsFunc(value, func(r rune) bool { return r >= utf8.RuneSelf })
}

// printableSpecials are the non-alphanumeric characters RFC 4517's
// PrintableString production admits.
const printableSpecials = " '()+,-./:=?"

// ValidatePrintableString accepts RFC 4517 PrintableString characters
// only.
func ValidatePrintableString(value []byte) bool {
	return !bytes.ContainsFunc(value, func(r rune) bool {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		default:
			return !bytes.ContainsRune([]byte(printableSpecials), r)
		}
	})
}

// ValidateNumericString accepts digits and spaces.
func ValidateNumericString(value []byte) bool {
	return !bytes.ContainsFunc(value, func(r rune) bool {
		return r != ' ' && (r < '0' || r > '9')
	})
}

// ValidateTelephoneNumber accepts a non-empty string of digits and the
// usual phone-number punctuation.
func ValidateTelephoneNumber(value []byte) bool {
	if len(value) == 0 {
		return false
	}
	return !bytes.ContainsFunc(value, func(r rune) bool {
		if r >= '0' && r <= '9' {
			return false
		}
		return !bytes.ContainsRune([]byte(" -()+."), r)
	})
}
