package dn

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Errors returned while parsing or manipulating DNs.
var (
	ErrEmptyRDN        = errors.New("dn: empty RDN component")
	ErrEmptyAVA        = errors.New("dn: empty attribute-value assertion")
	ErrMissingEquals   = errors.New("dn: RDN component missing '='")
	ErrTrailingEscape  = errors.New("dn: value ends with an unterminated escape")
	ErrRootHasNoParent = errors.New("dn: root entry has no parent")
)

// Normalizer maps an attribute type (as written in the DN, e.g. "cn" or
// "2.5.4.3") and a raw value to that attribute type's normalized string
// form. The Schema Registry supplies the concrete implementation; dn
// itself has no notion of syntaxes or matching rules.
type Normalizer func(attributeType, value string) (string, error)

// AVA is one attribute-type-and-value assertion within an RDN.
type AVA struct {
	TypeOrig  string
	TypeNorm  string
	ValueOrig string
	ValueNorm string
}

// RDN is a (possibly multi-valued) relative distinguished name: a set of
// AVAs joined with "+". Order among AVAs of the same RDN is preserved
// from input but is not significant for equality (multi-valued RDNs are
// compared as the joined, sorted-by-type-norm string).
type RDN struct {
	Attributes []AVA
}

// NormString renders the RDN's normalized form, "type=value+type=value",
// with a multi-valued RDN's AVAs sorted by normalized type.
func (r RDN) NormString() string {
	avas := r.Attributes
	if len(avas) > 1 {
		avas = append([]AVA(nil), avas...)
		sort.SliceStable(avas, func(i, j int) bool { return avas[i].TypeNorm < avas[j].TypeNorm })
	}
	var b strings.Builder
	for i, a := range avas {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString(a.TypeNorm)
		b.WriteByte('=')
		b.WriteString(a.ValueNorm)
	}
	return b.String()
}

// OrigString renders the RDN's user-provided form with RFC 4514 value
// escaping re-applied (the original escaping is not preserved verbatim,
// only the decoded value is — this matches the teacher's OrigEncodedStr).
func (r RDN) OrigString() string {
	var b strings.Builder
	for i, a := range r.Attributes {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString(a.TypeOrig)
		b.WriteByte('=')
		b.WriteString(escapeValue(a.ValueOrig))
	}
	return b.String()
}

// Value returns the first AVA's normalized value for the given
// (case-insensitive) attribute type within this RDN, and whether it was
// present.
func (r RDN) Value(attrTypeNorm string) (string, bool) {
	for _, a := range r.Attributes {
		if strings.EqualFold(a.TypeNorm, attrTypeNorm) {
			return a.ValueNorm, true
		}
	}
	return "", false
}

// DN is a parsed, root-last sequence of RDNs (RDNs[0] is the leaf).
type DN struct {
	RDNs []RDN

	normCache string
	normValid bool
}

// Anonymous is the zero-length DN used for unauthenticated binds.
var Anonymous = &DN{}

// Parse parses raw into a DN, normalizing every AVA's value with norm.
// An empty string parses to Anonymous.
func Parse(norm Normalizer, raw string) (*DN, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Anonymous, nil
	}

	rdnStrs, err := splitDN(raw)
	if err != nil {
		return nil, err
	}

	rdns := make([]RDN, len(rdnStrs))
	for i, rdnStr := range rdnStrs {
		rdn, err := parseRDN(norm, rdnStr)
		if err != nil {
			return nil, err
		}
		rdns[i] = rdn
	}

	return &DN{RDNs: rdns}, nil
}

// ParseRDN parses a single RDN component (no commas), e.g. for use as the
// newRDN argument of a rename.
func ParseRDN(norm Normalizer, raw string) (RDN, error) {
	return parseRDN(norm, strings.TrimSpace(raw))
}

func parseRDN(norm Normalizer, rdnStr string) (RDN, error) {
	if rdnStr == "" {
		return RDN{}, ErrEmptyRDN
	}

	avaStrs, err := splitUnescaped(rdnStr, '+')
	if err != nil {
		return RDN{}, err
	}

	attrs := make([]AVA, len(avaStrs))
	for i, avaStr := range avaStrs {
		ava, err := parseAVA(norm, avaStr)
		if err != nil {
			return RDN{}, err
		}
		attrs[i] = ava
	}
	return RDN{Attributes: attrs}, nil
}

func parseAVA(norm Normalizer, s string) (AVA, error) {
	parts, err := splitUnescaped(s, '=')
	if err != nil {
		return AVA{}, err
	}
	if len(parts) != 2 {
		return AVA{}, ErrMissingEquals
	}

	typeOrig := strings.TrimSpace(parts[0])
	rawValue := strings.TrimSpace(parts[1])
	if typeOrig == "" {
		return AVA{}, ErrEmptyAVA
	}

	value, err := unescapeValue(rawValue)
	if err != nil {
		return AVA{}, err
	}

	typeNorm := strings.ToLower(typeOrig)
	normValue := value
	if norm != nil {
		normValue, err = norm(typeNorm, value)
		if err != nil {
			return AVA{}, errors.Wrapf(err, "dn: normalizing %s=%s", typeOrig, value)
		}
	}

	return AVA{
		TypeOrig:  typeOrig,
		TypeNorm:  typeNorm,
		ValueOrig: value,
		ValueNorm: normValue,
	}, nil
}

// splitDN splits a DN string on unescaped commas or semicolons (RFC 4514
// allows ';' as a legacy RDN separator).
func splitDN(s string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inEscape:
			cur.WriteByte(c)
			inEscape = false
		case c == '\\':
			cur.WriteByte(c)
			inEscape = true
		case c == ',' || c == ';':
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inEscape {
		return nil, ErrTrailingEscape
	}
	out = append(out, strings.TrimSpace(cur.String()))
	return out, nil
}

// splitUnescaped splits s on unescaped occurrences of sep.
func splitUnescaped(s string, sep byte) ([]string, error) {
	var out []string
	var cur strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inEscape:
			cur.WriteByte(c)
			inEscape = false
		case c == '\\':
			cur.WriteByte(c)
			inEscape = true
		case c == sep:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inEscape {
		return nil, ErrTrailingEscape
	}
	out = append(out, cur.String())
	return out, nil
}

// unescapeValue decodes RFC 4514 value escaping: backslash-escaped
// special characters and backslash-hex pairs.
func unescapeValue(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", ErrTrailingEscape
		}
		next := s[i+1]
		if isHex(next) && i+2 < len(s) && isHex(s[i+2]) {
			b.WriteByte(hexByte(next, s[i+2]))
			i += 2
		} else {
			b.WriteByte(next)
			i++
		}
	}
	return b.String(), nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func hexByte(hi, lo byte) byte {
	return hexVal(hi)<<4 | hexVal(lo)
}

// escapeValue re-encodes a decoded value for display, escaping the
// special characters RFC 4514 requires: leading/trailing space, leading
// '#', and `"+,;<>\`.
func escapeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	last := len(s) - 1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case i == 0 && c == ' ':
			b.WriteString(`\ `)
		case i == last && c == ' ':
			b.WriteString(`\ `)
		case i == 0 && c == '#':
			b.WriteString(`\#`)
		case c == '"', c == '+', c == ',', c == ';', c == '<', c == '>', c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
