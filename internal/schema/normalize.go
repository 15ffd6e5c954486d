package schema

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// Normalizer produces the normalized form of a raw attribute value for a
// given equality matching rule name.
type Normalizer func(value string) string

var foldCaser = cases.Fold()

// normalizers maps an equality matching rule name to the function that
// normalizes values compared under it. Every rule referenced by a
// bootstrap attribute type in defaults.go must have an entry here, or
// GetNormalizer falls back to caseIgnore normalization.
var normalizers = map[string]Normalizer{
	"caseIgnoreMatch":        normalizeCaseIgnore,
	"caseIgnoreIA5Match":     normalizeCaseIgnore,
	"caseExactMatch":         normalizeCaseExact,
	"caseExactIA5Match":      normalizeCaseExact,
	"objectIdentifierMatch":  normalizeTrim,
	"distinguishedNameMatch": normalizeCaseIgnore,
	"numericStringMatch":     normalizeNumericString,
	"integerMatch":           normalizeTrim,
	"booleanMatch":           normalizeCaseIgnore,
	"generalizedTimeMatch":   normalizeTrim,
	"telephoneNumberMatch":   normalizeTelephoneNumber,
	"octetStringMatch":       normalizeIdentity,
	"bitStringMatch":         normalizeTrim,
	"uniqueMemberMatch":      normalizeCaseIgnore,
	"UUIDMatch":              normalizeCaseIgnore,
}

// GetNormalizer resolves the Normalizer for an equality matching rule
// name, case-insensitively, falling back to caseIgnore semantics (the
// common case for free-text attributes lacking an explicit rule).
func GetNormalizer(matchingRuleName string) Normalizer {
	if n, ok := normalizers[matchingRuleName]; ok {
		return n
	}
	for name, n := range normalizers {
		if strings.EqualFold(name, matchingRuleName) {
			return n
		}
	}
	return normalizeCaseIgnore
}

// normalizeCaseIgnore folds case and collapses interior whitespace runs
// to a single space, per the caseIgnoreMatch transcoding rule family. It
// also applies Unicode width folding so fullwidth/halfwidth variants of
// the same character compare equal, which x/text/width exists for.
func normalizeCaseIgnore(value string) string {
	v := width.Fold.String(value)
	v = foldCaser.String(v)
	return collapseSpace(strings.TrimSpace(v))
}

// normalizeCaseExact preserves case but still collapses whitespace, per
// caseExactMatch.
func normalizeCaseExact(value string) string {
	return collapseSpace(strings.TrimSpace(value))
}

func normalizeTrim(value string) string {
	return strings.TrimSpace(value)
}

func normalizeIdentity(value string) string {
	return value
}

func normalizeNumericString(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r != ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeTelephoneNumber(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r != ' ' && r != '-' {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

func collapseSpace(value string) string {
	fields := strings.Fields(value)
	return strings.Join(fields, " ")
}

// NormalizeAttributeValue normalizes value using the equality matching
// rule effective for the attribute type named by attr (resolving SUP
// inheritance the same way GetEffectiveSyntax does). Unknown attribute
// types normalize under caseIgnore semantics, matching the Schema
// Validator's treatment of the directory-string fallback syntax.
func (s *Schema) NormalizeAttributeValue(attr, value string) string {
	mr := s.GetEffectiveEqualityMatch(attr)
	if mr == "" {
		return normalizeCaseIgnore(value)
	}
	return GetNormalizer(mr)(value)
}

// DNNormalizerFunc adapts NormalizeAttributeValue to the shape
// internal/dn.Normalizer expects, so the Entry Store can parse DNs using
// this schema's matching rules without internal/dn importing schema.
func (s *Schema) DNNormalizerFunc() func(attributeType, value string) (string, error) {
	return func(attributeType, value string) (string, error) {
		return s.NormalizeAttributeValue(attributeType, value), nil
	}
}
