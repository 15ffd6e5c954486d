package filter

import (
	"bytes"
	"strings"
)

// The match* functions are the evaluator's default value comparisons, used
// whenever no schema matching rule overrides them. LDAP's common string
// syntaxes compare case-insensitively, so fold-case is the default and
// exact comparison is the exception.

func matchEquality(a, b []byte) bool {
	return bytes.EqualFold(a, b)
}

func matchEqualityExact(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// matchSubstring walks value left to right consuming the pattern's
// components in order: the initial run anchors at the front, each "any"
// run must appear after the previous component, the final run anchors at
// the back. fold selects case-insensitive comparison, the common case;
// exact-family substring rules pass fold=false.
func matchSubstring(value []byte, initial []byte, any [][]byte, final []byte, fold bool) bool {
	v := value
	if fold {
		v = bytes.ToLower(value)
	}
	part := func(p []byte) []byte {
		if fold {
			return bytes.ToLower(p)
		}
		return p
	}
	pos := 0

	if len(initial) > 0 {
		if !bytes.HasPrefix(v, part(initial)) {
			return false
		}
		pos = len(initial)
	}

	for _, p := range any {
		if len(p) == 0 {
			continue
		}
		at := bytes.Index(v[pos:], part(p))
		if at < 0 {
			return false
		}
		pos += at + len(p)
	}

	if len(final) > 0 {
		return bytes.HasSuffix(v[pos:], part(final))
	}
	return true
}

// orderValues compares value against threshold bytewise, folding case
// first unless an exact-family ordering rule turned folding off.
func orderValues(value, threshold []byte, fold bool) int {
	if fold {
		return bytes.Compare(bytes.ToLower(value), bytes.ToLower(threshold))
	}
	return bytes.Compare(value, threshold)
}

// matchApprox compares after folding case and collapsing whitespace, the
// usual approximation when no phonetic rule is configured.
func matchApprox(a, b []byte) bool {
	return bytes.Equal(normalizeForApprox(a), normalizeForApprox(b))
}

func normalizeForApprox(value []byte) []byte {
	fields := strings.Fields(strings.ToLower(string(value)))
	return []byte(strings.Join(fields, " "))
}

// normalizeAttributeName folds an attribute name for case-insensitive
// lookup.
func normalizeAttributeName(name string) string {
	return strings.ToLower(name)
}
