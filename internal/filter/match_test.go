package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchEquality(t *testing.T) {
	assert.True(t, matchEquality([]byte("Alice"), []byte("alice")))
	assert.True(t, matchEquality([]byte(""), []byte("")))
	assert.False(t, matchEquality([]byte("alice"), []byte("alicia")))

	assert.True(t, matchEqualityExact([]byte("Alice"), []byte("Alice")))
	assert.False(t, matchEqualityExact([]byte("Alice"), []byte("alice")))
}

func TestMatchSubstring(t *testing.T) {
	value := []byte("Administrator Account")

	cases := []struct {
		name    string
		initial string
		any     []string
		final   string
		want    bool
	}{
		{"prefix", "admin", nil, "", true},
		{"suffix", "", nil, "account", true},
		{"middle", "", []string{"istrator"}, "", true},
		{"all three", "admin", []string{"ator"}, "count", true},
		{"ordered middles", "", []string{"admin", "account"}, "", true},
		{"out of order middles", "", []string{"account", "admin"}, "", false},
		{"wrong prefix", "root", nil, "", false},
		{"wrong suffix", "", nil, "admin", false},
		{"empty pattern matches", "", nil, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var anys [][]byte
			for _, a := range tc.any {
				anys = append(anys, []byte(a))
			}
			var initial, final []byte
			if tc.initial != "" {
				initial = []byte(tc.initial)
			}
			if tc.final != "" {
				final = []byte(tc.final)
			}
			assert.Equal(t, tc.want, matchSubstring(value, initial, anys, final, true))
		})
	}
}

func TestMatchSubstringConsumesComponentsInOrder(t *testing.T) {
	// The final component must match after everything the middles consumed,
	// not just anywhere in the value.
	assert.False(t, matchSubstring([]byte("abc"), nil, [][]byte{[]byte("bc")}, []byte("abc"), true))
}

func TestMatchSubstringExact(t *testing.T) {
	// With folding off, case must line up component by component.
	assert.True(t, matchSubstring([]byte("Admin"), []byte("Adm"), nil, nil, false))
	assert.False(t, matchSubstring([]byte("Admin"), []byte("adm"), nil, nil, false))
	assert.True(t, matchSubstring([]byte("Admin"), []byte("adm"), nil, nil, true))
}

func TestOrderValues(t *testing.T) {
	assert.Positive(t, orderValues([]byte("b"), []byte("a"), true))
	assert.Zero(t, orderValues([]byte("B"), []byte("b"), true), "folded ordering equates case")
	assert.Negative(t, orderValues([]byte("a"), []byte("b"), true))

	// Exact ordering sees the raw bytes: uppercase sorts before lowercase.
	assert.Negative(t, orderValues([]byte("B"), []byte("b"), false))
	assert.Zero(t, orderValues([]byte("b"), []byte("b"), false))
}

func TestMatchApprox(t *testing.T) {
	assert.True(t, matchApprox([]byte("Alice  Smith"), []byte("alice smith")))
	assert.True(t, matchApprox([]byte("  alice\tsmith \n"), []byte("Alice Smith")))
	assert.False(t, matchApprox([]byte("alice smith"), []byte("alicia smith")))
	assert.True(t, matchApprox([]byte(""), []byte("   ")))
}

func TestNormalizeForApprox(t *testing.T) {
	assert.Equal(t, []byte("a b c"), normalizeForApprox([]byte("  A   b\t\tC ")))
	assert.Equal(t, []byte(""), normalizeForApprox([]byte("")))
}
