package index

import (
	"strings"
)

// NgramSize is the trigram default for substring indexing.
const NgramSize = 3

// GenerateNgrams slides an n-character window over s, lowercased. A string
// shorter than n indexes as itself so short values stay findable.
func GenerateNgrams(s string, n int) []string {
	if len(s) == 0 {
		return nil
	}
	s = strings.ToLower(s)
	if len(s) < n {
		return []string{s}
	}

	grams := make([]string, 0, len(s)-n+1)
	for i := 0; i+n <= len(s); i++ {
		grams = append(grams, s[i:i+n])
	}
	return grams
}

// GenerateUniqueNgrams is GenerateNgrams with duplicates removed, first
// occurrence order preserved. Indexing uses this so one value never files
// the same (gram, entry) row twice.
func GenerateUniqueNgrams(s string, n int) []string {
	grams := GenerateNgrams(s, n)
	if len(grams) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(grams))
	unique := grams[:0:0]
	for _, g := range grams {
		if _, dup := seen[g]; !dup {
			seen[g] = struct{}{}
			unique = append(unique, g)
		}
	}
	return unique
}

// ExtractSearchableNgrams pulls the indexable grams out of a wildcard
// pattern: every literal run between the asterisks contributes its own
// grams. An all-wildcard pattern yields nothing, which tells the caller to
// fall back to a scan.
func ExtractSearchableNgrams(pattern string, n int) []string {
	pattern = strings.Trim(pattern, "*")
	if len(pattern) == 0 {
		return nil
	}

	var grams []string
	for _, part := range strings.Split(pattern, "*") {
		if len(part) > 0 {
			grams = append(grams, GenerateNgrams(part, n)...)
		}
	}
	return grams
}
