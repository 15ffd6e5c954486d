package dirstore

import (
	"sort"
	"testing"
	"time"

	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/storage"
)

func setupSearchFixture(t *testing.T) *Partition {
	t.Helper()
	p := newTestPartition(t, "dc=example,dc=com")
	addDomain(t, p, "dc=example,dc=com", "example")
	addOrgUnit(t, p, "ou=people,dc=example,dc=com", "people")
	addPerson(t, p, "cn=alice,ou=people,dc=example,dc=com", "alice", "smith")
	addPerson(t, p, "cn=bob,ou=people,dc=example,dc=com", "bob", "jones")
	return p
}

func TestSearchScopeBase(t *testing.T) {
	p := setupSearchFixture(t)

	results, err := p.Search("ou=people,dc=example,dc=com", storage.ScopeBase, "(ou=people)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DN != "ou=people,dc=example,dc=com" {
		t.Fatalf("Search base scope = %v", results)
	}
}

func TestSearchScopeOneLevel(t *testing.T) {
	p := setupSearchFixture(t)

	results, err := p.Search("dc=example,dc=com", storage.ScopeOneLevel, "(objectClass=*)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DN != "ou=people,dc=example,dc=com" {
		t.Fatalf("Search one-level = %v, want just ou=people", results)
	}
}

func TestSearchScopeSubtreeWithFilter(t *testing.T) {
	p := setupSearchFixture(t)

	results, err := p.Search("dc=example,dc=com", storage.ScopeSubtree, "(cn=alice)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DN != "cn=alice,ou=people,dc=example,dc=com" {
		t.Fatalf("Search subtree filtered = %v", results)
	}
}

func TestSearchSizeLimit(t *testing.T) {
	p := setupSearchFixture(t)

	results, err := p.Search("dc=example,dc=com", storage.ScopeSubtree, "(objectClass=*)", nil, 2, 0)
	if !direrr.Is(err, direrr.KindSizeLimitExceeded) {
		t.Fatalf("Search over size limit: got %v, want KindSizeLimitExceeded", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search size-limited results = %d, want 2 (partial results still returned)", len(results))
	}
}

func TestSearchTimeLimit(t *testing.T) {
	p := setupSearchFixture(t)

	_, err := p.Search("dc=example,dc=com", storage.ScopeSubtree, "(objectClass=*)", nil, 0, 1*time.Nanosecond)
	if !direrr.Is(err, direrr.KindTimeLimitExceeded) {
		t.Fatalf("Search over time limit: got %v, want KindTimeLimitExceeded", err)
	}
}

func TestSearchAttributeProjection(t *testing.T) {
	p := setupSearchFixture(t)

	results, err := p.Search("cn=alice,ou=people,dc=example,dc=com", storage.ScopeBase, "(objectClass=*)", []string{"cn"}, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search = %v", results)
	}
	attrs := results[0].Attributes
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) != 1 || names[0] != "cn" {
		t.Errorf("projected attributes = %v, want [cn]", names)
	}
}

func TestSearchNoAttributesToken(t *testing.T) {
	p := setupSearchFixture(t)

	results, err := p.Search("cn=alice,ou=people,dc=example,dc=com", storage.ScopeBase, "(objectClass=*)", []string{"1.1"}, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search = %v", results)
	}
	if len(results[0].Attributes) != 0 {
		t.Errorf("attributes with 1.1 requested = %v, want empty", results[0].Attributes)
	}
}

func TestSearchOptimizedEnumeration(t *testing.T) {
	p := setupSearchFixture(t)
	p.EnableOptimizedSearch()

	// cn is equality-indexed by default, so this search runs off the
	// attribute index; results must match what the scan produces.
	results, err := p.Search("dc=example,dc=com", storage.ScopeSubtree, "(cn=alice)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DN != "cn=alice,ou=people,dc=example,dc=com" {
		t.Fatalf("optimized search = %v, want just cn=alice", results)
	}

	// Case-folded probe still hits the index.
	results, err = p.Search("dc=example,dc=com", storage.ScopeSubtree, "(cn=ALICE)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("optimized case-folded search = %v", results)
	}

	// An unindexed attribute falls back to the scan path.
	results, err = p.Search("dc=example,dc=com", storage.ScopeSubtree, "(description=*)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("fallback search = %v, want none", results)
	}

	// Scope still constrains index-driven candidates: bob is indexed but
	// outside a base-scoped search at alice's entry.
	results, err = p.Search("cn=alice,ou=people,dc=example,dc=com", storage.ScopeBase, "(cn=bob)", nil, 0, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("scope-constrained optimized search = %v, want none", results)
	}
}
