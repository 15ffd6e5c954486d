package dirstore

import (
	"testing"

	"github.com/dircore/engine/internal/direrr"
)

func TestDeleteLeaf(t *testing.T) {
	p := newTestPartition(t, "dc=example,dc=com")
	addDomain(t, p, "dc=example,dc=com", "example")
	addOrgUnit(t, p, "ou=people,dc=example,dc=com", "people")

	if err := p.Delete("ou=people,dc=example,dc=com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get("ou=people,dc=example,dc=com"); err == nil {
		t.Fatal("expected deleted entry to be gone")
	}
	if _, ok, _ := p.sysIdx.LookupByNormalizedDN("ou=people,dc=example,dc=com"); ok {
		t.Fatal("expected normalizedDn index row to be removed")
	}
}

func TestDeleteRejectsEntryWithChildren(t *testing.T) {
	p := newTestPartition(t, "dc=example,dc=com")
	addDomain(t, p, "dc=example,dc=com", "example")
	addOrgUnit(t, p, "ou=people,dc=example,dc=com", "people")
	addOrgUnit(t, p, "ou=engineers,ou=people,dc=example,dc=com", "engineers")

	err := p.Delete("ou=people,dc=example,dc=com")
	if !direrr.Is(err, direrr.KindUnwillingToPerform) {
		t.Fatalf("Delete with children: got %v, want KindUnwillingToPerform", err)
	}
}

func TestDeleteRejectsAliasTarget(t *testing.T) {
	p := newTestPartition(t, "dc=example,dc=com")
	addDomain(t, p, "dc=example,dc=com", "example")
	addOrgUnit(t, p, "ou=people,dc=example,dc=com", "people")

	alias := NewEntry("ou=alias1,dc=example,dc=com")
	alias.SetAttribute("objectclass", "top", "alias", "extensibleObject")
	alias.SetAttribute("ou", "alias1")
	alias.SetAttribute("aliasedObjectName", "ou=people,dc=example,dc=com")
	if err := p.Add(alias); err != nil {
		t.Fatalf("Add alias: %v", err)
	}

	err := p.Delete("ou=people,dc=example,dc=com")
	if !direrr.Is(err, direrr.KindUnwillingToPerform) {
		t.Fatalf("Delete alias target: got %v, want KindUnwillingToPerform", err)
	}

	// Once the alias itself is gone, the target can be deleted.
	if err := p.Delete("ou=alias1,dc=example,dc=com"); err != nil {
		t.Fatalf("Delete alias: %v", err)
	}
	if err := p.Delete("ou=people,dc=example,dc=com"); err != nil {
		t.Fatalf("Delete former alias target: %v", err)
	}
}

func TestDeleteCleansUpAliasIndices(t *testing.T) {
	p := newTestPartition(t, "dc=example,dc=com")
	addDomain(t, p, "dc=example,dc=com", "example")
	addOrgUnit(t, p, "ou=people,dc=example,dc=com", "people")
	addOrgUnit(t, p, "ou=groups,dc=example,dc=com", "groups")

	alias := NewEntry("ou=peoplealias,ou=groups,dc=example,dc=com")
	alias.SetAttribute("objectclass", "top", "alias", "extensibleObject")
	alias.SetAttribute("ou", "peoplealias")
	alias.SetAttribute("aliasedObjectName", "ou=people,dc=example,dc=com")
	if err := p.Add(alias); err != nil {
		t.Fatalf("Add alias: %v", err)
	}

	if err := p.Delete("ou=peoplealias,ou=groups,dc=example,dc=com"); err != nil {
		t.Fatalf("Delete alias: %v", err)
	}

	suffixID, _, _ := p.sysIdx.LookupByNormalizedDN("dc=example,dc=com")
	subtree, err := p.sysIdx.SubtreeAliasesUnder(suffixID)
	if err != nil {
		t.Fatalf("SubtreeAliasesUnder: %v", err)
	}
	if len(subtree) != 0 {
		t.Errorf("SubtreeAliasesUnder(suffix) after delete = %v, want empty", subtree)
	}
}
