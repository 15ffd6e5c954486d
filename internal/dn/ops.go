package dn

import "strings"

// NormString returns the DN's normalized string form, leaf-first,
// RDNs joined by ",". The result is cached on first call.
func (d *DN) NormString() string {
	if d == nil || len(d.RDNs) == 0 {
		return ""
	}
	if d.normValid {
		return d.normCache
	}
	parts := make([]string, len(d.RDNs))
	for i, r := range d.RDNs {
		parts[i] = r.NormString()
	}
	d.normCache = strings.Join(parts, ",")
	d.normValid = true
	return d.normCache
}

// OrigString returns the DN's user-provided string form.
func (d *DN) OrigString() string {
	if d == nil || len(d.RDNs) == 0 {
		return ""
	}
	parts := make([]string, len(d.RDNs))
	for i, r := range d.RDNs {
		parts[i] = r.OrigString()
	}
	return strings.Join(parts, ",")
}

// IsRoot reports whether d is the zero-length (anonymous/root) DN.
func (d *DN) IsRoot() bool {
	return d == nil || len(d.RDNs) == 0
}

// Level returns the DN's depth: the root DN is level 0, its immediate
// children are level 1, and so on.
func (d *DN) Level() int {
	if d == nil {
		return 0
	}
	return len(d.RDNs)
}

// RDN returns the DN's leaf (first) RDN.
func (d *DN) RDN() RDN {
	if d == nil || len(d.RDNs) == 0 {
		return RDN{}
	}
	return d.RDNs[0]
}

// Parent returns d's immediate superior, or (nil, false) if d is already
// the root.
func (d *DN) Parent() (*DN, bool) {
	if d == nil || len(d.RDNs) <= 1 {
		return nil, false
	}
	return &DN{RDNs: d.RDNs[1:]}, true
}

// Equal reports whether d and o name the same entry, by normalized form.
func (d *DN) Equal(o *DN) bool {
	return d.NormString() == o.NormString()
}

// IsAncestorOf reports whether d is a proper superior of o (d != o, and
// o's RDN sequence ends with d's).
func (d *DN) IsAncestorOf(o *DN) bool {
	if d.IsRoot() {
		return !o.IsRoot()
	}
	dl, ol := d.Level(), o.Level()
	if ol <= dl {
		return false
	}
	return sameSuffix(o.RDNs, d.RDNs)
}

// IsDescendantOf reports whether d is a proper subordinate of o.
func (d *DN) IsDescendantOf(o *DN) bool {
	return o.IsAncestorOf(d)
}

// IsWithin reports whether d equals o or is a descendant of o; the usual
// "is this DN inside this subtree" test for a search base plus scope.
func (d *DN) IsWithin(o *DN) bool {
	return d.Equal(o) || d.IsDescendantOf(o)
}

func sameSuffix(longer, shorter []RDN) bool {
	offset := len(longer) - len(shorter)
	for i, r := range shorter {
		if longer[offset+i].NormString() != r.NormString() {
			return false
		}
	}
	return true
}

// WithoutSuffix returns d's RDN sequence with suffix's RDNs trimmed off
// the root end, rendered in normalized form. It is used to compute a
// partition-relative path, e.g. for building radix-tree keys. Returns
// ("", false) if d is not within suffix.
func (d *DN) WithoutSuffix(suffix *DN) (string, bool) {
	if !d.IsWithin(suffix) {
		return "", false
	}
	rel := d.RDNs[:d.Level()-suffix.Level()]
	parts := make([]string, len(rel))
	for i, r := range rel {
		parts[i] = r.NormString()
	}
	return strings.Join(parts, ","), true
}

// Child builds the DN formed by prepending rdn (the new leaf) to base.
func Child(rdn RDN, base *DN) *DN {
	if base.IsRoot() {
		return &DN{RDNs: []RDN{rdn}}
	}
	rdns := make([]RDN, 0, base.Level()+1)
	rdns = append(rdns, rdn)
	rdns = append(rdns, base.RDNs...)
	return &DN{RDNs: rdns}
}

// ModifyRDN renames d's leaf RDN to newRDN, optionally keeping the old
// RDN's attribute values as ordinary entry attributes (deleteOld=false).
// It returns the renamed DN and the AVAs of the old leaf RDN, which the
// caller (the Entry Store) uses to add or remove those values from the
// entry's attribute set per deleteOld.
func ModifyRDN(d *DN, newRDN RDN, deleteOld bool) (renamed *DN, oldRDN RDN) {
	oldRDN = d.RDN()
	rdns := make([]RDN, len(d.RDNs))
	copy(rdns, d.RDNs)
	rdns[0] = newRDN
	renamed = &DN{RDNs: rdns}
	if deleteOld {
		return renamed, oldRDN
	}
	return renamed, oldRDN
}

// Move reparents d under newSuperior, keeping d's current leaf RDN. It is
// the DN half of a modify-DN "newSuperior" request with no RDN change;
// combine with ModifyRDN's renamed.RDNs[0] substitution for a combined
// move-and-rename.
func Move(d *DN, newSuperior *DN) *DN {
	return Child(d.RDN(), newSuperior)
}
