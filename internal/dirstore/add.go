package dirstore

import (
	"strings"

	"github.com/google/uuid"

	"github.com/dircore/engine/internal/alias"
	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/dn"
)

// Add stores a new entry. It validates the entry against the schema,
// rejects a DN that already exists, validates alias semantics if the
// entry is an alias, and maintains every system index (normalizedDn,
// userProvidedDn, hierarchy, existence, and, for an alias entry, the
// alias/oneLevelAlias/subtreeAlias set) before returning.
func (p *Partition) Add(e *Entry) error {
	if e == nil || e.DN == "" {
		return direrr.New(direrr.KindNamingViolation, "entry and DN are required")
	}

	d, err := p.parseDN(e.DN)
	if err != nil {
		return err
	}
	origDN := e.DN
	e.DN = d.NormString()
	if p.schema.GetAttributeType("entryUUID") != nil {
		stampEntryUUID(e)
	}

	if !d.Equal(p.suffix) && !d.IsWithin(p.suffix) {
		return direrr.New(direrr.KindUnwillingToPerform, "entry %q is outside partition suffix %q", e.DN, p.suffix.NormString()).WithDN(e.DN)
	}

	if err := p.normalizeObjectClasses(e); err != nil {
		return err
	}
	if err := p.validate(e); err != nil {
		return err
	}

	if _, ok, err := p.sysIdx.LookupByNormalizedDN(e.DN); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "check existing entry")
	} else if ok {
		return direrr.New(direrr.KindEntryAlreadyExists, "entry already exists").WithDN(e.DN)
	}

	// The root suffix is the sole entry parented at the synthetic id 0;
	// every other entry's parent must already be a live entry.
	if !d.Equal(p.suffix) {
		parent, hasParent := d.Parent()
		if !hasParent {
			return direrr.New(direrr.KindNamingViolation, "entry %q is outside partition suffix %q", e.DN, p.suffix.NormString()).WithDN(e.DN)
		}
		if _, ok, err := p.sysIdx.LookupByNormalizedDN(parent.NormString()); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "resolve parent entry")
		} else if !ok {
			return direrr.New(direrr.KindNoSuchObject, "parent entry %q does not exist", parent.NormString()).WithDN(e.DN)
		}
	}

	var aliasTargetDN *dn.DN
	var aliasTargetID int64
	if isAliasEntry(e) {
		targetRaw, ok := alias.ExtractTargetDN(objectClassValues(e))
		if !ok {
			return direrr.New(direrr.KindSchemaViolation, "alias entry missing aliasedObjectName").WithDN(e.DN)
		}
		aliasTargetDN, err = p.parseDN(targetRaw)
		if err != nil {
			return err
		}
		if err := p.aliasEng.ValidateNewAlias(d, aliasTargetDN, resolver{p}); err != nil {
			return err
		}
		targetID, ok, err := p.sysIdx.LookupByNormalizedDN(aliasTargetDN.NormString())
		if err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "resolve alias target")
		}
		if !ok {
			return direrr.New(direrr.KindAliasDerefProblem, "alias target %q does not exist", aliasTargetDN.NormString()).WithDN(e.DN)
		}
		aliasTargetID = targetID
	}

	id, err := p.sysIdx.NextEntryID()
	if err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "mint entry id")
	}

	// Index patches precede the master-row commit: a crash or a failed
	// commit leaves index rows without a master row (reverted below),
	// never a committed master row the indices cannot reach.
	patch := &indexPatch{}
	if err := patch.apply(
		func() error { return p.sysIdx.PutDN(e.DN, origDN, id) },
		func() error { return p.sysIdx.RemoveDN(e.DN, origDN, id) },
	); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "update DN indices")
	}

	if parent, ok := d.Parent(); ok {
		if parentID, hasParent, perr := p.sysIdx.LookupByNormalizedDN(parent.NormString()); perr == nil && hasParent {
			if err := patch.apply(
				func() error { return p.sysIdx.PutChild(parentID, id) },
				func() error { return p.sysIdx.RemoveChild(parentID, id) },
			); err != nil {
				return direrr.Wrap(direrr.KindIoError, err, "update hierarchy index")
			}
		}
	}

	for name := range e.Attributes {
		name := name
		if err := patch.apply(
			func() error { return p.sysIdx.PutExistence(name, id) },
			func() error { return p.sysIdx.RemoveExistence(name, id) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "update existence index")
		}
	}

	idxEntry := toIndexEntry(e)
	if err := patch.apply(
		func() error { return p.sysIdx.UserIndexes().UpdateIndexes(nil, idxEntry) },
		func() error { return p.sysIdx.UserIndexes().UpdateIndexes(idxEntry, nil) },
	); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "update attribute indices")
	}

	if aliasTargetDN != nil {
		targetID := aliasTargetID
		if err := patch.apply(
			func() error { return p.sysIdx.PutAliasMarker(id, targetID) },
			func() error { return p.sysIdx.RemoveAliasMarker(id, targetID) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "update alias index")
		}

		parentID, _, _ := p.sysIdx.LookupByNormalizedDN(mustParent(d))
		if alias.NeedsOneLevelEntry(d, aliasTargetDN) {
			if err := patch.apply(
				func() error { return p.sysIdx.PutOneLevelAlias(parentID, id) },
				func() error { return p.sysIdx.RemoveOneLevelAlias(parentID, id) },
			); err != nil {
				return direrr.Wrap(direrr.KindIoError, err, "update one-level alias index")
			}
		}

		for _, ancID := range subtreeAliasAncestorIDs(p, d, aliasTargetDN) {
			ancID := ancID
			if err := patch.apply(
				func() error { return p.sysIdx.PutSubtreeAlias(ancID, id) },
				func() error { return p.sysIdx.RemoveSubtreeAlias(ancID, id) },
			); err != nil {
				return direrr.Wrap(direrr.KindIoError, err, "update subtree alias index")
			}
		}
	}

	txn, err := p.engine.Begin()
	if err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "begin transaction")
	}

	if _, err := p.engine.Get(txn, e.DN); err == nil {
		p.engine.Rollback(txn)
		patch.Revert()
		return direrr.New(direrr.KindEntryAlreadyExists, "entry already exists").WithDN(e.DN)
	}

	if err := p.engine.Put(txn, toStorageEntry(e)); err != nil {
		p.engine.Rollback(txn)
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "store entry")
	}
	if err := p.engine.Commit(txn); err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "commit entry")
	}

	return nil
}

// stampEntryUUID assigns the entryUUID operational attribute (RFC 4530) on
// add, the one exception to entry contents being exactly what the caller
// supplied: it is NO-USER-MODIFICATION, so a caller-supplied value is
// replaced rather than trusted, matching entryUUID's role as an
// Entry-Store-minted identity distinct from the internal int64 entry id.
func stampEntryUUID(e *Entry) {
	for name := range e.Attributes {
		if strings.EqualFold(name, "entryUUID") {
			delete(e.Attributes, name)
			break
		}
	}
	e.Attributes["entryUUID"] = []string{uuid.NewString()}
}

func mustParent(d *dn.DN) string {
	if parent, ok := d.Parent(); ok {
		return parent.NormString()
	}
	return ""
}

// ancestorIDs resolves the entry-id sequence for every DN in
// aliasEng.AncestorDNs(d), skipping any ancestor that (unexpectedly)
// predates this partition's own bookkeeping.
func ancestorIDs(p *Partition, d *dn.DN) []int64 {
	var ids []int64
	for _, ancDN := range p.aliasEng.AncestorDNs(d) {
		if id, ok, err := p.sysIdx.LookupByNormalizedDN(ancDN); err == nil && ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// subtreeAliasAncestorIDs resolves the entry-id sequence for the I6-
// filtered ancestor set aliasEng.SubtreeAliasAncestors(d, targetDN)
// returns, skipping any ancestor that (unexpectedly) predates this
// partition's own bookkeeping.
func subtreeAliasAncestorIDs(p *Partition, d, targetDN *dn.DN) []int64 {
	var ids []int64
	for _, ancDN := range p.aliasEng.SubtreeAliasAncestors(d, targetDN) {
		if id, ok, err := p.sysIdx.LookupByNormalizedDN(ancDN); err == nil && ok {
			ids = append(ids, id)
		}
	}
	return ids
}
