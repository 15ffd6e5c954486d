package dirstore

import (
	"github.com/dircore/engine/internal/alias"
	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/dn"
)

// Delete removes a leaf entry. It refuses to delete an entry that still
// has children (KindUnwillingToPerform), matching the naming invariant
// that a subtree must be removed bottom-up. It also refuses to delete an
// entry that any other entry still indexes as an alias target, since
// doing so would leave a dangling aliasedObjectName behind.
func (p *Partition) Delete(targetDN string) error {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return err
	}
	normDN := d.NormString()

	hasChildren, err := p.HasChildren(normDN)
	if err != nil {
		return err
	}
	if hasChildren {
		return direrr.New(direrr.KindUnwillingToPerform, "entry has subordinates").WithDN(normDN)
	}

	id, ok, err := p.sysIdx.LookupByNormalizedDN(normDN)
	if err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "resolve entry id")
	}
	if !ok {
		return direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(normDN)
	}

	if targeting, err := p.sysIdx.AliasesTargeting(id); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "check alias dependents")
	} else if len(targeting) > 0 {
		return direrr.New(direrr.KindUnwillingToPerform, "entry is still targeted by %d alias(es)", len(targeting)).WithDN(normDN)
	}

	origDN, _, err := p.sysIdx.UserProvidedDN(id)
	if err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "resolve user-provided DN")
	}

	stored, err := p.Get(normDN)
	if err != nil {
		return err
	}

	var aliasTargetDN *dn.DN
	if isAlias, _ := p.sysIdx.IsAlias(id); isAlias {
		if targetRaw, ok := alias.ExtractTargetDN(objectClassValues(stored)); ok {
			if td, err := p.parseDN(targetRaw); err == nil {
				aliasTargetDN = td
			}
		}
	}

	// Index drops precede the master-row commit (§5 ordering); a failed
	// commit re-adds them via the patch's revert path, so the indices
	// never reference a master row that is already gone.
	patch := &indexPatch{}
	if err := patch.apply(
		func() error { return p.sysIdx.RemoveDN(normDN, origDN, id) },
		func() error { return p.sysIdx.PutDN(normDN, origDN, id) },
	); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "update DN indices")
	}

	if parent, hasParent := d.Parent(); hasParent {
		if parentID, ok, perr := p.sysIdx.LookupByNormalizedDN(parent.NormString()); perr == nil && ok {
			if err := patch.apply(
				func() error { return p.sysIdx.RemoveChild(parentID, id) },
				func() error { return p.sysIdx.PutChild(parentID, id) },
			); err != nil {
				return direrr.Wrap(direrr.KindIoError, err, "update hierarchy index")
			}
		}
	}

	attrs, err := p.sysIdx.ExistenceAttributes(id)
	if err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "resolve existence entries")
	}
	for _, name := range attrs {
		name := name
		if err := patch.apply(
			func() error { return p.sysIdx.RemoveExistence(name, id) },
			func() error { return p.sysIdx.PutExistence(name, id) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "update existence index")
		}
	}

	idxEntry := toIndexEntry(stored)
	if err := patch.apply(
		func() error { return p.sysIdx.UserIndexes().UpdateIndexes(idxEntry, nil) },
		func() error { return p.sysIdx.UserIndexes().UpdateIndexes(nil, idxEntry) },
	); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "update attribute indices")
	}

	if aliasTargetDN != nil {
		if targetID, ok, terr := p.sysIdx.LookupByNormalizedDN(aliasTargetDN.NormString()); terr == nil && ok {
			if err := patch.apply(
				func() error { return p.sysIdx.RemoveAliasMarker(id, targetID) },
				func() error { return p.sysIdx.PutAliasMarker(id, targetID) },
			); err != nil {
				return direrr.Wrap(direrr.KindIoError, err, "update alias index")
			}
		}

		parentID, _, _ := p.sysIdx.LookupByNormalizedDN(mustParent(d))
		if alias.NeedsOneLevelEntry(d, aliasTargetDN) {
			if err := patch.apply(
				func() error { return p.sysIdx.RemoveOneLevelAlias(parentID, id) },
				func() error { return p.sysIdx.PutOneLevelAlias(parentID, id) },
			); err != nil {
				return direrr.Wrap(direrr.KindIoError, err, "update one-level alias index")
			}
		}
		for _, ancID := range subtreeAliasAncestorIDs(p, d, aliasTargetDN) {
			ancID := ancID
			if err := patch.apply(
				func() error { return p.sysIdx.RemoveSubtreeAlias(ancID, id) },
				func() error { return p.sysIdx.PutSubtreeAlias(ancID, id) },
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
	if err := p.engine.Delete(txn, normDN); err != nil {
		p.engine.Rollback(txn)
		patch.Revert()
		return direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(normDN)
	}
	if err := p.engine.Commit(txn); err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "commit delete")
	}

	return nil
}
