package dirstore

import (
	"github.com/dircore/engine/internal/alias"
	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/dn"
)

// Rename changes targetDN's leaf RDN, optionally keeping the old RDN's
// attribute values as ordinary attributes, then cascades the DN change
// down to every descendant per §4.6.
func (p *Partition) Rename(targetDN, newRDNStr string, deleteOldRDN bool) error {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return err
	}
	newRDN, err := dn.ParseRDN(p.normalizer, newRDNStr)
	if err != nil {
		return direrr.Wrap(direrr.KindNamingViolation, err, "invalid new RDN %q", newRDNStr)
	}
	newD, oldRDN := dn.ModifyRDN(d, newRDN, deleteOldRDN)
	return p.renameOrMove(d, newD, &rdnChange{oldRDN: oldRDN, newRDN: newRDN, deleteOld: deleteOldRDN})
}

// Move reparents targetDN under newParentDN with no RDN change, cascading
// the DN change down to every descendant per §4.6.
func (p *Partition) Move(targetDN, newParentDN string) error {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return err
	}
	newParent, err := p.parseDN(newParentDN)
	if err != nil {
		return err
	}
	return p.renameOrMove(d, dn.Move(d, newParent), nil)
}

// MoveAndRename composes Rename then Move in a single cascade.
func (p *Partition) MoveAndRename(targetDN, newParentDN, newRDNStr string, deleteOldRDN bool) error {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return err
	}
	newParent, err := p.parseDN(newParentDN)
	if err != nil {
		return err
	}
	newRDN, err := dn.ParseRDN(p.normalizer, newRDNStr)
	if err != nil {
		return direrr.Wrap(direrr.KindNamingViolation, err, "invalid new RDN %q", newRDNStr)
	}
	renamed, oldRDN := dn.ModifyRDN(d, newRDN, deleteOldRDN)
	newD := dn.Move(renamed, newParent)
	return p.renameOrMove(d, newD, &rdnChange{oldRDN: oldRDN, newRDN: newRDN, deleteOld: deleteOldRDN})
}

// rdnChange carries the leaf-RDN attribute-value transform a rename
// applies to the renamed entry itself, per §4.3's rename description.
type rdnChange struct {
	oldRDN    dn.RDN
	newRDN    dn.RDN
	deleteOld bool
}

// moveNode is one member of the subtree being renamed or moved: its id,
// its DN before and after the cascade, and (for an alias entry) the
// alias-index bookkeeping captured before any index is touched.
type moveNode struct {
	id    int64
	oldDN *dn.DN
	newDN *dn.DN
	entry *Entry

	// pre is the entry exactly as stored before any RDN attribute
	// transform, for withdrawing its old attribute-index rows.
	pre *Entry

	isAlias          bool
	targetDN         *dn.DN
	oldParentID      int64
	oldNeedsOneLevel bool
	oldSubtreeAncIDs []int64
}

func sameParent(a, b *dn.DN) bool {
	pa, okA := a.Parent()
	pb, okB := b.Parent()
	if okA != okB {
		return false
	}
	if !okA {
		return true
	}
	return pa.Equal(pb)
}

// deriveNewDN rebases nodeDN (some entry at or below oldRoot) onto
// newRoot: the RDNs nodeDN carries below oldRoot's depth are kept, and
// oldRoot's own RDN sequence is replaced by newRoot's.
func deriveNewDN(oldRoot, newRoot, nodeDN *dn.DN) *dn.DN {
	specific := nodeDN.Level() - oldRoot.Level()
	rdns := make([]dn.RDN, 0, specific+newRoot.Level())
	rdns = append(rdns, nodeDN.RDNs[:specific]...)
	rdns = append(rdns, newRoot.RDNs...)
	return &dn.DN{RDNs: rdns}
}

// renameOrMove is the shared cascade behind Rename/Move/MoveAndRename:
// it validates the destination, walks the subtree rooted at oldD via the
// hierarchy index, rewrites every member's normalizedDn/userProvidedDn
// index rows and stored DN, reapplies the leaf-RDN attribute transform
// (rename only) to the root entry, rewrites the hierarchy edge (move
// only), and re-derives alias indices for any alias entry within the
// subtree whose ancestor path changed (move only), per §4.5/§4.6.
func (p *Partition) renameOrMove(oldD, newD *dn.DN, rc *rdnChange) error {
	if oldD.Equal(p.suffix) {
		return direrr.New(direrr.KindUnwillingToPerform, "cannot rename or move the partition suffix").WithDN(oldD.NormString())
	}

	id, ok, err := p.sysIdx.LookupByNormalizedDN(oldD.NormString())
	if err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "resolve entry id")
	}
	if !ok {
		return direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(oldD.NormString())
	}

	if !newD.Equal(oldD) {
		if _, exists, err := p.sysIdx.LookupByNormalizedDN(newD.NormString()); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "check destination DN")
		} else if exists {
			return direrr.New(direrr.KindEntryAlreadyExists, "entry already exists").WithDN(newD.NormString())
		}
	}

	isMove := !sameParent(oldD, newD)

	if !newD.Equal(p.suffix) {
		newParent, _ := newD.Parent()
		if _, ok, err := p.sysIdx.LookupByNormalizedDN(newParent.NormString()); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "resolve new parent entry")
		} else if !ok {
			return direrr.New(direrr.KindNoSuchObject, "new parent entry %q does not exist", newParent.NormString()).WithDN(newD.NormString())
		}
	}

	nodes, err := p.collectMoveSubtree(id, oldD, newD)
	if err != nil {
		return err
	}

	// Phase 1: snapshot every member's current entry and, for an alias
	// entry, its pre-move alias-index bookkeeping — all while the old
	// DN/index state is still intact.
	for _, nd := range nodes {
		e, err := p.Get(nd.oldDN.NormString())
		if err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "read entry during DN propagation")
		}
		nd.entry = e
		nd.pre = e.Clone()

		isAlias, err := p.sysIdx.IsAlias(nd.id)
		if err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "check alias status during DN propagation")
		}
		if !isAlias {
			continue
		}
		targetRaw, ok := alias.ExtractTargetDN(objectClassValues(e))
		if !ok {
			continue
		}
		targetDN, err := p.parseDN(targetRaw)
		if err != nil {
			continue
		}
		nd.isAlias = true
		nd.targetDN = targetDN
		nd.oldNeedsOneLevel = alias.NeedsOneLevelEntry(nd.oldDN, targetDN)
		nd.oldSubtreeAncIDs = subtreeAliasAncestorIDs(p, nd.oldDN, targetDN)
		if parent, ok := nd.oldDN.Parent(); ok {
			nd.oldParentID, _, _ = p.sysIdx.LookupByNormalizedDN(parent.NormString())
		}
	}

	if rc != nil {
		root := nodes[0]
		for _, ava := range rc.newRDN.Attributes {
			root.entry.AddAttributeValue(ava.TypeNorm, ava.ValueOrig)
		}
		if rc.deleteOld {
			for _, ava := range rc.oldRDN.Attributes {
				if v, ok := rc.newRDN.Value(ava.TypeNorm); !ok || v != ava.ValueNorm {
					root.entry.DeleteAttributeValue(ava.TypeNorm, ava.ValueOrig)
				}
			}
		}
		if err := p.validate(root.entry); err != nil {
			return err
		}
	}

	// Phase 2: patch the index plane ahead of the master rows (§5).
	// Root-to-leaf order lets an alias member further down the subtree
	// resolve its already-updated ancestors' ids when its new rows are
	// derived. Every patch records its inverse, so a failure here or in
	// phase 3 rewinds the plane to its pre-move state.
	patch := &indexPatch{}
	for _, nd := range nodes {
		nd := nd
		origDN, ok, oerr := p.sysIdx.UserProvidedDN(nd.id)
		if oerr != nil || !ok {
			origDN = nd.oldDN.OrigString()
		}
		oldNorm := nd.oldDN.NormString()
		newNorm, newOrig := nd.newDN.NormString(), nd.newDN.OrigString()
		if err := patch.apply(
			func() error { return p.sysIdx.RemoveDN(oldNorm, origDN, nd.id) },
			func() error { return p.sysIdx.PutDN(oldNorm, origDN, nd.id) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "drop old DN index rows")
		}
		if err := patch.apply(
			func() error { return p.sysIdx.PutDN(newNorm, newOrig, nd.id) },
			func() error { return p.sysIdx.RemoveDN(newNorm, newOrig, nd.id) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "add new DN index rows")
		}

		// Attribute-index rows embed the entry's DN as their reference, so
		// every member is withdrawn under its old DN and re-filed under the
		// new one; for the root this also covers the RDN value transform.
		moved := nd.entry.Clone()
		moved.DN = newNorm
		oldIdx, newIdx := toIndexEntry(nd.pre), toIndexEntry(moved)
		if err := patch.apply(
			func() error { return p.sysIdx.UserIndexes().UpdateIndexes(oldIdx, newIdx) },
			func() error { return p.sysIdx.UserIndexes().UpdateIndexes(newIdx, oldIdx) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "update attribute indices")
		}
	}

	if isMove {
		oldParent, _ := oldD.Parent()
		newParent, _ := newD.Parent()
		oldParentID, _, _ := p.sysIdx.LookupByNormalizedDN(oldParent.NormString())
		newParentID, _, _ := p.sysIdx.LookupByNormalizedDN(newParent.NormString())
		if err := patch.apply(
			func() error { return p.sysIdx.RemoveChild(oldParentID, id) },
			func() error { return p.sysIdx.PutChild(oldParentID, id) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "drop old hierarchy edge")
		}
		if err := patch.apply(
			func() error { return p.sysIdx.PutChild(newParentID, id) },
			func() error { return p.sysIdx.RemoveChild(newParentID, id) },
		); err != nil {
			return direrr.Wrap(direrr.KindIoError, err, "add new hierarchy edge")
		}

		for _, nd := range nodes {
			nd := nd
			if !nd.isAlias {
				continue
			}
			if nd.oldNeedsOneLevel {
				if err := patch.apply(
					func() error { return p.sysIdx.RemoveOneLevelAlias(nd.oldParentID, nd.id) },
					func() error { return p.sysIdx.PutOneLevelAlias(nd.oldParentID, nd.id) },
				); err != nil {
					return direrr.Wrap(direrr.KindIoError, err, "drop old one-level alias row")
				}
			}
			for _, ancID := range nd.oldSubtreeAncIDs {
				ancID := ancID
				if err := patch.apply(
					func() error { return p.sysIdx.RemoveSubtreeAlias(ancID, nd.id) },
					func() error { return p.sysIdx.PutSubtreeAlias(ancID, nd.id) },
				); err != nil {
					return direrr.Wrap(direrr.KindIoError, err, "drop old subtree alias row")
				}
			}

			if alias.NeedsOneLevelEntry(nd.newDN, nd.targetDN) {
				aliasParentID, _, _ := p.sysIdx.LookupByNormalizedDN(mustParent(nd.newDN))
				if err := patch.apply(
					func() error { return p.sysIdx.PutOneLevelAlias(aliasParentID, nd.id) },
					func() error { return p.sysIdx.RemoveOneLevelAlias(aliasParentID, nd.id) },
				); err != nil {
					return direrr.Wrap(direrr.KindIoError, err, "add new one-level alias row")
				}
			}
			for _, ancID := range subtreeAliasAncestorIDs(p, nd.newDN, nd.targetDN) {
				ancID := ancID
				if err := patch.apply(
					func() error { return p.sysIdx.PutSubtreeAlias(ancID, nd.id) },
					func() error { return p.sysIdx.RemoveSubtreeAlias(ancID, nd.id) },
				); err != nil {
					return direrr.Wrap(direrr.KindIoError, err, "add new subtree alias row")
				}
			}
		}
	}

	// Phase 3: move every member's stored entry under its new DN within
	// one transaction, committed once at the end. A failure unwinds the
	// phase-2 index patches before returning.
	txn, err := p.engine.Begin()
	if err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "begin transaction")
	}
	for _, nd := range nodes {
		nd.entry.DN = nd.newDN.NormString()
		if err := p.engine.Delete(txn, nd.oldDN.NormString()); err != nil {
			p.engine.Rollback(txn)
			patch.Revert()
			return direrr.Wrap(direrr.KindIoError, err, "remove old entry during DN propagation")
		}
		if err := p.engine.Put(txn, toStorageEntry(nd.entry)); err != nil {
			p.engine.Rollback(txn)
			patch.Revert()
			return direrr.Wrap(direrr.KindIoError, err, "store entry under new DN")
		}
	}
	if err := p.engine.Commit(txn); err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "commit DN propagation")
	}

	return nil
}

// collectMoveSubtree walks the hierarchy index from rootID breadth-first,
// returning one moveNode per member with oldDN/newDN already computed.
// BFS order guarantees every ancestor is visited before its descendants.
func (p *Partition) collectMoveSubtree(rootID int64, oldRoot, newRoot *dn.DN) ([]*moveNode, error) {
	var nodes []*moveNode
	queue := []*moveNode{{id: rootID, oldDN: oldRoot, newDN: newRoot}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		nodes = append(nodes, cur)

		children, err := p.sysIdx.Children(cur.id)
		if err != nil {
			return nil, direrr.Wrap(direrr.KindIoError, err, "walk subtree during DN propagation")
		}
		for _, childID := range children {
			origDN, ok, err := p.sysIdx.UserProvidedDN(childID)
			if err != nil || !ok {
				continue
			}
			childOldDN, err := p.parseDN(origDN)
			if err != nil {
				continue
			}
			queue = append(queue, &moveNode{
				id:    childID,
				oldDN: childOldDN,
				newDN: deriveNewDN(oldRoot, newRoot, childOldDN),
			})
		}
	}
	return nodes, nil
}
