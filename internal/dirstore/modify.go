package dirstore

import (
	"strings"

	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/dn"
	"github.com/dircore/engine/internal/schema"
)

// applySchemaModifications routes a Modify against the schema subentry
// through the Schema Operation Controller, per §4.8: each mod's Attr names
// one of the four schema-object families (attributeTypes/objectClasses/
// matchingRules/ldapSyntaxes), ADD values are RFC 4512 description strings
// to register, and REMOVE values are RFC 4512 description strings naming
// (by OID or first NAME) an element to unregister. REPLACE is rejected
// outright: "callers must express changes as an add/remove pair."
func (p *Partition) applySchemaModifications(mods []schema.Modification) error {
	for _, mod := range mods {
		if mod.Type == schema.ModReplace {
			return direrr.New(direrr.KindUnwillingToPerform,
				"REPLACE on schema subentry attribute %q is not supported; use an add/remove pair", mod.Attr)
		}

		kind := strings.ToLower(mod.Attr)
		for _, raw := range mod.Values {
			desc := string(raw)
			var err error
			switch {
			case kind == "attributetypes":
				err = p.applyAttributeTypeMod(mod.Type, desc)
			case kind == "objectclasses":
				err = p.applyObjectClassMod(mod.Type, desc)
			case kind == "matchingrules":
				err = p.applyMatchingRuleMod(mod.Type, desc)
			case kind == "ldapsyntaxes":
				err = p.applySyntaxMod(mod.Type, desc)
			default:
				err = direrr.New(direrr.KindUnwillingToPerform, "unknown schema attribute %q", mod.Attr)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Partition) applyAttributeTypeMod(t schema.ModificationType, desc string) error {
	if t == schema.ModAdd {
		_, err := p.schemaCtl.AddAttributeType(desc)
		return err
	}
	at, err := schema.ParseAttributeTypeDescription(desc)
	if err != nil {
		return direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing attributeTypes description")
	}
	return p.schemaCtl.DeleteAttributeType(at.Name)
}

func (p *Partition) applyObjectClassMod(t schema.ModificationType, desc string) error {
	if t == schema.ModAdd {
		_, err := p.schemaCtl.AddObjectClass(desc)
		return err
	}
	oc, err := schema.ParseObjectClassDescription(desc)
	if err != nil {
		return direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing objectClasses description")
	}
	return p.schemaCtl.DeleteObjectClass(oc.Name)
}

func (p *Partition) applyMatchingRuleMod(t schema.ModificationType, desc string) error {
	if t == schema.ModAdd {
		_, err := p.schemaCtl.AddMatchingRule(desc)
		return err
	}
	mr, err := schema.ParseMatchingRuleDescription(desc)
	if err != nil {
		return direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing matchingRules description")
	}
	return p.schemaCtl.DeleteMatchingRule(mr.Name)
}

func (p *Partition) applySyntaxMod(t schema.ModificationType, desc string) error {
	if t == schema.ModAdd {
		_, err := p.schemaCtl.AddSyntax(desc)
		return err
	}
	syn, err := schema.ParseSyntaxDescription(desc)
	if err != nil {
		return direrr.Wrap(direrr.KindUnwillingToPerform, err, "parsing ldapSyntaxes description")
	}
	return p.schemaCtl.DeleteSyntax(syn.OID)
}

// Modify applies a list of attribute modifications to an existing
// entry, re-validating the result against the schema before committing,
// and keeps the existence index in sync with attributes added or
// removed entirely.
func (p *Partition) Modify(targetDN string, mods []schema.Modification) error {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return err
	}
	normDN := d.NormString()

	if len(mods) == 0 {
		return nil
	}

	if p.schemaCtl != nil && normDN == p.schemaSubentryDN {
		return p.applySchemaModifications(mods)
	}

	id, ok, err := p.sysIdx.LookupByNormalizedDN(normDN)
	if err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "resolve entry id")
	}
	if !ok {
		return direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(normDN)
	}

	txn, err := p.engine.Begin()
	if err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "begin transaction")
	}

	se, err := p.engine.Get(txn, normDN)
	if err != nil {
		p.engine.Rollback(txn)
		return direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(normDN)
	}
	p.engine.Rollback(txn)

	entry := fromStorageEntry(se)
	original := entry.Clone()
	before := entry.sortedAttributeNames()
	rdn := d.RDN()
	origObjectClasses := entry.GetAttribute("objectclass")

	for _, mod := range mods {
		attrName := strings.ToLower(mod.Attr)
		values := make([]string, len(mod.Values))
		for i, v := range mod.Values {
			values[i] = string(v)
		}

		if mod.Type == schema.ModDelete || mod.Type == schema.ModReplace {
			if removesRDNValue(rdn, attrName, values, mod.Type == schema.ModReplace) {
				return direrr.New(direrr.KindNamingViolation,
					"cannot remove or replace attribute %q's value used in the entry's own RDN", mod.Attr).WithDN(normDN)
			}
			if attrName == "objectclass" {
				if name, ok := p.removesStructuralClass(origObjectClasses, values, mod.Type == schema.ModReplace); ok {
					return direrr.New(direrr.KindUnwillingToPerform,
						"cannot remove structural object class %q", name).WithDN(normDN)
				}
			}
		}

		switch mod.Type {
		case schema.ModAdd:
			for _, v := range values {
				entry.AddAttributeValue(attrName, v)
			}
		case schema.ModDelete:
			if len(values) == 0 {
				entry.DeleteAttribute(attrName)
			} else {
				for _, v := range values {
					entry.DeleteAttributeValue(attrName, v)
				}
			}
		case schema.ModReplace:
			if len(values) == 0 {
				entry.DeleteAttribute(attrName)
			} else {
				entry.SetAttribute(attrName, values...)
			}
		}
	}

	if err := p.normalizeObjectClasses(entry); err != nil {
		return err
	}
	if err := p.validate(entry); err != nil {
		return err
	}

	// Existence-index patches precede the master-row commit (§5); a
	// failed commit rewinds them so the index never disagrees with the
	// stored entry.
	patch := &indexPatch{}
	if err := reconcileExistence(p, patch, id, before, entry.sortedAttributeNames()); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "update existence index")
	}

	oldIdx, newIdx := toIndexEntry(original), toIndexEntry(entry)
	if err := patch.apply(
		func() error { return p.sysIdx.UserIndexes().UpdateIndexes(oldIdx, newIdx) },
		func() error { return p.sysIdx.UserIndexes().UpdateIndexes(newIdx, oldIdx) },
	); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "update attribute indices")
	}

	txn, err = p.engine.Begin()
	if err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "begin transaction")
	}
	if err := p.engine.Put(txn, toStorageEntry(entry)); err != nil {
		p.engine.Rollback(txn)
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "store modified entry")
	}
	if err := p.engine.Commit(txn); err != nil {
		patch.Revert()
		return direrr.Wrap(direrr.KindIoError, err, "commit modify")
	}

	return nil
}

// reconcileExistence diffs an entry's attribute-name set before and
// after a modify and patches the existence index for every name that
// appeared or disappeared, recording inverses on patch.
func reconcileExistence(p *Partition, patch *indexPatch, id int64, before, after []string) error {
	beforeSet := make(map[string]bool, len(before))
	for _, n := range before {
		beforeSet[n] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, n := range after {
		afterSet[n] = true
	}

	for n := range afterSet {
		if !beforeSet[n] {
			n := n
			if err := patch.apply(
				func() error { return p.sysIdx.PutExistence(n, id) },
				func() error { return p.sysIdx.RemoveExistence(n, id) },
			); err != nil {
				return err
			}
		}
	}
	for n := range beforeSet {
		if !afterSet[n] {
			n := n
			if err := patch.apply(
				func() error { return p.sysIdx.RemoveExistence(n, id) },
				func() error { return p.sysIdx.PutExistence(n, id) },
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// removesRDNValue reports whether a REMOVE or REPLACE of attrName would
// discard a value rdn's leaf RDN relies on (§4.2's modify-specific
// rule). For REMOVE, deleting the whole attribute (no explicit values)
// or explicitly naming the RDN value both count; for REPLACE, omitting
// the RDN value from the new value set counts.
func removesRDNValue(rdn dn.RDN, attrName string, values []string, isReplace bool) bool {
	rdnValue, present := rdn.Value(attrName)
	if !present {
		return false
	}
	if len(values) == 0 {
		// REMOVE-all or REPLACE-with-nothing: the RDN value is always lost.
		return true
	}
	contains := false
	for _, v := range values {
		if strings.EqualFold(v, rdnValue) {
			contains = true
			break
		}
	}
	if isReplace {
		// REPLACE discards the RDN value unless the new set still has it.
		return !contains
	}
	// REMOVE discards the RDN value only if it is one of the named values.
	return contains
}

// removesStructuralClass reports whether a REMOVE or REPLACE of
// objectClass would discard a structural class value present in
// origObjectClasses (§4.2's modify-specific rule), returning the first
// such class name found.
func (p *Partition) removesStructuralClass(origObjectClasses, values []string, isReplace bool) (string, bool) {
	kept := make(map[string]bool, len(values))
	for _, v := range values {
		kept[strings.ToLower(v)] = true
	}

	for _, oc := range origObjectClasses {
		def := p.schema.GetObjectClass(oc)
		if def == nil || !def.IsStructural() {
			continue
		}
		if isReplace {
			if !kept[strings.ToLower(oc)] {
				return oc, true
			}
			continue
		}
		// REMOVE with no explicit values drops the whole attribute;
		// otherwise only the explicitly named values are discarded.
		if len(values) == 0 || kept[strings.ToLower(oc)] {
			return oc, true
		}
	}
	return "", false
}
