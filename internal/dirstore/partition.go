package dirstore

import (
	"strings"

	"github.com/dircore/engine/internal/alias"
	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/dn"
	"github.com/dircore/engine/internal/schema"
	"github.com/dircore/engine/internal/schemaop"
	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/index"
)

// Partition is one directory naming context: a suffix DN, the schema it
// validates entries against, the record manager that stores them, and
// the system indices and Alias Engine that keep hierarchy and alias
// bookkeeping consistent as entries are added, modified, and moved.
type Partition struct {
	suffix     *dn.DN
	schema     *schema.Schema
	validator  *schema.Validator
	engine     storage.StorageEngine
	sysIdx     *index.SystemIndexPlane
	aliasEng   *alias.Engine
	normalizer dn.Normalizer

	// schemaCtl, when non-nil, receives every Modify targeting
	// schemaSubentryDN: §4.8's Schema Operation Controller, routed to
	// from the ordinary Modify path rather than bolted on as a separate
	// entry point, per §2's data-flow diagram ("Entry Store write ... →
	// Schema Operation Controller (only when the target lies under
	// ou=schema) → Registry reloads").
	schemaCtl        *schemaop.Controller
	schemaSubentryDN string

	// optimizedSearch gates §4.7's optimised candidate enumeration: when
	// set, Search consults the filter optimizer and drives candidates from
	// the per-attribute indices where a plan exists, falling back to the
	// scope scan otherwise.
	optimizedSearch bool
}

// EnableOptimizedSearch turns on index-driven candidate enumeration for
// subsequent Search calls. Off by default; the scan path is always the
// correctness reference.
func (p *Partition) EnableOptimizedSearch() { p.optimizedSearch = true }

// WithSchemaController attaches a Schema Operation Controller to the
// partition: subsequent Modify calls against schemaSubentryDN (e.g.
// "cn=schema") dispatch their attributeTypes/objectClasses/
// matchingRules/ldapSyntaxes modifications through ctl instead of the
// ordinary entry-store path, per §4.8. Pass an empty schemaSubentryDN or
// a nil ctl to leave the partition without schema-write support (the
// default), matching partitions that never expose ou=schema.
func (p *Partition) WithSchemaController(ctl *schemaop.Controller, schemaSubentryDN string) (*Partition, error) {
	d, err := p.parseDN(schemaSubentryDN)
	if err != nil {
		return nil, err
	}
	p.schemaCtl = ctl
	p.schemaSubentryDN = d.NormString()
	return p, nil
}

// Open creates a Partition for suffixDN, backed by engine for entry
// storage and search and by idxPM for the seven system indices. sch must
// already have its bootstrap and any configured schema elements
// registered; the partition only reads from it.
func Open(suffixDN string, sch *schema.Schema, engine storage.StorageEngine, idxPM *storage.RecordManager) (*Partition, error) {
	normalizer := sch.DNNormalizerFunc()

	suffix, err := dn.Parse(normalizer, suffixDN)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindNamingViolation, err, "invalid partition suffix %q", suffixDN)
	}

	sysIdx, err := index.OpenSystemIndexPlane(idxPM)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindIoError, err, "open system index plane")
	}

	p := &Partition{
		suffix:     suffix,
		schema:     sch,
		validator:  schema.NewValidator(sch),
		engine:     engine,
		sysIdx:     sysIdx,
		aliasEng:   alias.NewEngine(suffix),
		normalizer: normalizer,
	}
	return p, nil
}

// Suffix returns the partition's normalized suffix DN.
func (p *Partition) Suffix() *dn.DN { return p.suffix }

// Sync forces the partition's index plane onto stable storage: every
// system and user index page plus the plane metadata (tree roots and the
// entry-id sequence). When Sync returns nil, all prior index writes are
// durable. The entry store itself commits through its own transaction
// path, so callers running with SyncOnWrite disabled pair this with the
// engine owner's checkpoint.
func (p *Partition) Sync() error {
	if err := p.sysIdx.Sync(); err != nil {
		return direrr.Wrap(direrr.KindIoError, err, "sync index plane")
	}
	return nil
}

// resolver adapts Partition to alias.Resolver.
type resolver struct{ p *Partition }

func (r resolver) Exists(normDN string) bool {
	_, ok, err := r.p.sysIdx.LookupByNormalizedDN(normDN)
	return err == nil && ok
}

func (r resolver) IsAlias(normDN string) bool {
	id, ok, err := r.p.sysIdx.LookupByNormalizedDN(normDN)
	if err != nil || !ok {
		return false
	}
	isAlias, err := r.p.sysIdx.IsAlias(id)
	return err == nil && isAlias
}

func (p *Partition) parseDN(raw string) (*dn.DN, error) {
	d, err := dn.Parse(p.normalizer, raw)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindNamingViolation, err, "invalid DN %q", raw)
	}
	return d, nil
}

// Get retrieves the entry stored at targetDN.
func (p *Partition) Get(targetDN string) (*Entry, error) {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return nil, err
	}

	txn, err := p.engine.Begin()
	if err != nil {
		return nil, direrr.Wrap(direrr.KindIoError, err, "begin transaction")
	}
	defer p.engine.Rollback(txn)

	se, err := p.engine.Get(txn, d.NormString())
	if err != nil {
		return nil, direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(d.NormString())
	}
	return fromStorageEntry(se), nil
}

// Lookup retrieves the entry stored at targetDN, or nil when no entry is
// bound to that DN. Unlike Get, an absent entry is not an error; every
// other failure (unparseable DN, storage fault) still is.
func (p *Partition) Lookup(targetDN string) (*Entry, error) {
	e, err := p.Get(targetDN)
	if err != nil {
		if direrr.Is(err, direrr.KindNoSuchObject) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// HasChildren reports whether targetDN has at least one immediate
// subordinate.
func (p *Partition) HasChildren(targetDN string) (bool, error) {
	d, err := p.parseDN(targetDN)
	if err != nil {
		return false, err
	}

	txn, err := p.engine.Begin()
	if err != nil {
		return false, direrr.Wrap(direrr.KindIoError, err, "begin transaction")
	}
	defer p.engine.Rollback(txn)

	ok, err := p.engine.HasChildren(txn, d.NormString())
	if err != nil {
		return false, direrr.Wrap(direrr.KindIoError, err, "check children")
	}
	return ok, nil
}

// validate runs the Schema Validator over e, translating any validation
// failure into the engine-wide error taxonomy.
func (p *Partition) validate(e *Entry) error {
	if err := p.validator.ValidateEntry(toSchemaEntry(e)); err != nil {
		if ve, ok := err.(*schema.ValidationError); ok {
			return ve.AsDirErr(e.DN)
		}
		return direrr.Wrap(direrr.KindSchemaViolation, err, "schema validation failed")
	}
	return nil
}

// normalizeObjectClasses replaces e's objectClass values with the
// canonical superior closure (top re-added), so every stored entry names
// its full effective object-class set, not just the declared classes.
func (p *Partition) normalizeObjectClasses(e *Entry) error {
	declared := e.GetAttribute("objectclass")
	if len(declared) == 0 {
		// Validation rejects the entry next; nothing to normalize.
		return nil
	}
	closure, err := p.validator.EffectiveObjectClasses(declared)
	if err != nil {
		if ve, ok := err.(*schema.ValidationError); ok {
			return ve.AsDirErr(e.DN)
		}
		return direrr.Wrap(direrr.KindSchemaViolation, err, "normalize object classes")
	}
	for k := range e.Attributes {
		if strings.EqualFold(k, "objectclass") {
			delete(e.Attributes, k)
		}
	}
	e.SetAttribute("objectclass", closure...)
	return nil
}

// objectClassValues returns every attribute of e, keyed by name, with its
// values as raw bytes: the map shape alias.ExtractTargetDN expects, and
// the one isAliasEntry scans for the objectClass values it hands to
// alias.IsAliasObjectClass.
func objectClassValues(e *Entry) map[string][][]byte {
	out := make(map[string][][]byte, len(e.Attributes))
	for name, values := range e.Attributes {
		byteValues := make([][]byte, len(values))
		for i, v := range values {
			byteValues[i] = []byte(v)
		}
		out[name] = byteValues
	}
	return out
}

func isAliasEntry(e *Entry) bool {
	raw := objectClassValues(e)
	for name, values := range raw {
		if strings.EqualFold(name, "objectclass") {
			return alias.IsAliasObjectClass(values)
		}
	}
	return false
}
