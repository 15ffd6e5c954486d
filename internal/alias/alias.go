package alias

import (
	"strings"

	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/dn"
)

// ObjectClass is the structural object class that marks an entry as an
// alias per RFC 4512's alias model.
const ObjectClass = "alias"

// TargetAttribute is the attribute carrying an alias's target DN.
const TargetAttribute = "aliasedobjectname"

// Resolver answers the questions the Alias Engine needs about a
// candidate target DN without the alias package needing to know how
// entries are actually stored. Partition implements this over its own
// entry store and alias index.
type Resolver interface {
	// Exists reports whether normDN names a live entry in the partition.
	Exists(normDN string) bool
	// IsAlias reports whether normDN names an existing alias entry.
	IsAlias(normDN string) bool
}

// Engine validates alias creation and alias dereferencing against a
// single partition's suffix.
type Engine struct {
	suffix *dn.DN
}

// NewEngine returns an Alias Engine scoped to the given partition
// suffix. Every alias target this engine accepts must fall within it.
func NewEngine(suffix *dn.DN) *Engine {
	return &Engine{suffix: suffix}
}

// ValidateNewAlias checks a would-be alias entry's target before it is
// added or its aliasedObjectName is modified. It rejects:
//   - a target outside the partition's suffix (this engine has no way to
//     resolve a target in another naming context),
//   - a target equal to the alias's own DN (a zero-length cycle) or to
//     one of its ancestors,
//   - a target that is itself an alias (this engine resolves one hop
//     only; chaining aliases is rejected rather than walked).
func (e *Engine) ValidateNewAlias(aliasDN, targetDN *dn.DN, r Resolver) error {
	if aliasDN == nil || targetDN == nil {
		return direrr.New(direrr.KindAliasProblem, "alias and target DN must both be set")
	}

	if !targetDN.IsWithin(e.suffix) {
		return direrr.New(direrr.KindAliasProblem,
			"alias target %q lies outside partition suffix %q", targetDN.NormString(), e.suffix.NormString()).
			WithDN(aliasDN.NormString())
	}

	if targetDN.Equal(aliasDN) || targetDN.IsAncestorOf(aliasDN) {
		return direrr.New(direrr.KindAliasProblem, "alias target %q is the alias itself or one of its ancestors", targetDN.NormString()).
			WithDN(aliasDN.NormString())
	}

	if r.IsAlias(targetDN.NormString()) {
		return direrr.New(direrr.KindAliasProblem, "alias target %q is itself an alias; alias chains are not allowed", targetDN.NormString()).
			WithDN(aliasDN.NormString())
	}

	return nil
}

// Dereference resolves targetDN to a live entry DN, failing with
// KindAliasDerefProblem if the target does not exist. Chasing is always
// exactly one hop since ValidateNewAlias refuses to create a chain.
func (e *Engine) Dereference(targetDN *dn.DN, r Resolver) (string, error) {
	norm := targetDN.NormString()
	if !r.Exists(norm) {
		return "", direrr.New(direrr.KindAliasDerefProblem, "alias target %q does not exist", norm)
	}
	return norm, nil
}

// AncestorDNs returns the normalized DN of every superior of entryDN up
// to and including the partition suffix, nearest ancestor first. The
// result is the set of subtreeAlias index keys an alias at entryDN must
// be recorded under.
func (e *Engine) AncestorDNs(entryDN *dn.DN) []string {
	var out []string
	cur := entryDN
	for {
		parent, ok := cur.Parent()
		if !ok {
			break
		}
		if !parent.Equal(e.suffix) && !parent.IsWithin(e.suffix) {
			break
		}
		out = append(out, parent.NormString())
		if parent.Equal(e.suffix) {
			break
		}
		cur = parent
	}
	return out
}

// SubtreeAliasAncestors narrows AncestorDNs(aliasDN) to those ancestors
// that are not also an ancestor of targetDN (I6): a subtree search
// rooted at an ancestor that already contains the target physically has
// no need for the alias-index bypass, since the target is found by the
// ordinary hierarchy walk.
func (e *Engine) SubtreeAliasAncestors(aliasDN, targetDN *dn.DN) []string {
	var out []string
	for _, ancNorm := range e.AncestorDNs(aliasDN) {
		if ancNorm == targetDN.NormString() || isNormAncestorOfDN(ancNorm, targetDN) {
			continue
		}
		out = append(out, ancNorm)
	}
	return out
}

func isNormAncestorOfDN(ancNorm string, targetDN *dn.DN) bool {
	cur := targetDN
	for {
		parent, ok := cur.Parent()
		if !ok {
			return false
		}
		if parent.NormString() == ancNorm {
			return true
		}
		cur = parent
	}
}

// NeedsOneLevelEntry reports whether targetDN is NOT a sibling of
// aliasDN (I6): when alias and target share a parent, a one-level
// search at that parent already finds the target as an ordinary child,
// so the derived oneLevelAlias entry would be redundant.
func NeedsOneLevelEntry(aliasDN, targetDN *dn.DN) bool {
	aliasParent, aliasHasParent := aliasDN.Parent()
	targetParent, targetHasParent := targetDN.Parent()
	if !aliasHasParent || !targetHasParent {
		return true
	}
	return !aliasParent.Equal(targetParent)
}

// ExtractTargetDN reads the aliasedObjectName attribute value off a raw
// attribute map, as stored by the entry store (lowercased attribute
// names, byte-slice values). Returns ok=false if the attribute is
// absent or empty.
func ExtractTargetDN(attrs map[string][][]byte) (string, bool) {
	for name, values := range attrs {
		if strings.EqualFold(name, TargetAttribute) && len(values) > 0 {
			return string(values[0]), true
		}
	}
	return "", false
}

// IsAliasObjectClass reports whether ocs (an entry's objectClass
// values) names the alias structural class.
func IsAliasObjectClass(ocs [][]byte) bool {
	for _, oc := range ocs {
		if strings.EqualFold(string(oc), ObjectClass) {
			return true
		}
	}
	return false
}
