package dirstore

import (
	"strings"
	"time"

	"github.com/dircore/engine/internal/direrr"
	"github.com/dircore/engine/internal/filter"
	"github.com/dircore/engine/internal/storage"
	"github.com/dircore/engine/internal/storage/btree"
	"github.com/dircore/engine/internal/storage/index"
)

// SearchResult is one entry returned from Search, with its attribute set
// already trimmed to the attrsRequested tokens the caller asked for.
type SearchResult struct {
	DN         string
	Attributes map[string][]string
}

// Search evaluates filterStr against every candidate entry within baseDN
// at the given scope, per §6's search(baseDn, scope, filter,
// attrsRequested, sizeLimit, timeLimit). sizeLimit/timeLimit of zero mean
// unlimited; timeLimit is wall-clock, checked between candidates.
func (p *Partition) Search(baseDN string, scope storage.Scope, filterStr string, attrsRequested []string, sizeLimit int, timeLimit time.Duration) ([]SearchResult, error) {
	d, err := p.parseDN(baseDN)
	if err != nil {
		return nil, err
	}
	normDN := d.NormString()

	baseID, ok, err := p.sysIdx.LookupByNormalizedDN(normDN)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindIoError, err, "resolve search base")
	}
	if !ok {
		return nil, direrr.New(direrr.KindNoSuchObject, "no such entry").WithDN(normDN)
	}

	f, err := filter.Parse(filterStr)
	if err != nil {
		return nil, direrr.Wrap(direrr.KindNamingViolation, err, "invalid search filter %q", filterStr)
	}
	evaluator := filter.NewEvaluator(p.schema)

	candidateIDs, err := p.scopeCandidates(baseID, scope)
	if err != nil {
		return nil, err
	}
	if p.optimizedSearch {
		if indexed, ok := p.indexCandidates(f); ok {
			candidateIDs = intersectIDs(candidateIDs, indexed)
		}
	}

	var deadline time.Time
	if timeLimit > 0 {
		deadline = time.Now().Add(timeLimit)
	}

	var results []SearchResult
	for _, id := range candidateIDs {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return results, direrr.New(direrr.KindTimeLimitExceeded, "search exceeded time limit after %d result(s)", len(results))
		}

		candDN, ok, err := p.sysIdx.NormalizedDN(id)
		if err != nil || !ok {
			continue
		}
		e, err := p.Get(candDN)
		if err != nil {
			continue
		}
		if !evaluator.Evaluate(f, toFilterEntry(e)) {
			continue
		}

		if sizeLimit > 0 && len(results) >= sizeLimit {
			return results, direrr.New(direrr.KindSizeLimitExceeded, "search exceeded size limit of %d", sizeLimit)
		}
		results = append(results, SearchResult{DN: e.DN, Attributes: projectAttributes(p, e, attrsRequested)})
	}

	return results, nil
}

// scopeCandidates resolves the id set a search at scope must evaluate,
// per §6's OBJECT/ONELEVEL/SUBTREE scopes.
func (p *Partition) scopeCandidates(baseID int64, scope storage.Scope) ([]int64, error) {
	switch scope {
	case storage.ScopeBase:
		return []int64{baseID}, nil
	case storage.ScopeOneLevel:
		return p.sysIdx.Children(baseID)
	case storage.ScopeSubtree:
		var ids []int64
		queue := []int64{baseID}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			ids = append(ids, cur)
			children, err := p.sysIdx.Children(cur)
			if err != nil {
				return nil, direrr.Wrap(direrr.KindIoError, err, "walk subtree during search")
			}
			queue = append(queue, children...)
		}
		return ids, nil
	default:
		return nil, direrr.New(direrr.KindNamingViolation, "unknown search scope %d", int(scope))
	}
}

// indexCandidates runs the optimizer over f and, when a usable plan comes
// back, resolves the index's EntryRefs (which carry normalized DNs) to
// entry ids. The second return is false whenever the plan is a full scan
// or the lookup fails — the caller then keeps the unrestricted scope set.
// The boolean evaluator still runs over whatever this narrows to, so a
// too-wide candidate set costs time, never correctness.
func (p *Partition) indexCandidates(f *filter.Filter) ([]int64, bool) {
	plan := filter.NewOptimizer(p.sysIdx.UserIndexes()).Optimize(f)
	if !plan.UseIndex {
		return nil, false
	}

	var (
		dns []string
		err error
	)
	switch plan.IndexType {
	case index.IndexPresence:
		var rs []btree.EntryRef
		rs, err = p.sysIdx.UserIndexes().SearchPresence(plan.IndexAttr)
		for _, r := range rs {
			dns = append(dns, r.DN)
		}
	case index.IndexSubstring:
		// The index stores trigram rows; intersect the candidate sets of
		// the probe component's grams, as the substring index itself does.
		grams := index.GenerateUniqueNgrams(string(plan.IndexLookup), index.NgramSize)
		if len(grams) == 0 {
			return nil, false
		}
		// Count distinct grams per DN so duplicate rows for one gram never
		// inflate the tally.
		seen := make(map[string]int)
		for _, gram := range grams {
			rs, lerr := p.sysIdx.UserIndexes().Search(plan.IndexAttr, []byte(gram))
			if lerr != nil {
				return nil, false
			}
			inGram := make(map[string]bool, len(rs))
			for _, r := range rs {
				if !inGram[r.DN] {
					inGram[r.DN] = true
					seen[r.DN]++
				}
			}
		}
		for d, n := range seen {
			if n == len(grams) {
				dns = append(dns, d)
			}
		}
	default:
		// Index keys are folded to lowercase at write time (toIndexEntry);
		// the probe folds the same way.
		var rs []btree.EntryRef
		rs, err = p.sysIdx.UserIndexes().Search(plan.IndexAttr, []byte(strings.ToLower(string(plan.IndexLookup))))
		for _, r := range rs {
			dns = append(dns, r.DN)
		}
	}
	if err != nil {
		return nil, false
	}

	ids := make([]int64, 0, len(dns))
	for _, d := range dns {
		if id, ok, lerr := p.sysIdx.LookupByNormalizedDN(d); lerr == nil && ok {
			ids = append(ids, id)
		}
	}
	return ids, true
}

// intersectIDs keeps the ids present in both sets, preserving a's order.
func intersectIDs(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	out := a[:0:0]
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func toFilterEntry(e *Entry) *filter.Entry {
	fe := filter.NewEntry(e.DN)
	for name, values := range e.Attributes {
		byteValues := make([][]byte, len(values))
		for i, v := range values {
			byteValues[i] = []byte(v)
		}
		fe.SetAttribute(name, byteValues...)
	}
	return fe
}

// projectAttributes trims e's attributes to the tokens in requested, per
// §6: an empty list means "*" (all user attributes); "*" includes every
// user attribute; "+" includes every operational attribute; "1.1" means
// no attributes at all, discarded if any real attribute id is also
// present; any other token is an explicit attribute id.
func projectAttributes(p *Partition, e *Entry, requested []string) map[string][]string {
	if len(requested) == 0 {
		requested = []string{"*"}
	}

	wantAllUser, wantAllOperational, explicit := false, false, make(map[string]bool)
	for _, tok := range requested {
		switch tok {
		case "*":
			wantAllUser = true
		case "+":
			wantAllOperational = true
		case "1.1":
			// handled below: discarded entirely if any other token present
		default:
			explicit[strings.ToLower(tok)] = true
		}
	}
	if !wantAllUser && !wantAllOperational && len(explicit) == 0 {
		// Only "1.1" was present (or the list was otherwise empty): no
		// attributes.
		return map[string][]string{}
	}

	out := make(map[string][]string, len(e.Attributes))
	for name, values := range e.Attributes {
		if explicit[name] {
			out[name] = values
			continue
		}
		at := p.schema.GetAttributeType(name)
		operational := at != nil && at.IsOperational()
		if operational && wantAllOperational {
			out[name] = values
		} else if !operational && wantAllUser {
			out[name] = values
		}
	}
	return out
}
