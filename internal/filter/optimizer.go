package filter

import (
	"strings"

	"github.com/dircore/engine/internal/storage/index"
)

// Optimizer turns filters into QueryPlans against the indices a partition
// actually has. A leaf whose attribute is unindexed, and any shape the
// index plane cannot answer, falls back to a full scan with the filter as
// the per-entry test — the fallback is always correct, just slower.
type Optimizer struct {
	indexes *index.IndexManager
}

// NewOptimizer returns an optimizer over the given index set. A nil
// manager plans everything as a full scan.
func NewOptimizer(im *index.IndexManager) *Optimizer {
	return &Optimizer{indexes: im}
}

// Optimize plans the execution of one filter.
func (o *Optimizer) Optimize(filter *Filter) *QueryPlan {
	if filter == nil || o.indexes == nil {
		return NewFullScanPlan(filter)
	}

	switch filter.Type {
	case FilterEquality:
		return o.planEquality(filter)
	case FilterPresent:
		return o.planPresence(filter)
	case FilterSubstring:
		return o.planSubstring(filter)
	case FilterAnd:
		return o.planAnd(filter)
	case FilterOr:
		return o.planOr(filter)
	case FilterGreaterOrEqual, FilterLessOrEqual:
		return o.planRange(filter)
	}
	// NOT, approximate, and extensible leaves have no index shape; so does
	// anything unrecognized.
	return NewFullScanPlan(filter)
}

// indexOfType returns attr's index when one of the wanted type exists.
func (o *Optimizer) indexOfType(attr string, want index.IndexType) (*index.Index, bool) {
	idx, ok := o.indexes.GetIndex(attr)
	if !ok || idx.Type != want {
		return nil, false
	}
	return idx, true
}

func (o *Optimizer) planEquality(filter *Filter) *QueryPlan {
	attr := normalizeAttr(filter.Attribute)
	if _, ok := o.indexOfType(attr, index.IndexEquality); ok {
		// The index answers the filter exactly; no post-filter needed.
		return NewIndexPlan(attr, index.IndexEquality, filter.Value, nil, CostIndexLookup, filter)
	}
	return NewFullScanPlan(filter)
}

func (o *Optimizer) planPresence(filter *Filter) *QueryPlan {
	attr := normalizeAttr(filter.Attribute)
	if _, ok := o.indexOfType(attr, index.IndexPresence); ok {
		return NewIndexPlan(attr, index.IndexPresence, index.PresenceMarker, nil, CostPresenceIndex, filter)
	}
	return NewFullScanPlan(filter)
}

func (o *Optimizer) planSubstring(filter *Filter) *QueryPlan {
	if filter.Substring == nil {
		return NewFullScanPlan(filter)
	}

	attr := normalizeAttr(filter.Substring.Attribute)
	if _, ok := o.indexOfType(attr, index.IndexSubstring); !ok {
		return NewFullScanPlan(filter)
	}

	lookup := substringLookupKey(filter.Substring)
	if lookup == nil {
		// Every component is shorter than a gram; nothing to probe with.
		return NewFullScanPlan(filter)
	}

	// Gram candidates over-approximate, so the original filter rides along
	// as the verification step.
	return NewSubstringIndexPlan(attr, lookup, filter.Substring, filter, CostSubstringIndex, filter)
}

// substringLookupKey picks the probe component: the prefix when long
// enough (most selective), else the first usable middle run, else the
// suffix.
func substringLookupKey(sf *SubstringFilter) []byte {
	if len(sf.Initial) >= index.NgramSize {
		return sf.Initial
	}
	for _, part := range sf.Any {
		if len(part) >= index.NgramSize {
			return part
		}
	}
	if len(sf.Final) >= index.NgramSize {
		return sf.Final
	}
	return nil
}

// planAnd drives candidates from the cheapest indexable child and folds
// the remaining children into the post-filter.
func (o *Optimizer) planAnd(filter *Filter) *QueryPlan {
	if len(filter.Children) == 0 {
		return NewFullScanPlan(filter)
	}

	var best *QueryPlan
	bestAt := -1
	for i, child := range filter.Children {
		plan := o.Optimize(child)
		if plan.UseIndex && (best == nil || plan.EstimatedCost < best.EstimatedCost) {
			best, bestAt = plan, i
		}
	}
	if best == nil {
		return NewFullScanPlan(filter)
	}

	rest := make([]*Filter, 0, len(filter.Children)-1)
	for i, child := range filter.Children {
		if i != bestAt {
			rest = append(rest, child)
		}
	}

	var post *Filter
	switch len(rest) {
	case 0:
	case 1:
		post = rest[0]
	default:
		post = NewAndFilter(rest...)
	}

	cost := best.EstimatedCost
	if post != nil {
		cost += o.scanCost(post)
	}

	return &QueryPlan{
		UseIndex:         true,
		IndexAttr:        best.IndexAttr,
		IndexType:        best.IndexType,
		IndexLookup:      best.IndexLookup,
		SubstringPattern: best.SubstringPattern,
		PostFilter:       post,
		EstimatedCost:    cost,
		OriginalFilter:   filter,
	}
}

// planOr only prices the union; execution still scans with the whole OR as
// the per-entry test, since a union of index probes needs executor support
// a scan does not.
func (o *Optimizer) planOr(filter *Filter) *QueryPlan {
	if len(filter.Children) == 0 {
		return NewFullScanPlan(filter)
	}

	total := 0
	for _, child := range filter.Children {
		plan := o.Optimize(child)
		if !plan.UseIndex {
			return NewFullScanPlan(filter)
		}
		total += plan.EstimatedCost
	}

	return &QueryPlan{
		PostFilter:     filter,
		EstimatedCost:  total + CostOrUnion*len(filter.Children),
		OriginalFilter: filter,
	}
}

// planRange rides an equality index's ordered tree for >=/<= leaves, with
// the filter as post-check on the boundary.
func (o *Optimizer) planRange(filter *Filter) *QueryPlan {
	attr := normalizeAttr(filter.Attribute)
	if _, ok := o.indexOfType(attr, index.IndexEquality); ok {
		return NewIndexPlan(attr, index.IndexEquality, filter.Value, filter, CostIndexLookup*2, filter)
	}
	return NewFullScanPlan(filter)
}

// scanCost prices evaluating a filter per candidate.
func (o *Optimizer) scanCost(filter *Filter) int {
	if filter == nil {
		return 0
	}

	switch filter.Type {
	case FilterAnd, FilterOr:
		cost := 0
		for _, child := range filter.Children {
			cost += o.scanCost(child)
		}
		return cost
	case FilterNot:
		return o.scanCost(filter.Child)
	case FilterPresent:
		return CostPostFilter / 2
	case FilterSubstring:
		return CostPostFilter * 2
	case FilterApproxMatch:
		return CostPostFilter * 3
	}
	return CostPostFilter
}

// normalizeAttr folds an attribute name for index lookup.
func normalizeAttr(attr string) string {
	return strings.ToLower(strings.TrimSpace(attr))
}
