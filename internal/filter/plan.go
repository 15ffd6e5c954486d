package filter

import (
	"github.com/dircore/engine/internal/storage/index"
)

// QueryPlan is the optimizer's verdict on one filter: drive candidates
// from a named index and post-filter the remainder, or scan everything and
// evaluate the filter per entry.
type QueryPlan struct {
	// UseIndex selects index-driven execution; the Index* fields below are
	// meaningful only when it is set.
	UseIndex bool

	IndexAttr   string
	IndexType   index.IndexType
	IndexLookup []byte

	// SubstringPattern keeps the original wildcard components for substring
	// lookups, whose index candidates always need verification.
	SubstringPattern *SubstringFilter

	// PostFilter is evaluated against each candidate the index produced;
	// nil when the index alone answers the filter.
	PostFilter *Filter

	// EstimatedCost orders competing plans; the units are arbitrary but
	// consistent.
	EstimatedCost int

	// OriginalFilter is what was optimized, kept for fallback execution.
	OriginalFilter *Filter
}

// Plan cost weights.
const (
	CostFullScan       = 10000
	CostIndexLookup    = 10
	CostPostFilter     = 100
	CostOrUnion        = 50
	CostSubstringIndex = 50
	CostPresenceIndex  = 30
)

// NewFullScanPlan builds the no-index fallback plan.
func NewFullScanPlan(filter *Filter) *QueryPlan {
	return &QueryPlan{
		PostFilter:     filter,
		EstimatedCost:  CostFullScan,
		OriginalFilter: filter,
	}
}

// NewIndexPlan builds an index-driven plan.
func NewIndexPlan(attr string, indexType index.IndexType, lookup []byte, postFilter *Filter, cost int, original *Filter) *QueryPlan {
	return &QueryPlan{
		UseIndex:       true,
		IndexAttr:      attr,
		IndexType:      indexType,
		IndexLookup:    lookup,
		PostFilter:     postFilter,
		EstimatedCost:  cost,
		OriginalFilter: original,
	}
}

// NewSubstringIndexPlan builds a substring-index plan carrying the pattern
// for candidate verification.
func NewSubstringIndexPlan(attr string, lookup []byte, pattern *SubstringFilter, postFilter *Filter, cost int, original *Filter) *QueryPlan {
	return &QueryPlan{
		UseIndex:         true,
		IndexAttr:        attr,
		IndexType:        index.IndexSubstring,
		IndexLookup:      lookup,
		SubstringPattern: pattern,
		PostFilter:       postFilter,
		EstimatedCost:    cost,
		OriginalFilter:   original,
	}
}

// IsFullScan reports whether the plan scans every entry.
func (p *QueryPlan) IsFullScan() bool { return !p.UseIndex }

// HasPostFilter reports whether candidates still need filter evaluation.
func (p *QueryPlan) HasPostFilter() bool { return p.PostFilter != nil }

// String renders the plan for logs and tests.
func (p *QueryPlan) String() string {
	if !p.UseIndex {
		return "FULL_SCAN"
	}
	s := "INDEX_LOOKUP(" + p.IndexAttr + ", " + p.IndexType.String() + ")"
	if p.PostFilter != nil {
		s += " + POST_FILTER"
	}
	return s
}
