package filter

// FilterType discriminates the nodes of a parsed filter expression.
type FilterType int

const (
	FilterAnd FilterType = iota
	FilterOr
	FilterNot
	FilterEquality
	FilterSubstring
	FilterGreaterOrEqual
	FilterLessOrEqual
	FilterPresent
	FilterApproxMatch
	FilterExtensibleMatch
)

func (ft FilterType) String() string {
	switch ft {
	case FilterAnd:
		return "AND"
	case FilterOr:
		return "OR"
	case FilterNot:
		return "NOT"
	case FilterEquality:
		return "EQUALITY"
	case FilterSubstring:
		return "SUBSTRING"
	case FilterGreaterOrEqual:
		return "GREATER_OR_EQUAL"
	case FilterLessOrEqual:
		return "LESS_OR_EQUAL"
	case FilterPresent:
		return "PRESENT"
	case FilterApproxMatch:
		return "APPROX_MATCH"
	case FilterExtensibleMatch:
		return "EXTENSIBLE_MATCH"
	}
	return "UNKNOWN"
}

// Filter is one node of a parsed search expression. Which fields are
// meaningful depends on Type: AND/OR carry Children, NOT carries Child,
// substring leaves carry Substring, every other leaf carries Attribute and
// Value.
type Filter struct {
	Type      FilterType
	Attribute string
	Value     []byte
	Children  []*Filter
	Child     *Filter
	Substring *SubstringFilter

	// MatchingRule and DNAttributes are set for FilterExtensibleMatch only:
	// MatchingRule is the rule OID/name from the filter's ":rule" component
	// (empty when the filter names no rule, per RFC 4515), and DNAttributes
	// reflects the presence of the ":dn" component.
	MatchingRule string
	DNAttributes bool
}

// SubstringFilter decomposes a wildcard pattern: the run before the first
// asterisk, the runs between asterisks, and the run after the last.
type SubstringFilter struct {
	Attribute string
	Initial   []byte
	Any       [][]byte
	Final     []byte
}

// NewAndFilter builds an AND node over children.
func NewAndFilter(children ...*Filter) *Filter {
	return &Filter{Type: FilterAnd, Children: children}
}

// NewOrFilter builds an OR node over children.
func NewOrFilter(children ...*Filter) *Filter {
	return &Filter{Type: FilterOr, Children: children}
}

// NewNotFilter builds a NOT node over child.
func NewNotFilter(child *Filter) *Filter {
	return &Filter{Type: FilterNot, Child: child}
}

// NewEqualityFilter builds an (attr=value) leaf.
func NewEqualityFilter(attribute string, value []byte) *Filter {
	return &Filter{Type: FilterEquality, Attribute: attribute, Value: value}
}

// NewSubstringFilter builds an (attr=*value*) leaf from its components.
func NewSubstringFilter(sf *SubstringFilter) *Filter {
	return &Filter{Type: FilterSubstring, Attribute: sf.Attribute, Substring: sf}
}

// NewPresentFilter builds an (attr=*) leaf.
func NewPresentFilter(attribute string) *Filter {
	return &Filter{Type: FilterPresent, Attribute: attribute}
}

// NewGreaterOrEqualFilter builds an (attr>=value) leaf.
func NewGreaterOrEqualFilter(attribute string, value []byte) *Filter {
	return &Filter{Type: FilterGreaterOrEqual, Attribute: attribute, Value: value}
}

// NewLessOrEqualFilter builds an (attr<=value) leaf.
func NewLessOrEqualFilter(attribute string, value []byte) *Filter {
	return &Filter{Type: FilterLessOrEqual, Attribute: attribute, Value: value}
}

// NewApproxMatchFilter builds an (attr~=value) leaf.
func NewApproxMatchFilter(attribute string, value []byte) *Filter {
	return &Filter{Type: FilterApproxMatch, Attribute: attribute, Value: value}
}

// NewExtensibleMatchFilter builds an (attr:dn:rule:=value) leaf. Either
// attribute or rule may be empty per RFC 4515's grammar, but not both.
func NewExtensibleMatchFilter(attribute, rule string, dnAttributes bool, value []byte) *Filter {
	return &Filter{
		Type:         FilterExtensibleMatch,
		Attribute:    attribute,
		Value:        value,
		MatchingRule: rule,
		DNAttributes: dnAttributes,
	}
}

// Entry is the evaluator's view of a candidate entry. Declared locally so
// the entry store can hand candidates in without an import cycle.
type Entry struct {
	DN         string
	Attributes map[string][][]byte
}

// NewEntry returns an entry with no attributes yet.
func NewEntry(dn string) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: make(map[string][][]byte),
	}
}

// SetAttribute replaces an attribute's value set.
func (e *Entry) SetAttribute(name string, values ...[]byte) {
	e.Attributes[name] = values
}

// SetStringAttribute replaces an attribute's value set from strings.
func (e *Entry) SetStringAttribute(name string, values ...string) {
	bs := make([][]byte, len(values))
	for i, v := range values {
		bs[i] = []byte(v)
	}
	e.Attributes[name] = bs
}

// GetAttribute returns an attribute's values under its exact name.
func (e *Entry) GetAttribute(name string) [][]byte {
	return e.Attributes[name]
}

// HasAttribute reports whether the entry carries the attribute.
func (e *Entry) HasAttribute(name string) bool {
	_, ok := e.Attributes[name]
	return ok
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := &Entry{
		DN:         e.DN,
		Attributes: make(map[string][][]byte, len(e.Attributes)),
	}
	for name, vals := range e.Attributes {
		copied := make([][]byte, len(vals))
		for i, v := range vals {
			copied[i] = make([]byte, len(v))
			copy(copied[i], v)
		}
		c.Attributes[name] = copied
	}
	return c
}
