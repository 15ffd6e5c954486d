package schema

// ObjectClassKind is an object class's kind clause. An entry needs
// exactly one effective structural class; abstract classes only anchor
// inheritance and auxiliary classes decorate a structural one.
type ObjectClassKind int

const (
	ObjectClassAbstract ObjectClassKind = iota
	ObjectClassStructural
	ObjectClassAuxiliary
)

func (k ObjectClassKind) String() string {
	switch k {
	case ObjectClassAbstract:
		return "ABSTRACT"
	case ObjectClassStructural:
		return "STRUCTURAL"
	case ObjectClassAuxiliary:
		return "AUXILIARY"
	default:
		return "UNKNOWN"
	}
}

// ObjectClass is one registered object class: identity, kind, SUP
// reference, and its own (unclosed) MUST/MAY attribute lists. The closed
// sets, with inheritance folded in, live in the Schema's derived closure
// cache (closure.go); this struct carries only what the class itself
// declares.
type ObjectClass struct {
	OID      string
	Name     string
	Names    []string
	Desc     string
	Obsolete bool
	Superior string
	Kind     ObjectClassKind
	Must     []string
	May      []string
}

// NewObjectClass creates a structural ObjectClass with the given OID and
// name.
func NewObjectClass(oid, name string) *ObjectClass {
	return &ObjectClass{
		OID:   oid,
		Name:  name,
		Names: []string{name},
		Kind:  ObjectClassStructural,
		Must:  []string{},
		May:   []string{},
	}
}

// IsStructural reports whether this class can serve as an entry's
// structural class.
func (oc *ObjectClass) IsStructural() bool {
	return oc.Kind == ObjectClassStructural
}
