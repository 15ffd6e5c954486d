package schema

import "strings"

// classClosure is the derived cache for one object class: its superior
// chain (excluding the class itself), the closed MUST and MAY attribute
// sets, and their union. Computed once per class and kept until the
// object-class graph changes, so the validator's hot path never walks
// SUP chains.
type classClosure struct {
	superiors []string
	must      []string
	may       []string
	allowed   map[string]bool
}

// invalidateClosures drops every derived closure. Any change to the
// object-class graph can alter an unrelated class's closure through its
// SUP chain, so the whole cache goes, not one entry.
func (s *Schema) invalidateClosures() {
	if len(s.closures) > 0 {
		s.closures = make(map[string]*classClosure)
	}
}

// closureFor returns (building if necessary) the derived closure for the
// class named by ocName. Returns nil for an unknown class. An inherited
// cycle terminates the walk rather than recursing forever; the loader's
// inheritance resolution reports cycles as errors before a schema is
// put into service.
func (s *Schema) closureFor(ocName string) *classClosure {
	oc := s.GetObjectClass(ocName)
	if oc == nil {
		return nil
	}
	key := oc.OID
	if key == "" {
		key = foldName(oc.Name)
	}
	if c, ok := s.closures[key]; ok {
		return c
	}

	c := &classClosure{allowed: make(map[string]bool)}
	seenClass := make(map[string]bool)
	seenMust := make(map[string]bool)
	seenMay := make(map[string]bool)

	for cur := oc; cur != nil; {
		id := foldName(cur.Name)
		if seenClass[id] {
			break
		}
		seenClass[id] = true
		if cur != oc {
			c.superiors = append(c.superiors, cur.Name)
		}
		for _, attr := range cur.Must {
			folded := foldName(attr)
			if !seenMust[folded] {
				seenMust[folded] = true
				c.must = append(c.must, attr)
				c.allowed[folded] = true
			}
		}
		for _, attr := range cur.May {
			folded := foldName(attr)
			if !seenMay[folded] {
				seenMay[folded] = true
				c.may = append(c.may, attr)
				c.allowed[folded] = true
			}
		}
		if cur.Superior == "" {
			break
		}
		cur = s.GetObjectClass(cur.Superior)
	}

	s.closures[key] = c
	return c
}

// GetAllMustAttributes returns the closed MUST set for ocName: the
// class's own required attributes plus everything inherited from its
// superior chain. Nil for an unknown class.
func (s *Schema) GetAllMustAttributes(ocName string) []string {
	c := s.closureFor(ocName)
	if c == nil {
		return nil
	}
	return c.must
}

// GetAllMayAttributes returns the closed MAY set for ocName. Nil for an
// unknown class.
func (s *Schema) GetAllMayAttributes(ocName string) []string {
	c := s.closureFor(ocName)
	if c == nil {
		return nil
	}
	return c.may
}

// SuperiorChain returns ocName's superior closure, nearest superior
// first, excluding the class itself. Nil for an unknown class.
func (s *Schema) SuperiorChain(ocName string) []string {
	c := s.closureFor(ocName)
	if c == nil {
		return nil
	}
	return c.superiors
}

// Allows reports whether attr appears anywhere in ocName's closed
// MUST or MAY set (case-insensitive).
func (s *Schema) Allows(ocName, attr string) bool {
	c := s.closureFor(ocName)
	return c != nil && c.allowed[strings.ToLower(attr)]
}
