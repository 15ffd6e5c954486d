package schema

import (
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// This file parses RFC 4512 schema descriptions, the parenthesized
// definition syntax used both by defaults.go's bootstrap literals and by
// values written to a subschema subentry's attributeTypes/objectClasses/
// matchingRules/ldapSyntaxes attributes (internal/schemaop's input).

// descScanner walks the fields of one description. Fields are the OID
// followed by clause keywords and their arguments; a parenthesized group
// or a quoted string arrives as a single field.
type descScanner struct {
	kind   string
	fields []string
	pos    int
}

// newDescScanner strips the outer parentheses, splits s into fields, and
// positions the scanner after the leading numeric OID.
func newDescScanner(kind, s string) (*descScanner, string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, "", pkgerrors.Errorf("%s description must be parenthesized", kind)
	}
	fields, err := splitDescription(strings.TrimSpace(s[1 : len(s)-1]))
	if err != nil {
		return nil, "", pkgerrors.Wrapf(err, "%s description", kind)
	}
	if len(fields) == 0 {
		return nil, "", pkgerrors.Errorf("%s description missing OID", kind)
	}
	return &descScanner{kind: kind, fields: fields, pos: 1}, fields[0], nil
}

func (d *descScanner) more() bool { return d.pos < len(d.fields) }

// keyword consumes the next field as an upper-cased clause keyword.
func (d *descScanner) keyword() string {
	kw := strings.ToUpper(d.fields[d.pos])
	d.pos++
	return kw
}

// arg consumes the next field as clause's argument.
func (d *descScanner) arg(clause string) (string, error) {
	if d.pos >= len(d.fields) {
		return "", pkgerrors.Errorf("%s description: %s clause missing its argument", d.kind, clause)
	}
	v := d.fields[d.pos]
	d.pos++
	return v, nil
}

// ParseAttributeTypeDescription parses an RFC 4512 attribute type
// description.
func ParseAttributeTypeDescription(s string) (*AttributeType, error) {
	sc, oid, err := newDescScanner("attribute type", s)
	if err != nil {
		return nil, err
	}
	at := &AttributeType{OID: oid, Usage: UserApplications}

	for sc.more() {
		clause := sc.keyword()
		switch clause {
		case "OBSOLETE":
			at.Obsolete = true
		case "SINGLE-VALUE":
			at.SingleValue = true
		case "COLLECTIVE":
			at.Collective = true
		case "NO-USER-MODIFICATION":
			at.NoUserMod = true
		default:
			v, err := sc.arg(clause)
			if err != nil {
				return nil, err
			}
			switch clause {
			case "NAME":
				at.Names = quotedNames(v)
				if len(at.Names) > 0 {
					at.Name = at.Names[0]
				}
			case "DESC":
				at.Desc = unquote(v)
			case "SUP":
				at.Superior = unquote(v)
			case "EQUALITY":
				at.Equality = unquote(v)
			case "ORDERING":
				at.Ordering = unquote(v)
			case "SUBSTR":
				at.Substring = unquote(v)
			case "SYNTAX":
				at.Syntax = trimSyntaxBound(v)
			case "USAGE":
				at.Usage = usageFromName(v)
			}
		}
	}
	return at, nil
}

// ParseObjectClassDescription parses an RFC 4512 object class
// description.
func ParseObjectClassDescription(s string) (*ObjectClass, error) {
	sc, oid, err := newDescScanner("object class", s)
	if err != nil {
		return nil, err
	}
	oc := &ObjectClass{OID: oid, Kind: ObjectClassStructural, Must: []string{}, May: []string{}}

	for sc.more() {
		clause := sc.keyword()
		switch clause {
		case "OBSOLETE":
			oc.Obsolete = true
		case "ABSTRACT":
			oc.Kind = ObjectClassAbstract
		case "STRUCTURAL":
			oc.Kind = ObjectClassStructural
		case "AUXILIARY":
			oc.Kind = ObjectClassAuxiliary
		default:
			v, err := sc.arg(clause)
			if err != nil {
				return nil, err
			}
			switch clause {
			case "NAME":
				oc.Names = quotedNames(v)
				if len(oc.Names) > 0 {
					oc.Name = oc.Names[0]
				}
			case "DESC":
				oc.Desc = unquote(v)
			case "SUP":
				oc.Superior = unquote(v)
			case "MUST":
				oc.Must = dollarList(v)
			case "MAY":
				oc.May = dollarList(v)
			}
		}
	}
	return oc, nil
}

// ParseMatchingRuleDescription parses an RFC 4512 matching rule
// description.
func ParseMatchingRuleDescription(s string) (*MatchingRule, error) {
	sc, oid, err := newDescScanner("matching rule", s)
	if err != nil {
		return nil, err
	}
	mr := &MatchingRule{OID: oid}

	for sc.more() {
		clause := sc.keyword()
		if clause == "OBSOLETE" {
			mr.Obsolete = true
			continue
		}
		v, err := sc.arg(clause)
		if err != nil {
			return nil, err
		}
		switch clause {
		case "NAME":
			mr.Names = quotedNames(v)
			if len(mr.Names) > 0 {
				mr.Name = mr.Names[0]
			}
		case "DESC":
			mr.Description = unquote(v)
		case "SYNTAX":
			mr.Syntax = trimSyntaxBound(v)
		}
	}
	return mr, nil
}

// ParseSyntaxDescription parses an RFC 4512 LDAP syntax description.
func ParseSyntaxDescription(s string) (*Syntax, error) {
	sc, oid, err := newDescScanner("syntax", s)
	if err != nil {
		return nil, err
	}
	syn := &Syntax{OID: oid, Validator: builtinChecker(oid)}

	for sc.more() {
		clause := sc.keyword()
		if clause != "DESC" {
			continue
		}
		v, err := sc.arg(clause)
		if err != nil {
			return nil, err
		}
		syn.Description = unquote(v)
	}
	return syn, nil
}

// splitDescription divides a description body into fields: whitespace
// separates fields, a '...' string is one field (quotes kept), and a
// nested ( ... ) group is one field with its outer parentheses removed.
// '$' separators survive only inside a group, where dollarList consumes
// them.
func splitDescription(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	depth := 0
	quoted := false

	flush := func() {
		if f := strings.TrimSpace(cur.String()); f != "" {
			fields = append(fields, f)
		}
		cur.Reset()
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quoted:
			cur.WriteByte(c)
			quoted = c != '\''
		case c == '\'':
			quoted = true
			cur.WriteByte(c)
		case c == '(':
			if depth > 0 {
				cur.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, pkgerrors.New("unbalanced parentheses")
			}
			if depth > 0 {
				cur.WriteByte(c)
			} else {
				flush()
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if depth > 0 {
				cur.WriteByte(c)
			} else {
				flush()
			}
		case c == '$' && depth == 0:
			// A stray separator outside a group carries no content.
		default:
			cur.WriteByte(c)
		}
	}

	if quoted {
		return nil, pkgerrors.New("unterminated quoted string")
	}
	if depth != 0 {
		return nil, pkgerrors.New("unbalanced parentheses")
	}
	flush()
	return fields, nil
}

// quotedNames extracts every '...'-quoted name from a NAME argument,
// which is either one quoted name or a group of them. An unquoted
// argument is taken whole.
func quotedNames(s string) []string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "'") {
		return []string{s}
	}
	var names []string
	for {
		open := strings.IndexByte(s, '\'')
		if open < 0 {
			return names
		}
		close := strings.IndexByte(s[open+1:], '\'')
		if close < 0 {
			return names
		}
		if close > 0 {
			names = append(names, s[open+1:open+1+close])
		}
		s = s[open+close+2:]
	}
}

// dollarList splits a MUST/MAY argument on '$' into attribute names.
func dollarList(s string) []string {
	var attrs []string
	for _, part := range strings.Split(s, "$") {
		if part = unquote(strings.TrimSpace(part)); part != "" {
			attrs = append(attrs, part)
		}
	}
	return attrs
}

// unquote strips one pair of surrounding single quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

// trimSyntaxBound drops a SYNTAX argument's length bound
// ("...1.15{256}" -> "...1.15").
func trimSyntaxBound(s string) string {
	s = unquote(s)
	if i := strings.IndexByte(s, '{'); i >= 0 {
		return s[:i]
	}
	return s
}

// usageFromName maps a USAGE argument onto AttributeUsage; unrecognized
// values default to userApplications per RFC 4512.
func usageFromName(s string) AttributeUsage {
	switch strings.ToLower(unquote(s)) {
	case "directoryoperation":
		return DirectoryOperation
	case "distributedoperation":
		return DistributedOperation
	case "dsaoperation":
		return DSAOperation
	default:
		return UserApplications
	}
}
