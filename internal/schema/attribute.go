package schema

// AttributeUsage is an attribute type's USAGE clause: userApplications
// for ordinary user data, the three operational usages for data the
// directory itself maintains.
type AttributeUsage int

const (
	UserApplications AttributeUsage = iota
	DirectoryOperation
	DistributedOperation
	DSAOperation
)

func (u AttributeUsage) String() string {
	switch u {
	case UserApplications:
		return "userApplications"
	case DirectoryOperation:
		return "directoryOperation"
	case DistributedOperation:
		return "distributedOperation"
	case DSAOperation:
		return "dSAOperation"
	default:
		return "unknown"
	}
}

// IsOperational reports whether values under this usage belong to the
// directory rather than its users.
func (u AttributeUsage) IsOperational() bool {
	return u != UserApplications
}

// AttributeType is one registered attribute type: its identity (OID and
// names), the value constraints the validator enforces (syntax,
// single-value, collective), the matching rules the filter evaluator
// binds, and its SUP reference. References are held as name/OID strings
// and resolved through the Schema's tables, never as pointers, so a
// half-registered graph stays representable.
type AttributeType struct {
	OID         string
	Name        string
	Names       []string
	Desc        string
	Obsolete    bool
	Superior    string
	Equality    string
	Ordering    string
	Substring   string
	Syntax      string
	SingleValue bool
	Collective  bool
	NoUserMod   bool
	Usage       AttributeUsage
}

// NewAttributeType creates an AttributeType with the given OID and name
// and userApplications usage.
func NewAttributeType(oid, name string) *AttributeType {
	return &AttributeType{
		OID:   oid,
		Name:  name,
		Names: []string{name},
		Usage: UserApplications,
	}
}

// IsOperational reports whether this is an operational attribute.
func (at *AttributeType) IsOperational() bool {
	return at.Usage.IsOperational()
}
