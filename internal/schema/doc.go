// Package schema is the directory core's type system: the Schema Registry
// that catalogues syntaxes, matching rules, attribute types, and object
// classes, and the Validator that holds every mutation to it.
//
// The Schema value itself is a set of per-kind tables, each addressable by
// OID or by any registered name, case-insensitively. Registry wraps it
// with the OID ledger and the deferred-registration queue that makes
// loading order-independent: an element whose SUP reference has
// not arrived yet parks until a later registration resolves it, and a full
// pass that fails to shrink the parked set reports the cycle instead of
// spinning. Derived MUST/MAY/allowed closures are cached per object class
// and rebuilt when the class graph changes, so the validator's hot path
// never walks an inheritance chain.
//
// Validation follows the usual LDAP discipline, in order: every attribute
// id must resolve to a registered type (extensibleObject does not excuse
// an unregistered one); the declared classes expand to their canonical
// closure with exactly one most-specific structural class; closed MUST
// sets must be present and everything else within MUST∪MAY unless
// extensibleObject unbounds MAY; single-valued types get at most one
// value; every value must satisfy its syntax checker. Modify requests are
// validated by applying them to a clone first, so a rejected modification
// never touches the stored entry.
//
// The bootstrap schema (RFC 4512/4519 core plus the operational
// attributes the engine itself stamps) is compiled in as Go literals in
// defaults.go; parser.go reads and writes the RFC 4512 description syntax
// the ou=schema write path exchanges with clients.
package schema
