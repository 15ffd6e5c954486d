// Package schemaop implements the ou=schema write path: registering,
// disabling, and removing attribute types, object classes, matching
// rules, and syntaxes at runtime through RFC 4512 description strings,
// the same grammar internal/schema's bootstrap literals use.
//
// There is no bootstrap analogue for a live schema-editing surface;
// internal/schema itself only loads schema once at startup. This package
// is grounded on internal/schema/parser.go's description parsing (reused,
// not reimplemented) and on internal/schema/bootstrap.go's SUP-chain walk
// for the dependency checks delete requires.
package schemaop
