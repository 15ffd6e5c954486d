// Package filter parses and evaluates search filter expressions.
//
// Parse turns an RFC 4515 string like (&(objectClass=person)(cn=a*)) into
// a Filter tree; Evaluator answers whether a candidate entry matches it,
// consulting the schema's matching rules and attribute-type hierarchy when
// one is attached (the "name" virtual attribute and extensible-match rule
// resolution both need it) and defaulting to case-insensitive string
// comparison when none is. Optimizer plans the other execution mode:
// instead of testing every entry, drive the candidate set from a
// per-attribute index and post-filter whatever the index could not decide.
// Plans degrade to a full scan whenever the needed index is missing, so
// the boolean evaluator is always the correctness backstop.
package filter
