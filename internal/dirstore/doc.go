// Package dirstore implements the Entry Store: the public add/get/
// modify/rename/move/delete/search surface for one directory partition,
// coordinating the Schema Validator, the B+tree-backed record manager
// and index plane, and the Alias Engine behind one API.
//
// Grounded on internal/backend/{backend,add,delete,modify,modifydn}.go,
// stripped of everything the original LDAP server bolted onto the same
// struct (bind/auth, password policy, rate limiting, Raft cluster
// routing, the change-event stream) that this engine's scope excludes,
// and re-targeted at internal/schema/internal/alias/internal/storage's
// record manager instead.
package dirstore
