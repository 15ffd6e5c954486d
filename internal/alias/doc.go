// Package alias implements the Alias Engine: the rules that govern
// alias entries (objectClass "alias", attribute aliasedObjectName) and
// the bookkeeping that keeps the alias/oneLevelAlias/subtreeAlias system
// indices in sync as entries are added, moved, and deleted.
//
// Grounded on internal/backend/placement.go's ancestor-walk idiom for
// subtree membership and internal/backend/modifydn.go's DN-rewriting
// idiom for move handling, both generalized from backend's entry
// placement rules to alias-chain validation.
package alias
