// Package dn implements RFC 4514 distinguished name parsing, formatting,
// and normalization for the directory engine.
//
// # Overview
//
// A DN is an ordered, root-last sequence of RDNs; each RDN is a set of
// one or more (attribute type, value) atoms (multi-valued RDNs use "+").
// Every DN carries two forms: the user-provided form (case/whitespace
// preserved) and a normalized form produced by running each atom's value
// through its attribute type's normalizer. DN equality is equality of
// normalized forms.
//
// This package does not know about the Schema Registry; callers supply a
// Normalizer that maps (attribute type, raw value) to its normalized
// string. That keeps dn free of an import cycle with internal/schema,
// which itself needs to parse DNs (its configured suffix/root DN) using
// the very normalizers it owns.
//
// Grounded on the teacher's original DN component-splitting logic and
// cloudldap/cloudldap's schema/dn.go AVA/orig-vs-norm struct shape
// (pack enrichment, per SPEC_FULL.md's package map).
package dn
