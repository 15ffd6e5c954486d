package schema

import (
	"reflect"
	"testing"
)

func TestParseObjectClassDescription(t *testing.T) {
	oc, err := ParseObjectClassDescription(
		`( 2.5.6.6 NAME 'person' DESC 'Person' SUP top STRUCTURAL MUST ( sn $ cn ) MAY ( userPassword $ description ) )`)
	if err != nil {
		t.Fatalf("ParseObjectClassDescription: %v", err)
	}
	if oc.OID != "2.5.6.6" || oc.Name != "person" || oc.Superior != "top" {
		t.Errorf("identity = %q/%q/%q", oc.OID, oc.Name, oc.Superior)
	}
	if oc.Kind != ObjectClassStructural {
		t.Errorf("kind = %v, want STRUCTURAL", oc.Kind)
	}
	if !reflect.DeepEqual(oc.Must, []string{"sn", "cn"}) {
		t.Errorf("Must = %v", oc.Must)
	}
	if !reflect.DeepEqual(oc.May, []string{"userPassword", "description"}) {
		t.Errorf("May = %v", oc.May)
	}
}

func TestParseObjectClassKinds(t *testing.T) {
	cases := []struct {
		desc string
		want ObjectClassKind
	}{
		{`( 2.5.6.0 NAME 'top' ABSTRACT MUST objectClass )`, ObjectClassAbstract},
		{`( 2.5.6.1 NAME 'alias' SUP top STRUCTURAL MUST aliasedObjectName )`, ObjectClassStructural},
		{`( 1.3.6.1.4.1.1466.344 NAME 'dcObject' SUP top AUXILIARY MUST dc )`, ObjectClassAuxiliary},
	}
	for _, tc := range cases {
		oc, err := ParseObjectClassDescription(tc.desc)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.desc, err)
		}
		if oc.Kind != tc.want {
			t.Errorf("%s: kind = %v, want %v", oc.Name, oc.Kind, tc.want)
		}
	}
}

func TestParseAttributeTypeDescription(t *testing.T) {
	at, err := ParseAttributeTypeDescription(
		`( 2.5.4.3 NAME ( 'cn' 'commonName' ) DESC 'Common name' SUP name EQUALITY caseIgnoreMatch SUBSTR caseIgnoreSubstringsMatch SYNTAX 1.3.6.1.4.1.1466.115.121.1.15{256} )`)
	if err != nil {
		t.Fatalf("ParseAttributeTypeDescription: %v", err)
	}
	if at.OID != "2.5.4.3" || at.Name != "cn" {
		t.Errorf("identity = %q/%q", at.OID, at.Name)
	}
	if !reflect.DeepEqual(at.Names, []string{"cn", "commonName"}) {
		t.Errorf("Names = %v", at.Names)
	}
	if at.Superior != "name" || at.Equality != "caseIgnoreMatch" || at.Substring != "caseIgnoreSubstringsMatch" {
		t.Errorf("references = %q/%q/%q", at.Superior, at.Equality, at.Substring)
	}
	// The {256} length bound is dropped from the stored syntax OID.
	if at.Syntax != SyntaxDirectoryString {
		t.Errorf("Syntax = %q, want %q", at.Syntax, SyntaxDirectoryString)
	}
}

func TestParseAttributeTypeFlags(t *testing.T) {
	at, err := ParseAttributeTypeDescription(
		`( 1.3.6.1.1.16.4 NAME 'entryUUID' SYNTAX 1.3.6.1.1.16.1 SINGLE-VALUE NO-USER-MODIFICATION USAGE directoryOperation )`)
	if err != nil {
		t.Fatalf("ParseAttributeTypeDescription: %v", err)
	}
	if !at.SingleValue || !at.NoUserMod {
		t.Errorf("flags = single=%v nomod=%v, want both true", at.SingleValue, at.NoUserMod)
	}
	if at.Usage != DirectoryOperation {
		t.Errorf("Usage = %v, want directoryOperation", at.Usage)
	}
	if !at.IsOperational() {
		t.Error("entryUUID should be operational")
	}
}

func TestParseMatchingRuleDescription(t *testing.T) {
	mr, err := ParseMatchingRuleDescription(
		`( 2.5.13.2 NAME 'caseIgnoreMatch' SYNTAX 1.3.6.1.4.1.1466.115.121.1.15 )`)
	if err != nil {
		t.Fatalf("ParseMatchingRuleDescription: %v", err)
	}
	if mr.OID != "2.5.13.2" || mr.Name != "caseIgnoreMatch" || mr.Syntax != SyntaxDirectoryString {
		t.Errorf("got %q/%q/%q", mr.OID, mr.Name, mr.Syntax)
	}
}

func TestParseSyntaxDescription(t *testing.T) {
	syn, err := ParseSyntaxDescription(`( 1.3.6.1.4.1.1466.115.121.1.15 DESC 'Directory String' )`)
	if err != nil {
		t.Fatalf("ParseSyntaxDescription: %v", err)
	}
	if syn.OID != SyntaxDirectoryString || syn.Description != "Directory String" {
		t.Errorf("got %q/%q", syn.OID, syn.Description)
	}
	// A parsed syntax picks up the engine's built-in checker.
	if !syn.HasValidator() {
		t.Error("Directory String syntax should carry its built-in checker")
	}
}

func TestParseRejectsMalformedDescriptions(t *testing.T) {
	cases := []string{
		``,
		`2.5.6.6 NAME 'person'`,
		`( )`,
		`( 2.5.6.6 NAME 'unterminated )`,
		`( 2.5.6.6 NAME )`,
		`( 2.5.4.3 SYNTAX )`,
	}
	for _, desc := range cases {
		if _, err := ParseObjectClassDescription(desc); err == nil {
			t.Errorf("ParseObjectClassDescription(%q) accepted malformed input", desc)
		}
	}
	if _, err := ParseAttributeTypeDescription(`( 2.5.4.3 EQUALITY )`); err == nil {
		t.Error("dangling EQUALITY clause accepted")
	}
}

func TestSplitDescription(t *testing.T) {
	fields, err := splitDescription(`2.5.6.6 NAME 'person' SUP top MUST ( sn $ cn )`)
	if err != nil {
		t.Fatalf("splitDescription: %v", err)
	}
	want := []string{"2.5.6.6", "NAME", "'person'", "SUP", "top", "MUST", "sn $ cn"}
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %q, want %q", fields, want)
	}

	if _, err := splitDescription(`NAME 'open`); err == nil {
		t.Error("unterminated quote accepted")
	}
	if _, err := splitDescription(`MUST ( sn`); err == nil {
		t.Error("unbalanced parentheses accepted")
	}
}

func TestQuotedNames(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"'cn'", []string{"cn"}},
		{"'cn' 'commonName'", []string{"cn", "commonName"}},
		{"bare", []string{"bare"}},
	}
	for _, tc := range cases {
		if got := quotedNames(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("quotedNames(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
