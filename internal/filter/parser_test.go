package filter

import (
	"bytes"
	"testing"
)

func TestParseEmptyFilter(t *testing.T) {
	if _, err := Parse(""); err != ErrEmptyFilter {
		t.Errorf("expected ErrEmptyFilter, got %v", err)
	}
	if _, err := Parse("   "); err != ErrEmptyFilter {
		t.Errorf("expected ErrEmptyFilter, got %v", err)
	}
}

func TestParseEquality(t *testing.T) {
	f, err := Parse("(cn=alice)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterEquality || f.Attribute != "cn" || string(f.Value) != "alice" {
		t.Errorf("unexpected filter: %+v", f)
	}
}

func TestParsePresence(t *testing.T) {
	f, err := Parse("(mail=*)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterPresent || f.Attribute != "mail" {
		t.Errorf("unexpected filter: %+v", f)
	}
}

func TestParseAndOrNot(t *testing.T) {
	f, err := Parse("(&(cn=alice)(sn=smith))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterAnd || len(f.Children) != 2 {
		t.Fatalf("unexpected filter: %+v", f)
	}

	f, err = Parse("(|(cn=alice)(cn=bob))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterOr || len(f.Children) != 2 {
		t.Fatalf("unexpected filter: %+v", f)
	}

	f, err = Parse("(!(cn=alice))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterNot || f.Child == nil {
		t.Fatalf("unexpected filter: %+v", f)
	}
}

func TestParseExtensibleMatch(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantAttr  string
		wantRule  string
		wantDN    bool
		wantValue string
	}{
		{
			name:      "attribute and rule",
			input:     "(cn:caseExactMatch:=Alice)",
			wantAttr:  "cn",
			wantRule:  "caseExactMatch",
			wantValue: "Alice",
		},
		{
			name:      "attribute, dn flag, and rule",
			input:     "(cn:dn:caseExactMatch:=Alice)",
			wantAttr:  "cn",
			wantRule:  "caseExactMatch",
			wantDN:    true,
			wantValue: "Alice",
		},
		{
			name:      "attribute only",
			input:     "(cn:=Alice)",
			wantAttr:  "cn",
			wantValue: "Alice",
		},
		{
			name:      "rule only, no attribute",
			input:     "(:caseExactMatch:=Alice)",
			wantRule:  "caseExactMatch",
			wantValue: "Alice",
		},
		{
			name:      "dn flag and rule, no attribute",
			input:     "(:dn:caseExactMatch:=Alice)",
			wantRule:  "caseExactMatch",
			wantDN:    true,
			wantValue: "Alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Type != FilterExtensibleMatch {
				t.Fatalf("expected FilterExtensibleMatch, got %v", f.Type)
			}
			if f.Attribute != tt.wantAttr {
				t.Errorf("attribute: got %q, want %q", f.Attribute, tt.wantAttr)
			}
			if f.MatchingRule != tt.wantRule {
				t.Errorf("matching rule: got %q, want %q", f.MatchingRule, tt.wantRule)
			}
			if f.DNAttributes != tt.wantDN {
				t.Errorf("dn attributes: got %v, want %v", f.DNAttributes, tt.wantDN)
			}
			if !bytes.Equal(f.Value, []byte(tt.wantValue)) {
				t.Errorf("value: got %q, want %q", f.Value, tt.wantValue)
			}
		})
	}
}

func TestParseExtensibleMatchMissingAttributeAndRule(t *testing.T) {
	if _, err := Parse("(:=value)"); err != ErrMissingAttribute {
		t.Errorf("expected ErrMissingAttribute, got %v", err)
	}
	if _, err := Parse("(:dn:=value)"); err != ErrMissingAttribute {
		t.Errorf("expected ErrMissingAttribute, got %v", err)
	}
}

func TestParseSubstringVariants(t *testing.T) {
	f, err := Parse("(cn=al*)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterSubstring || string(f.Substring.Initial) != "al" {
		t.Errorf("unexpected filter: %+v", f.Substring)
	}

	// A trailing asterisk means no final component: both literal runs
	// float.
	f, err = Parse("(cn=*al*ce*)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FilterSubstring || len(f.Substring.Any) != 2 || f.Substring.Final != nil || f.Substring.Initial != nil {
		t.Errorf("unexpected filter: %+v", f.Substring)
	}

	f, err = Parse("(cn=a*b*c)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(f.Substring.Initial) != "a" || len(f.Substring.Any) != 1 || string(f.Substring.Final) != "c" {
		t.Errorf("unexpected filter: %+v", f.Substring)
	}
}
