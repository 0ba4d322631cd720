package utils

import "testing"

func TestMatchPermission(t *testing.T) {
	cases := []struct {
		pattern string
		code    string
		want    bool
	}{
		{"order:read", "order:read", true},
		{"order:read", "order:create", false},
		{"*", "order:read", true},
		{"*", "anything:at_all", true},
		{"order:*", "order:read", true},
		{"order:*", "invoice:read", false},
		{"*:read", "order:read", true},
		{"*:read", "order:create", false},
		{"order:*", "order", false},
		{"", "order:read", false},
	}
	for _, c := range cases {
		if got := MatchPermission(c.pattern, c.code); got != c.want {
			t.Fatalf("MatchPermission(%q, %q) = %v, want %v", c.pattern, c.code, got, c.want)
		}
	}
}

func TestMatchAnyPermission(t *testing.T) {
	set := map[string]struct{}{
		"order:read": {},
		"invoice:*":  {},
	}
	if !MatchAnyPermission(set, "order:read") {
		t.Fatalf("expected exact match")
	}
	if !MatchAnyPermission(set, "invoice:delete") {
		t.Fatalf("expected resource wildcard match")
	}
	if MatchAnyPermission(set, "order:delete") {
		t.Fatalf("expected no match")
	}
	if !MatchAnyPermission(map[string]struct{}{"*": {}}, "anything:here") {
		t.Fatalf("expected global wildcard match")
	}
	if MatchAnyPermission(nil, "order:read") {
		t.Fatalf("empty set must not match")
	}
}

func TestSplitCode(t *testing.T) {
	res, act := SplitCode("order:read")
	if res != "order" || act != "read" {
		t.Fatalf("unexpected split: %q %q", res, act)
	}
	res, act = SplitCode("order")
	if res != "order" || act != "" {
		t.Fatalf("unexpected split without separator: %q %q", res, act)
	}
}
