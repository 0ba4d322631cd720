package permit

import (
	"errors"
	"strings"
	"testing"
)

func allowRule(perms ...string) *PolicyRule {
	return &PolicyRule{Permissions: perms, Effect: EffectAllow}
}

func TestCompilePolicyValidation(t *testing.T) {
	tests := []struct {
		name string
		def  *PolicyDefinition
	}{
		{"nil definition", nil},
		{"missing id", &PolicyDefinition{Rules: []*PolicyRule{allowRule("doc:read")}}},
		{"no rules", &PolicyDefinition{ID: "p1"}},
		{"nil rule", &PolicyDefinition{ID: "p1", Rules: []*PolicyRule{nil}}},
		{"rule without permissions", &PolicyDefinition{ID: "p1", Rules: []*PolicyRule{{Effect: EffectAllow}}}},
		{"invalid effect", &PolicyDefinition{ID: "p1", Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: "grant"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompilePolicy(tt.def); !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestCompilePolicyRuleOrdering(t *testing.T) {
	cp, err := CompilePolicy(&PolicyDefinition{
		ID:      "p1",
		Enabled: true,
		Rules: []*PolicyRule{
			{Permissions: []string{"doc:read"}, Effect: EffectAllow, Priority: PriorityLow},
			{Permissions: []string{"doc:read"}, Effect: EffectDeny, Priority: PriorityCritical},
			{Permissions: []string{"doc:read"}, Effect: EffectAllow, Priority: PriorityHigh},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := []int{cp.Rules[0].Index, cp.Rules[1].Index, cp.Rules[2].Index}
	want := []int{1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rule order: got %v, want %v", got, want)
		}
	}
}

func TestCompilePolicyEqualPriorityKeepsDeclarationOrder(t *testing.T) {
	cp, err := CompilePolicy(&PolicyDefinition{
		ID:      "p1",
		Enabled: true,
		Rules: []*PolicyRule{
			{Permissions: []string{"doc:read"}, Effect: EffectAllow},
			{Permissions: []string{"doc:read"}, Effect: EffectDeny},
			{Permissions: []string{"doc:read"}, Effect: EffectAllow},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	for i, rule := range cp.Rules {
		if rule.Index != i {
			t.Fatalf("equal priority must keep declaration order, rule %d has index %d", i, rule.Index)
		}
	}
}

func TestRulePriorityOverridesPolicyPriority(t *testing.T) {
	cp, err := CompilePolicy(&PolicyDefinition{
		ID:       "p1",
		Priority: PriorityLow,
		Enabled:  true,
		Rules: []*PolicyRule{
			{Permissions: []string{"doc:read"}, Effect: EffectAllow},
			{Permissions: []string{"doc:read"}, Effect: EffectDeny, Priority: PriorityHigh},
		},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if cp.Rules[0].Index != 1 {
		t.Fatalf("high rule priority must beat low policy priority, got first index %d", cp.Rules[0].Index)
	}
}

func TestCompilePoliciesAbortsBatchNamingOffenders(t *testing.T) {
	_, err := CompilePolicies([]*PolicyDefinition{
		{ID: "good", Enabled: true, Rules: []*PolicyRule{allowRule("doc:read")}},
		{ID: "bad-one", Enabled: true},
		{ID: "bad-two", Enabled: true, Rules: []*PolicyRule{{Permissions: []string{"x"}, Effect: "maybe"}}},
	})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "bad-one") || !strings.Contains(msg, "bad-two") {
		t.Fatalf("batch error must name every offender: %s", msg)
	}
}

func TestCompilePoliciesSortsByPriority(t *testing.T) {
	compiled, err := CompilePolicies([]*PolicyDefinition{
		{ID: "low", Priority: PriorityLow, Enabled: true, Rules: []*PolicyRule{allowRule("doc:read")}},
		{ID: "critical", Priority: PriorityCritical, Enabled: true, Rules: []*PolicyRule{allowRule("doc:read")}},
		{ID: "normal", Enabled: true, Rules: []*PolicyRule{allowRule("doc:read")}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := []string{"critical", "normal", "low"}
	for i, id := range want {
		if compiled[i].ID != id {
			t.Fatalf("policy order: got %s at %d, want %s", compiled[i].ID, i, id)
		}
	}
}
