package permit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func engineCheckContext(tenantID, resource, action string) *CheckContext {
	return &CheckContext{
		Tenant:   &TenantContext{ID: tenantID, Status: TenantActive},
		Subject:  &SubjectContext{ID: "u1", Type: SubjectUser},
		Resource: resource,
		Action:   action,
	}
}

func TestEvaluateNoPoliciesIsDefaultDeny(t *testing.T) {
	e := NewPolicyEngine()
	res := e.Evaluate(engineCheckContext("t1", "doc", "read"))
	if res.Effect != EffectDeny || res.Matched {
		t.Fatalf("expected unmatched deny, got %+v", res)
	}
}

func TestEvaluateNilTenantDenies(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{
		ID: "p1", Enabled: true,
		Rules: []*PolicyRule{{Permissions: []string{"*"}, Effect: EffectAllow}},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res := e.Evaluate(&CheckContext{Resource: "doc", Action: "read"})
	if res.Effect != EffectDeny || res.Matched {
		t.Fatalf("expected deny without tenant, got %+v", res)
	}
}

func TestEvaluateTenantIsolation(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{
		ID: "tenant-a-allow", TenantID: "a", Enabled: true,
		Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if res := e.Evaluate(engineCheckContext("a", "doc", "read")); res.Effect != EffectAllow {
		t.Fatalf("tenant a should be allowed: %+v", res)
	}
	if res := e.Evaluate(engineCheckContext("b", "doc", "read")); res.Effect != EffectDeny || res.Matched {
		t.Fatalf("tenant b must not see tenant a's policy: %+v", res)
	}
}

func TestEvaluateGlobalPolicyAppliesToAllTenants(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{
		ID: "global", Enabled: true,
		Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, tenant := range []string{"a", "b", "c"} {
		if res := e.Evaluate(engineCheckContext(tenant, "doc", "read")); res.Effect != EffectAllow {
			t.Fatalf("tenant %s: %+v", tenant, res)
		}
	}
}

func TestEvaluateHighDenyBeatsLowAllow(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.LoadPolicies([]*PolicyDefinition{
		{ID: "allow-low", Priority: PriorityLow, Enabled: true,
			Rules: []*PolicyRule{{Permissions: []string{"billing:update"}, Effect: EffectAllow}}},
		{ID: "deny-high", Priority: PriorityHigh, Enabled: true,
			Rules: []*PolicyRule{{Permissions: []string{"billing:update"}, Effect: EffectDeny}}},
	}); err != nil {
		t.Fatalf("load: %v", err)
	}
	res := e.Evaluate(engineCheckContext("t1", "billing", "update"))
	if res.Effect != EffectDeny || res.MatchedPolicy != "deny-high" {
		t.Fatalf("expected deny-high to win: %+v", res)
	}
}

func TestEvaluateSkipsDisabledPolicies(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{
		ID: "off", Enabled: false,
		Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if res := e.Evaluate(engineCheckContext("t1", "doc", "read")); res.Matched {
		t.Fatalf("disabled policy must not match: %+v", res)
	}
}

func TestEvaluateFirstMatchWinsWithinPolicy(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{
		ID: "mixed", Enabled: true,
		Rules: []*PolicyRule{
			{Permissions: []string{"doc:read"}, Effect: EffectDeny},
			{Permissions: []string{"doc:read"}, Effect: EffectAllow},
		},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	res := e.Evaluate(engineCheckContext("t1", "doc", "read"))
	if res.Effect != EffectDeny || res.MatchedRule != 0 {
		t.Fatalf("earlier-declared rule must win on equal priority: %+v", res)
	}
}

func TestEvaluateConditionGating(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{
		ID: "gold-only", Enabled: true,
		Rules: []*PolicyRule{{
			Permissions: []string{"report:export"},
			Effect:      EffectAllow,
			Conditions: []*Condition{{
				Type:     ConditionField,
				Field:    "tenant.metadata.plan",
				Operator: OpEq,
				Value:    Literal("gold"),
			}},
		}},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx := engineCheckContext("t1", "report", "export")
	ctx.Tenant.Metadata = map[string]any{"plan": "gold"}
	if res := e.Evaluate(ctx); res.Effect != EffectAllow {
		t.Fatalf("gold plan should pass: %+v", res)
	}
	ctx.Tenant.Metadata["plan"] = "free"
	if res := e.Evaluate(ctx); res.Matched {
		t.Fatalf("free plan must not match: %+v", res)
	}
}

func TestAddPolicyDuplicateID(t *testing.T) {
	e := NewPolicyEngine()
	def := &PolicyDefinition{ID: "dup", Enabled: true,
		Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}}}
	if err := e.AddPolicy(def); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := e.AddPolicy(def); !errors.Is(err, ErrDuplicatePolicy) {
		t.Fatalf("expected ErrDuplicatePolicy, got %v", err)
	}
}

func TestLoadPoliciesAtomicReplace(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.LoadPolicies([]*PolicyDefinition{
		{ID: "old", Enabled: true, Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}}},
	}); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := e.LoadPolicies([]*PolicyDefinition{
		{ID: "new", Enabled: true, Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}}},
		{ID: "broken", Enabled: true},
	})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	ids := e.Policies()
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("failed load must leave previous set intact, got %v", ids)
	}
	if res := e.Evaluate(engineCheckContext("t1", "doc", "read")); res.MatchedPolicy != "old" {
		t.Fatalf("previous set should still evaluate: %+v", res)
	}
}

func TestRemovePolicy(t *testing.T) {
	e := NewPolicyEngine()
	if err := e.AddPolicy(&PolicyDefinition{ID: "p1", Enabled: true,
		Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	e.RemovePolicy("p1")
	e.RemovePolicy("absent")
	if res := e.Evaluate(engineCheckContext("t1", "doc", "read")); res.Matched {
		t.Fatalf("removed policy must not match: %+v", res)
	}
}

func TestEvaluateConcurrentTenants(t *testing.T) {
	e := NewPolicyEngine()
	for _, tenant := range []string{"a", "b"} {
		if err := e.AddPolicy(&PolicyDefinition{
			ID: "allow-" + tenant, TenantID: tenant, Enabled: true,
			Rules: []*PolicyRule{{Permissions: []string{"doc:read"}, Effect: EffectAllow}},
		}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 200)
	for i := 0; i < 100; i++ {
		tenant := "a"
		if i%2 == 1 {
			tenant = "b"
		}
		wg.Add(1)
		go func(tenant string) {
			defer wg.Done()
			res := e.Evaluate(engineCheckContext(tenant, "doc", "read"))
			if res.Effect != EffectAllow || res.MatchedPolicy != "allow-"+tenant {
				errCh <- fmt.Errorf("tenant %s: %+v", tenant, res)
			}
			if cross := e.Evaluate(engineCheckContext("stranger", "doc", "read")); cross.Matched {
				errCh <- fmt.Errorf("stranger matched %s", cross.MatchedPolicy)
			}
		}(tenant)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
