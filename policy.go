package permit

import (
	"fmt"
	"sort"
	"strings"
)

// Effect is the outcome a matching rule produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Priority orders policies and rules. Unknown values rank as normal.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func priorityValue(p Priority) float64 {
	switch p {
	case PriorityLow:
		return 10
	case PriorityHigh:
		return 100
	case PriorityCritical:
		return 1000
	default:
		return 50
	}
}

// PolicyRule grants or denies a set of permission patterns when all of
// its conditions hold.
type PolicyRule struct {
	Permissions []string     `json:"permissions" yaml:"permissions"`
	Effect      Effect       `json:"effect" yaml:"effect"`
	Conditions  []*Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Priority    Priority     `json:"priority,omitempty" yaml:"priority,omitempty"` // overrides the policy priority
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
}

// PolicyDefinition is a raw, uncompiled policy. An empty TenantID makes
// the policy global.
type PolicyDefinition struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	TenantID string        `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Priority Priority      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Rules    []*PolicyRule `json:"rules" yaml:"rules"`
}

// CompiledRule is a validated rule with its permission set and sort key.
type CompiledRule struct {
	Index       int
	Permissions map[string]struct{}
	Effect      Effect
	Conditions  []*Condition
	SortKey     float64
	Description string
}

// CompiledPolicy is a validated, rule-sorted policy ready for evaluation.
type CompiledPolicy struct {
	ID       string
	Name     string
	TenantID string
	Priority float64
	Enabled  bool
	Rules    []*CompiledRule
}

// CompilePolicy validates and normalizes one definition. Structural
// failures return ErrInvalidPolicy and never degrade to deny.
func CompilePolicy(def *PolicyDefinition) (*CompiledPolicy, error) {
	if def == nil {
		return nil, wrapErr(ErrInvalidPolicy, "nil definition")
	}
	if def.ID == "" {
		return nil, wrapErr(ErrInvalidPolicy, "policy id is required")
	}
	if len(def.Rules) == 0 {
		return nil, wrapErr(ErrInvalidPolicy, fmt.Sprintf("policy %s has no rules", def.ID))
	}
	base := priorityValue(def.Priority)
	compiled := &CompiledPolicy{
		ID:       def.ID,
		Name:     def.Name,
		TenantID: def.TenantID,
		Priority: base,
		Enabled:  def.Enabled,
		Rules:    make([]*CompiledRule, 0, len(def.Rules)),
	}
	for i, rule := range def.Rules {
		if rule == nil {
			return nil, wrapErr(ErrInvalidPolicy, fmt.Sprintf("policy %s rule %d is nil", def.ID, i))
		}
		if len(rule.Permissions) == 0 {
			return nil, wrapErr(ErrInvalidPolicy, fmt.Sprintf("policy %s rule %d has no permissions", def.ID, i))
		}
		if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
			return nil, wrapErr(ErrInvalidPolicy, fmt.Sprintf("policy %s rule %d has invalid effect %q", def.ID, i, rule.Effect))
		}
		perms := make(map[string]struct{}, len(rule.Permissions))
		for _, p := range rule.Permissions {
			perms[p] = struct{}{}
		}
		ruleBase := base
		if rule.Priority != "" {
			ruleBase = priorityValue(rule.Priority)
		}
		compiled.Rules = append(compiled.Rules, &CompiledRule{
			Index:       i,
			Permissions: perms,
			Effect:      rule.Effect,
			Conditions:  rule.Conditions,
			// the index offset keeps earlier-declared rules ahead on
			// equal priority when sorted descending
			SortKey:     ruleBase - float64(i)*0.001,
			Description: rule.Description,
		})
	}
	sort.SliceStable(compiled.Rules, func(a, b int) bool {
		return compiled.Rules[a].SortKey > compiled.Rules[b].SortKey
	})
	return compiled, nil
}

// CompilePolicies compiles a batch, sorted descending by policy
// priority. A single invalid definition aborts the whole batch with an
// error naming every offender; nothing is partially committed.
func CompilePolicies(defs []*PolicyDefinition) ([]*CompiledPolicy, error) {
	compiled := make([]*CompiledPolicy, 0, len(defs))
	var failures []string
	for i, def := range defs {
		cp, err := CompilePolicy(def)
		if err != nil {
			id := fmt.Sprintf("#%d", i)
			if def != nil && def.ID != "" {
				id = def.ID
			}
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		compiled = append(compiled, cp)
	}
	if len(failures) > 0 {
		return nil, wrapErr(ErrInvalidPolicy, "batch compile failed: "+strings.Join(failures, "; "))
	}
	sort.SliceStable(compiled, func(a, b int) bool {
		return compiled[a].Priority > compiled[b].Priority
	})
	return compiled, nil
}
