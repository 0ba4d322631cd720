package permit

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/utils"
)

// EvaluationResult reports the outcome of one policy evaluation. When
// no rule applies, Effect is deny and Matched is false: default-deny is
// the terminal state.
type EvaluationResult struct {
	Effect        Effect   `json:"effect"`
	Matched       bool     `json:"matched"`
	MatchedPolicy string   `json:"matched_policy,omitempty"`
	MatchedRule   int      `json:"matched_rule,omitempty"`
	Path          []string `json:"path,omitempty"`
}

// PolicyEngine holds compiled policies and evaluates them in priority
// order with tenant filtering. Mutations set a resort flag consumed
// lazily before the next evaluation; readers always observe either the
// pre- or post-mutation ordering.
type PolicyEngine struct {
	mu        sync.RWMutex
	byID      map[string]*CompiledPolicy
	ordered   []*CompiledPolicy
	needsSort bool
	evaluator *Evaluator
	log       logger.Logger
}

type EngineOption func(*PolicyEngine)

func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *PolicyEngine) {
		e.log = l
		e.evaluator = NewEvaluator(l)
	}
}

func NewPolicyEngine(opts ...EngineOption) *PolicyEngine {
	e := &PolicyEngine{
		byID: make(map[string]*CompiledPolicy),
		log:  logger.NewNullLogger(),
	}
	e.evaluator = NewEvaluator(e.log)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddPolicy compiles and registers a definition. A duplicate id is a
// hard error, never a silent overwrite.
func (e *PolicyEngine) AddPolicy(def *PolicyDefinition) error {
	cp, err := CompilePolicy(def)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[cp.ID]; ok {
		return wrapErr(ErrDuplicatePolicy, cp.ID)
	}
	e.byID[cp.ID] = cp
	e.needsSort = true
	return nil
}

// RemovePolicy deletes a policy by id. Removing an unknown id is a no-op.
func (e *PolicyEngine) RemovePolicy(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return
	}
	delete(e.byID, id)
	e.needsSort = true
}

// LoadPolicies replaces the full policy set from an external catalog.
// The batch is compiled atomically: any invalid definition aborts the
// load and the previous set stays in effect.
func (e *PolicyEngine) LoadPolicies(defs []*PolicyDefinition) error {
	compiled, err := CompilePolicies(defs)
	if err != nil {
		return err
	}
	byID := make(map[string]*CompiledPolicy, len(compiled))
	for _, cp := range compiled {
		if _, ok := byID[cp.ID]; ok {
			return wrapErr(ErrDuplicatePolicy, cp.ID)
		}
		byID[cp.ID] = cp
	}
	e.mu.Lock()
	e.byID = byID
	e.ordered = compiled
	e.needsSort = false
	e.mu.Unlock()
	return nil
}

// snapshot returns the priority-ordered policy list, resorting first if
// a mutation invalidated the order. The returned slice is never
// modified afterwards, so callers iterate without holding the lock.
func (e *PolicyEngine) snapshot() []*CompiledPolicy {
	e.mu.RLock()
	if !e.needsSort {
		s := e.ordered
		e.mu.RUnlock()
		return s
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.needsSort {
		ordered := make([]*CompiledPolicy, 0, len(e.byID))
		for _, cp := range e.byID {
			ordered = append(ordered, cp)
		}
		sort.SliceStable(ordered, func(a, b int) bool {
			if ordered[a].Priority != ordered[b].Priority {
				return ordered[a].Priority > ordered[b].Priority
			}
			return ordered[a].ID < ordered[b].ID
		})
		e.ordered = ordered
		e.needsSort = false
	}
	return e.ordered
}

// Evaluate walks applicable policies in descending priority order and
// returns the effect of the first rule that applies.
func (e *PolicyEngine) Evaluate(ctx *CheckContext) *EvaluationResult {
	result := &EvaluationResult{Effect: EffectDeny, MatchedRule: -1}
	if ctx == nil || ctx.Tenant == nil {
		result.Path = append(result.Path, "deny: no tenant in context")
		return result
	}
	requested := ctx.Permission()
	for _, cp := range e.snapshot() {
		if cp.TenantID != "" && cp.TenantID != ctx.Tenant.ID {
			result.Path = append(result.Path, fmt.Sprintf("policy=%s skip tenant=%s", cp.ID, cp.TenantID))
			continue
		}
		if !cp.Enabled {
			result.Path = append(result.Path, fmt.Sprintf("policy=%s skip disabled", cp.ID))
			continue
		}
		for _, rule := range cp.Rules {
			if !utils.MatchAnyPermission(rule.Permissions, requested) {
				result.Path = append(result.Path, fmt.Sprintf("policy=%s rule=%d permission_no_match", cp.ID, rule.Index))
				continue
			}
			if !e.ruleApplies(rule, ctx, cp.ID, result) {
				continue
			}
			result.Effect = rule.Effect
			result.Matched = true
			result.MatchedPolicy = cp.ID
			result.MatchedRule = rule.Index
			result.Path = append(result.Path, fmt.Sprintf("policy=%s rule=%d effect=%s MATCH", cp.ID, rule.Index, rule.Effect))
			return result
		}
	}
	result.Path = append(result.Path, "default deny: no rule applied")
	return result
}

func (e *PolicyEngine) ruleApplies(rule *CompiledRule, ctx *CheckContext, policyID string, result *EvaluationResult) bool {
	for ci, cond := range rule.Conditions {
		if !e.evaluator.Evaluate(cond, ctx) {
			result.Path = append(result.Path, fmt.Sprintf("policy=%s rule=%d condition=%d false", policyID, rule.Index, ci))
			return false
		}
	}
	return true
}

// Policies returns the ids of all registered policies.
func (e *PolicyEngine) Policies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
