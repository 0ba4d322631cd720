package permit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/permit/logger"
)

// PermissionResolver supplies the granted permission set for a subject.
// This is the seam by which RBAC, a database lookup, or a static test
// double feeds the checker. It is fallible: errors, nil results, and
// panics are all tolerated and degrade to the empty set.
type PermissionResolver func(ctx context.Context, tenantID, subjectID string) (map[string]struct{}, error)

// CheckResult is the outcome of one permission check.
type CheckResult struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason"`
	Permission string        `json:"permission"`
	Elapsed    time.Duration `json:"elapsed"`
	Path       []string      `json:"path,omitempty"`
}

// Reason strings reported by the checker.
const (
	ReasonSpecificGrant    = "Specific permission granted"
	ReasonWildcardGrant    = "Wildcard permission"
	ReasonResourceWildcard = "Resource wildcard permission"
	ReasonActionWildcard   = "Action wildcard permission"
	ReasonNotGranted       = "Permission not granted"
	ReasonSystemSubject    = "System subject has full access"
)

// Checker is the top-level decision function. It combines resolver
// lookup with system-subject bypass, fail-safe error handling, and an
// optional policy-engine fallback.
type Checker struct {
	resolver PermissionResolver
	engine   *PolicyEngine
	log      logger.Logger
}

type CheckerOption func(*Checker)

// WithPolicyEngine attaches a policy engine consulted when the resolver
// lookup is inconclusive.
func WithPolicyEngine(engine *PolicyEngine) CheckerOption {
	return func(c *Checker) { c.engine = engine }
}

func WithCheckerLogger(l logger.Logger) CheckerOption {
	return func(c *Checker) { c.log = l }
}

func NewChecker(resolver PermissionResolver, opts ...CheckerOption) *Checker {
	c := &Checker{resolver: resolver, log: logger.NewNullLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check decides access. Every failure on the decision path, including a
// missing or invalid tenant, renders as Allowed=false; Check never
// returns an error and never panics.
func (c *Checker) Check(ctx context.Context, chk *CheckContext) *CheckResult {
	start := time.Now()
	result, err := c.Decide(ctx, chk)
	if err != nil {
		return &CheckResult{
			Allowed:    false,
			Reason:     err.Error(),
			Permission: permissionOf(chk),
			Elapsed:    time.Since(start),
		}
	}
	return result
}

// Decide is Check with the tenant gate surfaced as a typed error, for
// layers that distinguish "no tenant" from "denied". The error is
// always ErrMissingTenant or ErrInvalidTenant; decision-path failures
// further down still degrade to deny.
func (c *Checker) Decide(ctx context.Context, chk *CheckContext) (*CheckResult, error) {
	start := time.Now()
	if chk == nil {
		return nil, ErrMissingTenant
	}
	tenant := chk.Tenant
	if tenant == nil {
		// fall back to the ambient activation
		if ambient, ok := TenantFrom(ctx); ok {
			tenant = ambient
		}
	}
	if tenant == nil {
		return nil, ErrMissingTenant
	}
	if tenant.ID == "" {
		return nil, wrapErr(ErrInvalidTenant, "empty tenant id")
	}

	result := &CheckResult{Permission: chk.Permission()}
	defer func() { result.Elapsed = time.Since(start) }()

	if tenant.Status != TenantActive {
		result.Reason = fmt.Sprintf("tenant is %s", tenant.Status)
		return result, nil
	}

	if chk.Subject != nil && chk.Subject.Type == SubjectSystem {
		result.Allowed = true
		result.Reason = ReasonSystemSubject
		return result, nil
	}

	subjectID := ""
	if chk.Subject != nil {
		subjectID = chk.Subject.ID
	}
	granted := c.resolve(ctx, tenant.ID, subjectID)

	if _, ok := granted[result.Permission]; ok {
		result.Allowed = true
		result.Reason = ReasonSpecificGrant
		return result, nil
	}
	if _, ok := granted["*"]; ok {
		result.Allowed = true
		result.Reason = ReasonWildcardGrant
		return result, nil
	}
	if _, ok := granted[chk.Resource+":*"]; ok {
		result.Allowed = true
		result.Reason = ReasonResourceWildcard
		return result, nil
	}
	if _, ok := granted["*:"+chk.Action]; ok {
		result.Allowed = true
		result.Reason = ReasonActionWildcard
		return result, nil
	}

	if c.engine != nil {
		scoped := *chk
		scoped.Tenant = tenant
		ev := c.engine.Evaluate(&scoped)
		result.Path = ev.Path
		if ev.Matched {
			result.Allowed = ev.Effect == EffectAllow
			result.Reason = fmt.Sprintf("policy %s (%s)", ev.Effect, ev.MatchedPolicy)
			return result, nil
		}
	}

	result.Reason = ReasonNotGranted
	return result, nil
}

// resolve calls the injected resolver, absorbing errors, panics, and
// nil results into the empty permission set. A resolver failure must
// never become an allow or crash the caller.
func (c *Checker) resolve(ctx context.Context, tenantID, subjectID string) (granted map[string]struct{}) {
	if c.resolver == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("permission resolver panicked", "tenant", tenantID, "subject", subjectID, "panic", fmt.Sprint(r))
			granted = nil
		}
	}()
	set, err := c.resolver(ctx, tenantID, subjectID)
	if err != nil {
		c.log.Error("permission resolver failed", "tenant", tenantID, "subject", subjectID, "error", err.Error())
		return nil
	}
	return set
}

// CheckStrict is Check raising ErrPermissionDenied on a deny.
func (c *Checker) CheckStrict(ctx context.Context, chk *CheckContext) (*CheckResult, error) {
	result := c.Check(ctx, chk)
	if !result.Allowed {
		tenantID, subjectID := "", ""
		if chk != nil {
			if chk.Tenant != nil {
				tenantID = chk.Tenant.ID
			}
			if chk.Subject != nil {
				subjectID = chk.Subject.ID
			}
		}
		return result, DeniedError(tenantID, subjectID, result.Permission, result.Reason)
	}
	return result, nil
}

// BatchResult aggregates CheckMany outcomes. An empty input batch yields
// AllAllowed=true and AnyAllowed=false.
type BatchResult struct {
	Results    []*CheckResult `json:"results"`
	AllAllowed bool           `json:"all_allowed"`
	AnyAllowed bool           `json:"any_allowed"`
}

// CheckMany evaluates a batch of contexts, concurrently when asked.
// Result order always follows input order.
func (c *Checker) CheckMany(ctx context.Context, chks []*CheckContext, concurrent bool) *BatchResult {
	out := &BatchResult{Results: make([]*CheckResult, len(chks)), AllAllowed: true}
	if concurrent {
		var wg sync.WaitGroup
		for i, chk := range chks {
			wg.Add(1)
			go func(i int, chk *CheckContext) {
				defer wg.Done()
				out.Results[i] = c.Check(ctx, chk)
			}(i, chk)
		}
		wg.Wait()
	} else {
		for i, chk := range chks {
			out.Results[i] = c.Check(ctx, chk)
		}
	}
	for _, r := range out.Results {
		if r.Allowed {
			out.AnyAllowed = true
		} else {
			out.AllAllowed = false
		}
	}
	return out
}

// Explain re-runs the decision read-only and returns the result with
// the policy evaluation path attached. It never mutates engine or
// cache state.
func (c *Checker) Explain(ctx context.Context, chk *CheckContext) *CheckResult {
	return c.Check(ctx, chk)
}

func permissionOf(chk *CheckContext) string {
	if chk == nil {
		return ""
	}
	return chk.Permission()
}
