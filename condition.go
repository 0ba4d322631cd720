package permit

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/oarkflow/permit/logger"
)

// ConditionType selects the evaluation strategy for a policy condition.
type ConditionType string

const (
	ConditionField  ConditionType = "field"
	ConditionTime   ConditionType = "time"
	ConditionIP     ConditionType = "ip"
	ConditionCustom ConditionType = "custom"
)

// Operator is the comparison applied by a condition.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpMatches    Operator = "matches"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// Value is the right-hand side of a condition: either a literal or a
// reference to a dotted context path resolved at evaluation time.
type Value struct {
	Literal any    `json:"literal,omitempty" yaml:"literal,omitempty"`
	Ref     string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// Literal wraps a constant condition value.
func Literal(v any) Value { return Value{Literal: v} }

// Ref wraps a context-path condition value, e.g. Ref("subject.id").
func Ref(path string) Value { return Value{Ref: path} }

func (v Value) resolve(ctx *CheckContext) any {
	if v.Ref != "" {
		return resolvePath(ctx, v.Ref)
	}
	return v.Literal
}

// CustomPredicate is an injected condition. Errors and panics are
// absorbed by the evaluator and count as false.
type CustomPredicate func(ctx *CheckContext) (bool, error)

// TimeWindow constrains a time condition. All present and valid bounds
// must hold; malformed bounds are ignored.
type TimeWindow struct {
	After      string `json:"after,omitempty" yaml:"after,omitempty"`
	Before     string `json:"before,omitempty" yaml:"before,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	HourRange  []int  `json:"hour_range,omitempty" yaml:"hour_range,omitempty"` // [start, end], 0-23
}

// Condition gates a policy rule. Exactly one of the four types applies;
// the zero Condition evaluates false.
type Condition struct {
	Type        ConditionType   `json:"type" yaml:"type"`
	Field       string          `json:"field,omitempty" yaml:"field,omitempty"`
	Operator    Operator        `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value       Value           `json:"value,omitempty" yaml:"value,omitempty"`
	Values      []Value         `json:"values,omitempty" yaml:"values,omitempty"`
	Window      *TimeWindow     `json:"window,omitempty" yaml:"window,omitempty"`
	Predicate   CustomPredicate `json:"-" yaml:"-"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// Evaluator evaluates conditions against a check context. It is pure
// apart from logging custom-condition failures.
type Evaluator struct {
	log logger.Logger
}

func NewEvaluator(log logger.Logger) *Evaluator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Evaluator{log: log}
}

// Evaluate returns whether the condition holds. Decision-path failures
// (bad regex, bad IP, panicking predicate) evaluate false, never error.
func (ev *Evaluator) Evaluate(cond *Condition, ctx *CheckContext) bool {
	if cond == nil || ctx == nil {
		return false
	}
	switch cond.Type {
	case ConditionField:
		return ev.evalField(cond, ctx)
	case ConditionTime:
		return evalTimeWindow(cond.Window, ctx.Timestamp())
	case ConditionIP:
		return ev.evalIP(cond, ctx)
	case ConditionCustom:
		return ev.evalCustom(cond, ctx)
	}
	return false
}

func (ev *Evaluator) evalField(cond *Condition, ctx *CheckContext) bool {
	val := resolvePath(ctx, cond.Field)
	switch cond.Operator {
	case OpEq:
		return equal(val, cond.Value.resolve(ctx))
	case OpNeq:
		return !equal(val, cond.Value.resolve(ctx))
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(val)
		b, bok := toFloat(cond.Value.resolve(ctx))
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		return ev.membership(cond, ctx, val)
	case OpNotIn:
		return !ev.membership(cond, ctx, val)
	case OpContains:
		return containsValue(val, cond.Value.resolve(ctx))
	case OpStartsWith:
		s, ok := val.(string)
		p, pok := cond.Value.resolve(ctx).(string)
		return ok && pok && strings.HasPrefix(s, p)
	case OpEndsWith:
		s, ok := val.(string)
		p, pok := cond.Value.resolve(ctx).(string)
		return ok && pok && strings.HasSuffix(s, p)
	case OpMatches:
		s, ok := val.(string)
		if !ok {
			return false
		}
		pattern, pok := cond.Value.resolve(ctx).(string)
		if !pok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case OpExists:
		return val != nil
	case OpNotExists:
		return val == nil
	}
	return false
}

func (ev *Evaluator) membership(cond *Condition, ctx *CheckContext, val any) bool {
	for _, item := range membershipValues(cond, ctx) {
		if equal(val, item) {
			return true
		}
	}
	return false
}

func membershipValues(cond *Condition, ctx *CheckContext) []any {
	if len(cond.Values) > 0 {
		out := make([]any, 0, len(cond.Values))
		for _, v := range cond.Values {
			out = append(out, v.resolve(ctx))
		}
		return out
	}
	switch vv := cond.Value.resolve(ctx).(type) {
	case []any:
		return vv
	case []string:
		out := make([]any, 0, len(vv))
		for _, s := range vv {
			out = append(out, s)
		}
		return out
	case nil:
		return nil
	default:
		return []any{vv}
	}
}

func (ev *Evaluator) evalIP(cond *Condition, ctx *CheckContext) bool {
	field := cond.Field
	if field == "" {
		field = "environment.ip"
	}
	ip, _ := resolvePath(ctx, field).(string)
	switch cond.Operator {
	case OpEq:
		pattern, _ := cond.Value.resolve(ctx).(string)
		return MatchIP(ip, pattern)
	case OpIn:
		return ev.ipMembership(cond, ctx, ip)
	case OpNotIn:
		return !ev.ipMembership(cond, ctx, ip)
	}
	return false
}

func (ev *Evaluator) ipMembership(cond *Condition, ctx *CheckContext, ip string) bool {
	for _, item := range membershipValues(cond, ctx) {
		if pattern, ok := item.(string); ok && MatchIP(ip, pattern) {
			return true
		}
	}
	return false
}

func (ev *Evaluator) evalCustom(cond *Condition, ctx *CheckContext) (result bool) {
	if cond.Predicate == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ev.log.Error("custom condition panicked", "condition", cond.Description, "panic", fmt.Sprint(r))
			result = false
		}
	}()
	ok, err := cond.Predicate(ctx)
	if err != nil {
		ev.log.Error("custom condition failed", "condition", cond.Description, "error", err.Error())
		return false
	}
	return ok
}

// MatchIP reports whether an IPv4 address matches a pattern: an exact
// address, a CIDR block (mask containment, never string prefix), or an
// octet wildcard like "192.168.1.*". Invalid addresses never match.
func MatchIP(ip, pattern string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return false
	}
	if strings.Contains(pattern, "/") {
		_, block, err := net.ParseCIDR(pattern)
		if err != nil {
			return false
		}
		return block.Contains(parsed)
	}
	if strings.Contains(pattern, "*") {
		ipOctets := strings.Split(ip, ".")
		patOctets := strings.Split(pattern, ".")
		if len(ipOctets) != 4 || len(patOctets) != 4 {
			return false
		}
		for i, p := range patOctets {
			if p == "*" {
				continue
			}
			if p != ipOctets[i] {
				return false
			}
		}
		return true
	}
	exact := net.ParseIP(pattern)
	return exact != nil && exact.Equal(parsed)
}

func evalTimeWindow(w *TimeWindow, at time.Time) bool {
	if w == nil {
		return false
	}
	if w.After != "" {
		if bound, err := time.Parse(time.RFC3339, w.After); err == nil && at.Before(bound) {
			return false
		}
	}
	if w.Before != "" {
		if bound, err := time.Parse(time.RFC3339, w.Before); err == nil && !at.Before(bound) {
			return false
		}
	}
	if len(w.DaysOfWeek) > 0 {
		valid := false
		match := false
		for _, d := range w.DaysOfWeek {
			if d < 0 || d > 6 {
				continue
			}
			valid = true
			if int(at.Weekday()) == d {
				match = true
			}
		}
		if valid && !match {
			return false
		}
	}
	if len(w.HourRange) == 2 {
		start, end := w.HourRange[0], w.HourRange[1]
		if start >= 0 && end <= 23 && start <= end {
			h := at.Hour()
			if h < start || h > end {
				return false
			}
		}
	}
	return true
}

// resolvePath resolves a dotted path rooted at subject, tenant,
// resource, request, or environment against the check context.
func resolvePath(ctx *CheckContext, path string) any {
	root, rest, _ := strings.Cut(path, ".")
	switch root {
	case "subject":
		return subjectField(ctx.Subject, rest)
	case "tenant":
		return tenantField(ctx.Tenant, rest)
	case "resource":
		if rest == "" {
			return ctx.Resource
		}
		return nil
	case "action":
		return ctx.Action
	case "request":
		return mapField(ctx.Request, rest)
	case "environment":
		return mapField(ctx.Environment, rest)
	}
	return nil
}

func subjectField(s *SubjectContext, field string) any {
	if s == nil {
		return nil
	}
	switch field {
	case "id":
		return s.ID
	case "type":
		return string(s.Type)
	case "roles":
		return s.Roles
	case "permissions":
		return s.Permissions
	}
	return nil
}

func tenantField(t *TenantContext, field string) any {
	if t == nil {
		return nil
	}
	switch field {
	case "id":
		return t.ID
	case "name":
		return t.Name
	case "status":
		return string(t.Status)
	}
	if rest, ok := strings.CutPrefix(field, "metadata."); ok {
		return mapField(t.Metadata, rest)
	}
	return nil
}

func mapField(m map[string]any, path string) any {
	if m == nil || path == "" {
		return nil
	}
	head, rest, more := strings.Cut(path, ".")
	v, ok := m[head]
	if !ok {
		return nil
	}
	if !more {
		return v
	}
	if nested, ok := v.(map[string]any); ok {
		return mapField(nested, rest)
	}
	return nil
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && av == bs
	case bool:
		bb, ok := b.(bool)
		return ok && av == bb
	case []string:
		// slice-vs-scalar equality means membership (mirrors role lists)
		if bs, ok := b.(string); ok {
			for _, s := range av {
				if s == bs {
					return true
				}
			}
		}
		return false
	}
	return false
}

func containsValue(val, needle any) bool {
	switch v := val.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(v, n)
	case []string:
		for _, s := range v {
			if equal(s, needle) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if equal(item, needle) {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
