package permit

import "time"

// Builders provide a fluent API for assembling definitions in code.

// PolicyBuilder builds a PolicyDefinition.
type PolicyBuilder struct {
	p *PolicyDefinition
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &PolicyDefinition{Enabled: true, Priority: PriorityNormal}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder          { b.p.ID = id; return b }
func (b *PolicyBuilder) Name(name string) *PolicyBuilder      { b.p.Name = name; return b }
func (b *PolicyBuilder) Tenant(id string) *PolicyBuilder      { b.p.TenantID = id; return b }
func (b *PolicyBuilder) Priority(p Priority) *PolicyBuilder   { b.p.Priority = p; return b }
func (b *PolicyBuilder) Enabled(enabled bool) *PolicyBuilder  { b.p.Enabled = enabled; return b }
func (b *PolicyBuilder) Rule(r *PolicyRule) *PolicyBuilder    { b.p.Rules = append(b.p.Rules, r); return b }
func (b *PolicyBuilder) Build() *PolicyDefinition             { return b.p }

// RuleBuilder builds a PolicyRule.
type RuleBuilder struct {
	r *PolicyRule
}

func NewRuleBuilder(effect Effect) *RuleBuilder {
	return &RuleBuilder{r: &PolicyRule{Effect: effect}}
}

func (b *RuleBuilder) Permissions(codes ...string) *RuleBuilder {
	b.r.Permissions = append(b.r.Permissions, codes...)
	return b
}

func (b *RuleBuilder) Condition(c *Condition) *RuleBuilder {
	b.r.Conditions = append(b.r.Conditions, c)
	return b
}

func (b *RuleBuilder) Priority(p Priority) *RuleBuilder    { b.r.Priority = p; return b }
func (b *RuleBuilder) Describe(desc string) *RuleBuilder   { b.r.Description = desc; return b }
func (b *RuleBuilder) Build() *PolicyRule                  { return b.r }

// RoleBuilder builds a RoleDefinition.
type RoleBuilder struct {
	r *RoleDefinition
}

func NewRoleBuilder(id, tenantID string) *RoleBuilder {
	return &RoleBuilder{r: &RoleDefinition{ID: id, TenantID: tenantID, Name: id, Type: RoleCustom, Status: RoleActive}}
}

func (b *RoleBuilder) Name(name string) *RoleBuilder { b.r.Name = name; return b }

func (b *RoleBuilder) Permissions(codes ...string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, codes...)
	return b
}

func (b *RoleBuilder) Inherits(roleIDs ...string) *RoleBuilder {
	b.r.Inherits = append(b.r.Inherits, roleIDs...)
	return b
}

func (b *RoleBuilder) Status(s RoleStatus) *RoleBuilder { b.r.Status = s; return b }
func (b *RoleBuilder) Build() *RoleDefinition           { return b.r }

// ResourceBuilder builds a ResourceDefinition.
type ResourceBuilder struct {
	r *ResourceDefinition
}

func NewResourceBuilder(name string) *ResourceBuilder {
	return &ResourceBuilder{r: &ResourceDefinition{Name: name}}
}

func (b *ResourceBuilder) CRUD() *ResourceBuilder {
	b.r.Features.Create = true
	b.r.Features.Read = true
	b.r.Features.Update = true
	b.r.Features.Delete = true
	return b
}

func (b *ResourceBuilder) Features(f ResourceFeatures) *ResourceBuilder { b.r.Features = f; return b }

func (b *ResourceBuilder) Permission(action, code string) *ResourceBuilder {
	b.r.Permissions = append(b.r.Permissions, PermissionDefinition{Action: action, Code: code})
	return b
}

func (b *ResourceBuilder) Build() *ResourceDefinition { return b.r }

// BindingBuilder builds a RoleBinding.
type BindingBuilder struct {
	b *RoleBinding
}

func NewBindingBuilder(id, tenantID, roleID string) *BindingBuilder {
	return &BindingBuilder{b: &RoleBinding{ID: id, TenantID: tenantID, RoleID: roleID, SubjectType: SubjectUser}}
}

func (b *BindingBuilder) Subject(t SubjectType, id string) *BindingBuilder {
	b.b.SubjectType = t
	b.b.SubjectID = id
	return b
}

func (b *BindingBuilder) ExpiresAt(t time.Time) *BindingBuilder { b.b.ExpiresAt = t; return b }
func (b *BindingBuilder) Build() *RoleBinding                   { return b.b }
