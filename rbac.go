package permit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/utils"
)

// RoleType classifies a role definition.
type RoleType string

const (
	RoleSystem   RoleType = "system"
	RoleCustom   RoleType = "custom"
	RoleTemplate RoleType = "template"
)

// RoleStatus is the lifecycle state of a role.
type RoleStatus string

const (
	RoleActive   RoleStatus = "active"
	RoleInactive RoleStatus = "inactive"
	RoleArchived RoleStatus = "archived"
)

// RoleDefinition is a named, inheritable bundle of permission patterns.
type RoleDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	TenantID    string         `json:"tenant_id" yaml:"tenant_id"`
	Name        string         `json:"name" yaml:"name"`
	Type        RoleType       `json:"type" yaml:"type"`
	Status      RoleStatus     `json:"status" yaml:"status"`
	Permissions []string       `json:"permissions" yaml:"permissions"`
	Inherits    []string       `json:"inherits,omitempty" yaml:"inherits,omitempty"` // role ids
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy of the role definition.
func (r *RoleDefinition) Clone() *RoleDefinition {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Permissions = append([]string(nil), r.Permissions...)
	dup.Inherits = append([]string(nil), r.Inherits...)
	if r.Metadata != nil {
		dup.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

// RoleUpdate is a partial role mutation: only non-nil fields change.
// ID and TenantID are immutable.
type RoleUpdate struct {
	Name        *string
	Status      *RoleStatus
	Permissions *[]string
	Inherits    *[]string
	Metadata    *map[string]any
}

// RoleBinding assigns a role to a subject, optionally time-limited.
type RoleBinding struct {
	ID          string         `json:"id" yaml:"id"`
	TenantID    string         `json:"tenant_id" yaml:"tenant_id"`
	RoleID      string         `json:"role_id" yaml:"role_id"`
	SubjectType SubjectType    `json:"subject_type" yaml:"subject_type"`
	SubjectID   string         `json:"subject_id" yaml:"subject_id"`
	ExpiresAt   time.Time      `json:"expires_at,omitempty" yaml:"expires_at,omitempty"` // zero = no expiry
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Expired reports whether the binding is inert at the given instant.
func (b *RoleBinding) Expired(at time.Time) bool {
	return !b.ExpiresAt.IsZero() && at.After(b.ExpiresAt)
}

// EffectivePermissions is the flattened permission set for a subject.
// It is a cache entry, not a source of truth.
type EffectivePermissions struct {
	TenantID    string              `json:"tenant_id"`
	SubjectID   string              `json:"subject_id"`
	SubjectType SubjectType         `json:"subject_type"`
	Roles       []string            `json:"roles"`
	Permissions map[string]struct{} `json:"permissions"`
	ComputedAt  time.Time           `json:"computed_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// RoleStore persists role definitions per tenant.
type RoleStore interface {
	CreateRole(ctx context.Context, r *RoleDefinition) error
	UpdateRole(ctx context.Context, r *RoleDefinition) error
	DeleteRole(ctx context.Context, tenantID, id string) error
	GetRole(ctx context.Context, tenantID, id string) (*RoleDefinition, error)
	ListRoles(ctx context.Context, tenantID string) ([]*RoleDefinition, error)
}

// BindingStore persists role bindings per tenant.
type BindingStore interface {
	CreateBinding(ctx context.Context, b *RoleBinding) error
	DeleteBinding(ctx context.Context, tenantID, id string) error
	ListBindingsForSubject(ctx context.Context, tenantID string, subjectType SubjectType, subjectID string) ([]*RoleBinding, error)
	ListBindingsForRole(ctx context.Context, tenantID, roleID string) ([]*RoleBinding, error)
}

// System roles exist outside tenant storage, are immutable, and are
// materialized with the calling tenant's id on read.
var systemRoles = map[string]*RoleDefinition{
	"super_admin": {
		ID:          "super_admin",
		Name:        "Super Administrator",
		Type:        RoleSystem,
		Status:      RoleActive,
		Permissions: []string{"*"},
	},
	"tenant_admin": {
		ID:          "tenant_admin",
		Name:        "Tenant Administrator",
		Type:        RoleSystem,
		Status:      RoleActive,
		Permissions: []string{"*"},
	},
	"viewer": {
		ID:          "viewer",
		Name:        "Viewer",
		Type:        RoleSystem,
		Status:      RoleActive,
		Permissions: []string{"*:read", "*:list"},
	},
}

// SystemRole materializes a system role for a tenant, or nil.
func SystemRole(tenantID, id string) *RoleDefinition {
	r, ok := systemRoles[id]
	if !ok {
		return nil
	}
	dup := r.Clone()
	dup.TenantID = tenantID
	return dup
}

// Resolver computes effective permissions by walking role inheritance,
// with a ristretto TTL cache invalidated on every mutation.
type Resolver struct {
	roles    RoleStore
	bindings BindingStore
	cache    *ristretto.Cache
	ttl      time.Duration
	log      logger.Logger

	// generation counters make invalidation atomic: bumping one orphans
	// every cache entry minted under the previous generation
	genMu      sync.RWMutex
	tenantGen  map[string]uint64
	subjectGen map[string]uint64
}

type ResolverOption func(*Resolver)

func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

func NewResolver(roles RoleStore, bindings BindingStore, opts ...ResolverOption) (*Resolver, error) {
	if roles == nil || bindings == nil {
		return nil, fmt.Errorf("permit: role and binding stores are required")
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("permit: init permission cache: %w", err)
	}
	r := &Resolver{
		roles:      roles,
		bindings:   bindings,
		cache:      cache,
		ttl:        5 * time.Minute,
		log:        logger.NewNullLogger(),
		tenantGen:  make(map[string]uint64),
		subjectGen: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Resolver) cacheKey(tenantID string, subjectType SubjectType, subjectID string) string {
	r.genMu.RLock()
	tg := r.tenantGen[tenantID]
	sg := r.subjectGen[tenantID+"/"+subjectID]
	r.genMu.RUnlock()
	return fmt.Sprintf("ep:%s:%d:%s:%s:%d", tenantID, tg, subjectType, subjectID, sg)
}

// InvalidateTenant drops every cached entry for the tenant.
func (r *Resolver) InvalidateTenant(tenantID string) {
	r.genMu.Lock()
	r.tenantGen[tenantID]++
	r.genMu.Unlock()
}

// InvalidateSubject drops the cached entry for one subject.
func (r *Resolver) InvalidateSubject(tenantID, subjectID string) {
	r.genMu.Lock()
	r.subjectGen[tenantID+"/"+subjectID]++
	r.genMu.Unlock()
}

// getRole reads a tenant role, falling back to materialized system
// roles only on a definitive miss. Any other store failure propagates;
// it must not be masked as a successful system-role read.
func (r *Resolver) getRole(ctx context.Context, tenantID, id string) (*RoleDefinition, error) {
	role, err := r.roles.GetRole(ctx, tenantID, id)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}
	if sys := SystemRole(tenantID, id); sys != nil {
		return sys, nil
	}
	return nil, &Error{Err: ErrRoleNotFound, TenantID: tenantID, Message: id}
}

// GetEffectivePermissions returns the flattened permission set for a
// subject, cached with a TTL and invalidated on mutation.
func (r *Resolver) GetEffectivePermissions(ctx context.Context, tenantID string, subjectType SubjectType, subjectID string) (*EffectivePermissions, error) {
	key := r.cacheKey(tenantID, subjectType, subjectID)
	if cached, ok := r.cache.Get(key); ok {
		if ep, ok := cached.(*EffectivePermissions); ok && time.Now().Before(ep.ExpiresAt) {
			return ep, nil
		}
	}

	binds, err := r.bindings.ListBindingsForSubject(ctx, tenantID, subjectType, subjectID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	ep := &EffectivePermissions{
		TenantID:    tenantID,
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Roles:       make([]string, 0, len(binds)),
		Permissions: make(map[string]struct{}),
		ComputedAt:  now,
		ExpiresAt:   now.Add(r.ttl),
	}
	visited := make(map[string]bool)
	for _, b := range binds {
		if b.Expired(now) {
			continue
		}
		ep.Roles = append(ep.Roles, b.RoleID)
		if err := r.flattenRole(ctx, tenantID, b.RoleID, visited, ep.Permissions); err != nil {
			return nil, err
		}
	}
	sort.Strings(ep.Roles)

	r.cache.SetWithTTL(key, ep, 1, r.ttl)
	r.cache.Wait()
	return ep, nil
}

// flattenRole unions a role's own permissions with those of every role
// it inherits. The visited set guards against cycles that predate
// write-time validation (imported data).
func (r *Resolver) flattenRole(ctx context.Context, tenantID, roleID string, visited map[string]bool, into map[string]struct{}) error {
	if visited[roleID] {
		return nil
	}
	visited[roleID] = true
	role, err := r.getRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if role.Status != RoleActive && role.Status != "" {
		return nil
	}
	for _, p := range role.Permissions {
		into[p] = struct{}{}
	}
	for _, parent := range role.Inherits {
		if err := r.flattenRole(ctx, tenantID, parent, visited, into); err != nil {
			return err
		}
	}
	return nil
}

// RBACResult reports an RBAC check and which roles contributed.
type RBACResult struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason"`
	Roles   []string `json:"roles,omitempty"`
}

// Check matches the requested permission against the subject's
// effective set, reporting the bound roles whose flattened permissions
// produced the match.
func (r *Resolver) Check(ctx context.Context, chk *CheckContext) (*RBACResult, error) {
	if chk == nil || chk.Tenant == nil || chk.Subject == nil {
		return &RBACResult{Reason: ReasonNotGranted}, nil
	}
	ep, err := r.GetEffectivePermissions(ctx, chk.Tenant.ID, chk.Subject.Type, chk.Subject.ID)
	if err != nil {
		return nil, err
	}
	code := chk.Permission()
	if !utils.MatchAnyPermission(ep.Permissions, code) {
		return &RBACResult{Reason: ReasonNotGranted}, nil
	}
	result := &RBACResult{Allowed: true, Reason: ReasonSpecificGrant}
	if _, ok := ep.Permissions[code]; !ok {
		result.Reason = ReasonWildcardGrant
	}
	for _, roleID := range ep.Roles {
		perms := make(map[string]struct{})
		if err := r.flattenRole(ctx, chk.Tenant.ID, roleID, make(map[string]bool), perms); err != nil {
			continue
		}
		if utils.MatchAnyPermission(perms, code) {
			result.Roles = append(result.Roles, roleID)
		}
	}
	return result, nil
}

// PermissionResolver adapts the resolver to the checker's seam. The
// seam carries no subject type, so grants are unioned across every
// bindable subject type for the id; system subjects never reach the
// resolver because the checker bypasses them first.
func (r *Resolver) PermissionResolver() PermissionResolver {
	return func(ctx context.Context, tenantID, subjectID string) (map[string]struct{}, error) {
		granted := make(map[string]struct{})
		for _, st := range []SubjectType{SubjectUser, SubjectService, SubjectGroup} {
			ep, err := r.GetEffectivePermissions(ctx, tenantID, st, subjectID)
			if err != nil {
				return nil, err
			}
			for p := range ep.Permissions {
				granted[p] = struct{}{}
			}
		}
		return granted, nil
	}
}

// CreateRole validates and stores a role, rejecting cycles at write
// time and invalidating the tenant's cached permissions.
func (r *Resolver) CreateRole(ctx context.Context, role *RoleDefinition) error {
	if err := validateRole(role); err != nil {
		return err
	}
	if _, ok := systemRoles[role.ID]; ok || role.Type == RoleSystem {
		return wrapErr(ErrImmutableRole, role.ID)
	}
	if err := r.checkInheritance(ctx, role.TenantID, role.ID, role.Inherits); err != nil {
		return err
	}
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	if role.Status == "" {
		role.Status = RoleActive
	}
	if err := r.roles.CreateRole(ctx, role); err != nil {
		return err
	}
	r.InvalidateTenant(role.TenantID)
	return nil
}

// UpdateRole applies a partial update: only supplied fields change, ID
// and TenantID never do. The merged definition is re-validated before
// it replaces the stored one.
func (r *Resolver) UpdateRole(ctx context.Context, tenantID, roleID string, patch *RoleUpdate) (*RoleDefinition, error) {
	if _, ok := systemRoles[roleID]; ok {
		return nil, wrapErr(ErrImmutableRole, roleID)
	}
	existing, err := r.roles.GetRole(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	if existing.Type == RoleSystem {
		return nil, wrapErr(ErrImmutableRole, roleID)
	}
	merged := existing.Clone()
	if patch != nil {
		if patch.Name != nil {
			merged.Name = *patch.Name
		}
		if patch.Status != nil {
			merged.Status = *patch.Status
		}
		if patch.Permissions != nil {
			merged.Permissions = append([]string(nil), (*patch.Permissions)...)
		}
		if patch.Inherits != nil {
			merged.Inherits = append([]string(nil), (*patch.Inherits)...)
		}
		if patch.Metadata != nil {
			merged.Metadata = *patch.Metadata
		}
	}
	if err := validateRole(merged); err != nil {
		return nil, err
	}
	if err := r.checkInheritance(ctx, tenantID, roleID, merged.Inherits); err != nil {
		return nil, err
	}
	merged.UpdatedAt = time.Now()
	if err := r.roles.UpdateRole(ctx, merged); err != nil {
		return nil, err
	}
	r.InvalidateTenant(tenantID)
	return merged, nil
}

// DeleteRole removes a role unless other roles still inherit from it.
func (r *Resolver) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	if _, ok := systemRoles[roleID]; ok {
		return wrapErr(ErrImmutableRole, roleID)
	}
	all, err := r.roles.ListRoles(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.ID == roleID {
			continue
		}
		for _, inh := range other.Inherits {
			if inh == roleID {
				return &Error{Err: ErrRoleInUse, TenantID: tenantID, Message: fmt.Sprintf("%s is inherited by %s", roleID, other.ID)}
			}
		}
	}
	if err := r.roles.DeleteRole(ctx, tenantID, roleID); err != nil {
		return err
	}
	r.InvalidateTenant(tenantID)
	return nil
}

// Bind assigns a role to a subject and invalidates that subject's cache.
func (r *Resolver) Bind(ctx context.Context, b *RoleBinding) error {
	if b == nil || b.TenantID == "" || b.RoleID == "" || b.SubjectID == "" {
		return wrapErr(ErrInvalidRole, "binding requires tenant, role and subject")
	}
	if _, err := r.getRole(ctx, b.TenantID, b.RoleID); err != nil {
		return err
	}
	b.CreatedAt = time.Now()
	if err := r.bindings.CreateBinding(ctx, b); err != nil {
		return err
	}
	r.InvalidateSubject(b.TenantID, b.SubjectID)
	return nil
}

// Unbind removes a binding and invalidates the affected subject.
func (r *Resolver) Unbind(ctx context.Context, tenantID, bindingID, subjectID string) error {
	if err := r.bindings.DeleteBinding(ctx, tenantID, bindingID); err != nil {
		return err
	}
	r.InvalidateSubject(tenantID, subjectID)
	return nil
}

func validateRole(role *RoleDefinition) error {
	if role == nil {
		return wrapErr(ErrInvalidRole, "nil role")
	}
	if role.ID == "" {
		return wrapErr(ErrInvalidRole, "role id is required")
	}
	if role.TenantID == "" {
		return wrapErr(ErrInvalidRole, fmt.Sprintf("role %s has no tenant", role.ID))
	}
	if role.Name == "" {
		return wrapErr(ErrInvalidRole, fmt.Sprintf("role %s has no name", role.ID))
	}
	return nil
}

// checkInheritance rejects unknown parents and cycles before a role
// write lands. Resolution-time code therefore never revalidates.
func (r *Resolver) checkInheritance(ctx context.Context, tenantID, roleID string, inherits []string) error {
	for _, parent := range inherits {
		if parent == roleID {
			return &Error{Err: ErrCyclicInheritance, TenantID: tenantID, Message: roleID + " inherits itself"}
		}
		if _, err := r.getRole(ctx, tenantID, parent); err != nil {
			return err
		}
		cyclic, err := r.reaches(ctx, tenantID, parent, roleID, make(map[string]bool))
		if err != nil {
			return err
		}
		if cyclic {
			return &Error{Err: ErrCyclicInheritance, TenantID: tenantID, Message: fmt.Sprintf("%s -> %s closes a cycle", roleID, parent)}
		}
	}
	return nil
}

// reaches walks the existing inheritance graph from start looking for target.
func (r *Resolver) reaches(ctx context.Context, tenantID, start, target string, visited map[string]bool) (bool, error) {
	if start == target {
		return true, nil
	}
	if visited[start] {
		return false, nil
	}
	visited[start] = true
	role, err := r.getRole(ctx, tenantID, start)
	if err != nil {
		return false, err
	}
	for _, parent := range role.Inherits {
		found, err := r.reaches(ctx, tenantID, parent, target, visited)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// MemoryRoleStore is an in-memory RoleStore.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]map[string]*RoleDefinition // tenant -> id -> role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]map[string]*RoleDefinition)}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *RoleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.roles[r.TenantID]
	if byID == nil {
		byID = make(map[string]*RoleDefinition)
		s.roles[r.TenantID] = byID
	}
	if _, ok := byID[r.ID]; ok {
		return wrapErr(ErrInvalidRole, fmt.Sprintf("role already exists: %s", r.ID))
	}
	for _, other := range byID {
		if other.Name == r.Name {
			return wrapErr(ErrInvalidRole, fmt.Sprintf("role name already used: %s", r.Name))
		}
	}
	byID[r.ID] = r.Clone()
	return nil
}

func (s *MemoryRoleStore) UpdateRole(ctx context.Context, r *RoleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.roles[r.TenantID]
	if byID == nil {
		return &Error{Err: ErrRoleNotFound, TenantID: r.TenantID, Message: r.ID}
	}
	if _, ok := byID[r.ID]; !ok {
		return &Error{Err: ErrRoleNotFound, TenantID: r.TenantID, Message: r.ID}
	}
	byID[r.ID] = r.Clone()
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.roles[tenantID]
	if byID == nil {
		return &Error{Err: ErrRoleNotFound, TenantID: tenantID, Message: id}
	}
	if _, ok := byID[id]; !ok {
		return &Error{Err: ErrRoleNotFound, TenantID: tenantID, Message: id}
	}
	delete(byID, id)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, tenantID, id string) (*RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byID := s.roles[tenantID]; byID != nil {
		if r, ok := byID[id]; ok {
			return r.Clone(), nil
		}
	}
	return nil, &Error{Err: ErrRoleNotFound, TenantID: tenantID, Message: id}
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.roles[tenantID]
	result := make([]*RoleDefinition, 0, len(byID))
	for _, r := range byID {
		result = append(result, r.Clone())
	}
	return result, nil
}

// MemoryBindingStore is an in-memory BindingStore.
type MemoryBindingStore struct {
	mu       sync.RWMutex
	bindings map[string]map[string]*RoleBinding // tenant -> id -> binding
}

func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{bindings: make(map[string]map[string]*RoleBinding)}
}

func (s *MemoryBindingStore) CreateBinding(ctx context.Context, b *RoleBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.bindings[b.TenantID]
	if byID == nil {
		byID = make(map[string]*RoleBinding)
		s.bindings[b.TenantID] = byID
	}
	if _, ok := byID[b.ID]; ok {
		return fmt.Errorf("binding already exists: %s", b.ID)
	}
	dup := *b
	byID[b.ID] = &dup
	return nil
}

func (s *MemoryBindingStore) DeleteBinding(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.bindings[tenantID]
	if byID == nil {
		return fmt.Errorf("binding not found: %s", id)
	}
	if _, ok := byID[id]; !ok {
		return fmt.Errorf("binding not found: %s", id)
	}
	delete(byID, id)
	return nil
}

func (s *MemoryBindingStore) ListBindingsForSubject(ctx context.Context, tenantID string, subjectType SubjectType, subjectID string) ([]*RoleBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*RoleBinding, 0)
	for _, b := range s.bindings[tenantID] {
		if b.SubjectType == subjectType && b.SubjectID == subjectID {
			dup := *b
			result = append(result, &dup)
		}
	}
	return result, nil
}

func (s *MemoryBindingStore) ListBindingsForRole(ctx context.Context, tenantID, roleID string) ([]*RoleBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*RoleBinding, 0)
	for _, b := range s.bindings[tenantID] {
		if b.RoleID == roleID {
			dup := *b
			result = append(result, &dup)
		}
	}
	return result, nil
}
