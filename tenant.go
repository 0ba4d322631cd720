package permit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantDeleted   TenantStatus = "deleted"
)

// TenantContext identifies the tenant an authorization decision is
// scoped to. Only active tenants pass authorization.
type TenantContext struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Status   TenantStatus   `json:"status" yaml:"status"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsActive reports whether the tenant may pass authorization.
func (t *TenantContext) IsActive() bool {
	return t != nil && t.Status == TenantActive
}

// Validate checks the structural contract of the tenant context.
func (t *TenantContext) Validate() error {
	if t == nil {
		return ErrMissingTenant
	}
	if t.ID == "" {
		return wrapErr(ErrInvalidTenant, "empty tenant id")
	}
	return nil
}

type tenantContextKey struct{}

// WithTenant derives a context carrying tc as the ambient tenant. The
// parent context is untouched, so nested activations restore the prior
// tenant simply by returning, error or not, and concurrent goroutines
// each observe only the context they were handed.
func WithTenant(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantFrom returns the ambient tenant, or false when none is active.
func TenantFrom(ctx context.Context) (*TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey{}).(*TenantContext)
	return tc, ok && tc != nil
}

// MustTenantFrom returns the ambient tenant or ErrMissingTenant.
func MustTenantFrom(ctx context.Context) (*TenantContext, error) {
	tc, ok := TenantFrom(ctx)
	if !ok {
		return nil, ErrMissingTenant
	}
	return tc, nil
}

// RunWithTenant executes fn under tc. fn receives the derived context;
// the caller's context is never mutated, so the previous activation is
// in effect again as soon as RunWithTenant returns.
func RunWithTenant(ctx context.Context, tc *TenantContext, fn func(ctx context.Context) error) error {
	return fn(WithTenant(ctx, tc))
}

// TenantStore persists tenants. Implementations live outside the core;
// MemoryTenantStore and stores.SQLTenantStore are provided.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *TenantContext) error
	UpdateTenant(ctx context.Context, t *TenantContext) error
	DeleteTenant(ctx context.Context, id string) error
	GetTenant(ctx context.Context, id string) (*TenantContext, error)
	ListTenants(ctx context.Context) ([]*TenantContext, error)
}

// MemoryTenantStore is an in-memory TenantStore.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*TenantContext
}

func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]*TenantContext)}
}

func (s *MemoryTenantStore) CreateTenant(ctx context.Context, t *TenantContext) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; ok {
		return fmt.Errorf("tenant already exists: %s", t.ID)
	}
	s.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (s *MemoryTenantStore) UpdateTenant(ctx context.Context, t *TenantContext) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return &Error{Err: ErrTenantNotFound, TenantID: t.ID}
	}
	s.tenants[t.ID] = cloneTenant(t)
	return nil
}

func (s *MemoryTenantStore) DeleteTenant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[id]; !ok {
		return &Error{Err: ErrTenantNotFound, TenantID: id}
	}
	delete(s.tenants, id)
	return nil
}

func (s *MemoryTenantStore) GetTenant(ctx context.Context, id string) (*TenantContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, &Error{Err: ErrTenantNotFound, TenantID: id}
	}
	return cloneTenant(t), nil
}

func (s *MemoryTenantStore) ListTenants(ctx context.Context) ([]*TenantContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*TenantContext, 0, len(s.tenants))
	for _, t := range s.tenants {
		result = append(result, cloneTenant(t))
	}
	return result, nil
}

func cloneTenant(t *TenantContext) *TenantContext {
	if t == nil {
		return nil
	}
	dup := *t
	if t.Metadata != nil {
		dup.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

// SubjectType classifies the requesting entity.
type SubjectType string

const (
	SubjectUser    SubjectType = "user"
	SubjectService SubjectType = "service"
	SubjectSystem  SubjectType = "system"
	SubjectGroup   SubjectType = "group"
)

// SubjectContext identifies who is requesting access. Type system is a
// universal bypass in the checker.
type SubjectContext struct {
	ID          string      `json:"id" yaml:"id"`
	Type        SubjectType `json:"type" yaml:"type"`
	Roles       []string    `json:"roles,omitempty" yaml:"roles,omitempty"`
	Permissions []string    `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// CheckContext is the input of one authorization decision. The
// requested permission code is Resource + ":" + Action.
type CheckContext struct {
	Tenant      *TenantContext  `json:"tenant"`
	Subject     *SubjectContext `json:"subject"`
	Resource    string          `json:"resource"`
	Action      string          `json:"action"`
	RequestedAt time.Time       `json:"requested_at,omitempty"`
	Request     map[string]any  `json:"request,omitempty"`
	Environment map[string]any  `json:"environment,omitempty"`
}

// Permission returns the requested permission code.
func (c *CheckContext) Permission() string {
	return c.Resource + ":" + c.Action
}

// Timestamp returns the request time, defaulting to now.
func (c *CheckContext) Timestamp() time.Time {
	if c.RequestedAt.IsZero() {
		return time.Now()
	}
	return c.RequestedAt
}
