package permit

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestWithTenantNesting(t *testing.T) {
	outer := &TenantContext{ID: "outer", Status: TenantActive}
	inner := &TenantContext{ID: "inner", Status: TenantActive}

	ctx := WithTenant(context.Background(), outer)
	err := RunWithTenant(ctx, inner, func(ctx context.Context) error {
		got, ok := TenantFrom(ctx)
		if !ok || got.ID != "inner" {
			t.Fatalf("inner activation not visible: %v %v", got, ok)
		}
		return errors.New("inner failure")
	})
	if err == nil || err.Error() != "inner failure" {
		t.Fatalf("fn error must propagate: %v", err)
	}
	got, ok := TenantFrom(ctx)
	if !ok || got.ID != "outer" {
		t.Fatalf("outer activation must survive the nested run: %v %v", got, ok)
	}
}

func TestTenantFromEmptyContext(t *testing.T) {
	if _, ok := TenantFrom(context.Background()); ok {
		t.Fatalf("empty context should have no tenant")
	}
	if _, err := MustTenantFrom(context.Background()); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}

func TestWithTenantConcurrentIsolation(t *testing.T) {
	base := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := "a"
		if i%2 == 1 {
			id = "b"
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ctx := WithTenant(base, &TenantContext{ID: id, Status: TenantActive})
			for j := 0; j < 100; j++ {
				got, ok := TenantFrom(ctx)
				if !ok || got.ID != id {
					t.Errorf("goroutine observed foreign tenant: got %v want %s", got, id)
					return
				}
			}
		}(id)
	}
	wg.Wait()
}

func TestTenantValidate(t *testing.T) {
	var nilTenant *TenantContext
	if err := nilTenant.Validate(); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("nil tenant: %v", err)
	}
	if err := (&TenantContext{}).Validate(); !errors.Is(err, ErrInvalidTenant) {
		t.Fatalf("empty id: %v", err)
	}
	if err := (&TenantContext{ID: "t1"}).Validate(); err != nil {
		t.Fatalf("valid tenant: %v", err)
	}
}

func TestTenantIsActive(t *testing.T) {
	if (&TenantContext{ID: "t1", Status: TenantSuspended}).IsActive() {
		t.Fatalf("suspended tenant must not be active")
	}
	if !(&TenantContext{ID: "t1", Status: TenantActive}).IsActive() {
		t.Fatalf("active tenant reported inactive")
	}
	var nilTenant *TenantContext
	if nilTenant.IsActive() {
		t.Fatalf("nil tenant must not be active")
	}
}

func TestMemoryTenantStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTenantStore()

	tenant := &TenantContext{ID: "t1", Name: "Acme", Status: TenantActive, Metadata: map[string]any{"plan": "gold"}}
	if err := store.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateTenant(ctx, tenant); err == nil {
		t.Fatalf("duplicate create must fail")
	}

	// writes after create must not leak into the store
	tenant.Metadata["plan"] = "free"
	got, err := store.GetTenant(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["plan"] != "gold" {
		t.Fatalf("store must hold its own copy, got %v", got.Metadata)
	}

	got.Status = TenantSuspended
	if err := store.UpdateTenant(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, _ := store.GetTenant(ctx, "t1")
	if after.Status != TenantSuspended {
		t.Fatalf("update not applied: %+v", after)
	}

	if err := store.UpdateTenant(ctx, &TenantContext{ID: "absent"}); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}

	all, err := store.ListTenants(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list: %v %d", err, len(all))
	}

	if err := store.DeleteTenant(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetTenant(ctx, "t1"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound after delete, got %v", err)
	}
}
