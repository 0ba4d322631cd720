package permit

import (
	"errors"
	"testing"
)

func TestRegisterResourceDerivesCodes(t *testing.T) {
	reg := NewRegistry()
	err := reg.RegisterResource(&ResourceDefinition{
		Name:     "order",
		Features: ResourceFeatures{Create: true, Read: true, Update: true, Delete: true},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	codes := reg.PermissionCodes("order")
	if len(codes) != 4 {
		t.Fatalf("expected 4 codes, got %d: %v", len(codes), codes)
	}
	want := map[string]bool{"order:create": true, "order:read": true, "order:update": true, "order:delete": true}
	for _, c := range codes {
		if !want[c] {
			t.Fatalf("unexpected code %s", c)
		}
	}
}

func TestRegisterResourceWithList(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterResource(&ResourceDefinition{
		Name:     "invoice",
		Features: ResourceFeatures{Create: true, Read: true, Update: true, Delete: true, List: true},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := len(reg.PermissionCodes("invoice")); got != 5 {
		t.Fatalf("expected 5 codes, got %d", got)
	}
}

func TestExplicitPermissionOverridesGenerated(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterResource(&ResourceDefinition{
		Name:     "report",
		Features: ResourceFeatures{Read: true},
		Permissions: []PermissionDefinition{
			{Action: "read", Code: "report:view"},
			{Action: "export"},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	codes := reg.PermissionCodes("report")
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %v", codes)
	}
	seen := map[string]bool{}
	for _, c := range codes {
		seen[c] = true
	}
	if !seen["report:view"] || !seen["report:export"] {
		t.Fatalf("explicit entries should win: %v", codes)
	}
	if seen["report:read"] {
		t.Fatalf("generated code must be overridden: %v", codes)
	}
}

func TestRegistryFreeze(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterResource(&ResourceDefinition{Name: "user", Features: ResourceFeatures{Read: true}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Freeze()
	err := reg.RegisterResource(&ResourceDefinition{Name: "late", Features: ResourceFeatures{Read: true}})
	if !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestRegistryInvalidName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"", "1order", "or der", "order-x"} {
		err := reg.RegisterResource(&ResourceDefinition{Name: name, Features: ResourceFeatures{Read: true}})
		if !errors.Is(err, ErrInvalidResource) {
			t.Fatalf("name %q: expected ErrInvalidResource, got %v", name, err)
		}
	}
}

func TestAllPermissionCodesDeduplicated(t *testing.T) {
	reg := NewRegistry()
	_ = reg.RegisterResource(&ResourceDefinition{Name: "a", Features: ResourceFeatures{Read: true}})
	_ = reg.RegisterResource(&ResourceDefinition{
		Name:        "b",
		Permissions: []PermissionDefinition{{Action: "read", Code: "a:read"}},
	})
	codes := reg.AllPermissionCodes()
	if len(codes) != 1 || codes[0] != "a:read" {
		t.Fatalf("expected deduplicated union, got %v", codes)
	}
}

func TestStoredDefinitionIsIsolated(t *testing.T) {
	reg := NewRegistry()
	def := &ResourceDefinition{
		Name:     "doc",
		Features: ResourceFeatures{Read: true},
		Metadata: map[string]any{"hooks": "none"},
	}
	if err := reg.RegisterResource(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	def.Metadata["hooks"] = "mutated"

	got, ok := reg.GetResource("doc")
	if !ok {
		t.Fatalf("resource missing")
	}
	if got.Metadata["hooks"] != "none" {
		t.Fatalf("caller mutation leaked into stored definition")
	}
	got.Metadata["hooks"] = "mutated-again"
	again, _ := reg.GetResource("doc")
	if again.Metadata["hooks"] != "none" {
		t.Fatalf("returned copy mutation leaked into stored definition")
	}
}
