package permit

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// ResourceFeatures marks which standard actions a resource supports.
// Each enabled feature mints the permission code "<name>:<action>".
type ResourceFeatures struct {
	Create bool `json:"create" yaml:"create"`
	Read   bool `json:"read" yaml:"read"`
	Update bool `json:"update" yaml:"update"`
	Delete bool `json:"delete" yaml:"delete"`
	List   bool `json:"list" yaml:"list"`
}

// PermissionDefinition is an explicit permission entry on a resource.
// An explicit entry overrides the feature-generated code for the same action.
type PermissionDefinition struct {
	Action      string `json:"action" yaml:"action"`
	Code        string `json:"code,omitempty" yaml:"code,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ResourceDefinition declares a resource and the permissions it mints.
type ResourceDefinition struct {
	Name        string                 `json:"name" yaml:"name"`
	Features    ResourceFeatures       `json:"features" yaml:"features"`
	Permissions []PermissionDefinition `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy so extending one stored definition (hooks,
// metadata) can never mutate another.
func (r *ResourceDefinition) Clone() *ResourceDefinition {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Permissions = append([]PermissionDefinition(nil), r.Permissions...)
	if r.Metadata != nil {
		dup.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

var resourceNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var featureActions = []string{"create", "read", "update", "delete", "list"}

// Registry is the single source of truth for permission codes: new
// resource-derived codes are minted nowhere else.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*ResourceDefinition
	codes     map[string][]string // resource name -> derived codes
	frozen    bool
}

func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]*ResourceDefinition),
		codes:     make(map[string][]string),
	}
}

// RegisterResource validates and stores a resource definition, deriving
// its permission codes. Registering after Freeze is a programming
// error and fails with ErrRegistryFrozen.
func (r *Registry) RegisterResource(def *ResourceDefinition) error {
	if def == nil {
		return wrapErr(ErrInvalidResource, "nil definition")
	}
	if !resourceNameRe.MatchString(def.Name) {
		return wrapErr(ErrInvalidResource, fmt.Sprintf("invalid resource name %q", def.Name))
	}
	codes, err := deriveCodes(def)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return wrapErr(ErrRegistryFrozen, fmt.Sprintf("cannot register resource %q", def.Name))
	}
	if _, ok := r.resources[def.Name]; ok {
		return wrapErr(ErrInvalidResource, fmt.Sprintf("resource already registered: %s", def.Name))
	}
	r.resources[def.Name] = def.Clone()
	r.codes[def.Name] = codes
	return nil
}

func deriveCodes(def *ResourceDefinition) ([]string, error) {
	enabled := map[string]bool{
		"create": def.Features.Create,
		"read":   def.Features.Read,
		"update": def.Features.Update,
		"delete": def.Features.Delete,
		"list":   def.Features.List,
	}
	byAction := make(map[string]string)
	order := make([]string, 0, len(featureActions)+len(def.Permissions))
	for _, action := range featureActions {
		if enabled[action] {
			byAction[action] = def.Name + ":" + action
			order = append(order, action)
		}
	}
	for _, p := range def.Permissions {
		if p.Action == "" {
			return nil, wrapErr(ErrInvalidResource, fmt.Sprintf("resource %s: permission entry without action", def.Name))
		}
		code := p.Code
		if code == "" {
			code = def.Name + ":" + p.Action
		}
		if _, ok := byAction[p.Action]; !ok {
			order = append(order, p.Action)
		}
		byAction[p.Action] = code
	}
	codes := make([]string, 0, len(order))
	for _, action := range order {
		codes = append(codes, byAction[action])
	}
	return codes, nil
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the registry accepts further registration.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// GetResource returns a copy of the stored definition.
func (r *Registry) GetResource(name string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.resources[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

// PermissionCodes returns the derived codes for one resource.
func (r *Registry) PermissionCodes(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.codes[name]...)
}

// AllPermissionCodes returns the deduplicated, sorted union of every
// registered resource's permission codes. This is the only legitimate
// enumeration of known permissions.
func (r *Registry) AllPermissionCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	all := make([]string, 0)
	for _, codes := range r.codes {
		for _, c := range codes {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			all = append(all, c)
		}
	}
	sort.Strings(all)
	return all
}
