package permit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the declarative bootstrap shape: tenants, resources,
// policies, roles, and bindings loaded at startup.
type Config struct {
	Version   uint16                `json:"version" yaml:"version"`
	Tenants   []*TenantContext      `json:"tenants,omitempty" yaml:"tenants,omitempty"`
	Resources []*ResourceDefinition `json:"resources,omitempty" yaml:"resources,omitempty"`
	Policies  []*PolicyDefinition   `json:"policies,omitempty" yaml:"policies,omitempty"`
	Roles     []*RoleDefinition     `json:"roles,omitempty" yaml:"roles,omitempty"`
	Bindings  []*RoleBinding        `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	Engine    EngineConfig          `json:"engine,omitempty" yaml:"engine,omitempty"`
}

type EngineConfig struct {
	PermissionCacheTTLMs int64 `json:"permission_cache_ttl_ms,omitempty" yaml:"permission_cache_ttl_ms,omitempty"`
	FreezeRegistry       bool  `json:"freeze_registry,omitempty" yaml:"freeze_registry,omitempty"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the decoder from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
}

// ToYAML exports the config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports the config to indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate runs the configuration-time checks without touching any
// engine: resource names, policy structure, role structure.
func (c *Config) Validate() error {
	reg := NewRegistry()
	for _, res := range c.Resources {
		if err := reg.RegisterResource(res); err != nil {
			return err
		}
	}
	if _, err := CompilePolicies(c.Policies); err != nil {
		return err
	}
	for _, role := range c.Roles {
		if err := validateRole(role); err != nil {
			return err
		}
	}
	for _, t := range c.Tenants {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes a configuration for tooling.
type ConfigStats struct {
	Tenants         int `json:"tenants"`
	Resources       int `json:"resources"`
	PermissionCodes int `json:"permission_codes"`
	Policies        int `json:"policies"`
	Rules           int `json:"rules"`
	Roles           int `json:"roles"`
	Bindings        int `json:"bindings"`
}

func (c *Config) Stats() ConfigStats {
	stats := ConfigStats{
		Tenants:   len(c.Tenants),
		Resources: len(c.Resources),
		Policies:  len(c.Policies),
		Roles:     len(c.Roles),
		Bindings:  len(c.Bindings),
	}
	reg := NewRegistry()
	for _, res := range c.Resources {
		_ = reg.RegisterResource(res)
	}
	stats.PermissionCodes = len(reg.AllPermissionCodes())
	for _, p := range c.Policies {
		stats.Rules += len(p.Rules)
	}
	return stats
}

// Apply wires the configuration into explicitly constructed components.
// Nothing is applied past the first error; configuration failures are
// loud, not degraded.
func (c *Config) Apply(ctx context.Context, reg *Registry, engine *PolicyEngine, resolver *Resolver, tenants TenantStore) error {
	for _, t := range c.Tenants {
		if tenants == nil {
			break
		}
		if err := tenants.CreateTenant(ctx, t); err != nil {
			return fmt.Errorf("apply tenant %s: %w", t.ID, err)
		}
	}
	for _, res := range c.Resources {
		if reg == nil {
			break
		}
		if err := reg.RegisterResource(res); err != nil {
			return fmt.Errorf("apply resource %s: %w", res.Name, err)
		}
	}
	if engine != nil && len(c.Policies) > 0 {
		if err := engine.LoadPolicies(c.Policies); err != nil {
			return fmt.Errorf("apply policies: %w", err)
		}
	}
	if resolver != nil {
		for _, role := range c.Roles {
			if err := resolver.CreateRole(ctx, role); err != nil {
				return fmt.Errorf("apply role %s: %w", role.ID, err)
			}
		}
		for _, b := range c.Bindings {
			if err := resolver.Bind(ctx, b); err != nil {
				return fmt.Errorf("apply binding %s: %w", b.ID, err)
			}
		}
	}
	if c.Engine.FreezeRegistry && reg != nil {
		reg.Freeze()
	}
	return nil
}
