package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLPolicyStore is the policy persistence boundary: the engine holds
// compiled policies in memory and sources definitions from here at
// startup.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) SavePolicy(ctx context.Context, p *permit.PolicyDefinition) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	rules, _ := json.Marshal(p.Rules)
	q := `INSERT INTO policies(id, name, tenant_id, priority, enabled, rules_json, created_at, updated_at)
	      VALUES(:id, :name, :tenant_id, :priority, :enabled, :rules_json, :created_at, :updated_at)`
	now := time.Now()
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "name": p.Name, "tenant_id": p.TenantID, "priority": string(p.Priority),
		"enabled": p.Enabled, "rules_json": string(rules), "created_at": now, "updated_at": now,
	})
	return err
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	q := `DELETE FROM policies WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

// ListPolicies returns the definitions scoped to a tenant plus the
// global ones, ready for PolicyEngine.LoadPolicies.
func (s *SQLPolicyStore) ListPolicies(ctx context.Context, tenantID string) ([]*permit.PolicyDefinition, error) {
	q := `SELECT id, name, tenant_id, priority, enabled, rules_json FROM policies WHERE tenant_id = :tenant_id OR tenant_id = '' ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]*permit.PolicyDefinition, 0)
	for rows.Next() {
		var id, name, tenant, priority, rulesJSON string
		var enabled bool
		if err := rows.Scan(&id, &name, &tenant, &priority, &enabled, &rulesJSON); err != nil {
			return nil, err
		}
		def := &permit.PolicyDefinition{
			ID:       id,
			Name:     name,
			TenantID: tenant,
			Priority: permit.Priority(priority),
			Enabled:  enabled,
		}
		if err := json.Unmarshal([]byte(rulesJSON), &def.Rules); err != nil {
			return nil, fmt.Errorf("policy %s: decode rules: %w", id, err)
		}
		result = append(result, def)
	}
	return result, nil
}
