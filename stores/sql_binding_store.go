package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLBindingStore persists role bindings in SQL (squealx).
type SQLBindingStore struct {
	db *squealx.DB
}

func NewSQLBindingStore(db *squealx.DB) *SQLBindingStore {
	return &SQLBindingStore{db: db}
}

func (s *SQLBindingStore) CreateBinding(ctx context.Context, b *permit.RoleBinding) error {
	meta, _ := json.Marshal(b.Metadata)
	q := `INSERT INTO role_bindings(id, tenant_id, role_id, subject_type, subject_id, expires_at, metadata_json, created_at)
	      VALUES(:id, :tenant_id, :role_id, :subject_type, :subject_id, :expires_at, :metadata_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": b.ID, "tenant_id": b.TenantID, "role_id": b.RoleID,
		"subject_type": string(b.SubjectType), "subject_id": b.SubjectID,
		"expires_at": sqlNullTimeOrNil(b.ExpiresAt), "metadata_json": string(meta), "created_at": b.CreatedAt,
	})
	return err
}

func (s *SQLBindingStore) DeleteBinding(ctx context.Context, tenantID, id string) error {
	q := `DELETE FROM role_bindings WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("binding not found: %s", id)
	}
	return nil
}

func (s *SQLBindingStore) ListBindingsForSubject(ctx context.Context, tenantID string, subjectType permit.SubjectType, subjectID string) ([]*permit.RoleBinding, error) {
	q := `SELECT id, tenant_id, role_id, subject_type, subject_id, expires_at, metadata_json, created_at
	      FROM role_bindings WHERE tenant_id = :tenant_id AND subject_type = :subject_type AND subject_id = :subject_id`
	return s.queryBindings(ctx, q, map[string]any{
		"tenant_id": tenantID, "subject_type": string(subjectType), "subject_id": subjectID,
	})
}

func (s *SQLBindingStore) ListBindingsForRole(ctx context.Context, tenantID, roleID string) ([]*permit.RoleBinding, error) {
	q := `SELECT id, tenant_id, role_id, subject_type, subject_id, expires_at, metadata_json, created_at
	      FROM role_bindings WHERE tenant_id = :tenant_id AND role_id = :role_id`
	return s.queryBindings(ctx, q, map[string]any{"tenant_id": tenantID, "role_id": roleID})
}

func (s *SQLBindingStore) queryBindings(ctx context.Context, q string, args map[string]any) ([]*permit.RoleBinding, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]*permit.RoleBinding, 0)
	for rows.Next() {
		var id, tenantID, roleID, subjectType, subjectID, metaJSON string
		var expiresRaw, createdRaw any
		if err := rows.Scan(&id, &tenantID, &roleID, &subjectType, &subjectID, &expiresRaw, &metaJSON, &createdRaw); err != nil {
			return nil, err
		}
		b := &permit.RoleBinding{
			ID:          id,
			TenantID:    tenantID,
			RoleID:      roleID,
			SubjectType: permit.SubjectType(subjectType),
			SubjectID:   subjectID,
			ExpiresAt:   scanTime(expiresRaw),
			CreatedAt:   scanTime(createdRaw),
		}
		_ = json.Unmarshal([]byte(metaJSON), &b.Metadata)
		result = append(result, b)
	}
	return result, nil
}
