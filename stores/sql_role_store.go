package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLRoleStore persists role definitions in SQL (squealx).
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *permit.RoleDefinition) error {
	perms, _ := json.Marshal(r.Permissions)
	inherits, _ := json.Marshal(r.Inherits)
	meta, _ := json.Marshal(r.Metadata)
	q := `INSERT INTO roles(id, tenant_id, name, type, status, permissions_json, inherits_json, metadata_json, created_at, updated_at)
	      VALUES(:id, :tenant_id, :name, :type, :status, :permissions_json, :inherits_json, :metadata_json, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "tenant_id": r.TenantID, "name": r.Name, "type": string(r.Type), "status": string(r.Status),
		"permissions_json": string(perms), "inherits_json": string(inherits), "metadata_json": string(meta),
		"created_at": r.CreatedAt, "updated_at": r.UpdatedAt,
	})
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *permit.RoleDefinition) error {
	perms, _ := json.Marshal(r.Permissions)
	inherits, _ := json.Marshal(r.Inherits)
	meta, _ := json.Marshal(r.Metadata)
	q := `UPDATE roles SET name=:name, type=:type, status=:status, permissions_json=:permissions_json, inherits_json=:inherits_json, metadata_json=:metadata_json, updated_at=:updated_at
	      WHERE tenant_id=:tenant_id AND id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "tenant_id": r.TenantID, "name": r.Name, "type": string(r.Type), "status": string(r.Status),
		"permissions_json": string(perms), "inherits_json": string(inherits), "metadata_json": string(meta),
		"updated_at": r.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &permit.Error{Err: permit.ErrRoleNotFound, TenantID: r.TenantID, Message: r.ID}
	}
	return nil
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, tenantID, id string) error {
	q := `DELETE FROM roles WHERE tenant_id = :tenant_id AND id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &permit.Error{Err: permit.ErrRoleNotFound, TenantID: tenantID, Message: id}
	}
	return nil
}

func (s *SQLRoleStore) GetRole(ctx context.Context, tenantID, id string) (*permit.RoleDefinition, error) {
	q := `SELECT id, tenant_id, name, type, status, permissions_json, inherits_json, metadata_json, created_at, updated_at
	      FROM roles WHERE tenant_id = :tenant_id AND id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID, "id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, &permit.Error{Err: permit.ErrRoleNotFound, TenantID: tenantID, Message: id}
	}
	return scanRole(rows)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*permit.RoleDefinition, error) {
	q := `SELECT id, tenant_id, name, type, status, permissions_json, inherits_json, metadata_json, created_at, updated_at
	      FROM roles WHERE tenant_id = :tenant_id ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]*permit.RoleDefinition, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func scanRole(r rowScanner) (*permit.RoleDefinition, error) {
	var id, tenantID, name, roleType, status, permsJSON, inheritsJSON, metaJSON string
	var createdRaw, updatedRaw any
	if err := r.Scan(&id, &tenantID, &name, &roleType, &status, &permsJSON, &inheritsJSON, &metaJSON, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	role := &permit.RoleDefinition{
		ID:       id,
		TenantID: tenantID,
		Name:     name,
		Type:     permit.RoleType(roleType),
		Status:   permit.RoleStatus(status),
	}
	_ = json.Unmarshal([]byte(permsJSON), &role.Permissions)
	_ = json.Unmarshal([]byte(inheritsJSON), &role.Inherits)
	_ = json.Unmarshal([]byte(metaJSON), &role.Metadata)
	role.CreatedAt = scanTime(createdRaw)
	role.UpdatedAt = scanTime(updatedRaw)
	return role, nil
}
