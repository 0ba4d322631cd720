package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLTenantStore persists tenants in SQL (squealx).
type SQLTenantStore struct {
	db *squealx.DB
}

func NewSQLTenantStore(db *squealx.DB) *SQLTenantStore {
	return &SQLTenantStore{db: db}
}

func (s *SQLTenantStore) CreateTenant(ctx context.Context, t *permit.TenantContext) error {
	if err := t.Validate(); err != nil {
		return err
	}
	meta, _ := json.Marshal(t.Metadata)
	q := `INSERT INTO tenants(id, name, status, metadata_json, created_at, updated_at) VALUES(:id, :name, :status, :metadata_json, :created_at, :updated_at)`
	now := time.Now()
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": t.ID, "name": t.Name, "status": string(t.Status), "metadata_json": string(meta), "created_at": now, "updated_at": now,
	})
	return err
}

func (s *SQLTenantStore) UpdateTenant(ctx context.Context, t *permit.TenantContext) error {
	if err := t.Validate(); err != nil {
		return err
	}
	meta, _ := json.Marshal(t.Metadata)
	q := `UPDATE tenants SET name=:name, status=:status, metadata_json=:metadata_json, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": t.ID, "name": t.Name, "status": string(t.Status), "metadata_json": string(meta), "updated_at": time.Now(),
	})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &permit.Error{Err: permit.ErrTenantNotFound, TenantID: t.ID}
	}
	return nil
}

func (s *SQLTenantStore) DeleteTenant(ctx context.Context, id string) error {
	q := `DELETE FROM tenants WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &permit.Error{Err: permit.ErrTenantNotFound, TenantID: id}
	}
	return nil
}

func (s *SQLTenantStore) GetTenant(ctx context.Context, id string) (*permit.TenantContext, error) {
	q := `SELECT id, name, status, metadata_json FROM tenants WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, &permit.Error{Err: permit.ErrTenantNotFound, TenantID: id}
	}
	return scanTenant(rows)
}

func (s *SQLTenantStore) ListTenants(ctx context.Context) ([]*permit.TenantContext, error) {
	q := `SELECT id, name, status, metadata_json FROM tenants ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make([]*permit.TenantContext, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(r rowScanner) (*permit.TenantContext, error) {
	var id, name, status, metaJSON string
	if err := r.Scan(&id, &name, &status, &metaJSON); err != nil {
		return nil, err
	}
	t := &permit.TenantContext{ID: id, Name: name, Status: permit.TenantStatus(status)}
	_ = json.Unmarshal([]byte(metaJSON), &t.Metadata)
	return t, nil
}
