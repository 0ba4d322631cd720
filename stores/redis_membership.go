package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// RedisMembershipStore keeps subject->role memberships in Redis sets,
// keyed per tenant and subject. It backs a PermissionResolver for
// deployments that keep role assignment outside SQL.
type RedisMembershipStore struct {
	client *redis.Client
	keyFmt string // e.g. "permit:member:%s:%s:%s" (tenant, subject type, subject)
}

func NewRedisMembershipStore(client *redis.Client) *RedisMembershipStore {
	return &RedisMembershipStore{client: client, keyFmt: "permit:member:%s:%s:%s"}
}

func (r *RedisMembershipStore) key(tenantID string, subjectType permit.SubjectType, subjectID string) string {
	return fmt.Sprintf(r.keyFmt, tenantID, subjectType, subjectID)
}

func (r *RedisMembershipStore) AssignRole(ctx context.Context, tenantID string, subjectType permit.SubjectType, subjectID, roleID string) error {
	return r.client.SAdd(ctx, r.key(tenantID, subjectType, subjectID), roleID).Err()
}

func (r *RedisMembershipStore) RevokeRole(ctx context.Context, tenantID string, subjectType permit.SubjectType, subjectID, roleID string) error {
	return r.client.SRem(ctx, r.key(tenantID, subjectType, subjectID), roleID).Err()
}

func (r *RedisMembershipStore) ListRoles(ctx context.Context, tenantID string, subjectType permit.SubjectType, subjectID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(tenantID, subjectType, subjectID)).Result()
}
