package stores

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// InvalidationEvent announces that a tenant's (or one subject's)
// effective permissions changed. SubjectID empty means whole tenant.
type InvalidationEvent struct {
	TenantID  string `json:"tenant_id"`
	SubjectID string `json:"subject_id,omitempty"`
}

// RedisInvalidationBus fans permission-cache invalidations out to
// sibling processes over a Redis pub/sub channel. Local invalidation
// stays authoritative; the bus is best-effort convergence only.
type RedisInvalidationBus struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

func NewRedisInvalidationBus(client *redis.Client, channel string, log logger.Logger) *RedisInvalidationBus {
	if channel == "" {
		channel = "permit:invalidate"
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisInvalidationBus{client: client, channel: channel, log: log}
}

// Publish announces an invalidation to sibling processes.
func (b *RedisInvalidationBus) Publish(ctx context.Context, ev InvalidationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Listen applies announced invalidations to the local resolver until
// ctx is done. Malformed payloads are logged and skipped.
func (b *RedisInvalidationBus) Listen(ctx context.Context, resolver *permit.Resolver) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev InvalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Error("bad invalidation payload", "payload", msg.Payload, "error", err.Error())
				continue
			}
			if ev.SubjectID != "" {
				resolver.InvalidateSubject(ev.TenantID, ev.SubjectID)
			} else {
				resolver.InvalidateTenant(ev.TenantID)
			}
		}
	}
}
