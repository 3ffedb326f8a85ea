package redisbroadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-ingest/core"
)

const DefaultChannelPrefix = "ingest.broadcast"

// Publisher fans broadcast contexts out across processes on redis pub/sub.
// Channel layout is "<prefix>:<tenant>", with "global" for events that carry
// no tenant hint, so downstream subscribers can scope their subscriptions.
type Publisher struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Publisher {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Publisher{client: client, prefix: prefix}
}

func (p *Publisher) Publish(ctx context.Context, tenantHint string, bc core.BroadcastContext) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("redisbroadcast: redis client is required")
	}
	payload, err := encodeBroadcast(bc)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(tenantHint), payload).Err(); err != nil {
		return fmt.Errorf("redisbroadcast: publish %s: %w", bc.EventID, err)
	}
	return nil
}

// Channel resolves the pub/sub channel for a tenant hint.
func (p *Publisher) Channel(tenantHint string) string {
	prefix := DefaultChannelPrefix
	if p != nil && p.prefix != "" {
		prefix = p.prefix
	}
	tenant := strings.TrimSpace(tenantHint)
	if tenant == "" {
		tenant = "global"
	}
	return prefix + ":" + tenant
}

type envelope struct {
	EventID    string                          `json:"event_id"`
	ExternalID string                          `json:"external_id"`
	Category   string                          `json:"category"`
	TenantHint string                          `json:"tenant_hint,omitempty"`
	OccurredAt *time.Time                      `json:"occurred_at,omitempty"`
	Facts      map[string]core.ConsumerSummary `json:"facts,omitempty"`
}

func encodeBroadcast(bc core.BroadcastContext) ([]byte, error) {
	payload, err := json.Marshal(envelope{
		EventID:    bc.EventID,
		ExternalID: bc.ExternalID,
		Category:   bc.Category,
		TenantHint: bc.TenantHint,
		OccurredAt: bc.OccurredAt,
		Facts:      bc.Facts,
	})
	if err != nil {
		return nil, fmt.Errorf("redisbroadcast: encode broadcast %s: %w", bc.EventID, err)
	}
	return payload, nil
}

var _ core.BroadcastPublisher = (*Publisher)(nil)
