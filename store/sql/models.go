package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type ingestEventRecord struct {
	bun.BaseModel `bun:"table:ingest_events,alias:ie"`

	ID         string         `bun:"id,pk"`
	ExternalID string         `bun:"external_id,notnull"`
	Category   string         `bun:"category,notnull"`
	Payload    map[string]any `bun:"payload,type:jsonb"`
	TenantHint string         `bun:"tenant_hint"`
	OccurredAt *time.Time     `bun:"occurred_at,nullzero"`
	ReceivedAt time.Time      `bun:"received_at,notnull"`
	Outcome    string         `bun:"outcome,notnull"`
	Attempts   int            `bun:"attempts,notnull"`
	LastError  string         `bun:"last_error"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type dispatchRecord struct {
	bun.BaseModel `bun:"table:ingest_dispatches,alias:idi"`

	ID          string     `bun:"id,pk"`
	EventID     string     `bun:"event_id,notnull"`
	Consumer    string     `bun:"consumer,notnull"`
	Status      string     `bun:"status,notnull"`
	Attempts    int        `bun:"attempts,notnull"`
	LastError   string     `bun:"last_error"`
	NextRetryAt *time.Time `bun:"next_retry_at,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:ingest_audit_entries,alias:iae"`

	ID         string         `bun:"id,pk"`
	EventID    string         `bun:"event_id"`
	DispatchID string         `bun:"dispatch_id"`
	Actor      string         `bun:"actor,notnull"`
	Action     string         `bun:"action,notnull"`
	Note       string         `bun:"note"`
	Metadata   map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
