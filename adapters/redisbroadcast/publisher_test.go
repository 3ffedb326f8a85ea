package redisbroadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-ingest/core"
)

func TestChannelNaming(t *testing.T) {
	publisher := New(nil, "")
	if got := publisher.Channel("acct_9"); got != "ingest.broadcast:acct_9" {
		t.Fatalf("unexpected tenant channel: %q", got)
	}
	if got := publisher.Channel("  "); got != "ingest.broadcast:global" {
		t.Fatalf("expected global channel for blank hint, got %q", got)
	}

	custom := New(nil, "payments.fanout")
	if got := custom.Channel("acct_9"); got != "payments.fanout:acct_9" {
		t.Fatalf("unexpected custom prefix channel: %q", got)
	}
}

func TestEncodeBroadcast(t *testing.T) {
	occurred := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload, err := encodeBroadcast(core.BroadcastContext{
		EventID:    "evt_1",
		ExternalID: "whk_1",
		Category:   "payment.captured",
		TenantHint: "acct_9",
		OccurredAt: &occurred,
		Facts: map[string]core.ConsumerSummary{
			"ledger": {"posted": true, "amount": 1250},
		},
	})
	if err != nil {
		t.Fatalf("encode broadcast: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["event_id"] != "evt_1" || decoded["external_id"] != "whk_1" {
		t.Fatalf("unexpected identity fields: %v", decoded)
	}
	if decoded["category"] != "payment.captured" {
		t.Fatalf("unexpected category: %v", decoded["category"])
	}
	if decoded["tenant_hint"] != "acct_9" {
		t.Fatalf("unexpected tenant hint: %v", decoded["tenant_hint"])
	}
	facts, ok := decoded["facts"].(map[string]any)
	if !ok {
		t.Fatalf("expected facts object, got %T", decoded["facts"])
	}
	ledger, ok := facts["ledger"].(map[string]any)
	if !ok || ledger["posted"] != true {
		t.Fatalf("expected ledger facts to survive encoding, got %v", facts)
	}
}

func TestEncodeBroadcastOmitsEmptyOptionalFields(t *testing.T) {
	payload, err := encodeBroadcast(core.BroadcastContext{
		EventID:    "evt_2",
		ExternalID: "whk_2",
		Category:   "payment.refunded",
	})
	if err != nil {
		t.Fatalf("encode broadcast: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := decoded["tenant_hint"]; ok {
		t.Fatalf("expected tenant_hint to be omitted, got %v", decoded)
	}
	if _, ok := decoded["occurred_at"]; ok {
		t.Fatalf("expected occurred_at to be omitted, got %v", decoded)
	}
	if _, ok := decoded["facts"]; ok {
		t.Fatalf("expected facts to be omitted, got %v", decoded)
	}
}

func TestPublishRequiresClient(t *testing.T) {
	publisher := New(nil, "")
	err := publisher.Publish(context.Background(), "acct_9", core.BroadcastContext{EventID: "evt_1"})
	if err == nil {
		t.Fatalf("expected error without redis client")
	}
}
