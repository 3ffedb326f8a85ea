package sqlstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-ingest/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubEventStore struct {
	mu           sync.Mutex
	event        core.Event
	getCalls     int
	outcomeCalls int
	getErr       error
}

func (s *stubEventStore) Upsert(_ context.Context, _ core.EventInput) (core.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event, true, nil
}

func (s *stubEventStore) GetByID(_ context.Context, _ string) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.Event{}, s.getErr
	}
	return s.event, nil
}

func (s *stubEventStore) GetByExternalID(_ context.Context, _ string) (core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.Event{}, s.getErr
	}
	return s.event, nil
}

func (s *stubEventStore) RecordOutcome(_ context.Context, _ string, outcome core.EventOutcome, _ string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomeCalls++
	s.event.Outcome = outcome
	s.event.UpdatedAt = time.Now().UTC()
	return s.event.UpdatedAt, nil
}

func (s *stubEventStore) List(_ context.Context, _ core.EventFilter) ([]core.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []core.Event{s.event}, 1, nil
}

func newTestEventCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedEventStore_GetByID_MissFetchThenHit(t *testing.T) {
	cacheService := newTestEventCacheService(t)
	base := &stubEventStore{
		event: core.Event{
			ID:         "evt_cache_1",
			ExternalID: "whk_cache_1",
			Category:   "payment.captured",
			Outcome:    core.EventOutcomePending,
		},
	}

	store, err := NewCachedEventStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached event store: %v", err)
	}

	if _, err := store.GetByID(context.Background(), "evt_cache_1"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected first get to fetch base store once, got %d", base.getCalls)
	}

	if _, err := store.GetByID(context.Background(), "evt_cache_1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be cache hit, base get calls=%d", base.getCalls)
	}
}

func TestCachedEventStore_RecordOutcome_InvalidatesCachedKeys(t *testing.T) {
	cacheService := newTestEventCacheService(t)
	base := &stubEventStore{
		event: core.Event{
			ID:         "evt_cache_2",
			ExternalID: "whk_cache_2",
			Category:   "payment.captured",
			Outcome:    core.EventOutcomePending,
		},
	}

	store, err := NewCachedEventStore(base, cacheService)
	if err != nil {
		t.Fatalf("new cached event store: %v", err)
	}

	if _, err := store.GetByID(context.Background(), "evt_cache_2"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	callsAfterPrime := base.getCalls

	if _, err := store.RecordOutcome(context.Background(), "evt_cache_2", core.EventOutcomeProcessed, ""); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	event, err := store.GetByID(context.Background(), "evt_cache_2")
	if err != nil {
		t.Fatalf("get after invalidation: %v", err)
	}
	if base.getCalls <= callsAfterPrime {
		t.Fatalf("expected get after invalidation to refetch base store, calls=%d", base.getCalls)
	}
	if event.Outcome != core.EventOutcomeProcessed {
		t.Fatalf("expected refreshed outcome processed, got %s", event.Outcome)
	}
}

func TestEventCacheKey_EscapesSegments(t *testing.T) {
	key, err := EventCacheKey("external_id", "whk/2026 01")
	if err != nil {
		t.Fatalf("event cache key: %v", err)
	}
	want := fmt.Sprintf("%s::external_id::%s", eventCacheKeyPrefix, "whk%2F2026%2001")
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}

	if _, err := EventCacheKey("", "value"); err == nil {
		t.Fatalf("expected empty field to be rejected")
	}
	if _, err := EventCacheKey("id", " "); err == nil {
		t.Fatalf("expected empty value to be rejected")
	}
}
