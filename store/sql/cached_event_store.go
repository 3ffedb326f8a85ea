package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const eventCacheKeyPrefix = "go-ingest::event::v1"

// CachedEventStore fronts event reads with a cache service. Reads go through
// GetOrFetch; every write deletes the affected keys so the next read refills
// from the base store.
type CachedEventStore struct {
	base  core.EventStore
	cache repositorycache.CacheService
}

func NewCachedEventStore(base core.EventStore, cacheService repositorycache.CacheService) (*CachedEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base event store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: event cache service is required")
	}
	return &CachedEventStore{base: base, cache: cacheService}, nil
}

// EventCacheKey returns the deterministic cache key contract for event reads:
// go-ingest::event::v1::<field>::<value> with each segment URL-path escaped.
func EventCacheKey(field, value string) (string, error) {
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)
	if field == "" || value == "" {
		return "", fmt.Errorf("sqlstore: event cache key field and value are required")
	}
	segments := []string{field, value}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{eventCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedEventStore) Upsert(ctx context.Context, in core.EventInput) (core.Event, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, created, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Event{}, false, err
	}
	if created {
		if err := s.invalidate(ctx, event); err != nil {
			return core.Event{}, false, err
		}
	}
	return event, created, nil
}

func (s *CachedEventStore) GetByID(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	cacheKey, err := EventCacheKey("id", id)
	if err != nil {
		return core.Event{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Event, error) {
		return s.base.GetByID(ctx, id)
	})
}

func (s *CachedEventStore) GetByExternalID(ctx context.Context, externalID string) (core.Event, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	cacheKey, err := EventCacheKey("external_id", externalID)
	if err != nil {
		return core.Event{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Event, error) {
		return s.base.GetByExternalID(ctx, externalID)
	})
}

func (s *CachedEventStore) RecordOutcome(ctx context.Context, eventID string, outcome core.EventOutcome, lastError string) (time.Time, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return time.Time{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	updatedAt, err := s.base.RecordOutcome(ctx, eventID, outcome, lastError)
	if err != nil {
		return time.Time{}, err
	}
	event, err := s.base.GetByID(ctx, eventID)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.invalidate(ctx, event); err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

func (s *CachedEventStore) List(ctx context.Context, filter core.EventFilter) ([]core.Event, int, error) {
	if s == nil || s.base == nil {
		return nil, 0, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedEventStore) invalidate(ctx context.Context, event core.Event) error {
	idKey, err := EventCacheKey("id", event.ID)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, idKey); err != nil {
		return err
	}
	externalKey, err := EventCacheKey("external_id", event.ExternalID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, externalKey)
}

var _ core.EventStore = (*CachedEventStore)(nil)
