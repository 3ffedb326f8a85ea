package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEventNotFound    = fmt.Errorf("core: event not found")
	ErrDispatchNotFound = fmt.Errorf("core: dispatch not found")
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func normalizePage(limit, page int) (perPage, offset int) {
	perPage = limit
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	value := in.UTC()
	return &value
}

// MemoryEventStore backs tests and single-process deployments. The sqlstore
// package carries the durable implementation.
type MemoryEventStore struct {
	mu         sync.Mutex
	byID       map[string]*Event
	byExternal map[string]string
	order      []string
	Now        func() time.Time
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		byID:       map[string]*Event{},
		byExternal: map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryEventStore) Upsert(_ context.Context, in EventInput) (Event, bool, error) {
	if s == nil {
		return Event{}, false, fmt.Errorf("core: event store is nil")
	}
	if err := in.Validate(); err != nil {
		return Event{}, false, err
	}
	externalID := strings.TrimSpace(in.ExternalID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.byExternal[externalID]; exists {
		return cloneEvent(s.byID[id]), false, nil
	}

	now := s.now()
	event := &Event{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Category:   strings.TrimSpace(in.Category),
		Payload:    cloneAnyMap(in.Payload),
		TenantHint: strings.TrimSpace(in.TenantHint),
		OccurredAt: cloneTimePtr(in.OccurredAt),
		ReceivedAt: now,
		Outcome:    EventOutcomePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.byID[event.ID] = event
	s.byExternal[externalID] = event.ID
	s.order = append(s.order, event.ID)
	return cloneEvent(event), true, nil
}

func (s *MemoryEventStore) GetByID(_ context.Context, id string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return cloneEvent(event), nil
}

func (s *MemoryEventStore) GetByExternalID(_ context.Context, externalID string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternal[strings.TrimSpace(externalID)]
	if !ok {
		return Event{}, fmt.Errorf("%w: external id %s", ErrEventNotFound, externalID)
	}
	return cloneEvent(s.byID[id]), nil
}

func (s *MemoryEventStore) RecordOutcome(_ context.Context, eventID string, outcome EventOutcome, lastError string) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("core: event store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.byID[strings.TrimSpace(eventID)]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	now := s.now()
	if err := event.TransitionTo(outcome, lastError, now); err != nil {
		return time.Time{}, err
	}
	event.Attempts++
	return event.UpdatedAt, nil
}

func (s *MemoryEventStore) List(_ context.Context, filter EventFilter) ([]Event, int, error) {
	if s == nil {
		return nil, 0, fmt.Errorf("core: event store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*Event, 0, len(s.order))
	for _, id := range s.order {
		event := s.byID[id]
		if filter.Outcome != "" && event.Outcome != filter.Outcome {
			continue
		}
		matched = append(matched, event)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	perPage, offset := normalizePage(filter.Limit, filter.Page)
	total := len(matched)
	if offset >= total {
		return []Event{}, total, nil
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	out := make([]Event, 0, end-offset)
	for _, event := range matched[offset:end] {
		out = append(out, cloneEvent(event))
	}
	return out, total, nil
}

func (s *MemoryEventStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func cloneEvent(event *Event) Event {
	if event == nil {
		return Event{}
	}
	cloned := *event
	cloned.Payload = cloneAnyMap(event.Payload)
	cloned.OccurredAt = cloneTimePtr(event.OccurredAt)
	return cloned
}

// MemoryDispatchLedger mirrors the sqlstore claim protocol under a process
// mutex. Link Events to denormalize triage listings.
type MemoryDispatchLedger struct {
	mu     sync.Mutex
	byID   map[string]*Dispatch
	byPair map[string]string
	order  []string
	Events *MemoryEventStore
	Now    func() time.Time
}

func NewMemoryDispatchLedger() *MemoryDispatchLedger {
	return &MemoryDispatchLedger{
		byID:   map[string]*Dispatch{},
		byPair: map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func pairKey(eventID, consumer string) string {
	return strings.TrimSpace(eventID) + "\x00" + strings.TrimSpace(consumer)
}

func (l *MemoryDispatchLedger) Ensure(_ context.Context, eventID, consumer string) (Dispatch, error) {
	if l == nil {
		return Dispatch{}, fmt.Errorf("core: dispatch ledger is nil")
	}
	eventID = strings.TrimSpace(eventID)
	consumer = strings.TrimSpace(consumer)
	if eventID == "" || consumer == "" {
		return Dispatch{}, fmt.Errorf("core: event id and consumer are required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if id, exists := l.byPair[pairKey(eventID, consumer)]; exists {
		return cloneDispatch(l.byID[id]), nil
	}
	now := l.now()
	dispatch := &Dispatch{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Consumer:  consumer,
		Status:    DispatchStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.byID[dispatch.ID] = dispatch
	l.byPair[pairKey(eventID, consumer)] = dispatch.ID
	l.order = append(l.order, dispatch.ID)
	return cloneDispatch(dispatch), nil
}

func (l *MemoryDispatchLedger) Get(_ context.Context, dispatchID string) (Dispatch, error) {
	if l == nil {
		return Dispatch{}, fmt.Errorf("core: dispatch ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	dispatch, ok := l.byID[strings.TrimSpace(dispatchID)]
	if !ok {
		return Dispatch{}, fmt.Errorf("%w: %s", ErrDispatchNotFound, dispatchID)
	}
	return cloneDispatch(dispatch), nil
}

func (l *MemoryDispatchLedger) Claim(_ context.Context, dispatchID string, now time.Time) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: dispatch ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	dispatch, ok := l.byID[strings.TrimSpace(dispatchID)]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrDispatchNotFound, dispatchID)
	}
	if !dispatch.Claimable(now) {
		return false, nil
	}
	if err := dispatch.TransitionTo(DispatchStatusProcessing, now); err != nil {
		return false, err
	}
	return true, nil
}

func (l *MemoryDispatchLedger) RecordSuccess(_ context.Context, dispatchID string, now time.Time) error {
	if l == nil {
		return fmt.Errorf("core: dispatch ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	dispatch, ok := l.byID[strings.TrimSpace(dispatchID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDispatchNotFound, dispatchID)
	}
	if err := dispatch.TransitionTo(DispatchStatusSucceeded, now); err != nil {
		return err
	}
	dispatch.Attempts++
	dispatch.LastError = ""
	dispatch.NextRetryAt = nil
	return nil
}

func (l *MemoryDispatchLedger) RecordFailure(_ context.Context, dispatchID, cause string, nextRetryAt time.Time, maxAttempts int) (Dispatch, error) {
	if l == nil {
		return Dispatch{}, fmt.Errorf("core: dispatch ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	dispatch, ok := l.byID[strings.TrimSpace(dispatchID)]
	if !ok {
		return Dispatch{}, fmt.Errorf("%w: %s", ErrDispatchNotFound, dispatchID)
	}
	now := l.now()
	if err := dispatch.TransitionTo(DispatchStatusFailed, now); err != nil {
		return Dispatch{}, err
	}
	dispatch.Attempts++
	dispatch.LastError = strings.TrimSpace(cause)
	if maxAttempts > 0 && dispatch.Attempts >= maxAttempts {
		dispatch.NextRetryAt = nil
	} else if nextRetryAt.IsZero() {
		dispatch.NextRetryAt = nil
	} else {
		at := nextRetryAt.UTC()
		dispatch.NextRetryAt = &at
	}
	return cloneDispatch(dispatch), nil
}

func (l *MemoryDispatchLedger) ListByEvent(_ context.Context, eventID string) ([]Dispatch, error) {
	if l == nil {
		return nil, fmt.Errorf("core: dispatch ledger is nil")
	}
	eventID = strings.TrimSpace(eventID)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Dispatch
	for _, id := range l.order {
		dispatch := l.byID[id]
		if dispatch.EventID != eventID {
			continue
		}
		out = append(out, cloneDispatch(dispatch))
	}
	return out, nil
}

func (l *MemoryDispatchLedger) ListDue(_ context.Context, now time.Time, limit int) ([]Dispatch, error) {
	if l == nil {
		return nil, fmt.Errorf("core: dispatch ledger is nil")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []*Dispatch
	for _, id := range l.order {
		dispatch := l.byID[id]
		if dispatch.Status != DispatchStatusFailed || dispatch.NextRetryAt == nil {
			continue
		}
		if dispatch.NextRetryAt.After(now) {
			continue
		}
		due = append(due, dispatch)
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Dispatch, 0, len(due))
	for _, dispatch := range due {
		out = append(out, cloneDispatch(dispatch))
	}
	return out, nil
}

func (l *MemoryDispatchLedger) List(_ context.Context, filter DispatchFilter) ([]DispatchDetail, int, error) {
	if l == nil {
		return nil, 0, fmt.Errorf("core: dispatch ledger is nil")
	}
	l.mu.Lock()
	matched := make([]*Dispatch, 0, len(l.order))
	for _, id := range l.order {
		dispatch := l.byID[id]
		if filter.Status != "" && dispatch.Status != filter.Status {
			continue
		}
		if strings.TrimSpace(filter.Consumer) != "" && dispatch.Consumer != strings.TrimSpace(filter.Consumer) {
			continue
		}
		matched = append(matched, dispatch)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	perPage, offset := normalizePage(filter.Limit, filter.Page)
	total := len(matched)
	var page []*Dispatch
	if offset < total {
		end := offset + perPage
		if end > total {
			end = total
		}
		page = matched[offset:end]
	}
	details := make([]DispatchDetail, 0, len(page))
	for _, dispatch := range page {
		details = append(details, DispatchDetail{Dispatch: cloneDispatch(dispatch)})
	}
	l.mu.Unlock()

	if l.Events != nil {
		for i := range details {
			event, err := l.Events.GetByID(context.Background(), details[i].EventID)
			if err != nil {
				continue
			}
			details[i].EventExternalID = event.ExternalID
			details[i].EventCategory = event.Category
			details[i].TenantHint = event.TenantHint
		}
	}
	return details, total, nil
}

func (l *MemoryDispatchLedger) Reclaim(_ context.Context, olderThan time.Time, maxAttempts int, now time.Time) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: dispatch ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	reclaimed := 0
	for _, id := range l.order {
		dispatch := l.byID[id]
		if dispatch.Status != DispatchStatusProcessing || !dispatch.UpdatedAt.Before(olderThan) {
			continue
		}
		if err := dispatch.TransitionTo(DispatchStatusFailed, now); err != nil {
			continue
		}
		dispatch.Attempts++
		dispatch.LastError = "reclaimed: processing deadline exceeded"
		if maxAttempts > 0 && dispatch.Attempts >= maxAttempts {
			dispatch.NextRetryAt = nil
		} else {
			at := now.UTC()
			dispatch.NextRetryAt = &at
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (l *MemoryDispatchLedger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now()
}

func cloneDispatch(dispatch *Dispatch) Dispatch {
	if dispatch == nil {
		return Dispatch{}
	}
	cloned := *dispatch
	cloned.NextRetryAt = cloneTimePtr(dispatch.NextRetryAt)
	return cloned
}

type MemoryAuditTrail struct {
	mu      sync.Mutex
	entries []AuditEntry
	Now     func() time.Time
}

func NewMemoryAuditTrail() *MemoryAuditTrail {
	return &MemoryAuditTrail{
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (t *MemoryAuditTrail) Record(_ context.Context, entry AuditEntry) error {
	if t == nil {
		return fmt.Errorf("core: audit trail is nil")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		if t.Now != nil {
			entry.CreatedAt = t.Now()
		} else {
			entry.CreatedAt = time.Now().UTC()
		}
	}
	entry.Metadata = cloneAnyMap(entry.Metadata)
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
	return nil
}

func (t *MemoryAuditTrail) List(_ context.Context, filter AuditFilter) ([]AuditEntry, int, error) {
	if t == nil {
		return nil, 0, fmt.Errorf("core: audit trail is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	matched := make([]AuditEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		if strings.TrimSpace(filter.EventID) != "" && entry.EventID != strings.TrimSpace(filter.EventID) {
			continue
		}
		matched = append(matched, entry)
	}
	perPage, offset := normalizePage(filter.Limit, filter.Page)
	total := len(matched)
	if offset >= total {
		return []AuditEntry{}, total, nil
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	out := make([]AuditEntry, end-offset)
	copy(out, matched[offset:end])
	return out, total, nil
}

// MemoryStoreProvider bundles the in-memory stores with the ledger linked to
// the event store for denormalized listings.
type MemoryStoreProvider struct {
	events *MemoryEventStore
	ledger *MemoryDispatchLedger
	audit  *MemoryAuditTrail
}

func NewMemoryStoreProvider() *MemoryStoreProvider {
	events := NewMemoryEventStore()
	ledger := NewMemoryDispatchLedger()
	ledger.Events = events
	return &MemoryStoreProvider{
		events: events,
		ledger: ledger,
		audit:  NewMemoryAuditTrail(),
	}
}

func (p *MemoryStoreProvider) EventStore() EventStore {
	if p == nil {
		return nil
	}
	return p.events
}

func (p *MemoryStoreProvider) DispatchLedger() DispatchLedger {
	if p == nil {
		return nil
	}
	return p.ledger
}

func (p *MemoryStoreProvider) AuditTrail() AuditTrail {
	if p == nil {
		return nil
	}
	return p.audit
}

var (
	_ EventStore     = (*MemoryEventStore)(nil)
	_ DispatchLedger = (*MemoryDispatchLedger)(nil)
	_ AuditTrail     = (*MemoryAuditTrail)(nil)
	_ StoreProvider  = (*MemoryStoreProvider)(nil)
)
