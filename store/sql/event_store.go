package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventStore is the durable idempotent event ledger. Dedup rides on the
// unique index over external_id: first insert wins, losers read the winner.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*ingestEventRecord]
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*ingestEventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{db: db, repo: repo}, nil
}

func (s *EventStore) Upsert(ctx context.Context, in core.EventInput) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.Event{}, false, err
	}

	now := time.Now().UTC()
	record := &ingestEventRecord{
		ID:         uuid.NewString(),
		ExternalID: strings.TrimSpace(in.ExternalID),
		Category:   strings.TrimSpace(in.Category),
		Payload:    copyAnyMap(in.Payload),
		TenantHint: strings.TrimSpace(in.TenantHint),
		ReceivedAt: now,
		Outcome:    string(core.EventOutcomePending),
		Attempts:   0,
		LastError:  "",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.OccurredAt != nil {
		occurredAt := in.OccurredAt.UTC()
		record.OccurredAt = &occurredAt
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetByExternalID(ctx, record.ExternalID)
			if getErr != nil {
				return core.Event{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Event{}, false, err
	}
	return eventRecordToDomain(record), true, nil
}

func (s *EventStore) GetByID(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	record := &ingestEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Event{}, fmt.Errorf("%w: %s", core.ErrEventNotFound, id)
		}
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) GetByExternalID(ctx context.Context, externalID string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	record := &ingestEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.external_id = ?", strings.TrimSpace(externalID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Event{}, fmt.Errorf("%w: external id %s", core.ErrEventNotFound, externalID)
		}
		return core.Event{}, err
	}
	return eventRecordToDomain(record), nil
}

func (s *EventStore) RecordOutcome(ctx context.Context, eventID string, outcome core.EventOutcome, lastError string) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	event, err := s.GetByID(ctx, eventID)
	if err != nil {
		return time.Time{}, err
	}
	now := time.Now().UTC()
	if err := event.TransitionTo(outcome, lastError, now); err != nil {
		return time.Time{}, err
	}
	_, err = s.db.NewUpdate().
		Model((*ingestEventRecord)(nil)).
		Set("outcome = ?", string(event.Outcome)).
		Set("last_error = ?", event.LastError).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", now).
		Where("id = ?", event.ID).
		Exec(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return now, nil
}

func (s *EventStore) List(ctx context.Context, filter core.EventFilter) ([]core.Event, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: event store is not configured")
	}
	perPage, offset := pageWindow(filter.Limit, filter.Page)

	selectors := []repository.SelectCriteria{
		repository.OrderBy("received_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if outcome := strings.TrimSpace(string(filter.Outcome)); outcome != "" {
		selectors = append(selectors, repository.SelectBy("outcome", "=", outcome))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	items := make([]core.Event, 0, len(records))
	for _, record := range records {
		items = append(items, eventRecordToDomain(record))
	}
	return items, total, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
