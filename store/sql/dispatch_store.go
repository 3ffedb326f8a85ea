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

const (
	dispatchStatusPending    = "pending"
	dispatchStatusProcessing = "processing"
	dispatchStatusSucceeded  = "succeeded"
	dispatchStatusFailed     = "failed"
)

// DispatchStore is the durable per-(event, consumer) attempt ledger. All
// concurrency safety lives in Claim: a conditional update that flips exactly
// one claimable row to processing, so losers observe zero affected rows.
type DispatchStore struct {
	db     *bun.DB
	repo   repository.Repository[*dispatchRecord]
	events *EventStore
}

func NewDispatchStore(db *bun.DB, events *EventStore) (*DispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*dispatchRecord](db, dispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dispatch repository wiring: %w", err)
		}
	}
	return &DispatchStore{db: db, repo: repo, events: events}, nil
}

func (s *DispatchStore) Ensure(ctx context.Context, eventID, consumer string) (core.Dispatch, error) {
	if s == nil || s.db == nil {
		return core.Dispatch{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	consumer = strings.TrimSpace(consumer)
	if eventID == "" || consumer == "" {
		return core.Dispatch{}, fmt.Errorf("sqlstore: event id and consumer are required")
	}

	now := time.Now().UTC()
	record := &dispatchRecord{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Consumer:  consumer,
		Status:    dispatchStatusPending,
		Attempts:  0,
		LastError: "",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.getByPair(ctx, eventID, consumer)
		}
		return core.Dispatch{}, err
	}
	return dispatchRecordToDomain(record), nil
}

func (s *DispatchStore) Get(ctx context.Context, dispatchID string) (core.Dispatch, error) {
	if s == nil || s.db == nil {
		return core.Dispatch{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	record := &dispatchRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(dispatchID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Dispatch{}, fmt.Errorf("%w: %s", core.ErrDispatchNotFound, dispatchID)
		}
		return core.Dispatch{}, err
	}
	return dispatchRecordToDomain(record), nil
}

func (s *DispatchStore) getByPair(ctx context.Context, eventID, consumer string) (core.Dispatch, error) {
	record := &dispatchRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", eventID).
		Where("?TableAlias.consumer = ?", consumer).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Dispatch{}, fmt.Errorf("%w: event %s consumer %s", core.ErrDispatchNotFound, eventID, consumer)
		}
		return core.Dispatch{}, err
	}
	return dispatchRecordToDomain(record), nil
}

// Claim flips a claimable row to processing. The status and due-time
// predicates ride in the WHERE clause, so two racing workers can never both
// win the same row.
func (s *DispatchStore) Claim(ctx context.Context, dispatchID string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return false, fmt.Errorf("sqlstore: dispatch id is required")
	}
	res, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", dispatchStatusProcessing).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", dispatchID).
		Where("status IN (?, ?)", dispatchStatusPending, dispatchStatusFailed).
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now.UTC()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, dispatchID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func (s *DispatchStore) RecordSuccess(ctx context.Context, dispatchID string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	res, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", dispatchStatusSucceeded).
		Set("attempts = attempts + 1").
		Set("last_error = ?", "").
		Set("next_retry_at = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", dispatchID).
		Where("status = ?", dispatchStatusProcessing).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, dispatchID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidDispatchStatusTransition, current.Status, core.DispatchStatusSucceeded)
	}
	return nil
}

func (s *DispatchStore) RecordFailure(ctx context.Context, dispatchID, cause string, nextRetryAt time.Time, maxAttempts int) (core.Dispatch, error) {
	if s == nil || s.db == nil {
		return core.Dispatch{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	dispatch, err := s.Get(ctx, dispatchID)
	if err != nil {
		return core.Dispatch{}, err
	}
	if dispatch.Status != core.DispatchStatusProcessing {
		return core.Dispatch{}, fmt.Errorf("%w: %s -> %s", core.ErrInvalidDispatchStatusTransition, dispatch.Status, dispatchStatusFailed)
	}

	now := time.Now().UTC()
	attempts := dispatch.Attempts + 1
	var next *time.Time
	if maxAttempts > 0 && attempts >= maxAttempts {
		next = nil
	} else if !nextRetryAt.IsZero() {
		nextValue := nextRetryAt.UTC()
		next = &nextValue
	}

	_, err = s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", dispatchStatusFailed).
		Set("attempts = ?", attempts).
		Set("last_error = ?", strings.TrimSpace(cause)).
		Set("next_retry_at = ?", next).
		Set("updated_at = ?", now).
		Where("id = ?", dispatch.ID).
		Where("status = ?", dispatchStatusProcessing).
		Exec(ctx)
	if err != nil {
		return core.Dispatch{}, err
	}

	dispatch.Status = core.DispatchStatusFailed
	dispatch.Attempts = attempts
	dispatch.LastError = strings.TrimSpace(cause)
	dispatch.NextRetryAt = next
	dispatch.UpdatedAt = now
	return dispatch, nil
}

func (s *DispatchStore) ListByEvent(ctx context.Context, eventID string) ([]core.Dispatch, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	var records []dispatchRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Dispatch, 0, len(records))
	for i := range records {
		out = append(out, dispatchRecordToDomain(&records[i]))
	}
	return out, nil
}

// ListDue returns failed rows whose retry is scheduled and due. Rows with a
// NULL next_retry_at are permanently failed and stay out of the worker's
// queue; an operator replay is the only way back in.
func (s *DispatchStore) ListDue(ctx context.Context, now time.Time, limit int) ([]core.Dispatch, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	var records []dispatchRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", dispatchStatusFailed).
		Where("?TableAlias.next_retry_at IS NOT NULL").
		Where("?TableAlias.next_retry_at <= ?", now.UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Dispatch, 0, len(records))
	for i := range records {
		out = append(out, dispatchRecordToDomain(&records[i]))
	}
	return out, nil
}

func (s *DispatchStore) List(ctx context.Context, filter core.DispatchFilter) ([]core.DispatchDetail, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	perPage, offset := pageWindow(filter.Limit, filter.Page)

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if consumer := strings.TrimSpace(filter.Consumer); consumer != "" {
		selectors = append(selectors, repository.SelectBy("consumer", "=", consumer))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}

	details := make([]core.DispatchDetail, 0, len(records))
	eventCache := map[string]core.Event{}
	for _, record := range records {
		detail := core.DispatchDetail{Dispatch: dispatchRecordToDomain(record)}
		if s.events != nil {
			event, ok := eventCache[detail.EventID]
			if !ok {
				fetched, getErr := s.events.GetByID(ctx, detail.EventID)
				if getErr == nil {
					event = fetched
					eventCache[detail.EventID] = fetched
					ok = true
				}
			}
			if ok {
				detail.EventExternalID = event.ExternalID
				detail.EventCategory = event.Category
				detail.TenantHint = event.TenantHint
			}
		}
		details = append(details, detail)
	}
	return details, total, nil
}

// Reclaim sweeps processing rows whose claim went stale, marking them failed
// and immediately due unless the attempt budget is spent.
func (s *DispatchStore) Reclaim(ctx context.Context, olderThan time.Time, maxAttempts int, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", dispatchStatusFailed).
		Set("attempts = attempts + 1").
		Set("last_error = ?", "reclaimed: processing deadline exceeded").
		Set("updated_at = ?", now.UTC()).
		Where("status = ?", dispatchStatusProcessing).
		Where("updated_at < ?", olderThan.UTC())
	if maxAttempts > 0 {
		query = query.Set(
			"next_retry_at = CASE WHEN attempts + 1 >= ? THEN NULL ELSE ? END",
			maxAttempts,
			now.UTC(),
		)
	} else {
		query = query.Set("next_retry_at = ?", now.UTC())
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
