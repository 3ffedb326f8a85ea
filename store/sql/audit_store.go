package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{db: db, repo: repo}, nil
}

func (s *AuditStore) Record(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(string(entry.Action)) == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	record := &auditEntryRecord{
		ID:         strings.TrimSpace(entry.ID),
		EventID:    strings.TrimSpace(entry.EventID),
		DispatchID: strings.TrimSpace(entry.DispatchID),
		Actor:      strings.TrimSpace(entry.Actor),
		Action:     string(entry.Action),
		Note:       strings.TrimSpace(entry.Note),
		Metadata:   copyAnyMap(entry.Metadata),
		CreatedAt:  createdAt.UTC(),
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter core.AuditFilter) ([]core.AuditEntry, int, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("sqlstore: audit store is not configured")
	}
	perPage, offset := pageWindow(filter.Limit, filter.Page)

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at ASC"),
		repository.SelectPaginate(perPage, offset),
	}
	if eventID := strings.TrimSpace(filter.EventID); eventID != "" {
		selectors = append(selectors, repository.SelectBy("event_id", "=", eventID))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, 0, err
	}
	items := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		items = append(items, auditRecordToDomain(record))
	}
	return items, total, nil
}
