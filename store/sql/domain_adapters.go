package sqlstore

import (
	"time"

	"github.com/goliatone/go-ingest/core"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageWindow(limit, page int) (perPage, offset int) {
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

func eventRecordToDomain(record *ingestEventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	event := core.Event{
		ID:         record.ID,
		ExternalID: record.ExternalID,
		Category:   record.Category,
		Payload:    copyAnyMap(record.Payload),
		TenantHint: record.TenantHint,
		ReceivedAt: record.ReceivedAt,
		Outcome:    core.EventOutcome(record.Outcome),
		Attempts:   record.Attempts,
		LastError:  record.LastError,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	event.OccurredAt = cloneTimePointer(record.OccurredAt)
	return event
}

func dispatchRecordToDomain(record *dispatchRecord) core.Dispatch {
	if record == nil {
		return core.Dispatch{}
	}
	dispatch := core.Dispatch{
		ID:        record.ID,
		EventID:   record.EventID,
		Consumer:  record.Consumer,
		Status:    core.DispatchStatus(record.Status),
		Attempts:  record.Attempts,
		LastError: record.LastError,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	dispatch.NextRetryAt = cloneTimePointer(record.NextRetryAt)
	return dispatch
}

func auditRecordToDomain(record *auditEntryRecord) core.AuditEntry {
	if record == nil {
		return core.AuditEntry{}
	}
	return core.AuditEntry{
		ID:         record.ID,
		EventID:    record.EventID,
		DispatchID: record.DispatchID,
		Actor:      record.Actor,
		Action:     core.AuditAction(record.Action),
		Note:       record.Note,
		Metadata:   copyAnyMap(record.Metadata),
		CreatedAt:  record.CreatedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
