package query

import (
	"context"

	"github.com/goliatone/go-ingest/core"
)

type DispatchReader interface {
	ListDispatches(ctx context.Context, filter core.DispatchFilter) (core.DispatchPage, error)
}

type EventReader interface {
	ListEvents(ctx context.Context, filter core.EventFilter) (core.EventPage, error)
	GetEvent(ctx context.Context, ref core.EventRef) (core.Event, []core.Dispatch, error)
}

type AuditReader interface {
	ListAuditTrail(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error)
}

type ReplayTargetReader interface {
	ResolveReplayTargets(ctx context.Context, selector core.ReplaySelector) ([]core.ReplayTarget, error)
}

// EventDetail pairs an event with its ledger rows for the operator
// drill-down view.
type EventDetail struct {
	Event      core.Event
	Dispatches []core.Dispatch
}

type ListDispatchesQuery struct {
	reader DispatchReader
}

func NewListDispatchesQuery(reader DispatchReader) *ListDispatchesQuery {
	return &ListDispatchesQuery{reader: reader}
}

func (q *ListDispatchesQuery) Query(ctx context.Context, msg ListDispatchesMessage) (core.DispatchPage, error) {
	if q == nil || q.reader == nil {
		return core.DispatchPage{}, queryDependencyError("query: dispatch reader is required")
	}
	return q.reader.ListDispatches(ctx, msg.Filter)
}

type ListEventsQuery struct {
	reader EventReader
}

func NewListEventsQuery(reader EventReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) (core.EventPage, error) {
	if q == nil || q.reader == nil {
		return core.EventPage{}, queryDependencyError("query: event reader is required")
	}
	return q.reader.ListEvents(ctx, msg.Filter)
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (EventDetail, error) {
	if q == nil || q.reader == nil {
		return EventDetail{}, queryDependencyError("query: event reader is required")
	}
	event, dispatches, err := q.reader.GetEvent(ctx, msg.Ref)
	if err != nil {
		return EventDetail{}, err
	}
	return EventDetail{Event: event, Dispatches: dispatches}, nil
}

type ListAuditTrailQuery struct {
	reader AuditReader
}

func NewListAuditTrailQuery(reader AuditReader) *ListAuditTrailQuery {
	return &ListAuditTrailQuery{reader: reader}
}

func (q *ListAuditTrailQuery) Query(ctx context.Context, msg ListAuditTrailMessage) (core.AuditPage, error) {
	if q == nil || q.reader == nil {
		return core.AuditPage{}, queryDependencyError("query: audit reader is required")
	}
	return q.reader.ListAuditTrail(ctx, msg.Filter)
}

type ReplayTargetsQuery struct {
	reader ReplayTargetReader
}

func NewReplayTargetsQuery(reader ReplayTargetReader) *ReplayTargetsQuery {
	return &ReplayTargetsQuery{reader: reader}
}

func (q *ReplayTargetsQuery) Query(ctx context.Context, msg ReplayTargetsMessage) ([]core.ReplayTarget, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: replay target reader is required")
	}
	return q.reader.ResolveReplayTargets(ctx, msg.Selector)
}
