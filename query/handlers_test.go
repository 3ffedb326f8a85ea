package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-ingest/core"
)

func TestListDispatchesQuery_QueryDelegates(t *testing.T) {
	expected := core.DispatchPage{
		Items: []core.DispatchDetail{
			{
				Dispatch: core.Dispatch{
					ID:       "disp_1",
					EventID:  "evt_1",
					Consumer: "ledger",
					Status:   core.DispatchStatusFailed,
					Attempts: 2,
				},
				EventExternalID: "whk_1",
				EventCategory:   "payment.captured",
			},
		},
		Page:    1,
		PerPage: 20,
		Total:   1,
	}
	called := false
	reader := stubDispatchReader{
		listFn: func(_ context.Context, filter core.DispatchFilter) (core.DispatchPage, error) {
			called = true
			if filter.Status != core.DispatchStatusFailed {
				t.Fatalf("unexpected filter status: %q", filter.Status)
			}
			if filter.Consumer != "ledger" {
				t.Fatalf("unexpected filter consumer: %q", filter.Consumer)
			}
			return expected, nil
		},
	}

	qry := NewListDispatchesQuery(reader)
	result, err := qry.Query(context.Background(), ListDispatchesMessage{
		Filter: core.DispatchFilter{Status: core.DispatchStatusFailed, Consumer: "ledger", Limit: 20, Page: 1},
	})
	if err != nil {
		t.Fatalf("query dispatches: %v", err)
	}
	if !called {
		t.Fatalf("expected dispatch reader invocation")
	}
	if result.Total != expected.Total || len(result.Items) != 1 {
		t.Fatalf("unexpected dispatch page: %#v", result)
	}
	if result.Items[0].EventExternalID != "whk_1" {
		t.Fatalf("unexpected dispatch row: %#v", result.Items[0])
	}
}

func TestListEventsQuery_QueryDelegates(t *testing.T) {
	expected := core.EventPage{
		Items:   []core.Event{{ID: "evt_1", ExternalID: "whk_1", Category: "payment.captured", Outcome: core.EventOutcomeFailed}},
		Page:    1,
		PerPage: 20,
		Total:   1,
	}
	called := false
	reader := stubEventReader{
		listFn: func(_ context.Context, filter core.EventFilter) (core.EventPage, error) {
			called = true
			if filter.Outcome != core.EventOutcomeFailed {
				t.Fatalf("unexpected filter outcome: %q", filter.Outcome)
			}
			return expected, nil
		},
	}

	qry := NewListEventsQuery(reader)
	result, err := qry.Query(context.Background(), ListEventsMessage{
		Filter: core.EventFilter{Outcome: core.EventOutcomeFailed, Limit: 20, Page: 1},
	})
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if !called {
		t.Fatalf("expected event reader invocation")
	}
	if result.Total != expected.Total || len(result.Items) != 1 {
		t.Fatalf("unexpected event page: %#v", result)
	}
}

func TestGetEventQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubEventReader{
		getFn: func(_ context.Context, ref core.EventRef) (core.Event, []core.Dispatch, error) {
			called = true
			if ref.ExternalID != "whk_1" {
				t.Fatalf("unexpected ref: %#v", ref)
			}
			return core.Event{ID: "evt_1", ExternalID: "whk_1"},
				[]core.Dispatch{{ID: "disp_1", EventID: "evt_1", Consumer: "ledger"}}, nil
		},
	}

	qry := NewGetEventQuery(reader)
	detail, err := qry.Query(context.Background(), GetEventMessage{Ref: core.EventRef{ExternalID: "whk_1"}})
	if err != nil {
		t.Fatalf("query event: %v", err)
	}
	if !called {
		t.Fatalf("expected event reader invocation")
	}
	if detail.Event.ID != "evt_1" {
		t.Fatalf("unexpected event: %#v", detail.Event)
	}
	if len(detail.Dispatches) != 1 || detail.Dispatches[0].ID != "disp_1" {
		t.Fatalf("unexpected dispatches: %#v", detail.Dispatches)
	}
}

func TestListAuditTrailQuery_QueryDelegates(t *testing.T) {
	expected := core.AuditPage{
		Items: []core.AuditEntry{
			{ID: "aud_1", EventID: "evt_1", Action: core.AuditActionEventReceived},
		},
		Page:    1,
		PerPage: 50,
		Total:   1,
	}
	called := false
	reader := stubAuditReader{
		listFn: func(_ context.Context, filter core.AuditFilter) (core.AuditPage, error) {
			called = true
			if filter.EventID != "evt_1" {
				t.Fatalf("unexpected filter event id: %q", filter.EventID)
			}
			return expected, nil
		},
	}

	qry := NewListAuditTrailQuery(reader)
	result, err := qry.Query(context.Background(), ListAuditTrailMessage{
		Filter: core.AuditFilter{EventID: "evt_1", Limit: 50, Page: 1},
	})
	if err != nil {
		t.Fatalf("query audit trail: %v", err)
	}
	if !called {
		t.Fatalf("expected audit reader invocation")
	}
	if result.Total != expected.Total || len(result.Items) != 1 {
		t.Fatalf("unexpected audit page: %#v", result)
	}
}

func TestReplayTargetsQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubReplayTargetReader{
		resolveFn: func(_ context.Context, selector core.ReplaySelector) ([]core.ReplayTarget, error) {
			called = true
			if selector.Status != core.DispatchStatusFailed || selector.Limit != 5 {
				t.Fatalf("unexpected selector: %#v", selector)
			}
			return []core.ReplayTarget{
				{DispatchID: "disp_1", EventID: "evt_1", Consumer: "ledger", Status: core.DispatchStatusFailed, Attempts: 3},
			}, nil
		},
	}

	qry := NewReplayTargetsQuery(reader)
	targets, err := qry.Query(context.Background(), ReplayTargetsMessage{
		Selector: core.ReplaySelector{Status: core.DispatchStatusFailed, Limit: 5},
	})
	if err != nil {
		t.Fatalf("query replay targets: %v", err)
	}
	if !called {
		t.Fatalf("expected replay target reader invocation")
	}
	if len(targets) != 1 || targets[0].DispatchID != "disp_1" {
		t.Fatalf("unexpected targets: %#v", targets)
	}
}

func TestQueryMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{
			name:    "list dispatches valid",
			msg:     ListDispatchesMessage{Filter: core.DispatchFilter{Limit: 20, Page: 1}},
			wantErr: false,
		},
		{
			name:    "list dispatches negative limit",
			msg:     ListDispatchesMessage{Filter: core.DispatchFilter{Limit: -1}},
			wantErr: true,
		},
		{
			name:    "list events negative page",
			msg:     ListEventsMessage{Filter: core.EventFilter{Page: -1}},
			wantErr: true,
		},
		{
			name:    "get event by id",
			msg:     GetEventMessage{Ref: core.EventRef{ID: "evt_1"}},
			wantErr: false,
		},
		{
			name:    "get event missing ref",
			msg:     GetEventMessage{},
			wantErr: true,
		},
		{
			name:    "get event both refs",
			msg:     GetEventMessage{Ref: core.EventRef{ID: "evt_1", ExternalID: "whk_1"}},
			wantErr: true,
		},
		{
			name:    "list audit trail valid",
			msg:     ListAuditTrailMessage{Filter: core.AuditFilter{EventID: "evt_1", Limit: 50}},
			wantErr: false,
		},
		{
			name:    "replay targets valid",
			msg:     ReplayTargetsMessage{Selector: core.ReplaySelector{Status: core.DispatchStatusFailed}},
			wantErr: false,
		},
		{
			name:    "replay targets empty selector",
			msg:     ReplayTargetsMessage{},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

type stubDispatchReader struct {
	listFn func(ctx context.Context, filter core.DispatchFilter) (core.DispatchPage, error)
}

func (s stubDispatchReader) ListDispatches(ctx context.Context, filter core.DispatchFilter) (core.DispatchPage, error) {
	if s.listFn == nil {
		return core.DispatchPage{}, fmt.Errorf("list dispatches not configured")
	}
	return s.listFn(ctx, filter)
}

type stubEventReader struct {
	listFn func(ctx context.Context, filter core.EventFilter) (core.EventPage, error)
	getFn  func(ctx context.Context, ref core.EventRef) (core.Event, []core.Dispatch, error)
}

func (s stubEventReader) ListEvents(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if s.listFn == nil {
		return core.EventPage{}, fmt.Errorf("list events not configured")
	}
	return s.listFn(ctx, filter)
}

func (s stubEventReader) GetEvent(ctx context.Context, ref core.EventRef) (core.Event, []core.Dispatch, error) {
	if s.getFn == nil {
		return core.Event{}, nil, fmt.Errorf("get event not configured")
	}
	return s.getFn(ctx, ref)
}

type stubAuditReader struct {
	listFn func(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error)
}

func (s stubAuditReader) ListAuditTrail(ctx context.Context, filter core.AuditFilter) (core.AuditPage, error) {
	if s.listFn == nil {
		return core.AuditPage{}, fmt.Errorf("list audit trail not configured")
	}
	return s.listFn(ctx, filter)
}

type stubReplayTargetReader struct {
	resolveFn func(ctx context.Context, selector core.ReplaySelector) ([]core.ReplayTarget, error)
}

func (s stubReplayTargetReader) ResolveReplayTargets(ctx context.Context, selector core.ReplaySelector) ([]core.ReplayTarget, error) {
	if s.resolveFn == nil {
		return nil, fmt.Errorf("resolve replay targets not configured")
	}
	return s.resolveFn(ctx, selector)
}

var (
	_ DispatchReader     = stubDispatchReader{}
	_ EventReader        = stubEventReader{}
	_ AuditReader        = stubAuditReader{}
	_ ReplayTargetReader = stubReplayTargetReader{}
)
