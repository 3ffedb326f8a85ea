package query

import (
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	TypeListDispatches = "ingest.query.dispatches.list"
	TypeListEvents     = "ingest.query.events.list"
	TypeGetEvent       = "ingest.query.events.get"
	TypeListAuditTrail = "ingest.query.audit.list"
	TypeReplayTargets  = "ingest.query.replay.targets"
)

type ListDispatchesMessage struct {
	Filter core.DispatchFilter
}

func (ListDispatchesMessage) Type() string { return TypeListDispatches }

func (m ListDispatchesMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	return nil
}

type ListEventsMessage struct {
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	return nil
}

type GetEventMessage struct {
	Ref core.EventRef
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	id := strings.TrimSpace(m.Ref.ID)
	externalID := strings.TrimSpace(m.Ref.ExternalID)
	if id == "" && externalID == "" {
		return queryValidationError("ref", "an event id or external id is required")
	}
	if id != "" && externalID != "" {
		return queryInvalidInputError("query: event id and external id are mutually exclusive")
	}
	return nil
}

type ListAuditTrailMessage struct {
	Filter core.AuditFilter
}

func (ListAuditTrailMessage) Type() string { return TypeListAuditTrail }

func (m ListAuditTrailMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	return nil
}

// ReplayTargetsMessage resolves a replay selector without executing it. The
// CLI preview path and the replay commands share the same resolution.
type ReplayTargetsMessage struct {
	Selector core.ReplaySelector
}

func (ReplayTargetsMessage) Type() string { return TypeReplayTargets }

func (m ReplayTargetsMessage) Validate() error {
	if len(m.Selector.DispatchIDs) == 0 && len(m.Selector.EventIDs) == 0 &&
		strings.TrimSpace(string(m.Selector.Status)) == "" {
		return queryValidationError("selector", "selector must name dispatch ids, event ids, or a status")
	}
	if m.Selector.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}
