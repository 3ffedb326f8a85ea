package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ingest/core"
)

var (
	_ gocmd.Querier[ListDispatchesMessage, core.DispatchPage]  = (*ListDispatchesQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, core.EventPage]         = (*ListEventsQuery)(nil)
	_ gocmd.Querier[GetEventMessage, EventDetail]              = (*GetEventQuery)(nil)
	_ gocmd.Querier[ListAuditTrailMessage, core.AuditPage]     = (*ListAuditTrailQuery)(nil)
	_ gocmd.Querier[ReplayTargetsMessage, []core.ReplayTarget] = (*ReplayTargetsQuery)(nil)
)
