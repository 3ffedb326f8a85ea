package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IngestEventMessage]      = (*IngestEventCommand)(nil)
	_ gocmd.Commander[ReplayDispatchesMessage] = (*ReplayDispatchesCommand)(nil)
	_ gocmd.Commander[ReplayEventsMessage]     = (*ReplayEventsCommand)(nil)
	_ gocmd.Commander[ReplayByStatusMessage]   = (*ReplayByStatusCommand)(nil)
	_ gocmd.Commander[RunRetryTickMessage]     = (*RunRetryTickCommand)(nil)
)
