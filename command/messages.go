package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	TypeIngestEvent      = "ingest.command.event.ingest"
	TypeReplayDispatches = "ingest.command.replay.dispatches"
	TypeReplayEvents     = "ingest.command.replay.events"
	TypeReplayByStatus   = "ingest.command.replay.by_status"
	TypeRunRetryTick     = "ingest.command.retry.tick"
)

type IngestEventMessage struct {
	Input core.EventInput
}

func (IngestEventMessage) Type() string { return TypeIngestEvent }

func (m IngestEventMessage) Validate() error {
	if strings.TrimSpace(m.Input.ExternalID) == "" {
		return commandValidationError("external_id", "external id is required")
	}
	if strings.TrimSpace(m.Input.Category) == "" {
		return commandValidationError("category", "category is required")
	}
	return nil
}

// ReplayDispatchesMessage re-runs explicit ledger rows. Preview resolves the
// targets without executing them.
type ReplayDispatchesMessage struct {
	DispatchIDs []string
	Preview     bool
}

func (ReplayDispatchesMessage) Type() string { return TypeReplayDispatches }

func (m ReplayDispatchesMessage) Validate() error {
	if len(m.DispatchIDs) == 0 {
		return commandValidationError("dispatch_ids", "at least one dispatch id is required")
	}
	for _, id := range m.DispatchIDs {
		if strings.TrimSpace(id) == "" {
			return commandValidationError("dispatch_ids", "dispatch ids must not be blank")
		}
	}
	return nil
}

type ReplayEventsMessage struct {
	EventIDs []string
	Preview  bool
}

func (ReplayEventsMessage) Type() string { return TypeReplayEvents }

func (m ReplayEventsMessage) Validate() error {
	if len(m.EventIDs) == 0 {
		return commandValidationError("event_ids", "at least one event id is required")
	}
	for _, id := range m.EventIDs {
		if strings.TrimSpace(id) == "" {
			return commandValidationError("event_ids", "event ids must not be blank")
		}
	}
	return nil
}

type ReplayByStatusMessage struct {
	Status  core.DispatchStatus
	Limit   int
	Preview bool
}

func (ReplayByStatusMessage) Type() string { return TypeReplayByStatus }

func (m ReplayByStatusMessage) Validate() error {
	if strings.TrimSpace(string(m.Status)) == "" {
		return commandValidationError("status", "status is required")
	}
	if !validReplayStatus(m.Status) {
		return commandInvalidInputError(fmt.Sprintf("command: unknown dispatch status %q", m.Status))
	}
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type RunRetryTickMessage struct{}

func (RunRetryTickMessage) Type() string { return TypeRunRetryTick }

func (RunRetryTickMessage) Validate() error { return nil }

func validReplayStatus(status core.DispatchStatus) bool {
	switch status {
	case core.DispatchStatusPending, core.DispatchStatusProcessing,
		core.DispatchStatusSucceeded, core.DispatchStatusFailed:
		return true
	default:
		return false
	}
}
