package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEventOutcomeTransition   = errors.New("core: invalid event outcome transition")
	ErrInvalidDispatchStatusTransition = errors.New("core: invalid dispatch status transition")
	ErrInvalidEventInput               = errors.New("core: invalid event input")
)

type EventOutcome string

const (
	EventOutcomePending   EventOutcome = "pending"
	EventOutcomeProcessed EventOutcome = "processed"
	EventOutcomeFailed    EventOutcome = "failed"
)

// Event is one inbound notification, deduplicated by ExternalID. The payload
// is stored as delivered on first receipt and never rewritten.
type Event struct {
	ID         string
	ExternalID string
	Category   string
	Payload    map[string]any
	TenantHint string
	OccurredAt *time.Time
	ReceivedAt time.Time
	Outcome    EventOutcome
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e *Event) TransitionTo(outcome EventOutcome, reason string, now time.Time) error {
	if e == nil {
		return nil
	}
	if e.Outcome == outcome {
		e.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			e.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !eventOutcomeTransitionAllowed(e.Outcome, outcome) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEventOutcomeTransition, e.Outcome, outcome)
	}
	e.Outcome = outcome
	e.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		e.LastError = strings.TrimSpace(reason)
	}
	if outcome == EventOutcomeProcessed {
		e.LastError = ""
	}
	return nil
}

func eventOutcomeTransitionAllowed(current, next EventOutcome) bool {
	allowed := map[EventOutcome]map[EventOutcome]struct{}{
		EventOutcomePending: {
			EventOutcomeProcessed: {},
			EventOutcomeFailed:    {},
		},
		EventOutcomeFailed: {
			EventOutcomeProcessed: {},
		},
		EventOutcomeProcessed: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// EventInput is the verified envelope handed to the store by the intake
// boundary. Authenticity is the upstream verifier's problem.
type EventInput struct {
	ExternalID string
	Category   string
	Payload    map[string]any
	TenantHint string
	OccurredAt *time.Time
}

func (in EventInput) Validate() error {
	if strings.TrimSpace(in.ExternalID) == "" {
		return fmt.Errorf("%w: external id is required", ErrInvalidEventInput)
	}
	if strings.TrimSpace(in.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidEventInput)
	}
	return nil
}

type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "pending"
	DispatchStatusProcessing DispatchStatus = "processing"
	DispatchStatusSucceeded  DispatchStatus = "succeeded"
	DispatchStatusFailed     DispatchStatus = "failed"
)

// Dispatch tracks one consumer's attempts against one event. Rows are unique
// on (EventID, Consumer) and mutated only through the claim protocol.
type Dispatch struct {
	ID          string
	EventID     string
	Consumer    string
	Status      DispatchStatus
	Attempts    int
	LastError   string
	NextRetryAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (d *Dispatch) TransitionTo(status DispatchStatus, now time.Time) error {
	if d == nil {
		return nil
	}
	if d.Status == status {
		d.UpdatedAt = now
		return nil
	}
	if !dispatchTransitionAllowed(d.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidDispatchStatusTransition, d.Status, status)
	}
	d.Status = status
	d.UpdatedAt = now
	return nil
}

func dispatchTransitionAllowed(current, next DispatchStatus) bool {
	allowed := map[DispatchStatus]map[DispatchStatus]struct{}{
		DispatchStatusPending: {
			DispatchStatusProcessing: {},
		},
		DispatchStatusProcessing: {
			DispatchStatusSucceeded: {},
			DispatchStatusFailed:    {},
		},
		DispatchStatusFailed: {
			DispatchStatusProcessing: {},
		},
		DispatchStatusSucceeded: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Claimable reports whether the row satisfies the claim predicate: pending or
// failed, with no retry scheduled or a retry that is already due.
func (d Dispatch) Claimable(now time.Time) bool {
	if d.Status != DispatchStatusPending && d.Status != DispatchStatusFailed {
		return false
	}
	if d.NextRetryAt == nil {
		return true
	}
	return !d.NextRetryAt.After(now)
}

// Exhausted reports whether the row reached the permanent failure state:
// failed after at least one attempt with no retry scheduled.
func (d Dispatch) Exhausted() bool {
	return d.Status == DispatchStatusFailed && d.NextRetryAt == nil && d.Attempts > 0
}

// ConsumerSummary is the opaque fact document a consumer returns on success.
type ConsumerSummary map[string]any

// BroadcastContext aggregates the summaries of the consumers that succeeded
// in one dispatch run. It is published once and discarded, never persisted.
type BroadcastContext struct {
	EventID    string
	ExternalID string
	Category   string
	TenantHint string
	OccurredAt *time.Time
	Facts      map[string]ConsumerSummary
}

func (b *BroadcastContext) Merge(consumer string, summary ConsumerSummary) {
	if b == nil || strings.TrimSpace(consumer) == "" {
		return
	}
	if b.Facts == nil {
		b.Facts = map[string]ConsumerSummary{}
	}
	merged := ConsumerSummary{}
	for k, v := range summary {
		merged[k] = v
	}
	b.Facts[consumer] = merged
}

func (b BroadcastContext) Empty() bool {
	return len(b.Facts) == 0
}

type ConsumerOutcome struct {
	Consumer string
	Status   DispatchStatus
	Attempts int
	Error    string
	Skipped  bool
}

// DispatchResult summarizes one DispatchNow or ReplayDispatch run.
type DispatchResult struct {
	EventID   string
	Outcome   EventOutcome
	Consumers []ConsumerOutcome
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Published bool
}

// DispatchDetail is the denormalized triage row the operator surface returns.
type DispatchDetail struct {
	Dispatch
	EventExternalID string
	EventCategory   string
	TenantHint      string
}

type AuditAction string

const (
	AuditActionEventReceived     AuditAction = "event_received"
	AuditActionEventDuplicate    AuditAction = "event_duplicate"
	AuditActionEventUnconsumed   AuditAction = "event_unconsumed"
	AuditActionDispatchSucceeded AuditAction = "dispatch_succeeded"
	AuditActionDispatchFailed    AuditAction = "dispatch_failed"
	AuditActionDispatchExhausted AuditAction = "dispatch_exhausted"
	AuditActionReplayRequested   AuditAction = "replay_requested"
	AuditActionClaimsReclaimed   AuditAction = "claims_reclaimed"
)

const (
	AuditActorIntake   = "intake"
	AuditActorWorker   = "worker"
	AuditActorOperator = "operator"
)

type AuditEntry struct {
	ID         string
	EventID    string
	DispatchID string
	Actor      string
	Action     AuditAction
	Note       string
	Metadata   map[string]any
	CreatedAt  time.Time
}
