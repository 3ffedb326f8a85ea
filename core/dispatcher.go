package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Dispatcher orchestrates one event through its registered consumers: ensure
// and claim a ledger row per consumer, invoke, record the outcome, then fold
// the per-row states into the event's overall outcome. Consumer failures are
// captured in the ledger, never returned; returned errors are storage or
// configuration problems.
type Dispatcher struct {
	Events      EventStore
	Ledger      DispatchLedger
	Registry    Registry
	Broadcaster BroadcastPublisher
	Audit       AuditTrail
	Logger      Logger
	RetryPolicy RetryPolicy
	MaxAttempts int
	Now         func() time.Time
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		RetryPolicy: ExponentialRetryPolicy{},
		MaxAttempts: defaultRetryMaxAttempts,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (d *Dispatcher) DispatchNow(ctx context.Context, event Event) (DispatchResult, error) {
	if err := d.ready(); err != nil {
		return DispatchResult{}, err
	}
	if strings.TrimSpace(event.ID) == "" {
		return DispatchResult{}, fmt.Errorf("core: event id is required")
	}

	result := DispatchResult{EventID: event.ID}
	broadcast := newBroadcastContext(event)

	consumers := d.Registry.Resolve(event.Category)
	if len(consumers) == 0 {
		// Vacuous success: no consumer wants the category, the event is done.
		d.auditRecord(ctx, AuditEntry{
			EventID: event.ID,
			Actor:   AuditActorWorker,
			Action:  AuditActionEventUnconsumed,
			Note:    event.Category,
		})
		if _, err := d.Events.RecordOutcome(ctx, event.ID, EventOutcomeProcessed, ""); err != nil {
			return result, fmt.Errorf("core: record outcome for event %s: %w", event.ID, err)
		}
		result.Outcome = EventOutcomeProcessed
		return result, nil
	}

	var runErr error
	for _, consumer := range consumers {
		outcome, err := d.runConsumer(ctx, event, consumer, &broadcast)
		if err != nil {
			runErr = joinErrors(runErr, err)
			continue
		}
		appendOutcome(&result, outcome)
	}

	if err := d.finalize(ctx, event, &result, broadcast); err != nil {
		runErr = joinErrors(runErr, err)
	}
	return result, runErr
}

// ReplayDispatch re-runs a single (event, consumer) row. Every retry origin
// goes through here: the background worker, cohort replays, and explicit
// operator requests. A lost claim is a skip, not an error.
func (d *Dispatcher) ReplayDispatch(ctx context.Context, dispatchID string) (DispatchResult, error) {
	if err := d.ready(); err != nil {
		return DispatchResult{}, err
	}
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return DispatchResult{}, fmt.Errorf("core: dispatch id is required")
	}

	dispatch, err := d.Ledger.Get(ctx, dispatchID)
	if err != nil {
		return DispatchResult{}, err
	}
	event, err := d.Events.GetByID(ctx, dispatch.EventID)
	if err != nil {
		return DispatchResult{}, err
	}
	consumer, ok := d.resolveConsumer(event.Category, dispatch.Consumer)
	if !ok {
		return DispatchResult{}, fmt.Errorf("core: consumer %q is not registered for category %q", dispatch.Consumer, event.Category)
	}

	result := DispatchResult{EventID: event.ID}
	broadcast := newBroadcastContext(event)

	outcome, err := d.runConsumer(ctx, event, consumer, &broadcast)
	if err != nil {
		return result, err
	}
	appendOutcome(&result, outcome)

	if err := d.finalize(ctx, event, &result, broadcast); err != nil {
		return result, err
	}
	return result, nil
}

func (d *Dispatcher) runConsumer(
	ctx context.Context,
	event Event,
	consumer RegisteredConsumer,
	broadcast *BroadcastContext,
) (ConsumerOutcome, error) {
	now := d.clock()

	dispatch, err := d.Ledger.Ensure(ctx, event.ID, consumer.Name)
	if err != nil {
		return ConsumerOutcome{}, fmt.Errorf("core: ensure dispatch for %s/%s: %w", event.ID, consumer.Name, err)
	}

	claimed, err := d.Ledger.Claim(ctx, dispatch.ID, now)
	if err != nil {
		return ConsumerOutcome{}, fmt.Errorf("core: claim dispatch %s: %w", dispatch.ID, err)
	}
	if !claimed {
		return ConsumerOutcome{
			Consumer: consumer.Name,
			Status:   dispatch.Status,
			Attempts: dispatch.Attempts,
			Skipped:  true,
		}, nil
	}

	summary, consumeErr := consumer.Consume(ctx, event)
	now = d.clock()
	if consumeErr == nil {
		if err := d.Ledger.RecordSuccess(ctx, dispatch.ID, now); err != nil {
			return ConsumerOutcome{}, fmt.Errorf("core: record success for dispatch %s: %w", dispatch.ID, err)
		}
		broadcast.Merge(consumer.Name, summary)
		d.auditRecord(ctx, AuditEntry{
			EventID:    event.ID,
			DispatchID: dispatch.ID,
			Actor:      AuditActorWorker,
			Action:     AuditActionDispatchSucceeded,
			Note:       consumer.Name,
		})
		return ConsumerOutcome{
			Consumer: consumer.Name,
			Status:   DispatchStatusSucceeded,
			Attempts: dispatch.Attempts + 1,
		}, nil
	}

	attempt := dispatch.Attempts + 1
	var nextRetryAt time.Time
	if attempt < d.maxAttempts() {
		nextRetryAt = now.Add(d.retryPolicy().NextDelay(attempt))
	}
	updated, err := d.Ledger.RecordFailure(ctx, dispatch.ID, consumeErr.Error(), nextRetryAt, d.maxAttempts())
	if err != nil {
		return ConsumerOutcome{}, fmt.Errorf("core: record failure for dispatch %s: %w", dispatch.ID, err)
	}
	action := AuditActionDispatchFailed
	if updated.Exhausted() {
		action = AuditActionDispatchExhausted
	}
	d.auditRecord(ctx, AuditEntry{
		EventID:    event.ID,
		DispatchID: dispatch.ID,
		Actor:      AuditActorWorker,
		Action:     action,
		Note:       consumeErr.Error(),
	})
	return ConsumerOutcome{
		Consumer: consumer.Name,
		Status:   DispatchStatusFailed,
		Attempts: updated.Attempts,
		Error:    consumeErr.Error(),
	}, nil
}

// finalize recomputes the event's overall outcome from the canonical ledger
// rows and publishes the broadcast when the run produced new successes. A
// publish failure keeps succeeded rows succeeded but leaves the event failed
// and operator-visible; replays never re-run those consumers.
func (d *Dispatcher) finalize(ctx context.Context, event Event, result *DispatchResult, broadcast BroadcastContext) error {
	rows, err := d.Ledger.ListByEvent(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("core: list dispatches for event %s: %w", event.ID, err)
	}

	var publishErr error
	if result.Succeeded > 0 && !broadcast.Empty() && d.Broadcaster != nil {
		publishErr = d.Broadcaster.Publish(ctx, event.TenantHint, broadcast)
		result.Published = publishErr == nil
	}

	outcome := EventOutcomeProcessed
	reason := ""
	if pending := unfinishedRows(rows); pending != "" {
		outcome = EventOutcomeFailed
		reason = pending
	}
	if publishErr != nil {
		outcome = EventOutcomeFailed
		reason = strings.TrimSpace("broadcast publish failed: " + publishErr.Error())
	}
	result.Outcome = outcome

	if result.Attempted == 0 && publishErr == nil {
		// Nothing ran: every claim was lost or infrastructure refused the
		// run. Do not burn an event attempt on it.
		return nil
	}
	if _, err := d.Events.RecordOutcome(ctx, event.ID, outcome, reason); err != nil {
		return fmt.Errorf("core: record outcome for event %s: %w", event.ID, err)
	}
	return nil
}

func (d *Dispatcher) resolveConsumer(category, name string) (RegisteredConsumer, bool) {
	for _, consumer := range d.Registry.Resolve(category) {
		if consumer.Name == name {
			return consumer, true
		}
	}
	return RegisteredConsumer{}, false
}

func (d *Dispatcher) auditRecord(ctx context.Context, entry AuditEntry) {
	if d == nil || d.Audit == nil {
		return
	}
	if err := d.Audit.Record(ctx, entry); err != nil && d.Logger != nil {
		d.Logger.Error("audit record failed", "action", string(entry.Action), "event_id", entry.EventID, "error", err)
	}
}

func (d *Dispatcher) ready() error {
	if d == nil || d.Events == nil || d.Ledger == nil || d.Registry == nil {
		return fmt.Errorf("core: dispatcher requires event store, ledger, and registry")
	}
	return nil
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts <= 0 {
		return defaultRetryMaxAttempts
	}
	return d.MaxAttempts
}

func (d *Dispatcher) retryPolicy() RetryPolicy {
	if d.RetryPolicy == nil {
		return ExponentialRetryPolicy{}
	}
	return d.RetryPolicy
}

func (d *Dispatcher) clock() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

func newBroadcastContext(event Event) BroadcastContext {
	return BroadcastContext{
		EventID:    event.ID,
		ExternalID: event.ExternalID,
		Category:   event.Category,
		TenantHint: event.TenantHint,
		OccurredAt: event.OccurredAt,
	}
}

func appendOutcome(result *DispatchResult, outcome ConsumerOutcome) {
	result.Consumers = append(result.Consumers, outcome)
	switch {
	case outcome.Skipped:
		result.Skipped++
	case outcome.Status == DispatchStatusSucceeded:
		result.Attempted++
		result.Succeeded++
	default:
		result.Attempted++
		result.Failed++
	}
}

// unfinishedRows summarizes rows that keep the event from being processed.
// Empty string means every row succeeded (or no consumers were registered).
func unfinishedRows(rows []Dispatch) string {
	var parts []string
	for _, row := range rows {
		if row.Status == DispatchStatusSucceeded {
			continue
		}
		part := row.Consumer + ": " + string(row.Status)
		if strings.TrimSpace(row.LastError) != "" {
			part += " (" + strings.TrimSpace(row.LastError) + ")"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
