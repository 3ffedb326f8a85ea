package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type EventFilter struct {
	Outcome EventOutcome
	Limit   int
	Page    int
}

type DispatchFilter struct {
	Status   DispatchStatus
	Consumer string
	Limit    int
	Page     int
}

type AuditFilter struct {
	EventID string
	Limit   int
	Page    int
}

type EventPage struct {
	Items   []Event
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type DispatchPage struct {
	Items   []DispatchDetail
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type AuditPage struct {
	Items   []AuditEntry
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

// EventStore is the idempotent ledger of inbound events. Upsert is the single
// dedup gate: created=false means "already accepted, do not dispatch again".
type EventStore interface {
	Upsert(ctx context.Context, in EventInput) (Event, bool, error)
	GetByID(ctx context.Context, id string) (Event, error)
	GetByExternalID(ctx context.Context, externalID string) (Event, error)
	RecordOutcome(ctx context.Context, eventID string, outcome EventOutcome, lastError string) (time.Time, error)
	List(ctx context.Context, filter EventFilter) ([]Event, int, error)
}

// DispatchLedger owns the per-(event, consumer) attempt state. Claim is the
// sole concurrency-safety mechanism: a conditional atomic update that reports
// whether this caller won the row.
type DispatchLedger interface {
	Ensure(ctx context.Context, eventID, consumer string) (Dispatch, error)
	Get(ctx context.Context, dispatchID string) (Dispatch, error)
	Claim(ctx context.Context, dispatchID string, now time.Time) (bool, error)
	RecordSuccess(ctx context.Context, dispatchID string, now time.Time) error
	RecordFailure(ctx context.Context, dispatchID string, cause string, nextRetryAt time.Time, maxAttempts int) (Dispatch, error)
	ListByEvent(ctx context.Context, eventID string) ([]Dispatch, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Dispatch, error)
	List(ctx context.Context, filter DispatchFilter) ([]DispatchDetail, int, error)
	Reclaim(ctx context.Context, olderThan time.Time, maxAttempts int, now time.Time) (int, error)
}

// AuditTrail records operator-relevant transitions. Writes are best effort:
// callers log failures and move on, the parent operation never fails on audit.
type AuditTrail interface {
	Record(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)
}

type StoreProvider interface {
	EventStore() EventStore
	DispatchLedger() DispatchLedger
	AuditTrail() AuditTrail
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// Consumer performs one downstream side effect for an event and returns the
// facts worth broadcasting. Consumers must tolerate rare duplicate invocation.
type Consumer func(ctx context.Context, event Event) (ConsumerSummary, error)

type RegisteredConsumer struct {
	Category string
	Name     string
	Consume  Consumer
}

type Registry interface {
	Register(category, name string, consumer Consumer) error
	Resolve(category string) []RegisteredConsumer
	Categories() []string
	ConsumerNames() []string
}

type EventDispatcher interface {
	DispatchNow(ctx context.Context, event Event) (DispatchResult, error)
	ReplayDispatch(ctx context.Context, dispatchID string) (DispatchResult, error)
}

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type BroadcastPublisher interface {
	Publish(ctx context.Context, tenantHint string, bc BroadcastContext) error
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// TickStats summarizes one retry-worker tick.
type TickStats struct {
	Reclaimed int
	Due       int
	Replayed  int
	Succeeded int
	Failed    int
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// IngestService is the operation surface the facade, CLI, and command/query
// handlers share.
type IngestService interface {
	Ingest(ctx context.Context, in EventInput) (Receipt, error)
	DispatchNow(ctx context.Context, event Event) (DispatchResult, error)
	ReplayDispatch(ctx context.Context, dispatchID string) (DispatchResult, error)
	ReplayEvent(ctx context.Context, eventID string) ([]DispatchResult, error)
	ReplayByStatus(ctx context.Context, status DispatchStatus, limit int) ([]DispatchResult, error)
	ResolveReplayTargets(ctx context.Context, selector ReplaySelector) ([]ReplayTarget, error)
	ListDispatches(ctx context.Context, filter DispatchFilter) (DispatchPage, error)
	ListEvents(ctx context.Context, filter EventFilter) (EventPage, error)
	GetEvent(ctx context.Context, ref EventRef) (Event, []Dispatch, error)
	ListAuditTrail(ctx context.Context, filter AuditFilter) (AuditPage, error)
	RunRetryTick(ctx context.Context) (TickStats, error)
}

// EventRef addresses an event by internal or external identifier. Exactly one
// field must be set.
type EventRef struct {
	ID         string
	ExternalID string
}

// Receipt is what the intake caller sees: acceptance or duplicate, never a
// consumer failure.
type Receipt struct {
	EventID    string
	ExternalID string
	Duplicate  bool
	Outcome    EventOutcome
}

// ReplaySelector names the ledger rows an operator wants replayed. Fields
// combine: explicit dispatch ids, whole events, and a status cohort.
type ReplaySelector struct {
	DispatchIDs []string
	EventIDs    []string
	Status      DispatchStatus
	Limit       int
}

// ReplayTarget is one resolved row of a preview listing.
type ReplayTarget struct {
	DispatchID string
	EventID    string
	Consumer   string
	Status     DispatchStatus
	Attempts   int
}
