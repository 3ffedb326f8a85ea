package ingest

import "github.com/goliatone/go-ingest/core"

type Config = core.Config

type RetryConfig = core.RetryConfig

type WorkerConfig = core.WorkerConfig

type Option = core.Option

type Service = core.Service

type IngestService = core.IngestService

type EventStore = core.EventStore
type DispatchLedger = core.DispatchLedger
type AuditTrail = core.AuditTrail
type Registry = core.Registry
type Consumer = core.Consumer
type ConsumerSummary = core.ConsumerSummary
type RetryPolicy = core.RetryPolicy
type BroadcastPublisher = core.BroadcastPublisher
type MetricsRecorder = core.MetricsRecorder

type Event = core.Event
type EventInput = core.EventInput
type EventRef = core.EventRef
type EventOutcome = core.EventOutcome

type Receipt = core.Receipt

type Dispatch = core.Dispatch
type DispatchStatus = core.DispatchStatus
type DispatchResult = core.DispatchResult

type ReplaySelector = core.ReplaySelector
type ReplayTarget = core.ReplayTarget

type TickStats = core.TickStats

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithRegistry          = core.WithRegistry
	WithEventStore        = core.WithEventStore
	WithDispatchLedger    = core.WithDispatchLedger
	WithAuditTrail        = core.WithAuditTrail
	WithBroadcaster       = core.WithBroadcaster
	WithRetryPolicy       = core.WithRetryPolicy
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
