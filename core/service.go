package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service wires the ingest pipeline: idempotent intake storage, the dispatch
// ledger, consumer dispatch, replay, and the operator read surface.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          Registry
	events            EventStore
	ledger            DispatchLedger
	audit             AuditTrail
	broadcaster       BroadcastPublisher
	retryPolicy       RetryPolicy
	dispatcher        *Dispatcher
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Registry          Registry
	EventStore        EventStore
	DispatchLedger    DispatchLedger
	AuditTrail        AuditTrail
	Broadcaster       BroadcastPublisher
	RetryPolicy       RetryPolicy
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("ingest", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("ingest"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewConsumerRegistry()
	}
	if builder.now == nil {
		builder.now = func() time.Time {
			return time.Now().UTC()
		}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.eventStore == nil || builder.dispatchLedger == nil || builder.auditTrail == nil) && builder.repositoryFactory != nil {
		var storeProvider StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			storeProvider = built
		} else if p, ok := builder.repositoryFactory.(StoreProvider); ok {
			storeProvider = p
		}
		if storeProvider != nil {
			if builder.eventStore == nil {
				builder.eventStore = storeProvider.EventStore()
			}
			if builder.dispatchLedger == nil {
				builder.dispatchLedger = storeProvider.DispatchLedger()
			}
			if builder.auditTrail == nil {
				builder.auditTrail = storeProvider.AuditTrail()
			}
		}
	}
	if builder.eventStore == nil || builder.dispatchLedger == nil || builder.auditTrail == nil {
		memory := NewMemoryStoreProvider()
		if builder.eventStore == nil {
			builder.eventStore = memory.EventStore()
		}
		if builder.dispatchLedger == nil {
			builder.dispatchLedger = memory.DispatchLedger()
		}
		if builder.auditTrail == nil {
			builder.auditTrail = memory.AuditTrail()
		}
	}
	if builder.broadcaster == nil {
		builder.broadcaster = NewMemoryBroadcaster()
	}
	if builder.retryPolicy == nil {
		builder.retryPolicy = ExponentialRetryPolicy{
			Base: finalConfig.Retry.BaseBackoff,
			Max:  finalConfig.Retry.MaxBackoff,
		}
	}

	dispatcher := NewDispatcher()
	dispatcher.Events = builder.eventStore
	dispatcher.Ledger = builder.dispatchLedger
	dispatcher.Registry = builder.registry
	dispatcher.Broadcaster = builder.broadcaster
	dispatcher.Audit = builder.auditTrail
	dispatcher.Logger = logger
	dispatcher.RetryPolicy = builder.retryPolicy
	dispatcher.MaxAttempts = finalConfig.Retry.MaxAttempts
	dispatcher.Now = builder.now

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registry:          builder.registry,
		events:            builder.eventStore,
		ledger:            builder.dispatchLedger,
		audit:             builder.auditTrail,
		broadcaster:       builder.broadcaster,
		retryPolicy:       builder.retryPolicy,
		dispatcher:        dispatcher,
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		Registry:          s.registry,
		EventStore:        s.events,
		DispatchLedger:    s.ledger,
		AuditTrail:        s.audit,
		Broadcaster:       s.broadcaster,
		RetryPolicy:       s.retryPolicy,
	}
}

// Ingest stores the verified envelope and, for first deliveries, dispatches
// it to the registered consumers. The caller is acknowledged once the event
// is durably stored; consumer failures stay internal unless intake.sync_ack
// is enabled.
func (s *Service) Ingest(ctx context.Context, in EventInput) (receipt Receipt, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"external_id": in.ExternalID,
		"category":    in.Category,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "ingest", err, fields)
	}()

	if s == nil || s.events == nil {
		err = fmt.Errorf("core: ingest service is not configured")
		return Receipt{}, err
	}
	if err = in.Validate(); err != nil {
		err = s.mapError(err)
		return Receipt{}, err
	}

	event, created, upsertErr := s.events.Upsert(ctx, in)
	if upsertErr != nil {
		err = s.mapError(upsertErr)
		return Receipt{}, err
	}
	fields["event_id"] = event.ID

	if !created {
		s.auditRecord(ctx, AuditEntry{
			EventID: event.ID,
			Actor:   AuditActorIntake,
			Action:  AuditActionEventDuplicate,
			Note:    event.ExternalID,
		})
		return Receipt{
			EventID:    event.ID,
			ExternalID: event.ExternalID,
			Duplicate:  true,
			Outcome:    event.Outcome,
		}, nil
	}

	s.auditRecord(ctx, AuditEntry{
		EventID: event.ID,
		Actor:   AuditActorIntake,
		Action:  AuditActionEventReceived,
		Note:    event.Category,
	})

	result, dispatchErr := s.dispatcher.DispatchNow(ctx, event)
	receipt = Receipt{
		EventID:    event.ID,
		ExternalID: event.ExternalID,
		Outcome:    result.Outcome,
	}
	if s.config.Intake.SyncAck {
		if dispatchErr != nil {
			err = s.mapError(dispatchErr)
			return receipt, err
		}
		if result.Outcome != EventOutcomeProcessed {
			err = s.mapError(newIngestError(
				fmt.Sprintf("core: event %s not processed: %d consumer(s) failed", event.ID, result.Failed),
				goerrors.CategoryOperation,
				IngestErrorConsumerFailed,
			))
			return receipt, err
		}
		return receipt, nil
	}
	if dispatchErr != nil {
		// Event is durably stored; bookkeeping problems stay internal and
		// surface through the ledger and logs, not the intake ack.
		s.logError(ctx, "dispatch bookkeeping failed", map[string]any{
			"event_id": event.ID,
			"error":    dispatchErr.Error(),
		})
	}
	return receipt, nil
}

func (s *Service) DispatchNow(ctx context.Context, event Event) (result DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_id": event.ID,
		"category": event.Category,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "dispatch_now", err, fields)
	}()
	if s == nil || s.dispatcher == nil {
		err = fmt.Errorf("core: ingest service is not configured")
		return DispatchResult{}, err
	}
	result, err = s.dispatcher.DispatchNow(ctx, event)
	if err != nil {
		err = s.mapError(err)
	}
	return result, err
}

func (s *Service) ReplayDispatch(ctx context.Context, dispatchID string) (result DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"dispatch_id": dispatchID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "replay_dispatch", err, fields)
	}()
	if s == nil || s.dispatcher == nil {
		err = fmt.Errorf("core: ingest service is not configured")
		return DispatchResult{}, err
	}
	result, err = s.dispatcher.ReplayDispatch(ctx, dispatchID)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	s.auditRecord(ctx, AuditEntry{
		EventID:    result.EventID,
		DispatchID: dispatchID,
		Actor:      AuditActorOperator,
		Action:     AuditActionReplayRequested,
	})
	return result, nil
}

// ReplayEvent ensures a ledger row for every currently registered consumer of
// the event's category, then replays each row. Rows already succeeded are
// skipped by the claim.
func (s *Service) ReplayEvent(ctx context.Context, eventID string) (results []DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"event_id": eventID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "replay_event", err, fields)
	}()
	if s == nil || s.events == nil || s.ledger == nil {
		err = fmt.Errorf("core: ingest service is not configured")
		return nil, err
	}

	event, getErr := s.events.GetByID(ctx, strings.TrimSpace(eventID))
	if getErr != nil {
		err = s.mapError(getErr)
		return nil, err
	}
	for _, consumer := range s.registry.Resolve(event.Category) {
		if _, ensureErr := s.ledger.Ensure(ctx, event.ID, consumer.Name); ensureErr != nil {
			err = s.mapError(ensureErr)
			return nil, err
		}
	}
	rows, listErr := s.ledger.ListByEvent(ctx, event.ID)
	if listErr != nil {
		err = s.mapError(listErr)
		return nil, err
	}

	var replayErr error
	for _, row := range rows {
		result, rowErr := s.dispatcher.ReplayDispatch(ctx, row.ID)
		if rowErr != nil {
			replayErr = joinErrors(replayErr, rowErr)
			continue
		}
		s.auditRecord(ctx, AuditEntry{
			EventID:    event.ID,
			DispatchID: row.ID,
			Actor:      AuditActorOperator,
			Action:     AuditActionReplayRequested,
		})
		results = append(results, result)
	}
	if replayErr != nil {
		err = s.mapError(replayErr)
	}
	return results, err
}

func (s *Service) ReplayByStatus(ctx context.Context, status DispatchStatus, limit int) (results []DispatchResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"status": string(status),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "replay_by_status", err, fields)
	}()
	if s == nil || s.ledger == nil {
		err = fmt.Errorf("core: ingest service is not configured")
		return nil, err
	}

	rows, _, listErr := s.ledger.List(ctx, DispatchFilter{Status: status, Limit: limit, Page: 1})
	if listErr != nil {
		err = s.mapError(listErr)
		return nil, err
	}
	var replayErr error
	for _, row := range rows {
		result, rowErr := s.dispatcher.ReplayDispatch(ctx, row.ID)
		if rowErr != nil {
			replayErr = joinErrors(replayErr, rowErr)
			continue
		}
		s.auditRecord(ctx, AuditEntry{
			EventID:    result.EventID,
			DispatchID: row.ID,
			Actor:      AuditActorOperator,
			Action:     AuditActionReplayRequested,
			Note:       string(status),
		})
		results = append(results, result)
	}
	if replayErr != nil {
		err = s.mapError(replayErr)
	}
	return results, err
}

// ResolveReplayTargets expands a selector into concrete ledger rows without
// executing anything. Preview mode and the execute path share this
// resolution, so what the operator confirmed is what runs.
func (s *Service) ResolveReplayTargets(ctx context.Context, selector ReplaySelector) ([]ReplayTarget, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("core: ingest service is not configured")
	}
	var targets []ReplayTarget
	seen := map[string]struct{}{}
	appendTarget := func(d Dispatch) {
		if _, dup := seen[d.ID]; dup {
			return
		}
		seen[d.ID] = struct{}{}
		targets = append(targets, ReplayTarget{
			DispatchID: d.ID,
			EventID:    d.EventID,
			Consumer:   d.Consumer,
			Status:     d.Status,
			Attempts:   d.Attempts,
		})
	}

	for _, dispatchID := range selector.DispatchIDs {
		dispatch, err := s.ledger.Get(ctx, dispatchID)
		if err != nil {
			return nil, s.mapError(err)
		}
		appendTarget(dispatch)
	}
	for _, eventID := range selector.EventIDs {
		event, err := s.events.GetByID(ctx, strings.TrimSpace(eventID))
		if err != nil {
			return nil, s.mapError(err)
		}
		for _, consumer := range s.registry.Resolve(event.Category) {
			dispatch, err := s.ledger.Ensure(ctx, event.ID, consumer.Name)
			if err != nil {
				return nil, s.mapError(err)
			}
			appendTarget(dispatch)
		}
		rows, err := s.ledger.ListByEvent(ctx, event.ID)
		if err != nil {
			return nil, s.mapError(err)
		}
		for _, row := range rows {
			appendTarget(row)
		}
	}
	if selector.Status != "" {
		rows, _, err := s.ledger.List(ctx, DispatchFilter{Status: selector.Status, Limit: selector.Limit, Page: 1})
		if err != nil {
			return nil, s.mapError(err)
		}
		for _, row := range rows {
			appendTarget(row.Dispatch)
		}
	}
	return targets, nil
}

func (s *Service) ListDispatches(ctx context.Context, filter DispatchFilter) (DispatchPage, error) {
	if s == nil || s.ledger == nil {
		return DispatchPage{}, fmt.Errorf("core: ingest service is not configured")
	}
	items, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		return DispatchPage{}, s.mapError(err)
	}
	perPage, offset := normalizePage(filter.Limit, filter.Page)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return DispatchPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

func (s *Service) ListEvents(ctx context.Context, filter EventFilter) (EventPage, error) {
	if s == nil || s.events == nil {
		return EventPage{}, fmt.Errorf("core: ingest service is not configured")
	}
	items, total, err := s.events.List(ctx, filter)
	if err != nil {
		return EventPage{}, s.mapError(err)
	}
	perPage, offset := normalizePage(filter.Limit, filter.Page)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return EventPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

func (s *Service) ListAuditTrail(ctx context.Context, filter AuditFilter) (AuditPage, error) {
	if s == nil || s.audit == nil {
		return AuditPage{}, fmt.Errorf("core: ingest service is not configured")
	}
	items, total, err := s.audit.List(ctx, filter)
	if err != nil {
		return AuditPage{}, s.mapError(err)
	}
	perPage, offset := normalizePage(filter.Limit, filter.Page)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return AuditPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

func (s *Service) GetEvent(ctx context.Context, ref EventRef) (Event, []Dispatch, error) {
	if s == nil || s.events == nil || s.ledger == nil {
		return Event{}, nil, fmt.Errorf("core: ingest service is not configured")
	}
	var (
		event Event
		err   error
	)
	switch {
	case strings.TrimSpace(ref.ID) != "":
		event, err = s.events.GetByID(ctx, ref.ID)
	case strings.TrimSpace(ref.ExternalID) != "":
		event, err = s.events.GetByExternalID(ctx, ref.ExternalID)
	default:
		return Event{}, nil, s.mapError(fmt.Errorf("core: event reference requires an id or external id"))
	}
	if err != nil {
		return Event{}, nil, s.mapError(err)
	}
	rows, err := s.ledger.ListByEvent(ctx, event.ID)
	if err != nil {
		return Event{}, nil, s.mapError(err)
	}
	return event, rows, nil
}

// RunRetryTick performs one worker tick: sweep stale claims back to the due
// queue, list due rows, replay each. Listing errors abort the tick; per-row
// replay problems are collected and returned alongside the stats.
func (s *Service) RunRetryTick(ctx context.Context) (stats TickStats, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["due"] = stats.Due
		fields["replayed"] = stats.Replayed
		fields["failed"] = stats.Failed
		fields["reclaimed"] = stats.Reclaimed
		s.observeOperation(ctx, startedAt, "retry_tick", err, fields)
	}()
	if s == nil || s.ledger == nil || s.dispatcher == nil {
		err = fmt.Errorf("core: ingest service is not configured")
		return TickStats{}, err
	}

	now := s.clock()
	reclaimed, reclaimErr := s.ledger.Reclaim(ctx, now.Add(-s.config.Worker.StaleAfter), s.config.Retry.MaxAttempts, now)
	if reclaimErr != nil {
		err = s.mapError(reclaimErr)
		return stats, err
	}
	stats.Reclaimed = reclaimed
	if reclaimed > 0 {
		s.auditRecord(ctx, AuditEntry{
			Actor:  AuditActorWorker,
			Action: AuditActionClaimsReclaimed,
			Note:   fmt.Sprintf("%d stale claim(s) returned to the retry queue", reclaimed),
		})
	}

	due, listErr := s.ledger.ListDue(ctx, now, s.config.Worker.BatchSize)
	if listErr != nil {
		err = s.mapError(listErr)
		return stats, err
	}
	stats.Due = len(due)

	var replayErr error
	for _, dispatch := range due {
		result, rowErr := s.dispatcher.ReplayDispatch(ctx, dispatch.ID)
		if rowErr != nil {
			replayErr = joinErrors(replayErr, rowErr)
			stats.Failed++
			continue
		}
		stats.Replayed++
		if result.Succeeded > 0 {
			stats.Succeeded++
		}
		if result.Failed > 0 {
			stats.Failed++
		}
	}
	if replayErr != nil {
		err = s.mapError(replayErr)
	}
	return stats, err
}

func (s *Service) auditRecord(ctx context.Context, entry AuditEntry) {
	if s == nil || s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logError(ctx, "audit record failed", map[string]any{
			"action":   string(entry.Action),
			"event_id": entry.EventID,
			"error":    err.Error(),
		})
	}
}

func (s *Service) clock() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
