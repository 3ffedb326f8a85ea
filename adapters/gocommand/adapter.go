package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	ingestcommand "github.com/goliatone/go-ingest/command"
	"github.com/goliatone/go-ingest/core"
	ingestquery "github.com/goliatone/go-ingest/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func SubscribeQueryFunc[T any, R any](qry command.QueryFunc[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// IngestSubscriptions owns the dispatcher hooks RegisterIngest created.
type IngestSubscriptions struct {
	subscriptions []commanddispatcher.Subscription
}

func (s *IngestSubscriptions) Unsubscribe() {
	if s == nil {
		return
	}
	for _, sub := range s.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	s.subscriptions = nil
}

func (s *IngestSubscriptions) keep(sub commanddispatcher.Subscription, err error) error {
	if err != nil {
		s.Unsubscribe()
		return err
	}
	s.subscriptions = append(s.subscriptions, sub)
	return nil
}

// RegisterIngest wires every ingest command and query handler onto the
// registry and the in-process dispatcher. One call gives a process the full
// bus surface; the returned subscriptions undo the dispatcher side on
// teardown.
func RegisterIngest(adapter *RegistryAdapter, svc core.IngestService, runnerOpts ...runner.Option) (*IngestSubscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if svc == nil {
		return nil, fmt.Errorf("gocommand: ingest service is required")
	}

	bundle := &IngestSubscriptions{}

	if err := bundle.keep(RegisterAndSubscribe(adapter, ingestcommand.NewIngestEventCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribe(adapter, ingestcommand.NewReplayDispatchesCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribe(adapter, ingestcommand.NewReplayEventsCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribe(adapter, ingestcommand.NewReplayByStatusCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribe(adapter, ingestcommand.NewRunRetryTickCommand(svc), runnerOpts...)); err != nil {
		return nil, err
	}

	if err := bundle.keep(RegisterAndSubscribeQuery(adapter, ingestquery.NewListDispatchesQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribeQuery(adapter, ingestquery.NewListEventsQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribeQuery(adapter, ingestquery.NewGetEventQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribeQuery(adapter, ingestquery.NewListAuditTrailQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := bundle.keep(RegisterAndSubscribeQuery(adapter, ingestquery.NewReplayTargetsQuery(svc), runnerOpts...)); err != nil {
		return nil, err
	}

	return bundle, nil
}
