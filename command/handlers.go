package command

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ingest/core"
)

// MutatingService is the slice of the ingest service the command bus writes
// through. *core.Service satisfies it.
type MutatingService interface {
	Ingest(ctx context.Context, in core.EventInput) (core.Receipt, error)
	ReplayDispatch(ctx context.Context, dispatchID string) (core.DispatchResult, error)
	ReplayEvent(ctx context.Context, eventID string) ([]core.DispatchResult, error)
	ReplayByStatus(ctx context.Context, status core.DispatchStatus, limit int) ([]core.DispatchResult, error)
	ResolveReplayTargets(ctx context.Context, selector core.ReplaySelector) ([]core.ReplayTarget, error)
	RunRetryTick(ctx context.Context) (core.TickStats, error)
}

// ReplayReport is what replay commands store for the caller. Preview runs
// carry Targets only. Execute runs carry Results plus one Errors entry per
// row that could not be replayed, so a single bad row never aborts the batch.
type ReplayReport struct {
	Previewed bool
	Targets   []core.ReplayTarget
	Results   []core.DispatchResult
	Errors    []string
}

type IngestEventCommand struct {
	service MutatingService
}

func NewIngestEventCommand(service MutatingService) *IngestEventCommand {
	return &IngestEventCommand{service: service}
}

func (c *IngestEventCommand) Execute(ctx context.Context, msg IngestEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	out, err := c.service.Ingest(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayDispatchesCommand struct {
	service MutatingService
}

func NewReplayDispatchesCommand(service MutatingService) *ReplayDispatchesCommand {
	return &ReplayDispatchesCommand{service: service}
}

func (c *ReplayDispatchesCommand) Execute(ctx context.Context, msg ReplayDispatchesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	if msg.Preview {
		targets, err := c.service.ResolveReplayTargets(ctx, core.ReplaySelector{DispatchIDs: msg.DispatchIDs})
		if err != nil {
			return err
		}
		storeResult(ctx, ReplayReport{Previewed: true, Targets: targets})
		return nil
	}
	var report ReplayReport
	for _, dispatchID := range msg.DispatchIDs {
		result, err := c.service.ReplayDispatch(ctx, dispatchID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", dispatchID, err))
			continue
		}
		report.Results = append(report.Results, result)
	}
	storeResult(ctx, report)
	return nil
}

type ReplayEventsCommand struct {
	service MutatingService
}

func NewReplayEventsCommand(service MutatingService) *ReplayEventsCommand {
	return &ReplayEventsCommand{service: service}
}

func (c *ReplayEventsCommand) Execute(ctx context.Context, msg ReplayEventsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	if msg.Preview {
		targets, err := c.service.ResolveReplayTargets(ctx, core.ReplaySelector{EventIDs: msg.EventIDs})
		if err != nil {
			return err
		}
		storeResult(ctx, ReplayReport{Previewed: true, Targets: targets})
		return nil
	}
	var report ReplayReport
	for _, eventID := range msg.EventIDs {
		results, err := c.service.ReplayEvent(ctx, eventID)
		report.Results = append(report.Results, results...)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", eventID, err))
		}
	}
	storeResult(ctx, report)
	return nil
}

type ReplayByStatusCommand struct {
	service MutatingService
}

func NewReplayByStatusCommand(service MutatingService) *ReplayByStatusCommand {
	return &ReplayByStatusCommand{service: service}
}

func (c *ReplayByStatusCommand) Execute(ctx context.Context, msg ReplayByStatusMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	if msg.Preview {
		targets, err := c.service.ResolveReplayTargets(ctx, core.ReplaySelector{Status: msg.Status, Limit: msg.Limit})
		if err != nil {
			return err
		}
		storeResult(ctx, ReplayReport{Previewed: true, Targets: targets})
		return nil
	}
	results, err := c.service.ReplayByStatus(ctx, msg.Status, msg.Limit)
	report := ReplayReport{Results: results}
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	storeResult(ctx, report)
	return nil
}

type RunRetryTickCommand struct {
	service MutatingService
}

func NewRunRetryTickCommand(service MutatingService) *RunRetryTickCommand {
	return &RunRetryTickCommand{service: service}
}

func (c *RunRetryTickCommand) Execute(ctx context.Context, _ RunRetryTickMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retry service is required")
	}
	stats, err := c.service.RunRetryTick(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
