package ingest

import (
	"fmt"

	ingestcommand "github.com/goliatone/go-ingest/command"
	"github.com/goliatone/go-ingest/query"
)

// CommandQueryService is the service slice the facade wires handlers around.
// *core.Service satisfies it.
type CommandQueryService interface {
	ingestcommand.MutatingService
	query.DispatchReader
	query.EventReader
}

type Commands struct {
	IngestEvent      *ingestcommand.IngestEventCommand
	ReplayDispatches *ingestcommand.ReplayDispatchesCommand
	ReplayEvents     *ingestcommand.ReplayEventsCommand
	ReplayByStatus   *ingestcommand.ReplayByStatusCommand
	RunRetryTick     *ingestcommand.RunRetryTickCommand
}

type Queries struct {
	ListDispatches *query.ListDispatchesQuery
	ListEvents     *query.ListEventsQuery
	GetEvent       *query.GetEventQuery
	ListAuditTrail *query.ListAuditTrailQuery
	ReplayTargets  *query.ReplayTargetsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	auditReader query.AuditReader
}

// WithAuditReader overrides the audit trail source. Without it the facade
// reads the trail through the service when it exposes ListAuditTrail.
func WithAuditReader(reader query.AuditReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("ingest: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.auditReader
	if reader == nil {
		reader, _ = service.(query.AuditReader)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		IngestEvent:      ingestcommand.NewIngestEventCommand(service),
		ReplayDispatches: ingestcommand.NewReplayDispatchesCommand(service),
		ReplayEvents:     ingestcommand.NewReplayEventsCommand(service),
		ReplayByStatus:   ingestcommand.NewReplayByStatusCommand(service),
		RunRetryTick:     ingestcommand.NewRunRetryTickCommand(service),
	}
	facade.queries = Queries{
		ListDispatches: query.NewListDispatchesQuery(service),
		ListEvents:     query.NewListEventsQuery(service),
		GetEvent:       query.NewGetEventQuery(service),
		ListAuditTrail: query.NewListAuditTrailQuery(reader),
		ReplayTargets:  query.NewReplayTargetsQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
