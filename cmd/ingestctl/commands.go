package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goliatone/go-ingest/core"
	ingestmigrations "github.com/goliatone/go-ingest/migrations"
	"github.com/goliatone/go-ingest/worker"
)

type ListCmd struct {
	Status  string `help:"Filter by dispatch status." enum:"pending,processing,failed,succeeded,all" default:"all"`
	Handler string `help:"Filter by consumer name."`
	Limit   int    `help:"Rows per page." default:"50"`
	Page    int    `help:"Page number, 1-based." default:"1"`
	JSON    bool   `help:"Emit JSON instead of a table."`
}

func (c *ListCmd) Run(rt *runtime) error {
	svc, err := rt.service(core.Config{})
	if err != nil {
		return err
	}
	page, err := svc.ListDispatches(rt.context(), core.DispatchFilter{
		Status:   dispatchStatusFlag(c.Status),
		Consumer: c.Handler,
		Limit:    c.Limit,
		Page:     c.Page,
	})
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(rt.stdout, newDispatchPageDoc(page))
	}
	renderDispatchPage(rt.stdout, page)
	return nil
}

type EventsCmd struct {
	Outcome string `help:"Filter by event outcome." enum:"pending,processed,failed,all" default:"all"`
	Limit   int    `help:"Rows per page." default:"50"`
	Page    int    `help:"Page number, 1-based." default:"1"`
	JSON    bool   `help:"Emit JSON instead of a table."`
}

func (c *EventsCmd) Run(rt *runtime) error {
	svc, err := rt.service(core.Config{})
	if err != nil {
		return err
	}
	page, err := svc.ListEvents(rt.context(), core.EventFilter{
		Outcome: eventOutcomeFlag(c.Outcome),
		Limit:   c.Limit,
		Page:    c.Page,
	})
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(rt.stdout, newEventPageDoc(page))
	}
	renderEventPage(rt.stdout, page)
	return nil
}

type ShowCmd struct {
	EventID    string `name:"event-id" help:"Internal event id." xor:"ref"`
	ExternalID string `name:"external-id" help:"Provider-assigned external id." xor:"ref"`
	JSON       bool   `help:"Emit JSON instead of text."`
}

func (c *ShowCmd) Run(rt *runtime) error {
	if strings.TrimSpace(c.EventID) == "" && strings.TrimSpace(c.ExternalID) == "" {
		return fmt.Errorf("show: --event-id or --external-id is required")
	}
	svc, err := rt.service(core.Config{})
	if err != nil {
		return err
	}
	event, dispatches, err := svc.GetEvent(rt.context(), core.EventRef{
		ID:         c.EventID,
		ExternalID: c.ExternalID,
	})
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(rt.stdout, newEventDetailDoc(event, dispatches))
	}
	renderEventDetail(rt.stdout, event, dispatches)
	return nil
}

type ReplayCmd struct {
	DispatchIDs []string `name:"dispatch-id" help:"Replay these dispatch ids." xor:"selector"`
	EventIDs    []string `name:"event-id" help:"Replay every dispatch row of these event ids." xor:"selector"`
	Status      string   `help:"Replay a status cohort." xor:"selector"`
	Limit       int      `help:"Cohort size bound for --status." default:"50"`
	Preview     bool     `help:"Resolve and print targets without replaying."`
	Yes         bool     `help:"Skip the confirmation prompt."`
	JSON        bool     `help:"Emit JSON; requires --preview or --yes."`
}

func (c *ReplayCmd) Run(rt *runtime) error {
	selector, err := c.selector()
	if err != nil {
		return err
	}
	if c.JSON && !c.Preview && !c.Yes {
		return fmt.Errorf("replay: --json requires --preview or --yes")
	}
	svc, err := rt.service(core.Config{})
	if err != nil {
		return err
	}
	ctx := rt.context()

	targets, err := svc.ResolveReplayTargets(ctx, selector)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(rt.stdout, "nothing to replay")
		return nil
	}
	if c.Preview {
		if c.JSON {
			return writeJSON(rt.stdout, newReplayTargetsDoc(targets))
		}
		renderReplayTargets(rt.stdout, targets)
		return nil
	}
	if !c.Yes {
		renderReplayTargets(rt.stdout, targets)
		ok, promptErr := confirm(rt.stdin, rt.stdout, len(targets))
		if promptErr != nil {
			return promptErr
		}
		if !ok {
			fmt.Fprintln(rt.stdout, "replay aborted")
			return nil
		}
	}

	outcome := c.execute(ctx, svc, selector)
	if c.JSON {
		return writeJSON(rt.stdout, newReplayReportDoc(outcome))
	}
	renderReplayOutcome(rt.stdout, rt.stderr, outcome)
	return nil
}

// selector maps the flag triple onto a replay selector. The three modes are
// mutually exclusive and exactly one is required.
func (c *ReplayCmd) selector() (core.ReplaySelector, error) {
	modes := 0
	if len(c.DispatchIDs) > 0 {
		modes++
	}
	if len(c.EventIDs) > 0 {
		modes++
	}
	if strings.TrimSpace(c.Status) != "" {
		modes++
	}
	if modes == 0 {
		return core.ReplaySelector{}, fmt.Errorf("replay: --dispatch-id, --event-id, or --status is required")
	}
	if modes > 1 {
		return core.ReplaySelector{}, fmt.Errorf("replay: --dispatch-id, --event-id, and --status are mutually exclusive")
	}
	if strings.TrimSpace(c.Status) != "" {
		status, err := parseDispatchStatus(c.Status)
		if err != nil {
			return core.ReplaySelector{}, err
		}
		return core.ReplaySelector{Status: status, Limit: c.Limit}, nil
	}
	return core.ReplaySelector{DispatchIDs: c.DispatchIDs, EventIDs: c.EventIDs}, nil
}

// execute runs the mode-specific replay path. Row failures are collected, not
// returned: a single bad row never aborts the batch or the exit code.
func (c *ReplayCmd) execute(ctx context.Context, svc core.IngestService, selector core.ReplaySelector) replayOutcome {
	var out replayOutcome
	switch {
	case len(selector.DispatchIDs) > 0:
		for _, id := range selector.DispatchIDs {
			result, err := svc.ReplayDispatch(ctx, id)
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			out.Results = append(out.Results, result)
		}
	case len(selector.EventIDs) > 0:
		for _, id := range selector.EventIDs {
			results, err := svc.ReplayEvent(ctx, id)
			out.Results = append(out.Results, results...)
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", id, err))
			}
		}
	default:
		results, err := svc.ReplayByStatus(ctx, selector.Status, selector.Limit)
		out.Results = append(out.Results, results...)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
	}
	return out
}

type replayOutcome struct {
	Results []core.DispatchResult
	Errors  []string
}

func confirm(in io.Reader, out io.Writer, count int) (bool, error) {
	fmt.Fprintf(out, "Replay %d dispatch(es)? [y/N]: ", count)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return false, err
		}
		return false, nil
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

type WorkerCmd struct {
	Interval time.Duration `help:"Tick interval." default:"30s"`
	Batch    int           `help:"Max due dispatches replayed per tick." default:"50"`
}

func (c *WorkerCmd) Run(rt *runtime) error {
	rt.verbose = true // the loop's log stream is its user interface
	svc, err := rt.service(core.Config{
		Worker: core.WorkerConfig{
			Interval:  c.Interval,
			BatchSize: c.Batch,
		},
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(rt.context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := worker.NewRunner(svc)
	runner.Interval = c.Interval
	runner.Logger = rt.logger()
	return runner.Run(ctx)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(rt *runtime) error {
	client, err := rt.persistence()
	if err != nil {
		return err
	}
	ctx := rt.context()

	dialect := ingestmigrations.DialectSQLite
	if rt.driver == driverPostgres {
		dialect = ingestmigrations.DialectPostgres
	}
	_, err = ingestmigrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, ingestmigrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Fprintf(rt.stdout, "migrations applied (%s)\n", dialect)
	return nil
}

func dispatchStatusFlag(value string) core.DispatchStatus {
	if value == "all" {
		return core.DispatchStatus("")
	}
	return core.DispatchStatus(value)
}

func eventOutcomeFlag(value string) core.EventOutcome {
	if value == "all" {
		return core.EventOutcome("")
	}
	return core.EventOutcome(value)
}

func parseDispatchStatus(value string) (core.DispatchStatus, error) {
	status := core.DispatchStatus(strings.TrimSpace(value))
	switch status {
	case core.DispatchStatusPending, core.DispatchStatusProcessing,
		core.DispatchStatusFailed, core.DispatchStatusSucceeded:
		return status, nil
	default:
		return "", fmt.Errorf("replay: unknown status %q", value)
	}
}
