package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-ingest/core"

	glog "github.com/goliatone/go-logger/glog"
)

// DefaultInterval is the tick cadence used when the runner is not configured.
const DefaultInterval = 30 * time.Second

// Ticker is the slice of the ingest service the runner drives.
type Ticker interface {
	RunRetryTick(ctx context.Context) (core.TickStats, error)
}

// Runner drives retry ticks on a fixed interval. The first tick fires
// immediately so a restarted worker drains its backlog without waiting a full
// interval. Tick errors are logged and the loop keeps going; only context
// cancellation stops it.
type Runner struct {
	Service  Ticker
	Interval time.Duration
	Logger   core.Logger
}

// NewRunner returns a runner with the default interval.
func NewRunner(service Ticker) *Runner {
	return &Runner{
		Service:  service,
		Interval: DefaultInterval,
	}
}

// Run blocks until ctx is canceled. Cancellation stops new ticks; the
// in-flight tick finishes first, so claimed attempts are never abandoned
// mid-flight.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.Service == nil {
		return fmt.Errorf("worker: runner requires an ingest service")
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := r.logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("retry worker started", "interval", interval.String())
	for {
		r.tick(ctx, logger)
		select {
		case <-ctx.Done():
			logger.Info("retry worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single tick. The CLI and job-queue integrations use this
// directly when an external scheduler owns the cadence.
func (r *Runner) RunOnce(ctx context.Context) (core.TickStats, error) {
	if r == nil || r.Service == nil {
		return core.TickStats{}, fmt.Errorf("worker: runner requires an ingest service")
	}
	return r.Service.RunRetryTick(ctx)
}

func (r *Runner) tick(ctx context.Context, logger core.Logger) {
	stats, err := r.RunOnce(context.WithoutCancel(ctx))
	if err != nil {
		logger.Error("retry tick failed", "error", err.Error())
		return
	}
	if stats.Due == 0 && stats.Reclaimed == 0 {
		logger.Debug("retry tick idle")
		return
	}
	logger.Info("retry tick completed",
		"due", stats.Due,
		"replayed", stats.Replayed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"reclaimed", stats.Reclaimed,
	)
}

func (r *Runner) logger() core.Logger {
	if r == nil || r.Logger == nil {
		return glog.Nop()
	}
	return r.Logger
}