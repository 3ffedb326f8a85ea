package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

// Built-in consumers cover the common ways an embedding application reacts
// to accepted events without writing a handler from scratch.

// LoggingConsumer writes one structured line per delivered event.
func LoggingConsumer(logger core.Logger) (core.Consumer, error) {
	if logger == nil {
		return nil, fmt.Errorf("ingest: logging consumer requires a logger")
	}
	return func(ctx context.Context, event core.Event) (core.ConsumerSummary, error) {
		log := logger
		if ctx != nil {
			log = log.WithContext(ctx)
		}
		log.Info("event consumed",
			"event_id", event.ID,
			"external_id", event.ExternalID,
			"category", event.Category,
		)
		return core.ConsumerSummary{"logged": true}, nil
	}, nil
}

// MetricsConsumer counts delivered events per category under the given
// counter name.
func MetricsConsumer(recorder core.MetricsRecorder, counter string) (core.Consumer, error) {
	if recorder == nil {
		return nil, fmt.Errorf("ingest: metrics consumer requires a recorder")
	}
	counter = strings.TrimSpace(counter)
	if counter == "" {
		counter = "ingest.consumed.total"
	}
	return func(ctx context.Context, event core.Event) (core.ConsumerSummary, error) {
		recorder.IncCounter(ctx, counter, 1, map[string]string{"category": event.Category})
		return core.ConsumerSummary{"counter": counter}, nil
	}, nil
}

// JobHandoffConsumer defers event handling to the application's job queue.
// The idempotency key is stable per event, so replays of the same event
// collapse onto one queued job until the queue drains it.
func JobHandoffConsumer(enqueuer core.JobEnqueuer, jobID string) (core.Consumer, error) {
	if enqueuer == nil {
		return nil, fmt.Errorf("ingest: job handoff consumer requires an enqueuer")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("ingest: job handoff consumer requires a job id")
	}
	return func(ctx context.Context, event core.Event) (core.ConsumerSummary, error) {
		msg := &core.JobExecutionMessage{
			JobID: jobID,
			Parameters: map[string]any{
				"event_id":    event.ID,
				"external_id": event.ExternalID,
				"category":    event.Category,
			},
			IdempotencyKey: jobID + ":" + event.ID,
			DedupPolicy:    "drop",
		}
		if err := enqueuer.Enqueue(ctx, msg); err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", jobID, err)
		}
		return core.ConsumerSummary{"job_id": jobID, "enqueued": true}, nil
	}, nil
}
