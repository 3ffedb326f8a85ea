package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-ingest/core"

	glog "github.com/goliatone/go-logger/glog"
)

func TestBuiltInConsumerFactories_RequireDependencies(t *testing.T) {
	cases := []struct {
		name string
		fn   func() (core.Consumer, error)
	}{
		{
			name: "logging without logger",
			fn:   func() (core.Consumer, error) { return LoggingConsumer(nil) },
		},
		{
			name: "metrics without recorder",
			fn:   func() (core.Consumer, error) { return MetricsConsumer(nil, "ingest.consumed.total") },
		},
		{
			name: "job handoff without enqueuer",
			fn:   func() (core.Consumer, error) { return JobHandoffConsumer(nil, "billing.process") },
		},
		{
			name: "job handoff without job id",
			fn:   func() (core.Consumer, error) { return JobHandoffConsumer(&recordingEnqueuer{}, "  ") },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			consumer, err := tc.fn()
			if err == nil {
				t.Fatalf("expected dependency error")
			}
			if consumer != nil {
				t.Fatalf("expected nil consumer on error")
			}
		})
	}
}

func TestLoggingConsumer_ReturnsSummary(t *testing.T) {
	consumer, err := LoggingConsumer(glog.Nop())
	if err != nil {
		t.Fatalf("logging consumer: %v", err)
	}

	summary, err := consumer(context.Background(), factoryEvent())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if logged, _ := summary["logged"].(bool); !logged {
		t.Fatalf("expected logged summary, got %#v", summary)
	}
}

func TestMetricsConsumer_CountsPerCategory(t *testing.T) {
	recorder := &recordingRecorder{}
	consumer, err := MetricsConsumer(recorder, "")
	if err != nil {
		t.Fatalf("metrics consumer: %v", err)
	}

	summary, err := consumer(context.Background(), factoryEvent())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(recorder.counters) != 1 {
		t.Fatalf("expected one counter sample, got %d", len(recorder.counters))
	}
	sample := recorder.counters[0]
	if sample.name != "ingest.consumed.total" || sample.value != 1 {
		t.Fatalf("unexpected counter sample: %#v", sample)
	}
	if sample.tags["category"] != "payment.captured" {
		t.Fatalf("expected category tag, got %#v", sample.tags)
	}
	if summary["counter"] != "ingest.consumed.total" {
		t.Fatalf("unexpected summary: %#v", summary)
	}
}

func TestJobHandoffConsumer_EnqueuesStableJob(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	consumer, err := JobHandoffConsumer(enqueuer, "billing.process")
	if err != nil {
		t.Fatalf("job handoff consumer: %v", err)
	}

	event := factoryEvent()
	summary, err := consumer(context.Background(), event)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := consumer(context.Background(), event); err != nil {
		t.Fatalf("consume again: %v", err)
	}

	if len(enqueuer.messages) != 2 {
		t.Fatalf("expected two enqueued messages, got %d", len(enqueuer.messages))
	}
	msg := enqueuer.messages[0]
	if msg.JobID != "billing.process" || msg.DedupPolicy != "drop" {
		t.Fatalf("unexpected job message: %#v", msg)
	}
	if msg.Parameters["event_id"] != event.ID || msg.Parameters["category"] != event.Category {
		t.Fatalf("unexpected job parameters: %#v", msg.Parameters)
	}
	if msg.IdempotencyKey == "" || msg.IdempotencyKey != enqueuer.messages[1].IdempotencyKey {
		t.Fatalf("expected stable idempotency key across replays, got %q and %q",
			msg.IdempotencyKey, enqueuer.messages[1].IdempotencyKey)
	}
	if enqueued, _ := summary["enqueued"].(bool); !enqueued {
		t.Fatalf("expected enqueued summary, got %#v", summary)
	}
}

func TestJobHandoffConsumer_PropagatesEnqueueError(t *testing.T) {
	enqueuer := &recordingEnqueuer{err: errors.New("queue full")}
	consumer, err := JobHandoffConsumer(enqueuer, "billing.process")
	if err != nil {
		t.Fatalf("job handoff consumer: %v", err)
	}

	if _, err := consumer(context.Background(), factoryEvent()); err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected enqueue error, got %v", err)
	}
}

func factoryEvent() core.Event {
	return core.Event{
		ID:         "evt_1",
		ExternalID: "whk_1",
		Category:   "payment.captured",
		Payload:    map[string]any{"amount": float64(1250)},
	}
}

type counterSample struct {
	name  string
	value int64
	tags  map[string]string
}

type recordingRecorder struct {
	counters []counterSample
}

func (r *recordingRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	r.counters = append(r.counters, counterSample{name: name, value: value, tags: tags})
}

func (r *recordingRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type recordingEnqueuer struct {
	messages []*core.JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}
