package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testConsumer counts invocations and answers with a fixed summary or error.
type testConsumer struct {
	mu      sync.Mutex
	summary ConsumerSummary
	err     error
	calls   int
}

func (c *testConsumer) Consume(context.Context, Event) (ConsumerSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.summary, nil
}

func (c *testConsumer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// broadcastRecorder subscribes to a memory broadcaster and keeps what was
// published. A non-nil err makes every publish fail.
type broadcastRecorder struct {
	mu        sync.Mutex
	published []BroadcastContext
	hints     []string
	err       error
}

func (r *broadcastRecorder) subscriber() BroadcastSubscriber {
	return func(_ context.Context, tenantHint string, bc BroadcastContext) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.err != nil {
			return r.err
		}
		r.published = append(r.published, bc)
		r.hints = append(r.hints, tenantHint)
		return nil
	}
}

func (r *broadcastRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func (r *broadcastRecorder) last() BroadcastContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.published) == 0 {
		return BroadcastContext{}
	}
	return r.published[len(r.published)-1]
}

// dispatchFixture wires a dispatcher over the memory stores with a movable
// clock. Tests advance f.now to cross retry deadlines.
type dispatchFixture struct {
	events      EventStore
	ledger      DispatchLedger
	audit       AuditTrail
	registry    *ConsumerRegistry
	broadcaster *MemoryBroadcaster
	recorder    *broadcastRecorder
	dispatcher  *Dispatcher
	now         time.Time
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	provider := NewMemoryStoreProvider()
	f := &dispatchFixture{
		events:      provider.EventStore(),
		ledger:      provider.DispatchLedger(),
		audit:       provider.AuditTrail(),
		registry:    NewConsumerRegistry(),
		broadcaster: NewMemoryBroadcaster(),
		recorder:    &broadcastRecorder{},
		now:         time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.broadcaster.Subscribe(f.recorder.subscriber())

	dispatcher := NewDispatcher()
	dispatcher.Events = f.events
	dispatcher.Ledger = f.ledger
	dispatcher.Registry = f.registry
	dispatcher.Broadcaster = f.broadcaster
	dispatcher.Audit = f.audit
	dispatcher.RetryPolicy = ExponentialRetryPolicy{Base: 2 * time.Second, Max: time.Minute}
	dispatcher.MaxAttempts = 5
	dispatcher.Now = func() time.Time {
		return f.now
	}
	f.dispatcher = dispatcher
	return f
}

func (f *dispatchFixture) register(t *testing.T, category, name string, consumer *testConsumer) {
	t.Helper()
	if err := f.registry.Register(category, name, consumer.Consume); err != nil {
		t.Fatalf("register consumer %s: %v", name, err)
	}
}

func (f *dispatchFixture) seedEvent(t *testing.T, externalID, category string) Event {
	t.Helper()
	event, created, err := f.events.Upsert(context.Background(), EventInput{
		ExternalID: externalID,
		Category:   category,
		Payload:    map[string]any{"amount": 1250},
		TenantHint: "acct_1",
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	if !created {
		t.Fatalf("expected seed event %s to be new", externalID)
	}
	return event
}

func (f *dispatchFixture) rowFor(t *testing.T, eventID, consumer string) Dispatch {
	t.Helper()
	rows, err := f.ledger.ListByEvent(context.Background(), eventID)
	if err != nil {
		t.Fatalf("list dispatches: %v", err)
	}
	for _, row := range rows {
		if row.Consumer == consumer {
			return row
		}
	}
	t.Fatalf("no dispatch row for consumer %q on event %s", consumer, eventID)
	return Dispatch{}
}

func (f *dispatchFixture) eventByID(t *testing.T, eventID string) Event {
	t.Helper()
	event, err := f.events.GetByID(context.Background(), eventID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	return event
}

func auditActions(t *testing.T, trail AuditTrail, eventID string) []AuditAction {
	t.Helper()
	entries, _, err := trail.List(context.Background(), AuditFilter{EventID: eventID, Limit: maxPageSize})
	if err != nil {
		t.Fatalf("list audit trail: %v", err)
	}
	actions := make([]AuditAction, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func hasAction(actions []AuditAction, want AuditAction) bool {
	for _, action := range actions {
		if action == want {
			return true
		}
	}
	return false
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}
