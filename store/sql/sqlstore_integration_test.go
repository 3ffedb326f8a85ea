package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-ingest/core"
	ingestmigrations "github.com/goliatone/go-ingest/migrations"
	sqlstore "github.com/goliatone/go-ingest/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-ingest-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"ingest_events",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "ingest_events" {
		t.Fatalf("expected ingest_events table, got %q", tableName)
	}
}

func TestEventStore_UpsertDeduplicatesByExternalID(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	events := factory.EventStore()

	first, created, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_dup_1",
		Category:   "payment.captured",
		Payload:    map[string]any{"amount": float64(1250)},
		TenantHint: "acct_42",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !created {
		t.Fatalf("expected first upsert to create the event")
	}
	if first.Outcome != core.EventOutcomePending {
		t.Fatalf("expected pending outcome, got %s", first.Outcome)
	}

	second, created, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_dup_1",
		Category:   "payment.captured",
		Payload:    map[string]any{"amount": float64(9999), "tampered": true},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatalf("expected second upsert to return the existing event")
	}
	if second.ID != first.ID {
		t.Fatalf("expected stable event id, got %s and %s", first.ID, second.ID)
	}
	if second.Payload["amount"] != float64(1250) {
		t.Fatalf("expected original payload to survive redelivery, got %v", second.Payload)
	}
	if _, ok := second.Payload["tampered"]; ok {
		t.Fatalf("expected redelivered payload to be discarded")
	}

	byExternal, err := events.GetByExternalID(ctx, "whk_dup_1")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if byExternal.ID != first.ID {
		t.Fatalf("expected lookup by external id to find the stored event")
	}
}

func TestEventStore_RecordOutcomeEnforcesTransitions(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	events := factory.EventStore()

	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_outcome_1",
		Category:   "payment.captured",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := events.RecordOutcome(ctx, event.ID, core.EventOutcomeFailed, "consumer boom"); err != nil {
		t.Fatalf("record failed outcome: %v", err)
	}
	stored, err := events.GetByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Outcome != core.EventOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", stored.Outcome)
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", stored.Attempts)
	}
	if stored.LastError != "consumer boom" {
		t.Fatalf("expected last error to be recorded, got %q", stored.LastError)
	}

	if _, err := events.RecordOutcome(ctx, event.ID, core.EventOutcomeProcessed, ""); err != nil {
		t.Fatalf("record processed outcome after failure: %v", err)
	}
	stored, err = events.GetByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("get after processed: %v", err)
	}
	if stored.Outcome != core.EventOutcomeProcessed {
		t.Fatalf("expected processed outcome, got %s", stored.Outcome)
	}
	if stored.LastError != "" {
		t.Fatalf("expected last error cleared on processed, got %q", stored.LastError)
	}

	if _, err := events.RecordOutcome(ctx, event.ID, core.EventOutcomeFailed, "late failure"); err == nil {
		t.Fatalf("expected processed outcome to be terminal")
	}
}

func TestDispatchStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	events, ledger := newStores(t, client)
	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_claim_1",
		Category:   "payment.captured",
	})
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}

	dispatch, err := ledger.Ensure(ctx, event.ID, "billing")
	if err != nil {
		t.Fatalf("ensure dispatch: %v", err)
	}
	again, err := ledger.Ensure(ctx, event.ID, "billing")
	if err != nil {
		t.Fatalf("ensure dispatch twice: %v", err)
	}
	if again.ID != dispatch.ID {
		t.Fatalf("expected ensure to return the existing row, got %s and %s", dispatch.ID, again.ID)
	}

	now := time.Now().UTC()
	won, err := ledger.Claim(ctx, dispatch.ID, now)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !won {
		t.Fatalf("expected first claim to win")
	}

	won, err = ledger.Claim(ctx, dispatch.ID, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("expected second claim to lose while row is processing")
	}

	retryAt := now.Add(time.Minute)
	failed, err := ledger.RecordFailure(ctx, dispatch.ID, "downstream 503", retryAt, 5)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if failed.Status != core.DispatchStatusFailed {
		t.Fatalf("expected failed status, got %s", failed.Status)
	}
	if failed.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", failed.Attempts)
	}
	if failed.NextRetryAt == nil {
		t.Fatalf("expected a scheduled retry")
	}

	won, err = ledger.Claim(ctx, dispatch.ID, now)
	if err != nil {
		t.Fatalf("claim before due: %v", err)
	}
	if won {
		t.Fatalf("expected claim before the retry due time to lose")
	}

	won, err = ledger.Claim(ctx, dispatch.ID, retryAt.Add(time.Second))
	if err != nil {
		t.Fatalf("claim after due: %v", err)
	}
	if !won {
		t.Fatalf("expected claim after the retry due time to win")
	}

	if err := ledger.RecordSuccess(ctx, dispatch.ID, retryAt.Add(2*time.Second)); err != nil {
		t.Fatalf("record success: %v", err)
	}
	stored, err := ledger.Get(ctx, dispatch.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.DispatchStatusSucceeded {
		t.Fatalf("expected succeeded status, got %s", stored.Status)
	}
	if stored.Attempts != 2 {
		t.Fatalf("expected attempts=2 after retry success, got %d", stored.Attempts)
	}
	if stored.LastError != "" {
		t.Fatalf("expected last error cleared on success, got %q", stored.LastError)
	}

	won, err = ledger.Claim(ctx, dispatch.ID, retryAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("claim after success: %v", err)
	}
	if won {
		t.Fatalf("expected succeeded row to be unclaimable")
	}
}

func TestDispatchStore_ConcurrentClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	events, ledger := newStores(t, client)
	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_race_1",
		Category:   "payment.captured",
	})
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}
	dispatch, err := ledger.Ensure(ctx, event.ID, "ledger")
	if err != nil {
		t.Fatalf("ensure dispatch: %v", err)
	}

	const claimers = 8
	now := time.Now().UTC()
	var wg sync.WaitGroup
	results := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, claimErr := ledger.Claim(ctx, dispatch.ID, now)
			if claimErr != nil {
				t.Errorf("claim: %v", claimErr)
				return
			}
			results <- won
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}
}

func TestDispatchStore_ExhaustionLeavesRowReplayable(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	events, ledger := newStores(t, client)
	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_exhaust_1",
		Category:   "payment.captured",
	})
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}
	dispatch, err := ledger.Ensure(ctx, event.ID, "crm")
	if err != nil {
		t.Fatalf("ensure dispatch: %v", err)
	}

	now := time.Now().UTC()
	if won, claimErr := ledger.Claim(ctx, dispatch.ID, now); claimErr != nil || !won {
		t.Fatalf("claim: won=%v err=%v", won, claimErr)
	}
	exhausted, err := ledger.RecordFailure(ctx, dispatch.ID, "still broken", now.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if exhausted.NextRetryAt != nil {
		t.Fatalf("expected no retry after the attempt budget is spent")
	}
	if !exhausted.Exhausted() {
		t.Fatalf("expected row to report exhausted")
	}

	due, err := ledger.ListDue(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected exhausted row to stay out of the due queue, got %d", len(due))
	}

	won, err := ledger.Claim(ctx, dispatch.ID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("manual replay claim: %v", err)
	}
	if !won {
		t.Fatalf("expected exhausted row to remain claimable for manual replay")
	}
}

func TestDispatchStore_ListDueOrdersByRetryTime(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	events, ledger := newStores(t, client)
	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_due_1",
		Category:   "payment.captured",
	})
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}

	now := time.Now().UTC()
	consumers := []struct {
		name    string
		retryAt time.Time
	}{
		{"late", now.Add(-time.Minute)},
		{"earliest", now.Add(-time.Hour)},
		{"future", now.Add(time.Hour)},
	}
	ids := map[string]string{}
	for _, consumer := range consumers {
		dispatch, ensureErr := ledger.Ensure(ctx, event.ID, consumer.name)
		if ensureErr != nil {
			t.Fatalf("ensure %s: %v", consumer.name, ensureErr)
		}
		ids[consumer.name] = dispatch.ID
		if won, claimErr := ledger.Claim(ctx, dispatch.ID, now.Add(-2*time.Hour)); claimErr != nil || !won {
			t.Fatalf("claim %s: won=%v err=%v", consumer.name, won, claimErr)
		}
		if _, failErr := ledger.RecordFailure(ctx, dispatch.ID, "boom", consumer.retryAt, 5); failErr != nil {
			t.Fatalf("record failure %s: %v", consumer.name, failErr)
		}
	}

	due, err := ledger.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due rows, got %d", len(due))
	}
	if due[0].ID != ids["earliest"] || due[1].ID != ids["late"] {
		t.Fatalf("expected due order earliest then late, got %s then %s", due[0].Consumer, due[1].Consumer)
	}

	limited, err := ledger.ListDue(ctx, now, 1)
	if err != nil {
		t.Fatalf("list due limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != ids["earliest"] {
		t.Fatalf("expected the earliest row only, got %d rows", len(limited))
	}
}

func TestDispatchStore_ReclaimSweepsStaleClaims(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	events, ledger := newStores(t, client)
	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_reclaim_1",
		Category:   "payment.captured",
	})
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}

	now := time.Now().UTC()
	stale := now.Add(-time.Hour)

	fresh, err := ledger.Ensure(ctx, event.ID, "fresh")
	if err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if won, claimErr := ledger.Claim(ctx, fresh.ID, stale); claimErr != nil || !won {
		t.Fatalf("claim fresh: won=%v err=%v", won, claimErr)
	}

	spent, err := ledger.Ensure(ctx, event.ID, "spent")
	if err != nil {
		t.Fatalf("ensure spent: %v", err)
	}
	for i := 0; i < 4; i++ {
		if won, claimErr := ledger.Claim(ctx, spent.ID, stale); claimErr != nil || !won {
			t.Fatalf("claim spent cycle %d: won=%v err=%v", i, won, claimErr)
		}
		if _, failErr := ledger.RecordFailure(ctx, spent.ID, "boom", stale.Add(-time.Minute), 100); failErr != nil {
			t.Fatalf("record failure cycle %d: %v", i, failErr)
		}
	}
	if won, claimErr := ledger.Claim(ctx, spent.ID, stale); claimErr != nil || !won {
		t.Fatalf("final claim spent: won=%v err=%v", won, claimErr)
	}

	reclaimed, err := ledger.Reclaim(ctx, now.Add(-30*time.Minute), 5, now)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("expected 2 reclaimed rows, got %d", reclaimed)
	}

	freshRow, err := ledger.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if freshRow.Status != core.DispatchStatusFailed {
		t.Fatalf("expected reclaimed row failed, got %s", freshRow.Status)
	}
	if freshRow.Attempts != 1 {
		t.Fatalf("expected fresh attempts=1, got %d", freshRow.Attempts)
	}
	if freshRow.NextRetryAt == nil {
		t.Fatalf("expected fresh row to be immediately retryable")
	}

	spentRow, err := ledger.Get(ctx, spent.ID)
	if err != nil {
		t.Fatalf("get spent: %v", err)
	}
	if spentRow.Attempts != 5 {
		t.Fatalf("expected spent attempts=5, got %d", spentRow.Attempts)
	}
	if spentRow.NextRetryAt != nil {
		t.Fatalf("expected spent row to exhaust instead of rescheduling")
	}

	due, err := ledger.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh row in the due queue, got %d rows", len(due))
	}
}

func TestDispatchStore_ListDenormalizesEventFields(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	events, ledger := newStores(t, client)
	event, _, err := events.Upsert(ctx, core.EventInput{
		ExternalID: "whk_list_1",
		Category:   "refund.settled",
		TenantHint: "acct_77",
	})
	if err != nil {
		t.Fatalf("upsert event: %v", err)
	}
	if _, err := ledger.Ensure(ctx, event.ID, "billing"); err != nil {
		t.Fatalf("ensure dispatch: %v", err)
	}

	details, total, err := ledger.List(ctx, core.DispatchFilter{Consumer: "billing"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(details) != 1 {
		t.Fatalf("expected one dispatch row, got total=%d len=%d", total, len(details))
	}
	detail := details[0]
	if detail.EventExternalID != "whk_list_1" {
		t.Fatalf("expected denormalized external id, got %q", detail.EventExternalID)
	}
	if detail.EventCategory != "refund.settled" {
		t.Fatalf("expected denormalized category, got %q", detail.EventCategory)
	}
	if detail.TenantHint != "acct_77" {
		t.Fatalf("expected denormalized tenant hint, got %q", detail.TenantHint)
	}

	none, total, err := ledger.List(ctx, core.DispatchFilter{Status: core.DispatchStatusSucceeded})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 0 || len(none) != 0 {
		t.Fatalf("expected no succeeded rows, got total=%d", total)
	}
}

func TestAuditStore_RecordAndListByEvent(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	audit := factory.AuditTrail()

	entries := []core.AuditEntry{
		{EventID: "evt_a", Actor: core.AuditActorIntake, Action: core.AuditActionEventReceived, Note: "payment.captured"},
		{EventID: "evt_a", Actor: core.AuditActorWorker, Action: core.AuditActionDispatchFailed, Note: "billing"},
		{EventID: "evt_b", Actor: core.AuditActorOperator, Action: core.AuditActionReplayRequested},
	}
	for i, entry := range entries {
		if err := audit.Record(ctx, entry); err != nil {
			t.Fatalf("record entry %d: %v", i, err)
		}
	}

	items, total, err := audit.List(ctx, core.AuditFilter{EventID: "evt_a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 entries for evt_a, got total=%d len=%d", total, len(items))
	}
	if items[0].Action != core.AuditActionEventReceived {
		t.Fatalf("expected chronological order, first action %s", items[0].Action)
	}
	if items[1].Action != core.AuditActionDispatchFailed {
		t.Fatalf("expected chronological order, second action %s", items[1].Action)
	}
}

func newStores(t *testing.T, client *persistence.Client) (core.EventStore, core.DispatchLedger) {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	events := factory.EventStore()
	ledger := factory.DispatchLedger()
	if events == nil || ledger == nil {
		t.Fatalf("expected event store and dispatch ledger from factory")
	}
	return events, ledger
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:ingest-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = ingestmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != ingestmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, ingestmigrations.WithValidationTargets(ingestmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
