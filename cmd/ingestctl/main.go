// Command ingestctl is the operator surface for the go-ingest pipeline:
// triage listings, event drill-down, manual replay, the retry worker loop,
// and schema migrations.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-ingest/core"
	sqlstore "github.com/goliatone/go-ingest/store/sql"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

var cli struct {
	Driver  string `help:"Database driver." enum:"sqlite3,postgres" default:"sqlite3" env:"INGEST_DB_DRIVER"`
	DSN     string `help:"Database DSN." default:"file:ingest.db?cache=shared&_foreign_keys=on" env:"INGEST_DB_DSN"`
	Verbose bool   `help:"Log service internals." short:"v"`

	List    ListCmd    `cmd:"" help:"List dispatch ledger rows for triage."`
	Events  EventsCmd  `cmd:"" help:"List stored events."`
	Show    ShowCmd    `cmd:"" help:"Show one event and its dispatch rows."`
	Replay  ReplayCmd  `cmd:"" help:"Replay dispatches by id, event id, or status cohort."`
	Worker  WorkerCmd  `cmd:"" help:"Run the retry worker loop until interrupted."`
	Migrate MigrateCmd `cmd:"" help:"Apply schema migrations to the configured store."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("ingestctl"),
		kong.Description("Operator tooling for the go-ingest event pipeline."),
		kong.UsageOnError(),
	)

	rt := &runtime{
		driver:  cli.Driver,
		dsn:     cli.DSN,
		verbose: cli.Verbose,
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	err := kctx.Run(rt)
	rt.close()
	kctx.FatalIfErrorf(err)
}

// runtime carries the lazily opened store handles shared by every
// subcommand. Tests inject svc and the streams directly.
type runtime struct {
	driver  string
	dsn     string
	verbose bool

	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	client *persistence.Client
	svc    core.IngestService
}

func (rt *runtime) context() context.Context {
	if rt.ctx != nil {
		return rt.ctx
	}
	return context.Background()
}

func (rt *runtime) persistence() (*persistence.Client, error) {
	if rt.client != nil {
		return rt.client, nil
	}
	sqlDB, err := sql.Open(rt.driver, rt.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", rt.driver, err)
	}
	if rt.driver == driverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(storeSettings{driver: rt.driver, server: rt.dsn}, sqlDB, rt.dialect())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect %s store: %w", rt.driver, err)
	}
	rt.client = client
	return client, nil
}

func (rt *runtime) service(overrides core.Config) (core.IngestService, error) {
	if rt.svc != nil {
		return rt.svc, nil
	}
	client, err := rt.persistence()
	if err != nil {
		return nil, err
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	svc, err := core.NewService(overrides,
		core.WithRepositoryFactory(factory),
		core.WithLogger(rt.logger()),
	)
	if err != nil {
		return nil, err
	}
	rt.svc = svc
	return svc, nil
}

func (rt *runtime) logger() core.Logger {
	if !rt.verbose {
		return glog.Nop()
	}
	_, logger := glog.Resolve("ingestctl", nil, nil)
	return logger
}

func (rt *runtime) dialect() schema.Dialect {
	if rt.driver == driverPostgres {
		return pgdialect.New()
	}
	return sqlitedialect.New()
}

func (rt *runtime) close() {
	if rt.client != nil {
		_ = rt.client.Close()
	}
}

// storeSettings satisfies the go-persistence-bun config contract for a
// CLI-opened connection.
type storeSettings struct {
	driver string
	server string
}

func (s storeSettings) GetDebug() bool                { return false }
func (s storeSettings) GetDriver() string             { return s.driver }
func (s storeSettings) GetServer() string             { return s.server }
func (s storeSettings) GetPingTimeout() time.Duration { return 5 * time.Second }
func (s storeSettings) GetOtelIdentifier() string     { return "ingestctl" }
