package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/provisohq/proviso/internal/config"
	"github.com/provisohq/proviso/internal/explain"
	"github.com/provisohq/proviso/internal/governance"
	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/internal/ledger/pgstore"
	"github.com/provisohq/proviso/internal/ledger/sqlstore"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, signalChan()); err != nil {
		fatalf("maintd error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string

func run(args []string, getenv envFn, stop <-chan os.Signal) error {
	fs := flag.NewFlagSet("proviso-maintd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to proviso config file")
	once := fs.Bool("once", false, "run a single maintenance cycle and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("PROVISO_CONFIG_PATH")
	}

	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	store, cleanup, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := governance.NewRegistry(governance.Options{
		Store:          store,
		ThrottleWindow: cfg.ThrottleWindow(),
		SLA:            cfg.SLA,
	})

	cycle := func() {
		report := reg.Runs.RunMaintenance(explain.MaintenanceOptions{
			MaxAgeDays:          cfg.Maintenance.MaxAgeDays,
			MaxRows:             cfg.Maintenance.MaxRows,
			MinDeletedForVacuum: cfg.Maintenance.MinDeletedForVacuum,
		})
		swept := reg.SweepThrottle()
		log.Printf("maintenance deleted=%d remaining=%d vacuum_ran=%v throttle_swept=%d",
			report.Deleted, report.Remaining, report.VacuumRan, swept)
		for _, failure := range report.Errors {
			log.Printf("maintenance failure: %s", failure)
		}
	}

	cycle()
	if *once {
		return nil
	}

	interval := cfg.MaintenanceInterval()
	log.Printf("proviso-maintd running every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cycle()
		case sig := <-stop:
			log.Printf("proviso-maintd stopping on %s", sig)
			return nil
		}
	}
}

func openStore(cfg config.Config) (ledger.Store, func(), error) {
	switch cfg.DB.Driver {
	case "sqlite":
		store, err := sqlstore.OpenSQLite(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := ledger.Migrate(store.DB(), ledger.DBSQLite); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		store, err := pgstore.OpenPostgres(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := ledger.Migrate(store.DB(), ledger.DBPostgres); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return ledger.NewInMemoryStore(), func() {}, nil
	}
}

func signalChan() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
