package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/internal/config"
	"github.com/provisohq/proviso/internal/governance"
	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/internal/ledger/pgstore"
	"github.com/provisohq/proviso/internal/ledger/sqlstore"
)

// app carries the per-invocation state shared by every subcommand: the
// loaded config and the registry over the configured store.
type app struct {
	configPath string
	jsonOut    bool

	cfg     config.Config
	reg     *governance.Registry
	cleanup func()
}

// Execute runs the CLI and returns its exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	defer func() {
		if a.cleanup != nil {
			a.cleanup()
		}
	}()

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "proviso",
		Short:         "Decision governance: contracts, audit traces, and explain-run chains",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", envOrDefault("PROVISO_CONFIG_PATH", ""), "path to proviso config file")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print raw JSON instead of summaries")

	root.AddCommand(
		newContractsCmd(a),
		newEvaluateCmd(a),
		newRunsCmd(a),
		newTracesCmd(a),
		newAuditCmd(a),
		newMaintainCmd(a),
		newSlaCmd(a),
	)
	return root
}

// open loads the config and builds the registry. Subcommands call it
// from their RunE so that --help never touches the database.
func (a *app) open() error {
	if a.reg != nil {
		return nil
	}

	if a.configPath == "" {
		a.cfg = config.Default()
	} else {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
	}

	store, cleanup, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	a.cleanup = cleanup
	a.reg = governance.NewRegistry(governance.Options{
		Store:          store,
		ThrottleWindow: a.cfg.ThrottleWindow(),
		SLA:            a.cfg.SLA,
	})
	return nil
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

// printJSON writes v indented to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// readInput resolves an inline value, a file path, or stdin ("-").
func readInput(cmd *cobra.Command, inline, path string) ([]byte, error) {
	switch {
	case inline != "":
		return []byte(inline), nil
	case path == "-":
		return io.ReadAll(cmd.InOrStdin())
	case path != "":
		// #nosec G304 -- path is an operator-provided input file.
		return os.ReadFile(path)
	default:
		return nil, fmt.Errorf("no input given")
	}
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}
