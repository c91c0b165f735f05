// Package cli implements the maintenance subcommands of the meridian
// binary: manual job triggers, ledger bootstrap, and offline repair tooling.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Run dispatches a maintenance subcommand and exits non-zero on failure.
func Run(args []string) {
	if err := run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, "meridian:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError()
	}
	switch args[0] {
	case "jobs":
		return runJobs(ctx, args[1:])
	case "ledger":
		return runLedger(ctx, args[1:])
	case "stock":
		return runStock(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usageError() error {
	printUsage(os.Stderr)
	return fmt.Errorf("a command is required")
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `Usage: meridian <command> [flags]

Commands:
  jobs stats                      show queue statistics
  jobs trigger <task>             enqueue a background task by type
  ledger bootstrap [-day D]       seed day-zero movements from aggregate stock
  ledger rebuild -warehouse W -item I
                                  recompute one cell's movement timeline
  stock resync -warehouse W -item I
                                  force the aggregate cell back to batch truth

Running without a command starts the HTTP server.
`)
}

func openPool(ctx context.Context) (*pgxpool.Pool, *app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, cfg, nil
}
