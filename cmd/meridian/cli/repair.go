package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func parseCellFlags(name string, args []string) (int64, int64, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	warehouseID := fs.Int64("warehouse", 0, "warehouse id")
	itemID := fs.Int64("item", 0, "item id")
	if err := fs.Parse(args); err != nil {
		return 0, 0, err
	}
	if *warehouseID == 0 || *itemID == 0 {
		return 0, 0, fmt.Errorf("%s: -warehouse and -item are required", name)
	}
	return *warehouseID, *itemID, nil
}

func runLedger(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("ledger: a subcommand is required (bootstrap, rebuild)")
	}
	switch args[0] {
	case "bootstrap":
		return runLedgerBootstrap(ctx, args[1:])
	case "rebuild":
		return runLedgerRebuild(ctx, args[1:])
	default:
		return fmt.Errorf("ledger: unknown subcommand %q", args[0])
	}
}

func runLedgerBootstrap(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ledger bootstrap", flag.ContinueOnError)
	day := fs.String("day", "", "ledger day to seed (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	at := time.Now().UTC()
	if *day != "" {
		parsed, err := time.Parse("2006-01-02", *day)
		if err != nil {
			return fmt.Errorf("ledger bootstrap: invalid -day: %w", err)
		}
		at = parsed
	}

	pool, cfg, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger := app.NewLogger(cfg)

	service := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	seeded, err := service.BootstrapAll(ctx, at)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d movement rows for %s\n", seeded, ledger.DayOf(at).Format("2006-01-02"))
	return nil
}

func runLedgerRebuild(ctx context.Context, args []string) error {
	warehouseID, itemID, err := parseCellFlags("ledger rebuild", args)
	if err != nil {
		return err
	}

	pool, cfg, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger := app.NewLogger(cfg)

	service := ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	result, err := service.Rebuild(ctx, warehouseID, itemID)
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt cell %d:%d rows=%d repaired=%d baseline=%.2f\n",
		result.WarehouseID, result.ItemID, result.Rows, result.Repaired, result.Baseline)
	return nil
}

func runStock(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "resync" {
		return fmt.Errorf("stock: a subcommand is required (resync)")
	}
	warehouseID, itemID, err := parseCellFlags("stock resync", args[1:])
	if err != nil {
		return err
	}

	pool, cfg, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger := app.NewLogger(cfg)

	service := inventory.NewService(inventory.NewRepository(pool), nil, shared.NewAuditLogger(pool), nil, nil, logger)
	drift, err := service.ResyncStockLevel(ctx, warehouseID, itemID)
	if err != nil {
		return err
	}
	if drift == 0 {
		fmt.Printf("cell %d:%d already consistent\n", warehouseID, itemID)
		return nil
	}
	fmt.Printf("cell %d:%d corrected drift=%.2f\n", warehouseID, itemID, drift)
	return nil
}
