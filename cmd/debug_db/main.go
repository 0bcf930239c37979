package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "dsl.db", "path to the journal database")
	limit := flag.Int("limit", 20, "rows to show per table")
	flag.Parse()

	journal, err := storage.NewSQLiteJournal(*dbPath, nil)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	ctx := context.Background()
	results, err := journal.ListCycleResults(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list cycle results: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Last %d cycle results:\n", len(results))
	for _, r := range results {
		mark := "✅"
		if r.Status != "ok" {
			mark = "❌"
		}
		fmt.Printf("%s %s %s/%s %s price=%f floor=%f roe=%.2f%% tier=%d breaches=%d %s\n",
			mark, r.CheckedAt.Format("2006-01-02 15:04:05"), r.StrategyID, r.Asset, r.State,
			r.Price, r.FloorPrice, r.ROEPct, r.CurrentTierIndex, r.CurrentBreachCount, r.Summary)
		if r.ErrorKind != "" {
			fmt.Printf("   error_kind=%s\n", r.ErrorKind)
		}
	}

	history, err := journal.ListPositionHistory(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list position history: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nFound %d closed positions:\n", len(history))
	for _, h := range history {
		fmt.Printf("- %s/%s %s size=%f entry=%f exit=%f pnl=%f tier=%d reason=%s at %s\n",
			h.StrategyID, h.Asset, h.Direction, h.Size, h.EntryPrice, h.ExitPrice,
			h.RealizedPnL, h.TierIndex, h.Reason, h.ClosedAt.Format("2006-01-02 15:04:05"))
	}
}
