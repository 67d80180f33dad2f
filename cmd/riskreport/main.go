// riskreport prints open positions and recent close history from the
// position database.
//
// Usage:
//
//	riskreport -db ./data/autotrader.db -trader trader-1 -limit 20
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"autoTraderCore/internal/adapters/sqlite"
	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/pnl"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func main() {
	dbPath := flag.String("db", "./data/autotrader.db", "path to the position database")
	traderID := flag.String("trader", "", "trader to report close history for (empty skips history)")
	limit := flag.Int("limit", 20, "max history rows")
	flag.Parse()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: nopLogger{}})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	positions, err := repo.LoadAllOpenPositions(ctx)
	if err != nil {
		log.Fatalf("Failed to load open positions: %v", err)
	}
	renderOpenPositions(positions)

	if *traderID == "" {
		return
	}

	records, err := repo.FindHistoryByTrader(ctx, *traderID, *limit)
	if err != nil {
		log.Fatalf("Failed to load history for trader %s: %v", *traderID, err)
	}
	renderHistory(*traderID, records)

	daily, err := repo.RealizedPnLSince(ctx, *traderID, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		log.Fatalf("Failed to compute realized P&L: %v", err)
	}
	fmt.Printf("Realized P&L (last 24h): %s\n", daily.StringFixed(2))
}

func renderOpenPositions(positions []*domain.Position) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("OPEN POSITIONS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Trader", "Symbol", "Side", "Qty", "Lev", "Entry", "Current", "Stop", "Unrealized", "Opened"})

	totalUnrealized := decimal.Zero
	for _, pos := range positions {
		unrealized := pnl.Unrealized(pos, pos.CurrentPrice)
		totalUnrealized = totalUnrealized.Add(unrealized)
		t.AppendRow(table.Row{
			pos.ID,
			pos.TraderID,
			pos.Symbol,
			pos.Side,
			pos.Quantity.String(),
			pos.Leverage,
			pos.EntryPrice.StringFixed(2),
			pos.CurrentPrice.StringFixed(2),
			pos.StopLoss.StringFixed(2),
			unrealized.StringFixed(2),
			pos.OpenedAt.Format(time.RFC3339),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "Total", totalUnrealized.StringFixed(2), ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 10, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}

func renderHistory(traderID string, records []*domain.PositionHistoryRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("CLOSE HISTORY: %s", traderID))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Position", "Symbol", "Side", "Qty", "Entry", "Exit", "Realized", "Reason", "Duration", "Closed"})

	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.PositionID,
			rec.Symbol,
			rec.Side,
			rec.Quantity.String(),
			rec.EntryPrice.StringFixed(2),
			rec.ExitPrice.StringFixed(2),
			rec.RealizedPnL.StringFixed(2),
			rec.CloseReason,
			rec.Duration.Round(time.Second),
			rec.ClosedAt.Format(time.RFC3339),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}
