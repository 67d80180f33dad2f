// Package recovery reconciles persisted position state with the exchange at
// startup. A crash between order placement and persistence, or between
// persistence and a close, leaves the two views disagreeing; the coordinator
// resolves every disagreement before the trading loop starts admitting work.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ledger"
	"autoTraderCore/internal/monitoring"
	"autoTraderCore/internal/pnl"
	"autoTraderCore/internal/ports"
)

// Coordinator rebuilds the in-memory ledger from durable storage and the
// exchange's authoritative state.
type Coordinator struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	posRepo  ports.PositionRepository
	histRepo ports.HistoryRepository
	ledger   *ledger.Ledger
}

// New creates a recovery coordinator.
func New(logger ports.Logger, exchange ports.ExchangeClient, posRepo ports.PositionRepository, histRepo ports.HistoryRepository, lg *ledger.Ledger) (*Coordinator, error) {
	if logger == nil || exchange == nil || posRepo == nil || histRepo == nil || lg == nil {
		return nil, fmt.Errorf("missing required dependencies for recovery coordinator")
	}
	return &Coordinator{
		logger:   logger,
		exchange: exchange,
		posRepo:  posRepo,
		histRepo: histRepo,
		ledger:   lg,
	}, nil
}

// RecoverPositions loads every persisted open position, asks the exchange for
// its live counterpart, and either reinstates it in the ledger (reconciled to
// the exchange's quantity and mark price) or closes it as orphaned when the
// exchange no longer holds it. Per-position failures are logged and the
// position reinstated as-is; recovery never blocks startup.
func (c *Coordinator) RecoverPositions(ctx context.Context) error {
	persisted, err := c.posRepo.LoadAllOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted positions: %w", err)
	}
	if len(persisted) == 0 {
		c.logger.Info(ctx, "no open positions to recover")
		return nil
	}

	recovered, orphaned := 0, 0
	for _, pos := range persisted {
		live, err := c.exchange.GetLivePosition(ctx, pos.ID, pos.Symbol)
		if err != nil {
			// Exchange unreachable: keep the persisted view, the monitor
			// reconciles prices once connectivity returns.
			c.logger.Warn(ctx, "live position lookup failed, reinstating persisted state", map[string]interface{}{
				"positionID": pos.ID, "symbol": pos.Symbol, "error": err.Error(),
			})
			if err := c.reinstate(ctx, pos); err != nil {
				c.logger.Error(ctx, err, "reinstating position failed", map[string]interface{}{"positionID": pos.ID})
			}
			continue
		}

		if live == nil {
			if err := c.closeOrphan(ctx, pos); err != nil {
				c.logger.Error(ctx, err, "orphan close failed", map[string]interface{}{"positionID": pos.ID})
				continue
			}
			orphaned++
			continue
		}

		c.reconcile(ctx, pos, live)
		if err := c.reinstate(ctx, pos); err != nil {
			c.logger.Error(ctx, err, "reinstating position failed", map[string]interface{}{"positionID": pos.ID})
			continue
		}
		recovered++
	}

	c.logger.Info(ctx, "position recovery finished", map[string]interface{}{
		"persisted": len(persisted), "recovered": recovered, "orphaned": orphaned,
	})
	return nil
}

// reconcile folds the exchange's view into the persisted position. Quantity
// drift means the persisted fill was partial or a close half-landed; the
// exchange is authoritative for both.
func (c *Coordinator) reconcile(ctx context.Context, pos *domain.Position, live *ports.LivePosition) {
	if !live.Quantity.Equal(pos.Quantity) {
		c.logger.Warn(ctx, "quantity drift against exchange, adopting exchange value", map[string]interface{}{
			"positionID": pos.ID, "persisted": pos.Quantity.String(), "exchange": live.Quantity.String(),
		})
		pos.Quantity = live.Quantity
	}
	if live.MarkPrice.IsPositive() {
		pos.CurrentPrice = live.MarkPrice
	}
	pos.Status = domain.StatusOpen
}

func (c *Coordinator) reinstate(ctx context.Context, pos *domain.Position) error {
	pos.Status = domain.StatusOpen
	if err := c.ledger.Insert(pos); err != nil {
		return fmt.Errorf("inserting recovered position: %w", err)
	}
	c.logger.Info(ctx, "position recovered", map[string]interface{}{
		"positionID": pos.ID, "traderID": pos.TraderID, "symbol": pos.Symbol,
	})
	return nil
}

// closeOrphan records a position the exchange no longer holds as closed with
// reason orphaned. Realized P&L is best-effort at the last known price since
// the true exit fill is unknowable.
func (c *Coordinator) closeOrphan(ctx context.Context, pos *domain.Position) error {
	exitPrice := pos.CurrentPrice
	if !exitPrice.IsPositive() {
		exitPrice = pos.EntryPrice
	}
	realized := pnl.Realized(pos, exitPrice)

	pos.Status = domain.StatusClosed
	pos.ClosedAt = time.Now().UTC()
	pos.CloseReason = domain.CloseReasonOrphaned

	if err := c.posRepo.SavePosition(ctx, pos); err != nil {
		return fmt.Errorf("persisting orphaned position: %w", err)
	}
	rec := domain.NewHistoryRecord(uuid.NewString(), pos, exitPrice, realized)
	if err := c.histRepo.AppendHistory(ctx, rec); err != nil {
		return fmt.Errorf("recording orphaned position history: %w", err)
	}

	monitoring.RecordOrphanClosed()
	c.logger.Warn(ctx, "orphaned position closed", map[string]interface{}{
		"positionID": pos.ID, "traderID": pos.TraderID, "symbol": pos.Symbol,
		"exitPrice": exitPrice.String(), "realizedPnL": realized.String(),
	})
	return nil
}
