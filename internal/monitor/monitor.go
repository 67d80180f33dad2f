// Package monitor runs the periodic stop-loss, take-profit, and daily-loss
// checks over the open-position ledger. It is a polling cycle rather than a
// purely event-driven handler because price updates may arrive out of band
// when no push feed is available.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"autoTraderCore/config"
	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ledger"
	"autoTraderCore/internal/monitoring"
	"autoTraderCore/internal/ports"
	"autoTraderCore/internal/risk"
)

// PositionOps is the slice of the position manager the monitor needs.
type PositionOps interface {
	ports.PositionCloser
	UpdatePosition(ctx context.Context, positionID string, currentPrice decimal.Decimal) error
}

// Monitor periodically evaluates open positions against their stop-loss and
// take-profit levels and traders against the daily-loss limit. It runs on its
// own scheduling lane; coordination with request-driven opens and closes
// happens through the ledger's lock, never by blocking each other directly.
type Monitor struct {
	cfg      *config.Config
	cfgStore *config.Store
	logger   ports.Logger
	exchange ports.ExchangeClient
	ledger   *ledger.Ledger
	risk     *risk.Manager
	ops      PositionOps
}

// New creates a stop-loss monitor.
func New(cfg *config.Config, cfgStore *config.Store, logger ports.Logger, exchange ports.ExchangeClient, lg *ledger.Ledger, riskMgr *risk.Manager, ops PositionOps) (*Monitor, error) {
	if cfg == nil || cfgStore == nil || logger == nil || exchange == nil || lg == nil || riskMgr == nil || ops == nil {
		return nil, fmt.Errorf("missing required dependencies for monitor")
	}
	return &Monitor{
		cfg:      cfg,
		cfgStore: cfgStore,
		logger:   logger,
		exchange: exchange,
		ledger:   lg,
		risk:     riskMgr,
		ops:      ops,
	}, nil
}

// Run executes monitoring cycles until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	m.logger.Info(ctx, "stop-loss monitor started", map[string]interface{}{"interval": m.cfg.MonitorInterval.String()})
	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "stop-loss monitor stopped")
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle performs one full pass: refresh prices, evaluate per-position
// stop-loss and take-profit levels, then per-trader daily-loss limits.
// Failures on one position never prevent evaluation of the others.
func (m *Monitor) RunCycle(ctx context.Context) {
	m.refreshPrices(ctx)

	traders := make(map[string]bool)
	for _, pos := range m.ledger.ListAll() {
		traders[pos.TraderID] = true

		if pos.Status == domain.StatusClosing {
			if pos.CloseReason == "" {
				continue
			}
			// The close order filled but its commit failed; finish the commit
			// so the exposure stops counting a position the exchange no
			// longer holds.
			if _, err := m.ops.ClosePosition(ctx, pos.ID, pos.CloseReason); err != nil && !errors.Is(err, ports.ErrAlreadyClosed) {
				m.logger.Error(ctx, err, "close commit retry failed, will retry next cycle", map[string]interface{}{"positionID": pos.ID})
			}
			continue
		}
		if pos.Status != domain.StatusOpen {
			continue
		}
		switch {
		case m.CheckPositionStopLoss(pos):
			if err := m.ExecuteStopLoss(ctx, pos, domain.CloseReasonStopLoss); err != nil {
				m.logger.Error(ctx, err, "stop-loss close failed, will retry next cycle", map[string]interface{}{"positionID": pos.ID})
			}
		case m.checkTakeProfit(pos):
			if err := m.ExecuteStopLoss(ctx, pos, domain.CloseReasonTakeProfit); err != nil {
				m.logger.Error(ctx, err, "take-profit close failed, will retry next cycle", map[string]interface{}{"positionID": pos.ID})
			}
		}
	}

	for traderID := range traders {
		breached, err := m.CheckTraderStopLoss(ctx, traderID)
		if err != nil {
			m.logger.Error(ctx, err, "trader daily-loss check failed", map[string]interface{}{"traderID": traderID})
			continue
		}
		if !breached {
			continue
		}
		m.logger.Warn(ctx, "trader daily-loss limit breached", map[string]interface{}{"traderID": traderID})
		for _, pos := range m.ledger.ListByTrader(traderID) {
			if err := m.ExecuteStopLoss(ctx, pos, domain.CloseReasonTraderDailyLoss); err != nil {
				m.logger.Error(ctx, err, "daily-loss close failed", map[string]interface{}{"positionID": pos.ID})
			}
		}
		// Block the trader until the stop is manually cleared. Any position
		// the loop above failed to close is retried here, and the stop is
		// idempotent if it already happened.
		if err := m.risk.EmergencyStop(ctx, traderID); err != nil {
			m.logger.Error(ctx, err, "emergency stop after daily-loss breach failed", map[string]interface{}{"traderID": traderID})
		}
	}
}

// refreshPrices polls the exchange once per distinct symbol and pushes the
// price into every open position on that symbol.
func (m *Monitor) refreshPrices(ctx context.Context) {
	positions := m.ledger.ListAll()
	prices := make(map[string]decimal.Decimal)

	for _, pos := range positions {
		if _, done := prices[pos.Symbol]; done {
			continue
		}
		price, err := m.exchange.GetCurrentPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn(ctx, "price refresh failed, keeping last known price", map[string]interface{}{"symbol": pos.Symbol, "error": err.Error()})
			continue
		}
		prices[pos.Symbol] = price
	}

	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		if err := m.ops.UpdatePosition(ctx, pos.ID, price); err != nil {
			// Position may have been closed between snapshot and update.
			m.logger.Debug(ctx, "price update skipped", map[string]interface{}{"positionID": pos.ID, "error": err.Error()})
		}
	}
}

// CheckPositionStopLoss reports whether the position's stop-loss is
// configured and the current price has crossed it: at or below the level for
// longs, at or above for shorts.
func (m *Monitor) CheckPositionStopLoss(pos *domain.Position) bool {
	if !pos.HasStopLoss() || pos.CurrentPrice.IsZero() {
		return false
	}
	if pos.Side == domain.Short {
		return pos.CurrentPrice.GreaterThanOrEqual(pos.StopLoss)
	}
	return pos.CurrentPrice.LessThanOrEqual(pos.StopLoss)
}

func (m *Monitor) checkTakeProfit(pos *domain.Position) bool {
	if !pos.HasTakeProfit() || pos.CurrentPrice.IsZero() {
		return false
	}
	if pos.Side == domain.Short {
		return pos.CurrentPrice.LessThanOrEqual(pos.TakeProfit)
	}
	return pos.CurrentPrice.GreaterThanOrEqual(pos.TakeProfit)
}

// CheckTraderStopLoss reports whether the trader's rolling 24-hour realized
// plus unrealized P&L has reached the negative of the configured daily loss.
func (m *Monitor) CheckTraderStopLoss(ctx context.Context, traderID string) (bool, error) {
	maxLoss := m.cfgStore.Current().MaxDailyLoss
	if !maxLoss.IsPositive() {
		return false, nil
	}
	dailyPnL, err := m.risk.DailyPnL(ctx, traderID)
	if err != nil {
		return false, err
	}
	return dailyPnL.LessThanOrEqual(maxLoss.Neg()), nil
}

// ExecuteStopLoss closes a position through the position manager, tagging the
// history record with the supplied reason. A failed close is reported upward
// as a retryable error, never swallowed.
func (m *Monitor) ExecuteStopLoss(ctx context.Context, pos *domain.Position, reason domain.CloseReason) error {
	m.logger.Info(ctx, "close trigger fired", map[string]interface{}{
		"positionID": pos.ID, "reason": string(reason),
		"currentPrice": pos.CurrentPrice.String(), "stopLoss": pos.StopLoss.String(),
	})
	monitoring.RecordStopLossTrigger(string(reason))

	if _, err := m.ops.ClosePosition(ctx, pos.ID, reason); err != nil {
		return fmt.Errorf("execute stop-loss for %s: %w", pos.ID, err)
	}
	return nil
}
