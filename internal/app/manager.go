// Package app contains the position manager, the orchestration layer and sole
// writer of ledger state transitions.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"autoTraderCore/config"
	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ledger"
	"autoTraderCore/internal/monitoring"
	"autoTraderCore/internal/pnl"
	"autoTraderCore/internal/ports"
	"autoTraderCore/internal/risk"
)

// PositionManager orchestrates open/update/close operations: risk admission,
// exchange execution, durable persistence, and ledger state changes.
//
// The internal mutex guards only the short bookkeeping sections: admission
// check plus exposure reservation on open, state transitions and commit on
// close. It is never held across an exchange call, so a slow order or its
// retry loop cannot stall closes or the monitoring cycle for unrelated
// positions. Two agents still can never pass a budget check against the same
// unspent exposure, because the reservation lands before the lock is dropped.
type PositionManager struct {
	cfg      *config.Config
	cfgStore *config.Store
	logger   ports.Logger
	exchange ports.ExchangeClient
	posRepo  ports.PositionRepository
	histRepo ports.HistoryRepository
	ledger   *ledger.Ledger
	risk     *risk.Manager

	mu sync.Mutex
}

// NewPositionManager creates the orchestration layer.
func NewPositionManager(
	cfg *config.Config,
	cfgStore *config.Store,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	posRepo ports.PositionRepository,
	histRepo ports.HistoryRepository,
	lg *ledger.Ledger,
	riskMgr *risk.Manager,
) (*PositionManager, error) {
	if cfg == nil || cfgStore == nil || logger == nil || exchange == nil ||
		posRepo == nil || histRepo == nil || lg == nil || riskMgr == nil {
		return nil, fmt.Errorf("missing required dependencies for position manager")
	}
	return &PositionManager{
		cfg:      cfg,
		cfgStore: cfgStore,
		logger:   logger,
		exchange: exchange,
		posRepo:  posRepo,
		histRepo: histRepo,
		ledger:   lg,
		risk:     riskMgr,
	}, nil
}

// OpenPosition validates the signal, runs risk admission, executes the entry
// order, and records the resulting position. The position is durable in the
// repository before the call returns success.
//
// Once the entry order has been placed, cancellation of ctx is no longer
// honored for the recording steps; an executed order must never end up as an
// unrecorded exchange position.
func (m *PositionManager) OpenPosition(ctx context.Context, signal *domain.TradeSignal, traderID string) (*domain.Position, error) {
	op := "OpenPosition"

	if signal == nil {
		return nil, fmt.Errorf("%s: nil signal: %w", op, ports.ErrInvalidRequest)
	}
	if err := signal.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ports.ErrInvalidRequest)
	}
	if traderID == "" {
		return nil, fmt.Errorf("%s: trader id is required: %w", op, ports.ErrInvalidRequest)
	}

	// Required margin for admission is the notional at the current price.
	price, err := m.exchange.GetCurrentPrice(ctx, signal.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: price query for %s: %w", op, signal.Symbol, err)
	}
	required := signal.Quantity.Mul(price)
	effective := required.Mul(decimal.NewFromInt(int64(signal.Leverage)))

	// Admission and reservation form one atomic step; the lock is dropped
	// before the order goes out so nothing queues behind a slow exchange.
	m.mu.Lock()
	ok, err := m.risk.CanOpenPosition(ctx, required, signal.Leverage, traderID)
	if err != nil {
		m.mu.Unlock()
		monitoring.RecordAdmissionRejected(traderID)
		return nil, fmt.Errorf("%s: admission for trader %s: %w", op, traderID, err)
	}
	if !ok {
		m.mu.Unlock()
		monitoring.RecordAdmissionRejected(traderID)
		return nil, fmt.Errorf("%s: trader %s: %w", op, traderID, ports.ErrAdmissionDeclined)
	}
	m.ledger.Reserve(traderID, effective)
	m.mu.Unlock()

	result, err := m.executeWithRetry(ctx, signal.Symbol, func(callCtx context.Context) (*ports.OrderResult, error) {
		return m.exchange.PlaceOrder(callCtx, signal.Symbol, signal.Side.EntrySide(), signal.Quantity, signal.Leverage)
	})
	if err != nil {
		m.ledger.Release(traderID, effective)
		return nil, fmt.Errorf("%s: entry order for %s: %w", op, signal.Symbol, err)
	}

	if !result.FullyFilled() {
		// Partial fills are rejected rather than coerced into a position.
		// Flatten whatever did execute so no unrecorded exposure remains.
		m.logger.Warn(ctx, op+": entry order partially filled, compensating", map[string]interface{}{
			"symbol": signal.Symbol, "requested": result.RequestedQty.String(), "executed": result.ExecutedQty.String(),
		})
		m.compensate(ctx, signal.Symbol, signal.Side, result.ExecutedQty)
		m.ledger.Release(traderID, effective)
		return nil, fmt.Errorf("%s: %w", op, ports.NewOrderError(ports.OrderPartialFill, signal.Symbol,
			fmt.Errorf("requested %s, executed %s", result.RequestedQty, result.ExecutedQty)))
	}

	entryPrice := result.AvgPrice
	if entryPrice.IsZero() {
		m.logger.Warn(ctx, op+": order result has no average price, using ticker price", map[string]interface{}{"symbol": signal.Symbol})
		entryPrice = price
	}

	pos := &domain.Position{
		ID:           uuid.NewString(),
		TraderID:     traderID,
		Symbol:       signal.Symbol,
		Side:         signal.Side,
		Quantity:     result.ExecutedQty,
		Leverage:     signal.Leverage,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		StopLoss:     signal.StopLoss,
		TakeProfit:   signal.TakeProfit,
		Status:       domain.StatusOpen,
		OpenedAt:     time.Now().UTC(),
	}
	if !pos.HasStopLoss() {
		pos.StopLoss = defaultStopLoss(entryPrice, signal.Side, m.cfgStore.Current().DefaultStopLossPercent)
	}

	// Durability comes before visibility: persist first, then insert. Use a
	// detached context so a caller cancel after the order filled cannot leave
	// the exchange position unrecorded.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ExchangeTimeout)
	defer cancel()
	if err := m.posRepo.SavePosition(persistCtx, pos); err != nil {
		m.logger.Error(ctx, err, op+": failed to persist new position, compensating", map[string]interface{}{"positionID": pos.ID})
		m.compensate(ctx, pos.Symbol, pos.Side, pos.Quantity)
		m.ledger.Release(traderID, effective)
		return nil, fmt.Errorf("%s: persist position %s: %w", op, pos.ID, err)
	}
	// Insert before releasing the reservation so exposure never dips while
	// the position changes hands from reserved to open.
	if err := m.ledger.Insert(pos); err != nil {
		m.ledger.Release(traderID, effective)
		return nil, fmt.Errorf("%s: ledger insert %s: %w", op, pos.ID, err)
	}
	m.ledger.Release(traderID, effective)

	monitoring.RecordPositionOpened(traderID, pos.Symbol, string(pos.Side))
	monitoring.UpdateExposure(traderID, m.risk.Exposure(traderID).InexactFloat64())
	m.logger.Info(ctx, op+": position opened", map[string]interface{}{
		"positionID": pos.ID, "traderID": traderID, "symbol": pos.Symbol,
		"side": string(pos.Side), "quantity": pos.Quantity.String(),
		"leverage": pos.Leverage, "entryPrice": pos.EntryPrice.String(),
	})
	return pos.Clone(), nil
}

// UpdatePosition refreshes the current price of a single open position.
// Called by the monitoring cycle and by push-price handlers; deliberately
// does not take the manager mutex.
func (m *PositionManager) UpdatePosition(ctx context.Context, positionID string, currentPrice decimal.Decimal) error {
	pos, err := m.ledger.Get(positionID)
	if err != nil {
		return err
	}
	if pos.Status != domain.StatusOpen {
		// A closing position's CurrentPrice may already hold its exit fill;
		// never clobber it with a fresher ticker price.
		return nil
	}
	pos.CurrentPrice = currentPrice
	return m.ledger.Update(pos)
}

// ClosePosition executes a close order for an open position, commits the
// realized P&L, and moves the position into history. The history record is
// durable before the call returns.
//
// A position whose close order filled but whose commit failed stays in the
// ledger as closing with the fill recorded; calling ClosePosition on it again
// retries only the commit, never the exchange order.
func (m *PositionManager) ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (*domain.Position, error) {
	op := "ClosePosition"

	m.mu.Lock()
	pos, err := m.ledger.Get(positionID)
	if err != nil {
		m.mu.Unlock()
		return nil, m.closedOrMissing(ctx, op, positionID, err)
	}
	if pos.Status == domain.StatusClosing {
		if pos.CloseReason == "" {
			// Another close holds the order in flight.
			m.mu.Unlock()
			return nil, fmt.Errorf("%s: close already in flight for %s: %w", op, positionID, ports.ErrAlreadyClosed)
		}
		defer m.mu.Unlock()
		m.logger.Warn(ctx, op+": retrying close commit", map[string]interface{}{"positionID": positionID})
		return m.commitClose(ctx, op, pos)
	}

	pos.Status = domain.StatusClosing
	if err := m.ledger.Update(pos); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: mark closing %s: %w", op, positionID, err)
	}
	m.mu.Unlock()

	// The exchange call runs without the manager lock; the closing status
	// keeps competing closes off this position meanwhile.
	result, err := m.executeWithRetry(ctx, pos.Symbol, func(callCtx context.Context) (*ports.OrderResult, error) {
		return m.exchange.CloseOrder(callCtx, pos.ID, pos.Symbol, pos.Side.ExitSide(), pos.Quantity)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, gerr := m.ledger.Get(positionID)
	if gerr != nil {
		return nil, fmt.Errorf("%s: position %s disappeared mid-close: %w", op, positionID, gerr)
	}
	if err != nil {
		// The position stays open; the caller decides whether to retry.
		pos.Status = domain.StatusOpen
		if revertErr := m.ledger.Update(pos); revertErr != nil {
			m.logger.Error(ctx, revertErr, op+": failed to revert closing status", map[string]interface{}{"positionID": positionID})
		}
		return nil, fmt.Errorf("%s: close order for %s: %w", op, positionID, err)
	}

	exitPrice := result.AvgPrice
	if exitPrice.IsZero() {
		exitPrice = pos.CurrentPrice
		if exitPrice.IsZero() {
			exitPrice = pos.EntryPrice
		}
	}

	// Record the fill in the ledger before committing so a persistence
	// failure never loses it.
	pos.CurrentPrice = exitPrice
	pos.ClosedAt = time.Now().UTC()
	pos.CloseReason = reason
	if err := m.ledger.Update(pos); err != nil {
		return nil, fmt.Errorf("%s: record fill for %s: %w", op, positionID, err)
	}

	return m.commitClose(ctx, op, pos)
}

// commitClose persists the closed position and its history record, then
// retires the ledger entry. The caller holds the manager mutex. On a
// persistence failure the ledger entry stays closing with the exit fill
// recorded, so the next attempt re-runs this commit without a new order.
func (m *PositionManager) commitClose(ctx context.Context, op string, pos *domain.Position) (*domain.Position, error) {
	exitPrice := pos.CurrentPrice
	realized := pnl.Realized(pos, exitPrice)

	closed := pos.Clone()
	closed.Status = domain.StatusClosed
	rec := domain.NewHistoryRecord(uuid.NewString(), closed, exitPrice, realized)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ExchangeTimeout)
	defer cancel()
	if err := m.posRepo.SavePosition(persistCtx, closed); err != nil {
		return nil, fmt.Errorf("%s: persist closed position %s: %w", op, pos.ID, err)
	}
	if err := m.histRepo.AppendHistory(persistCtx, rec); err != nil {
		return nil, fmt.Errorf("%s: append history for %s: %w", op, pos.ID, err)
	}

	if _, err := m.ledger.Remove(pos.ID); err != nil {
		return nil, fmt.Errorf("%s: ledger remove %s: %w", op, pos.ID, err)
	}
	m.ledger.AppendHistory(rec)

	monitoring.RecordPositionClosed(closed.TraderID, closed.Symbol, string(closed.CloseReason))
	monitoring.UpdateExposure(closed.TraderID, m.risk.Exposure(closed.TraderID).InexactFloat64())
	m.logger.Info(ctx, op+": position closed", map[string]interface{}{
		"positionID": closed.ID, "traderID": closed.TraderID, "reason": string(closed.CloseReason),
		"exitPrice": exitPrice.String(), "realizedPnL": realized.String(),
	})
	return closed, nil
}

// closedOrMissing resolves a ledger miss: a history record, in memory or in
// durable storage, means the position was already closed (possibly in a
// previous process run).
func (m *PositionManager) closedOrMissing(ctx context.Context, op, positionID string, lookupErr error) error {
	for _, rec := range m.ledger.History() {
		if rec.PositionID == positionID {
			return fmt.Errorf("%s: position %s: %w", op, positionID, ports.ErrAlreadyClosed)
		}
	}
	rec, err := m.histRepo.FindHistoryByPosition(ctx, positionID)
	if err != nil {
		m.logger.Warn(ctx, op+": history lookup failed", map[string]interface{}{"positionID": positionID, "error": err.Error()})
	} else if rec != nil {
		return fmt.Errorf("%s: position %s: %w", op, positionID, ports.ErrAlreadyClosed)
	}
	return fmt.Errorf("%s: %w", op, lookupErr)
}

// executeWithRetry runs an exchange call with a per-attempt timeout and
// bounded exponential backoff. Only uncertain outcomes (timeouts) are
// retried; rejections and partial fills are definitive and surface at once.
func (m *PositionManager) executeWithRetry(ctx context.Context, symbol string, call func(context.Context) (*ports.OrderResult, error)) (*ports.OrderResult, error) {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.OrderRetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.ExchangeTimeout)
		result, err := call(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !ports.IsRetryableOrderError(err) {
			return nil, err
		}
		if attempt == m.cfg.OrderRetryAttempts {
			break
		}

		monitoring.RecordExchangeRetry()
		delay := b.Duration()
		m.logger.Warn(ctx, "retrying exchange call", map[string]interface{}{
			"symbol": symbol, "attempt": attempt, "delay": delay.String(), "error": err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// compensate flattens exposure that exists on the exchange but will not be
// recorded as a position (partial fills, persistence failures). Best effort:
// a failure here is logged loudly and left for startup reconciliation.
func (m *PositionManager) compensate(ctx context.Context, symbol string, side domain.Side, quantity decimal.Decimal) {
	if !quantity.IsPositive() {
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ExchangeTimeout)
	defer cancel()
	if _, err := m.exchange.CloseOrder(callCtx, "", symbol, side.ExitSide(), quantity); err != nil {
		m.logger.Error(ctx, err, "COMPENSATING CLOSE FAILED, exchange exposure unrecorded until reconciliation", map[string]interface{}{
			"symbol": symbol, "quantity": quantity.String(),
		})
	}
}

func defaultStopLoss(entryPrice decimal.Decimal, side domain.Side, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if side == domain.Short {
		return entryPrice.Mul(one.Add(pct))
	}
	return entryPrice.Mul(one.Sub(pct))
}

var _ ports.PositionCloser = (*PositionManager)(nil)
