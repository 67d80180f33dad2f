// Package risk implements admission control for position opening and trader
// creation: budget, leverage, and exposure limits, risk scoring, and the
// emergency stop.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autoTraderCore/config"
	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ledger"
	"autoTraderCore/internal/pnl"
	"autoTraderCore/internal/ports"
)

// dailyLossWindow is the rolling window for the trader daily-loss check.
const dailyLossWindow = 24 * time.Hour

// Manager is the single gate through which every position-opening attempt and
// every new-trader-creation attempt must pass.
//
// Exposure and leverage are always derived live from the ledger's open-position
// snapshot, never maintained as running counters. The recomputation is cheap
// and it removes the whole class of drift bugs between a cached aggregate and
// actual position state.
type Manager struct {
	cfg     *config.Store
	ledger  *ledger.Ledger
	history ports.HistoryRepository
	logger  ports.Logger

	mu         sync.Mutex
	closer     ports.PositionCloser
	blocked    map[string]bool
	allBlocked bool
}

// NewManager creates a risk manager. The position closer is wired in
// afterwards via SetPositionCloser because the position manager itself
// depends on this type.
func NewManager(cfg *config.Store, lg *ledger.Ledger, history ports.HistoryRepository, logger ports.Logger) (*Manager, error) {
	if cfg == nil || lg == nil || history == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk manager")
	}
	return &Manager{
		cfg:     cfg,
		ledger:  lg,
		history: history,
		logger:  logger,
		blocked: make(map[string]bool),
	}, nil
}

// SetPositionCloser wires the component used by EmergencyStop to close
// positions. Must be called before EmergencyStop is used.
func (m *Manager) SetPositionCloser(c ports.PositionCloser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closer = c
}

// Exposure computes the trader's current exposure as a fold over a snapshot
// of their open positions (sum of quantity * leverage * currentPrice) plus
// any in-flight order reservations.
func (m *Manager) Exposure(traderID string) decimal.Decimal {
	return sumNotional(m.ledger.ListByTrader(traderID)).Add(m.ledger.Reserved(traderID))
}

// TotalExposure computes exposure across all traders.
func (m *Manager) TotalExposure() decimal.Decimal {
	return sumNotional(m.ledger.ListAll()).Add(m.ledger.TotalReserved())
}

func sumNotional(positions []*domain.Position) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(pos.Notional())
	}
	return total
}

// AvailableBudget returns maxTotalBudget minus current total exposure.
func (m *Manager) AvailableBudget() decimal.Decimal {
	return m.cfg.Current().MaxTotalBudget.Sub(m.TotalExposure())
}

// ValidateBudget checks that requiredAmount at the given leverage fits within
// the available budget and the per-trader exposure cap.
//
// Two distinct failures, surfaced verbatim to the trader-creation workflow:
// a non-positive total budget fails with ErrNoBudget ("no money available"),
// and a leverage-adjusted requirement exceeding the available budget or the
// per-trader cap fails with ErrLeveragedShortfall ("insufficient funds
// considering leverage").
func (m *Manager) ValidateBudget(ctx context.Context, requiredAmount decimal.Decimal, leverage int, traderID string) error {
	cfg := m.cfg.Current()

	if !cfg.MaxTotalBudget.IsPositive() {
		return fmt.Errorf("total budget is %s: %w", cfg.MaxTotalBudget, ports.ErrNoBudget)
	}
	if requiredAmount.IsNegative() {
		return fmt.Errorf("required amount %s is negative: %w", requiredAmount, ports.ErrInvalidRequest)
	}
	if leverage < 1 {
		leverage = 1
	}

	effective := requiredAmount.Mul(decimal.NewFromInt(int64(leverage)))

	available := cfg.MaxTotalBudget.Sub(m.TotalExposure())
	if effective.GreaterThan(available) {
		return fmt.Errorf("required %s at leverage %d (effective %s) exceeds available budget %s: %w",
			requiredAmount, leverage, effective, available, ports.ErrLeveragedShortfall)
	}

	if traderID != "" {
		traderExposure := m.Exposure(traderID)
		if traderExposure.Add(effective).GreaterThan(cfg.MaxExposurePerTrader) {
			return fmt.Errorf("trader %s exposure %s plus effective %s exceeds per-trader cap %s: %w",
				traderID, traderExposure, effective, cfg.MaxExposurePerTrader, ports.ErrLeveragedShortfall)
		}
	}

	return nil
}

// ValidateLeverage checks that the requested leverage would push neither the
// trader's maximum active leverage nor the system-wide maximum (a max across
// all traders' positions, not a sum) past the configured limits.
func (m *Manager) ValidateLeverage(ctx context.Context, leverage int, traderID string) error {
	cfg := m.cfg.Current()

	if leverage < 1 {
		return fmt.Errorf("leverage %d must be at least 1: %w", leverage, ports.ErrInvalidRequest)
	}

	traderMax := maxLeverage(m.ledger.ListByTrader(traderID))
	if leverage > traderMax {
		traderMax = leverage
	}
	if traderMax > cfg.MaxLeveragePerTrader {
		return fmt.Errorf("trader %s active leverage would reach %d, limit %d: %w",
			traderID, traderMax, cfg.MaxLeveragePerTrader, ports.ErrLeverageLimitExceeded)
	}

	systemMax := maxLeverage(m.ledger.ListAll())
	if leverage > systemMax {
		systemMax = leverage
	}
	if systemMax > cfg.MaxTotalLeverage {
		return fmt.Errorf("system-wide active leverage would reach %d, limit %d: %w",
			systemMax, cfg.MaxTotalLeverage, ports.ErrLeverageLimitExceeded)
	}

	return nil
}

func maxLeverage(positions []*domain.Position) int {
	max := 0
	for _, pos := range positions {
		if pos.Leverage > max {
			max = pos.Leverage
		}
	}
	return max
}

// CanOpenPosition composes the budget and leverage validators plus the total
// exposure cap. Violated limits return false with the specific limit error;
// a merely approached limit (risk score at or past the block threshold with
// no hard violation) returns false with a nil error.
func (m *Manager) CanOpenPosition(ctx context.Context, size decimal.Decimal, leverage int, traderID string) (bool, error) {
	if m.IsBlocked(traderID) {
		return false, fmt.Errorf("trader %s: %w", traderID, ports.ErrTraderBlocked)
	}

	if err := m.ValidateBudget(ctx, size, leverage, traderID); err != nil {
		return false, err
	}
	if err := m.ValidateLeverage(ctx, leverage, traderID); err != nil {
		return false, err
	}

	cfg := m.cfg.Current()
	effective := size.Mul(decimal.NewFromInt(int64(leverage)))
	if m.TotalExposure().Add(effective).GreaterThan(cfg.MaxTotalExposure) {
		return false, fmt.Errorf("total exposure would exceed %s: %w",
			cfg.MaxTotalExposure, ports.ErrExposureLimitExceeded)
	}

	score, err := m.RiskScore(ctx, traderID)
	if err != nil {
		// Scoring needs history; a storage hiccup must not block admission
		// when the hard limits all passed.
		m.logger.Warn(ctx, "risk score unavailable, admitting on hard limits only", map[string]interface{}{"traderID": traderID, "error": err.Error()})
		return true, nil
	}
	if score.Recommendation == domain.RecommendBlock || score.Recommendation == domain.RecommendEmergencyStop {
		m.logger.Info(ctx, "position admission declined by risk score", map[string]interface{}{
			"traderID": traderID, "score": score.Overall.String(), "recommendation": string(score.Recommendation),
		})
		return false, nil
	}

	return true, nil
}

// DailyPnL returns the trader's rolling 24-hour realized plus unrealized P&L.
func (m *Manager) DailyPnL(ctx context.Context, traderID string) (decimal.Decimal, error) {
	realized, err := m.history.RealizedPnLSince(ctx, traderID, time.Now().UTC().Add(-dailyLossWindow))
	if err != nil {
		return decimal.Zero, fmt.Errorf("realized pnl for trader %s: %w", traderID, err)
	}

	unrealized := decimal.Zero
	for _, pos := range m.ledger.ListByTrader(traderID) {
		price := pos.CurrentPrice
		if price.IsZero() {
			price = pos.EntryPrice
		}
		unrealized = unrealized.Add(pnl.Unrealized(pos, price))
	}
	return realized.Add(unrealized), nil
}

// CheckRiskLimits returns an aggregate read-only snapshot of the trader's
// budget, leverage, and exposure status. Used by monitoring, not by the hot
// admission path.
func (m *Manager) CheckRiskLimits(ctx context.Context, traderID string) (*domain.RiskCheckResult, error) {
	cfg := m.cfg.Current()
	positions := m.ledger.ListByTrader(traderID)

	dailyPnL, err := m.DailyPnL(ctx, traderID)
	if err != nil {
		return nil, err
	}

	return &domain.RiskCheckResult{
		TraderID:          traderID,
		TotalExposure:     m.TotalExposure(),
		TraderExposure:    sumNotional(positions),
		AvailableBudget:   m.AvailableBudget(),
		MaxActiveLeverage: maxLeverage(positions),
		DailyPnL:          dailyPnL,
		DailyLossBreached: dailyLossBreached(dailyPnL, cfg.MaxDailyLoss),
		EmergencyStopped:  m.IsBlocked(traderID),
		OpenPositions:     len(positions),
	}, nil
}

func dailyLossBreached(dailyPnL, maxDailyLoss decimal.Decimal) bool {
	return maxDailyLoss.IsPositive() && dailyPnL.LessThanOrEqual(maxDailyLoss.Neg())
}

// RiskScore computes the weighted risk evaluation for a trader. Each
// sub-score is a utilization ratio clamped to [0, 1]; the overall score is
// the configured weighted sum, so increasing any single driver while holding
// the others fixed never decreases it. A breached daily-loss limit forces
// EMERGENCY_STOP regardless of the weighted score.
func (m *Manager) RiskScore(ctx context.Context, traderID string) (*domain.RiskScore, error) {
	cfg := m.cfg.Current()

	dailyPnL, err := m.DailyPnL(ctx, traderID)
	if err != nil {
		return nil, err
	}

	score := &domain.RiskScore{
		TraderID:      traderID,
		BudgetScore:   utilization(m.TotalExposure(), cfg.MaxTotalBudget),
		LeverageScore: utilization(decimal.NewFromInt(int64(maxLeverage(m.ledger.ListByTrader(traderID)))), decimal.NewFromInt(int64(cfg.MaxLeveragePerTrader))),
		ExposureScore: utilization(m.Exposure(traderID), cfg.MaxExposurePerTrader),
		PnLScore:      utilization(dailyPnL.Neg(), cfg.MaxDailyLoss),
	}

	score.Overall = score.BudgetScore.Mul(cfg.BudgetWeight).
		Add(score.LeverageScore.Mul(cfg.LeverageWeight)).
		Add(score.ExposureScore.Mul(cfg.ExposureWeight)).
		Add(score.PnLScore.Mul(cfg.PnLWeight))

	switch {
	case dailyLossBreached(dailyPnL, cfg.MaxDailyLoss):
		score.Recommendation = domain.RecommendEmergencyStop
	case score.Overall.GreaterThanOrEqual(cfg.BlockThreshold):
		score.Recommendation = domain.RecommendBlock
	case score.Overall.GreaterThanOrEqual(cfg.WarnThreshold):
		score.Recommendation = domain.RecommendWarn
	default:
		score.Recommendation = domain.RecommendAllow
	}

	return score, nil
}

// utilization returns value/limit clamped to [0, 1]. A non-positive limit
// yields zero: an unset limit contributes no risk.
func utilization(value, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	ratio := value.Div(limit)
	if ratio.IsNegative() {
		return decimal.Zero
	}
	one := decimal.NewFromInt(1)
	if ratio.GreaterThan(one) {
		return one
	}
	return ratio
}

// EmergencyStop closes all open positions of the given trader and blocks it
// from opening new ones until ClearEmergencyStop. An empty traderID applies
// to every trader. Idempotent: a second call finds the trader already blocked
// and no open positions, so it has no further effect.
func (m *Manager) EmergencyStop(ctx context.Context, traderID string) error {
	m.mu.Lock()
	closer := m.closer
	if traderID == "" {
		m.allBlocked = true
	} else {
		m.blocked[traderID] = true
	}
	m.mu.Unlock()

	if closer == nil {
		return fmt.Errorf("emergency stop: position closer not wired: %w", ports.ErrConfigurationError)
	}

	var positions []*domain.Position
	if traderID == "" {
		positions = m.ledger.ListAll()
	} else {
		positions = m.ledger.ListByTrader(traderID)
	}

	m.logger.Warn(ctx, "emergency stop triggered", map[string]interface{}{
		"traderID": traderID, "openPositions": len(positions),
	})

	var firstErr error
	for _, pos := range positions {
		if _, err := closer.ClosePosition(ctx, pos.ID, domain.CloseReasonEmergencyStop); err != nil {
			m.logger.Error(ctx, err, "emergency stop failed to close position", map[string]interface{}{"positionID": pos.ID})
			if firstErr == nil {
				firstErr = fmt.Errorf("emergency stop close of %s: %w", pos.ID, err)
			}
		}
	}
	return firstErr
}

// ClearEmergencyStop lifts the block for a trader (or the global block when
// traderID is empty). Manual operation; nothing clears a stop automatically.
func (m *Manager) ClearEmergencyStop(traderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if traderID == "" {
		m.allBlocked = false
		m.blocked = make(map[string]bool)
		return
	}
	delete(m.blocked, traderID)
}

// IsBlocked reports whether the trader is under an emergency stop.
func (m *Manager) IsBlocked(traderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allBlocked || m.blocked[traderID]
}
