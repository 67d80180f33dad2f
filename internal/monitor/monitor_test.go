package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTraderCore/config"
	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ledger"
	"autoTraderCore/internal/ports"
	"autoTraderCore/internal/risk"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExchange struct {
	prices   map[string]decimal.Decimal
	priceErr error
}

func (m *mockExchange) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, leverage int) (*ports.OrderResult, error) {
	return nil, errors.New("not used")
}

func (m *mockExchange) CloseOrder(ctx context.Context, positionRef, symbol string, side domain.OrderSide, quantity decimal.Decimal) (*ports.OrderResult, error) {
	return nil, errors.New("not used")
}

func (m *mockExchange) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if m.priceErr != nil {
		return decimal.Zero, m.priceErr
	}
	return m.prices[symbol], nil
}

func (m *mockExchange) GetLivePosition(ctx context.Context, positionRef, symbol string) (*ports.LivePosition, error) {
	return nil, nil
}

type mockHistoryRepo struct {
	records []*domain.PositionHistoryRecord
}

func (m *mockHistoryRepo) AppendHistory(ctx context.Context, rec *domain.PositionHistoryRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockHistoryRepo) FindHistoryByTrader(ctx context.Context, traderID string, limit int) ([]*domain.PositionHistoryRecord, error) {
	return m.records, nil
}

func (m *mockHistoryRepo) FindHistoryByPosition(ctx context.Context, positionID string) (*domain.PositionHistoryRecord, error) {
	for _, rec := range m.records {
		if rec.PositionID == positionID {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *mockHistoryRepo) RealizedPnLSince(ctx context.Context, traderID string, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, rec := range m.records {
		if (traderID == "" || rec.TraderID == traderID) && !rec.ClosedAt.Before(since) {
			total = total.Add(rec.RealizedPnL)
		}
	}
	return total, nil
}

// mockOps simulates the position manager: price updates and closes apply
// directly to the ledger.
type mockOps struct {
	ledger      *ledger.Ledger
	closed      map[string]domain.CloseReason
	closeErr    error
	updateCalls int
}

func newMockOps(lg *ledger.Ledger) *mockOps {
	return &mockOps{ledger: lg, closed: make(map[string]domain.CloseReason)}
}

func (m *mockOps) UpdatePosition(ctx context.Context, positionID string, currentPrice decimal.Decimal) error {
	m.updateCalls++
	pos, err := m.ledger.Get(positionID)
	if err != nil {
		return err
	}
	pos.CurrentPrice = currentPrice
	return m.ledger.Update(pos)
}

func (m *mockOps) ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (*domain.Position, error) {
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	pos, err := m.ledger.Remove(positionID)
	if err != nil {
		return nil, err
	}
	m.closed[positionID] = reason
	pos.Status = domain.StatusClosed
	return pos, nil
}

type fixture struct {
	monitor  *Monitor
	exchange *mockExchange
	histRepo *mockHistoryRepo
	ledger   *ledger.Ledger
	risk     *risk.Manager
	ops      *mockOps
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxTotalBudget:         decimal.NewFromInt(100000),
		MaxExposurePerTrader:   decimal.NewFromInt(50000),
		MaxTotalExposure:       decimal.NewFromInt(100000),
		MaxDailyLoss:           decimal.NewFromInt(1000),
		MaxLeveragePerTrader:   5,
		MaxTotalLeverage:       10,
		DefaultStopLossPercent: decimal.NewFromFloat(0.05),
		BudgetWeight:           decimal.NewFromFloat(0.30),
		LeverageWeight:         decimal.NewFromFloat(0.20),
		ExposureWeight:         decimal.NewFromFloat(0.30),
		PnLWeight:              decimal.NewFromFloat(0.20),
		WarnThreshold:          decimal.NewFromFloat(0.50),
		BlockThreshold:         decimal.NewFromFloat(0.80),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := config.NewStore(testRiskConfig())
	lg := ledger.New()
	histRepo := &mockHistoryRepo{}
	logger := &mockLogger{}

	riskMgr, err := risk.NewManager(store, lg, histRepo, logger)
	require.NoError(t, err)

	exchange := &mockExchange{prices: make(map[string]decimal.Decimal)}
	ops := newMockOps(lg)
	riskMgr.SetPositionCloser(ops)

	cfg := &config.Config{MonitorInterval: 10 * time.Millisecond, ExchangeTimeout: time.Second}
	mon, err := New(cfg, store, logger, exchange, lg, riskMgr, ops)
	require.NoError(t, err)

	return &fixture{monitor: mon, exchange: exchange, histRepo: histRepo, ledger: lg, risk: riskMgr, ops: ops}
}

func openPosition(t *testing.T, f *fixture, id, traderID string, side domain.Side, entry, stop, take int64) *domain.Position {
	t.Helper()
	pos := &domain.Position{
		ID:           id,
		TraderID:     traderID,
		Symbol:       "ETHUSDT",
		Side:         side,
		Quantity:     decimal.NewFromInt(1),
		EntryPrice:   decimal.NewFromInt(entry),
		CurrentPrice: decimal.NewFromInt(entry),
		StopLoss:     decimal.NewFromInt(stop),
		TakeProfit:   decimal.NewFromInt(take),
		Leverage:     1,
		Status:       domain.StatusOpen,
		OpenedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.ledger.Insert(pos))
	return pos
}

func TestCheckPositionStopLoss(t *testing.T) {
	f := newFixture(t)

	t.Run("long triggers at or below stop", func(t *testing.T) {
		pos := &domain.Position{
			Side:         domain.Long,
			StopLoss:     decimal.NewFromInt(95),
			CurrentPrice: decimal.NewFromInt(94),
		}
		assert.True(t, f.monitor.CheckPositionStopLoss(pos))

		pos.CurrentPrice = decimal.NewFromInt(96)
		assert.False(t, f.monitor.CheckPositionStopLoss(pos))

		pos.CurrentPrice = decimal.NewFromInt(95)
		assert.True(t, f.monitor.CheckPositionStopLoss(pos))
	})

	t.Run("short triggers at or above stop", func(t *testing.T) {
		pos := &domain.Position{
			Side:         domain.Short,
			StopLoss:     decimal.NewFromInt(105),
			CurrentPrice: decimal.NewFromInt(106),
		}
		assert.True(t, f.monitor.CheckPositionStopLoss(pos))

		pos.CurrentPrice = decimal.NewFromInt(104)
		assert.False(t, f.monitor.CheckPositionStopLoss(pos))
	})

	t.Run("no stop-loss configured", func(t *testing.T) {
		pos := &domain.Position{
			Side:         domain.Long,
			CurrentPrice: decimal.NewFromInt(1),
		}
		assert.False(t, f.monitor.CheckPositionStopLoss(pos))
	})

	t.Run("no price yet", func(t *testing.T) {
		pos := &domain.Position{
			Side:     domain.Long,
			StopLoss: decimal.NewFromInt(95),
		}
		assert.False(t, f.monitor.CheckPositionStopLoss(pos))
	})
}

func TestRunCycleStopLoss(t *testing.T) {
	ctx := context.Background()

	t.Run("closes position when price crosses stop", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(1890)

		f.monitor.RunCycle(ctx)

		assert.Equal(t, domain.CloseReasonStopLoss, f.ops.closed[pos.ID])
		assert.Equal(t, 0, f.ledger.OpenCount())
	})

	t.Run("leaves position open above stop", func(t *testing.T) {
		f := newFixture(t)
		openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(1950)

		f.monitor.RunCycle(ctx)

		assert.Empty(t, f.ops.closed)
		assert.Equal(t, 1, f.ledger.OpenCount())
	})

	t.Run("take-profit closes with its own reason", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 2100)
		f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(2150)

		f.monitor.RunCycle(ctx)

		assert.Equal(t, domain.CloseReasonTakeProfit, f.ops.closed[pos.ID])
	})

	t.Run("short stop-loss triggers on rising price", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Short, 2000, 2100, 0)
		f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(2120)

		f.monitor.RunCycle(ctx)

		assert.Equal(t, domain.CloseReasonStopLoss, f.ops.closed[pos.ID])
	})

	t.Run("failed close keeps position for next cycle", func(t *testing.T) {
		f := newFixture(t)
		openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(1890)
		f.ops.closeErr = errors.New("exchange unavailable")

		f.monitor.RunCycle(ctx)
		assert.Equal(t, 1, f.ledger.OpenCount())

		f.ops.closeErr = nil
		f.monitor.RunCycle(ctx)
		assert.Equal(t, 0, f.ledger.OpenCount())
	})

	t.Run("price refresh failure keeps last known price", func(t *testing.T) {
		f := newFixture(t)
		openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		f.exchange.priceErr = errors.New("ticker unavailable")

		f.monitor.RunCycle(ctx)

		assert.Equal(t, 0, f.ops.updateCalls)
		assert.Equal(t, 1, f.ledger.OpenCount())
	})
}

func TestRunCyclePendingCloseCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("retries a close whose commit is still pending", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		pos.Status = domain.StatusClosing
		pos.CloseReason = domain.CloseReasonStopLoss
		pos.ClosedAt = time.Now().UTC()
		require.NoError(t, f.ledger.Update(pos))

		f.monitor.RunCycle(ctx)

		assert.Equal(t, domain.CloseReasonStopLoss, f.ops.closed[pos.ID])
		_, err := f.ledger.Get(pos.ID)
		assert.ErrorIs(t, err, ports.ErrNotFound)
	})

	t.Run("leaves an in-flight close alone", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		pos.Status = domain.StatusClosing
		require.NoError(t, f.ledger.Update(pos))

		f.monitor.RunCycle(ctx)

		assert.Empty(t, f.ops.closed)
		_, err := f.ledger.Get(pos.ID)
		assert.NoError(t, err)
	})

	t.Run("tolerates a commit finished by another caller", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
		pos.Status = domain.StatusClosing
		pos.CloseReason = domain.CloseReasonManual
		pos.ClosedAt = time.Now().UTC()
		require.NoError(t, f.ledger.Update(pos))
		f.ops.closeErr = ports.ErrAlreadyClosed

		f.monitor.RunCycle(ctx)
	})
}

func TestRunCyclePriceRefresh(t *testing.T) {
	f := newFixture(t)
	openPosition(t, f, "p1", "t1", domain.Long, 2000, 1000, 0)
	openPosition(t, f, "p2", "t2", domain.Long, 2000, 1000, 0)
	f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(2050)

	f.monitor.RunCycle(context.Background())

	assert.Equal(t, 2, f.ops.updateCalls)
	for _, id := range []string{"p1", "p2"} {
		pos, err := f.ledger.Get(id)
		require.NoError(t, err)
		assert.True(t, pos.CurrentPrice.Equal(decimal.NewFromInt(2050)))
	}
}

func TestCheckTraderStopLoss(t *testing.T) {
	ctx := context.Background()

	t.Run("under limit", func(t *testing.T) {
		f := newFixture(t)
		f.histRepo.records = append(f.histRepo.records, &domain.PositionHistoryRecord{
			TraderID:    "t1",
			RealizedPnL: decimal.NewFromInt(-500),
			ClosedAt:    time.Now().UTC(),
		})
		breached, err := f.monitor.CheckTraderStopLoss(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, breached)
	})

	t.Run("breach at exactly the limit", func(t *testing.T) {
		f := newFixture(t)
		f.histRepo.records = append(f.histRepo.records, &domain.PositionHistoryRecord{
			TraderID:    "t1",
			RealizedPnL: decimal.NewFromInt(-1000),
			ClosedAt:    time.Now().UTC(),
		})
		breached, err := f.monitor.CheckTraderStopLoss(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, breached)
	})

	t.Run("unrealized losses count", func(t *testing.T) {
		f := newFixture(t)
		pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 0, 0)
		pos.CurrentPrice = decimal.NewFromInt(900)
		require.NoError(t, f.ledger.Update(pos))

		breached, err := f.monitor.CheckTraderStopLoss(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, breached)
	})

	t.Run("old losses roll out of the window", func(t *testing.T) {
		f := newFixture(t)
		f.histRepo.records = append(f.histRepo.records, &domain.PositionHistoryRecord{
			TraderID:    "t1",
			RealizedPnL: decimal.NewFromInt(-5000),
			ClosedAt:    time.Now().UTC().Add(-48 * time.Hour),
		})
		breached, err := f.monitor.CheckTraderStopLoss(ctx, "t1")
		require.NoError(t, err)
		assert.False(t, breached)
	})
}

func TestRunCycleDailyLossBreach(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Realized losses already past the daily limit; the open position itself
	// is healthy.
	f.histRepo.records = append(f.histRepo.records, &domain.PositionHistoryRecord{
		TraderID:    "t1",
		RealizedPnL: decimal.NewFromInt(-1500),
		ClosedAt:    time.Now().UTC(),
	})
	pos := openPosition(t, f, "p1", "t1", domain.Long, 2000, 1000, 0)
	other := openPosition(t, f, "p2", "t2", domain.Long, 2000, 1000, 0)
	f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(2000)

	f.monitor.RunCycle(ctx)

	assert.Equal(t, domain.CloseReasonTraderDailyLoss, f.ops.closed[pos.ID])
	assert.True(t, f.risk.IsBlocked("t1"))

	// The other trader is untouched.
	_, closedOther := f.ops.closed[other.ID]
	assert.False(t, closedOther)
	assert.False(t, f.risk.IsBlocked("t2"))
}

func TestRunLoop(t *testing.T) {
	f := newFixture(t)
	openPosition(t, f, "p1", "t1", domain.Long, 2000, 1900, 0)
	f.exchange.prices["ETHUSDT"] = decimal.NewFromInt(1890)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.monitor.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return f.ledger.OpenCount() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
}
