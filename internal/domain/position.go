package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents a leveraged market exposure owned by one trading agent.
// All monetary values use decimal arithmetic; binary floats accumulate rounding
// error across many small trades.
type Position struct {
	ID           string          // Unique identifier (UUID)
	TraderID     string          // Owning trading agent
	Symbol       string          // Trading symbol (e.g., "ETHUSDT")
	Side         Side            // long or short
	Quantity     decimal.Decimal // Size of the position, always > 0
	Leverage     int             // Leverage multiplier, always >= 1
	EntryPrice   decimal.Decimal // Actual fill price at open
	CurrentPrice decimal.Decimal // Last observed market price
	StopLoss     decimal.Decimal // Stop-loss price level (zero if not set)
	TakeProfit   decimal.Decimal // Take-profit price level (zero if not set)
	Status       PositionStatus  // open, closing, closed
	OpenedAt     time.Time       // Timestamp when the position was entered
	ClosedAt     time.Time       // Zero value while the position is open
	CloseReason  CloseReason     // Set only once the position is closed
}

// IsOpen reports whether the position is still open (including a close in flight).
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen || p.Status == StatusClosing
}

// HasStopLoss reports whether a stop-loss level is configured.
func (p *Position) HasStopLoss() bool {
	return p.StopLoss.IsPositive()
}

// HasTakeProfit reports whether a take-profit level is configured.
func (p *Position) HasTakeProfit() bool {
	return p.TakeProfit.IsPositive()
}

// Notional returns quantity * leverage * currentPrice, the exposure this
// position contributes. Falls back to the entry price before the first
// price update arrives.
func (p *Position) Notional() decimal.Decimal {
	price := p.CurrentPrice
	if price.IsZero() {
		price = p.EntryPrice
	}
	return p.Quantity.Mul(decimal.NewFromInt(int64(p.Leverage))).Mul(price)
}

// Clone returns a deep copy of the position. Ledger snapshots hand out copies
// so callers can never mutate ledger-owned state.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
