package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionHistoryRecord is an immutable snapshot of a closed position.
// Created once at close time, never mutated afterwards.
type PositionHistoryRecord struct {
	ID          string          // Unique identifier for the record (UUID)
	PositionID  string          // Identifier of the position this record closed
	TraderID    string          // Owning trading agent
	Symbol      string          // Trading symbol
	Side        Side            // long or short
	Quantity    decimal.Decimal // Size of the position
	Leverage    int             // Leverage used
	EntryPrice  decimal.Decimal // Fill price at open
	ExitPrice   decimal.Decimal // Fill price at close
	RealizedPnL decimal.Decimal // Profit or loss locked in at close
	OpenedAt    time.Time       // When the position was entered
	ClosedAt    time.Time       // When the position was closed
	Duration    time.Duration   // ClosedAt - OpenedAt
	CloseReason CloseReason     // Why the position was closed
}

// NewHistoryRecord derives the history record for a position that has just
// transitioned to closed.
func NewHistoryRecord(id string, pos *Position, exitPrice, realizedPnL decimal.Decimal) *PositionHistoryRecord {
	return &PositionHistoryRecord{
		ID:          id,
		PositionID:  pos.ID,
		TraderID:    pos.TraderID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		Leverage:    pos.Leverage,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realizedPnL,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    pos.ClosedAt,
		Duration:    pos.ClosedAt.Sub(pos.OpenedAt),
		CloseReason: pos.CloseReason,
	}
}
