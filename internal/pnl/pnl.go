// Package pnl computes profit and loss for leveraged positions.
// All functions are pure; state lives in the ledger.
package pnl

import (
	"github.com/shopspring/decimal"

	"autoTraderCore/internal/domain"
)

// Unrealized computes the profit or loss of an open position against the
// given market price. For a long position this is
// (currentPrice - entryPrice) * quantity * leverage; for a short position the
// price difference is inverted.
//
// Fees are not modeled here. If fee accounting is ever added it belongs in
// this package so both unrealized and realized figures share the adjustment.
func Unrealized(pos *domain.Position, currentPrice decimal.Decimal) decimal.Decimal {
	diff := currentPrice.Sub(pos.EntryPrice)
	if pos.Side == domain.Short {
		diff = pos.EntryPrice.Sub(currentPrice)
	}
	return diff.Mul(pos.Quantity).Mul(decimal.NewFromInt(int64(pos.Leverage)))
}

// Realized computes the permanent P&L of a position at its close price.
// Identical formula to Unrealized, evaluated at the fill price of the close
// order; the result is recorded on the history record and never recomputed.
func Realized(pos *domain.Position, closePrice decimal.Decimal) decimal.Decimal {
	return Unrealized(pos, closePrice)
}
