package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TradeSignal is the request shape an external strategy hands to the position
// manager. The strategy layer itself is out of scope; only the contract lives
// here.
type TradeSignal struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Leverage   int
	StopLoss   decimal.Decimal // optional price level, zero when unset
	TakeProfit decimal.Decimal // optional price level, zero when unset
}

// Validate checks the signal shape before any risk evaluation happens.
func (s *TradeSignal) Validate() error {
	switch {
	case s.Symbol == "":
		return fmt.Errorf("invalid trade signal: symbol is required")
	case s.Side != Long && s.Side != Short:
		return fmt.Errorf("invalid trade signal: side %q must be long or short", s.Side)
	case !s.Quantity.IsPositive():
		return fmt.Errorf("invalid trade signal: quantity %s must be positive", s.Quantity)
	case s.Leverage < 1:
		return fmt.Errorf("invalid trade signal: leverage %d must be at least 1", s.Leverage)
	case s.StopLoss.IsNegative():
		return fmt.Errorf("invalid trade signal: stop-loss %s cannot be negative", s.StopLoss)
	case s.TakeProfit.IsNegative():
		return fmt.Errorf("invalid trade signal: take-profit %s cannot be negative", s.TakeProfit)
	}
	return nil
}
