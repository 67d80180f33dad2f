package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"autoTraderCore/internal/domain"
)

// OrderStatus reports how much of an order the exchange executed.
type OrderStatus string

const (
	OrderStatusFilled        OrderStatus = "FILLED"
	OrderStatusPartiallyFill OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected      OrderStatus = "REJECTED"
)

// OrderResult represents the essential details returned after placing an order.
// Partial fills are reported distinctly from full fills and from failures.
type OrderResult struct {
	OrderID      string          // Exchange's order ID
	Symbol       string          // Symbol for the order
	Side         domain.OrderSide
	RequestedQty decimal.Decimal // Original quantity requested
	ExecutedQty  decimal.Decimal // Quantity actually filled
	AvgPrice     decimal.Decimal // Average filled price
	Status       OrderStatus
	Timestamp    time.Time // Time the order response was generated
}

// FullyFilled reports whether the exchange executed the entire requested quantity.
func (r *OrderResult) FullyFilled() bool {
	return r.Status == OrderStatusFilled && r.ExecutedQty.Equal(r.RequestedQty)
}

// LivePosition is the exchange's authoritative view of an open position.
type LivePosition struct {
	Symbol     string
	Side       domain.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	Leverage   int
}

// ExchangeClient defines the boundary contract with the exchange.
// Implementations must enforce per-call timeouts: a call that neither succeeds
// nor fails within a bounded window returns an ExchangeOrderError with reason
// timeout, which the caller treats as failed-with-uncertain-outcome.
type ExchangeClient interface {
	// PlaceOrder places a market order to open exposure.
	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity decimal.Decimal, leverage int) (*OrderResult, error)

	// CloseOrder places a market order reducing the position identified by
	// positionRef back to zero.
	CloseOrder(ctx context.Context, positionRef, symbol string, side domain.OrderSide, quantity decimal.Decimal) (*OrderResult, error)

	// GetCurrentPrice retrieves the current market price for a symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetLivePosition retrieves the exchange's view of the position identified
	// by positionRef. Returns nil, nil when no such position exists.
	GetLivePosition(ctx context.Context, positionRef, symbol string) (*LivePosition, error)
}
