package domain

// Side represents the direction of a position (long or short).
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// OrderSide represents the side of an exchange order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// EntrySide returns the order side used to open a position of this direction.
func (s Side) EntrySide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side used to close a position of this direction.
func (s Side) ExitSide() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// PositionStatus represents the lifecycle status of a trading position.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosing PositionStatus = "closing"
	StatusClosed  PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss        CloseReason = "STOP_LOSS"
	CloseReasonTakeProfit      CloseReason = "TAKE_PROFIT"
	CloseReasonTraderDailyLoss CloseReason = "TRADER_DAILY_LOSS"
	CloseReasonEmergencyStop   CloseReason = "EMERGENCY_STOP"
	CloseReasonManual          CloseReason = "MANUAL"
	CloseReasonSignal          CloseReason = "SIGNAL"
	CloseReasonOrphaned        CloseReason = "ORPHANED"
	CloseReasonUnknown         CloseReason = "UNKNOWN"
)
