package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"autoTraderCore/internal/domain"
)

// PositionRepository defines the durable store for positions.
// Writes must be durable before OpenPosition/ClosePosition report success.
type PositionRepository interface {
	// SavePosition inserts or replaces the stored state of a position.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// LoadAllOpenPositions retrieves every position persisted as open or
	// closing, for startup reconciliation.
	LoadAllOpenPositions(ctx context.Context) ([]*domain.Position, error)
}

// HistoryRepository defines the append-only store for closed-position records.
type HistoryRepository interface {
	// AppendHistory stores an immutable history record.
	AppendHistory(ctx context.Context, rec *domain.PositionHistoryRecord) error
	// FindHistoryByTrader retrieves the most recent records for a trader,
	// newest first, up to limit. An empty traderID matches all traders.
	FindHistoryByTrader(ctx context.Context, traderID string, limit int) ([]*domain.PositionHistoryRecord, error)
	// FindHistoryByPosition retrieves the close record for a position.
	// Returns nil, nil when no record exists.
	FindHistoryByPosition(ctx context.Context, positionID string) (*domain.PositionHistoryRecord, error)
	// RealizedPnLSince sums realized P&L for a trader over records closed at
	// or after the given time.
	RealizedPnLSince(ctx context.Context, traderID string, since time.Time) (decimal.Decimal, error)
}
