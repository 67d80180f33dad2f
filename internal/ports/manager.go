package ports

import (
	"context"

	"autoTraderCore/internal/domain"
)

// PositionCloser closes an open position through the orchestration layer.
// The risk manager and monitor depend on this narrow surface instead of the
// full position manager.
type PositionCloser interface {
	ClosePosition(ctx context.Context, positionID string, reason domain.CloseReason) (*domain.Position, error)
}
