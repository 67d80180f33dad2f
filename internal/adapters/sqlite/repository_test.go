package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTraderCore/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "position-store-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func testPosition(id string) *domain.Position {
	return &domain.Position{
		ID:           id,
		TraderID:     "t1",
		Symbol:       "ETHUSDT",
		Side:         domain.Long,
		Quantity:     decimal.RequireFromString("1.5"),
		EntryPrice:   decimal.RequireFromString("2000.25"),
		CurrentPrice: decimal.RequireFromString("2010.5"),
		StopLoss:     decimal.RequireFromString("1900"),
		TakeProfit:   decimal.RequireFromString("2200"),
		Leverage:     4,
		Status:       domain.StatusOpen,
		OpenedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestRepository_SaveAndLoadPositions(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := testPosition("p1")
	require.NoError(t, repo.SavePosition(ctx, pos))

	loaded, err := repo.LoadAllOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "t1", got.TraderID)
	assert.Equal(t, domain.Long, got.Side)
	assert.True(t, got.Quantity.Equal(pos.Quantity))
	assert.True(t, got.EntryPrice.Equal(pos.EntryPrice))
	assert.True(t, got.CurrentPrice.Equal(pos.CurrentPrice))
	assert.True(t, got.StopLoss.Equal(pos.StopLoss))
	assert.Equal(t, 4, got.Leverage)
	assert.Equal(t, domain.StatusOpen, got.Status)
}

func TestRepository_SaveOverwritesExisting(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pos := testPosition("p1")
	require.NoError(t, repo.SavePosition(ctx, pos))

	pos.CurrentPrice = decimal.RequireFromString("2100")
	pos.Status = domain.StatusClosing
	require.NoError(t, repo.SavePosition(ctx, pos))

	loaded, err := repo.LoadAllOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].CurrentPrice.Equal(decimal.RequireFromString("2100")))
	assert.Equal(t, domain.StatusClosing, loaded[0].Status)
}

func TestRepository_ClosedPositionsExcludedFromLoad(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	open := testPosition("p1")
	require.NoError(t, repo.SavePosition(ctx, open))

	closed := testPosition("p2")
	closed.Status = domain.StatusClosed
	closed.ClosedAt = time.Now().UTC()
	closed.CloseReason = domain.CloseReasonStopLoss
	require.NoError(t, repo.SavePosition(ctx, closed))

	loaded, err := repo.LoadAllOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "p1", loaded[0].ID)
}

func testHistoryRecord(id, traderID string, pnl string, closedAt time.Time) *domain.PositionHistoryRecord {
	return &domain.PositionHistoryRecord{
		ID:          id,
		PositionID:  "p-" + id,
		TraderID:    traderID,
		Symbol:      "ETHUSDT",
		Side:        domain.Long,
		Quantity:    decimal.NewFromInt(1),
		Leverage:    2,
		EntryPrice:  decimal.NewFromInt(2000),
		ExitPrice:   decimal.NewFromInt(2100),
		RealizedPnL: decimal.RequireFromString(pnl),
		OpenedAt:    closedAt.Add(-time.Hour),
		ClosedAt:    closedAt,
		Duration:    time.Hour,
		CloseReason: domain.CloseReasonTakeProfit,
	}
}

func TestRepository_HistoryRoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := testHistoryRecord("h1", "t1", "250.75", now)
	require.NoError(t, repo.AppendHistory(ctx, rec))

	records, err := repo.FindHistoryByTrader(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, "h1", got.ID)
	assert.Equal(t, "p-h1", got.PositionID)
	assert.True(t, got.RealizedPnL.Equal(decimal.RequireFromString("250.75")))
	assert.Equal(t, time.Hour, got.Duration)
	assert.Equal(t, domain.CloseReasonTakeProfit, got.CloseReason)
}

func TestRepository_FindHistoryByPosition(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h1", "t1", "250.75", now)))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h2", "t2", "-10", now.Add(time.Minute))))

	got, err := repo.FindHistoryByPosition(ctx, "p-h2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "h2", got.ID)
	assert.Equal(t, "t2", got.TraderID)
	assert.True(t, got.RealizedPnL.Equal(decimal.RequireFromString("-10")))

	// Absence is not an error.
	got, err = repo.FindHistoryByPosition(ctx, "p-unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_FindHistoryOrderAndLimit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h1", "t1", "100", now.Add(-2*time.Hour))))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h2", "t1", "200", now.Add(-time.Hour))))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h3", "t1", "300", now)))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h4", "t2", "400", now)))

	records, err := repo.FindHistoryByTrader(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "h3", records[0].ID)
	assert.Equal(t, "h2", records[1].ID)
}

func TestRepository_RealizedPnLSince(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h1", "t1", "100.5", now.Add(-time.Hour))))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h2", "t1", "-40.25", now.Add(-30*time.Minute))))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h3", "t1", "999", now.Add(-48*time.Hour))))
	require.NoError(t, repo.AppendHistory(ctx, testHistoryRecord("h4", "t2", "77", now.Add(-time.Hour))))

	t.Run("per trader inside window", func(t *testing.T) {
		total, err := repo.RealizedPnLSince(ctx, "t1", now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.RequireFromString("60.25")))
	})

	t.Run("all traders", func(t *testing.T) {
		total, err := repo.RealizedPnLSince(ctx, "", now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.RequireFromString("137.25")))
	})

	t.Run("empty window", func(t *testing.T) {
		total, err := repo.RealizedPnLSince(ctx, "t1", now.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, total.IsZero())
	})
}
