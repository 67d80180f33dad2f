package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ports"
)

func newTestPosition(id, traderID string) *domain.Position {
	return &domain.Position{
		ID:         id,
		TraderID:   traderID,
		Symbol:     "ETHUSDT",
		Side:       domain.Long,
		Quantity:   decimal.NewFromInt(1),
		Leverage:   2,
		EntryPrice: decimal.NewFromInt(2000),
		Status:     domain.StatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
}

func TestInsertAndGet(t *testing.T) {
	l := New()
	pos := newTestPosition("p1", "t1")
	require.NoError(t, l.Insert(pos))

	got, err := l.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "t1", got.TraderID)

	// Returned value is a copy; mutating it must not affect ledger state.
	got.Quantity = decimal.NewFromInt(99)
	again, err := l.Get("p1")
	require.NoError(t, err)
	assert.True(t, again.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestInsertDuplicate(t *testing.T) {
	l := New()
	require.NoError(t, l.Insert(newTestPosition("p1", "t1")))
	err := l.Insert(newTestPosition("p1", "t2"))
	assert.ErrorIs(t, err, ports.ErrDuplicateID)
}

func TestGetNotFound(t *testing.T) {
	l := New()
	_, err := l.Get("missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestUpdateRequiresExisting(t *testing.T) {
	l := New()
	err := l.Update(newTestPosition("ghost", "t1"))
	assert.ErrorIs(t, err, ports.ErrNotFound)

	pos := newTestPosition("p1", "t1")
	require.NoError(t, l.Insert(pos))
	pos.CurrentPrice = decimal.NewFromInt(2100)
	require.NoError(t, l.Update(pos))

	got, err := l.Get("p1")
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(2100)))
}

func TestListByTraderSnapshot(t *testing.T) {
	l := New()
	require.NoError(t, l.Insert(newTestPosition("p1", "t1")))
	require.NoError(t, l.Insert(newTestPosition("p2", "t1")))
	require.NoError(t, l.Insert(newTestPosition("p3", "t2")))

	got := l.ListByTrader("t1")
	assert.Len(t, got, 2)
	assert.Len(t, l.ListByTrader("t2"), 1)
	assert.Empty(t, l.ListByTrader("t3"))
	assert.Len(t, l.ListAll(), 3)

	// Removing after the snapshot must not invalidate it.
	_, err := l.Remove("p1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRemove(t *testing.T) {
	l := New()
	require.NoError(t, l.Insert(newTestPosition("p1", "t1")))

	removed, err := l.Remove("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", removed.ID)
	assert.Equal(t, 0, l.OpenCount())

	_, err = l.Remove("p1")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestHistoryAppendOnly(t *testing.T) {
	l := New()
	rec := &domain.PositionHistoryRecord{ID: "h1", PositionID: "p1", TraderID: "t1", RealizedPnL: decimal.NewFromInt(5)}
	l.AppendHistory(rec)

	got := l.History()
	require.Len(t, got, 1)
	got[0].RealizedPnL = decimal.NewFromInt(-100)

	again := l.History()
	assert.True(t, again[0].RealizedPnL.Equal(decimal.NewFromInt(5)))
}

func TestReservations(t *testing.T) {
	l := New()

	l.Reserve("t1", decimal.NewFromInt(4000))
	l.Reserve("t1", decimal.NewFromInt(1000))
	l.Reserve("t2", decimal.NewFromInt(500))

	assert.True(t, l.Reserved("t1").Equal(decimal.NewFromInt(5000)))
	assert.True(t, l.Reserved("t2").Equal(decimal.NewFromInt(500)))
	assert.True(t, l.TotalReserved().Equal(decimal.NewFromInt(5500)))

	l.Release("t1", decimal.NewFromInt(4000))
	assert.True(t, l.Reserved("t1").Equal(decimal.NewFromInt(1000)))

	l.Release("t1", decimal.NewFromInt(1000))
	assert.True(t, l.Reserved("t1").IsZero())
	assert.True(t, l.TotalReserved().Equal(decimal.NewFromInt(500)))

	// Non-positive amounts are ignored.
	l.Reserve("t3", decimal.Zero)
	l.Reserve("t3", decimal.NewFromInt(-5))
	assert.True(t, l.Reserved("t3").IsZero())
}

func TestConcurrentMutation(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", n)
			if err := l.Insert(newTestPosition(id, "t1")); err != nil {
				t.Errorf("insert %s: %v", id, err)
			}
			l.ListAll()
			l.ListByTrader("t1")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, l.OpenCount())
}
