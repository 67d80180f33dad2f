// Package ledger owns the in-memory table of open positions plus an
// append-only history of closed ones. It is the single source of truth for
// exposure and leverage calculations; no other component holds position state.
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"autoTraderCore/internal/domain"
	"autoTraderCore/internal/ports"
)

// Ledger is the exclusive in-memory owner of currently open positions, keyed
// by position identifier. All mutating operations take the write lock;
// snapshot reads share the read lock but serialize against in-flight
// mutations, which closes the check-then-act race between concurrent agents.
type Ledger struct {
	mu       sync.RWMutex
	open     map[string]*domain.Position
	reserved map[string]decimal.Decimal
	history  []*domain.PositionHistoryRecord
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		open:     make(map[string]*domain.Position),
		reserved: make(map[string]decimal.Decimal),
	}
}

// Insert adds a new open position.
func (l *Ledger) Insert(pos *domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.open[pos.ID]; exists {
		return fmt.Errorf("insert position %s: %w", pos.ID, ports.ErrDuplicateID)
	}
	l.open[pos.ID] = pos.Clone()
	return nil
}

// Get returns a copy of the position with the given ID.
func (l *Ledger) Get(id string) (*domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.open[id]
	if !ok {
		return nil, fmt.Errorf("get position %s: %w", id, ports.ErrNotFound)
	}
	return pos.Clone(), nil
}

// Update replaces the stored state of an open position. The position must
// already exist; Insert and Remove are the only operations that change
// membership of the open set.
func (l *Ledger) Update(pos *domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.open[pos.ID]; !ok {
		return fmt.Errorf("update position %s: %w", pos.ID, ports.ErrNotFound)
	}
	l.open[pos.ID] = pos.Clone()
	return nil
}

// ListByTrader returns a point-in-time snapshot of the trader's open positions.
// The returned positions are copies; mutating them never touches ledger state.
func (l *Ledger) ListByTrader(traderID string) []*domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Position, 0)
	for _, pos := range l.open {
		if pos.TraderID == traderID {
			out = append(out, pos.Clone())
		}
	}
	return out
}

// ListAll returns a point-in-time snapshot of every open position.
func (l *Ledger) ListAll() []*domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.Position, 0, len(l.open))
	for _, pos := range l.open {
		out = append(out, pos.Clone())
	}
	return out
}

// Reserve records notional exposure for an order that has passed admission but
// not yet filled. Reservations count toward exposure so a second admission
// check cannot spend the same budget while the order is in flight.
func (l *Ledger) Reserve(traderID string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved[traderID] = l.reserved[traderID].Add(amount)
}

// Release drops a previously recorded reservation.
func (l *Ledger) Release(traderID string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rest := l.reserved[traderID].Sub(amount)
	if rest.IsPositive() {
		l.reserved[traderID] = rest
		return
	}
	delete(l.reserved, traderID)
}

// Reserved returns the trader's in-flight reserved exposure.
func (l *Ledger) Reserved(traderID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserved[traderID]
}

// TotalReserved returns reserved exposure across all traders.
func (l *Ledger) TotalReserved() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, amount := range l.reserved {
		total = total.Add(amount)
	}
	return total
}

// Remove takes the position out of the open set and returns it. The caller is
// responsible for appending the corresponding history record.
func (l *Ledger) Remove(id string) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.open[id]
	if !ok {
		return nil, fmt.Errorf("remove position %s: %w", id, ports.ErrNotFound)
	}
	delete(l.open, id)
	return pos, nil
}

// AppendHistory records an immutable snapshot of a closed position.
func (l *Ledger) AppendHistory(rec *domain.PositionHistoryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := *rec
	l.history = append(l.history, &cp)
}

// History returns a snapshot of all recorded history, oldest first.
func (l *Ledger) History() []*domain.PositionHistoryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.PositionHistoryRecord, 0, len(l.history))
	for _, rec := range l.history {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// OpenCount returns the number of currently open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open)
}
