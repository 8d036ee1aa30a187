package store

import (
	"context"
	"sync"

	"github.com/paperdesk/venue-engine/internal/model"
)

// MemoryStore implements Store with in-memory ring buffers. Used for
// development and testing; data does not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	cap       int
	ticks     map[string][]model.Tick              // instrument → oldest..newest
	books     map[string][]model.OrderBookSnapshot // instrument → oldest..newest
	trades    map[string][]model.Trade             // user → oldest..newest
	snapshots map[string][]model.PortfolioSnapshot // user → oldest..newest
}

// NewMemoryStore creates an in-memory store retaining up to cap records
// per key and stream.
func NewMemoryStore(cap int) *MemoryStore {
	if cap <= 0 {
		cap = 1024
	}
	return &MemoryStore{
		cap:       cap,
		ticks:     make(map[string][]model.Tick),
		books:     make(map[string][]model.OrderBookSnapshot),
		trades:    make(map[string][]model.Trade),
		snapshots: make(map[string][]model.PortfolioSnapshot),
	}
}

func appendBounded[T any](buf []T, v T, cap int) []T {
	buf = append(buf, v)
	if len(buf) > cap {
		buf = buf[len(buf)-cap:]
	}
	return buf
}

func recentN[T any](buf []T, n int) []T {
	if n <= 0 || len(buf) == 0 {
		return nil
	}
	if n > len(buf) {
		n = len(buf)
	}
	// Newest first.
	out := make([]T, 0, n)
	for i := len(buf) - 1; i >= len(buf)-n; i-- {
		out = append(out, buf[i])
	}
	return out
}

func (s *MemoryStore) AppendTick(_ context.Context, tick model.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[tick.InstrumentID] = appendBounded(s.ticks[tick.InstrumentID], tick, s.cap)
	return nil
}

func (s *MemoryStore) AppendOrderBook(_ context.Context, snapshot model.OrderBookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[snapshot.InstrumentID] = appendBounded(s.books[snapshot.InstrumentID], snapshot, s.cap)
	return nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, trade model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[trade.UserID] = appendBounded(s.trades[trade.UserID], trade, s.cap)
	return nil
}

func (s *MemoryStore) AppendPortfolioSnapshot(_ context.Context, snapshot model.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.UserID] = appendBounded(s.snapshots[snapshot.UserID], snapshot, s.cap)
	return nil
}

func (s *MemoryStore) RecentTicks(_ context.Context, instrumentID string, n int) ([]model.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentN(s.ticks[instrumentID], n), nil
}

func (s *MemoryStore) RecentTrades(_ context.Context, userID string, n int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentN(s.trades[userID], n), nil
}

func (s *MemoryStore) RecentPortfolioSnapshots(_ context.Context, userID string, n int) ([]model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recentN(s.snapshots[userID], n), nil
}

func (s *MemoryStore) LastTick(_ context.Context, instrumentID string) (*model.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.ticks[instrumentID]
	if len(buf) == 0 {
		return nil, ErrNotFound
	}
	t := buf[len(buf)-1]
	return &t, nil
}

func (s *MemoryStore) LastPortfolioSnapshot(_ context.Context, userID string) (*model.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.snapshots[userID]
	if len(buf) == 0 {
		return nil, ErrNotFound
	}
	ps := buf[len(buf)-1]
	return &ps, nil
}
