package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paperdesk/venue-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis last-value cache. Appends
// go to the primary and refresh the cached last values; last-value lookups
// check Redis first then fall back to the primary. The latest book per
// instrument is additionally written to a Redis hash for external
// last-value consumers.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Appends (primary first, then refresh cache) ---

func (s *CachedStore) AppendTick(ctx context.Context, t model.Tick) error {
	if err := s.primary.AppendTick(ctx, t); err != nil {
		return err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, lastTickKey(t.InstrumentID), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) AppendOrderBook(ctx context.Context, snap model.OrderBookSnapshot) error {
	if err := s.primary.AppendOrderBook(ctx, snap); err != nil {
		return err
	}
	// Latest book per instrument lives in a hash for external consumers.
	bids, _ := json.Marshal(snap.Bids)
	asks, _ := json.Marshal(snap.Asks)
	s.rdb.HSet(ctx, bookHashKey(snap.InstrumentID), map[string]interface{}{
		"bids":         bids,
		"asks":         asks,
		"last_updated": snap.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

func (s *CachedStore) AppendTrade(ctx context.Context, t model.Trade) error {
	return s.primary.AppendTrade(ctx, t)
}

func (s *CachedStore) AppendPortfolioSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error {
	if err := s.primary.AppendPortfolioSnapshot(ctx, snap); err != nil {
		return err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, lastSnapshotKey(snap.UserID), data, s.ttl)
	}
	return nil
}

// --- Recent-N read-back (passthrough) ---

func (s *CachedStore) RecentTicks(ctx context.Context, instrumentID string, n int) ([]model.Tick, error) {
	return s.primary.RecentTicks(ctx, instrumentID, n)
}

func (s *CachedStore) RecentTrades(ctx context.Context, userID string, n int) ([]model.Trade, error) {
	return s.primary.RecentTrades(ctx, userID, n)
}

func (s *CachedStore) RecentPortfolioSnapshots(ctx context.Context, userID string, n int) ([]model.PortfolioSnapshot, error) {
	return s.primary.RecentPortfolioSnapshots(ctx, userID, n)
}

// --- Last-known-value lookup (cache first) ---

func (s *CachedStore) LastTick(ctx context.Context, instrumentID string) (*model.Tick, error) {
	data, err := s.rdb.Get(ctx, lastTickKey(instrumentID)).Bytes()
	if err == nil {
		var t model.Tick
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.LastTick(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, lastTickKey(instrumentID), data, s.ttl)
	}
	return t, nil
}

func (s *CachedStore) LastPortfolioSnapshot(ctx context.Context, userID string) (*model.PortfolioSnapshot, error) {
	data, err := s.rdb.Get(ctx, lastSnapshotKey(userID)).Bytes()
	if err == nil {
		var snap model.PortfolioSnapshot
		if json.Unmarshal(data, &snap) == nil {
			return &snap, nil
		}
	}

	snap, err := s.primary.LastPortfolioSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(snap); err == nil {
		s.rdb.Set(ctx, lastSnapshotKey(userID), data, s.ttl)
	}
	return snap, nil
}

// --- Cache keys ---

func lastTickKey(id string) string      { return fmt.Sprintf("tick:last:%s", id) }
func bookHashKey(id string) string      { return fmt.Sprintf("book:%s", id) }
func lastSnapshotKey(uid string) string { return fmt.Sprintf("portfolio:last:%s", uid) }
