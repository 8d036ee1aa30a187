// Package store defines the append-only persistence contract consumed by
// the engine core: sequential appends of ticks, book snapshots, trades and
// portfolio snapshots, recent-N read-back for recovery, and last-known-value
// lookup. Implementations include PostgreSQL (source of truth), a Redis
// last-value cache layer, and in-memory (for development and testing).
package store

import (
	"context"
	"errors"

	"github.com/paperdesk/venue-engine/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a last-value lookup.
	ErrNotFound = errors.New("store: not found")

	// ErrAppendFailed wraps persistence failures. The owning component must
	// halt further mutation for the affected instrument/user rather than
	// continue with unpersisted state.
	ErrAppendFailed = errors.New("store: append failed")
)

// Store is the persistence interface. The core never requires queries or
// joins — only appends, recent-N read-back, and last-known values.
type Store interface {
	// --- Append-only writes ---

	AppendTick(ctx context.Context, tick model.Tick) error
	AppendOrderBook(ctx context.Context, snapshot model.OrderBookSnapshot) error
	AppendTrade(ctx context.Context, trade model.Trade) error
	AppendPortfolioSnapshot(ctx context.Context, snapshot model.PortfolioSnapshot) error

	// --- Recent-N read-back, newest first ---

	RecentTicks(ctx context.Context, instrumentID string, n int) ([]model.Tick, error)
	RecentTrades(ctx context.Context, userID string, n int) ([]model.Trade, error)
	RecentPortfolioSnapshots(ctx context.Context, userID string, n int) ([]model.PortfolioSnapshot, error)

	// --- Last-known-value lookup ---

	LastTick(ctx context.Context, instrumentID string) (*model.Tick, error)
	LastPortfolioSnapshot(ctx context.Context, userID string) (*model.PortfolioSnapshot, error)
}
