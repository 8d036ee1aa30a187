package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/paperdesk/venue-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// structured fields (book levels, exposure maps, metadata) as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AppendTick(ctx context.Context, t model.Tick) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode tick metadata: %v", ErrAppendFailed, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ticks (instrument_id, timestamp, bid, ask, mid, dealer_id, metadata)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, NULLIF($6, ''), $7)`,
		t.InstrumentID, t.Timestamp,
		t.Bid.String(), t.Ask.String(), t.Mid.String(),
		t.DealerID, meta,
	)
	if err != nil {
		return fmt.Errorf("%w: tick %s: %v", ErrAppendFailed, t.InstrumentID, err)
	}
	return nil
}

func (s *PostgresStore) AppendOrderBook(ctx context.Context, snap model.OrderBookSnapshot) error {
	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("%w: encode bids: %v", ErrAppendFailed, err)
	}
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("%w: encode asks: %v", ErrAppendFailed, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO order_books (instrument_id, timestamp, bids, asks)
		 VALUES ($1, $2, $3, $4)`,
		snap.InstrumentID, snap.Timestamp, bids, asks,
	)
	if err != nil {
		return fmt.Errorf("%w: order book %s: %v", ErrAppendFailed, snap.InstrumentID, err)
	}
	return nil
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, order_id, user_id, instrument_id, side, quantity, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.OrderID, t.UserID, t.InstrumentID, string(t.Side),
		t.Quantity.String(), t.Price.String(), t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: trade %s: %v", ErrAppendFailed, t.ID, err)
	}
	return nil
}

func (s *PostgresStore) AppendPortfolioSnapshot(ctx context.Context, snap model.PortfolioSnapshot) error {
	delta, err := json.Marshal(snap.DeltaExposure)
	if err != nil {
		return fmt.Errorf("%w: encode delta exposure: %v", ErrAppendFailed, err)
	}
	dv01, err := json.Marshal(snap.DV01Exposure)
	if err != nil {
		return fmt.Errorf("%w: encode dv01 exposure: %v", ErrAppendFailed, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolio_snapshots
		   (user_id, timestamp, nav, cash_balance, unrealized_pnl, realized_pnl, delta_exposure, dv01_exposure)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		snap.UserID, snap.Timestamp,
		snap.NAV.String(), snap.Cash.String(),
		snap.UnrealizedPnL.String(), snap.RealizedPnL.String(),
		delta, dv01,
	)
	if err != nil {
		return fmt.Errorf("%w: portfolio snapshot %s: %v", ErrAppendFailed, snap.UserID, err)
	}
	return nil
}

func (s *PostgresStore) RecentTicks(ctx context.Context, instrumentID string, n int) ([]model.Tick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT instrument_id, timestamp,
		        bid::TEXT, ask::TEXT, mid::TEXT,
		        COALESCE(dealer_id, ''), metadata
		 FROM ticks WHERE instrument_id = $1
		 ORDER BY timestamp DESC LIMIT $2`, instrumentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []model.Tick
	for rows.Next() {
		var t model.Tick
		var bid, ask, mid string
		var meta []byte
		if err := rows.Scan(&t.InstrumentID, &t.Timestamp, &bid, &ask, &mid, &t.DealerID, &meta); err != nil {
			return nil, err
		}
		t.Bid, _ = decimal.NewFromString(bid)
		t.Ask, _ = decimal.NewFromString(ask)
		t.Mid, _ = decimal.NewFromString(mid)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &t.Metadata)
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

func (s *PostgresStore) RecentTrades(ctx context.Context, userID string, n int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, user_id, instrument_id, side,
		        quantity::TEXT, price::TEXT, timestamp
		 FROM trades WHERE user_id = $1
		 ORDER BY timestamp DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, qty, price string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.InstrumentID, &side, &qty, &price, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) RecentPortfolioSnapshots(ctx context.Context, userID string, n int) ([]model.PortfolioSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, timestamp,
		        nav::TEXT, cash_balance::TEXT, unrealized_pnl::TEXT, realized_pnl::TEXT,
		        delta_exposure, dv01_exposure
		 FROM portfolio_snapshots WHERE user_id = $1
		 ORDER BY timestamp DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.PortfolioSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) LastTick(ctx context.Context, instrumentID string) (*model.Tick, error) {
	ticks, err := s.RecentTicks(ctx, instrumentID, 1)
	if err != nil {
		return nil, err
	}
	if len(ticks) == 0 {
		return nil, ErrNotFound
	}
	return &ticks[0], nil
}

func (s *PostgresStore) LastPortfolioSnapshot(ctx context.Context, userID string) (*model.PortfolioSnapshot, error) {
	snaps, err := s.RecentPortfolioSnapshots(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	return &snaps[0], nil
}

func scanSnapshot(scan func(dest ...any) error) (model.PortfolioSnapshot, error) {
	var snap model.PortfolioSnapshot
	var nav, cash, upnl, rpnl string
	var delta, dv01 []byte
	if err := scan(&snap.UserID, &snap.Timestamp, &nav, &cash, &upnl, &rpnl, &delta, &dv01); err != nil {
		return snap, err
	}
	snap.NAV, _ = decimal.NewFromString(nav)
	snap.Cash, _ = decimal.NewFromString(cash)
	snap.UnrealizedPnL, _ = decimal.NewFromString(upnl)
	snap.RealizedPnL, _ = decimal.NewFromString(rpnl)
	if len(delta) > 0 {
		_ = json.Unmarshal(delta, &snap.DeltaExposure)
	}
	if len(dv01) > 0 {
		_ = json.Unmarshal(dv01, &snap.DV01Exposure)
	}
	return snap, nil
}
