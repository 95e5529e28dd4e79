package repository

import (
	"context"
	"errors"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var priceSchema = []string{
	`CREATE TABLE IF NOT EXISTS polymarket_price_history (
		token_id TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (token_id, timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polymarket_price_condition ON polymarket_price_history (condition_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS kalshi_price_history (
		ticker TEXT NOT NULL,
		end_period_ts BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		price_open DOUBLE PRECISION,
		price_close DOUBLE PRECISION,
		price_high DOUBLE PRECISION,
		price_low DOUBLE PRECISION,
		price_mean DOUBLE PRECISION,
		yes_bid_close DOUBLE PRECISION,
		yes_ask_close DOUBLE PRECISION,
		volume BIGINT NOT NULL DEFAULT 0,
		open_interest BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (ticker, end_period_ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kalshi_price_timestamp ON kalshi_price_history (timestamp)`,
}

type PriceRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPriceRepository(pool PgxPool, tracer trace.Tracer) *PriceRepository {
	return &PriceRepository{pool: pool, tracer: tracer}
}

func (r *PriceRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "price-repo.run-migrations")
	defer span.End()
	return execAll(ctx, r.pool, priceSchema)
}

func (r *PriceRepository) UpsertPolymarketPrices(ctx context.Context, conditionID, tokenID string, points []domain.PricePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	_, span := r.tracer.Start(ctx, "price-repo.upsert-polymarket-prices")
	defer span.End()

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO polymarket_price_history (token_id, condition_id, timestamp, price)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (token_id, timestamp) DO UPDATE SET
			     price = EXCLUDED.price,
			     condition_id = EXCLUDED.condition_id`,
			tokenID, conditionID, p.Timestamp.UTC(), p.Price,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range points {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return len(points), nil
}

func (r *PriceRepository) UpsertKalshiCandles(ctx context.Context, candles []domain.KalshiCandle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	_, span := r.tracer.Start(ctx, "price-repo.upsert-kalshi-candles")
	defer span.End()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO kalshi_price_history (ticker, end_period_ts, timestamp, price_open, price_close, price_high,
			     price_low, price_mean, yes_bid_close, yes_ask_close, volume, open_interest)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (ticker, end_period_ts) DO UPDATE SET
			     price_open = EXCLUDED.price_open,
			     price_close = EXCLUDED.price_close,
			     price_high = EXCLUDED.price_high,
			     price_low = EXCLUDED.price_low,
			     price_mean = EXCLUDED.price_mean,
			     yes_bid_close = EXCLUDED.yes_bid_close,
			     yes_ask_close = EXCLUDED.yes_ask_close,
			     volume = EXCLUDED.volume,
			     open_interest = EXCLUDED.open_interest`,
			c.Ticker, c.EndPeriod.Unix(), c.EndPeriod.UTC(), c.PriceOpen, c.PriceClose, c.PriceHigh,
			c.PriceLow, c.PriceMean, c.YesBidClose, c.YesAskClose, c.Volume, c.OpenInterest,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return len(candles), nil
}

// PolymarketSeries returns the ascending series for a condition id since the given instant.
// A zero since reads from the beginning; limit <= 0 means unbounded.
func (r *PriceRepository) PolymarketSeries(ctx context.Context, conditionID string, since time.Time, limit int) ([]domain.PricePoint, error) {
	_, span := r.tracer.Start(ctx, "price-repo.polymarket-series")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT timestamp, price
		 FROM polymarket_price_history
		 WHERE condition_id = $1 AND timestamp >= $2
		 ORDER BY timestamp ASC
		 LIMIT NULLIF($3, 0)`,
		conditionID, since.UTC(), limitArg(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0, 64)
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Timestamp, &p.Price); err != nil {
			return nil, err
		}
		p.Timestamp = p.Timestamp.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// KalshiSeries returns the ascending normalized series for a ticker; candles without
// a close or mean price are skipped.
func (r *PriceRepository) KalshiSeries(ctx context.Context, ticker string, since time.Time, limit int) ([]domain.PricePoint, error) {
	_, span := r.tracer.Start(ctx, "price-repo.kalshi-series")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT timestamp, price_close, price_mean
		 FROM kalshi_price_history
		 WHERE ticker = $1 AND timestamp >= $2
		 ORDER BY timestamp ASC
		 LIMIT NULLIF($3, 0)`,
		ticker, since.UTC(), limitArg(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0, 64)
	for rows.Next() {
		var c domain.KalshiCandle
		if err := rows.Scan(&c.EndPeriod, &c.PriceClose, &c.PriceMean); err != nil {
			return nil, err
		}
		price, ok := c.Price()
		if !ok {
			continue
		}
		points = append(points, domain.PricePoint{Timestamp: c.EndPeriod.UTC(), Price: price})
	}
	return points, rows.Err()
}

func (r *PriceRepository) LastPolymarketTimestamp(ctx context.Context, tokenID string) (time.Time, bool, error) {
	_, span := r.tracer.Start(ctx, "price-repo.last-polymarket-timestamp")
	defer span.End()

	return scanLast(r.pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM polymarket_price_history WHERE token_id = $1`, tokenID))
}

func (r *PriceRepository) LastKalshiTimestamp(ctx context.Context, ticker string) (time.Time, bool, error) {
	_, span := r.tracer.Start(ctx, "price-repo.last-kalshi-timestamp")
	defer span.End()

	return scanLast(r.pool.QueryRow(ctx,
		`SELECT MAX(timestamp) FROM kalshi_price_history WHERE ticker = $1`, ticker))
}

func (r *PriceRepository) RecentKalshiTickers(ctx context.Context, since time.Time) ([]string, error) {
	_, span := r.tracer.Start(ctx, "price-repo.recent-kalshi-tickers")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ticker FROM kalshi_price_history WHERE timestamp >= $1 ORDER BY ticker`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, err
		}
		tickers = append(tickers, ticker)
	}
	return tickers, rows.Err()
}

func scanLast(row pgx.Row) (time.Time, bool, error) {
	var ts *time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

func limitArg(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit
}
