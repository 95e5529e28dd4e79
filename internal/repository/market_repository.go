package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

var marketSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_events (
		source TEXT NOT NULL,
		slug TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT 'single',
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (source, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS tracked_markets (
		source TEXT NOT NULL CHECK (source IN ('polymarket', 'kalshi')),
		market_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		event_slug TEXT NOT NULL DEFAULT '',
		token_id TEXT NOT NULL DEFAULT '',
		series_ticker TEXT NOT NULL DEFAULT '',
		outcome_label TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (source, market_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tracked_markets_event ON tracked_markets (source, event_slug)`,
	`CREATE TABLE IF NOT EXISTS polymarket_snapshots (
		id BIGSERIAL PRIMARY KEY,
		condition_id TEXT NOT NULL,
		slug TEXT NOT NULL,
		question TEXT NOT NULL DEFAULT '',
		snapshot_at TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL,
		closed BOOLEAN NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
		liquidity DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_trade_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		best_bid DOUBLE PRECISION NOT NULL DEFAULT 0,
		best_ask DOUBLE PRECISION NOT NULL DEFAULT 0,
		spread DOUBLE PRECISION NOT NULL DEFAULT 0,
		one_day_price_change DOUBLE PRECISION NOT NULL DEFAULT 0,
		outcomes JSONB NOT NULL DEFAULT '[]'::jsonb,
		outcome_prices JSONB NOT NULL DEFAULT '[]'::jsonb,
		clob_token_ids JSONB NOT NULL DEFAULT '[]'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polymarket_snapshots_condition ON polymarket_snapshots (condition_id, snapshot_at DESC)`,
}

type MarketRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewMarketRepository(pool PgxPool, tracer trace.Tracer) *MarketRepository {
	return &MarketRepository{pool: pool, tracer: tracer}
}

func (r *MarketRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "market-repo.run-migrations")
	defer span.End()
	return execAll(ctx, r.pool, marketSchema)
}

func (r *MarketRepository) UpsertEvent(ctx context.Context, e domain.MarketEvent) error {
	_, span := r.tracer.Start(ctx, "market-repo.upsert-event")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO market_events (source, slug, title, category, event_type, closed, active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (source, slug) DO UPDATE SET
		     title = EXCLUDED.title,
		     category = EXCLUDED.category,
		     event_type = EXCLUDED.event_type,
		     closed = EXCLUDED.closed,
		     active = EXCLUDED.active,
		     updated_at = NOW()`,
		string(e.Source), e.Slug, e.Title, e.Category, e.EventType, e.Closed, e.Active,
	)
	return err
}

func (r *MarketRepository) UpsertMarkets(ctx context.Context, markets []domain.TrackedMarket) error {
	if len(markets) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "market-repo.upsert-markets")
	defer span.End()

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(
			`INSERT INTO tracked_markets (source, market_id, slug, title, event_slug, token_id, series_ticker,
			     outcome_label, active, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			 ON CONFLICT (source, market_id) DO UPDATE SET
			     slug = EXCLUDED.slug,
			     title = EXCLUDED.title,
			     event_slug = EXCLUDED.event_slug,
			     token_id = EXCLUDED.token_id,
			     series_ticker = EXCLUDED.series_ticker,
			     outcome_label = EXCLUDED.outcome_label,
			     active = EXCLUDED.active,
			     updated_at = NOW()`,
			string(m.Source), m.MarketID, m.Slug, m.Title, m.EventSlug, m.TokenID, m.SeriesTicker,
			m.OutcomeLabel, m.Active,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range markets {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListMarkets lists tracked markets; an empty source lists both platforms.
func (r *MarketRepository) ListMarkets(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error) {
	_, span := r.tracer.Start(ctx, "market-repo.list-markets")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT source, market_id, slug, title, event_slug, token_id, series_ticker, outcome_label, active, updated_at
		 FROM tracked_markets
		 WHERE ($1 = '' OR source = $1) AND (NOT $2 OR active)
		 ORDER BY source, event_slug, slug`,
		string(source), activeOnly,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []domain.TrackedMarket
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (r *MarketRepository) ListActiveMarkets(ctx context.Context, source domain.Source) ([]domain.TrackedMarket, error) {
	return r.ListMarkets(ctx, source, true)
}

// FindMarket looks a market up by id or slug. It returns nil when nothing matches.
func (r *MarketRepository) FindMarket(ctx context.Context, source domain.Source, idOrSlug string) (*domain.TrackedMarket, error) {
	_, span := r.tracer.Start(ctx, "market-repo.find-market")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`SELECT source, market_id, slug, title, event_slug, token_id, series_ticker, outcome_label, active, updated_at
		 FROM tracked_markets
		 WHERE source = $1 AND (market_id = $2 OR slug = $2 OR token_id = $2)
		 ORDER BY active DESC
		 LIMIT 1`,
		string(source), idOrSlug,
	)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeactivateEvent marks an event and every market under it inactive and returns the
// number of markets affected.
func (r *MarketRepository) DeactivateEvent(ctx context.Context, source domain.Source, slug string) (int64, error) {
	_, span := r.tracer.Start(ctx, "market-repo.deactivate-event")
	defer span.End()

	if _, err := r.pool.Exec(ctx,
		`UPDATE market_events SET active = FALSE, updated_at = NOW() WHERE source = $1 AND slug = $2`,
		string(source), slug,
	); err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE tracked_markets SET active = FALSE, updated_at = NOW()
		 WHERE source = $1 AND (event_slug = $2 OR slug = $2 OR market_id = $2)`,
		string(source), slug,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MarketRepository) InsertSnapshot(ctx context.Context, s domain.MarketSnapshot) error {
	_, span := r.tracer.Start(ctx, "market-repo.insert-snapshot")
	defer span.End()

	outcomes, err := json.Marshal(nonNilStrings(s.Outcomes))
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	prices, err := json.Marshal(nonNilFloats(s.OutcomePrices))
	if err != nil {
		return fmt.Errorf("encode outcome prices: %w", err)
	}
	tokens, err := json.Marshal(nonNilStrings(s.ClobTokenIDs))
	if err != nil {
		return fmt.Errorf("encode token ids: %w", err)
	}

	snapshotAt := s.SnapshotAt
	if snapshotAt.IsZero() {
		snapshotAt = time.Now()
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO polymarket_snapshots (condition_id, slug, question, snapshot_at, active, closed, volume,
		     volume_24h, liquidity, last_trade_price, best_bid, best_ask, spread, one_day_price_change,
		     outcomes, outcome_prices, clob_token_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		s.ConditionID, s.Slug, s.Question, snapshotAt.UTC(), s.Active, s.Closed, s.Volume,
		s.Volume24h, s.Liquidity, s.LastTradePrice, s.BestBid, s.BestAsk, s.Spread, s.OneDayPriceChange,
		outcomes, prices, tokens,
	)
	return err
}

func scanMarket(row pgx.Row) (domain.TrackedMarket, error) {
	var m domain.TrackedMarket
	var source string
	var updatedAt time.Time
	if err := row.Scan(&source, &m.MarketID, &m.Slug, &m.Title, &m.EventSlug, &m.TokenID,
		&m.SeriesTicker, &m.OutcomeLabel, &m.Active, &updatedAt); err != nil {
		return domain.TrackedMarket{}, err
	}
	m.Source = domain.Source(source)
	m.UpdatedAt = updatedAt.UTC()
	return m, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilFloats(in []float64) []float64 {
	if in == nil {
		return []float64{}
	}
	return in
}
