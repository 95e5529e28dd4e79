package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var signalSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_signals (
		id BIGSERIAL PRIMARY KEY,
		market_id TEXT NOT NULL,
		source TEXT NOT NULL CHECK (source IN ('polymarket', 'kalshi')),
		signal_type TEXT NOT NULL CHECK (signal_type IN ('alert', 'trend')),
		timestamp TIMESTAMPTZ NOT NULL,
		prior_timestamp TIMESTAMPTZ,
		direction TEXT NOT NULL CHECK (direction IN ('up', 'down')),
		prior_price DOUBLE PRECISION NOT NULL,
		new_price DOUBLE PRECISION NOT NULL,
		price_change DOUBLE PRECISION NOT NULL,
		percent_change DOUBLE PRECISION NOT NULL,
		time_window_minutes INTEGER NOT NULL DEFAULT 0,
		window_size INTEGER NOT NULL DEFAULT 0,
		explanation TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		ticker TEXT,
		condition_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (market_id, timestamp, signal_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_market_signals_timestamp ON market_signals (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_market_signals_source ON market_signals (source, timestamp DESC)`,
}

type SignalRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSignalRepository(pool PgxPool, tracer trace.Tracer) *SignalRepository {
	return &SignalRepository{pool: pool, tracer: tracer}
}

func (r *SignalRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "signal-repo.run-migrations")
	defer span.End()
	return execAll(ctx, r.pool, signalSchema)
}

// UpsertSignals stores signals idempotently on (market_id, timestamp, signal_type) and
// returns them with their row ids.
func (r *SignalRepository) UpsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error) {
	if len(signals) == 0 {
		return nil, nil
	}
	signals = domain.CollapseByKey(signals)

	_, span := r.tracer.Start(ctx, "signal-repo.upsert-signals")
	defer span.End()
	span.SetAttributes(attribute.Int("signals", len(signals)))

	batch := &pgx.Batch{}
	for _, s := range signals {
		metadata, err := signalMetadata(s)
		if err != nil {
			return nil, err
		}
		ticker, conditionID := platformIDs(s)
		batch.Queue(
			`INSERT INTO market_signals (market_id, source, signal_type, timestamp, prior_timestamp, direction,
			     prior_price, new_price, price_change, percent_change, time_window_minutes, window_size,
			     explanation, metadata, ticker, condition_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (market_id, timestamp, signal_type) DO UPDATE SET
			     prior_timestamp = EXCLUDED.prior_timestamp,
			     direction = EXCLUDED.direction,
			     prior_price = EXCLUDED.prior_price,
			     new_price = EXCLUDED.new_price,
			     price_change = EXCLUDED.price_change,
			     percent_change = EXCLUDED.percent_change,
			     time_window_minutes = EXCLUDED.time_window_minutes,
			     window_size = EXCLUDED.window_size,
			     explanation = EXCLUDED.explanation,
			     metadata = EXCLUDED.metadata
			 RETURNING id`,
			s.MarketID,
			string(s.Source),
			string(s.SignalType),
			s.Timestamp.UTC(),
			nullTime(s.PriorTimestamp),
			string(s.Direction),
			s.PriorPrice,
			s.NewPrice,
			s.PriceChange,
			s.PercentChange,
			s.TimeWindowMinutes,
			s.WindowSize,
			s.Explanation,
			metadata,
			ticker,
			conditionID,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]domain.Signal, len(signals))
	copy(out, signals)
	for i := range signals {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("upsert signal %s: %w", signals[i].MarketID, err)
		}
		out[i].ID = id
	}
	return out, nil
}

func (r *SignalRepository) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.list-signals")
	defer span.End()

	args := make([]any, 0, 6)
	var sb strings.Builder
	sb.WriteString(`SELECT id, market_id, source, signal_type, timestamp, COALESCE(prior_timestamp, timestamp),
		       direction, prior_price, new_price, price_change, percent_change,
		       time_window_minutes, window_size, explanation, created_at
		FROM market_signals
		WHERE 1=1`)

	if filter.MarketID != "" {
		args = append(args, filter.MarketID)
		sb.WriteString(fmt.Sprintf(" AND market_id = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		sb.WriteString(fmt.Sprintf(" AND source = $%d", len(args)))
	}
	if filter.SignalType != "" {
		args = append(args, string(filter.SignalType))
		sb.WriteString(fmt.Sprintf(" AND signal_type = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		sb.WriteString(fmt.Sprintf(" AND direction = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		sb.WriteString(fmt.Sprintf(" AND timestamp >= $%d", len(args)))
	}

	limit := ClampLimit(filter.Limit)
	args = append(args, limit)
	sb.WriteString(fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args)))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signals := make([]domain.Signal, 0, limit)
	for rows.Next() {
		var s domain.Signal
		var source, signalType, direction string
		var ts, priorTS, createdAt time.Time

		if err := rows.Scan(
			&s.ID,
			&s.MarketID,
			&source,
			&signalType,
			&ts,
			&priorTS,
			&direction,
			&s.PriorPrice,
			&s.NewPrice,
			&s.PriceChange,
			&s.PercentChange,
			&s.TimeWindowMinutes,
			&s.WindowSize,
			&s.Explanation,
			&createdAt,
		); err != nil {
			return nil, err
		}
		s.Source = domain.Source(source)
		s.SignalType = domain.SignalType(signalType)
		s.Direction = domain.SignalDirection(direction)
		s.Timestamp = ts.UTC()
		s.PriorTimestamp = priorTS.UTC()
		s.CreatedAt = createdAt.UTC()
		signals = append(signals, s)
	}

	return signals, rows.Err()
}

// ClampLimit applies the list default of 50 and cap of 200.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func signalMetadata(s domain.Signal) ([]byte, error) {
	meta := map[string]any{
		"absolute_change": abs(s.PriceChange),
	}
	if !s.PriorTimestamp.IsZero() {
		meta["prior_timestamp"] = s.PriorTimestamp.UTC().Format(time.RFC3339)
	}
	if s.WindowSize > 0 {
		meta["window_size"] = s.WindowSize
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode signal metadata: %w", err)
	}
	return b, nil
}

// platformIDs fills the platform-specific id column the dashboard joins on.
func platformIDs(s domain.Signal) (ticker, conditionID *string) {
	id := s.MarketID
	if s.Source == domain.SourceKalshi {
		return &id, nil
	}
	return nil, &id
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func execAll(ctx context.Context, pool PgxPool, statements []string) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}
