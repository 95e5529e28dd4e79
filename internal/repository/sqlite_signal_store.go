package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteSignalStore is the file-backed signal store used for offline CSV detection.
// It enforces the same (market_id, timestamp, signal_type) key as market_signals.
type SQLiteSignalStore struct {
	db *sql.DB
}

func NewSQLiteSignalStore(path string) (*SQLiteSignalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a second connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	s := &SQLiteSignalStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("sqlite signal store opened: %s", path)
	return s, nil
}

func (s *SQLiteSignalStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_signals (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id           TEXT NOT NULL,
			source              TEXT NOT NULL CHECK (source IN ('polymarket', 'kalshi')),
			signal_type         TEXT NOT NULL CHECK (signal_type IN ('alert', 'trend')),
			timestamp           INTEGER NOT NULL,
			prior_timestamp     INTEGER,
			direction           TEXT NOT NULL CHECK (direction IN ('up', 'down')),
			prior_price         REAL NOT NULL,
			new_price           REAL NOT NULL,
			price_change        REAL NOT NULL,
			percent_change      REAL NOT NULL,
			time_window_minutes INTEGER NOT NULL DEFAULT 0,
			window_size         INTEGER NOT NULL DEFAULT 0,
			explanation         TEXT NOT NULL DEFAULT '',
			created_at          INTEGER NOT NULL,
			UNIQUE (market_id, timestamp, signal_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_signals_ts ON market_signals(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteSignalStore) UpsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error) {
	if len(signals) == 0 {
		return nil, nil
	}
	signals = domain.CollapseByKey(signals)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO market_signals (market_id, source, signal_type, timestamp, prior_timestamp, direction,
		     prior_price, new_price, price_change, percent_change, time_window_minutes, window_size,
		     explanation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (market_id, timestamp, signal_type) DO UPDATE SET
		     prior_timestamp = excluded.prior_timestamp,
		     direction = excluded.direction,
		     prior_price = excluded.prior_price,
		     new_price = excluded.new_price,
		     price_change = excluded.price_change,
		     percent_change = excluded.percent_change,
		     time_window_minutes = excluded.time_window_minutes,
		     window_size = excluded.window_size,
		     explanation = excluded.explanation
		 RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixNano()
	out := make([]domain.Signal, len(signals))
	copy(out, signals)
	for i, sig := range signals {
		var prior any
		if !sig.PriorTimestamp.IsZero() {
			prior = sig.PriorTimestamp.UTC().UnixNano()
		}
		if err := stmt.QueryRowContext(ctx,
			sig.MarketID, string(sig.Source), string(sig.SignalType), sig.Timestamp.UTC().UnixNano(), prior,
			string(sig.Direction), sig.PriorPrice, sig.NewPrice, sig.PriceChange, sig.PercentChange,
			sig.TimeWindowMinutes, sig.WindowSize, sig.Explanation, now,
		).Scan(&out[i].ID); err != nil {
			return nil, fmt.Errorf("upsert signal %s: %w", sig.MarketID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *SQLiteSignalStore) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	args := make([]any, 0, 6)
	var sb strings.Builder
	sb.WriteString(`SELECT id, market_id, source, signal_type, timestamp, COALESCE(prior_timestamp, timestamp),
		       direction, prior_price, new_price, price_change, percent_change,
		       time_window_minutes, window_size, explanation, created_at
		FROM market_signals WHERE 1=1`)
	if filter.MarketID != "" {
		sb.WriteString(" AND market_id = ?")
		args = append(args, filter.MarketID)
	}
	if filter.Source != "" {
		sb.WriteString(" AND source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.SignalType != "" {
		sb.WriteString(" AND signal_type = ?")
		args = append(args, string(filter.SignalType))
	}
	if filter.Direction != "" {
		sb.WriteString(" AND direction = ?")
		args = append(args, string(filter.Direction))
	}
	if !filter.Since.IsZero() {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	sb.WriteString(" ORDER BY timestamp DESC LIMIT ?")
	args = append(args, ClampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var source, signalType, direction string
		var ts, priorTS, createdAt int64
		if err := rows.Scan(&sig.ID, &sig.MarketID, &source, &signalType, &ts, &priorTS, &direction,
			&sig.PriorPrice, &sig.NewPrice, &sig.PriceChange, &sig.PercentChange,
			&sig.TimeWindowMinutes, &sig.WindowSize, &sig.Explanation, &createdAt); err != nil {
			return nil, err
		}
		sig.Source = domain.Source(source)
		sig.SignalType = domain.SignalType(signalType)
		sig.Direction = domain.SignalDirection(direction)
		sig.Timestamp = time.Unix(0, ts).UTC()
		sig.PriorTimestamp = time.Unix(0, priorTS).UTC()
		sig.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SQLiteSignalStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_signals`).Scan(&n)
	return n, err
}

func (s *SQLiteSignalStore) Close() error {
	log.Println("closing sqlite signal store")
	return s.db.Close()
}
