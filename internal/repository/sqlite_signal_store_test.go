package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"prediction-pulse/internal/domain"
)

func newMemoryStore(t *testing.T) *SQLiteSignalStore {
	t.Helper()
	store, err := NewSQLiteSignalStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 12, 30, 15, 123456789, time.UTC)
	in := domain.Signal{
		MarketID:          "0xabc",
		Source:            domain.SourcePolymarket,
		SignalType:        domain.SignalTypeTrend,
		Timestamp:         ts,
		PriorTimestamp:    ts.Add(-10 * time.Minute),
		PriorPrice:        0.3,
		NewPrice:          0.45,
		PriceChange:       0.15,
		PercentChange:     0.5,
		Direction:         domain.DirectionUp,
		WindowSize:        10,
		TimeWindowMinutes: 10,
	}
	if _, err := store.UpsertSignals(ctx, []domain.Signal{in}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	out, err := store.ListSignals(ctx, domain.SignalFilter{MarketID: "0xabc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(out))
	}
	got := out[0]
	if got.MarketID != in.MarketID || !got.Timestamp.Equal(in.Timestamp) || got.SignalType != in.SignalType {
		t.Fatalf("key fields changed: %+v", got)
	}
	if got.Direction != in.Direction || math.Abs(got.PercentChange-in.PercentChange) > 1e-12 {
		t.Fatalf("value fields changed: %+v", got)
	}
	if !got.PriorTimestamp.Equal(in.PriorTimestamp) || got.WindowSize != 10 {
		t.Fatalf("trend fields changed: %+v", got)
	}
}

func TestSQLiteStoreUpsertIsIdempotent(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	s := domain.Signal{
		MarketID:      "KXA",
		Source:        domain.SourceKalshi,
		SignalType:    domain.SignalTypeAlert,
		Timestamp:     time.Unix(600, 0).UTC(),
		Direction:     domain.DirectionDown,
		PriorPrice:    0.5,
		NewPrice:      0.4,
		PriceChange:   -0.1,
		PercentChange: -0.2,
	}
	first, err := store.UpsertSignals(ctx, []domain.Signal{s})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	s.Explanation = "re-detected"
	second, err := store.UpsertSignals(ctx, []domain.Signal{s})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("expected same row id, got %d and %d", first[0].ID, second[0].ID)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one row, got %d err=%v", n, err)
	}

	s.SignalType = domain.SignalTypeTrend
	if _, err := store.UpsertSignals(ctx, []domain.Signal{s}); err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Fatalf("expected a distinct signal type to add a row, got %d", n)
	}
}

func TestSQLiteStoreCollapsesSameKeyInBatch(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)
	up := domain.Signal{
		MarketID: "m", Source: domain.SourcePolymarket, SignalType: domain.SignalTypeAlert,
		Timestamp: ts, PriorPrice: 0.4, NewPrice: 0.5, PriceChange: 0.1, PercentChange: 0.25,
		Direction: domain.DirectionUp,
	}
	down := domain.Signal{
		MarketID: "m", Source: domain.SourcePolymarket, SignalType: domain.SignalTypeAlert,
		Timestamp: ts, PriorPrice: 0.5, NewPrice: 0.35, PriceChange: -0.15, PercentChange: -0.3,
		Direction: domain.DirectionDown,
	}

	stored, err := store.UpsertSignals(ctx, []domain.Signal{up, down})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(stored) != 1 || stored[0].Direction != domain.DirectionDown {
		t.Fatalf("expected the larger move as the only stored row, got %+v", stored)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(stored) {
		t.Fatalf("reported %d stored, table has %d", len(stored), n)
	}
}

func TestSQLiteStoreFilters(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	base := time.Unix(0, 0).UTC()
	var batch []domain.Signal
	for i := 0; i < 3; i++ {
		dir := domain.DirectionUp
		if i == 2 {
			dir = domain.DirectionDown
		}
		batch = append(batch, domain.Signal{
			MarketID:   "m",
			Source:     domain.SourcePolymarket,
			SignalType: domain.SignalTypeAlert,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Direction:  dir,
		})
	}
	if _, err := store.UpsertSignals(ctx, batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	out, err := store.ListSignals(ctx, domain.SignalFilter{Direction: domain.DirectionUp, Since: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || !out[0].Timestamp.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected filtered signals: %+v", out)
	}
}
