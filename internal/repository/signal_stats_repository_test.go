package repository

import (
	"context"
	"testing"
	"time"

	"prediction-pulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

func TestSignalStatsDailyCounts(t *testing.T) {
	day := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	pool := &stubPool{rowsData: [][]any{
		{day, "kalshi", 3, 1, 2, 2},
		{day.AddDate(0, 0, -1), "polymarket", 0, 2, 2, 0},
	}}
	repo := NewSignalStatsRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	counts, err := repo.DailyCounts(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(counts))
	}
	if counts[0].Source != domain.SourceKalshi || counts[0].Alerts != 3 || counts[0].Down != 2 {
		t.Fatalf("unexpected first row: %+v", counts[0])
	}
	if pool.queryArgs[0] != defaultStatsDays || pool.queryArgs[1] != "" {
		t.Fatalf("unexpected args: %v", pool.queryArgs)
	}
}

func TestSignalStatsClampsDays(t *testing.T) {
	pool := &stubPool{}
	repo := NewSignalStatsRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	if _, err := repo.DailyCounts(context.Background(), domain.SourcePolymarket, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.queryArgs[0] != maxStatsDays || pool.queryArgs[1] != "polymarket" {
		t.Fatalf("unexpected args: %v", pool.queryArgs)
	}
}
