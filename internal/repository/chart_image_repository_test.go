package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"prediction-pulse/internal/chart"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

func TestChartImagePutUpserts(t *testing.T) {
	pool := &stubPool{}
	repo := NewChartImageRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	img := &chart.Image{MimeType: "image/png", Width: 960, Height: 480, Bytes: []byte{0x89, 0x50}}
	exp := time.Date(2025, 11, 3, 12, 5, 0, 0, time.UTC)
	if err := repo.PutChart(context.Background(), "kalshi/KXFED/24", img, exp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pool.execSQL) != 1 || !strings.Contains(pool.execSQL[0], "ON CONFLICT (cache_key)") {
		t.Fatalf("unexpected statements: %v", pool.execSQL)
	}
	args := pool.execArgs[0]
	if args[0] != "kalshi/KXFED/24" || args[3] != 960 || !args[5].(time.Time).Equal(exp) {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestChartImageGetHitAndMiss(t *testing.T) {
	pool := &stubPool{rowData: []any{"image/png", []byte{1, 2, 3}, 960, 480}}
	repo := NewChartImageRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	img, err := repo.GetChart(context.Background(), "polymarket/0xabc/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img == nil || img.Width != 960 || len(img.Bytes) != 3 {
		t.Fatalf("unexpected image: %+v", img)
	}
	if !strings.Contains(pool.querySQL, "expires_at > NOW()") {
		t.Fatalf("expected expiry filter, got %s", pool.querySQL)
	}

	miss := NewChartImageRepository(&stubPool{}, trace.NewNoopTracerProvider().Tracer("test"))
	img, err = miss.GetChart(context.Background(), "polymarket/0xabc/24")
	if err != nil || img != nil {
		t.Fatalf("expected cache miss, got %+v err=%v", img, err)
	}
}

func TestChartImageDeleteExpired(t *testing.T) {
	pool := &stubPool{execTag: pgconn.NewCommandTag("DELETE 4")}
	repo := NewChartImageRepository(pool, trace.NewNoopTracerProvider().Tracer("test"))

	n, err := repo.DeleteExpiredCharts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 deleted, got %d", n)
	}
}
