package repository

import (
	"context"
	"errors"
	"time"

	"prediction-pulse/internal/chart"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

var chartImageSchema = []string{
	`CREATE TABLE IF NOT EXISTS chart_images (
		cache_key TEXT PRIMARY KEY,
		mime_type TEXT NOT NULL,
		image_bytes BYTEA NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		rendered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chart_images_expires ON chart_images (expires_at)`,
}

// ChartImageRepository caches rendered market charts until they expire.
type ChartImageRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewChartImageRepository(pool PgxPool, tracer trace.Tracer) *ChartImageRepository {
	return &ChartImageRepository{pool: pool, tracer: tracer}
}

func (r *ChartImageRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "chart-image-repo.run-migrations")
	defer span.End()
	return execAll(ctx, r.pool, chartImageSchema)
}

func (r *ChartImageRepository) PutChart(ctx context.Context, key string, img *chart.Image, expiresAt time.Time) error {
	_, span := r.tracer.Start(ctx, "chart-image-repo.put")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO chart_images (cache_key, mime_type, image_bytes, width, height, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cache_key) DO UPDATE SET
		     mime_type = excluded.mime_type,
		     image_bytes = excluded.image_bytes,
		     width = excluded.width,
		     height = excluded.height,
		     rendered_at = NOW(),
		     expires_at = excluded.expires_at`,
		key, img.MimeType, img.Bytes, img.Width, img.Height, expiresAt.UTC(),
	)
	return err
}

// GetChart returns the cached image for key, or nil when it is missing or expired.
func (r *ChartImageRepository) GetChart(ctx context.Context, key string) (*chart.Image, error) {
	_, span := r.tracer.Start(ctx, "chart-image-repo.get")
	defer span.End()

	var img chart.Image
	err := r.pool.QueryRow(ctx,
		`SELECT mime_type, image_bytes, width, height
		 FROM chart_images
		 WHERE cache_key = $1 AND expires_at > NOW()`,
		key,
	).Scan(&img.MimeType, &img.Bytes, &img.Width, &img.Height)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (r *ChartImageRepository) DeleteExpiredCharts(ctx context.Context) (int64, error) {
	_, span := r.tracer.Start(ctx, "chart-image-repo.delete-expired")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM chart_images WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
