package repository

import (
	"context"

	"prediction-pulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365
)

// SignalStatsRepository aggregates stored signals into daily activity counts.
type SignalStatsRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSignalStatsRepository(pool PgxPool, tracer trace.Tracer) *SignalStatsRepository {
	return &SignalStatsRepository{pool: pool, tracer: tracer}
}

// DailyCounts returns per-day, per-platform counts for the last days UTC days, newest first.
// An empty source covers both platforms.
func (r *SignalStatsRepository) DailyCounts(ctx context.Context, source domain.Source, days int) ([]domain.DailySignalCount, error) {
	_, span := r.tracer.Start(ctx, "signal-stats-repo.daily-counts")
	defer span.End()

	if days <= 0 {
		days = defaultStatsDays
	}
	days = min(days, maxStatsDays)

	rows, err := r.pool.Query(ctx,
		`SELECT date_trunc('day', timestamp AT TIME ZONE 'UTC') AS day,
		        source,
		        COUNT(*) FILTER (WHERE signal_type = 'alert')::INT AS alerts,
		        COUNT(*) FILTER (WHERE signal_type = 'trend')::INT AS trends,
		        COUNT(*) FILTER (WHERE direction = 'up')::INT AS up,
		        COUNT(*) FILTER (WHERE direction = 'down')::INT AS down
		 FROM market_signals
		 WHERE timestamp >= date_trunc('day', NOW() AT TIME ZONE 'UTC') - make_interval(days => $1 - 1)
		   AND ($2 = '' OR source = $2)
		 GROUP BY day, source
		 ORDER BY day DESC, source ASC`,
		days, string(source),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailySignalCount
	for rows.Next() {
		var d domain.DailySignalCount
		var src string
		if err := rows.Scan(&d.Day, &src, &d.Alerts, &d.Trends, &d.Up, &d.Down); err != nil {
			return nil, err
		}
		d.Day = d.Day.UTC()
		d.Source = domain.Source(src)
		out = append(out, d)
	}
	return out, rows.Err()
}
