package mcp

import (
	"context"
	"time"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/service"
)

// SignalBackend exposes signal listing, sweeping and ad-hoc detection.
type SignalBackend interface {
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	Sweep(ctx context.Context, opts service.SweepOptions) (*domain.SweepResult, error)
	DetectSeries(ctx context.Context, marketID string, source domain.Source, points []domain.PricePoint, persist bool) ([]domain.Signal, error)
	Series(ctx context.Context, source domain.Source, marketID string, since time.Time, limit int) ([]domain.PricePoint, error)
	Config() domain.SignalConfig
}

// MarketReader exposes the tracked market registry.
type MarketReader interface {
	ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error)
}
