package tui

import (
	"context"
	"time"

	"prediction-pulse/internal/domain"
)

// SignalQuerier provides signal and price series data to the TUI.
type SignalQuerier interface {
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	Series(ctx context.Context, source domain.Source, marketID string, since time.Time, limit int) ([]domain.PricePoint, error)
}

// MarketQuerier lists the markets the collector is following.
type MarketQuerier interface {
	ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error)
}

// Services bundles all service dependencies injected into the TUI.
type Services struct {
	Signals  SignalQuerier
	Markets  MarketQuerier
	Username string
}
