package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/provider"

	"go.opentelemetry.io/otel/trace"
)

type TrackingMarketRepository interface {
	UpsertEvent(ctx context.Context, e domain.MarketEvent) error
	UpsertMarkets(ctx context.Context, markets []domain.TrackedMarket) error
	ListMarkets(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error)
	DeactivateEvent(ctx context.Context, source domain.Source, slug string) (int64, error)
}

type PolymarketEventAPI interface {
	EventBySlug(ctx context.Context, slug string) (*provider.GammaEvent, error)
}

type KalshiMarketAPI interface {
	Market(ctx context.Context, ticker string) (*provider.KalshiMarket, error)
	Event(ctx context.Context, eventTicker string) (*provider.KalshiEvent, []provider.KalshiMarket, error)
}

type TrackingService struct {
	tracer     trace.Tracer
	markets    TrackingMarketRepository
	polymarket PolymarketEventAPI
	kalshi     KalshiMarketAPI
}

func NewTrackingService(
	tracer trace.Tracer,
	markets TrackingMarketRepository,
	polymarket PolymarketEventAPI,
	kalshi KalshiMarketAPI,
) *TrackingService {
	return &TrackingService{tracer: tracer, markets: markets, polymarket: polymarket, kalshi: kalshi}
}

// Track dispatches to the platform-specific tracking call. ref may be a slug, ticker or URL.
func (s *TrackingService) Track(ctx context.Context, source domain.Source, ref string) ([]domain.TrackedMarket, error) {
	switch source {
	case domain.SourcePolymarket:
		return s.TrackPolymarketEvent(ctx, ref)
	case domain.SourceKalshi:
		return s.TrackKalshi(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}
}

// TrackPolymarketEvent registers every market of a Gamma event.
func (s *TrackingService) TrackPolymarketEvent(ctx context.Context, slugOrURL string) ([]domain.TrackedMarket, error) {
	ctx, span := s.tracer.Start(ctx, "tracking-service.track-polymarket-event")
	defer span.End()

	if s.markets == nil || s.polymarket == nil {
		return nil, fmt.Errorf("tracking service is not fully initialized")
	}
	slug := provider.PolymarketSlugFromURL(slugOrURL)
	if slug == "" {
		return nil, fmt.Errorf("event slug is required")
	}

	event, err := s.polymarket.EventBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("fetch polymarket event %s: %w", slug, err)
	}
	if len(event.Markets) == 0 {
		return nil, fmt.Errorf("polymarket event %s has no markets", slug)
	}

	eventType := domain.EventTypeSingle
	if len(event.Markets) > 1 {
		eventType = domain.EventTypeMultiOutcome
	}
	if err := s.markets.UpsertEvent(ctx, domain.MarketEvent{
		Source:    domain.SourcePolymarket,
		Slug:      event.Slug,
		Title:     event.Title,
		Category:  event.Category,
		EventType: eventType,
		Closed:    event.Closed,
		Active:    event.Active && !event.Closed,
	}); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	tracked := make([]domain.TrackedMarket, 0, len(event.Markets))
	for _, m := range event.Markets {
		if m.ConditionID == "" {
			continue
		}
		label := m.GroupItemTitle
		if label == "" && len(m.Outcomes) > 0 {
			label = m.Outcomes[0]
		}
		tracked = append(tracked, domain.TrackedMarket{
			Source:       domain.SourcePolymarket,
			MarketID:     m.ConditionID,
			Slug:         m.Slug,
			Title:        m.Question,
			EventSlug:    event.Slug,
			TokenID:      m.YesToken(),
			OutcomeLabel: label,
			Active:       m.Active && !m.Closed,
		})
	}
	if err := s.markets.UpsertMarkets(ctx, tracked); err != nil {
		return nil, fmt.Errorf("store markets: %w", err)
	}
	log.Printf("tracking polymarket event %s: %d markets (%s)", event.Slug, len(tracked), eventType)
	return tracked, nil
}

// TrackKalshi accepts a market ticker or an event ticker. A market ticker is tried first.
func (s *TrackingService) TrackKalshi(ctx context.Context, tickerOrURL string) ([]domain.TrackedMarket, error) {
	ctx, span := s.tracer.Start(ctx, "tracking-service.track-kalshi")
	defer span.End()

	if s.markets == nil || s.kalshi == nil {
		return nil, fmt.Errorf("tracking service is not fully initialized")
	}
	ticker := provider.KalshiTickerFromURL(tickerOrURL)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	var (
		eventTicker string
		eventTitle  string
		category    string
		markets     []provider.KalshiMarket
	)
	market, err := s.kalshi.Market(ctx, ticker)
	switch {
	case err == nil:
		eventTicker = market.EventTicker
		category = market.Category
		markets = []provider.KalshiMarket{*market}
	case errors.Is(err, provider.ErrNotFound):
		event, eventMarkets, evErr := s.kalshi.Event(ctx, ticker)
		if evErr != nil {
			return nil, fmt.Errorf("kalshi ticker %s is neither a market nor an event: %w", ticker, evErr)
		}
		eventTicker = event.EventTicker
		eventTitle = event.Title
		category = event.Category
		markets = eventMarkets
	default:
		return nil, fmt.Errorf("fetch kalshi market %s: %w", ticker, err)
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("kalshi event %s has no markets", ticker)
	}
	if eventTicker == "" {
		eventTicker = ticker
	}
	if eventTitle == "" {
		eventTitle = markets[0].Title
	}

	eventType := domain.EventTypeSingle
	if len(markets) > 1 {
		eventType = domain.EventTypeMultiOutcome
	}
	if err := s.markets.UpsertEvent(ctx, domain.MarketEvent{
		Source:    domain.SourceKalshi,
		Slug:      eventTicker,
		Title:     eventTitle,
		Category:  category,
		EventType: eventType,
		Active:    true,
	}); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	series := provider.SeriesTicker(eventTicker)
	tracked := make([]domain.TrackedMarket, 0, len(markets))
	for _, m := range markets {
		tracked = append(tracked, domain.TrackedMarket{
			Source:       domain.SourceKalshi,
			MarketID:     m.Ticker,
			Slug:         m.Ticker,
			Title:        m.Title,
			EventSlug:    eventTicker,
			SeriesTicker: series,
			OutcomeLabel: strings.TrimSpace(m.YesSubTitle),
			Active:       m.Active(),
		})
	}
	if err := s.markets.UpsertMarkets(ctx, tracked); err != nil {
		return nil, fmt.Errorf("store markets: %w", err)
	}
	log.Printf("tracking kalshi %s: %d markets", eventTicker, len(tracked))
	return tracked, nil
}

// Untrack deactivates an event and all of its markets. Stored prices and signals are kept.
func (s *TrackingService) Untrack(ctx context.Context, source domain.Source, slug string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "tracking-service.untrack")
	defer span.End()

	if s.markets == nil {
		return 0, fmt.Errorf("tracking service is not fully initialized")
	}
	if !source.IsValid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return 0, fmt.Errorf("slug is required")
	}
	if source == domain.SourceKalshi {
		slug = strings.ToUpper(slug)
	}
	return s.markets.DeactivateEvent(ctx, source, slug)
}

// ListTracked returns tracked markets; an empty source lists both platforms.
func (s *TrackingService) ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error) {
	ctx, span := s.tracer.Start(ctx, "tracking-service.list-tracked")
	defer span.End()

	if s.markets == nil {
		return nil, fmt.Errorf("tracking service is not fully initialized")
	}
	if source != "" && !source.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}
	return s.markets.ListMarkets(ctx, source, activeOnly)
}
