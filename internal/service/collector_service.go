package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/provider"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCollectLookback = 12 * time.Hour
	kalshiUpToDateWindow   = 2 * time.Minute
	resumeGap              = time.Minute
)

type CollectorPriceRepository interface {
	UpsertPolymarketPrices(ctx context.Context, conditionID, tokenID string, points []domain.PricePoint) (int, error)
	UpsertKalshiCandles(ctx context.Context, candles []domain.KalshiCandle) (int, error)
	LastPolymarketTimestamp(ctx context.Context, tokenID string) (time.Time, bool, error)
	LastKalshiTimestamp(ctx context.Context, ticker string) (time.Time, bool, error)
}

type CollectorMarketRepository interface {
	ListActiveMarkets(ctx context.Context, source domain.Source) ([]domain.TrackedMarket, error)
	InsertSnapshot(ctx context.Context, s domain.MarketSnapshot) error
}

type PolymarketPriceAPI interface {
	MarketBySlug(ctx context.Context, slug string) (*provider.GammaMarket, error)
	PriceHistory(ctx context.Context, tokenID string, start, end time.Time) ([]domain.PricePoint, error)
}

type KalshiPriceAPI interface {
	Candlesticks(ctx context.Context, seriesTicker, ticker string, start, end time.Time) ([]domain.KalshiCandle, error)
}

// CursorStore caches the newest collected timestamp per market.
type CursorStore interface {
	Get(ctx context.Context, source domain.Source, marketID string) (time.Time, bool, error)
	Advance(ctx context.Context, source domain.Source, marketID string, ts time.Time) error
}

type CollectorService struct {
	tracer     trace.Tracer
	prices     CollectorPriceRepository
	markets    CollectorMarketRepository
	polymarket PolymarketPriceAPI
	kalshi     KalshiPriceAPI
	cursors    CursorStore
	lookback   time.Duration
	now        func() time.Time

	tokenMu sync.RWMutex
	tokens  map[string]string
}

func NewCollectorService(
	tracer trace.Tracer,
	prices CollectorPriceRepository,
	markets CollectorMarketRepository,
	polymarket PolymarketPriceAPI,
	kalshi KalshiPriceAPI,
	cursors CursorStore,
) *CollectorService {
	return &CollectorService{
		tracer:     tracer,
		prices:     prices,
		markets:    markets,
		polymarket: polymarket,
		kalshi:     kalshi,
		cursors:    cursors,
		lookback:   defaultCollectLookback,
		now:        time.Now,
		tokens:     make(map[string]string),
	}
}

// SetLookback sets how far back a market without stored prices is collected from.
func (s *CollectorService) SetLookback(d time.Duration) {
	if d > 0 {
		s.lookback = d
	}
}

// CollectSnapshots stores a Gamma metadata snapshot for every active Polymarket market.
func (s *CollectorService) CollectSnapshots(ctx context.Context) (*domain.CollectResult, error) {
	ctx, span := s.tracer.Start(ctx, "collector-service.collect-snapshots")
	defer span.End()

	if s.markets == nil || s.polymarket == nil {
		return nil, fmt.Errorf("collector service is not fully initialized")
	}
	markets, err := s.markets.ListActiveMarkets(ctx, domain.SourcePolymarket)
	if err != nil {
		return nil, fmt.Errorf("list active polymarket markets: %w", err)
	}

	result := &domain.CollectResult{Source: domain.SourcePolymarket, MarketsProcessed: len(markets)}
	started := s.now()
	for _, m := range markets {
		res := domain.MarketCollectResult{MarketID: m.MarketID, Slug: m.Slug}
		gm, err := s.polymarket.MarketBySlug(ctx, m.Slug)
		if err == nil {
			err = s.markets.InsertSnapshot(ctx, gm.Snapshot(s.now()))
		}
		if err != nil {
			log.Printf("snapshot %s failed: %v", m.Slug, err)
			res.Status = domain.CollectStatusError
			res.Error = err.Error()
		} else {
			res.Status = domain.CollectStatusSuccess
			res.RecordsAdded = 1
			result.RecordsAdded++
		}
		result.Results = append(result.Results, res)
	}
	result.Duration = s.now().Sub(started)
	return result, nil
}

// CollectPolymarketPrices fetches new CLOB price history for every active Polymarket
// market, resuming one minute after the newest stored point.
func (s *CollectorService) CollectPolymarketPrices(ctx context.Context) (*domain.CollectResult, error) {
	ctx, span := s.tracer.Start(ctx, "collector-service.collect-polymarket-prices")
	defer span.End()

	if s.prices == nil || s.markets == nil || s.polymarket == nil {
		return nil, fmt.Errorf("collector service is not fully initialized")
	}
	markets, err := s.markets.ListActiveMarkets(ctx, domain.SourcePolymarket)
	if err != nil {
		return nil, fmt.Errorf("list active polymarket markets: %w", err)
	}

	result := &domain.CollectResult{Source: domain.SourcePolymarket, MarketsProcessed: len(markets)}
	started := s.now()
	for _, m := range markets {
		res := s.collectPolymarketMarket(ctx, m)
		result.RecordsAdded += res.RecordsAdded
		result.Results = append(result.Results, res)
	}
	result.Duration = s.now().Sub(started)
	span.SetAttributes(attribute.Int("records", result.RecordsAdded))
	log.Printf("polymarket collection: markets=%d records=%d", result.MarketsProcessed, result.RecordsAdded)
	return result, nil
}

func (s *CollectorService) collectPolymarketMarket(ctx context.Context, m domain.TrackedMarket) domain.MarketCollectResult {
	res := domain.MarketCollectResult{MarketID: m.MarketID, Slug: m.Slug}
	if m.TokenID == "" {
		return failed(res, fmt.Errorf("market has no clob token id"))
	}

	end := s.now().UTC()
	start, err := s.resumeFrom(ctx, domain.SourcePolymarket, m.MarketID, end, func(ctx context.Context) (time.Time, bool, error) {
		return s.prices.LastPolymarketTimestamp(ctx, m.TokenID)
	})
	if err != nil {
		return failed(res, err)
	}
	if !end.After(start) {
		res.Status = domain.CollectStatusUpToDate
		return res
	}

	points, err := s.polymarket.PriceHistory(ctx, m.TokenID, start, end)
	if err != nil {
		return failed(res, fmt.Errorf("fetch price history: %w", err))
	}
	if len(points) == 0 {
		res.Status = domain.CollectStatusNoData
		return res
	}
	n, err := s.prices.UpsertPolymarketPrices(ctx, m.MarketID, m.TokenID, points)
	if err != nil {
		return failed(res, fmt.Errorf("store prices: %w", err))
	}
	s.advance(ctx, domain.SourcePolymarket, m.MarketID, points[len(points)-1].Timestamp)
	res.Status = domain.CollectStatusSuccess
	res.RecordsAdded = n
	return res
}

// CollectKalshiPrices fetches new one-minute candlesticks for every active Kalshi market.
func (s *CollectorService) CollectKalshiPrices(ctx context.Context) (*domain.CollectResult, error) {
	ctx, span := s.tracer.Start(ctx, "collector-service.collect-kalshi-prices")
	defer span.End()

	if s.prices == nil || s.markets == nil || s.kalshi == nil {
		return nil, fmt.Errorf("collector service is not fully initialized")
	}
	markets, err := s.markets.ListActiveMarkets(ctx, domain.SourceKalshi)
	if err != nil {
		return nil, fmt.Errorf("list active kalshi markets: %w", err)
	}

	result := &domain.CollectResult{Source: domain.SourceKalshi, MarketsProcessed: len(markets)}
	started := s.now()
	for _, m := range markets {
		res := s.collectKalshiMarket(ctx, m)
		result.RecordsAdded += res.RecordsAdded
		result.Results = append(result.Results, res)
	}
	result.Duration = s.now().Sub(started)
	span.SetAttributes(attribute.Int("records", result.RecordsAdded))
	log.Printf("kalshi collection: markets=%d records=%d", result.MarketsProcessed, result.RecordsAdded)
	return result, nil
}

func (s *CollectorService) collectKalshiMarket(ctx context.Context, m domain.TrackedMarket) domain.MarketCollectResult {
	res := domain.MarketCollectResult{MarketID: m.MarketID, Slug: m.Slug}

	end := s.now().UTC()
	start, err := s.resumeFrom(ctx, domain.SourceKalshi, m.MarketID, end, func(ctx context.Context) (time.Time, bool, error) {
		return s.prices.LastKalshiTimestamp(ctx, m.MarketID)
	})
	if err != nil {
		return failed(res, err)
	}
	if end.Sub(start) < kalshiUpToDateWindow {
		res.Status = domain.CollectStatusUpToDate
		return res
	}

	candles, err := s.kalshi.Candlesticks(ctx, m.SeriesTicker, m.MarketID, start, end)
	if err != nil {
		return failed(res, fmt.Errorf("fetch candlesticks: %w", err))
	}
	if len(candles) == 0 {
		res.Status = domain.CollectStatusNoData
		return res
	}
	n, err := s.prices.UpsertKalshiCandles(ctx, candles)
	if err != nil {
		return failed(res, fmt.Errorf("store candles: %w", err))
	}
	newest := candles[0].EndPeriod
	for _, c := range candles[1:] {
		if c.EndPeriod.After(newest) {
			newest = c.EndPeriod
		}
	}
	s.advance(ctx, domain.SourceKalshi, m.MarketID, newest)
	res.Status = domain.CollectStatusSuccess
	res.RecordsAdded = n
	return res
}

// CollectAll runs price collection for both platforms. A platform that fails is
// reported in its result rather than aborting the other.
func (s *CollectorService) CollectAll(ctx context.Context) (*domain.CollectAllResult, error) {
	ctx, span := s.tracer.Start(ctx, "collector-service.collect-all")
	defer span.End()

	out := &domain.CollectAllResult{Timestamp: s.now().UTC()}

	poly, err := s.CollectPolymarketPrices(ctx)
	if err != nil {
		log.Printf("polymarket collection failed: %v", err)
		out.Polymarket = domain.CollectResult{Source: domain.SourcePolymarket, Error: err.Error()}
	} else {
		out.Polymarket = *poly
	}

	kalshi, err := s.CollectKalshiPrices(ctx)
	if err != nil {
		log.Printf("kalshi collection failed: %v", err)
		out.Kalshi = domain.CollectResult{Source: domain.SourceKalshi, Error: err.Error()}
	} else {
		out.Kalshi = *kalshi
	}

	out.TotalRecords = out.Polymarket.RecordsAdded + out.Kalshi.RecordsAdded
	return out, nil
}

// StreamTokens returns the CLOB token ids of active Polymarket markets and remembers
// which market each one prices.
func (s *CollectorService) StreamTokens(ctx context.Context) ([]string, error) {
	if s.markets == nil {
		return nil, fmt.Errorf("collector service is not fully initialized")
	}
	markets, err := s.markets.ListActiveMarkets(ctx, domain.SourcePolymarket)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(markets))
	tokens := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.TokenID == "" {
			continue
		}
		index[m.TokenID] = m.MarketID
		tokens = append(tokens, m.TokenID)
	}
	s.tokenMu.Lock()
	s.tokens = index
	s.tokenMu.Unlock()
	return tokens, nil
}

// RecordStreamPrice stores one live price. Prices for unknown tokens are dropped.
func (s *CollectorService) RecordStreamPrice(ctx context.Context, p provider.StreamPrice) error {
	s.tokenMu.RLock()
	marketID, ok := s.tokens[p.TokenID]
	s.tokenMu.RUnlock()
	if !ok {
		return nil
	}
	if _, err := s.prices.UpsertPolymarketPrices(ctx, marketID, p.TokenID, []domain.PricePoint{p.Point}); err != nil {
		return fmt.Errorf("store stream price: %w", err)
	}
	s.advance(ctx, domain.SourcePolymarket, marketID, p.Point.Timestamp)
	return nil
}

func (s *CollectorService) resumeFrom(
	ctx context.Context,
	source domain.Source,
	marketID string,
	now time.Time,
	stored func(context.Context) (time.Time, bool, error),
) (time.Time, error) {
	if s.cursors != nil {
		last, ok, err := s.cursors.Get(ctx, source, marketID)
		if err != nil {
			log.Printf("cursor lookup %s/%s: %v", source, marketID, err)
		} else if ok {
			return last.Add(resumeGap), nil
		}
	}
	last, ok, err := stored(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("last stored timestamp: %w", err)
	}
	if !ok {
		return now.Add(-s.lookback), nil
	}
	return last.Add(resumeGap), nil
}

func (s *CollectorService) advance(ctx context.Context, source domain.Source, marketID string, ts time.Time) {
	if s.cursors == nil {
		return
	}
	if err := s.cursors.Advance(ctx, source, marketID, ts); err != nil {
		log.Printf("cursor advance %s/%s: %v", source, marketID, err)
	}
}

func failed(res domain.MarketCollectResult, err error) domain.MarketCollectResult {
	log.Printf("collect %s failed: %v", res.MarketID, err)
	res.Status = domain.CollectStatusError
	res.Error = err.Error()
	return res
}
