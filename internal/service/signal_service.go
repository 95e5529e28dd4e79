package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSweepLookbackHours = 24
	fallbackSeriesLimit       = 10000
	recentKalshiWindow        = 7 * 24 * time.Hour
	defaultSignalLimit        = 50
	maxSignalLimit            = 200
)

type SignalPriceRepository interface {
	PolymarketSeries(ctx context.Context, conditionID string, since time.Time, limit int) ([]domain.PricePoint, error)
	KalshiSeries(ctx context.Context, ticker string, since time.Time, limit int) ([]domain.PricePoint, error)
	RecentKalshiTickers(ctx context.Context, since time.Time) ([]string, error)
}

type SignalMarketRepository interface {
	ListActiveMarkets(ctx context.Context, source domain.Source) ([]domain.TrackedMarket, error)
}

type SignalRepository interface {
	UpsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error)
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type SignalDetector interface {
	Detect(marketID string, source domain.Source, points []domain.PricePoint) []domain.Signal
	Config() domain.SignalConfig
}

// SignalNotifier receives signals right after they are stored.
type SignalNotifier interface {
	NotifySignals(ctx context.Context, signals []domain.Signal)
}

type SweepOptions struct {
	LookbackHours   int
	UseAllAvailable bool
}

type sweepTarget struct {
	source   domain.Source
	marketID string
}

type SignalService struct {
	tracer      trace.Tracer
	prices      SignalPriceRepository
	markets     SignalMarketRepository
	signals     SignalRepository
	detector    SignalDetector
	notifier    SignalNotifier
	concurrency int
	now         func() time.Time
	newRunID    func() string
}

func NewSignalService(
	tracer trace.Tracer,
	prices SignalPriceRepository,
	markets SignalMarketRepository,
	signals SignalRepository,
	detector SignalDetector,
) *SignalService {
	return &SignalService{
		tracer:      tracer,
		prices:      prices,
		markets:     markets,
		signals:     signals,
		detector:    detector,
		concurrency: 1,
		now:         time.Now,
		newRunID:    func() string { return uuid.NewString() },
	}
}

func (s *SignalService) SetNotifier(n SignalNotifier) {
	s.notifier = n
}

// SetConcurrency bounds how many markets a sweep processes at once.
func (s *SignalService) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.concurrency = n
}

func (s *SignalService) Config() domain.SignalConfig {
	if s.detector == nil {
		return domain.DefaultSignalConfig()
	}
	return s.detector.Config()
}

// Sweep runs detection over every active market of both platforms and stores the
// combined batch with one idempotent upsert. A market that fails is logged, counted
// and skipped.
func (s *SignalService) Sweep(ctx context.Context, opts SweepOptions) (*domain.SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.sweep")
	defer span.End()

	if s.prices == nil || s.markets == nil || s.signals == nil || s.detector == nil {
		return nil, fmt.Errorf("signal service is not fully initialized")
	}
	if opts.LookbackHours <= 0 {
		opts.LookbackHours = defaultSweepLookbackHours
	}

	now := s.now().UTC()
	result := &domain.SweepResult{
		RunID:     s.newRunID(),
		Status:    "success",
		Stats:     make(map[domain.Source]domain.PlatformStats, len(domain.SupportedSources)),
		Timestamp: now,
	}
	for _, src := range domain.SupportedSources {
		result.Stats[src] = domain.PlatformStats{}
	}

	targets := s.sweepTargets(ctx, now)
	since := now.Add(-time.Duration(opts.LookbackHours) * time.Hour)
	span.SetAttributes(attribute.Int("markets", len(targets)), attribute.String("run_id", result.RunID))
	log.Printf("sweep started: run=%s markets=%d lookback=%dh", result.RunID, len(targets), opts.LookbackHours)

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		batch []domain.Signal
		sem   = make(chan struct{}, s.concurrency)
	)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(target sweepTarget) {
			defer wg.Done()
			defer func() { <-sem }()

			detected, err := s.detectMarket(ctx, target, since, opts.UseAllAvailable)

			mu.Lock()
			defer mu.Unlock()
			stats := result.Stats[target.source]
			stats.Markets++
			if err != nil {
				log.Printf("sweep: %s market %s failed: %v", target.source, target.marketID, err)
				stats.Failed++
				result.Stats[target.source] = stats
				return
			}
			for _, sig := range detected {
				if sig.SignalType == domain.SignalTypeTrend {
					stats.Trends++
				} else {
					stats.Alerts++
				}
			}
			result.Stats[target.source] = stats
			batch = append(batch, detected...)
		}(target)
	}
	wg.Wait()

	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].Timestamp.Equal(batch[j].Timestamp) {
			return batch[i].Timestamp.Before(batch[j].Timestamp)
		}
		return batch[i].MarketID < batch[j].MarketID
	})
	result.TotalDetected = len(batch)

	if len(batch) > 0 {
		stored, err := s.signals.UpsertSignals(ctx, domain.CollapseByKey(batch))
		if err != nil {
			result.Status = "error"
			return result, fmt.Errorf("upsert signals: %w", err)
		}
		result.TotalStored = len(stored)
		result.Signals = stored
		if s.notifier != nil && len(stored) > 0 {
			s.notifier.NotifySignals(ctx, stored)
		}
	}

	log.Printf("sweep complete: run=%s detected=%d stored=%d", result.RunID, result.TotalDetected, result.TotalStored)
	return result, nil
}

func (s *SignalService) sweepTargets(ctx context.Context, now time.Time) []sweepTarget {
	var targets []sweepTarget
	seen := make(map[sweepTarget]struct{})
	add := func(src domain.Source, id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		t := sweepTarget{source: src, marketID: id}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}

	for _, src := range domain.SupportedSources {
		markets, err := s.markets.ListActiveMarkets(ctx, src)
		if err != nil {
			log.Printf("sweep: list active %s markets: %v", src, err)
			continue
		}
		for _, m := range markets {
			add(src, m.MarketID)
		}
	}

	tickers, err := s.prices.RecentKalshiTickers(ctx, now.Add(-recentKalshiWindow))
	if err != nil {
		log.Printf("sweep: list recent kalshi tickers: %v", err)
	}
	for _, t := range tickers {
		add(domain.SourceKalshi, t)
	}
	return targets
}

func (s *SignalService) detectMarket(ctx context.Context, target sweepTarget, since time.Time, useAll bool) ([]domain.Signal, error) {
	points, err := s.Series(ctx, target.source, target.marketID, since, 0)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 && useAll {
		points, err = s.Series(ctx, target.source, target.marketID, time.Time{}, fallbackSeriesLimit)
		if err != nil {
			return nil, err
		}
	}
	if len(points) < 2 {
		return nil, nil
	}
	return s.detector.Detect(target.marketID, target.source, points), nil
}

// Series returns the stored price series of one market in ascending order.
func (s *SignalService) Series(ctx context.Context, source domain.Source, marketID string, since time.Time, limit int) ([]domain.PricePoint, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.series")
	defer span.End()

	if s.prices == nil {
		return nil, fmt.Errorf("signal service is not fully initialized")
	}
	switch source {
	case domain.SourcePolymarket:
		return s.prices.PolymarketSeries(ctx, marketID, since, limit)
	case domain.SourceKalshi:
		return s.prices.KalshiSeries(ctx, marketID, since, limit)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}
}

// DetectSeries runs detection over a caller-supplied series, optionally storing the result.
func (s *SignalService) DetectSeries(ctx context.Context, marketID string, source domain.Source, points []domain.PricePoint, persist bool) ([]domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.detect-series")
	defer span.End()

	if s.detector == nil {
		return nil, fmt.Errorf("signal service is not fully initialized")
	}
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return nil, fmt.Errorf("market id is required")
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}

	detected := s.detector.Detect(marketID, source, points)
	span.SetAttributes(attribute.Int("points", len(points)), attribute.Int("signals", len(detected)))
	if !persist || len(detected) == 0 {
		return detected, nil
	}
	if s.signals == nil {
		return nil, fmt.Errorf("signal store is not configured")
	}
	stored, err := s.signals.UpsertSignals(ctx, domain.CollapseByKey(detected))
	if err != nil {
		return nil, fmt.Errorf("upsert signals: %w", err)
	}
	if s.notifier != nil {
		s.notifier.NotifySignals(ctx, stored)
	}
	return stored, nil
}

func (s *SignalService) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.list-signals")
	defer span.End()

	if s.signals == nil {
		return nil, fmt.Errorf("signal service is not fully initialized")
	}

	filter.MarketID = strings.TrimSpace(filter.MarketID)
	filter.Source = domain.Source(strings.ToLower(strings.TrimSpace(string(filter.Source))))
	filter.SignalType = domain.SignalType(strings.ToLower(strings.TrimSpace(string(filter.SignalType))))
	filter.Direction = domain.SignalDirection(strings.ToLower(strings.TrimSpace(string(filter.Direction))))

	if filter.Source != "" && !filter.Source.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, filter.Source)
	}
	if filter.SignalType != "" && !filter.SignalType.IsValid() {
		return nil, fmt.Errorf("invalid signal type: %s", filter.SignalType)
	}
	if filter.Direction != "" && !filter.Direction.IsValid() {
		return nil, fmt.Errorf("invalid direction: %s", filter.Direction)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultSignalLimit
	}
	if filter.Limit > maxSignalLimit {
		filter.Limit = maxSignalLimit
	}

	return s.signals.ListSignals(ctx, filter)
}
