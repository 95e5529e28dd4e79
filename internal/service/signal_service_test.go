package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/signal"

	"go.opentelemetry.io/otel/trace"
)

var sweepNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func minuteSeries(start time.Time, prices ...float64) []domain.PricePoint {
	out := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = domain.PricePoint{Timestamp: start.Add(time.Duration(i) * time.Minute), Price: p}
	}
	return out
}

func newTestSignalService(t *testing.T, prices *stubPriceRepo, markets *stubMarketRepo, signals *stubSignalRepo) *SignalService {
	t.Helper()
	engine, err := signal.NewEngine(domain.DefaultSignalConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc := NewSignalService(testTracer(), prices, markets, signals, engine)
	svc.now = func() time.Time { return sweepNow }
	svc.newRunID = func() string { return "run-1" }
	return svc
}

func TestSignalServiceSweepAggregatesPerPlatform(t *testing.T) {
	start := sweepNow.Add(-time.Hour)
	prices := &stubPriceRepo{
		series: map[string][]domain.PricePoint{
			"0xjump": minuteSeries(start, 0.40, 0.40, 0.50),
			"0xflat": minuteSeries(start, 0.40, 0.40, 0.40),
			"KXA-1":  minuteSeries(start, 0.60, 0.50),
		},
		errs:   map[string]error{"0xbroken": errors.New("timeout")},
		recent: []string{"KXA-1", "KXB-2"},
	}
	markets := &stubMarketRepo{active: map[domain.Source][]domain.TrackedMarket{
		domain.SourcePolymarket: {{MarketID: "0xjump"}, {MarketID: "0xflat"}, {MarketID: "0xbroken"}},
		domain.SourceKalshi:     {{MarketID: "KXA-1"}},
	}}
	signals := &stubSignalRepo{}
	notifier := &stubNotifier{}
	svc := newTestSignalService(t, prices, markets, signals)
	svc.SetNotifier(notifier)
	svc.SetConcurrency(3)

	res, err := svc.Sweep(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RunID != "run-1" || res.Status != "success" {
		t.Fatalf("unexpected result header: %+v", res)
	}
	poly := res.Stats[domain.SourcePolymarket]
	if poly.Markets != 3 || poly.Failed != 1 || poly.Alerts != 1 || poly.Trends != 0 {
		t.Fatalf("unexpected polymarket stats: %+v", poly)
	}
	kalshi := res.Stats[domain.SourceKalshi]
	if kalshi.Markets != 2 || kalshi.Failed != 0 || kalshi.Alerts != 1 {
		t.Fatalf("unexpected kalshi stats: %+v", kalshi)
	}
	if res.TotalDetected != 2 || res.TotalStored != 2 {
		t.Fatalf("expected 2 detected and stored, got %d/%d", res.TotalDetected, res.TotalStored)
	}
	if signals.upsertCalls != 1 {
		t.Fatalf("expected a single batched upsert, got %d", signals.upsertCalls)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected notifier to receive 2 signals, got %d", notifier.count())
	}
	if !prices.lastSince.Equal(sweepNow.Add(-24 * time.Hour)) {
		t.Fatalf("expected default 24h lookback, got %s", prices.lastSince)
	}
}

func TestSignalServiceSweepFallsBackToAllData(t *testing.T) {
	old := sweepNow.Add(-72 * time.Hour)
	prices := &stubPriceRepo{
		series:       map[string][]domain.PricePoint{},
		allAvailable: map[string][]domain.PricePoint{"0xold": minuteSeries(old, 0.2, 0.3)},
	}
	markets := &stubMarketRepo{active: map[domain.Source][]domain.TrackedMarket{
		domain.SourcePolymarket: {{MarketID: "0xold"}},
	}}
	signals := &stubSignalRepo{}
	svc := newTestSignalService(t, prices, markets, signals)

	res, err := svc.Sweep(context.Background(), SweepOptions{LookbackHours: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalDetected != 0 {
		t.Fatalf("expected no signals without fallback, got %d", res.TotalDetected)
	}

	res, err = svc.Sweep(context.Background(), SweepOptions{LookbackHours: 1, UseAllAvailable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalDetected != 1 {
		t.Fatalf("expected fallback to detect 1 signal, got %d", res.TotalDetected)
	}
	if prices.lastLimit != fallbackSeriesLimit {
		t.Fatalf("expected fallback limit %d, got %d", fallbackSeriesLimit, prices.lastLimit)
	}
}

func TestSignalServiceSweepStoreFailureIsReturned(t *testing.T) {
	prices := &stubPriceRepo{series: map[string][]domain.PricePoint{"0xjump": minuteSeries(sweepNow, 0.4, 0.5)}}
	markets := &stubMarketRepo{active: map[domain.Source][]domain.TrackedMarket{
		domain.SourcePolymarket: {{MarketID: "0xjump"}},
	}}
	svc := newTestSignalService(t, prices, markets, &stubSignalRepo{err: errors.New("db down")})

	res, err := svc.Sweep(context.Background(), SweepOptions{})
	if err == nil {
		t.Fatal("expected store error")
	}
	if res == nil || res.Status != "error" {
		t.Fatalf("expected error status, got %+v", res)
	}
}

func TestSignalServiceSweepWithoutMarkets(t *testing.T) {
	svc := newTestSignalService(t, &stubPriceRepo{}, &stubMarketRepo{}, &stubSignalRepo{})
	res, err := svc.Sweep(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalDetected != 0 || len(res.Stats) != 2 {
		t.Fatalf("unexpected empty sweep result: %+v", res)
	}
}

func TestSignalServiceDetectSeries(t *testing.T) {
	signals := &stubSignalRepo{}
	svc := newTestSignalService(t, &stubPriceRepo{}, &stubMarketRepo{}, signals)
	points := minuteSeries(sweepNow, 0.40, 0.50)

	got, err := svc.DetectSeries(context.Background(), "csv-market", domain.SourceKalshi, points, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].MarketID != "csv-market" || got[0].Source != domain.SourceKalshi {
		t.Fatalf("unexpected detection: %+v", got)
	}
	if signals.upsertCalls != 0 {
		t.Fatal("expected no store call without persist")
	}

	if _, err := svc.DetectSeries(context.Background(), "csv-market", domain.SourceKalshi, points, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals.upsertCalls != 1 {
		t.Fatalf("expected store call with persist, got %d", signals.upsertCalls)
	}

	if _, err := svc.DetectSeries(context.Background(), "", domain.SourceKalshi, points, false); err == nil {
		t.Fatal("expected missing market id error")
	}
	if _, err := svc.DetectSeries(context.Background(), "m", domain.Source("nyse"), points, false); !errors.Is(err, domain.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestSignalServiceDetectSeriesStoresOneRowPerKey(t *testing.T) {
	signals := &stubSignalRepo{}
	notifier := &stubNotifier{}
	svc := newTestSignalService(t, &stubPriceRepo{}, &stubMarketRepo{}, signals)
	svc.SetNotifier(notifier)

	t1 := sweepNow.Add(time.Minute)
	points := []domain.PricePoint{
		{Timestamp: sweepNow, Price: 0.40},
		{Timestamp: t1, Price: 0.50},
		{Timestamp: t1, Price: 0.40},
	}

	detected, err := svc.DetectSeries(context.Background(), "dup-market", domain.SourcePolymarket, points, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(detected) != 2 {
		t.Fatalf("expected up and down alerts at the same timestamp, got %+v", detected)
	}

	stored, err := svc.DetectSeries(context.Background(), "dup-market", domain.SourcePolymarket, points, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored row per key, got %+v", stored)
	}
	if stored[0].Direction != domain.DirectionUp || !stored[0].Timestamp.Equal(t1) {
		t.Fatalf("expected the first alert to win a tie, got %+v", stored[0])
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", notifier.count())
	}
}

func TestSignalServiceListSignalsValidatesFilter(t *testing.T) {
	signals := &stubSignalRepo{}
	svc := newTestSignalService(t, &stubPriceRepo{}, &stubMarketRepo{}, signals)

	if _, err := svc.ListSignals(context.Background(), domain.SignalFilter{SignalType: "spike"}); err == nil {
		t.Fatal("expected invalid type error")
	}
	if _, err := svc.ListSignals(context.Background(), domain.SignalFilter{Direction: "sideways"}); err == nil {
		t.Fatal("expected invalid direction error")
	}

	_, err := svc.ListSignals(context.Background(), domain.SignalFilter{Source: " Kalshi ", SignalType: "TREND", Limit: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals.lastFilter.Source != domain.SourceKalshi || signals.lastFilter.SignalType != domain.SignalTypeTrend {
		t.Fatalf("expected normalized filter, got %+v", signals.lastFilter)
	}
	if signals.lastFilter.Limit != maxSignalLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxSignalLimit, signals.lastFilter.Limit)
	}

	if _, err := svc.ListSignals(context.Background(), domain.SignalFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals.lastFilter.Limit != defaultSignalLimit {
		t.Fatalf("expected default limit, got %d", signals.lastFilter.Limit)
	}
}

type stubPriceRepo struct {
	mu           sync.Mutex
	series       map[string][]domain.PricePoint
	allAvailable map[string][]domain.PricePoint
	errs         map[string]error
	recent       []string
	lastSince    time.Time
	lastLimit    int
}

func (s *stubPriceRepo) lookup(id string, since time.Time, limit int) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSince = since
	s.lastLimit = limit
	if err := s.errs[id]; err != nil {
		return nil, err
	}
	if since.IsZero() {
		return s.allAvailable[id], nil
	}
	return s.series[id], nil
}

func (s *stubPriceRepo) PolymarketSeries(ctx context.Context, conditionID string, since time.Time, limit int) ([]domain.PricePoint, error) {
	return s.lookup(conditionID, since, limit)
}

func (s *stubPriceRepo) KalshiSeries(ctx context.Context, ticker string, since time.Time, limit int) ([]domain.PricePoint, error) {
	return s.lookup(ticker, since, limit)
}

func (s *stubPriceRepo) RecentKalshiTickers(ctx context.Context, since time.Time) ([]string, error) {
	return s.recent, nil
}

type stubMarketRepo struct {
	active map[domain.Source][]domain.TrackedMarket
}

func (s *stubMarketRepo) ListActiveMarkets(ctx context.Context, source domain.Source) ([]domain.TrackedMarket, error) {
	return s.active[source], nil
}

type stubSignalRepo struct {
	upsertCalls int
	lastFilter  domain.SignalFilter
	err         error
}

func (s *stubSignalRepo) UpsertSignals(ctx context.Context, signals []domain.Signal) ([]domain.Signal, error) {
	s.upsertCalls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.Signal, len(signals))
	for i, sig := range signals {
		sig.ID = int64(i + 1)
		out[i] = sig
	}
	return out, nil
}

func (s *stubSignalRepo) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	s.lastFilter = filter
	return nil, nil
}

type stubNotifier struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (n *stubNotifier) NotifySignals(ctx context.Context, signals []domain.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, signals...)
}

func (n *stubNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.signals)
}
