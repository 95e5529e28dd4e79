package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/service"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type stubSignalBackend struct {
	mu sync.Mutex

	listed     []domain.Signal
	detected   []domain.Signal
	series     []domain.PricePoint
	sweepStats map[domain.Source]domain.PlatformStats

	lastFilter   domain.SignalFilter
	lastSweep    service.SweepOptions
	lastDetectID string
	lastPoints   []domain.PricePoint
	lastPersist  bool
	lastSeriesID string
	lastLimit    int
}

func (s *stubSignalBackend) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	return append([]domain.Signal(nil), s.listed...), nil
}

func (s *stubSignalBackend) Sweep(ctx context.Context, opts service.SweepOptions) (*domain.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSweep = opts
	return &domain.SweepResult{RunID: "run-1", Status: "success", Stats: s.sweepStats, Timestamp: time.Unix(0, 0).UTC()}, nil
}

func (s *stubSignalBackend) DetectSeries(ctx context.Context, marketID string, source domain.Source, points []domain.PricePoint, persist bool) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDetectID = marketID
	s.lastPoints = append([]domain.PricePoint(nil), points...)
	s.lastPersist = persist
	return append([]domain.Signal(nil), s.detected...), nil
}

func (s *stubSignalBackend) Series(ctx context.Context, source domain.Source, marketID string, since time.Time, limit int) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeriesID = marketID
	s.lastLimit = limit
	return append([]domain.PricePoint(nil), s.series...), nil
}

func (s *stubSignalBackend) Config() domain.SignalConfig {
	return domain.DefaultSignalConfig()
}

type stubMarketReader struct {
	markets        []domain.TrackedMarket
	lastSource     domain.Source
	lastActiveOnly bool
}

func (s *stubMarketReader) ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error) {
	s.lastSource = source
	s.lastActiveOnly = activeOnly
	return append([]domain.TrackedMarket(nil), s.markets...), nil
}

func testServer() (*sdkmcp.Server, *stubSignalBackend, *stubMarketReader) {
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	signals := &stubSignalBackend{
		listed: []domain.Signal{{
			ID: 1, MarketID: "0xabc", Source: domain.SourcePolymarket, SignalType: domain.SignalTypeAlert,
			Direction: domain.DirectionUp, Timestamp: base, PriorPrice: 0.4, NewPrice: 0.5,
		}},
		detected: []domain.Signal{{
			MarketID: "KXFED-25DEC-T4", Source: domain.SourceKalshi, SignalType: domain.SignalTypeTrend,
			Direction: domain.DirectionDown, Timestamp: base.Add(time.Hour),
		}},
		series: []domain.PricePoint{{Timestamp: base, Price: 0.4}, {Timestamp: base.Add(time.Minute), Price: 0.42}},
		sweepStats: map[domain.Source]domain.PlatformStats{
			domain.SourcePolymarket: {Markets: 2, Alerts: 1},
			domain.SourceKalshi:     {Markets: 1},
		},
	}
	markets := &stubMarketReader{markets: []domain.TrackedMarket{
		{Source: domain.SourceKalshi, MarketID: "KXFED-25DEC-T4", Slug: "KXFED-25DEC-T4", Active: true},
	}}

	srv := NewServer(nil, signals, markets, ServerConfig{
		RequestTimeout: time.Second,
		Sweep:          service.SweepOptions{LookbackHours: 12},
	})
	return srv, signals, markets
}

func connectInMemory(ctx context.Context, srv *sdkmcp.Server) (*sdkmcp.ClientSession, context.CancelFunc, error) {
	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = srv.Run(runCtx, serverTransport) }()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "mcp-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return session, cancel, nil
}

type authRoundTripper struct {
	token string
	base  http.RoundTripper
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.token != "" {
		clone.Header.Set("Authorization", "Bearer "+t.token)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

func decodeResourceJSON(result *sdkmcp.ReadResourceResult, out any) error {
	if len(result.Contents) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(result.Contents[0].Text), out)
}
