package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/gin-gonic/gin"
)

func TestCollectRoutesAcceptGetAndPost(t *testing.T) {
	collector := &stubCollectorAPI{}
	h := newTestHandler(nil, collector, nil, nil)
	router := gin.New()
	h.RegisterRoutes(router)

	for _, path := range []string{"/collect", "/collect-prices", "/collect-kalshi", "/collect-all"} {
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
			if w.Code != http.StatusOK {
				t.Fatalf("%s %s: expected 200, got %d", method, path, w.Code)
			}
		}
	}
	if collector.calls != 8 {
		t.Fatalf("expected 8 collector calls, got %d", collector.calls)
	}
}

func TestCollectAllReportsPlatformErrorsInBody(t *testing.T) {
	collector := &stubCollectorAPI{all: &domain.CollectAllResult{
		Polymarket:   domain.CollectResult{Source: domain.SourcePolymarket, Error: "gamma unavailable"},
		Kalshi:       domain.CollectResult{Source: domain.SourceKalshi, RecordsAdded: 12},
		TotalRecords: 12,
		Timestamp:    time.Now().UTC(),
	}}
	h := newTestHandler(nil, collector, nil, nil)
	router := gin.New()
	router.POST("/collect-all", h.CollectAll)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/collect-all", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp domain.CollectAllResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if resp.Polymarket.Error == "" || resp.TotalRecords != 12 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestCollectFailure(t *testing.T) {
	h := newTestHandler(nil, &stubCollectorAPI{err: errors.New("db down")}, nil, nil)
	router := gin.New()
	router.GET("/collect-prices", h.CollectPolymarketPrices)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/collect-prices", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

type stubCollectorAPI struct {
	calls int
	all   *domain.CollectAllResult
	err   error
}

func (s *stubCollectorAPI) result(source domain.Source) (*domain.CollectResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.CollectResult{Source: source}, nil
}

func (s *stubCollectorAPI) CollectSnapshots(ctx context.Context) (*domain.CollectResult, error) {
	return s.result(domain.SourcePolymarket)
}

func (s *stubCollectorAPI) CollectPolymarketPrices(ctx context.Context) (*domain.CollectResult, error) {
	return s.result(domain.SourcePolymarket)
}

func (s *stubCollectorAPI) CollectKalshiPrices(ctx context.Context) (*domain.CollectResult, error) {
	return s.result(domain.SourceKalshi)
}

func (s *stubCollectorAPI) CollectAll(ctx context.Context) (*domain.CollectAllResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.all != nil {
		return s.all, nil
	}
	return &domain.CollectAllResult{Timestamp: time.Now().UTC()}, nil
}
