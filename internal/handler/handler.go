package handler

import (
	"context"
	"net/http"
	"time"

	"prediction-pulse/internal/chart"
	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type SignalAPI interface {
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	Sweep(ctx context.Context, opts service.SweepOptions) (*domain.SweepResult, error)
	DetectSeries(ctx context.Context, marketID string, source domain.Source, points []domain.PricePoint, persist bool) ([]domain.Signal, error)
	Series(ctx context.Context, source domain.Source, marketID string, since time.Time, limit int) ([]domain.PricePoint, error)
	Config() domain.SignalConfig
}

type CollectorAPI interface {
	CollectSnapshots(ctx context.Context) (*domain.CollectResult, error)
	CollectPolymarketPrices(ctx context.Context) (*domain.CollectResult, error)
	CollectKalshiPrices(ctx context.Context) (*domain.CollectResult, error)
	CollectAll(ctx context.Context) (*domain.CollectAllResult, error)
}

type TrackingAPI interface {
	Track(ctx context.Context, source domain.Source, ref string) ([]domain.TrackedMarket, error)
	Untrack(ctx context.Context, source domain.Source, slug string) (int64, error)
	ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error)
}

type ChartRenderer interface {
	RenderSeries(points []domain.PricePoint, signals []domain.Signal) (*chart.Image, error)
}

type StatsAPI interface {
	DailyCounts(ctx context.Context, source domain.Source, days int) ([]domain.DailySignalCount, error)
}

// ChartCache stores rendered charts by request key until they expire.
type ChartCache interface {
	GetChart(ctx context.Context, key string) (*chart.Image, error)
	PutChart(ctx context.Context, key string, img *chart.Image, expiresAt time.Time) error
}

type Handler struct {
	tracer     trace.Tracer
	signals    SignalAPI
	collector  CollectorAPI
	tracking   TrackingAPI
	charts     ChartRenderer
	chartCache ChartCache
	chartTTL   time.Duration
	stats      StatsAPI
	sweep      service.SweepOptions
}

func New(
	tracer trace.Tracer,
	signals SignalAPI,
	collector CollectorAPI,
	tracking TrackingAPI,
	charts ChartRenderer,
) *Handler {
	return &Handler{
		tracer:    tracer,
		signals:   signals,
		collector: collector,
		tracking:  tracking,
		charts:    charts,
		sweep:     service.SweepOptions{LookbackHours: 24},
	}
}

// SetChartCache enables caching of rendered charts for ttl.
func (h *Handler) SetChartCache(cache ChartCache, ttl time.Duration) {
	h.chartCache = cache
	h.chartTTL = ttl
}

func (h *Handler) SetStats(stats StatsAPI) {
	h.stats = stats
}

// SetSweepDefaults sets the options used by POST /api/sweep when the request omits them.
func (h *Handler) SetSweepDefaults(opts service.SweepOptions) {
	h.sweep = opts
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.Index)
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/signals", h.GetSignals)
	api.GET("/signals/daily", h.GetDailySignalCounts)
	api.POST("/sweep", h.RunSweep)
	api.POST("/detect", h.DetectSeries)
	api.GET("/markets", h.ListMarkets)
	api.POST("/markets/track", h.TrackMarket)
	api.DELETE("/markets/:source/:slug", h.UntrackMarket)
	api.GET("/markets/:source/:id/prices", h.GetPrices)
	api.GET("/markets/:source/:id/chart", h.GetChart)

	for path, fn := range map[string]gin.HandlerFunc{
		"/collect":        h.CollectSnapshots,
		"/collect-prices": h.CollectPolymarketPrices,
		"/collect-kalshi": h.CollectKalshiPrices,
		"/collect-all":    h.CollectAll,
	} {
		r.GET(path, fn)
		r.POST(path, fn)
	}
}

// Index godoc
// @Summary      Service index
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       / [get]
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "prediction-pulse",
		"status":  "running",
		"endpoints": []string{
			"/health",
			"/api/signals",
			"/api/sweep",
			"/api/detect",
			"/api/markets",
			"/collect",
			"/collect-prices",
			"/collect-kalshi",
			"/collect-all",
			"/swagger/index.html",
		},
	})
}

// Health godoc
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}
