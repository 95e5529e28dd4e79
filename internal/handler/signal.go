package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/provider"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetSignals godoc
// @Summary      Get detected signals
// @Description  Returns recent signals, optionally filtered by market, source, type and direction
// @Tags         signals
// @Produce      json
// @Param        market_id  query  string  false  "Condition id or Kalshi ticker"
// @Param        source     query  string  false  "polymarket or kalshi"
// @Param        type       query  string  false  "alert or trend"
// @Param        direction  query  string  false  "up or down"
// @Param        since      query  string  false  "Only signals at or after this time"
// @Param        limit      query  int     false  "Number of signals (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/signals [get]
func (h *Handler) GetSignals(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signals")
	defer span.End()

	filter := domain.SignalFilter{
		MarketID:   strings.TrimSpace(c.Query("market_id")),
		Source:     domain.Source(strings.ToLower(strings.TrimSpace(c.Query("source")))),
		SignalType: domain.SignalType(strings.ToLower(strings.TrimSpace(c.Query("type")))),
		Direction:  domain.SignalDirection(strings.ToLower(strings.TrimSpace(c.Query("direction")))),
	}
	if filter.MarketID != "" {
		span.SetAttributes(attribute.String("market_id", filter.MarketID))
	}
	if filter.Source != "" && !filter.Source.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported source: " + string(filter.Source),
			"supported_sources": domain.SupportedSources,
		})
		return
	}
	if filter.SignalType != "" && !filter.SignalType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be alert or trend"})
		return
	}
	if filter.Direction != "" && !filter.Direction.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up or down"})
		return
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := dateparse.ParseIn(raw, time.UTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since is not a recognizable time"})
			return
		}
		filter.Since = since
	}

	limit := 50
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	filter.Limit = limit

	signals, err := h.signals.ListSignals(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

type sweepRequest struct {
	LookbackHours   *int  `json:"lookback_hours"`
	UseAllAvailable *bool `json:"use_all_available"`
}

// RunSweep godoc
// @Summary      Run a detection sweep
// @Description  Scans every active market and stores newly detected signals
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        body  body  sweepRequest  false  "Sweep overrides"
// @Success      200  {object}  domain.SweepResult
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/sweep [post]
func (h *Handler) RunSweep(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-sweep")
	defer span.End()

	opts := h.sweep
	if c.Request.ContentLength > 0 {
		var req sweepRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.LookbackHours != nil {
			if *req.LookbackHours <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "lookback_hours must be positive"})
				return
			}
			opts.LookbackHours = *req.LookbackHours
		}
		if req.UseAllAvailable != nil {
			opts.UseAllAvailable = *req.UseAllAvailable
		}
	}

	result, err := h.signals.Sweep(ctx, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

type detectRequest struct {
	MarketID string              `json:"market_id" binding:"required"`
	Source   string              `json:"source" binding:"required"`
	Points   []domain.PricePoint `json:"points"`
	Store    bool                `json:"store"`
}

// DetectSeries godoc
// @Summary      Detect signals in a supplied series
// @Description  Runs alert and trend detection over the posted points; stores them when store=true
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        body  body  detectRequest  true  "Price series"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/detect [post]
func (h *Handler) DetectSeries(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.detect-series")
	defer span.End()

	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	source, err := domain.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	marketID := strings.TrimSpace(req.MarketID)
	if source == domain.SourceKalshi {
		marketID = strings.ToUpper(marketID)
	}
	span.SetAttributes(attribute.String("market_id", marketID), attribute.Int("points", len(req.Points)))

	points := make([]domain.PricePoint, len(req.Points))
	for i, p := range req.Points {
		points[i] = domain.PricePoint{Timestamp: p.Timestamp, Price: domain.ProbabilityPrice(source, p.Price)}
	}

	signals, err := h.signals.DetectSeries(ctx, marketID, source, points, req.Store)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if signals == nil {
		signals = []domain.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{
		"market_id": marketID,
		"source":    source,
		"config":    h.signals.Config(),
		"signals":   signals,
		"stored":    req.Store,
	})
}

// GetDailySignalCounts godoc
// @Summary      Daily signal activity
// @Description  Stored signals per UTC day and platform, split by type and direction
// @Tags         signals
// @Produce      json
// @Param        source  query  string  false  "polymarket or kalshi"
// @Param        days    query  int     false  "Number of days (default 30, max 365)"  default(30)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/signals/daily [get]
func (h *Handler) GetDailySignalCounts(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal statistics unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-daily-signal-counts")
	defer span.End()

	var source domain.Source
	if raw := strings.TrimSpace(c.Query("source")); raw != "" {
		parsed, err := domain.ParseSource(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		source = parsed
	}
	days := 30
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = n
	}

	counts, err := h.stats.DailyCounts(ctx, source, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if counts == nil {
		counts = []domain.DailySignalCount{}
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "source": source, "counts": counts})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoPriceData), errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
