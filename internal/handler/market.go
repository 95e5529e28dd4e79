package handler

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/csvsource"
	"prediction-pulse/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPriceHours = 24
	maxPriceLimit     = 10000
)

// ListMarkets godoc
// @Summary      List tracked markets
// @Tags         markets
// @Produce      json
// @Param        source  query  string  false  "polymarket or kalshi"
// @Param        all     query  bool    false  "Include inactive markets"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/markets [get]
func (h *Handler) ListMarkets(c *gin.Context) {
	if h.tracking == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-markets")
	defer span.End()

	var source domain.Source
	if raw := strings.TrimSpace(c.Query("source")); raw != "" {
		parsed, err := domain.ParseSource(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "supported_sources": domain.SupportedSources})
			return
		}
		source = parsed
	}
	activeOnly := !strings.EqualFold(c.Query("all"), "true")

	markets, err := h.tracking.ListTracked(ctx, source, activeOnly)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets, "count": len(markets)})
}

type trackRequest struct {
	Source string `json:"source" binding:"required"`
	Ref    string `json:"ref" binding:"required"`
}

// TrackMarket godoc
// @Summary      Start tracking a market or event
// @Description  ref may be a Polymarket event slug, a Kalshi market or event ticker, or a market URL
// @Tags         markets
// @Accept       json
// @Produce      json
// @Param        body  body  trackRequest  true  "Market reference"
// @Success      201  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/markets/track [post]
func (h *Handler) TrackMarket(c *gin.Context) {
	if h.tracking == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.track-market")
	defer span.End()

	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	source, err := domain.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.String("source", string(source)), attribute.String("ref", req.Ref))

	tracked, err := h.tracking.Track(ctx, source, req.Ref)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"markets": tracked, "count": len(tracked)})
}

// UntrackMarket godoc
// @Summary      Stop tracking an event
// @Description  Deactivates the event and its markets; stored prices and signals are kept
// @Tags         markets
// @Produce      json
// @Param        source  path  string  true  "polymarket or kalshi"
// @Param        slug    path  string  true  "Event slug or ticker"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/markets/{source}/{slug} [delete]
func (h *Handler) UntrackMarket(c *gin.Context) {
	if h.tracking == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracking service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.untrack-market")
	defer span.End()

	source, err := domain.ParseSource(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := h.tracking.Untrack(ctx, source, c.Param("slug"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tracked event " + c.Param("slug")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": n})
}

// GetPrices godoc
// @Summary      Get a market's stored price series
// @Tags         markets
// @Produce      json
// @Produce      text/csv
// @Param        source  path   string  true   "polymarket or kalshi"
// @Param        id      path   string  true   "Condition id or Kalshi ticker"
// @Param        hours   query  int     false  "Lookback in hours (default 24)"  default(24)
// @Param        limit   query  int     false  "Maximum points (default 10000)"
// @Param        format  query  string  false  "json or csv"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/markets/{source}/{id}/prices [get]
func (h *Handler) GetPrices(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-prices")
	defer span.End()

	source, marketID, since, limit, ok := parseSeriesRequest(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("market_id", marketID))

	points, err := h.signals.Series(ctx, source, marketID, since, limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if strings.EqualFold(c.Query("format"), "csv") {
		var buf bytes.Buffer
		if err := csvsource.WriteSeries(&buf, points); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=\""+marketID+".csv\"")
		c.Data(http.StatusOK, "text/csv", buf.Bytes())
		return
	}
	if points == nil {
		points = []domain.PricePoint{}
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "market_id": marketID, "points": points, "count": len(points)})
}

// GetChart godoc
// @Summary      Render a market chart
// @Description  PNG price line with markers at the market's stored signals
// @Tags         markets
// @Produce      png
// @Param        source  path   string  true   "polymarket or kalshi"
// @Param        id      path   string  true   "Condition id or Kalshi ticker"
// @Param        hours   query  int     false  "Lookback in hours (default 24)"  default(24)
// @Success      200  {file}  binary
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/markets/{source}/{id}/chart [get]
func (h *Handler) GetChart(c *gin.Context) {
	if h.signals == nil || h.charts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chart rendering unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-chart")
	defer span.End()

	source, marketID, since, limit, ok := parseSeriesRequest(c)
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("%s/%s/%d/%d", source, marketID, int(math.Round(time.Since(since).Hours())), limit)
	if h.chartCache != nil {
		cached, err := h.chartCache.GetChart(ctx, cacheKey)
		if err != nil {
			log.Printf("chart cache lookup %s: %v", cacheKey, err)
		}
		if cached != nil {
			c.Data(http.StatusOK, cached.MimeType, cached.Bytes)
			return
		}
	}

	points, err := h.signals.Series(ctx, source, marketID, since, limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if len(points) < 2 {
		err := fmt.Errorf("%w to chart %s %s", domain.ErrNoPriceData, source, marketID)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	signals, err := h.signals.ListSignals(ctx, domain.SignalFilter{
		MarketID: marketID,
		Source:   source,
		Since:    since,
		Limit:    200,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	img, err := h.charts.RenderSeries(points, signals)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if h.chartCache != nil && h.chartTTL > 0 {
		if err := h.chartCache.PutChart(ctx, cacheKey, img, time.Now().Add(h.chartTTL)); err != nil {
			log.Printf("chart cache store %s: %v", cacheKey, err)
		}
	}
	c.Data(http.StatusOK, img.MimeType, img.Bytes)
}

func parseSeriesRequest(c *gin.Context) (domain.Source, string, time.Time, int, bool) {
	source, err := domain.ParseSource(c.Param("source"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", time.Time{}, 0, false
	}
	marketID := strings.TrimSpace(c.Param("id"))
	if source == domain.SourceKalshi {
		marketID = strings.ToUpper(marketID)
	}

	hours := defaultPriceHours
	if raw := strings.TrimSpace(c.Query("hours")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return "", "", time.Time{}, 0, false
		}
		hours = n
	}
	limit := maxPriceLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPriceLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 10000"})
			return "", "", time.Time{}, 0, false
		}
		limit = n
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	return source, marketID, since, limit, true
}
