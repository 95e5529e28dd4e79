package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CollectSnapshots godoc
// @Summary      Collect Polymarket snapshots
// @Description  Stores a Gamma metadata snapshot for every active Polymarket market
// @Tags         collect
// @Produce      json
// @Success      200  {object}  domain.CollectResult
// @Failure      500  {object}  map[string]string
// @Router       /collect [get]
// @Router       /collect [post]
func (h *Handler) CollectSnapshots(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collector unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.collect-snapshots")
	defer span.End()

	result, err := h.collector.CollectSnapshots(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CollectPolymarketPrices godoc
// @Summary      Collect Polymarket price history
// @Tags         collect
// @Produce      json
// @Success      200  {object}  domain.CollectResult
// @Failure      500  {object}  map[string]string
// @Router       /collect-prices [get]
// @Router       /collect-prices [post]
func (h *Handler) CollectPolymarketPrices(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collector unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.collect-polymarket-prices")
	defer span.End()

	result, err := h.collector.CollectPolymarketPrices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CollectKalshiPrices godoc
// @Summary      Collect Kalshi candlesticks
// @Tags         collect
// @Produce      json
// @Success      200  {object}  domain.CollectResult
// @Failure      500  {object}  map[string]string
// @Router       /collect-kalshi [get]
// @Router       /collect-kalshi [post]
func (h *Handler) CollectKalshiPrices(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collector unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.collect-kalshi-prices")
	defer span.End()

	result, err := h.collector.CollectKalshiPrices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CollectAll godoc
// @Summary      Collect prices from both platforms
// @Description  A failure on one platform is reported in its section of the result
// @Tags         collect
// @Produce      json
// @Success      200  {object}  domain.CollectAllResult
// @Failure      500  {object}  map[string]string
// @Router       /collect-all [get]
// @Router       /collect-all [post]
func (h *Handler) CollectAll(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "collector unavailable"})
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.collect-all")
	defer span.End()

	result, err := h.collector.CollectAll(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
