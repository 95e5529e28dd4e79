package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	DefaultClobURL  = "https://clob.polymarket.com"

	polymarketChunk = 7 * 24 * time.Hour
	polymarketDelay = 300 * time.Millisecond
)

type GammaMarket struct {
	ID                string         `json:"id"`
	ConditionID       string         `json:"conditionId"`
	Slug              string         `json:"slug"`
	Question          string         `json:"question"`
	GroupItemTitle    string         `json:"groupItemTitle"`
	Active            bool           `json:"active"`
	Closed            bool           `json:"closed"`
	Volume            flexFloat      `json:"volume"`
	Volume24hr        flexFloat      `json:"volume24hr"`
	Liquidity         flexFloat      `json:"liquidity"`
	LastTradePrice    flexFloat      `json:"lastTradePrice"`
	BestBid           flexFloat      `json:"bestBid"`
	BestAsk           flexFloat      `json:"bestAsk"`
	Spread            flexFloat      `json:"spread"`
	OneDayPriceChange flexFloat      `json:"oneDayPriceChange"`
	Outcomes          jsonStringList `json:"outcomes"`
	OutcomePrices     jsonStringList `json:"outcomePrices"`
	ClobTokenIDs      jsonStringList `json:"clobTokenIds"`
}

type GammaEvent struct {
	ID       string        `json:"id"`
	Slug     string        `json:"slug"`
	Title    string        `json:"title"`
	Category string        `json:"category"`
	Active   bool          `json:"active"`
	Closed   bool          `json:"closed"`
	Markets  []GammaMarket `json:"markets"`
}

// YesToken returns the first CLOB token id, which prices the first outcome.
func (m GammaMarket) YesToken() string {
	if len(m.ClobTokenIDs) == 0 {
		return ""
	}
	return m.ClobTokenIDs[0]
}

func (m GammaMarket) Snapshot(at time.Time) domain.MarketSnapshot {
	prices := make([]float64, 0, len(m.OutcomePrices))
	for _, p := range m.OutcomePrices {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		prices = append(prices, v)
	}
	return domain.MarketSnapshot{
		ConditionID:       m.ConditionID,
		Slug:              m.Slug,
		Question:          m.Question,
		SnapshotAt:        at.UTC(),
		Active:            m.Active,
		Closed:            m.Closed,
		Volume:            float64(m.Volume),
		Volume24h:         float64(m.Volume24hr),
		Liquidity:         float64(m.Liquidity),
		LastTradePrice:    float64(m.LastTradePrice),
		BestBid:           float64(m.BestBid),
		BestAsk:           float64(m.BestAsk),
		Spread:            float64(m.Spread),
		OneDayPriceChange: float64(m.OneDayPriceChange),
		Outcomes:          []string(m.Outcomes),
		OutcomePrices:     prices,
		ClobTokenIDs:      []string(m.ClobTokenIDs),
	}
}

type PolymarketClient struct {
	gammaURL string
	clobURL  string
	client   jsonClient
	tracer   trace.Tracer
	delay    time.Duration
}

func NewPolymarketClient(tracer trace.Tracer, gammaURL, clobURL string, httpClient *http.Client) *PolymarketClient {
	if gammaURL == "" {
		gammaURL = DefaultGammaURL
	}
	if clobURL == "" {
		clobURL = DefaultClobURL
	}
	return &PolymarketClient{
		gammaURL: strings.TrimRight(gammaURL, "/"),
		clobURL:  strings.TrimRight(clobURL, "/"),
		client:   newJSONClient(httpClient),
		tracer:   tracer,
		delay:    polymarketDelay,
	}
}

func (c *PolymarketClient) EventBySlug(ctx context.Context, slug string) (*GammaEvent, error) {
	ctx, span := c.tracer.Start(ctx, "polymarket.event-by-slug")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	var ev GammaEvent
	if err := c.client.getJSON(ctx, c.gammaURL+"/events/slug/"+url.PathEscape(slug), &ev); err != nil {
		return nil, fmt.Errorf("fetch polymarket event %s: %w", slug, err)
	}
	return &ev, nil
}

func (c *PolymarketClient) MarketBySlug(ctx context.Context, slug string) (*GammaMarket, error) {
	ctx, span := c.tracer.Start(ctx, "polymarket.market-by-slug")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	var m GammaMarket
	if err := c.client.getJSON(ctx, c.gammaURL+"/markets/slug/"+url.PathEscape(slug), &m); err != nil {
		return nil, fmt.Errorf("fetch polymarket market %s: %w", slug, err)
	}
	return &m, nil
}

type pricesHistoryResponse struct {
	History []struct {
		T int64     `json:"t"`
		P flexFloat `json:"p"`
	} `json:"history"`
}

// PriceHistory fetches minute prices for a CLOB token between start and end in 7-day
// chunks. The result is ascending with duplicate timestamps removed; an empty window
// yields an empty slice.
func (c *PolymarketClient) PriceHistory(ctx context.Context, tokenID string, start, end time.Time) ([]domain.PricePoint, error) {
	ctx, span := c.tracer.Start(ctx, "polymarket.price-history")
	defer span.End()
	span.SetAttributes(attribute.String("token_id", tokenID))

	seen := make(map[int64]struct{})
	points := make([]domain.PricePoint, 0, 256)
	for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStart.Add(polymarketChunk) {
		chunkEnd := chunkStart.Add(polymarketChunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		q := url.Values{}
		q.Set("market", tokenID)
		q.Set("startTs", strconv.FormatInt(chunkStart.Unix(), 10))
		q.Set("endTs", strconv.FormatInt(chunkEnd.Unix(), 10))
		q.Set("fidelity", "1")

		var resp pricesHistoryResponse
		if err := c.client.getJSON(ctx, c.clobURL+"/prices-history?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("fetch price history for %s: %w", tokenID, err)
		}
		for _, h := range resp.History {
			if _, dup := seen[h.T]; dup {
				continue
			}
			seen[h.T] = struct{}{}
			points = append(points, domain.PricePoint{Timestamp: time.Unix(h.T, 0).UTC(), Price: float64(h.P)})
		}

		if chunkEnd.Before(end) {
			if err := c.client.sleep(ctx, c.delay); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	span.SetAttributes(attribute.Int("points", len(points)))
	return points, nil
}

// PolymarketSlugFromURL extracts the event slug from a polymarket.com event URL; a bare
// slug is returned unchanged.
func PolymarketSlugFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.Trim(raw, "/")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "event" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return parts[len(parts)-1]
}
