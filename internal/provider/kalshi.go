package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultKalshiURL = "https://api.elections.kalshi.com/trade-api/v2"

	// the candlestick endpoint returns at most 5000 one-minute candles per call
	kalshiChunk = 4900 * time.Minute
	kalshiDelay = 200 * time.Millisecond
)

var seriesPrefix = regexp.MustCompile(`^[A-Z]+`)

type KalshiMarket struct {
	Ticker      string    `json:"ticker"`
	EventTicker string    `json:"event_ticker"`
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle"`
	YesSubTitle string    `json:"yes_sub_title"`
	Status      string    `json:"status"`
	Category    string    `json:"category"`
	OpenTime    string    `json:"open_time"`
	CloseTime   string    `json:"close_time"`
	LastPrice   flexFloat `json:"last_price"`
}

// Active reports whether the market still trades.
func (m KalshiMarket) Active() bool {
	switch strings.ToLower(m.Status) {
	case "active", "open", "initialized":
		return true
	}
	return false
}

type KalshiEvent struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	SubTitle     string `json:"sub_title"`
	Category     string `json:"category"`
}

type kalshiOHLC struct {
	Open  *float64 `json:"open"`
	Close *float64 `json:"close"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
	Mean  *float64 `json:"mean"`
}

type kalshiCandle struct {
	EndPeriodTS  int64      `json:"end_period_ts"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
	Price        kalshiOHLC `json:"price"`
	YesBid       kalshiOHLC `json:"yes_bid"`
	YesAsk       kalshiOHLC `json:"yes_ask"`
}

type KalshiClient struct {
	baseURL string
	client  jsonClient
	tracer  trace.Tracer
	delay   time.Duration
}

func NewKalshiClient(tracer trace.Tracer, baseURL string, httpClient *http.Client) *KalshiClient {
	if baseURL == "" {
		baseURL = DefaultKalshiURL
	}
	return &KalshiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newJSONClient(httpClient),
		tracer:  tracer,
		delay:   kalshiDelay,
	}
}

func (c *KalshiClient) Market(ctx context.Context, ticker string) (*KalshiMarket, error) {
	ctx, span := c.tracer.Start(ctx, "kalshi.market")
	defer span.End()
	span.SetAttributes(attribute.String("ticker", ticker))

	var resp struct {
		Market KalshiMarket `json:"market"`
	}
	if err := c.client.getJSON(ctx, c.baseURL+"/markets/"+url.PathEscape(ticker), &resp); err != nil {
		return nil, fmt.Errorf("fetch kalshi market %s: %w", ticker, err)
	}
	if resp.Market.Ticker == "" {
		return nil, fmt.Errorf("fetch kalshi market %s: %w", ticker, ErrNotFound)
	}
	return &resp.Market, nil
}

func (c *KalshiClient) Event(ctx context.Context, eventTicker string) (*KalshiEvent, []KalshiMarket, error) {
	ctx, span := c.tracer.Start(ctx, "kalshi.event")
	defer span.End()
	span.SetAttributes(attribute.String("event_ticker", eventTicker))

	var resp struct {
		Event   KalshiEvent    `json:"event"`
		Markets []KalshiMarket `json:"markets"`
	}
	if err := c.client.getJSON(ctx, c.baseURL+"/events/"+url.PathEscape(eventTicker), &resp); err != nil {
		return nil, nil, fmt.Errorf("fetch kalshi event %s: %w", eventTicker, err)
	}
	if resp.Event.EventTicker == "" {
		return nil, nil, fmt.Errorf("fetch kalshi event %s: %w", eventTicker, ErrNotFound)
	}
	return &resp.Event, resp.Markets, nil
}

// Candlesticks fetches one-minute candles between start and end in chunks of 4900 minutes.
// Prices stay in cents; normalization happens when the series is read back.
func (c *KalshiClient) Candlesticks(ctx context.Context, seriesTicker, ticker string, start, end time.Time) ([]domain.KalshiCandle, error) {
	ctx, span := c.tracer.Start(ctx, "kalshi.candlesticks")
	defer span.End()
	span.SetAttributes(attribute.String("ticker", ticker))

	if seriesTicker == "" {
		seriesTicker = SeriesTicker(ticker)
	}
	path := fmt.Sprintf("%s/series/%s/markets/%s/candlesticks", c.baseURL, url.PathEscape(seriesTicker), url.PathEscape(ticker))

	var out []domain.KalshiCandle
	for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStart.Add(kalshiChunk) {
		chunkEnd := chunkStart.Add(kalshiChunk)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		q := url.Values{}
		q.Set("start_ts", strconv.FormatInt(chunkStart.Unix(), 10))
		q.Set("end_ts", strconv.FormatInt(chunkEnd.Unix(), 10))
		q.Set("period_interval", "1")

		var resp struct {
			Candlesticks []kalshiCandle `json:"candlesticks"`
		}
		if err := c.client.getJSON(ctx, path+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("fetch candlesticks for %s: %w", ticker, err)
		}
		for _, k := range resp.Candlesticks {
			out = append(out, domain.KalshiCandle{
				Ticker:       ticker,
				EndPeriod:    time.Unix(k.EndPeriodTS, 0).UTC(),
				Volume:       k.Volume,
				OpenInterest: k.OpenInterest,
				PriceOpen:    k.Price.Open,
				PriceClose:   k.Price.Close,
				PriceHigh:    k.Price.High,
				PriceLow:     k.Price.Low,
				PriceMean:    k.Price.Mean,
				YesBidClose:  k.YesBid.Close,
				YesAskClose:  k.YesAsk.Close,
			})
		}

		if chunkEnd.Before(end) {
			if err := c.client.sleep(ctx, c.delay); err != nil {
				return nil, err
			}
		}
	}
	span.SetAttributes(attribute.Int("candles", len(out)))
	return out, nil
}

// SeriesTicker is the leading run of capital letters of an event or market ticker.
func SeriesTicker(eventTicker string) string {
	if m := seriesPrefix.FindString(eventTicker); m != "" {
		return m
	}
	return eventTicker
}

// KalshiTickerFromURL takes the last path segment of a kalshi.com URL, uppercased.
// A bare ticker is uppercased and returned.
func KalshiTickerFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToUpper(strings.Trim(raw, "/"))
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return strings.ToUpper(parts[len(parts)-1])
}
