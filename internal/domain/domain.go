package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid signal config")
	ErrUnknownSource = errors.New("unknown source")
	ErrNoPriceData   = errors.New("no price data")
)

type Source string

const (
	SourcePolymarket Source = "polymarket"
	SourceKalshi     Source = "kalshi"
)

var SupportedSources = []Source{SourcePolymarket, SourceKalshi}

func (s Source) IsValid() bool {
	return s == SourcePolymarket || s == SourceKalshi
}

func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
	}
	return s, nil
}

type SignalType string

const (
	SignalTypeAlert SignalType = "alert"
	SignalTypeTrend SignalType = "trend"
)

func (t SignalType) IsValid() bool {
	return t == SignalTypeAlert || t == SignalTypeTrend
}

type SignalDirection string

const (
	DirectionUp   SignalDirection = "up"
	DirectionDown SignalDirection = "down"
)

func (d SignalDirection) IsValid() bool {
	return d == DirectionUp || d == DirectionDown
}

// PricePoint is one (timestamp, probability) sample of a market.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

type Signal struct {
	ID                int64           `json:"id,omitempty"`
	MarketID          string          `json:"market_id"`
	Source            Source          `json:"source"`
	SignalType        SignalType      `json:"signal_type"`
	Timestamp         time.Time       `json:"timestamp"`
	PriorTimestamp    time.Time       `json:"prior_timestamp"`
	PriorPrice        float64         `json:"prior_price"`
	NewPrice          float64         `json:"new_price"`
	PriceChange       float64         `json:"price_change"`
	PercentChange     float64         `json:"percent_change"`
	Direction         SignalDirection `json:"direction"`
	WindowSize        int             `json:"window_size,omitempty"`
	TimeWindowMinutes int             `json:"time_window_minutes"`
	Explanation       string          `json:"explanation,omitempty"`
	CreatedAt         time.Time       `json:"created_at,omitempty"`
}

// SignalKey is the idempotency key enforced by every signal store.
type SignalKey struct {
	MarketID   string
	Timestamp  time.Time
	SignalType SignalType
}

func (s Signal) Key() SignalKey {
	return SignalKey{MarketID: s.MarketID, Timestamp: s.Timestamp.UTC(), SignalType: s.SignalType}
}

// CollapseByKey keeps one signal per idempotency key, the one with the larger
// |price_change|. Order of first appearance is preserved.
func CollapseByKey(signals []Signal) []Signal {
	if len(signals) < 2 {
		return signals
	}
	pos := make(map[SignalKey]int, len(signals))
	out := make([]Signal, 0, len(signals))
	for _, sig := range signals {
		k := sig.Key()
		i, seen := pos[k]
		if !seen {
			pos[k] = len(out)
			out = append(out, sig)
			continue
		}
		if math.Abs(sig.PriceChange) > math.Abs(out[i].PriceChange) {
			out[i] = sig
		}
	}
	return out
}

type SignalFilter struct {
	MarketID   string
	Source     Source
	SignalType SignalType
	Direction  SignalDirection
	Since      time.Time
	Limit      int
}

type TrackedMarket struct {
	Source       Source    `json:"source"`
	MarketID     string    `json:"market_id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title,omitempty"`
	EventSlug    string    `json:"event_slug,omitempty"`
	TokenID      string    `json:"token_id,omitempty"`
	SeriesTicker string    `json:"series_ticker,omitempty"`
	OutcomeLabel string    `json:"outcome_label,omitempty"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

const (
	EventTypeSingle       = "single"
	EventTypeMultiOutcome = "multi_outcome"
)

type MarketEvent struct {
	Source    Source `json:"source"`
	Slug      string `json:"slug"`
	Title     string `json:"title,omitempty"`
	Category  string `json:"category,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Closed    bool   `json:"closed"`
	Active    bool   `json:"active"`
}

// MarketSnapshot is a point-in-time copy of a Polymarket market's Gamma metadata.
type MarketSnapshot struct {
	ConditionID       string    `json:"condition_id"`
	Slug              string    `json:"slug"`
	Question          string    `json:"question"`
	SnapshotAt        time.Time `json:"snapshot_at"`
	Active            bool      `json:"active"`
	Closed            bool      `json:"closed"`
	Volume            float64   `json:"volume"`
	Volume24h         float64   `json:"volume_24h"`
	Liquidity         float64   `json:"liquidity"`
	LastTradePrice    float64   `json:"last_trade_price"`
	BestBid           float64   `json:"best_bid"`
	BestAsk           float64   `json:"best_ask"`
	Spread            float64   `json:"spread"`
	OneDayPriceChange float64   `json:"one_day_price_change"`
	Outcomes          []string  `json:"outcomes,omitempty"`
	OutcomePrices     []float64 `json:"outcome_prices,omitempty"`
	ClobTokenIDs      []string  `json:"clob_token_ids,omitempty"`
}

// KalshiCandle is one minute candlestick; prices are in cents as returned by the API.
type KalshiCandle struct {
	Ticker       string
	EndPeriod    time.Time
	Volume       int64
	OpenInterest int64
	PriceOpen    *float64
	PriceClose   *float64
	PriceHigh    *float64
	PriceLow     *float64
	PriceMean    *float64
	YesAskClose  *float64
	YesBidClose  *float64
}

// ProbabilityPrice scales a caller-supplied price to [0,1]. Kalshi prices above 1 are
// taken as cents.
func ProbabilityPrice(source Source, price float64) float64 {
	if source == SourceKalshi && price > 1 {
		return price / 100
	}
	return price
}

// Price returns the candle's probability in [0,1], preferring the close over the mean.
func (c KalshiCandle) Price() (float64, bool) {
	switch {
	case c.PriceClose != nil:
		return *c.PriceClose / 100, true
	case c.PriceMean != nil:
		return *c.PriceMean / 100, true
	default:
		return 0, false
	}
}

type PlatformStats struct {
	Markets int `json:"markets"`
	Failed  int `json:"failed"`
	Alerts  int `json:"alerts"`
	Trends  int `json:"trends"`
}

func (p PlatformStats) Signals() int { return p.Alerts + p.Trends }

// DailySignalCount is the number of stored signals per UTC day and platform.
type DailySignalCount struct {
	Day    time.Time `json:"day"`
	Source Source    `json:"source"`
	Alerts int       `json:"alerts"`
	Trends int       `json:"trends"`
	Up     int       `json:"up"`
	Down   int       `json:"down"`
}

type SweepResult struct {
	RunID         string                   `json:"run_id"`
	Status        string                   `json:"status"`
	TotalDetected int                      `json:"total_signals_detected"`
	TotalStored   int                      `json:"total_signals_stored"`
	Stats         map[Source]PlatformStats `json:"stats"`
	Timestamp     time.Time                `json:"timestamp"`
	Signals       []Signal                 `json:"-"`
}

type MarketCollectResult struct {
	MarketID     string `json:"market_id"`
	Slug         string `json:"slug,omitempty"`
	Status       string `json:"status"`
	RecordsAdded int    `json:"records_added"`
	Error        string `json:"error,omitempty"`
}

const (
	CollectStatusSuccess  = "success"
	CollectStatusUpToDate = "up_to_date"
	CollectStatusNoData   = "no_data"
	CollectStatusError    = "error"
)

type CollectResult struct {
	Source           Source                `json:"source"`
	MarketsProcessed int                   `json:"markets_processed"`
	RecordsAdded     int                   `json:"total_records_added"`
	Results          []MarketCollectResult `json:"results"`
	Error            string                `json:"error,omitempty"`
	Duration         time.Duration         `json:"-"`
}

// CollectAllResult reports one collection pass over both platforms.
type CollectAllResult struct {
	Polymarket   CollectResult `json:"polymarket"`
	Kalshi       CollectResult `json:"kalshi"`
	TotalRecords int           `json:"total_records_added"`
	Timestamp    time.Time     `json:"timestamp"`
}
