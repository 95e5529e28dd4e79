package mcp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/araddon/dateparse"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 200
	defaultPriceHours  = 24
	maxPriceHours      = 24 * 90
	maxPriceLimit      = 10000
	maxDetectPoints    = 50000
)

type signalsListInput struct {
	MarketID  string `json:"market_id,omitempty" jsonschema:"optional condition id or Kalshi ticker"`
	Source    string `json:"source,omitempty" jsonschema:"optional source: polymarket or kalshi"`
	Type      string `json:"type,omitempty" jsonschema:"optional signal type: alert or trend"`
	Direction string `json:"direction,omitempty" jsonschema:"optional direction: up or down"`
	Since     string `json:"since,omitempty" jsonschema:"optional lower time bound, any common date format"`
	Limit     int    `json:"limit,omitempty" jsonschema:"number of signals to return, max 200"`
}

type signalsListOutput struct {
	Signals []domain.Signal `json:"signals"`
}

type signalsSweepInput struct {
	LookbackHours   int  `json:"lookback_hours,omitempty" jsonschema:"hours of price history to scan, default from server config"`
	UseAllAvailable bool `json:"use_all_available,omitempty" jsonschema:"fall back to all stored history when the window is empty"`
}

type signalsSweepOutput struct {
	Result *domain.SweepResult `json:"result"`
}

type seriesPoint struct {
	Timestamp string  `json:"timestamp" jsonschema:"sample time, RFC3339 or any common date format"`
	Price     float64 `json:"price" jsonschema:"probability in [0,1]; Kalshi cents are accepted and scaled"`
}

type signalsDetectSeriesInput struct {
	MarketID string        `json:"market_id" jsonschema:"identifier stored on the detected signals"`
	Source   string        `json:"source" jsonschema:"polymarket or kalshi"`
	Points   []seriesPoint `json:"points" jsonschema:"price series; order does not matter"`
	Store    bool          `json:"store,omitempty" jsonschema:"persist detected signals"`
}

type signalsDetectSeriesOutput struct {
	Config  domain.SignalConfig `json:"config"`
	Count   int                 `json:"count"`
	Signals []domain.Signal     `json:"signals"`
}

type pricesListInput struct {
	Source   string `json:"source" jsonschema:"polymarket or kalshi"`
	MarketID string `json:"market_id,omitempty" jsonschema:"condition id or Kalshi ticker"`
	Hours    int    `json:"hours,omitempty" jsonschema:"lookback in hours, default 24"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum points, max 10000"`
}

type pricesListOutput struct {
	Source   domain.Source       `json:"source"`
	MarketID string              `json:"market_id"`
	Points   []domain.PricePoint `json:"points"`
}

type marketsListInput struct {
	Source          string `json:"source,omitempty" jsonschema:"optional source: polymarket or kalshi"`
	IncludeInactive bool   `json:"include_inactive,omitempty" jsonschema:"include markets that are no longer tracked"`
}

type marketsListOutput struct {
	Markets []domain.TrackedMarket `json:"markets"`
}

func normalizeSource(raw string, required bool) (domain.Source, error) {
	if strings.TrimSpace(raw) == "" {
		if required {
			return "", fmt.Errorf("source is required")
		}
		return "", nil
	}
	return domain.ParseSource(raw)
}

func normalizeMarketID(source domain.Source, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("market_id is required")
	}
	if source == domain.SourceKalshi {
		id = strings.ToUpper(id)
	}
	return id, nil
}

func normalizeSignalLimit(limit int) int {
	if limit <= 0 {
		return defaultSignalLimit
	}
	if limit > maxSignalLimit {
		return maxSignalLimit
	}
	return limit
}

func normalizeSignalFilter(in signalsListInput) (domain.SignalFilter, error) {
	filter := domain.SignalFilter{
		MarketID: strings.TrimSpace(in.MarketID),
		Limit:    normalizeSignalLimit(in.Limit),
	}

	source, err := normalizeSource(in.Source, false)
	if err != nil {
		return domain.SignalFilter{}, err
	}
	filter.Source = source

	if raw := strings.ToLower(strings.TrimSpace(in.Type)); raw != "" {
		t := domain.SignalType(raw)
		if !t.IsValid() {
			return domain.SignalFilter{}, fmt.Errorf("unsupported signal type: %s", raw)
		}
		filter.SignalType = t
	}
	if raw := strings.ToLower(strings.TrimSpace(in.Direction)); raw != "" {
		d := domain.SignalDirection(raw)
		if !d.IsValid() {
			return domain.SignalFilter{}, fmt.Errorf("unsupported direction: %s", raw)
		}
		filter.Direction = d
	}
	if raw := strings.TrimSpace(in.Since); raw != "" {
		since, err := dateparse.ParseIn(raw, time.UTC)
		if err != nil {
			return domain.SignalFilter{}, fmt.Errorf("invalid since %q: %w", raw, err)
		}
		filter.Since = since
	}
	return filter, nil
}

// normalizeSeries parses caller-supplied points; Kalshi prices above 1 are treated as cents.
func normalizeSeries(source domain.Source, in []seriesPoint) ([]domain.PricePoint, error) {
	if len(in) > maxDetectPoints {
		return nil, fmt.Errorf("too many points: %d (max %d)", len(in), maxDetectPoints)
	}
	out := make([]domain.PricePoint, 0, len(in))
	for i, p := range in {
		ts, err := dateparse.ParseIn(strings.TrimSpace(p.Timestamp), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("point %d: invalid timestamp %q", i, p.Timestamp)
		}
		out = append(out, domain.PricePoint{Timestamp: ts.UTC(), Price: domain.ProbabilityPrice(source, p.Price)})
	}
	return out, nil
}

func normalizePriceWindow(hours, limit int) (time.Time, int) {
	if hours <= 0 {
		hours = defaultPriceHours
	}
	if hours > maxPriceHours {
		hours = maxPriceHours
	}
	if limit <= 0 || limit > maxPriceLimit {
		limit = maxPriceLimit
	}
	return time.Now().UTC().Add(-time.Duration(hours) * time.Hour), limit
}

func parseOptionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	return n, nil
}
