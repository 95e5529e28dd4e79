package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"prediction-pulse/internal/domain"
)

type Engine struct {
	cfg domain.SignalConfig
}

// NewEngine validates cfg once so detection never sees an invalid configuration.
func NewEngine(cfg domain.SignalConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() domain.SignalConfig {
	return e.cfg
}

// Detect runs both detectors over one market's series and deduplicates the combined result.
func (e *Engine) Detect(marketID string, source domain.Source, points []domain.PricePoint) []domain.Signal {
	series := normalizePoints(points)
	if len(series) < 2 {
		return nil
	}

	combined := DetectAlerts(series, e.cfg)
	if e.cfg.TrendEnabled {
		combined = append(combined, DetectTrends(series, e.cfg)...)
	}
	for i := range combined {
		combined[i].MarketID = marketID
		combined[i].Source = source
	}
	return Deduplicate(combined, e.cfg)
}

// normalizePoints drops non-finite prices and sorts ascending; duplicate timestamps are kept.
func normalizePoints(in []domain.PricePoint) []domain.PricePoint {
	out := make([]domain.PricePoint, 0, len(in))
	for _, p := range in {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Timestamp.IsZero() {
			continue
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func newSignal(kind domain.SignalType, prior, current domain.PricePoint, baseline float64) domain.Signal {
	change := current.Price - baseline
	direction := domain.DirectionDown
	if current.Price > baseline {
		direction = domain.DirectionUp
	}
	return domain.Signal{
		SignalType:        kind,
		Timestamp:         current.Timestamp,
		PriorTimestamp:    prior.Timestamp,
		PriorPrice:        baseline,
		NewPrice:          current.Price,
		PriceChange:       change,
		PercentChange:     change / baseline,
		Direction:         direction,
		TimeWindowMinutes: windowMinutes(prior.Timestamp, current.Timestamp),
	}
}

func windowMinutes(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Minutes()))
}

func describe(s domain.Signal) string {
	switch s.SignalType {
	case domain.SignalTypeTrend:
		return fmt.Sprintf("%s trend of %+.1f%% vs %d-point baseline %.3f over %d min",
			s.Direction, s.PercentChange*100, s.WindowSize, s.PriorPrice, s.TimeWindowMinutes)
	default:
		return fmt.Sprintf("%s move of %+.1f%% (%.3f -> %.3f) in %d min",
			s.Direction, s.PercentChange*100, s.PriorPrice, s.NewPrice, s.TimeWindowMinutes)
	}
}
