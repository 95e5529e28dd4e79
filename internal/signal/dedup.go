package signal

import (
	"math"
	"sort"
	"time"

	"prediction-pulse/internal/domain"
)

// Deduplicate collapses signals that describe the same price movement. Signals within
// DedupWindowMinutes of the last kept signal and in the same direction are one event;
// the later one replaces the kept one only if its absolute price change is more than
// DedupMargin larger. The pass is greedy and stable, so its output is a fixed point.
func Deduplicate(signals []domain.Signal, cfg domain.SignalConfig) []domain.Signal {
	if len(signals) == 0 {
		return nil
	}

	sorted := make([]domain.Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	window := time.Duration(cfg.DedupWindowMinutes) * time.Minute
	unique := make([]domain.Signal, 0, len(sorted))
	unique = append(unique, sorted[0])
	for _, s := range sorted[1:] {
		last := unique[len(unique)-1]
		gap := s.Timestamp.Sub(last.Timestamp)
		if gap > window || s.Direction != last.Direction {
			unique = append(unique, s)
			continue
		}
		if relativeIncrease(last.PriceChange, s.PriceChange) > cfg.DedupMargin {
			unique[len(unique)-1] = s
		}
	}
	return unique
}

func relativeIncrease(kept, candidate float64) float64 {
	if kept == 0 {
		return 0
	}
	return (math.Abs(candidate) - math.Abs(kept)) / math.Abs(kept)
}
