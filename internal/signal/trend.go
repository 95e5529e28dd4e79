package signal

import (
	"math"

	"prediction-pulse/internal/domain"
)

// DetectTrends compares each point against the mean of the TrendWindowSize points before it
// and keeps candidates whose move survives the following TrendStabilityPoints samples.
func DetectTrends(points []domain.PricePoint, cfg domain.SignalConfig) []domain.Signal {
	window := cfg.TrendWindowSize
	stability := cfg.TrendStabilityPoints
	if window < 1 || len(points) < window+stability {
		return nil
	}

	step := window / 2
	var out []domain.Signal
	for i := window; i < len(points)-stability; i++ {
		baseline := mean(points[i-window : i])
		if baseline == 0 {
			continue
		}
		change := (points[i].Price - baseline) / baseline
		if math.Abs(change) < cfg.TrendThreshold {
			continue
		}
		up := points[i].Price > baseline
		if !stable(points[i+1:], baseline, change, up, stability, cfg.Retracement) {
			continue
		}

		s := newSignal(domain.SignalTypeTrend, points[i-window], points[i], baseline)
		s.WindowSize = window
		s.Explanation = describe(s)
		out = append(out, s)

		// the loop increment supplies the final step past i
		if step > 1 {
			i += step - 1
		}
	}
	return out
}

func stable(future []domain.PricePoint, baseline, change float64, up bool, count int, retracement float64) bool {
	if count > len(future) {
		count = len(future)
	}
	floor := change * retracement
	for _, p := range future[:count] {
		futureChange := (p.Price - baseline) / baseline
		if up && futureChange < floor {
			return false
		}
		if !up && futureChange > floor {
			return false
		}
	}
	return true
}

func mean(points []domain.PricePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	return sum / float64(len(points))
}
