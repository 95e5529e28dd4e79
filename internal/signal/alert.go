package signal

import (
	"math"

	"prediction-pulse/internal/domain"
)

// DetectAlerts emits one alert per adjacent pair whose relative change reaches the alert threshold.
// Pairs with a zero prior price are skipped. points must already be sorted ascending.
func DetectAlerts(points []domain.PricePoint, cfg domain.SignalConfig) []domain.Signal {
	if len(points) < 2 {
		return nil
	}

	var out []domain.Signal
	for i := 1; i < len(points); i++ {
		prior, current := points[i-1], points[i]
		if prior.Price == 0 {
			continue
		}
		change := (current.Price - prior.Price) / prior.Price
		if math.Abs(change) < cfg.AlertThreshold {
			continue
		}
		s := newSignal(domain.SignalTypeAlert, prior, current, prior.Price)
		s.Explanation = describe(s)
		out = append(out, s)
	}
	return out
}
