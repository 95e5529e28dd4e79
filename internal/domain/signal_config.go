package domain

import "fmt"

const (
	DefaultAlertThreshold     = 0.05
	DefaultTrendThreshold     = 0.15
	DefaultTrendWindowSize    = 10
	DefaultTrendStability     = 3
	DefaultRetracement        = 0.5
	DefaultDedupMargin        = 0.2
	DefaultDedupWindowMinutes = 5
)

// SignalConfig is read-only after construction; detectors never mutate it.
type SignalConfig struct {
	AlertThreshold       float64 `json:"alert_threshold"`
	TrendThreshold       float64 `json:"trend_threshold"`
	TrendWindowSize      int     `json:"trend_window_size"`
	TrendStabilityPoints int     `json:"trend_stability_points"`
	TrendEnabled         bool    `json:"trend_enabled"`

	// Retracement is the fraction of a trend's move each stability point must keep.
	Retracement float64 `json:"retracement"`
	// DedupMargin is the relative price-change increase a duplicate needs to replace the kept signal.
	DedupMargin        float64 `json:"dedup_margin"`
	DedupWindowMinutes int     `json:"dedup_window_minutes"`
}

func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		AlertThreshold:       DefaultAlertThreshold,
		TrendThreshold:       DefaultTrendThreshold,
		TrendWindowSize:      DefaultTrendWindowSize,
		TrendStabilityPoints: DefaultTrendStability,
		TrendEnabled:         true,
		Retracement:          DefaultRetracement,
		DedupMargin:          DefaultDedupMargin,
		DedupWindowMinutes:   DefaultDedupWindowMinutes,
	}
}

func (c SignalConfig) Validate() error {
	if c.AlertThreshold <= 0 {
		return fmt.Errorf("%w: alert threshold must be > 0, got %v", ErrInvalidConfig, c.AlertThreshold)
	}
	if c.TrendThreshold <= 0 {
		return fmt.Errorf("%w: trend threshold must be > 0, got %v", ErrInvalidConfig, c.TrendThreshold)
	}
	if c.TrendWindowSize < 1 {
		return fmt.Errorf("%w: trend window must be >= 1, got %d", ErrInvalidConfig, c.TrendWindowSize)
	}
	if c.TrendStabilityPoints < 0 {
		return fmt.Errorf("%w: stability points must be >= 0, got %d", ErrInvalidConfig, c.TrendStabilityPoints)
	}
	if c.Retracement < 0 || c.Retracement > 1 {
		return fmt.Errorf("%w: retracement must be within [0,1], got %v", ErrInvalidConfig, c.Retracement)
	}
	if c.DedupMargin < 0 {
		return fmt.Errorf("%w: dedup margin must be >= 0, got %v", ErrInvalidConfig, c.DedupMargin)
	}
	if c.DedupWindowMinutes < 0 {
		return fmt.Errorf("%w: dedup window must be >= 0, got %d", ErrInvalidConfig, c.DedupWindowMinutes)
	}
	return nil
}
