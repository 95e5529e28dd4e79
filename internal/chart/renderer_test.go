package chart

import (
	"bytes"
	"errors"
	"image/png"
	"math"
	"testing"
	"time"

	"prediction-pulse/internal/domain"
)

func TestRenderSeriesWithSignals(t *testing.T) {
	renderer := NewRenderer()
	points := buildTestPoints(180)
	signals := []domain.Signal{
		{
			SignalType: domain.SignalTypeAlert,
			Direction:  domain.DirectionUp,
			Timestamp:  points[60].Timestamp,
			NewPrice:   points[60].Price,
		},
		{
			SignalType:     domain.SignalTypeTrend,
			Direction:      domain.DirectionDown,
			Timestamp:      points[150].Timestamp,
			PriorTimestamp: points[120].Timestamp,
			PriorPrice:     points[120].Price,
			NewPrice:       points[150].Price,
		},
		{
			SignalType: domain.SignalTypeAlert,
			Direction:  domain.DirectionDown,
			Timestamp:  points[0].Timestamp.Add(-time.Hour),
		},
	}

	out, err := renderer.RenderSeries(points, signals)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if out.MimeType != "image/png" || len(out.Bytes) == 0 {
		t.Fatalf("unexpected image: %s (%d bytes)", out.MimeType, len(out.Bytes))
	}
	decoded, err := png.Decode(bytes.NewReader(out.Bytes))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if decoded.Bounds().Dx() != out.Width || decoded.Bounds().Dy() != out.Height {
		t.Fatalf("unexpected bounds %v", decoded.Bounds())
	}
}

func TestRenderSeriesNeedsTwoPoints(t *testing.T) {
	renderer := NewRenderer()
	one := []domain.PricePoint{{Timestamp: time.Now(), Price: 0.5}, {Timestamp: time.Now(), Price: math.NaN()}}
	if _, err := renderer.RenderSeries(one, nil); !errors.Is(err, domain.ErrNoPriceData) {
		t.Fatalf("expected ErrNoPriceData for a single finite point, got %v", err)
	}
}

func TestIndexAtTime(t *testing.T) {
	points := buildTestPoints(10)
	if got := indexAtTime(points, points[4].Timestamp); got != 4 {
		t.Fatalf("expected index 4, got %d", got)
	}
	if got := indexAtTime(points, points[4].Timestamp.Add(30*time.Second)); got != 5 {
		t.Fatalf("expected next index 5, got %d", got)
	}
	if got := indexAtTime(points, points[9].Timestamp.Add(time.Minute)); got != -1 {
		t.Fatalf("expected -1 past the end, got %d", got)
	}
}

func buildTestPoints(count int) []domain.PricePoint {
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	out := make([]domain.PricePoint, 0, count)
	price := 0.4
	for i := 0; i < count; i++ {
		price += float64((i%7)-3) * 0.004
		out = append(out, domain.PricePoint{Timestamp: base.Add(time.Duration(i) * time.Minute), Price: price})
	}
	return out
}
