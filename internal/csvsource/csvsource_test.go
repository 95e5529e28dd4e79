package csvsource

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"prediction-pulse/internal/domain"
)

func TestReadSeriesDetectsColumnsCaseInsensitively(t *testing.T) {
	in := "Date,Close,Volume\n" +
		"2025-01-01 00:02:00,0.52,10\n" +
		"2025-01-01 00:00:00,0.50,12\n" +
		"2025-01-01T00:01:00Z,0.51,9\n"
	res, err := ReadSeries(strings.NewReader(in), Options{Source: domain.SourcePolymarket})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PriceColumn != "Close" || res.TimestampColumn != "Date" {
		t.Fatalf("unexpected columns: %s %s", res.TimestampColumn, res.PriceColumn)
	}
	if len(res.Points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(res.Points))
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !res.Points[0].Timestamp.Equal(want) || res.Points[0].Price != 0.50 {
		t.Fatalf("expected sorted output starting at %s, got %+v", want, res.Points[0])
	}
}

func TestReadSeriesStripsByteOrderMark(t *testing.T) {
	in := "\ufeffTimestamp,Price\n2025-01-01 00:00:00,0.40\n2025-01-01 00:01:00,0.45\n"
	res, err := ReadSeries(strings.NewReader(in), Options{Source: domain.SourcePolymarket})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Points) != 2 || res.Skipped != 0 {
		t.Fatalf("expected 2 points and no skips, got %d/%d", len(res.Points), res.Skipped)
	}
}

func TestReadSeriesPrefersExplicitColumns(t *testing.T) {
	in := "timestamp,price,mid\n2025-01-01 00:00:00,0.5,0.7\n"
	res, err := ReadSeries(strings.NewReader(in), Options{PriceColumn: "MID"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Points[0].Price != 0.7 {
		t.Fatalf("expected explicit column, got %v", res.Points[0].Price)
	}
}

func TestReadSeriesSkipsBadRows(t *testing.T) {
	in := "timestamp,price\n" +
		"2025-01-01 00:00:00,0.5\n" +
		"not a date,0.6\n" +
		"2025-01-01 00:02:00,abc\n" +
		"2025-01-01 00:03:00\n" +
		"2025-01-01 00:04:00,0.7\n"
	res, err := ReadSeries(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Points) != 2 || res.Skipped != 3 {
		t.Fatalf("expected 2 points and 3 skipped, got %d and %d", len(res.Points), res.Skipped)
	}
}

func TestReadSeriesKalshiCents(t *testing.T) {
	in := "timestamp,price_close\n2025-01-01 00:00:00,42\n2025-01-01 00:01:00,0.43\n"
	res, err := ReadSeries(strings.NewReader(in), Options{Source: domain.SourceKalshi})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Points[0].Price != 0.42 || res.Points[1].Price != 0.43 {
		t.Fatalf("expected cents to be normalized, got %+v", res.Points)
	}
}

func TestReadSeriesMissingColumns(t *testing.T) {
	_, err := ReadSeries(strings.NewReader("when,value\n1,2\n"), Options{})
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
}

func TestWriteSeriesThenReadBack(t *testing.T) {
	points := []domain.PricePoint{
		{Timestamp: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC), Price: 0.25},
		{Timestamp: time.Date(2025, 2, 3, 4, 6, 6, 0, time.UTC), Price: 0.3},
	}
	var buf bytes.Buffer
	if err := WriteSeries(&buf, points); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Timestamp,Price\n2025-02-03 04:05:06,0.25\n") {
		t.Fatalf("unexpected csv: %q", buf.String())
	}

	res, err := ReadSeries(&buf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Points) != 2 || !res.Points[1].Timestamp.Equal(points[1].Timestamp) {
		t.Fatalf("unexpected round trip: %+v", res.Points)
	}
}
