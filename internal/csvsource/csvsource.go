// Package csvsource reads and writes price series as CSV files.
package csvsource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/araddon/dateparse"
)

var ErrMissingColumns = errors.New("csv: required timestamp or price column not found")

var (
	priceCandidates     = []string{"price", "price_close", "close"}
	timestampCandidates = []string{"timestamp", "datetime", "time", "date"}
)

const exportLayout = "2006-01-02 15:04:05"

type Options struct {
	PriceColumn     string
	TimestampColumn string
	Source          domain.Source
}

type Result struct {
	Points          []domain.PricePoint
	Skipped         int
	PriceColumn     string
	TimestampColumn string
}

// ReadSeries parses a price series. Header names match case-insensitively, rows that
// fail to parse are skipped and counted, and the output is sorted ascending.
func ReadSeries(r io.Reader, opts Options) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrMissingColumns)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	priceIdx, priceName := pick(index, header, opts.PriceColumn, priceCandidates)
	tsIdx, tsName := pick(index, header, opts.TimestampColumn, timestampCandidates)
	if priceIdx < 0 || tsIdx < 0 {
		return nil, fmt.Errorf("%w (available: %s)", ErrMissingColumns, strings.Join(header, ", "))
	}

	res := &Result{PriceColumn: priceName, TimestampColumn: tsName}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			log.Printf("csv: skipping line %d: %v", line, err)
			res.Skipped++
			continue
		}
		point, err := parseRow(record, tsIdx, priceIdx, opts.Source)
		if err != nil {
			log.Printf("csv: skipping line %d: %v", line, err)
			res.Skipped++
			continue
		}
		res.Points = append(res.Points, point)
	}

	sort.SliceStable(res.Points, func(i, j int) bool {
		return res.Points[i].Timestamp.Before(res.Points[j].Timestamp)
	})
	return res, nil
}

func pick(index map[string]int, header []string, explicit string, candidates []string) (int, string) {
	names := candidates
	if explicit = strings.ToLower(strings.TrimSpace(explicit)); explicit != "" {
		names = append([]string{explicit}, candidates...)
	}
	for _, name := range names {
		if i, ok := index[name]; ok {
			return i, header[i]
		}
	}
	return -1, ""
}

func parseRow(record []string, tsIdx, priceIdx int, source domain.Source) (domain.PricePoint, error) {
	if tsIdx >= len(record) || priceIdx >= len(record) {
		return domain.PricePoint{}, fmt.Errorf("row has %d fields", len(record))
	}
	ts, err := dateparse.ParseIn(strings.TrimSpace(record[tsIdx]), time.UTC)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse timestamp %q: %w", record[tsIdx], err)
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(record[priceIdx]), 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse price %q: %w", record[priceIdx], err)
	}
	return domain.PricePoint{Timestamp: ts.UTC(), Price: domain.ProbabilityPrice(source, price)}, nil
}

// WriteSeries writes a Timestamp,Price CSV with UTC timestamps.
func WriteSeries(w io.Writer, points []domain.PricePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Timestamp", "Price"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := cw.Write([]string{
			p.Timestamp.UTC().Format(exportLayout),
			strconv.FormatFloat(p.Price, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
