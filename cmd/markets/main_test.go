package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"prediction-pulse/internal/domain"
)

type trackCall struct {
	source domain.Source
	ref    string
}

type stubTracker struct {
	markets        []domain.TrackedMarket
	tracked        []trackCall
	failRef        string
	untracked      int64
	lastSource     domain.Source
	lastActiveOnly bool
}

func (s *stubTracker) Track(_ context.Context, source domain.Source, ref string) ([]domain.TrackedMarket, error) {
	s.tracked = append(s.tracked, trackCall{source: source, ref: ref})
	if ref == s.failRef {
		return nil, errors.New("upstream unavailable")
	}
	return []domain.TrackedMarket{{Source: source, MarketID: ref}, {Source: source, MarketID: ref + "-2"}}, nil
}

func (s *stubTracker) Untrack(_ context.Context, source domain.Source, _ string) (int64, error) {
	s.lastSource = source
	return s.untracked, nil
}

func (s *stubTracker) ListTracked(_ context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error) {
	s.lastSource = source
	s.lastActiveOnly = activeOnly
	return s.markets, nil
}

type stubFinder struct {
	market  *domain.TrackedMarket
	lastRef string
}

func (s *stubFinder) FindMarket(_ context.Context, _ domain.Source, ref string) (*domain.TrackedMarket, error) {
	s.lastRef = ref
	return s.market, nil
}

func newTestCLI() (*cli, *stubTracker, *stubFinder, *bytes.Buffer) {
	tr := &stubTracker{}
	f := &stubFinder{}
	out := &bytes.Buffer{}
	return &cli{tracking: tr, markets: f, out: out}, tr, f, out
}

func TestListRendersTable(t *testing.T) {
	c, tr, _, out := newTestCLI()
	tr.markets = []domain.TrackedMarket{
		{Source: domain.SourceKalshi, MarketID: "KXFED-25DEC-T4.00", Slug: "KXFED-25DEC-T4.00", EventSlug: "KXFED-25DEC", Active: false},
	}

	if err := c.run(context.Background(), []string{"list", "--source", "Kalshi", "--all"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.lastSource != domain.SourceKalshi || tr.lastActiveOnly {
		t.Fatalf("unexpected list call: %s active=%v", tr.lastSource, tr.lastActiveOnly)
	}
	if !strings.Contains(out.String(), "KXFED-25DEC-T4.00") || !strings.Contains(out.String(), "false") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestListEmptyDefaultsToActive(t *testing.T) {
	c, tr, _, out := newTestCLI()
	if err := c.run(context.Background(), []string{"list"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.lastSource != "" || !tr.lastActiveOnly {
		t.Fatalf("expected active markets from both sources, got %q active=%v", tr.lastSource, tr.lastActiveOnly)
	}
	if !strings.Contains(out.String(), "no tracked markets") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestShowUppercasesKalshi(t *testing.T) {
	c, _, f, out := newTestCLI()
	f.market = &domain.TrackedMarket{Source: domain.SourceKalshi, MarketID: "KXFED-25DEC-T4.00", Active: true}

	if err := c.run(context.Background(), []string{"show", "kalshi", "kxfed-25dec-t4.00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.lastRef != "KXFED-25DEC-T4.00" {
		t.Fatalf("expected uppercased ticker, got %s", f.lastRef)
	}
	if !strings.Contains(out.String(), `"market_id": "KXFED-25DEC-T4.00"`) {
		t.Fatalf("unexpected output: %q", out.String())
	}

	f.market = nil
	if err := c.run(context.Background(), []string{"show", "kalshi", "missing"}); err == nil {
		t.Fatal("expected not tracked error")
	}
}

func TestAddAndRemove(t *testing.T) {
	c, tr, _, out := newTestCLI()
	if err := c.run(context.Background(), []string{"add", "polymarket", "fed-decision-in-december"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.tracked) != 1 || tr.tracked[0].ref != "fed-decision-in-december" {
		t.Fatalf("unexpected track calls: %+v", tr.tracked)
	}
	if !strings.Contains(out.String(), "tracking 2 polymarket markets") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	if err := c.run(context.Background(), []string{"remove", "polymarket", "fed-decision-in-december"}); err == nil {
		t.Fatal("expected error when nothing was deactivated")
	}
	tr.untracked = 3
	if err := c.run(context.Background(), []string{"remove", "polymarket", "fed-decision-in-december"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "deactivated 3 polymarket markets") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestArgumentErrors(t *testing.T) {
	c, _, _, _ := newTestCLI()
	cases := [][]string{
		nil,
		{"frobnicate"},
		{"add", "polymarket"},
		{"add", "nyse", "AAPL"},
		{"list", "--source", "nyse"},
		{"seed"},
	}
	for _, args := range cases {
		if err := c.run(context.Background(), args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestSeedTracksEntriesAndReportsFailures(t *testing.T) {
	origRead := readFile
	defer func() { readFile = origRead }()
	readFile = func(string) ([]byte, error) {
		return []byte(`markets:
  - source: polymarket
    ref: fed-decision-in-december
  - source: kalshi
    ref: KXFED-25DEC
  - source: nyse
    ref: AAPL
  - source: kalshi
    ref: KXBROKEN
`), nil
	}

	c, tr, _, out := newTestCLI()
	tr.failRef = "KXBROKEN"

	err := c.run(context.Background(), []string{"seed", "markets.yaml"})
	if err == nil || !strings.Contains(err.Error(), "2 of 4") {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if len(tr.tracked) != 3 {
		t.Fatalf("expected 3 track attempts, got %+v", tr.tracked)
	}
	if tr.tracked[1].source != domain.SourceKalshi || tr.tracked[1].ref != "KXFED-25DEC" {
		t.Fatalf("unexpected second call: %+v", tr.tracked[1])
	}
	if !strings.Contains(out.String(), "seeded 4 markets from 4 entries (2 failed)") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestSeedRejectsEmptyFile(t *testing.T) {
	origRead := readFile
	defer func() { readFile = origRead }()
	readFile = func(string) ([]byte, error) { return []byte("markets: []\n"), nil }

	c, _, _, _ := newTestCLI()
	if err := c.run(context.Background(), []string{"seed", "empty.yaml"}); err == nil {
		t.Fatal("expected empty seed error")
	}
}
