package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestKalshiMarketAndEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/KXFED-25DEC-T4":
			fmt.Fprint(w, `{"market":{"ticker":"KXFED-25DEC-T4","event_ticker":"KXFED-25DEC","title":"Fed above 4%","status":"active"}}`)
		case "/events/KXFED-25DEC":
			fmt.Fprint(w, `{"event":{"event_ticker":"KXFED-25DEC","title":"Fed rate"},"markets":[{"ticker":"KXFED-25DEC-T4"},{"ticker":"KXFED-25DEC-T5"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewKalshiClient(noopTracer(), srv.URL, srv.Client())
	m, err := c.Market(context.Background(), "KXFED-25DEC-T4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.EventTicker != "KXFED-25DEC" || !m.Active() {
		t.Fatalf("unexpected market: %+v", m)
	}

	ev, markets, err := c.Event(context.Background(), "KXFED-25DEC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Title != "Fed rate" || len(markets) != 2 {
		t.Fatalf("unexpected event: %+v %d markets", ev, len(markets))
	}

	if _, err := c.Market(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKalshiCandlesticksChunksWindow(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/series/KXFED/markets/KXFED-25DEC-T4/candlesticks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("period_interval") != "1" {
			t.Errorf("expected minute candles")
		}
		end, _ := strconv.ParseInt(r.URL.Query().Get("end_ts"), 10, 64)
		fmt.Fprintf(w, `{"candlesticks":[{"end_period_ts":%d,"volume":3,"price":{"close":42,"mean":41},"yes_bid":{"close":41},"yes_ask":{"close":43}},
			{"end_period_ts":%d,"volume":0,"price":{}}]}`, end, end-60)
	}))
	defer srv.Close()

	c := NewKalshiClient(noopTracer(), srv.URL, srv.Client())
	c.client.sleep = noSleep

	start := time.Unix(0, 0).UTC()
	end := start.Add(6000 * time.Minute)
	candles, err := c.Candlesticks(context.Background(), "", "KXFED-25DEC-T4", start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 chunks for 6000 minutes, got %d", calls)
	}
	if len(candles) != 4 {
		t.Fatalf("expected 4 candles, got %d", len(candles))
	}
	if p, ok := candles[0].Price(); !ok || p != 0.42 {
		t.Fatalf("expected close price 0.42, got %v ok=%v", p, ok)
	}
	if _, ok := candles[1].Price(); ok {
		t.Fatal("expected empty candle to have no price")
	}
}

func TestSeriesTicker(t *testing.T) {
	if got := SeriesTicker("KXFED-25DEC"); got != "KXFED" {
		t.Fatalf("expected KXFED, got %s", got)
	}
	if got := SeriesTicker("123"); got != "123" {
		t.Fatalf("expected fallback to input, got %s", got)
	}
}

func TestKalshiTickerFromURL(t *testing.T) {
	if got := KalshiTickerFromURL("https://kalshi.com/markets/kxfed/fed-meeting/kxfed-25dec"); got != "KXFED-25DEC" {
		t.Fatalf("unexpected ticker %s", got)
	}
	if got := KalshiTickerFromURL("kxfed-25dec-t4"); got != "KXFED-25DEC-T4" {
		t.Fatalf("unexpected ticker %s", got)
	}
}
