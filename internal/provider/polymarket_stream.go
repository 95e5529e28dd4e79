package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	DefaultStreamURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	streamInitialBackoff = time.Second
	streamMaxBackoff     = 60 * time.Second
	streamBackoffFactor  = 2.0
	streamJitter         = 0.2
	streamReadTimeout    = 70 * time.Second
	streamWriteTimeout   = 10 * time.Second
)

// StreamPrice is one live price observation for a CLOB token.
type StreamPrice struct {
	TokenID string
	Point   domain.PricePoint
}

// PolymarketStream follows the CLOB market channel for a set of tokens and reports
// last_trade_price and price_change events. It reconnects with capped exponential backoff.
type PolymarketStream struct {
	url     string
	handler func(StreamPrice)
	dialer  *websocket.Dialer

	mu     sync.RWMutex
	tokens []string

	backoff time.Duration
	now     func() time.Time
}

func NewPolymarketStream(url string, handler func(StreamPrice)) *PolymarketStream {
	if url == "" {
		url = DefaultStreamURL
	}
	return &PolymarketStream{
		url:     url,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: streamInitialBackoff,
		now:     time.Now,
	}
}

// SetHandler replaces the price callback. Call it before Run.
func (s *PolymarketStream) SetHandler(handler func(StreamPrice)) {
	s.handler = handler
}

// SetTokens replaces the subscription; it applies on the next (re)connect.
func (s *PolymarketStream) SetTokens(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append([]string(nil), tokens...)
}

func (s *PolymarketStream) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tokens...)
}

// Run blocks until ctx is cancelled.
func (s *PolymarketStream) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := s.connect(ctx)
		if err != nil {
			log.Printf("polymarket stream connect failed: %v (retry in %s)", err, s.backoff)
			if err := s.wait(ctx); err != nil {
				return err
			}
			continue
		}

		err = s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("polymarket stream disconnected: %v", err)
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

func (s *PolymarketStream) connect(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	conn, resp, err := s.dialer.DialContext(ctx, s.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	tokens := s.Tokens()
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(map[string]any{"type": "market", "assets_ids": tokens}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	s.backoff = streamInitialBackoff
	log.Printf("polymarket stream subscribed to %d tokens", len(tokens))
	return conn, nil
}

func (s *PolymarketStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, p := range ParseStreamMessage(msg, s.now()) {
			if s.handler != nil {
				s.handler(p)
			}
		}
	}
}

func (s *PolymarketStream) wait(ctx context.Context) error {
	jitter := time.Duration(float64(s.backoff) * streamJitter * (rand.Float64()*2 - 1))
	err := sleepCtx(ctx, s.backoff+jitter)

	s.backoff = time.Duration(float64(s.backoff) * streamBackoffFactor)
	if s.backoff > streamMaxBackoff {
		s.backoff = streamMaxBackoff
	}
	return err
}

type streamEvent struct {
	EventType    string `json:"event_type"`
	Type         string `json:"type"`
	AssetID      string `json:"asset_id"`
	Price        string `json:"price"`
	Timestamp    string `json:"timestamp"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		Price   string `json:"price"`
	} `json:"price_changes"`
}

// ParseStreamMessage extracts prices from a market channel frame, which may hold a single
// event or an array of events. Unknown and malformed events are ignored.
func ParseStreamMessage(data []byte, now time.Time) []StreamPrice {
	var events []streamEvent
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil
		}
	} else {
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil
		}
		events = []streamEvent{ev}
	}

	var out []StreamPrice
	for _, ev := range events {
		kind := ev.EventType
		if kind == "" {
			kind = ev.Type
		}
		ts := parseMillis(ev.Timestamp, now)
		switch kind {
		case "last_trade_price":
			if p, ok := parsePrice(ev.Price); ok && ev.AssetID != "" {
				out = append(out, StreamPrice{TokenID: ev.AssetID, Point: domain.PricePoint{Timestamp: ts, Price: p}})
			}
		case "price_change":
			for _, pc := range ev.PriceChanges {
				asset := pc.AssetID
				if asset == "" {
					asset = ev.AssetID
				}
				if p, ok := parsePrice(pc.Price); ok && asset != "" {
					out = append(out, StreamPrice{TokenID: asset, Point: domain.PricePoint{Timestamp: ts, Price: p}})
				}
			}
		}
	}
	return out
}

func parsePrice(raw string) (float64, bool) {
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil || p < 0 || p > 1 {
		return 0, false
	}
	return p, true
}

func parseMillis(raw string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return fallback.UTC()
	}
	return time.UnixMilli(ms).UTC()
}
