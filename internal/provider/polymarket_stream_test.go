package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseStreamMessageLastTradePrice(t *testing.T) {
	now := time.Unix(50, 0)
	got := ParseStreamMessage([]byte(`{"event_type":"last_trade_price","asset_id":"111","price":"0.57","timestamp":"1700000000000"}`), now)
	if len(got) != 1 {
		t.Fatalf("expected 1 price, got %d", len(got))
	}
	if got[0].TokenID != "111" || got[0].Point.Price != 0.57 || got[0].Point.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected price: %+v", got[0])
	}
}

func TestParseStreamMessagePriceChangeArray(t *testing.T) {
	now := time.Unix(50, 0)
	msg := `[{"event_type":"price_change","market":"0xabc","price_changes":[{"asset_id":"111","price":"0.4"},{"asset_id":"222","price":"0.6"}]},
		{"event_type":"book","asset_id":"111"}]`
	got := ParseStreamMessage([]byte(msg), now)
	if len(got) != 2 {
		t.Fatalf("expected 2 prices, got %d", len(got))
	}
	if !got[0].Point.Timestamp.Equal(now.UTC()) {
		t.Fatalf("expected fallback timestamp, got %s", got[0].Point.Timestamp)
	}
}

func TestParseStreamMessageIgnoresGarbage(t *testing.T) {
	for _, msg := range []string{"PONG", `{"event_type":"last_trade_price","asset_id":"1","price":"abc"}`, `{"event_type":"last_trade_price","asset_id":"1","price":"4.2"}`} {
		if got := ParseStreamMessage([]byte(msg), time.Now()); len(got) != 0 {
			t.Fatalf("expected nothing from %q, got %+v", msg, got)
		}
	}
}

func TestPolymarketStreamSubscribesAndDeliversPrices(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	subscribed := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event_type":"last_trade_price","asset_id":"111","price":"0.5","timestamp":"1700000000000"}`))
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	got := make(chan StreamPrice, 1)
	stream := NewPolymarketStream("ws"+strings.TrimPrefix(srv.URL, "http"), func(p StreamPrice) { got <- p })
	stream.SetTokens([]string{"111"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	select {
	case sub := <-subscribed:
		if sub["type"] != "market" {
			t.Fatalf("unexpected subscription: %v", sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}

	select {
	case p := <-got:
		if p.TokenID != "111" || p.Point.Price != 0.5 {
			t.Fatalf("unexpected price: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for price")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
