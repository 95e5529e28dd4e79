package mcp

import (
	"context"
	"testing"
	"time"

	"prediction-pulse/internal/domain"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestResourcesStaticAndTemplated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	srv, signals, _ := testServer()
	session, shutdown, err := connectInMemory(ctx, srv)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer shutdown()
	defer session.Close()

	list, err := session.ListResources(ctx, &sdkmcp.ListResourcesParams{})
	if err != nil {
		t.Fatalf("list resources failed: %v", err)
	}
	if len(list.Resources) != 3 {
		t.Fatalf("expected 3 static resources, got %d", len(list.Resources))
	}

	templates, err := session.ListResourceTemplates(ctx, &sdkmcp.ListResourceTemplatesParams{})
	if err != nil {
		t.Fatalf("list templates failed: %v", err)
	}
	if len(templates.ResourceTemplates) != 2 {
		t.Fatalf("expected 2 resource templates, got %d", len(templates.ResourceTemplates))
	}

	readRes, err := session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: "signals://config"})
	if err != nil {
		t.Fatalf("read config resource failed: %v", err)
	}
	var cfg domain.SignalConfig
	if err := decodeResourceJSON(readRes, &cfg); err != nil {
		t.Fatalf("decode config failed: %v", err)
	}
	if cfg != domain.DefaultSignalConfig() {
		t.Fatalf("unexpected config payload: %+v", cfg)
	}

	readRes, err = session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: "markets://tracked"})
	if err != nil {
		t.Fatalf("read markets resource failed: %v", err)
	}
	var tracked marketsListOutput
	if err := decodeResourceJSON(readRes, &tracked); err != nil {
		t.Fatalf("decode markets failed: %v", err)
	}
	if len(tracked.Markets) != 1 || tracked.Markets[0].MarketID != "KXFED-25DEC-T4" {
		t.Fatalf("unexpected markets payload: %+v", tracked)
	}

	readRes, err = session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: "signals://latest?market_id=0xabc&type=alert&limit=10"})
	if err != nil {
		t.Fatalf("read signals resource failed: %v", err)
	}
	var out signalsListOutput
	if err := decodeResourceJSON(readRes, &out); err != nil {
		t.Fatalf("decode signal output failed: %v", err)
	}
	if len(out.Signals) == 0 {
		t.Fatal("expected signals payload")
	}
	if signals.lastFilter.MarketID != "0xabc" || signals.lastFilter.SignalType != domain.SignalTypeAlert {
		t.Fatalf("unexpected filter: %+v", signals.lastFilter)
	}
	if signals.lastFilter.Limit != 10 {
		t.Fatalf("expected filter limit 10, got %d", signals.lastFilter.Limit)
	}

	readRes, err = session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: "prices://kalshi/kxfed-25dec-t4?hours=6"})
	if err != nil {
		t.Fatalf("read prices resource failed: %v", err)
	}
	var prices pricesListOutput
	if err := decodeResourceJSON(readRes, &prices); err != nil {
		t.Fatalf("decode prices failed: %v", err)
	}
	if prices.MarketID != "KXFED-25DEC-T4" || len(prices.Points) != 2 {
		t.Fatalf("unexpected prices payload: %+v", prices)
	}
}

func TestUnknownResource(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	srv, _, _ := testServer()
	session, shutdown, err := connectInMemory(ctx, srv)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer shutdown()
	defer session.Close()

	if _, err := session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: "prices://nyse/abc"}); err == nil {
		t.Fatal("expected resource not found error for an unknown source")
	}
}
