package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"prediction-pulse/internal/domain"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerResources(server *mcp.Server, signals SignalBackend, markets MarketReader) {
	server.AddResource(&mcp.Resource{
		URI:         "signals://config",
		Name:        "signal-config",
		Description: "Detection thresholds and windows currently in effect",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if signals == nil {
			return nil, fmt.Errorf("signal service unavailable")
		}
		return jsonResource(req.Params.URI, signals.Config())
	})

	server.AddResource(&mcp.Resource{
		URI:         "markets://tracked",
		Name:        "tracked-markets",
		Description: "Active tracked markets on both platforms",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if markets == nil {
			return nil, fmt.Errorf("market registry unavailable")
		}
		list, err := markets.ListTracked(ctx, "", true)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, marketsListOutput{Markets: list})
	})

	server.AddResource(&mcp.Resource{
		URI:         "markets://sources",
		Name:        "supported-sources",
		Description: "Prediction market platforms the service collects from",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return jsonResource(req.Params.URI, domain.SupportedSources)
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "signals://latest{?market_id,source,type,direction,limit}",
		Name:        "signals-latest",
		Description: "Recent signals with optional market/source/type/direction/limit query params",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if signals == nil {
			return nil, fmt.Errorf("signal service unavailable")
		}

		parsed, err := url.Parse(req.Params.URI)
		if err != nil {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		if parsed.Scheme != "signals" || parsed.Host != "latest" {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}

		q := parsed.Query()
		limit, err := parseOptionalInt(q.Get("limit"))
		if err != nil {
			return nil, err
		}
		filter, err := normalizeSignalFilter(signalsListInput{
			MarketID:  q.Get("market_id"),
			Source:    q.Get("source"),
			Type:      q.Get("type"),
			Direction: q.Get("direction"),
			Limit:     limit,
		})
		if err != nil {
			return nil, err
		}
		list, err := signals.ListSignals(ctx, filter)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, signalsListOutput{Signals: list})
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "prices://{source}/{market_id}{?hours}",
		Name:        "prices-by-market",
		Description: "Stored price series for one market; optional hours query param",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if signals == nil {
			return nil, fmt.Errorf("signal service unavailable")
		}

		parsed, err := url.Parse(req.Params.URI)
		if err != nil || parsed.Scheme != "prices" {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		source, err := domain.ParseSource(parsed.Host)
		if err != nil {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		marketID, err := normalizeMarketID(source, strings.Trim(parsed.Path, "/"))
		if err != nil {
			return nil, err
		}
		hours, err := parseOptionalInt(parsed.Query().Get("hours"))
		if err != nil {
			return nil, err
		}

		since, limit := normalizePriceWindow(hours, 0)
		points, err := signals.Series(ctx, source, marketID, since, limit)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, pricesListOutput{Source: source, MarketID: marketID, Points: points})
	})
}

func jsonResource(uri string, payload any) (*mcp.ReadResourceResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(body),
		}},
	}, nil
}
