package mcp

import (
	"context"
	"fmt"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/service"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerTools(server *mcp.Server, signals SignalBackend, markets MarketReader, sweepDefaults service.SweepOptions) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "signals_list",
		Description: "List stored alert and trend signals, newest first, with optional filters",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in signalsListInput) (*mcp.CallToolResult, signalsListOutput, error) {
		if signals == nil {
			return nil, signalsListOutput{}, fmt.Errorf("signal service unavailable")
		}
		filter, err := normalizeSignalFilter(in)
		if err != nil {
			return nil, signalsListOutput{}, err
		}
		result, err := signals.ListSignals(ctx, filter)
		if err != nil {
			return nil, signalsListOutput{}, err
		}
		if result == nil {
			result = []domain.Signal{}
		}
		return nil, signalsListOutput{Signals: result}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "signals_sweep",
		Description: "Scan every active market for new signals and store them",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in signalsSweepInput) (*mcp.CallToolResult, signalsSweepOutput, error) {
		if signals == nil {
			return nil, signalsSweepOutput{}, fmt.Errorf("signal service unavailable")
		}
		opts := sweepDefaults
		if in.LookbackHours < 0 {
			return nil, signalsSweepOutput{}, fmt.Errorf("lookback_hours must be positive")
		}
		if in.LookbackHours > 0 {
			opts.LookbackHours = in.LookbackHours
		}
		if in.UseAllAvailable {
			opts.UseAllAvailable = true
		}
		result, err := signals.Sweep(ctx, opts)
		if err != nil {
			return nil, signalsSweepOutput{}, err
		}
		if result == nil {
			return nil, signalsSweepOutput{}, fmt.Errorf("sweep returned no result")
		}
		out := *result
		if out.Stats == nil {
			out.Stats = map[domain.Source]domain.PlatformStats{}
		}
		return nil, signalsSweepOutput{Result: &out}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "signals_detect_series",
		Description: "Run alert and trend detection over a caller-supplied price series",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in signalsDetectSeriesInput) (*mcp.CallToolResult, signalsDetectSeriesOutput, error) {
		if signals == nil {
			return nil, signalsDetectSeriesOutput{}, fmt.Errorf("signal service unavailable")
		}
		source, err := normalizeSource(in.Source, true)
		if err != nil {
			return nil, signalsDetectSeriesOutput{}, err
		}
		marketID, err := normalizeMarketID(source, in.MarketID)
		if err != nil {
			return nil, signalsDetectSeriesOutput{}, err
		}
		points, err := normalizeSeries(source, in.Points)
		if err != nil {
			return nil, signalsDetectSeriesOutput{}, err
		}
		detected, err := signals.DetectSeries(ctx, marketID, source, points, in.Store)
		if err != nil {
			return nil, signalsDetectSeriesOutput{}, err
		}
		if detected == nil {
			detected = []domain.Signal{}
		}
		return nil, signalsDetectSeriesOutput{Config: signals.Config(), Count: len(detected), Signals: detected}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "prices_list",
		Description: "Get the stored price series of one market",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in pricesListInput) (*mcp.CallToolResult, pricesListOutput, error) {
		if signals == nil {
			return nil, pricesListOutput{}, fmt.Errorf("signal service unavailable")
		}
		source, err := normalizeSource(in.Source, true)
		if err != nil {
			return nil, pricesListOutput{}, err
		}
		marketID, err := normalizeMarketID(source, in.MarketID)
		if err != nil {
			return nil, pricesListOutput{}, err
		}
		since, limit := normalizePriceWindow(in.Hours, in.Limit)
		points, err := signals.Series(ctx, source, marketID, since, limit)
		if err != nil {
			return nil, pricesListOutput{}, err
		}
		if points == nil {
			points = []domain.PricePoint{}
		}
		return nil, pricesListOutput{Source: source, MarketID: marketID, Points: points}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "markets_list",
		Description: "List tracked markets",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in marketsListInput) (*mcp.CallToolResult, marketsListOutput, error) {
		if markets == nil {
			return nil, marketsListOutput{}, fmt.Errorf("market registry unavailable")
		}
		source, err := normalizeSource(in.Source, false)
		if err != nil {
			return nil, marketsListOutput{}, err
		}
		list, err := markets.ListTracked(ctx, source, !in.IncludeInactive)
		if err != nil {
			return nil, marketsListOutput{}, err
		}
		if list == nil {
			list = []domain.TrackedMarket{}
		}
		return nil, marketsListOutput{Markets: list}, nil
	})
}
