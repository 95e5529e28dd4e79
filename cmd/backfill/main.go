package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/config"
	"prediction-pulse/internal/csvsource"
	"prediction-pulse/internal/db"
	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/provider"
	"prediction-pulse/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDays = 30
)

var (
	loadEnvFunc = godotenv.Load
	openPool    = pgxpool.New
	nowFunc     = time.Now
)

type options struct {
	source       domain.Source
	ref          string
	seriesTicker string
	days         int
	csvPath      string
}

type polymarketAPI interface {
	MarketBySlug(ctx context.Context, slug string) (*provider.GammaMarket, error)
	PriceHistory(ctx context.Context, tokenID string, start, end time.Time) ([]domain.PricePoint, error)
}

type kalshiAPI interface {
	Candlesticks(ctx context.Context, seriesTicker, ticker string, start, end time.Time) ([]domain.KalshiCandle, error)
}

type marketFinder interface {
	FindMarket(ctx context.Context, source domain.Source, idOrSlug string) (*domain.TrackedMarket, error)
}

type priceStore interface {
	UpsertPolymarketPrices(ctx context.Context, conditionID, tokenID string, points []domain.PricePoint) (int, error)
	UpsertKalshiCandles(ctx context.Context, candles []domain.KalshiCandle) (int, error)
}

// backfiller fetches history for a single market. A nil store writes the series to out as CSV.
type backfiller struct {
	polymarket polymarketAPI
	kalshi     kalshiAPI
	markets    marketFinder
	store      priceStore
	out        io.Writer
}

func main() {
	loadEnvFunc()
	cfg := config.Load()

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("parse options: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()

	tracer := trace.NewNoopTracerProvider().Tracer("backfill")
	b := &backfiller{
		polymarket: provider.NewPolymarketClient(tracer, cfg.PolymarketGammaURL, cfg.PolymarketClobURL, nil),
		kalshi:     provider.NewKalshiClient(tracer, cfg.KalshiAPIURL, nil),
	}

	if opts.csvPath != "" {
		f, err := os.Create(opts.csvPath)
		if err != nil {
			log.Fatalf("create csv: %v", err)
		}
		defer f.Close()
		b.out = f
	} else {
		dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
		if dsn == "" {
			log.Fatal("DATABASE_URL is required unless --csv is set")
		}
		pool, err := openPool(ctx, dsn)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("ping postgres: %v", err)
		}

		marketRepo := repository.NewMarketRepository(pool, tracer)
		priceRepo := repository.NewPriceRepository(pool, tracer)
		if err := db.Migrate(ctx, marketRepo, priceRepo); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
		b.markets = marketRepo
		b.store = priceRepo
	}

	log.Printf("starting backfill: source=%s market=%s days=%d", opts.source, opts.ref, opts.days)
	n, err := b.run(ctx, opts)
	if err != nil {
		log.Fatalf("backfill %s %s: %v", opts.source, opts.ref, err)
	}
	log.Printf("backfill complete: source=%s market=%s records=%d", opts.source, opts.ref, n)
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	sourceRaw := fs.String("source", "", "polymarket or kalshi")
	ref := fs.String("market", "", "market slug, condition id, ticker or URL")
	seriesTicker := fs.String("series-ticker", "", "Kalshi series ticker (derived from the market ticker when empty)")
	days := fs.Int("days", defaultBackfillDays(getenv), "number of historical days to fetch (default from BACKFILL_DAYS, else 30)")
	csvPath := fs.String("csv", "", "write the series to this CSV file instead of Postgres")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if *days <= 0 {
		return options{}, fmt.Errorf("days must be > 0")
	}

	source, err := domain.ParseSource(*sourceRaw)
	if err != nil {
		return options{}, fmt.Errorf("--source: %w", err)
	}

	opts := options{
		source:       source,
		seriesTicker: strings.ToUpper(strings.TrimSpace(*seriesTicker)),
		days:         *days,
		csvPath:      strings.TrimSpace(*csvPath),
	}
	switch source {
	case domain.SourcePolymarket:
		opts.ref = provider.PolymarketSlugFromURL(*ref)
	case domain.SourceKalshi:
		opts.ref = provider.KalshiTickerFromURL(*ref)
	}
	if opts.ref == "" {
		return options{}, fmt.Errorf("--market is required")
	}
	return opts, nil
}

func defaultBackfillDays(getenv func(string) string) int {
	v := strings.TrimSpace(getenv("BACKFILL_DAYS"))
	if v == "" {
		return defaultDays
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultDays
	}
	return n
}

func (b *backfiller) run(ctx context.Context, opts options) (int, error) {
	end := nowFunc().UTC()
	start := end.Add(-time.Duration(opts.days) * 24 * time.Hour)

	switch opts.source {
	case domain.SourcePolymarket:
		return b.polymarketHistory(ctx, opts.ref, start, end)
	case domain.SourceKalshi:
		return b.kalshiHistory(ctx, opts.ref, opts.seriesTicker, start, end)
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnknownSource, opts.source)
}

func (b *backfiller) polymarketHistory(ctx context.Context, ref string, start, end time.Time) (int, error) {
	conditionID, tokenID, err := b.resolvePolymarket(ctx, ref)
	if err != nil {
		return 0, err
	}

	points, err := b.polymarket.PriceHistory(ctx, tokenID, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetch price history: %w", err)
	}
	if len(points) == 0 {
		log.Printf("no price history returned for %s", ref)
		return 0, nil
	}
	if b.store == nil {
		return len(points), csvsource.WriteSeries(b.out, points)
	}
	return b.store.UpsertPolymarketPrices(ctx, conditionID, tokenID, points)
}

func (b *backfiller) resolvePolymarket(ctx context.Context, ref string) (string, string, error) {
	if b.markets != nil {
		tracked, err := b.markets.FindMarket(ctx, domain.SourcePolymarket, ref)
		if err != nil {
			return "", "", fmt.Errorf("find tracked market: %w", err)
		}
		if tracked != nil && tracked.TokenID != "" {
			return tracked.MarketID, tracked.TokenID, nil
		}
	}

	market, err := b.polymarket.MarketBySlug(ctx, ref)
	if err != nil {
		return "", "", fmt.Errorf("resolve market %s: %w", ref, err)
	}
	tokenID := market.YesToken()
	if tokenID == "" {
		return "", "", fmt.Errorf("market %s has no clob token id", ref)
	}
	return market.ConditionID, tokenID, nil
}

func (b *backfiller) kalshiHistory(ctx context.Context, ticker, seriesTicker string, start, end time.Time) (int, error) {
	if seriesTicker == "" && b.markets != nil {
		tracked, err := b.markets.FindMarket(ctx, domain.SourceKalshi, ticker)
		if err != nil {
			return 0, fmt.Errorf("find tracked market: %w", err)
		}
		if tracked != nil {
			seriesTicker = tracked.SeriesTicker
		}
	}

	candles, err := b.kalshi.Candlesticks(ctx, seriesTicker, ticker, start, end)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		log.Printf("no candlesticks returned for %s", ticker)
		return 0, nil
	}
	if b.store != nil {
		return b.store.UpsertKalshiCandles(ctx, candles)
	}

	points := make([]domain.PricePoint, 0, len(candles))
	for _, c := range candles {
		price, ok := c.Price()
		if !ok {
			continue
		}
		points = append(points, domain.PricePoint{Timestamp: c.EndPeriod.UTC(), Price: price})
	}
	return len(points), csvsource.WriteSeries(b.out, points)
}
