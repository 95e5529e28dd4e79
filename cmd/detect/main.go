package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"prediction-pulse/internal/config"
	"prediction-pulse/internal/csvsource"
	"prediction-pulse/internal/db"
	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/repository"
	"prediction-pulse/internal/service"
	signalengine "prediction-pulse/internal/signal"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc = godotenv.Load
	openPool    = pgxpool.New
)

type options struct {
	signal        domain.SignalConfig
	lookbackHours int
	useAll        bool
	concurrency   int

	csvPath         string
	marketID        string
	source          domain.Source
	priceColumn     string
	timestampColumn string

	store      bool
	sqlitePath string
}

type csvOutput struct {
	MarketID        string              `json:"market_id"`
	Source          domain.Source       `json:"source"`
	Config          domain.SignalConfig `json:"config"`
	Points          int                 `json:"points"`
	SkippedRows     int                 `json:"skipped_rows"`
	PriceColumn     string              `json:"price_column"`
	TimestampColumn string              `json:"timestamp_column"`
	Stored          bool                `json:"stored"`
	Signals         []domain.Signal     `json:"signals"`
}

type sweepOutput struct {
	*domain.SweepResult
	Config  domain.SignalConfig `json:"config"`
	Signals []domain.Signal     `json:"signals"`
}

func main() {
	loadEnvFunc()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	opts, err := parseOptions(os.Args[1:], cfg)
	if err != nil {
		log.Fatalf("parse options: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := run(ctx, opts, strings.TrimSpace(os.Getenv("DATABASE_URL")), os.Stdout); err != nil {
		log.Fatalf("detect: %v", err)
	}
}

func parseOptions(args []string, cfg *config.Config) (options, error) {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	base := cfg.Signal
	alert := fs.Float64("alert-threshold", base.AlertThreshold, "minimum relative change between consecutive points")
	trend := fs.Float64("trend-threshold", base.TrendThreshold, "minimum relative change from the rolling baseline")
	window := fs.Int("trend-window", base.TrendWindowSize, "number of prior points in the trend baseline")
	stability := fs.Int("stability-points", base.TrendStabilityPoints, "points that must confirm a trend")
	noTrend := fs.Bool("no-trend", !base.TrendEnabled, "disable trend detection")
	lookback := fs.Int("lookback-hours", cfg.SweepLookbackHours, "sweep window in hours")
	useAll := fs.Bool("use-all", cfg.SweepUseAllAvailable, "fall back to all stored history when the window is empty")
	concurrency := fs.Int("concurrency", cfg.SweepConcurrency, "markets processed in parallel during a sweep")
	csvPath := fs.String("csv", "", "detect on a single CSV file instead of sweeping the database")
	marketID := fs.String("market-id", "", "market id recorded on signals (CSV mode)")
	sourceRaw := fs.String("source", "", "polymarket or kalshi (CSV mode)")
	priceCol := fs.String("price-column", "", "explicit price column name (CSV mode)")
	tsCol := fs.String("timestamp-column", "", "explicit timestamp column name (CSV mode)")
	store := fs.Bool("store", false, "persist signals detected in CSV mode")
	sqlitePath := fs.String("sqlite", "", "store CSV-mode signals in this SQLite file instead of Postgres")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	signalCfg := base
	signalCfg.AlertThreshold = *alert
	signalCfg.TrendThreshold = *trend
	signalCfg.TrendWindowSize = *window
	signalCfg.TrendStabilityPoints = *stability
	signalCfg.TrendEnabled = !*noTrend
	if err := signalCfg.Validate(); err != nil {
		return options{}, err
	}
	if *lookback <= 0 {
		return options{}, fmt.Errorf("lookback-hours must be > 0")
	}

	opts := options{
		signal:          signalCfg,
		lookbackHours:   *lookback,
		useAll:          *useAll,
		concurrency:     max(*concurrency, 1),
		csvPath:         strings.TrimSpace(*csvPath),
		marketID:        strings.TrimSpace(*marketID),
		priceColumn:     strings.TrimSpace(*priceCol),
		timestampColumn: strings.TrimSpace(*tsCol),
		sqlitePath:      strings.TrimSpace(*sqlitePath),
		store:           *store || strings.TrimSpace(*sqlitePath) != "",
	}

	if opts.csvPath == "" {
		if opts.marketID != "" || *sourceRaw != "" || opts.sqlitePath != "" {
			return options{}, fmt.Errorf("--market-id, --source and --sqlite require --csv")
		}
		return opts, nil
	}

	if opts.marketID == "" {
		return options{}, fmt.Errorf("--market-id is required with --csv")
	}
	source, err := domain.ParseSource(*sourceRaw)
	if err != nil {
		return options{}, fmt.Errorf("--source: %w", err)
	}
	opts.source = source
	return opts, nil
}

func run(ctx context.Context, opts options, dsn string, out io.Writer) error {
	tracer := trace.NewNoopTracerProvider().Tracer("detect")
	engine, err := signalengine.NewEngine(opts.signal)
	if err != nil {
		return err
	}

	if opts.csvPath != "" {
		return runCSV(ctx, tracer, engine, opts, dsn, out)
	}
	return runSweep(ctx, tracer, engine, opts, dsn, out)
}

func runCSV(ctx context.Context, tracer trace.Tracer, engine *signalengine.Engine, opts options, dsn string, out io.Writer) error {
	f, err := os.Open(opts.csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	series, err := csvsource.ReadSeries(f, csvsource.Options{
		PriceColumn:     opts.priceColumn,
		TimestampColumn: opts.timestampColumn,
		Source:          opts.source,
	})
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}
	log.Printf("csv loaded: points=%d skipped=%d price=%s timestamp=%s",
		len(series.Points), series.Skipped, series.PriceColumn, series.TimestampColumn)

	var signals service.SignalRepository
	switch {
	case !opts.store:
	case opts.sqlitePath != "":
		store, err := repository.NewSQLiteSignalStore(opts.sqlitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		signals = store
	default:
		pool, err := connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo := repository.NewSignalRepository(pool, tracer)
		if err := repo.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		signals = repo
	}

	svc := service.NewSignalService(tracer, nil, nil, signals, engine)
	detected, err := svc.DetectSeries(ctx, opts.marketID, opts.source, series.Points, opts.store)
	if err != nil {
		return err
	}
	if detected == nil {
		detected = []domain.Signal{}
	}

	return writeJSON(out, csvOutput{
		MarketID:        opts.marketID,
		Source:          opts.source,
		Config:          opts.signal,
		Points:          len(series.Points),
		SkippedRows:     series.Skipped,
		PriceColumn:     series.PriceColumn,
		TimestampColumn: series.TimestampColumn,
		Stored:          opts.store,
		Signals:         detected,
	})
}

func runSweep(ctx context.Context, tracer trace.Tracer, engine *signalengine.Engine, opts options, dsn string, out io.Writer) error {
	pool, err := connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	signalRepo := repository.NewSignalRepository(pool, tracer)
	priceRepo := repository.NewPriceRepository(pool, tracer)
	marketRepo := repository.NewMarketRepository(pool, tracer)
	if err := db.Migrate(ctx, marketRepo, priceRepo, signalRepo); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	svc := service.NewSignalService(tracer, priceRepo, marketRepo, signalRepo, engine)
	svc.SetConcurrency(opts.concurrency)

	result, err := svc.Sweep(ctx, service.SweepOptions{LookbackHours: opts.lookbackHours, UseAllAvailable: opts.useAll})
	if err != nil {
		return err
	}
	signals := result.Signals
	if signals == nil {
		signals = []domain.Signal{}
	}
	return writeJSON(out, sweepOutput{SweepResult: result, Config: opts.signal, Signals: signals})
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := openPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
