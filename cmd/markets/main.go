package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"prediction-pulse/internal/config"
	"prediction-pulse/internal/db"
	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/provider"
	"prediction-pulse/internal/repository"
	"prediction-pulse/internal/service"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

const usage = `usage: markets <command> [args]

commands:
  list [--source polymarket|kalshi] [--all]
  show <source> <market id|slug>
  add <source> <slug|ticker|url>
  remove <source> <event slug|ticker>
  seed <file.yaml>`

var (
	loadEnvFunc = godotenv.Load
	openPool    = pgxpool.New
	readFile    = os.ReadFile
)

type tracker interface {
	Track(ctx context.Context, source domain.Source, ref string) ([]domain.TrackedMarket, error)
	Untrack(ctx context.Context, source domain.Source, slug string) (int64, error)
	ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error)
}

type finder interface {
	FindMarket(ctx context.Context, source domain.Source, idOrSlug string) (*domain.TrackedMarket, error)
}

type seedFile struct {
	Markets []seedEntry `yaml:"markets"`
}

type seedEntry struct {
	Source string `yaml:"source"`
	Ref    string `yaml:"ref"`
}

type cli struct {
	tracking tracker
	markets  finder
	out      io.Writer
}

func main() {
	loadEnvFunc()
	cfg := config.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := openPool(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping postgres: %v", err)
	}

	tracer := trace.NewNoopTracerProvider().Tracer("markets")
	marketRepo := repository.NewMarketRepository(pool, tracer)
	if err := db.Migrate(ctx, marketRepo); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	c := &cli{
		tracking: service.NewTrackingService(tracer, marketRepo,
			provider.NewPolymarketClient(tracer, cfg.PolymarketGammaURL, cfg.PolymarketClobURL, nil),
			provider.NewKalshiClient(tracer, cfg.KalshiAPIURL, nil)),
		markets: marketRepo,
		out:     os.Stdout,
	}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("markets: %v", err)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return c.list(ctx, rest)
	case "show":
		return c.show(ctx, rest)
	case "add":
		return c.add(ctx, rest)
	case "remove":
		return c.remove(ctx, rest)
	case "seed":
		return c.seed(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sourceRaw := fs.String("source", "", "polymarket or kalshi")
	all := fs.Bool("all", false, "include inactive markets")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var source domain.Source
	if strings.TrimSpace(*sourceRaw) != "" {
		parsed, err := domain.ParseSource(*sourceRaw)
		if err != nil {
			return err
		}
		source = parsed
	}

	markets, err := c.tracking.ListTracked(ctx, source, !*all)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		fmt.Fprintln(c.out, "no tracked markets")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SOURCE", "MARKET", "SLUG", "EVENT", "ACTIVE")
	for _, m := range markets {
		t.Row(string(m.Source), m.MarketID, m.Slug, m.EventSlug, strconv.FormatBool(m.Active))
	}
	fmt.Fprintln(c.out, t.Render())
	return nil
}

func (c *cli) show(ctx context.Context, args []string) error {
	source, ref, err := sourceAndRef(args)
	if err != nil {
		return err
	}
	if source == domain.SourceKalshi {
		ref = strings.ToUpper(ref)
	}
	m, err := c.markets.FindMarket(ctx, source, ref)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%s market %q is not tracked", source, ref)
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func (c *cli) add(ctx context.Context, args []string) error {
	source, ref, err := sourceAndRef(args)
	if err != nil {
		return err
	}
	tracked, err := c.tracking.Track(ctx, source, ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "tracking %d %s markets from %s\n", len(tracked), source, ref)
	return nil
}

func (c *cli) remove(ctx context.Context, args []string) error {
	source, ref, err := sourceAndRef(args)
	if err != nil {
		return err
	}
	n, err := c.tracking.Untrack(ctx, source, ref)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s event %q is not tracked", source, ref)
	}
	fmt.Fprintf(c.out, "deactivated %d %s markets\n", n, source)
	return nil
}

// seed tracks every entry of a YAML file and keeps going past failures.
func (c *cli) seed(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("seed requires exactly one file")
	}
	raw, err := readFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Markets) == 0 {
		return fmt.Errorf("seed file %s has no markets", args[0])
	}

	failed, total := 0, 0
	for _, entry := range file.Markets {
		source, err := domain.ParseSource(entry.Source)
		if err == nil && strings.TrimSpace(entry.Ref) == "" {
			err = fmt.Errorf("ref is required")
		}
		if err != nil {
			failed++
			fmt.Fprintf(c.out, "skip %s %q: %v\n", entry.Source, entry.Ref, err)
			continue
		}
		tracked, err := c.tracking.Track(ctx, source, entry.Ref)
		if err != nil {
			failed++
			fmt.Fprintf(c.out, "failed %s %s: %v\n", source, entry.Ref, err)
			continue
		}
		total += len(tracked)
		fmt.Fprintf(c.out, "tracked %s %s: %d markets\n", source, entry.Ref, len(tracked))
	}

	fmt.Fprintf(c.out, "seeded %d markets from %d entries (%d failed)\n", total, len(file.Markets), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d seed entries failed", failed, len(file.Markets))
	}
	return nil
}

func sourceAndRef(args []string) (domain.Source, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("expected <source> <market>, got %d arguments", len(args))
	}
	source, err := domain.ParseSource(args[0])
	if err != nil {
		return "", "", err
	}
	ref := strings.TrimSpace(args[1])
	if ref == "" {
		return "", "", fmt.Errorf("market is required")
	}
	return source, ref, nil
}
