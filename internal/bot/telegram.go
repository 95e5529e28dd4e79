package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"prediction-pulse/internal/chart"
	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/service"

	tele "gopkg.in/telebot.v3"
)

const (
	commandTimeout  = 2 * time.Minute
	chartLookback   = 24 * time.Hour
	maxListedSignal = 10
	maxListedMarket = 30
)

type SignalQuerier interface {
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	Sweep(ctx context.Context, opts service.SweepOptions) (*domain.SweepResult, error)
	Series(ctx context.Context, source domain.Source, marketID string, since time.Time, limit int) ([]domain.PricePoint, error)
}

type MarketLister interface {
	ListTracked(ctx context.Context, source domain.Source, activeOnly bool) ([]domain.TrackedMarket, error)
}

type ChartRenderer interface {
	RenderSeries(points []domain.PricePoint, signals []domain.Signal) (*chart.Image, error)
}

// Services are the backends the bot commands read from. Nil members disable their commands.
type Services struct {
	Signals SignalQuerier
	Markets MarketLister
	Charts  ChartRenderer
	Sweep   service.SweepOptions
}

func StartTelegramBot(token string, svc Services) *AlertDispatcher {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}
	alerts := NewAlertDispatcher(b)
	cmds := &commands{svc: svc}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/signals", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return c.Send(cmds.signals(ctx, c.Args()))
	})

	b.Handle("/sweep", func(c tele.Context) error {
		_ = c.Notify(tele.Typing)
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return c.Send(cmds.sweep(ctx))
	})

	b.Handle("/markets", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return c.Send(cmds.markets(ctx))
	})

	b.Handle("/chart", func(c tele.Context) error {
		_ = c.Notify(tele.UploadingPhoto)
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		img, caption := cmds.chart(ctx, c.Args())
		if img == nil {
			return c.Send(caption)
		}
		return c.Send(&tele.Photo{
			File:    tele.FromReader(bytes.NewReader(img.Bytes)),
			Caption: caption,
		})
	})

	b.Handle("/alerts", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return c.Send("Unable to detect chat")
		}
		return c.Send(alerts.handleMode(chat.ID, c.Args()))
	})

	log.Println("Telegram bot started")
	go b.Start()
	return alerts
}

type commands struct {
	svc Services
}

func (c *commands) signals(ctx context.Context, args []string) string {
	if c.svc.Signals == nil {
		return "Signal service unavailable"
	}
	filter, err := parseSignalArgs(args)
	if err != nil {
		return "Usage: /signals [market] [--type alert|trend]"
	}
	signals, err := c.svc.Signals.ListSignals(ctx, filter)
	if err != nil {
		return fmt.Sprintf("Error fetching signals: %v", err)
	}
	if len(signals) == 0 {
		return "No matching signals right now."
	}
	lines := make([]string, 0, len(signals)+1)
	lines = append(lines, "Latest signals:")
	for _, s := range signals {
		lines = append(lines, formatSignal(s))
	}
	return strings.Join(lines, "\n")
}

func (c *commands) sweep(ctx context.Context) string {
	if c.svc.Signals == nil {
		return "Signal service unavailable"
	}
	result, err := c.svc.Signals.Sweep(ctx, c.svc.Sweep)
	if err != nil {
		return fmt.Sprintf("Sweep failed: %v", err)
	}
	lines := []string{fmt.Sprintf("Sweep %s: %d detected, %d stored", result.Status, result.TotalDetected, result.TotalStored)}
	for _, source := range domain.SupportedSources {
		st := result.Stats[source]
		lines = append(lines, fmt.Sprintf("%s: %d markets (%d failed), %d alerts, %d trends",
			source, st.Markets, st.Failed, st.Alerts, st.Trends))
	}
	return strings.Join(lines, "\n")
}

func (c *commands) markets(ctx context.Context) string {
	if c.svc.Markets == nil {
		return "Market registry unavailable"
	}
	markets, err := c.svc.Markets.ListTracked(ctx, "", true)
	if err != nil {
		return fmt.Sprintf("Error listing markets: %v", err)
	}
	if len(markets) == 0 {
		return "No markets are being tracked."
	}
	lines := make([]string, 0, maxListedMarket+2)
	lines = append(lines, fmt.Sprintf("Tracking %d markets:", len(markets)))
	for i, m := range markets {
		if i == maxListedMarket {
			lines = append(lines, fmt.Sprintf("... and %d more", len(markets)-maxListedMarket))
			break
		}
		label := m.Title
		if m.OutcomeLabel != "" {
			label = m.OutcomeLabel
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s", m.Source, m.MarketID, label))
	}
	return strings.Join(lines, "\n")
}

// chart returns the rendered image and its caption, or a nil image and the reply explaining why not.
func (c *commands) chart(ctx context.Context, args []string) (*chart.Image, string) {
	if c.svc.Signals == nil || c.svc.Charts == nil {
		return nil, "Chart rendering unavailable"
	}
	if len(args) != 2 {
		return nil, "Usage: /chart <polymarket|kalshi> <market id>"
	}
	source, err := domain.ParseSource(args[0])
	if err != nil {
		return nil, fmt.Sprintf("Unknown source %q", args[0])
	}
	marketID := strings.TrimSpace(args[1])
	if source == domain.SourceKalshi {
		marketID = strings.ToUpper(marketID)
	}

	since := time.Now().UTC().Add(-chartLookback)
	points, err := c.svc.Signals.Series(ctx, source, marketID, since, 0)
	if err != nil {
		return nil, fmt.Sprintf("Error loading prices: %v", err)
	}
	if len(points) < 2 {
		return nil, fmt.Sprintf("Not enough price data for %s", marketID)
	}
	signals, err := c.svc.Signals.ListSignals(ctx, domain.SignalFilter{MarketID: marketID, Source: source, Since: since, Limit: 200})
	if err != nil {
		return nil, fmt.Sprintf("Error loading signals: %v", err)
	}
	img, err := c.svc.Charts.RenderSeries(points, signals)
	if err != nil {
		return nil, fmt.Sprintf("Error rendering chart: %v", err)
	}
	return img, fmt.Sprintf("%s %s, last 24h: %d points, %d signals", source, marketID, len(points), len(signals))
}

func parseSignalArgs(args []string) (domain.SignalFilter, error) {
	filter := domain.SignalFilter{Limit: maxListedSignal}

	for i := 0; i < len(args); i++ {
		arg := strings.TrimSpace(args[i])
		if arg == "" {
			continue
		}

		var rawType string
		switch {
		case strings.HasPrefix(arg, "--type="):
			rawType = strings.TrimPrefix(arg, "--type=")
		case arg == "--type":
			if i+1 >= len(args) {
				return domain.SignalFilter{}, errors.New("missing type value")
			}
			i++
			rawType = args[i]
		case strings.HasPrefix(arg, "--"):
			return domain.SignalFilter{}, errors.New("unknown option")
		default:
			if filter.MarketID != "" {
				return domain.SignalFilter{}, errors.New("multiple markets provided")
			}
			filter.MarketID = arg
			continue
		}

		signalType := domain.SignalType(strings.ToLower(strings.TrimSpace(rawType)))
		if !signalType.IsValid() {
			return domain.SignalFilter{}, errors.New("type must be alert or trend")
		}
		filter.SignalType = signalType
	}

	return filter, nil
}

func formatSignal(s domain.Signal) string {
	arrow := "▲"
	if s.Direction == domain.DirectionDown {
		arrow = "▼"
	}
	return fmt.Sprintf(
		"%s %s [%s] %s %.3f -> %.3f (%+.1f%%) over %dm at %s",
		arrow,
		strings.ToUpper(string(s.SignalType)),
		s.Source,
		s.MarketID,
		s.PriorPrice,
		s.NewPrice,
		s.PercentChange*100,
		s.TimeWindowMinutes,
		s.Timestamp.UTC().Format(time.RFC822),
	)
}
