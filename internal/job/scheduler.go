package job

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"prediction-pulse/internal/domain"
	"prediction-pulse/internal/service"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCollectCron = "*/5 * * * *"
	DefaultSweepCron   = "*/15 * * * *"
	PruneCron          = "@hourly"
)

type Collector interface {
	CollectAll(ctx context.Context) (*domain.CollectAllResult, error)
}

type Sweeper interface {
	Sweep(ctx context.Context, opts service.SweepOptions) (*domain.SweepResult, error)
}

// ChartPruner removes cached charts past their expiry.
type ChartPruner interface {
	DeleteExpiredCharts(ctx context.Context) (int64, error)
}

type Options struct {
	CollectCron string
	SweepCron   string
	Sweep       service.SweepOptions
}

// Scheduler runs price collection and detection sweeps on cron schedules. A job
// that is still running when its next tick fires is skipped for that tick.
type Scheduler struct {
	tracer    trace.Tracer
	cron      *cron.Cron
	collector Collector
	sweeper   Sweeper
	pruner    ChartPruner
	opts      Options

	collecting atomic.Bool
	sweeping   atomic.Bool
}

func NewScheduler(tracer trace.Tracer, collector Collector, sweeper Sweeper, opts Options) *Scheduler {
	if opts.CollectCron == "" {
		opts.CollectCron = DefaultCollectCron
	}
	if opts.SweepCron == "" {
		opts.SweepCron = DefaultSweepCron
	}
	return &Scheduler{
		tracer:    tracer,
		cron:      cron.New(),
		collector: collector,
		sweeper:   sweeper,
		opts:      opts,
	}
}

func (s *Scheduler) SetPruner(p ChartPruner) {
	s.pruner = p
}

// Register adds the collect and sweep jobs. Jobs whose dependency is nil are left out.
func (s *Scheduler) Register(ctx context.Context) error {
	if s.collector != nil {
		if _, err := s.cron.AddFunc(s.opts.CollectCron, func() { s.runCollect(ctx) }); err != nil {
			return fmt.Errorf("register collect job %q: %w", s.opts.CollectCron, err)
		}
	}
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(s.opts.SweepCron, func() { s.runSweep(ctx) }); err != nil {
			return fmt.Errorf("register sweep job %q: %w", s.opts.SweepCron, err)
		}
	}
	if s.pruner != nil {
		if _, err := s.cron.AddFunc(PruneCron, func() { s.runPrune(ctx) }); err != nil {
			return fmt.Errorf("register prune job: %w", err)
		}
	}
	return nil
}

// Start registers the jobs and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.collector == nil && s.sweeper == nil {
		log.Println("Scheduler disabled: no collector or sweeper")
		<-ctx.Done()
		return
	}
	if err := s.Register(ctx); err != nil {
		log.Printf("scheduler: %v", err)
		<-ctx.Done()
		return
	}

	log.Printf("Scheduler starting: collect=%q sweep=%q", s.opts.CollectCron, s.opts.SweepCron)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Println("Scheduler stopped")
}

// RunNow runs one collection followed by one sweep in the calling goroutine.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runCollect(ctx)
	s.runSweep(ctx)
}

func (s *Scheduler) runCollect(ctx context.Context) {
	if s.collector == nil || ctx.Err() != nil {
		return
	}
	if !s.collecting.CompareAndSwap(false, true) {
		log.Println("collect job still running, skipping tick")
		return
	}
	defer s.collecting.Store(false)

	ctx, span := s.tracer.Start(ctx, "scheduler.collect")
	defer span.End()

	res, err := s.collector.CollectAll(ctx)
	if err != nil {
		log.Printf("scheduled collection error: %v", err)
		return
	}
	log.Printf("scheduled collection: polymarket=%d kalshi=%d records", res.Polymarket.RecordsAdded, res.Kalshi.RecordsAdded)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	if s.sweeper == nil || ctx.Err() != nil {
		return
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		log.Println("sweep job still running, skipping tick")
		return
	}
	defer s.sweeping.Store(false)

	ctx, span := s.tracer.Start(ctx, "scheduler.sweep")
	defer span.End()

	if _, err := s.sweeper.Sweep(ctx, s.opts.Sweep); err != nil {
		log.Printf("scheduled sweep error: %v", err)
	}
}

func (s *Scheduler) runPrune(ctx context.Context) {
	if s.pruner == nil || ctx.Err() != nil {
		return
	}
	ctx, span := s.tracer.Start(ctx, "scheduler.prune-charts")
	defer span.End()

	n, err := s.pruner.DeleteExpiredCharts(ctx)
	if err != nil {
		log.Printf("chart prune error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("pruned %d expired charts", n)
	}
}
