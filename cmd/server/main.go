package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"prediction-pulse/internal/bot"
	"prediction-pulse/internal/cache"
	"prediction-pulse/internal/chart"
	"prediction-pulse/internal/config"
	"prediction-pulse/internal/db"
	"prediction-pulse/internal/handler"
	"prediction-pulse/internal/job"
	"prediction-pulse/internal/provider"
	"prediction-pulse/internal/repository"
	"prediction-pulse/internal/service"
	signalengine "prediction-pulse/internal/signal"
	"prediction-pulse/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "prediction-pulse/docs"
)

const chartCacheTTL = 2 * time.Minute

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	initTracerFunc         = tracing.InitTracer
	startTelegramBotFunc   = bot.StartTelegramBot
	startSchedulerFunc     = func(s *job.Scheduler, ctx context.Context) { go s.Start(ctx) }
	runNowFunc             = func(s *job.Scheduler, ctx context.Context) { go s.RunNow(ctx) }
	startStreamFunc        = func(f *job.StreamFollower, ctx context.Context) { go f.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Prediction Pulse API
// @version         1.0
// @description     Price collection and alert/trend signal detection for Polymarket and Kalshi markets.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)
	defer db.Close()

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	signalRepo := repository.NewSignalRepository(db.Pool, tracer)
	priceRepo := repository.NewPriceRepository(db.Pool, tracer)
	marketRepo := repository.NewMarketRepository(db.Pool, tracer)
	chartRepo := repository.NewChartImageRepository(db.Pool, tracer)
	if db.Pool != nil {
		if err := db.Migrate(ctx, marketRepo, priceRepo, signalRepo, chartRepo); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	polymarket := provider.NewPolymarketClient(tracer, cfg.PolymarketGammaURL, cfg.PolymarketClobURL, nil)
	kalshi := provider.NewKalshiClient(tracer, cfg.KalshiAPIURL, nil)

	engine, err := signalengine.NewEngine(cfg.Signal)
	if err != nil {
		log.Fatalf("invalid signal configuration: %v", err)
	}

	signalService := service.NewSignalService(tracer, priceRepo, marketRepo, signalRepo, engine)
	signalService.SetConcurrency(cfg.SweepConcurrency)
	collectorService := service.NewCollectorService(tracer, priceRepo, marketRepo, polymarket, kalshi, cache.NewCursorCache(cache.Client))
	collectorService.SetLookback(time.Duration(cfg.CollectLookbackHours) * time.Hour)
	trackingService := service.NewTrackingService(tracer, marketRepo, polymarket, kalshi)
	chartRenderer := chart.NewRenderer()

	sweepDefaults := service.SweepOptions{
		LookbackHours:   cfg.SweepLookbackHours,
		UseAllAvailable: cfg.SweepUseAllAvailable,
	}

	dispatcher := startTelegramBotFunc(cfg.TelegramBotToken, bot.Services{
		Signals: signalService,
		Markets: trackingService,
		Charts:  chartRenderer,
		Sweep:   sweepDefaults,
	})
	if dispatcher != nil {
		signalService.SetNotifier(dispatcher)
	}

	// Background jobs need a store to write to.
	if db.Pool != nil {
		scheduler := job.NewScheduler(tracer, collectorService, signalService, job.Options{
			CollectCron: cfg.CollectCron,
			SweepCron:   cfg.SweepCron,
			Sweep:       sweepDefaults,
		})
		scheduler.SetPruner(chartRepo)
		startSchedulerFunc(scheduler, ctx)
		if cfg.RunOnStart {
			runNowFunc(scheduler, ctx)
		}

		if cfg.PolymarketStreamEnabled {
			stream := provider.NewPolymarketStream(cfg.PolymarketWSURL, nil)
			follower := job.NewStreamFollower(tracer, collectorService, stream)
			stream.SetHandler(follower.Handle(ctx))
			startStreamFunc(follower, ctx)
		}
	} else {
		log.Println("Warning: no database, scheduler and price stream disabled")
	}

	h := handler.New(tracer, signalService, collectorService, trackingService, chartRenderer)
	h.SetSweepDefaults(sweepDefaults)
	if db.Pool != nil {
		h.SetChartCache(chartRepo, chartCacheTTL)
		h.SetStats(repository.NewSignalStatsRepository(db.Pool, tracer))
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("prediction-pulse"))
	r.Use(cors.Default())

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    httpAddr(cfg.Port),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	log.Printf("HTTP server listening on %s", srv.Addr)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func httpAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}
