package job

import (
	"context"
	"log"
	"time"

	"prediction-pulse/internal/provider"

	"go.opentelemetry.io/otel/trace"
)

const tokenRefreshTick = 10 * time.Minute

type TokenSource interface {
	StreamTokens(ctx context.Context) ([]string, error)
	RecordStreamPrice(ctx context.Context, p provider.StreamPrice) error
}

type PriceStream interface {
	SetTokens(tokens []string)
	Run(ctx context.Context) error
}

// StreamFollower keeps a live price stream subscribed to the currently tracked
// Polymarket tokens, refreshing the token set on a fixed tick.
type StreamFollower struct {
	tracer  trace.Tracer
	source  TokenSource
	stream  PriceStream
	refresh time.Duration
}

func NewStreamFollower(tracer trace.Tracer, source TokenSource, stream PriceStream) *StreamFollower {
	return &StreamFollower{
		tracer:  tracer,
		source:  source,
		stream:  stream,
		refresh: tokenRefreshTick,
	}
}

// Handle is the stream's price callback.
func (f *StreamFollower) Handle(ctx context.Context) func(provider.StreamPrice) {
	return func(p provider.StreamPrice) {
		if err := f.source.RecordStreamPrice(ctx, p); err != nil {
			log.Printf("stream price %s: %v", p.TokenID, err)
		}
	}
}

func (f *StreamFollower) Start(ctx context.Context) {
	if f == nil || f.source == nil || f.stream == nil {
		<-ctx.Done()
		return
	}

	log.Println("Stream follower starting...")
	f.refreshTokens(ctx)

	go func() {
		if err := f.stream.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("price stream stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Stream follower stopped")
			return
		case <-ticker.C:
			f.refreshTokens(ctx)
		}
	}
}

func (f *StreamFollower) refreshTokens(ctx context.Context) {
	ctx, span := f.tracer.Start(ctx, "stream-follower.refresh-tokens")
	defer span.End()

	tokens, err := f.source.StreamTokens(ctx)
	if err != nil {
		log.Printf("stream token refresh error: %v", err)
		return
	}
	f.stream.SetTokens(tokens)
}
