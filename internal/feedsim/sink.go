package feedsim

import (
	"context"
	"log/slog"
	"time"

	"patternboard/internal/model"
	"patternboard/internal/store/sqlite"
)

// Sink receives generator output. The websocket Server and the Redis
// publisher both satisfy it.
type Sink interface {
	PublishCandle(ctx context.Context, c model.Candle, closed bool) error
	PublishSignal(ctx context.Context, s *model.Signal) error
}

// SQLiteSink persists closed candles into a seed database.
type SQLiteSink struct {
	W      *sqlite.Writer
	Symbol string
}

// PublishCandle writes c when closed; forming candles are skipped.
func (s SQLiteSink) PublishCandle(ctx context.Context, c model.Candle, closed bool) error {
	if !closed {
		return nil
	}
	return s.W.WriteCandles(ctx, s.Symbol, []model.Candle{c})
}

// PublishSignal is a no-op: the seed database holds candles only.
func (SQLiteSink) PublishSignal(context.Context, *model.Signal) error { return nil }

// Emit sends one update to every sink. Sink errors are logged and do not
// stop delivery to the remaining sinks.
func Emit(ctx context.Context, u Update, sinks ...Sink) {
	for _, s := range sinks {
		if err := s.PublishCandle(ctx, u.Candle, u.Closed); err != nil {
			slog.Warn("sink candle error", slog.String("component", "feedsim"), slog.Any("err", err))
		}
		if u.Signal == nil {
			continue
		}
		if err := s.PublishSignal(ctx, u.Signal); err != nil {
			slog.Warn("sink signal error", slog.String("component", "feedsim"), slog.Any("err", err))
		}
	}
}

// Run steps gen every tick and emits the updates until ctx is cancelled.
func Run(ctx context.Context, gen *Generator, tick time.Duration, sinks ...Sink) {
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, u := range gen.Step(now) {
				Emit(ctx, u, sinks...)
			}
		}
	}
}
