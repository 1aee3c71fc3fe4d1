package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"patternboard/internal/feed"
	"patternboard/internal/model"
)

// Stream trimming: about a day of 1m candles.
const streamMaxLen = 1500

// Publisher writes feed events for one symbol: every event is published on
// its PubSub channel and closed candles are also appended to the stream.
type Publisher struct {
	client *goredis.Client
	symbol string

	// Breaker, if set, guards every write.
	Breaker *Breaker
}

// NewPublisher creates a publisher on an existing client.
func NewPublisher(client *goredis.Client, symbol string) *Publisher {
	return &Publisher{client: client, symbol: symbol}
}

// PublishCandle publishes a candle update. Closed candles are also written
// to the seed stream in the same pipeline.
func (p *Publisher) PublishCandle(ctx context.Context, c model.Candle, closed bool) error {
	payload, err := json.Marshal(model.CandleUpdate{Candle: c, Closed: closed})
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}

	return p.do(func() error {
		pipe := p.client.Pipeline()
		if closed {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: StreamName(p.symbol),
				MaxLen: streamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": string(c.JSON())},
			})
		}
		pipe.Publish(ctx, ChannelName(feed.WireCandle, p.symbol), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("publish candle: %w", err)
		}
		return nil
	})
}

// PublishSignal publishes a signal. A nil signal is published as null.
func (p *Publisher) PublishSignal(ctx context.Context, s *model.Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return p.do(func() error {
		return p.client.Publish(ctx, ChannelName(feed.WireSignal, p.symbol), payload).Err()
	})
}

// PublishSeed publishes a full seed series.
func (p *Publisher) PublishSeed(ctx context.Context, candles []model.Candle) error {
	if candles == nil {
		candles = []model.Candle{}
	}
	payload, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("marshal seed: %w", err)
	}
	return p.do(func() error {
		return p.client.Publish(ctx, ChannelName(feed.WireSeed, p.symbol), payload).Err()
	})
}

func (p *Publisher) do(fn func() error) error {
	if p.Breaker == nil {
		return fn()
	}
	return p.Breaker.Do(fn)
}

// BackfillStream replaces the seed stream with candles without publishing
// them live. Candles must be closed and ascending.
func (p *Publisher) BackfillStream(ctx context.Context, candles []model.Candle) error {
	pipe := p.client.Pipeline()
	pipe.Del(ctx, StreamName(p.symbol))
	for i := range candles {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamName(p.symbol),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(candles[i].JSON())},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("backfill stream: %w", err)
	}
	return nil
}
