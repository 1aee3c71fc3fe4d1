// Package redis provides a Redis-backed live feed and seed source.
//
// Live updates arrive on PubSub channels, one per wire event:
//
//	pub:seed:{symbol}    payload = candle array
//	pub:candle:{symbol}  payload = {"candle":{...},"closed":bool}
//	pub:signal:{symbol}  payload = {"time":...,"kind":...} or null
//
// Closed candles are also appended to the stream candle:{symbol} (field
// "data"), which serves the seed snapshot.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"patternboard/internal/feed"
	"patternboard/internal/model"
)

// Config configures the Redis feed.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	Symbol    string
	SeedLimit int64 // newest N candles served as the seed (default 500)

	ReconnectDelay    time.Duration // default 2s
	MaxReconnectDelay time.Duration // default 30s

	// HealthCheckInterval is how long the subscription may stay silent
	// before a PING is sent. A second silent interval counts as a lost
	// connection. Default 15s.
	HealthCheckInterval time.Duration
}

func (c *Config) defaults() {
	if c.SeedLimit <= 0 {
		c.SeedLimit = 500
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 15 * time.Second
	}
}

// ChannelName returns the PubSub channel for a wire event and symbol.
func ChannelName(event, symbol string) string {
	return "pub:" + event + ":" + symbol
}

// StreamName returns the closed-candle stream key for a symbol.
func StreamName(symbol string) string {
	return "candle:" + symbol
}

// eventFromChannel extracts the wire event name from "pub:{event}:{symbol}".
func eventFromChannel(channel string) string {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) != 3 || parts[0] != "pub" {
		return ""
	}
	return parts[1]
}

// Source is both an EventSource (PubSub) and a SnapshotSource (stream).
type Source struct {
	client *goredis.Client
	cfg    Config
	log    *slog.Logger

	// Optional hooks
	OnRetry       func() // before each reconnect attempt
	OnDecodeError func(err error)
}

var (
	_ model.EventSource    = (*Source)(nil)
	_ model.SnapshotSource = (*Source)(nil)
)

// New creates a new Redis Source and pings the server.
func New(cfg Config) (*Source, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := NewWithClient(client, cfg)
	s.log.Info("connected", slog.String("addr", cfg.Addr), slog.String("symbol", cfg.Symbol))
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Source {
	cfg.defaults()
	return &Source{
		client: client,
		cfg:    cfg,
		log:    slog.Default().With(slog.String("component", "feed.redis")),
	}
}

// Channels lists the PubSub channels the source subscribes to.
func (s *Source) Channels() []string {
	return []string{
		ChannelName(feed.WireSeed, s.cfg.Symbol),
		ChannelName(feed.WireCandle, s.cfg.Symbol),
		ChannelName(feed.WireSignal, s.cfg.Symbol),
	}
}

// FetchSnapshot returns the newest SeedLimit closed candles in ascending
// time order. An empty stream yields an empty, non-nil slice.
func (s *Source) FetchSnapshot(ctx context.Context) ([]model.Candle, error) {
	stream := StreamName(s.cfg.Symbol)
	msgs, err := s.client.XRevRangeN(ctx, stream, "+", "-", s.cfg.SeedLimit).Result()
	if err != nil {
		if err == goredis.Nil {
			return []model.Candle{}, nil
		}
		return nil, fmt.Errorf("xrevrange %s: %w", stream, err)
	}
	return candlesFromMessages(msgs, s.log), nil
}

// candlesFromMessages converts newest-first stream entries into an
// ascending candle slice, skipping entries without a parseable candle.
func candlesFromMessages(msgs []goredis.XMessage, log *slog.Logger) []model.Candle {
	candles := make([]model.Candle, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		c, err := feed.ParseCandle([]byte(data))
		if err != nil {
			log.Debug("skipping stream entry", slog.String("id", msgs[i].ID), slog.Any("err", err))
			continue
		}
		candles = append(candles, c)
	}
	return candles
}

// Start subscribes to the symbol's channels and streams events into out.
// Blocks until ctx is cancelled. Resubscribes with backoff on failure.
func (s *Source) Start(ctx context.Context, out chan<- model.Event) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		subscribed, err := s.runOnce(ctx, out)
		if err == nil {
			return nil
		}

		if subscribed {
			delay = s.cfg.ReconnectDelay
			if !emit(ctx, out, model.ConnectionEvent(false)) {
				return nil
			}
		} else if !emit(ctx, out, model.FeedErrorEvent(err)) {
			return nil
		}

		s.log.Warn("pubsub lost, resubscribing", slog.Any("err", err), slog.Duration("delay", delay))
		if s.OnRetry != nil {
			s.OnRetry()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *Source) runOnce(ctx context.Context, out chan<- model.Event) (subscribed bool, err error) {
	pubsub := s.client.Subscribe(ctx, s.Channels()...)
	defer pubsub.Close()

	// Wait for the subscription confirmation before reporting connected.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("subscribed", slog.Any("channels", s.Channels()))
	if !emit(ctx, out, model.ConnectionEvent(true)) {
		return true, nil
	}

	// Receive directly rather than through Channel(): the channel hides
	// connection errors and reconnects on its own.
	awaitingPong := false
	for {
		msg, err := pubsub.ReceiveTimeout(ctx, s.cfg.HealthCheckInterval)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if isTimeout(err) && !awaitingPong {
				if err := pubsub.Ping(ctx); err != nil {
					return true, fmt.Errorf("ping: %w", err)
				}
				awaitingPong = true
				continue
			}
			return true, fmt.Errorf("receive: %w", err)
		}
		awaitingPong = false

		m, ok := msg.(*goredis.Message)
		if !ok {
			// *Subscription confirmations and *Pong replies
			continue
		}
		ev, ok, err := feed.DecodeData(eventFromChannel(m.Channel), []byte(m.Payload))
		if err != nil {
			s.log.Debug("skipping message", slog.String("channel", m.Channel), slog.Any("err", err))
			if s.OnDecodeError != nil {
				s.OnDecodeError(err)
			}
			continue
		}
		if !ok {
			continue
		}
		if !emit(ctx, out, ev) {
			return true, nil
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func emit(ctx context.Context, out chan<- model.Event, ev model.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close closes the Redis client.
func (s *Source) Close() error {
	return s.client.Close()
}
