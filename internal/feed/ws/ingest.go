// Package ws provides a WebSocket feed client that connects to a candle/signal
// server and delivers decoded events into the dashboard engine.
//
// Each text frame on the wire is one envelope:
//
//	{"event":"candle","data":{"candle":{"time":...,"open":...},"closed":false}}
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"patternboard/internal/feed"
	"patternboard/internal/model"
)

// Config holds configuration for the WS feed client.
type Config struct {
	// URL of the feed server, e.g. "ws://localhost:8080/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest connects to the feed server and pushes model.Event values into the
// engine's channel. Connection changes are delivered in-band as
// EventConnection events so the engine sees them in order with data.
type Ingest struct {
	cfg Config
	log *slog.Logger

	// Optional hooks
	OnRetry       func() // before each reconnect attempt
	OnDecodeError func(err error)
}

// Ensure Ingest implements the EventSource interface.
var _ model.EventSource = (*Ingest)(nil)

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws feed: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws feed: unsupported scheme %q", u.Scheme)
	}
	return &Ingest{
		cfg: cfg,
		log: slog.Default().With(slog.String("component", "feed.ws")),
	}, nil
}

// Start connects to the server and streams events into out.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.Event) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := ing.runOnce(ctx, out)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		if connected {
			// A session existed; restart the backoff ladder.
			delay = ing.cfg.ReconnectDelay
			ing.emit(ctx, out, model.ConnectionEvent(false))
		} else {
			ing.emit(ctx, out, model.FeedErrorEvent(err))
		}

		ing.log.Warn("feed disconnected, reconnecting",
			slog.Any("err", err),
			slog.Duration("delay", delay),
		)
		if ing.OnRetry != nil {
			ing.OnRetry()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (ing *Ingest) runOnce(ctx context.Context, out chan<- model.Event) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}
		return false, err
	}
	defer conn.Close()

	ing.log.Info("feed connected", slog.String("url", ing.cfg.URL))
	if !ing.emit(ctx, out, model.ConnectionEvent(true)) {
		return true, nil
	}

	// Closes the connection when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		ev, ok, err := feed.Decode(raw)
		if err != nil {
			ing.log.Debug("skipping message", slog.Any("err", err), slog.Int("bytes", len(raw)))
			if ing.OnDecodeError != nil {
				ing.OnDecodeError(err)
			}
			continue
		}
		if !ok {
			continue
		}
		if !ing.emit(ctx, out, ev) {
			return true, nil
		}
	}
}

// emit blocks until the event is accepted or ctx is done. Feed events are
// never dropped: the series depends on every update.
func (ing *Ingest) emit(ctx context.Context, out chan<- model.Event, ev model.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
