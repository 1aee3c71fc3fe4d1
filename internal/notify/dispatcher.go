package notify

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher queues alerts and delivers them from its own goroutine so the
// caller never waits on a slow backend. Alerts that do not fit in the queue
// are dropped.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan Alert
	timeout   time.Duration
	log       *slog.Logger

	// OnDrop is called for every alert discarded because the queue was full.
	OnDrop func(Alert)
}

// NewDispatcher creates a dispatcher fanning each alert out to notifiers.
func NewDispatcher(queueSize int, notifiers ...Notifier) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan Alert, queueSize),
		timeout:   10 * time.Second,
		log:       slog.Default().With(slog.String("component", "notify")),
	}
}

// Notify enqueues a without blocking. It reports false if a was dropped.
func (d *Dispatcher) Notify(a Alert) bool {
	select {
	case d.queue <- a:
		return true
	default:
		if d.OnDrop != nil {
			d.OnDrop(a)
		}
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, a)
		cancel()
		if err != nil {
			d.log.Warn("alert delivery failed", slog.String("title", a.Title), slog.Any("err", err))
		}
	}
}
