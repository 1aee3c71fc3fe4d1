// Package signals records classified pattern events and projects them into
// chart markers. It never touches candle data; signals and candles share only
// the millisecond time axis.
package signals

import (
	"log/slog"

	"patternboard/internal/model"
	"patternboard/internal/ringbuf"
)

// Annotator owns the arrival-ordered signal list.
// Not safe for concurrent use: it is driven from the engine's single loop.
type Annotator struct {
	all  []model.Signal              // unbounded mode
	ring *ringbuf.Ring[model.Signal] // bounded mode (retention > 0)

	// Hooks (optional)
	OnRecord  func(s model.Signal)
	OnDropped func()               // nil signal dropped
	OnEvicted func(s model.Signal) // oldest signal evicted by retention

	log *slog.Logger
}

// New creates an annotator. retention > 0 keeps only the most recent
// retention signals; 0 or less keeps every signal for the process lifetime.
func New(retention int) *Annotator {
	a := &Annotator{
		log: slog.Default().With(slog.String("component", "signals")),
	}
	if retention > 0 {
		a.ring = ringbuf.New[model.Signal](retention)
	}
	return a
}

// Record appends s in arrival order. A nil signal is dropped silently.
// No dedup is performed.
func (a *Annotator) Record(s *model.Signal) {
	if s == nil {
		a.log.Debug("dropped nil signal")
		if a.OnDropped != nil {
			a.OnDropped()
		}
		return
	}

	if a.ring == nil {
		a.all = append(a.all, *s)
	} else {
		oldest, _ := a.ring.Oldest()
		if a.ring.Push(*s) && a.OnEvicted != nil {
			a.OnEvicted(oldest)
		}
	}

	if a.OnRecord != nil {
		a.OnRecord(*s)
	}
}

// Signals returns a copy of the retained signals in arrival order.
func (a *Annotator) Signals() []model.Signal {
	if a.ring != nil {
		return a.ring.Slice()
	}
	cp := make([]model.Signal, len(a.all))
	copy(cp, a.all)
	return cp
}

// Len returns the number of retained signals.
func (a *Annotator) Len() int {
	if a.ring != nil {
		return a.ring.Len()
	}
	return len(a.all)
}

// Evicted returns how many signals the retention limit has discarded.
func (a *Annotator) Evicted() uint64 {
	if a.ring == nil {
		return 0
	}
	return a.ring.Evicted()
}

// Markers projects the retained signals.
func (a *Annotator) Markers() []model.Marker {
	return ProjectMarkers(a.Signals())
}
