// Package series maintains the authoritative candle timeline for the
// dashboard. It merges a bulk snapshot and an incremental update stream into
// one ascending, duplicate-free series using a tail-only merge rule that is
// O(1) per update.
//
// Ordering contract: the upstream feed never reports a bucket older than the
// second-to-last one. Updates are applied in delivery order; nothing is
// buffered or re-sorted.
package series

import (
	"errors"
	"log/slog"

	"patternboard/internal/model"
)

// ErrOutOfOrder is returned in strict mode for an update older than the tail.
var ErrOutOfOrder = errors.New("series: update older than last candle")

// ChangeKind describes how the series was mutated.
type ChangeKind int

const (
	ChangeSnapshot ChangeKind = iota
	ChangeAppend
	ChangeReplace
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSnapshot:
		return "snapshot"
	case ChangeAppend:
		return "append"
	case ChangeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Change is passed to OnChange after every successful mutation.
type Change struct {
	Kind   ChangeKind
	Candle model.Candle // appended/replacing candle; zero for snapshots
	Closed bool
	Len    int // series length after the change
}

// Reconciler is the sole writer of the candle sequence.
// Not safe for concurrent use: it is driven from the engine's single loop.
type Reconciler struct {
	candles []model.Candle

	// Strict rejects updates whose time is below the tail's instead of
	// replacing the tail with them. Off by default.
	Strict bool

	// Hooks (optional)
	OnChange   func(Change)
	OnClosed   func(c model.Candle) // called when an update reports its bucket closed
	OnRejected func(c model.Candle) // called when strict mode rejects an update

	log *slog.Logger
}

// New creates an empty reconciler.
func New() *Reconciler {
	return &Reconciler{
		log: slog.Default().With(slog.String("component", "series")),
	}
}

// LoadSnapshot replaces the whole series with a copy of candles.
// The input is trusted to be ascending; it is neither sorted nor validated.
func (r *Reconciler) LoadSnapshot(candles []model.Candle) {
	cp := make([]model.Candle, len(candles))
	copy(cp, candles)
	r.candles = cp

	if r.OnChange != nil {
		r.OnChange(Change{Kind: ChangeSnapshot, Len: len(cp)})
	}
}

// ApplyUpdate merges one candle at the tail of the series.
//
// An empty series or a strictly later time appends. Anything else replaces
// the last element, including a time below the tail's (a late correction).
// In strict mode that last case returns ErrOutOfOrder and leaves the series
// untouched. closed is forwarded to observers only.
func (r *Reconciler) ApplyUpdate(c model.Candle, closed bool) error {
	n := len(r.candles)

	kind := ChangeAppend
	switch {
	case n == 0 || c.Time > r.candles[n-1].Time:
		r.candles = append(r.candles, c)
	default:
		if r.Strict && c.Time < r.candles[n-1].Time {
			r.log.Warn("rejected out-of-order update",
				slog.Int64("time", c.Time),
				slog.Int64("last_time", r.candles[n-1].Time),
			)
			if r.OnRejected != nil {
				r.OnRejected(c)
			}
			return ErrOutOfOrder
		}
		r.candles[n-1] = c
		kind = ChangeReplace
	}

	if r.OnChange != nil {
		r.OnChange(Change{Kind: kind, Candle: c, Closed: closed, Len: len(r.candles)})
	}
	if closed && r.OnClosed != nil {
		r.OnClosed(c)
	}
	return nil
}

// Series returns a read-only view of the candles in ascending time order.
// The view is not a copy; callers must not mutate it and must not retain it
// across later updates.
func (r *Reconciler) Series() []model.Candle {
	return r.candles
}

// Len returns the number of candles in the series.
func (r *Reconciler) Len() int {
	return len(r.candles)
}

// Last returns the tail candle, if any.
func (r *Reconciler) Last() (model.Candle, bool) {
	if len(r.candles) == 0 {
		return model.Candle{}, false
	}
	return r.candles[len(r.candles)-1], true
}
