// Package bus fans engine frames out to subscribers. Each frame is a full
// render state, so a slow subscriber only ever needs the newest one: when its
// channel is full the oldest queued frame is discarded to make room.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"patternboard/internal/projection"
)

// FanOut broadcasts frames from a single publisher to N output channels.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan projection.Frame
	bufSize int

	// OnDrop is called when a stale frame is discarded for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	if outputBufferSize < 1 {
		outputBufferSize = 1
	}
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel.
func (f *FanOut) Subscribe() <-chan projection.Frame {
	ch := make(chan projection.Frame, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Publish delivers frame to every subscriber without blocking.
// Callers must not invoke Publish concurrently with itself.
func (f *FanOut) Publish(frame projection.Frame) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.outputs {
		for {
			select {
			case ch <- frame:
			default:
				// Full: discard the oldest queued frame and retry.
				select {
				case <-ch:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						slog.Debug("dropping stale frame", slog.String("component", "bus"), slog.Int("subscriber", i))
					}
				default:
				}
				continue
			}
			break
		}
	}
}

// ChannelStat reports (length, capacity) for one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// Ratio is the fill level in [0, 1].
func (s ChannelStat) Ratio() float64 {
	if s.Cap == 0 {
		return 0
	}
	return float64(s.Len) / float64(s.Cap)
}

// ChannelStats returns saturation for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

// Monitor calls report with ChannelStats every interval until ctx is done.
func (f *FanOut) Monitor(ctx context.Context, every time.Duration, report func([]ChannelStat)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(f.ChannelStats())
		}
	}
}
