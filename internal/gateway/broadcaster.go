package gateway

import (
	"strconv"
	"time"

	"patternboard/internal/projection"
)

// Broadcaster constructs frame envelopes and sends them to clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast stores f as the latest frame and sends it to every client.
// Slow clients whose send buffer is full miss the frame; the next one
// carries the full state anyway.
func (b *Broadcaster) Broadcast(f projection.Frame) {
	now := time.Now().UTC()

	if b.hub.Latency != nil && !f.SourceTS.IsZero() {
		latencyMs := float64(now.Sub(f.SourceTS).Microseconds()) / 1000.0
		if latencyMs >= 0 {
			b.hub.Latency.Record(latencyMs)
		}
	}

	buf := buildEnvelope(f, now)

	b.hub.mu.Lock()
	b.hub.latest = f
	b.hub.latestEnv = buf
	b.hub.hasLatest = true
	b.hub.broadcasted++
	b.hub.mu.Unlock()

	b.hub.sendAll(buf)
}

// buildEnvelope hand-crafts {"type":"frame","seq":N,"ts":"...","frame":{...}}.
func buildEnvelope(f projection.Frame, now time.Time) []byte {
	data := f.JSON()
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"frame","seq":`...)
	buf = strconv.AppendInt(buf, f.Seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","frame":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
