package model

import "context"

// ── Transport Port Interfaces ──
// These interfaces decouple the reconciliation engine from concrete
// transports (websocket, Redis, HTTP, SQLite).

// SnapshotSource fetches a full seed series for the dashboard's symbol.
type SnapshotSource interface {
	// FetchSnapshot returns candles in ascending time order.
	// An empty, non-nil slice means the source has no history.
	FetchSnapshot(ctx context.Context) ([]Candle, error)
}

// EventSource streams live events into out.
type EventSource interface {
	// Start delivers events until ctx is cancelled. Connection state
	// changes are delivered as EventConnection events.
	Start(ctx context.Context, out chan<- Event) error
}
