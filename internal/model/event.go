package model

import "time"

// EventType identifies the kind of inbound feed event.
type EventType int

const (
	EventSnapshot EventType = iota
	EventCandle
	EventSignal
	EventConnection
	EventFeedError
)

func (t EventType) String() string {
	switch t {
	case EventSnapshot:
		return "snapshot"
	case EventCandle:
		return "candle"
	case EventSignal:
		return "signal"
	case EventConnection:
		return "connection"
	case EventFeedError:
		return "feed_error"
	default:
		return "unknown"
	}
}

// Event is a single message delivered by a transport. Only the field
// matching Type is meaningful.
type Event struct {
	Type       EventType
	Snapshot   []Candle
	Update     CandleUpdate
	Signal     *Signal // nil when the feed sent a null payload
	Connected  bool
	Err        string // EventFeedError only
	ReceivedAt time.Time
}

// SnapshotEvent builds a snapshot event.
func SnapshotEvent(candles []Candle) Event {
	return Event{Type: EventSnapshot, Snapshot: candles, ReceivedAt: time.Now()}
}

// CandleEvent builds a candle update event.
func CandleEvent(c Candle, closed bool) Event {
	return Event{Type: EventCandle, Update: CandleUpdate{Candle: c, Closed: closed}, ReceivedAt: time.Now()}
}

// SignalEvent builds a signal event. s may be nil.
func SignalEvent(s *Signal) Event {
	return Event{Type: EventSignal, Signal: s, ReceivedAt: time.Now()}
}

// ConnectionEvent builds a connection state change event.
func ConnectionEvent(connected bool) Event {
	return Event{Type: EventConnection, Connected: connected, ReceivedAt: time.Now()}
}

// FeedErrorEvent reports a transport failure (e.g. a failed dial) without
// changing the connection state.
func FeedErrorEvent(err error) Event {
	return Event{Type: EventFeedError, Err: err.Error(), ReceivedAt: time.Now()}
}
