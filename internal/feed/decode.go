// Package feed decodes the live feed's wire envelope into engine events and
// provides the HTTP seed snapshot source.
package feed

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"patternboard/internal/model"
)

// Wire event names.
const (
	WireSeed   = "seed"
	WireCandle = "candle"
	WireSignal = "signal"
)

var (
	// ErrMalformed is returned for payloads that are not valid JSON.
	ErrMalformed = errors.New("feed: malformed message")
	// ErrUnknownEvent is returned for envelopes naming an event we do not route.
	ErrUnknownEvent = errors.New("feed: unknown event")
)

// Decode parses one envelope of the form {"event": name, "data": payload}.
//
// ok is false (with a nil error) when the message is well-formed but carries
// nothing to apply, such as a candle event without a candle.
func Decode(raw []byte) (ev model.Event, ok bool, err error) {
	if !gjson.ValidBytes(raw) {
		return model.Event{}, false, ErrMalformed
	}
	env := gjson.ParseBytes(raw)
	return decodeData(env.Get("event").String(), env.Get("data"))
}

// DecodeData parses a bare payload for a known event name. Used by
// transports that carry the event name out of band (e.g. per-channel pubsub).
func DecodeData(event string, data []byte) (model.Event, bool, error) {
	if !gjson.ValidBytes(data) {
		return model.Event{}, false, ErrMalformed
	}
	return decodeData(event, gjson.ParseBytes(data))
}

func decodeData(event string, data gjson.Result) (model.Event, bool, error) {
	switch event {
	case WireSeed:
		// Feed seeds are bare arrays; only fetched seeds use {"candles": [...]}.
		if !data.IsArray() {
			return model.Event{}, false, nil
		}
		return model.SnapshotEvent(parseCandles(data)), true, nil

	case WireCandle:
		c := data.Get("candle")
		if !c.IsObject() {
			return model.Event{}, false, nil
		}
		return model.CandleEvent(parseCandle(c), data.Get("closed").Bool()), true, nil

	case WireSignal:
		return model.SignalEvent(parseSignal(data)), true, nil

	default:
		return model.Event{}, false, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// parseSeed accepts either a bare candle array or {"candles": [...]}.
func parseSeed(data gjson.Result) ([]model.Candle, bool) {
	arr := data
	if data.IsObject() {
		arr = data.Get("candles")
	}
	if !arr.IsArray() {
		return nil, false
	}
	return parseCandles(arr), true
}

func parseCandles(arr gjson.Result) []model.Candle {
	items := arr.Array()
	candles := make([]model.Candle, 0, len(items))
	for _, item := range items {
		candles = append(candles, parseCandle(item))
	}
	return candles
}

// parseCandle reads OHLC fields as-is. Missing fields read as zero.
func parseCandle(r gjson.Result) model.Candle {
	return model.Candle{
		Time:  r.Get("time").Int(),
		Open:  r.Get("open").Float(),
		High:  r.Get("high").Float(),
		Low:   r.Get("low").Float(),
		Close: r.Get("close").Float(),
	}
}

// parseSignal returns nil for null or non-object payloads. The kind is read
// from "kind", falling back to the legacy "type" key.
func parseSignal(r gjson.Result) *model.Signal {
	if !r.IsObject() {
		return nil
	}
	kind := r.Get("kind")
	if !kind.Exists() {
		kind = r.Get("type")
	}
	return &model.Signal{
		Time: r.Get("time").Int(),
		Kind: kind.String(),
	}
}

// ParseCandle decodes a single candle object.
func ParseCandle(raw []byte) (model.Candle, error) {
	if !gjson.ValidBytes(raw) {
		return model.Candle{}, ErrMalformed
	}
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return model.Candle{}, fmt.Errorf("%w: candle is not an object", ErrMalformed)
	}
	return parseCandle(r), nil
}

// ParseCandles decodes a seed response body ({"candles": [...]} or a bare
// array). ok is false when no candle array is present.
func ParseCandles(body []byte) ([]model.Candle, bool, error) {
	if !gjson.ValidBytes(body) {
		return nil, false, ErrMalformed
	}
	candles, ok := parseSeed(gjson.ParseBytes(body))
	return candles, ok, nil
}
