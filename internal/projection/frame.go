// Package projection composes reconciler and annotator output into the
// chart-ready Frame handed to the render surface. It is the single place
// where millisecond timestamps become the renderer's seconds.
package projection

import (
	"encoding/json"
	"time"

	"patternboard/internal/model"
)

// ChartCandle is a candle in renderer units (time in seconds).
type ChartCandle struct {
	Time  float64 `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// ChartMarker is a marker in renderer units (time in seconds).
type ChartMarker struct {
	Time      float64 `json:"time"`
	Shape     string  `json:"shape"`
	Placement string  `json:"placement"`
	Label     string  `json:"label"`
}

// Status is presentation-only state forwarded alongside the chart data.
type Status struct {
	Connected bool   `json:"connected"`
	Text      string `json:"text"`
	Candles   int    `json:"candles"`
	Signals   int    `json:"signals"`
}

// Frame is one complete render state. Frames never alias engine state and
// can be shared across goroutines once built.
type Frame struct {
	Seq     int64         `json:"seq"`
	Series  []ChartCandle `json:"series"`
	Markers []ChartMarker `json:"markers"`
	Status  Status        `json:"status"`

	// SourceTS is when the event that produced this frame was received.
	SourceTS time.Time `json:"-"`
}

// JSON returns the JSON-encoded frame (ignoring errors for hot-path usage).
func (f *Frame) JSON() []byte {
	b, _ := json.Marshal(f)
	return b
}

// Seconds converts a millisecond epoch to renderer seconds.
func Seconds(ms int64) float64 {
	return float64(ms) / 1000
}

// Project builds a Frame from a candle series and markers, both in ms.
// The output slices are freshly allocated.
func Project(candles []model.Candle, markers []model.Marker) Frame {
	series := make([]ChartCandle, len(candles))
	for i, c := range candles {
		series[i] = ChartCandle{
			Time:  Seconds(c.Time),
			Open:  c.Open,
			High:  c.High,
			Low:   c.Low,
			Close: c.Close,
		}
	}

	out := make([]ChartMarker, len(markers))
	for i, m := range markers {
		out[i] = ChartMarker{
			Time:      Seconds(m.Time),
			Shape:     m.Shape,
			Placement: m.Placement,
			Label:     m.Label,
		}
	}

	return Frame{Series: series, Markers: out}
}
