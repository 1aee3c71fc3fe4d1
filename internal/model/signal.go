package model

// Signal is a pattern detected upstream at a point in time.
// Kind is an open-ended label such as "bullish-engulfing" or "doji".
type Signal struct {
	Time int64  `json:"time"` // ms, normally equal to some candle's Time
	Kind string `json:"kind"`
}

// Marker shapes.
const (
	ShapeArrowUp   = "arrow-up"
	ShapeArrowDown = "arrow-down"
	ShapeCircle    = "circle"
)

// Marker placements relative to the bar.
const (
	PlaceBelow = "below"
	PlaceAbove = "above"
)

// Marker is a renderer-facing descriptor for one signal.
// Time stays in milliseconds until projection.
type Marker struct {
	Time      int64  `json:"time"`
	Shape     string `json:"shape"`
	Placement string `json:"placement"`
	Label     string `json:"label"`
}
