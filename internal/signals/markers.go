package signals

import (
	"strings"

	"patternboard/internal/model"
)

// rule maps a signal kind to a marker style. Rules are evaluated in order;
// the first match wins.
type rule struct {
	match     func(kind string) bool
	shape     string
	placement string
}

func contains(sub string) func(string) bool {
	return func(kind string) bool { return strings.Contains(kind, sub) }
}

// Substring matching keeps unknown variants such as "bearish-harami" or
// "dragonfly-doji" styled sensibly.
var rules = []rule{
	{match: contains("bearish"), shape: model.ShapeArrowDown, placement: model.PlaceAbove},
	{match: contains("doji"), shape: model.ShapeCircle, placement: model.PlaceBelow},
}

// Default style for kinds no rule matches.
const (
	defaultShape     = model.ShapeArrowUp
	defaultPlacement = model.PlaceBelow
)

// Classify returns the marker shape and placement for a signal kind.
func Classify(kind string) (shape, placement string) {
	for _, r := range rules {
		if r.match(kind) {
			return r.shape, r.placement
		}
	}
	return defaultShape, defaultPlacement
}

// ProjectMarkers converts signals into markers, one per signal, in input
// order. Duplicates and times with no matching candle are kept. Time stays
// in milliseconds.
func ProjectMarkers(signals []model.Signal) []model.Marker {
	markers := make([]model.Marker, len(signals))
	for i, s := range signals {
		shape, placement := Classify(s.Kind)
		markers[i] = model.Marker{
			Time:      s.Time,
			Shape:     shape,
			Placement: placement,
			Label:     strings.ToUpper(s.Kind),
		}
	}
	return markers
}
