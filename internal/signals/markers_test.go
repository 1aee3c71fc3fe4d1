package signals

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"patternboard/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		kind      string
		shape     string
		placement string
	}{
		{"bullish-engulfing", model.ShapeArrowUp, model.PlaceBelow},
		{"bearish-engulfing", model.ShapeArrowDown, model.PlaceAbove},
		{"doji", model.ShapeCircle, model.PlaceBelow},
		{"bearish-harami", model.ShapeArrowDown, model.PlaceAbove},
		{"dragonfly-doji", model.ShapeCircle, model.PlaceBelow},
		{"bearish-doji", model.ShapeArrowDown, model.PlaceAbove}, // bearish rule has priority
		{"hammer", model.ShapeArrowUp, model.PlaceBelow},
		{"", model.ShapeArrowUp, model.PlaceBelow},
		{"BEARISH", model.ShapeArrowUp, model.PlaceBelow}, // matching is case-sensitive
	}
	for _, tc := range cases {
		shape, placement := Classify(tc.kind)
		if shape != tc.shape || placement != tc.placement {
			t.Errorf("Classify(%q) = (%s, %s), want (%s, %s)", tc.kind, shape, placement, tc.shape, tc.placement)
		}
	}
}

func TestProjectMarkers_Bearish(t *testing.T) {
	got := ProjectMarkers([]model.Signal{{Time: 5000, Kind: "bearish-engulfing"}})

	want := []model.Marker{{
		Time:      5000,
		Shape:     model.ShapeArrowDown,
		Placement: model.PlaceAbove,
		Label:     "BEARISH-ENGULFING",
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectMarkers_PreservesOrderAndDuplicates(t *testing.T) {
	in := []model.Signal{
		{Time: 4000, Kind: "doji"},
		{Time: 1000, Kind: "bullish-engulfing"},
		{Time: 4000, Kind: "doji"},
		{Time: 123456, Kind: "off-series"},
	}
	got := ProjectMarkers(in)

	if len(got) != len(in) {
		t.Fatalf("expected %d markers, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i].Time != in[i].Time {
			t.Errorf("marker[%d].Time = %d, want %d", i, got[i].Time, in[i].Time)
		}
	}
	if got[3].Label != "OFF-SERIES" {
		t.Errorf("label = %q, want OFF-SERIES", got[3].Label)
	}
}

func TestProjectMarkers_Empty(t *testing.T) {
	if got := ProjectMarkers(nil); len(got) != 0 {
		t.Errorf("expected no markers, got %d", len(got))
	}
}
