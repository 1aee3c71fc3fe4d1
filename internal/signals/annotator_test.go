package signals

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"patternboard/internal/model"
)

func sig(ms int64, kind string) *model.Signal {
	return &model.Signal{Time: ms, Kind: kind}
}

func TestAnnotator_NilDropped(t *testing.T) {
	a := New(0)
	dropped := 0
	a.OnDropped = func() { dropped++ }

	a.Record(sig(1000, "doji"))
	a.Record(nil)

	if a.Len() != 1 {
		t.Fatalf("expected 1 signal, got %d", a.Len())
	}
	if dropped != 1 {
		t.Errorf("expected 1 drop callback, got %d", dropped)
	}
}

func TestAnnotator_ArrivalOrderNoDedup(t *testing.T) {
	a := New(0)
	a.Record(sig(3000, "doji"))
	a.Record(sig(1000, "bullish-engulfing"))
	a.Record(sig(1000, "bullish-engulfing"))

	want := []model.Signal{
		{Time: 3000, Kind: "doji"},
		{Time: 1000, Kind: "bullish-engulfing"},
		{Time: 1000, Kind: "bullish-engulfing"},
	}
	if diff := cmp.Diff(want, a.Signals()); diff != "" {
		t.Errorf("signals mismatch (-want +got):\n%s", diff)
	}
}

func TestAnnotator_SignalsIsCopy(t *testing.T) {
	a := New(0)
	a.Record(sig(1000, "doji"))

	got := a.Signals()
	got[0].Kind = "mutated"

	if a.Signals()[0].Kind != "doji" {
		t.Error("Signals() leaked internal state")
	}
}

func TestAnnotator_Retention(t *testing.T) {
	a := New(3)
	var evicted []model.Signal
	a.OnEvicted = func(s model.Signal) { evicted = append(evicted, s) }

	for i := int64(1); i <= 5; i++ {
		a.Record(sig(i*1000, "doji"))
	}

	if a.Len() != 3 {
		t.Fatalf("expected 3 retained signals, got %d", a.Len())
	}
	if a.Evicted() != 2 {
		t.Errorf("expected 2 evicted, got %d", a.Evicted())
	}
	got := a.Signals()
	if got[0].Time != 3000 || got[2].Time != 5000 {
		t.Errorf("expected retained 3000..5000, got %+v", got)
	}
	if len(evicted) != 2 || evicted[0].Time != 1000 || evicted[1].Time != 2000 {
		t.Errorf("expected evicted 1000,2000 got %+v", evicted)
	}
}

func TestAnnotator_UnboundedByDefault(t *testing.T) {
	a := New(0)
	for i := 0; i < 10_000; i++ {
		a.Record(sig(int64(i), "doji"))
	}
	if a.Len() != 10_000 {
		t.Fatalf("expected 10000 signals, got %d", a.Len())
	}
	if a.Evicted() != 0 {
		t.Errorf("unbounded annotator should never evict, got %d", a.Evicted())
	}
}

func TestAnnotator_MarkersFollowArrival(t *testing.T) {
	a := New(0)
	a.Record(sig(9000, "bearish-engulfing"))
	a.Record(sig(1000, "doji"))

	got := a.Markers()
	if len(got) != 2 || got[0].Time != 9000 || got[1].Time != 1000 {
		t.Errorf("markers not in arrival order: %+v", got)
	}
}
