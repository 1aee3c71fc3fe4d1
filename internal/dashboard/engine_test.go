package dashboard

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"patternboard/internal/metrics"
	"patternboard/internal/model"
	"patternboard/internal/projection"
)

// recorder collects published frames.
type recorder struct {
	frames chan projection.Frame
}

func newRecorder() *recorder {
	return &recorder{frames: make(chan projection.Frame, 256)}
}

func (r *recorder) Publish(f projection.Frame) { r.frames <- f }

// waitStatus returns the first frame whose status text is want.
func (r *recorder) waitStatus(t *testing.T, want string) projection.Frame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-r.frames:
			if f.Status.Text == want {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %q", want)
			return projection.Frame{}
		}
	}
}

// seedFunc adapts a function to model.SnapshotSource.
type seedFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) ([]model.Candle, error)
}

func (s *seedFunc) FetchSnapshot(ctx context.Context) ([]model.Candle, error) {
	return s.fn(ctx, s.calls.Add(1))
}

func candles(times ...int64) []model.Candle {
	out := make([]model.Candle, len(times))
	for i, ts := range times {
		out[i] = model.Candle{Time: ts, Open: 1, High: 2, Low: 0.5, Close: float64(i + 1)}
	}
	return out
}

func times(cs []model.Candle) []int64 {
	out := make([]int64, len(cs))
	for i, c := range cs {
		out[i] = c.Time
	}
	return out
}

func TestHandle_RoutesEvents(t *testing.T) {
	rec := newRecorder()
	e := New(Config{}, nil, rec)

	e.Handle(model.SnapshotEvent(candles(1000, 2000)))
	if e.Status() != "Seed from socket: 2 candles" {
		t.Errorf("status = %q", e.Status())
	}

	e.Handle(model.CandleEvent(model.Candle{Time: 2000, Close: 9}, false)) // replace tail
	e.Handle(model.CandleEvent(model.Candle{Time: 3000, Close: 3}, false)) // append
	e.Handle(model.CandleEvent(model.Candle{Time: 3000, Close: 4}, true))  // close tail

	if diff := cmp.Diff([]int64{1000, 2000, 3000}, times(e.Series())); diff != "" {
		t.Errorf("series times (-want +got):\n%s", diff)
	}
	if got := e.Series()[1].Close; got != 9 {
		t.Errorf("tail replace lost: close = %v", got)
	}
	if e.Status() != "Closed candle @ 3000" {
		t.Errorf("status = %q", e.Status())
	}

	e.Handle(model.SignalEvent(&model.Signal{Time: 3000, Kind: "bearish-engulfing"}))
	e.Handle(model.SignalEvent(nil))
	if got := len(e.Signals()); got != 1 {
		t.Errorf("signals = %d, want 1", got)
	}

	f := e.Frame()
	want := projection.ChartMarker{Time: 3, Shape: model.ShapeArrowDown, Placement: model.PlaceAbove, Label: "BEARISH-ENGULFING"}
	if len(f.Markers) != 1 || f.Markers[0] != want {
		t.Errorf("markers = %+v", f.Markers)
	}
	if f.Status.Candles != 3 || f.Status.Signals != 1 {
		t.Errorf("status counts = %+v", f.Status)
	}
	// Seed, 3 candles, 1 signal; the nil signal publishes nothing.
	if got := len(rec.frames); got != 5 {
		t.Errorf("published %d frames, want 5", got)
	}
}

func TestHandle_FramesAreMonotonic(t *testing.T) {
	rec := newRecorder()
	e := New(Config{}, nil, rec)
	e.Handle(model.CandleEvent(model.Candle{Time: 1000}, false))
	e.Handle(model.CandleEvent(model.Candle{Time: 2000}, false))

	first, second := <-rec.frames, <-rec.frames
	if second.Seq <= first.Seq {
		t.Errorf("seq not increasing: %d then %d", first.Seq, second.Seq)
	}
	if first.SourceTS.IsZero() {
		t.Error("frame missing source timestamp")
	}
}

func TestHandle_EmptyFeedSeedIgnored(t *testing.T) {
	rec := newRecorder()
	e := New(Config{}, nil, rec)
	e.Handle(model.SnapshotEvent(candles(1000)))
	e.Handle(model.SnapshotEvent([]model.Candle{}))

	if got := len(e.Series()); got != 1 {
		t.Errorf("empty feed seed wiped the series: len = %d", got)
	}
	if e.Status() != "Seed from socket: 1 candles" {
		t.Errorf("status = %q", e.Status())
	}
}

func TestHandle_StrictRejectsOlderUpdate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	e := New(Config{Strict: true}, nil, newRecorder())
	e.Instrument(m, nil)

	e.Handle(model.SnapshotEvent(candles(1000, 2000)))
	e.Handle(model.CandleEvent(model.Candle{Time: 1000, Close: 42}, false))

	if got := e.Series()[0].Close; got == 42 {
		t.Error("strict mode applied an out-of-order update")
	}
	if got := testutil.ToFloat64(m.RejectedTotal); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
}

func TestHandle_PermissiveReplacesTailWithOlder(t *testing.T) {
	e := New(Config{}, nil, newRecorder())
	e.Handle(model.SnapshotEvent(candles(1000, 2000)))
	e.Handle(model.CandleEvent(model.Candle{Time: 1500}, false))

	if diff := cmp.Diff([]int64{1000, 1500}, times(e.Series())); diff != "" {
		t.Errorf("series times (-want +got):\n%s", diff)
	}
}

func TestHandle_ConnectionStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	h := metrics.NewHealthStatus()
	e := New(Config{}, nil, newRecorder())
	e.Instrument(m, h)

	e.Handle(model.ConnectionEvent(true))
	if !e.Connected() || e.Status() != StatusConnected {
		t.Fatalf("connected=%v status=%q", e.Connected(), e.Status())
	}
	e.Handle(model.ConnectionEvent(false))
	if e.Connected() || e.Status() != StatusDisconnected {
		t.Fatalf("connected=%v status=%q", e.Connected(), e.Status())
	}
	e.Handle(model.FeedErrorEvent(errors.New("connection refused")))
	if e.Status() != "Socket error: connection refused" {
		t.Errorf("status = %q", e.Status())
	}
	e.Handle(model.ConnectionEvent(true))

	if got := testutil.ToFloat64(m.Reconnects); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FeedConnected); got != 1 {
		t.Errorf("feed_connected = %v, want 1", got)
	}
	if !h.FeedConnected {
		t.Error("health not updated")
	}
}

func TestHandle_SignalRetention(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	e := New(Config{SignalRetention: 2}, nil, newRecorder())
	e.Instrument(m, nil)

	for i, kind := range []string{"doji", "bullish-engulfing", "bearish-engulfing"} {
		e.Handle(model.SignalEvent(&model.Signal{Time: int64(i+1) * 1000, Kind: kind}))
	}
	got := e.Signals()
	if len(got) != 2 || got[0].Kind != "bullish-engulfing" || got[1].Kind != "bearish-engulfing" {
		t.Errorf("retained = %+v", got)
	}
	if v := testutil.ToFloat64(m.SignalsEvicted); v != 1 {
		t.Errorf("evicted = %v, want 1", v)
	}
}

func TestHandle_Hooks(t *testing.T) {
	e := New(Config{}, nil, newRecorder())
	var sigs []model.Signal
	var conns []bool
	e.OnSignal = func(s model.Signal) { sigs = append(sigs, s) }
	e.OnConnection = func(c bool) { conns = append(conns, c) }

	e.Handle(model.SignalEvent(nil))
	e.Handle(model.SignalEvent(&model.Signal{Time: 1000, Kind: "doji"}))
	e.Handle(model.ConnectionEvent(true))
	e.Handle(model.ConnectionEvent(true))
	e.Handle(model.ConnectionEvent(false))

	if diff := cmp.Diff([]model.Signal{{Time: 1000, Kind: "doji"}}, sigs); diff != "" {
		t.Errorf("OnSignal mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{true, false}, conns); diff != "" {
		t.Errorf("OnConnection mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_LoadsSeed(t *testing.T) {
	rec := newRecorder()
	seed := &seedFunc{fn: func(context.Context, int32) ([]model.Candle, error) {
		return candles(1000, 2000, 3000), nil
	}}
	e := New(Config{}, seed, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event)
	go e.Run(ctx, events)

	if f := <-rec.frames; f.Status.Text != StatusInitializing {
		t.Errorf("first frame status = %q", f.Status.Text)
	}
	rec.waitStatus(t, StatusFetching)
	f := rec.waitStatus(t, "Loaded 3 seed candles")
	if len(f.Series) != 3 || f.Series[2].Time != 3 {
		t.Errorf("series = %+v", f.Series)
	}

	events <- model.CandleEvent(model.Candle{Time: 4000, Close: 4}, true)
	f = rec.waitStatus(t, "Closed candle @ 4000")
	if len(f.Series) != 4 {
		t.Errorf("series len = %d, want 4", len(f.Series))
	}
}

func TestRun_EmptyFetchedSeedIsLoaded(t *testing.T) {
	rec := newRecorder()
	seed := &seedFunc{fn: func(context.Context, int32) ([]model.Candle, error) {
		return []model.Candle{}, nil
	}}
	e := New(Config{}, seed, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, make(chan model.Event))

	f := rec.waitStatus(t, "Loaded 0 seed candles")
	if len(f.Series) != 0 {
		t.Errorf("series = %+v", f.Series)
	}
}

func TestRun_SeedFailure(t *testing.T) {
	rec := newRecorder()
	seed := &seedFunc{fn: func(context.Context, int32) ([]model.Candle, error) {
		return nil, errors.New("connection refused")
	}}
	e := New(Config{}, seed, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event)
	go e.Run(ctx, events)

	rec.waitStatus(t, StatusSeedFailed)

	// The live feed still works after a failed seed.
	events <- model.CandleEvent(model.Candle{Time: 1000}, false)
	events <- model.ConnectionEvent(true)
	f := rec.waitStatus(t, StatusConnected)
	if len(f.Series) != 1 {
		t.Errorf("series len = %d, want 1", len(f.Series))
	}
}

func TestRun_SupersededSnapshotDiscarded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	rec := newRecorder()

	releaseFirst := make(chan struct{})
	seed := &seedFunc{fn: func(ctx context.Context, call int32) ([]model.Candle, error) {
		if call == 1 {
			<-releaseFirst // ignores cancellation on purpose
			return candles(1000), nil
		}
		return candles(5000, 6000), nil
	}}
	e := New(Config{ResnapshotOnReconnect: true}, seed, rec)
	e.Instrument(m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event)
	go e.Run(ctx, events)

	rec.waitStatus(t, StatusFetching)
	events <- model.ConnectionEvent(true)
	events <- model.ConnectionEvent(false)
	events <- model.ConnectionEvent(true) // reconnect: second request
	rec.waitStatus(t, "Loaded 2 seed candles")

	close(releaseFirst)
	deadline := time.Now().Add(3 * time.Second)
	for testutil.ToFloat64(m.SnapshotDropped) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("stale snapshot result was never discarded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events <- model.SignalEvent(&model.Signal{Time: 6000, Kind: "doji"})
	var f projection.Frame
	select {
	case f = <-rec.frames:
	case <-time.After(3 * time.Second):
		t.Fatal("no frame after signal")
	}
	for len(rec.frames) > 0 {
		f = <-rec.frames
	}
	if len(f.Series) != 2 || f.Series[0].Time != 5 {
		t.Errorf("stale seed overwrote the series: %+v", f.Series)
	}
	if got := seed.calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}

func TestRun_NoResnapshotWhenDisabled(t *testing.T) {
	rec := newRecorder()
	seed := &seedFunc{fn: func(context.Context, int32) ([]model.Candle, error) {
		return candles(1000), nil
	}}
	e := New(Config{ResnapshotOnReconnect: false}, seed, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.Event)
	go e.Run(ctx, events)

	rec.waitStatus(t, "Loaded 1 seed candles")
	events <- model.ConnectionEvent(true)
	events <- model.ConnectionEvent(false)
	events <- model.ConnectionEvent(true)
	events <- model.SignalEvent(&model.Signal{Time: 1000, Kind: "doji"})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-rec.frames:
			if f.Status.Signals == 1 {
				if got := seed.calls.Load(); got != 1 {
					t.Errorf("fetch calls = %d, want 1", got)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out")
		}
	}
}

func TestRun_ResultAfterTeardownDiscarded(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})
	seed := &seedFunc{fn: func(context.Context, int32) ([]model.Candle, error) {
		<-release
		return candles(1000, 2000), nil
	}}
	e := New(Config{}, seed, rec)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan model.Event)
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, events) }()

	rec.waitStatus(t, StatusFetching)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}

	close(release)
	time.Sleep(50 * time.Millisecond)
	for len(rec.frames) > 0 {
		if f := <-rec.frames; f.Status.Text == "Loaded 2 seed candles" {
			t.Fatal("snapshot applied after teardown")
		}
	}
	if len(e.Series()) != 0 {
		t.Errorf("series mutated after teardown: %+v", e.Series())
	}
}

func TestRun_StopsWhenEventsClosed(t *testing.T) {
	seed := &seedFunc{fn: func(context.Context, int32) ([]model.Candle, error) {
		return candles(1000), nil
	}}
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		e := New(Config{}, seed, newRecorder())
		events := make(chan model.Event)
		done := make(chan error, 1)
		go func() { done <- e.Run(context.Background(), events) }()

		close(events)
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("Run did not stop on closed events")
		}
	}

	// Fetch goroutines must not outlive Run.
	deadline := time.Now().Add(3 * time.Second)
	for runtime.NumGoroutine() > before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines before=%d after=%d", before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
