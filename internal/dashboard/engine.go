// Package dashboard routes feed events into the candle reconciler and the
// signal annotator and republishes a chart frame after every change.
//
// All state is owned by one goroutine (Run). Snapshot fetches run in the
// background and hand their result back to that loop; a result is applied
// only if it belongs to the newest request and the engine is still running.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"patternboard/internal/logger"
	"patternboard/internal/metrics"
	"patternboard/internal/model"
	"patternboard/internal/projection"
	"patternboard/internal/series"
	"patternboard/internal/signals"
)

// Status texts shown next to the chart.
const (
	StatusInitializing = "Initializing…"
	StatusFetching     = "Fetching seed data…"
	StatusConnected    = "Connected to server"
	StatusDisconnected = "Disconnected — retrying…"
	StatusSeedFailed   = "Seed fetch failed (check server)"
)

// Publisher receives every frame the engine builds.
type Publisher interface {
	Publish(frame projection.Frame)
}

// Config controls engine behaviour.
type Config struct {
	// Strict rejects candle updates older than the tail.
	Strict bool
	// SignalRetention keeps only the newest N signals; 0 keeps all.
	SignalRetention int
	// ResnapshotOnReconnect replaces the series with a fresh seed after
	// the feed reconnects.
	ResnapshotOnReconnect bool
	// SeedTimeout bounds each snapshot fetch. Defaults to 10s.
	SeedTimeout time.Duration
}

type snapshotResult struct {
	gen     uint64
	candles []model.Candle
	err     error
	elapsed time.Duration
}

// Engine is the dashboard's event router.
type Engine struct {
	cfg     Config
	series  *series.Reconciler
	signals *signals.Annotator
	seed    model.SnapshotSource // nil: no seed fetches
	pub     Publisher

	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	connected    bool
	disconnected bool // a connection was lost since the last connect
	status       string
	seq          int64
	session      string

	runCtx     context.Context
	runCancel  context.CancelFunc
	stopped    bool
	snapGen    uint64
	snapCancel context.CancelFunc
	results    chan snapshotResult

	// Optional hooks, called on the engine goroutine; must not block.
	OnSignal     func(model.Signal)
	OnConnection func(connected bool)

	log *slog.Logger
}

// New creates an engine. seed may be nil when only the feed provides seeds.
func New(cfg Config, seed model.SnapshotSource, pub Publisher) *Engine {
	if cfg.SeedTimeout <= 0 {
		cfg.SeedTimeout = 10 * time.Second
	}
	rec := series.New()
	rec.Strict = cfg.Strict

	return &Engine{
		cfg:     cfg,
		series:  rec,
		signals: signals.New(cfg.SignalRetention),
		seed:    seed,
		pub:     pub,
		status:  StatusInitializing,
		session: logger.NewSessionID(),
		results: make(chan snapshotResult),
		log:     slog.Default().With(slog.String("component", "dashboard")),
	}
}

// Instrument wires Prometheus metrics and the health status into the
// reconciler and annotator hooks. Either argument may be nil.
func (e *Engine) Instrument(m *metrics.Metrics, h *metrics.HealthStatus) {
	e.metrics = m
	e.health = h
	if m == nil {
		return
	}

	e.series.OnChange = func(c series.Change) {
		switch c.Kind {
		case series.ChangeAppend, series.ChangeReplace:
			m.UpdatesTotal.WithLabelValues(c.Kind.String()).Inc()
		}
		m.SeriesLen.Set(float64(c.Len))
	}
	e.series.OnClosed = func(model.Candle) { m.ClosedTotal.Inc() }
	e.series.OnRejected = func(model.Candle) { m.RejectedTotal.Inc() }

	e.signals.OnRecord = func(model.Signal) {
		m.SignalsTotal.Inc()
		m.SignalsLen.Set(float64(e.signals.Len()))
	}
	e.signals.OnDropped = func() { m.SignalsNil.Inc() }
	e.signals.OnEvicted = func(model.Signal) { m.SignalsEvicted.Inc() }
}

// Run processes events one at a time until ctx is cancelled or events is
// closed. If a seed source is configured a snapshot is requested first.
func (e *Engine) Run(ctx context.Context, events <-chan model.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx, e.runCancel = ctx, cancel
	defer e.teardown()

	e.log.Info("engine started",
		slog.Bool("strict", e.cfg.Strict),
		slog.Int("signal_retention", e.cfg.SignalRetention),
		slog.Bool("resnapshot_on_reconnect", e.cfg.ResnapshotOnReconnect),
		slog.String("session_id", e.session),
	)
	e.publish(time.Now())

	if e.seed != nil {
		e.RequestSnapshot()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ev)
		case res := <-e.results:
			e.applySnapshot(res)
		}
	}
}

func (e *Engine) teardown() {
	e.stopped = true
	if e.snapCancel != nil {
		e.snapCancel()
		e.snapCancel = nil
	}
	// Releases fetch goroutines blocked on results.
	e.runCancel()
	e.log.Info("engine stopped",
		slog.Int("candles", e.series.Len()),
		slog.Int("signals", e.signals.Len()),
	)
}

// Handle routes one event to completion and publishes the resulting frame.
// It must only be called from the goroutine that owns the engine.
func (e *Engine) Handle(ev model.Event) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	ctx := logger.WithSessionID(context.Background(), e.session)
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(ev.Type.String(), ev.ReceivedAt))

	if e.metrics != nil {
		e.metrics.EventsTotal.WithLabelValues(ev.Type.String()).Inc()
	}
	if e.health != nil {
		e.health.SetLastEventTime(ev.ReceivedAt)
	}

	changed := true
	switch ev.Type {
	case model.EventSnapshot:
		changed = e.handleFeedSeed(ctx, ev.Snapshot)
	case model.EventCandle:
		changed = e.handleCandle(ctx, ev.Update)
	case model.EventSignal:
		changed = ev.Signal != nil
		e.signals.Record(ev.Signal)
		if changed && e.OnSignal != nil {
			e.OnSignal(*ev.Signal)
		}
	case model.EventConnection:
		e.handleConnection(ctx, ev.Connected)
	case model.EventFeedError:
		e.status = "Socket error: " + ev.Err
		e.log.Warn("feed error", append(logger.LogWithTrace(ctx), slog.String("err", ev.Err))...)
	default:
		e.log.Debug("ignoring unknown event", slog.Int("type", int(ev.Type)))
		changed = false
	}

	if changed {
		e.publish(ev.ReceivedAt)
	}
}

// handleFeedSeed loads a seed delivered by the live feed. An empty seed is
// ignored so a reconnecting server cannot wipe the chart.
func (e *Engine) handleFeedSeed(ctx context.Context, candles []model.Candle) bool {
	if len(candles) == 0 {
		e.log.Debug("ignoring empty feed seed", logger.LogWithTrace(ctx)...)
		return false
	}
	e.series.LoadSnapshot(candles)
	e.status = fmt.Sprintf("Seed from socket: %d candles", len(candles))
	if e.metrics != nil {
		e.metrics.SnapshotsTotal.WithLabelValues("feed").Inc()
	}
	if e.health != nil {
		e.health.SetSeedLoaded(true)
	}
	e.log.Info("loaded feed seed", append(logger.LogWithTrace(ctx), slog.Int("candles", len(candles)))...)
	return true
}

func (e *Engine) handleCandle(ctx context.Context, u model.CandleUpdate) bool {
	if err := e.series.ApplyUpdate(u.Candle, u.Closed); err != nil {
		if errors.Is(err, series.ErrOutOfOrder) {
			e.log.Debug("update rejected", append(logger.LogWithTrace(ctx), slog.Int64("time", u.Candle.Time))...)
			return false
		}
		e.log.Error("apply update", append(logger.LogWithTrace(ctx), slog.Any("err", err))...)
		return false
	}
	if u.Closed {
		e.status = fmt.Sprintf("Closed candle @ %d", u.Candle.Time)
	}
	return true
}

func (e *Engine) handleConnection(ctx context.Context, connected bool) {
	if connected != e.connected && e.OnConnection != nil {
		e.OnConnection(connected)
	}
	e.connected = connected
	if e.metrics != nil {
		if connected {
			e.metrics.FeedConnected.Set(1)
		} else {
			e.metrics.FeedConnected.Set(0)
		}
	}
	if e.health != nil {
		e.health.SetFeedConnected(connected)
	}

	if !connected {
		e.disconnected = true
		e.status = StatusDisconnected
		e.log.Warn("feed disconnected", logger.LogWithTrace(ctx)...)
		return
	}

	e.status = StatusConnected
	if !e.disconnected {
		e.log.Info("feed connected", logger.LogWithTrace(ctx)...)
		return
	}

	// Reconnect: start a new session epoch and optionally re-seed.
	e.disconnected = false
	prev := e.session
	e.session = logger.NewSessionID()
	if e.metrics != nil {
		e.metrics.Reconnects.Inc()
	}
	e.log.Info("feed reconnected",
		slog.String("previous_session_id", prev),
		slog.String("session_id", e.session),
	)
	if e.cfg.ResnapshotOnReconnect && e.seed != nil {
		e.RequestSnapshot()
	}
}

// RequestSnapshot starts a background seed fetch. Any fetch still in flight
// is cancelled and its result will be discarded. It is a no-op when the
// engine is not running or has no seed source.
func (e *Engine) RequestSnapshot() {
	if e.seed == nil || e.runCtx == nil || e.stopped {
		return
	}
	if e.snapCancel != nil {
		e.snapCancel()
	}

	e.snapGen++
	gen := e.snapGen
	ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.SeedTimeout)
	e.snapCancel = cancel

	e.status = StatusFetching
	e.publish(time.Now())
	e.log.Info("requesting snapshot", slog.Uint64("generation", gen), slog.String("session_id", e.session))

	results := e.results
	done := e.runCtx.Done()
	go func() {
		start := time.Now()
		candles, err := e.seed.FetchSnapshot(ctx)
		select {
		case results <- snapshotResult{gen: gen, candles: candles, err: err, elapsed: time.Since(start)}:
		case <-done:
		}
	}()
}

// applySnapshot applies a fetch result if it is current.
func (e *Engine) applySnapshot(res snapshotResult) {
	if e.stopped || res.gen != e.snapGen {
		e.log.Debug("discarding snapshot result",
			slog.Uint64("generation", res.gen),
			slog.Uint64("current", e.snapGen),
		)
		if e.metrics != nil {
			e.metrics.SnapshotDropped.Inc()
		}
		return
	}
	if e.snapCancel != nil {
		e.snapCancel()
		e.snapCancel = nil
	}

	if res.err != nil {
		e.status = StatusSeedFailed
		e.log.Error("seed fetch failed", slog.Any("err", res.err), slog.Duration("elapsed", res.elapsed))
		if e.metrics != nil {
			e.metrics.SnapshotFailed.Inc()
		}
		e.publish(time.Now())
		return
	}
	if res.candles == nil {
		// The source had no candle array to offer; keep the current series.
		e.log.Warn("seed response carried no candles")
		return
	}

	e.series.LoadSnapshot(res.candles)
	e.status = fmt.Sprintf("Loaded %d seed candles", len(res.candles))
	if e.metrics != nil {
		e.metrics.SnapshotsTotal.WithLabelValues("fetch").Inc()
	}
	if e.health != nil {
		e.health.SetSeedLoaded(true)
	}
	e.log.Info("loaded seed", slog.Int("candles", len(res.candles)), slog.Duration("elapsed", res.elapsed))
	e.publish(time.Now())
}

// Frame builds the current render state without publishing it.
func (e *Engine) Frame() projection.Frame {
	f := projection.Project(e.series.Series(), e.signals.Markers())
	f.Seq = e.seq
	f.Status = projection.Status{
		Connected: e.connected,
		Text:      e.status,
		Candles:   e.series.Len(),
		Signals:   e.signals.Len(),
	}
	return f
}

func (e *Engine) publish(source time.Time) {
	start := time.Now()
	e.seq++
	f := e.Frame()
	f.SourceTS = source

	if e.metrics != nil {
		e.metrics.FramesTotal.Inc()
		e.metrics.FrameBuildDur.Observe(time.Since(start).Seconds())
	}
	if e.health != nil {
		e.health.SetCounts(f.Status.Candles, f.Status.Signals)
	}
	if e.pub != nil {
		e.pub.Publish(f)
	}
}

// Series returns the reconciler's read-only view. Owner goroutine only.
func (e *Engine) Series() []model.Candle { return e.series.Series() }

// Signals returns a copy of the retained signals. Owner goroutine only.
func (e *Engine) Signals() []model.Signal { return e.signals.Signals() }

// Status returns the current status text. Owner goroutine only.
func (e *Engine) Status() string { return e.status }

// Connected reports the last known feed state. Owner goroutine only.
func (e *Engine) Connected() bool { return e.connected }
