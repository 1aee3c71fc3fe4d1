package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dashboard engine.
type Metrics struct {
	// Reconciler
	UpdatesTotal    *prometheus.CounterVec // labels: kind=append|replace
	ClosedTotal     prometheus.Counter
	RejectedTotal   prometheus.Counter
	SnapshotsTotal  *prometheus.CounterVec // labels: source=fetch|feed
	SeriesLen       prometheus.Gauge
	SnapshotFailed  prometheus.Counter
	SnapshotDropped prometheus.Counter // late or superseded fetch results

	// Annotator
	SignalsTotal   prometheus.Counter
	SignalsNil     prometheus.Counter
	SignalsEvicted prometheus.Counter
	SignalsLen     prometheus.Gauge

	// Engine / transport
	EventsTotal      *prometheus.CounterVec // labels: type
	Reconnects       prometheus.Counter
	FeedConnected    prometheus.Gauge
	FramesTotal      prometheus.Counter
	FrameBuildDur    prometheus.Histogram
	FrameDropsTotal  *prometheus.CounterVec // labels: subscriber
	FrameQueueFill   *prometheus.GaugeVec   // labels: subscriber
	FeedRetries      prometheus.Counter
	WSClients        prometheus.Gauge
	DecodeErrorTotal prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternboard_candle_updates_total",
			Help: "Candle updates applied to the series (by merge kind)",
		}, []string{"kind"}),
		ClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_candles_closed_total",
			Help: "Candle updates reporting a finalized bucket",
		}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_candle_updates_rejected_total",
			Help: "Out-of-order candle updates rejected in strict mode",
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternboard_snapshots_total",
			Help: "Seed snapshots loaded into the series (by source)",
		}, []string{"source"}),
		SeriesLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patternboard_series_length",
			Help: "Current number of candles in the series",
		}),
		SnapshotFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_snapshot_fetch_failures_total",
			Help: "Seed snapshot fetches that returned an error",
		}),
		SnapshotDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_snapshot_results_discarded_total",
			Help: "Seed fetch results discarded as superseded or late",
		}),

		SignalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_signals_total",
			Help: "Pattern signals recorded",
		}),
		SignalsNil: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_signals_nil_total",
			Help: "Null signal payloads dropped",
		}),
		SignalsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_signals_evicted_total",
			Help: "Signals evicted by the retention limit",
		}),
		SignalsLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patternboard_signals_retained",
			Help: "Current number of retained signals",
		}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternboard_events_total",
			Help: "Inbound feed events processed (by type)",
		}, []string{"type"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_feed_reconnects_total",
			Help: "Feed reconnections observed after a disconnect",
		}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patternboard_feed_connected",
			Help: "Feed connection state (0=disconnected, 1=connected)",
		}),
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_frames_total",
			Help: "Frames projected for the render surface",
		}),
		FrameBuildDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patternboard_frame_build_duration_seconds",
			Help:    "Projection latency per frame",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		FrameDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patternboard_frame_drops_total",
			Help: "Stale frames discarded for slow subscribers",
		}, []string{"subscriber"}),
		FrameQueueFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "patternboard_frame_queue_fill_ratio",
			Help: "Frame queue saturation per subscriber (0..1)",
		}, []string{"subscriber"}),
		FeedRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_feed_retries_total",
			Help: "Feed transport connection attempts after a failure",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patternboard_ws_clients",
			Help: "Connected render-surface websocket clients",
		}),
		DecodeErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patternboard_feed_decode_errors_total",
			Help: "Feed messages that could not be decoded",
		}),
	}

	reg.MustRegister(
		m.UpdatesTotal,
		m.ClosedTotal,
		m.RejectedTotal,
		m.SnapshotsTotal,
		m.SeriesLen,
		m.SnapshotFailed,
		m.SnapshotDropped,
		m.SignalsTotal,
		m.SignalsNil,
		m.SignalsEvicted,
		m.SignalsLen,
		m.EventsTotal,
		m.Reconnects,
		m.FeedConnected,
		m.FramesTotal,
		m.FrameBuildDur,
		m.FrameDropsTotal,
		m.FrameQueueFill,
		m.FeedRetries,
		m.WSClients,
		m.DecodeErrorTotal,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastEventTime  time.Time `json:"last_event_time"`
	SeedLoaded     bool      `json:"seed_loaded"`
	SeriesLen      int       `json:"series_len"`
	SignalsLen     int       `json:"signals_len"`
	RedisConnected bool      `json:"redis_connected"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSeedLoaded(v bool) {
	h.mu.Lock()
	h.SeedLoaded = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetCounts(series, signals int) {
	h.mu.Lock()
	h.SeriesLen = series
	h.SignalsLen = signals
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.SeedLoaded {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		FeedConnected bool   `json:"feed_connected"`
		SeedLoaded    bool   `json:"seed_loaded"`
		LastEventTime string `json:"last_event_time"`
		EventAge      string `json:"event_age"`
		SeriesLen     int    `json:"series_len"`
		SignalsLen    int    `json:"signals_len"`
	}{
		Status:        overallStatus,
		Uptime:        time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected: h.FeedConnected,
		SeedLoaded:    h.SeedLoaded,
		LastEventTime: h.LastEventTime.Format(time.RFC3339),
		EventAge:      eventAge,
		SeriesLen:     h.SeriesLen,
		SignalsLen:    h.SignalsLen,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer is typically
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the server's mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", slog.String("component", "metrics"), slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("component", "metrics"), slog.Any("err", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
