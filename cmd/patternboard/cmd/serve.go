package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"patternboard/config"
	"patternboard/internal/bus"
	"patternboard/internal/dashboard"
	"patternboard/internal/feed"
	feedredis "patternboard/internal/feed/redis"
	"patternboard/internal/feed/ws"
	"patternboard/internal/gateway"
	"patternboard/internal/metrics"
	"patternboard/internal/model"
	"patternboard/internal/notify"
	"patternboard/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard engine and render gateway",
	Long: `Serve connects to the live feed, seeds the candle series from the
configured snapshot source and serves chart frames to browsers.

Endpoints:
  GATEWAY_ADDR  /ws, /api/frame, /api/metrics, /health
  METRICS_ADDR  /metrics (Prometheus), /healthz

Example:
  FEED_URL=ws://localhost:8080/ws SEED_URL=http://localhost:8080 patternboard serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup("patternboard")
	if err != nil {
		return err
	}
	processStart := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics + health
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	// A single Redis source serves both roles when feed and seed use Redis.
	var rs *feedredis.Source
	redisSource := func() (*feedredis.Source, error) {
		if rs != nil {
			return rs, nil
		}
		src, err := feedredis.New(feedredis.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			Symbol:    cfg.Symbol,
			SeedLimit: int64(cfg.SeedLimit),
		})
		if err != nil {
			return nil, err
		}
		health.SetRedisConnected(true)
		rs = src
		return rs, nil
	}
	defer func() {
		if rs != nil {
			rs.Close()
		}
	}()

	seed, closeSeed, err := buildSeed(cfg, redisSource)
	if err != nil {
		return err
	}
	defer closeSeed()

	source, err := buildFeed(cfg, m, redisSource)
	if err != nil {
		return err
	}

	// Frames: engine → fan-out → gateway hub
	fan := bus.New(4)
	fan.OnDrop = func(i int) {
		m.FrameDropsTotal.WithLabelValues(strconv.Itoa(i)).Inc()
	}
	frames := fan.Subscribe()
	go fan.Monitor(ctx, 2*time.Second, func(stats []bus.ChannelStat) {
		for i, st := range stats {
			m.FrameQueueFill.WithLabelValues(strconv.Itoa(i)).Set(st.Ratio())
		}
	})

	hub := gateway.NewHub()
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }
	go hub.Run(ctx, frames)
	go hub.StartMetricsBroadcast(ctx, processStart, 2*time.Second)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, processStart)
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Info("gateway listening", slog.String("addr", cfg.GatewayAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("gateway server error", slog.Any("err", err))
			stop()
		}
	}()

	engine := dashboard.New(dashboard.Config{
		Strict:                cfg.StrictOrdering,
		SignalRetention:       cfg.SignalRetention,
		ResnapshotOnReconnect: cfg.ResnapshotOnReconnect,
		SeedTimeout:           cfg.SeedTimeout,
	}, seed, fan)
	engine.Instrument(m, health)

	// Alerts
	notifiers := []notify.Notifier{notify.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	alerts := notify.NewDispatcher(64, notifiers...)
	alerts.OnDrop = func(a notify.Alert) {
		log.Warn("alert dropped", slog.String("title", a.Title))
	}
	go alerts.Run(ctx)

	feedLost := false
	engine.OnSignal = func(s model.Signal) {
		alerts.Notify(notify.SignalAlert(cfg.Symbol, s))
	}
	engine.OnConnection = func(connected bool) {
		if !connected {
			feedLost = true
			alerts.Notify(notify.ConnectionAlert(cfg.Symbol, false))
		} else if feedLost {
			feedLost = false
			alerts.Notify(notify.ConnectionAlert(cfg.Symbol, true))
		}
	}

	events := make(chan model.Event, 256)
	go func() {
		if err := source.Start(ctx, events); err != nil {
			log.Error("feed stopped", slog.Any("err", err))
			stop()
		}
	}()

	log.Info("patternboard started",
		slog.String("symbol", cfg.Symbol),
		slog.String("feed", cfg.FeedKind),
		slog.String("seed", cfg.SeedKind),
	)

	// Blocks until shutdown
	runErr := engine.Run(ctx, events)

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	return runErr
}

// buildSeed selects the snapshot source. The returned close func is never nil.
func buildSeed(cfg *config.Config, redisSource func() (*feedredis.Source, error)) (model.SnapshotSource, func(), error) {
	noop := func() {}
	switch cfg.SeedKind {
	case config.SeedHTTP:
		return feed.NewHTTPSnapshot(cfg.SeedURL), noop, nil
	case config.SeedRedis:
		src, err := redisSource()
		if err != nil {
			return nil, noop, fmt.Errorf("redis seed: %w", err)
		}
		return src, noop, nil
	case config.SeedSQLite:
		r, err := sqlite.NewReader(cfg.SQLitePath, cfg.Symbol, cfg.SeedLimit)
		if err != nil {
			return nil, noop, fmt.Errorf("sqlite seed: %w", err)
		}
		return r, func() { r.Close() }, nil
	default:
		return nil, noop, nil
	}
}

// buildFeed selects the live event source and wires its hooks into metrics.
func buildFeed(cfg *config.Config, m *metrics.Metrics, redisSource func() (*feedredis.Source, error)) (model.EventSource, error) {
	onDecodeError := func(error) { m.DecodeErrorTotal.Inc() }
	onRetry := func() { m.FeedRetries.Inc() }

	switch cfg.FeedKind {
	case config.FeedRedis:
		src, err := redisSource()
		if err != nil {
			return nil, fmt.Errorf("redis feed: %w", err)
		}
		src.OnDecodeError = onDecodeError
		src.OnRetry = onRetry
		return src, nil
	default:
		ing, err := ws.New(ws.Config{URL: cfg.FeedURL})
		if err != nil {
			return nil, err
		}
		ing.OnDecodeError = onDecodeError
		ing.OnRetry = onRetry
		return ing, nil
	}
}
