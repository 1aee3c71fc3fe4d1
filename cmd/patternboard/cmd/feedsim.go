package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	feedredis "patternboard/internal/feed/redis"
	"patternboard/internal/feedsim"
	"patternboard/internal/store/sqlite"
)

var feedsimCmd = &cobra.Command{
	Use:   "feedsim",
	Short: "Run a simulated candle/signal feed",
	Long: `Feedsim serves a random-walk candle series with occasional pattern
signals, using the wire protocol serve consumes:

  GET /api/seed   closed candle history
  /ws             {"event":"seed|candle|signal","data":...} envelopes

With --redis the same events are published to Redis PubSub and closed
candles appended to the seed stream. With --sqlite closed candles are
written to a seed database.

Example:
  patternboard feedsim --addr :8080 --interval 5s --redis`,
	RunE: runFeedsim,
}

var (
	simAddr     string
	simInterval time.Duration
	simTick     time.Duration
	simHistory  int
	simPrice    float64
	simSignal   float64
	simRedis    bool
	simSQLite   bool
)

func init() {
	rootCmd.AddCommand(feedsimCmd)

	feedsimCmd.Flags().StringVar(&simAddr, "addr", ":8080", "listen address")
	feedsimCmd.Flags().DurationVar(&simInterval, "interval", 5*time.Second, "candle bucket size")
	feedsimCmd.Flags().DurationVar(&simTick, "tick", 500*time.Millisecond, "update interval")
	feedsimCmd.Flags().IntVar(&simHistory, "history", 200, "closed candles served as the seed")
	feedsimCmd.Flags().Float64Var(&simPrice, "price", 100, "starting price")
	feedsimCmd.Flags().Float64Var(&simSignal, "signal-prob", 0.25, "chance a closed candle carries a signal")
	feedsimCmd.Flags().BoolVar(&simRedis, "redis", false, "also publish to Redis (REDIS_ADDR)")
	feedsimCmd.Flags().BoolVar(&simSQLite, "sqlite", false, "also write closed candles to SQLITE_PATH")
}

func runFeedsim(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup("feedsim")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := feedsim.NewGenerator(feedsim.Config{
		Symbol:     cfg.Symbol,
		Interval:   simInterval,
		StartPrice: simPrice,
		History:    simHistory,
		SignalProb: simSignal,
	}, time.Now())

	server := feedsim.NewServer(gen)
	sinks := []feedsim.Sink{server}

	if simRedis {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		pub := feedredis.NewPublisher(rdb, cfg.Symbol)
		pub.Breaker = feedredis.NewBreaker(5, 10*time.Second)
		pub.Breaker.OnStateChange = func(from, to feedredis.BreakerState) {
			log.Warn("redis breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		if err := pub.BackfillStream(ctx, gen.History()); err != nil {
			return err
		}
		if err := pub.PublishSeed(ctx, gen.History()); err != nil {
			return err
		}
		sinks = append(sinks, pub)
		log.Info("publishing to redis", slog.String("addr", cfg.RedisAddr))
	}

	if simSQLite {
		w, err := sqlite.NewWriter(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer w.Close()
		if err := w.WriteCandles(ctx, cfg.Symbol, gen.History()); err != nil {
			return err
		}
		sinks = append(sinks, feedsim.SQLiteSink{W: w, Symbol: cfg.Symbol})
		log.Info("writing seed database", slog.String("path", cfg.SQLitePath))
	}

	go feedsim.Run(ctx, gen, simTick, sinks...)

	srv := &http.Server{Addr: simAddr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("feedsim listening",
		slog.String("addr", simAddr),
		slog.String("symbol", cfg.Symbol),
		slog.Duration("interval", simInterval),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
