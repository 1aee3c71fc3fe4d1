// Package feedsim simulates a candle and pattern-signal feed for local
// development. It serves the same wire protocol the dashboard consumes:
// GET /api/seed and a /ws envelope stream, optionally mirrored to Redis
// and a SQLite seed database.
package feedsim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"patternboard/internal/model"
)

// Config controls the simulated market.
type Config struct {
	Symbol     string
	Interval   time.Duration // candle bucket size (default 5s)
	StartPrice float64       // default 100
	History    int           // closed candles kept for the seed (default 200)
	SignalProb float64       // chance a closed candle carries a signal (default 0.25)
	RandSeed   int64         // 0 seeds from the clock
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.StartPrice <= 0 {
		c.StartPrice = 100
	}
	if c.History <= 0 {
		c.History = 200
	}
	if c.SignalProb <= 0 {
		c.SignalProb = 0.25
	}
	if c.RandSeed == 0 {
		c.RandSeed = time.Now().UnixNano()
	}
}

// Update is one generator output: a candle update and, for closed candles,
// an optional signal at the candle's time.
type Update struct {
	Candle model.Candle
	Closed bool
	Signal *model.Signal
}

// Generator produces a random-walk candle series. Safe for concurrent use.
type Generator struct {
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	price   float64
	cur     model.Candle
	history []model.Candle
}

// NewGenerator builds a generator with cfg.History closed candles ending at
// the bucket before now, and an open candle for now's bucket.
func NewGenerator(cfg Config, now time.Time) *Generator {
	cfg.defaults()
	g := &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.RandSeed)),
		price: cfg.StartPrice,
	}

	bucket := g.bucket(now)
	step := cfg.Interval.Milliseconds()
	for i := cfg.History; i > 0; i-- {
		g.history = append(g.history, g.synthCandle(bucket-int64(i)*step))
	}
	g.cur = g.openCandle(bucket)
	return g
}

// Symbol returns the simulated instrument.
func (g *Generator) Symbol() string { return g.cfg.Symbol }

// History returns a copy of the closed candles, ascending.
func (g *Generator) History() []model.Candle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Candle, len(g.history))
	copy(out, g.history)
	return out
}

// Step advances the walk to now. When now falls in a later bucket the open
// candle is closed first; the returned slice always ends with the current
// forming candle.
func (g *Generator) Step(now time.Time) []Update {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Update
	if b := g.bucket(now); b > g.cur.Time {
		closed := g.cur
		g.history = append(g.history, closed)
		if len(g.history) > g.cfg.History {
			g.history = g.history[len(g.history)-g.cfg.History:]
		}
		out = append(out, Update{Candle: closed, Closed: true, Signal: g.classify(closed)})
		g.cur = g.openCandle(b)
	}

	extend(&g.cur, g.walk())
	out = append(out, Update{Candle: g.cur})
	return out
}

func (g *Generator) bucket(now time.Time) int64 {
	step := g.cfg.Interval.Milliseconds()
	return now.UnixMilli() / step * step
}

func (g *Generator) openCandle(t int64) model.Candle {
	return model.Candle{Time: t, Open: g.price, High: g.price, Low: g.price, Close: g.price}
}

// walk applies a small random move (up to ±0.2%) and returns the new price.
func (g *Generator) walk() float64 {
	pct := (g.rng.Float64()*0.4 - 0.2) / 100.0
	g.price = math.Max(g.price*(1+pct), 0.01)
	return g.price
}

func (g *Generator) synthCandle(t int64) model.Candle {
	c := g.openCandle(t)
	for i := 0; i < 8; i++ {
		extend(&c, g.walk())
	}
	return c
}

// classify picks a pattern label for a closed candle, or nil.
func (g *Generator) classify(c model.Candle) *model.Signal {
	if g.rng.Float64() >= g.cfg.SignalProb {
		return nil
	}
	kind := "bullish-engulfing"
	body, span := math.Abs(c.Close-c.Open), c.High-c.Low
	switch {
	case span > 0 && body/span < 0.1:
		kind = "doji"
	case c.Close < c.Open:
		kind = "bearish-engulfing"
	}
	return &model.Signal{Time: c.Time, Kind: kind}
}

func extend(c *model.Candle, p float64) {
	c.Close = p
	if p > c.High {
		c.High = p
	}
	if p < c.Low {
		c.Low = p
	}
}
