// Package mdg generates a synthetic market feed for demo and test runs
// when no exchange feed is attached.
package mdg

import (
	"context"
	"math/rand"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
)

// Config controls the synthetic feed.
type Config struct {
	Symbols       []string
	BasePrice     float64
	Volatility    float64 // stddev of one step as a fraction of price
	Drift         float64 // deterministic per-step fraction, signed
	TradesPerTick int
	WhaleChance   float64 // probability a trade is whale-sized
	WhaleSize     float64 // quantity of a whale trade
	Interval      time.Duration
	Seed          int64
}

// DefaultConfig returns a gently trending BTC tape.
func DefaultConfig() Config {
	return Config{
		Symbols:       []string{"BTCUSDT"},
		BasePrice:     65_000,
		Volatility:    0.0005,
		Drift:         0.0001,
		TradesPerTick: 4,
		WhaleChance:   0.05,
		WhaleSize:     8,
		Interval:      500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Symbols) == 0 {
		c.Symbols = d.Symbols
	}
	if c.BasePrice <= 0 {
		c.BasePrice = d.BasePrice
	}
	if c.Volatility <= 0 {
		c.Volatility = d.Volatility
	}
	if c.TradesPerTick <= 0 {
		c.TradesPerTick = d.TradesPerTick
	}
	if c.WhaleChance <= 0 {
		c.WhaleChance = d.WhaleChance
	}
	if c.WhaleSize <= 0 {
		c.WhaleSize = d.WhaleSize
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UTC().UnixNano()
	}
	return c
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.WhaleChance < 0 || c.WhaleChance > 1 {
		return errors.New("invalid mdg config: whaleChance must be between 0 and 1")
	}
	if c.Volatility > 0.1 {
		return errors.New("invalid mdg config: volatility must be <= 0.1")
	}
	return nil
}

// Publisher is the event sink the feed writes to.
type Publisher interface {
	TryPublish(eventType string, payload map[string]any, priority bus.Priority, source, correlationID string)
}

// Feed random-walks one price per symbol and publishes tick and trade
// events the market store consumes, plus the slower liquidation, funding
// and open-interest signals the context builder reads from bus history.
type Feed struct {
	cfg    Config
	pub    Publisher
	rng    *rand.Rand
	prices map[string]float64
	oi     map[string]float64
	bursts int
}

// NewFeed creates a feed with validation.
func NewFeed(cfg Config, pub Publisher) (*Feed, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		return nil, errors.New("invalid mdg config: nil publisher")
	}
	prices := make(map[string]float64, len(cfg.Symbols))
	oi := make(map[string]float64, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		prices[symbol] = cfg.BasePrice
		oi[symbol] = cfg.BasePrice * 1000
	}
	return &Feed{
		cfg:    cfg,
		pub:    pub,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: prices,
		oi:     oi,
	}, nil
}

// Run emits one burst per interval until the context ends.
func (f *Feed) Run(ctx context.Context) {
	logs.Infof("synthetic feed started, symbols: %v, interval: %s", f.cfg.Symbols, f.cfg.Interval)
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logs.Infof("synthetic feed stopped")
			return
		case now := <-ticker.C:
			f.Emit(now.UTC())
		}
	}
}

// Emit advances every symbol one step and publishes the burst.
func (f *Feed) Emit(now time.Time) {
	for _, symbol := range f.cfg.Symbols {
		price := f.step(symbol)
		spread := price * 0.0001
		f.pub.TryPublish("market.tick", map[string]any{
			"symbol":    symbol,
			"price":     price,
			"bid":       price - spread,
			"ask":       price + spread,
			"timestamp": now,
		}, bus.PriorityNormal, "mdg", "")

		for range f.cfg.TradesPerTick {
			f.pub.TryPublish("market.trade", f.trade(symbol, price, now), bus.PriorityNormal, "mdg", "")
		}

		if f.rng.Float64() < f.cfg.WhaleChance {
			side := "long"
			if f.rng.Float64() < 0.5 {
				side = "short"
			}
			f.pub.TryPublish("market.liquidation", map[string]any{
				"symbol":    symbol,
				"side":      side,
				"price":     price,
				"quantity":  f.cfg.WhaleSize * f.rng.Float64(),
				"timestamp": now,
			}, bus.PriorityNormal, "mdg", "")
		}
	}

	// slow signals once every ten bursts
	f.bursts++
	if f.bursts%10 != 1 {
		return
	}
	for _, symbol := range f.cfg.Symbols {
		f.oi[symbol] *= 1 + (f.rng.Float64()-0.5)*0.01
		f.pub.TryPublish("market.funding", map[string]any{
			"symbol":    symbol,
			"rate":      (f.rng.Float64() - 0.5) * 0.0002,
			"timestamp": now,
		}, bus.PriorityLow, "mdg", "")
		f.pub.TryPublish("market.oi_update", map[string]any{
			"symbol":        symbol,
			"open_interest": f.oi[symbol],
			"timestamp":     now,
		}, bus.PriorityLow, "mdg", "")
	}
}

// Price returns the current walk price for a symbol.
func (f *Feed) Price(symbol string) float64 {
	return f.prices[symbol]
}

func (f *Feed) step(symbol string) float64 {
	price, ok := f.prices[symbol]
	if !ok || price <= 0 {
		price = f.cfg.BasePrice
	}
	price *= 1 + f.cfg.Drift + f.rng.NormFloat64()*f.cfg.Volatility
	if price < 1 {
		price = 1
	}
	f.prices[symbol] = price
	return price
}

func (f *Feed) trade(symbol string, price float64, now time.Time) map[string]any {
	side := "buy"
	if f.rng.Float64() < 0.5 {
		side = "sell"
	}
	quantity := 0.05 + f.rng.Float64()*0.5
	if f.rng.Float64() < f.cfg.WhaleChance {
		quantity = f.cfg.WhaleSize
	}
	jitter := price * (1 + (f.rng.Float64()-0.5)*0.0002)
	return map[string]any{
		"symbol":    symbol,
		"price":     jitter,
		"quantity":  quantity,
		"side":      side,
		"timestamp": now,
	}
}
