package marketctx

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/market"
)

const (
	defaultLookbackSec   = 300
	defaultWhaleTradeUSD = 100_000
)

// SnapshotSource provides the live market view; satisfied by market.Store.
type SnapshotSource interface {
	Snapshot(symbol string) market.Snapshot
}

// HistorySource provides slow-moving signals; satisfied by bus.Bus. Replay
// substitutes a frozen source so building stays a pure function of inputs.
type HistorySource interface {
	History(eventType, prefix string, since time.Time) []bus.Event
}

// Config controls lookback windows and classification thresholds.
type Config struct {
	LookbackSec   int
	WhaleTradeUSD float64
	// TrendThresholdPct separates trending from ranging regimes.
	TrendThresholdPct float64
	// VolatileThresholdPct marks the volatile regime regardless of direction.
	VolatileThresholdPct float64
}

// DefaultConfig returns baseline context-building thresholds.
func DefaultConfig() Config {
	return Config{
		LookbackSec:          defaultLookbackSec,
		WhaleTradeUSD:        defaultWhaleTradeUSD,
		TrendThresholdPct:    0.3,
		VolatileThresholdPct: 2.0,
	}
}

func (c Config) withDefaults() Config {
	if c.LookbackSec == 0 {
		c.LookbackSec = defaultLookbackSec
	}
	if c.WhaleTradeUSD == 0 {
		c.WhaleTradeUSD = defaultWhaleTradeUSD
	}
	if c.TrendThresholdPct == 0 {
		c.TrendThresholdPct = 0.3
	}
	if c.VolatileThresholdPct == 0 {
		c.VolatileThresholdPct = 2.0
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.LookbackSec < 0 {
		return fmt.Errorf("invalid marketctx config: LookbackSec must be >= 0")
	}
	if c.WhaleTradeUSD < 0 {
		return fmt.Errorf("invalid marketctx config: WhaleTradeUSD must be >= 0")
	}
	return nil
}

// Builder derives context snapshots from the market store and bus history.
type Builder struct {
	cfg     Config
	market  SnapshotSource
	history HistorySource
}

// NewBuilder creates a context builder.
func NewBuilder(cfg Config, market SnapshotSource, history HistorySource) (*Builder, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, market: market, history: history}, nil
}

// BuildAll builds the three snapshots concurrently. Missing upstream data
// degrades to neutral values; BuildAll never fails.
func (b *Builder) BuildAll(ctx context.Context, symbol string) Set {
	var set Set
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); set.Orderflow = b.BuildOrderflow(symbol) }()
	go func() { defer wg.Done(); set.Regime = b.BuildRegime(symbol) }()
	go func() { defer wg.Done(); set.Performance = b.BuildPerformance(symbol) }()
	wg.Wait()
	return set
}

// BuildOrderflow aggregates trade-level pressure plus liquidation, funding
// and open-interest signals from the bus history.
func (b *Builder) BuildOrderflow(symbol string) OrderflowContext {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(b.cfg.LookbackSec) * time.Second)
	out := OrderflowContext{Symbol: symbol, Timestamp: now, LookbackSec: b.cfg.LookbackSec}

	snap := b.market.Snapshot(symbol)
	out.LastPrice = snap.Ticker.Price
	for _, t := range snap.Trades {
		if t.Timestamp.Before(since) {
			continue
		}
		notional := t.Price * t.Quantity
		out.TradeCount++
		if t.Side == "sell" {
			out.Delta -= notional
			if notional >= b.cfg.WhaleTradeUSD {
				out.WhaleSellVolume += notional
			}
		} else {
			out.Delta += notional
			if notional >= b.cfg.WhaleTradeUSD {
				out.WhaleBuyVolume += notional
			}
		}
		out.CVD += signedNotional(t)
	}

	for _, e := range b.events("market.liquidation", symbol, since) {
		qty := floatField(e, "quantity") * floatField(e, "price")
		if stringField(e, "side") == "long" {
			out.LiquidationLongVol += qty
		} else {
			out.LiquidationShortVol += qty
		}
	}
	if events := b.events("market.funding", symbol, since); len(events) > 0 {
		out.FundingRate = floatField(events[len(events)-1], "rate")
	}
	if events := b.events("market.oi_update", symbol, since); len(events) > 1 {
		first := floatField(events[0], "open_interest")
		last := floatField(events[len(events)-1], "open_interest")
		out.OpenInterestChange = last - first
	}
	return out
}

// BuildRegime classifies trend and volatility from the recent trade window.
func (b *Builder) BuildRegime(symbol string) RegimeContext {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(b.cfg.LookbackSec) * time.Second)
	out := RegimeContext{
		Symbol:               symbol,
		Timestamp:            now,
		LookbackSec:          b.cfg.LookbackSec,
		Regime:               RegimeUnknown,
		VolatilityPercentile: 0.5,
		BTCCorrelation:       0.5,
	}

	snap := b.market.Snapshot(symbol)
	prices := make([]float64, 0, len(snap.Trades))
	for _, t := range snap.Trades {
		if t.Timestamp.Before(since) || t.Price <= 0 {
			continue
		}
		prices = append(prices, t.Price)
	}
	if len(prices) < 2 {
		return out
	}

	first, last := prices[0], prices[len(prices)-1]
	out.PriceChangePct = (last - first) / first * 100
	out.Drawdown = maxDrawdown(prices)
	out.VolatilityPercentile = volatilityPercentile(prices)

	if events := b.events("market.aggregation", symbol, since); len(events) > 0 {
		latest := events[len(events)-1]
		if corr := floatField(latest, "btc_correlation"); corr != 0 {
			out.BTCCorrelation = corr
		}
	}

	absChange := math.Abs(out.PriceChangePct)
	switch {
	case absChange >= b.cfg.VolatileThresholdPct:
		out.Regime = RegimeVolatile
	case out.PriceChangePct >= b.cfg.TrendThresholdPct:
		out.Regime = RegimeTrendingUp
	case out.PriceChangePct <= -b.cfg.TrendThresholdPct:
		out.Regime = RegimeTrendingDown
	default:
		out.Regime = RegimeRanging
	}
	return out
}

// BuildPerformance summarizes closed-trade and risk events from bus history.
// With no history it returns neutral values so new symbols are not blocked.
func (b *Builder) BuildPerformance(symbol string) PerformanceContext {
	now := time.Now().UTC()
	since := now.Add(-time.Duration(b.cfg.LookbackSec) * time.Second)
	out := PerformanceContext{
		Symbol:           symbol,
		Timestamp:        now,
		LookbackSec:      b.cfg.LookbackSec,
		WinRate:          0.5,
		CalibrationScore: 0.5,
	}

	closed := b.events("execution.position_closed", symbol, since)
	if len(closed) > 0 {
		wins := 0
		var slippage, latency, pnl, peak, equity, maxDD float64
		for _, e := range closed {
			p := floatField(e, "pnl")
			pnl += p
			if p > 0 {
				wins++
			}
			slippage += floatField(e, "slippage_bps")
			latency += floatField(e, "latency_ms")
			equity += p
			if equity > peak {
				peak = equity
			}
			if dd := peak - equity; dd > maxDD {
				maxDD = dd
			}
		}
		out.TradeCount = len(closed)
		out.WinRate = float64(wins) / float64(len(closed))
		out.TotalPnL = pnl
		out.AvgSlippageBps = slippage / float64(len(closed))
		out.AvgLatencyMS = latency / float64(len(closed))
		out.MaxDrawdown = maxDD
		// calibration: how far realized win rate sits from coin-flip, scaled
		// into [0,1] with 0.5 as neutral
		out.CalibrationScore = clamp01(0.5 + (out.WinRate - 0.5))
	}
	out.RiskBreaches = len(b.events("risk.rejected", symbol, since))
	return out
}

func (b *Builder) events(eventType, symbol string, since time.Time) []bus.Event {
	all := b.history.History(eventType, "", since)
	out := all[:0]
	for _, e := range all {
		if stringField(e, "symbol") == symbol {
			out = append(out, e)
		}
	}
	return out
}

func signedNotional(t market.Trade) float64 {
	n := t.Price * t.Quantity
	if t.Side == "sell" {
		return -n
	}
	return n
}

func floatField(e bus.Event, key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func stringField(e bus.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// volatilityPercentile maps the stddev of log returns into [0,1] against a
// fixed reference scale, so identical inputs always rank identically.
func volatilityPercentile(prices []float64) float64 {
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	sd := math.Sqrt(variance)

	// reference scale: 0.1% per-trade stddev maps to the 90th percentile
	return clamp01(sd / 0.001 * 0.9)
}

func maxDrawdown(prices []float64) float64 {
	peak := prices[0]
	var maxDD float64
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if dd := (peak - p) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
