package marketctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/market"
)

type fakeMarket struct {
	snaps map[string]market.Snapshot
}

func (f fakeMarket) Snapshot(symbol string) market.Snapshot {
	if s, ok := f.snaps[symbol]; ok {
		return s
	}
	return market.Snapshot{Symbol: symbol}
}

type fakeHistory struct {
	events []bus.Event
}

func (f fakeHistory) History(eventType, prefix string, since time.Time) []bus.Event {
	out := make([]bus.Event, 0, len(f.events))
	for _, e := range f.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
	}
	return out
}

func trades(symbol string, prices ...float64) []market.Trade {
	now := time.Now().UTC()
	out := make([]market.Trade, 0, len(prices))
	for i, p := range prices {
		side := "buy"
		if i%2 == 1 {
			side = "sell"
		}
		out = append(out, market.Trade{Symbol: symbol, Price: p, Quantity: 1, Side: side, Timestamp: now})
	}
	return out
}

func newTestBuilder(t *testing.T, m SnapshotSource, h HistorySource) *Builder {
	t.Helper()
	b, err := NewBuilder(DefaultConfig(), m, h)
	require.NoError(t, err)
	return b
}

func TestBuildAllDegradesGracefully(t *testing.T) {
	b := newTestBuilder(t, fakeMarket{}, fakeHistory{})

	set := b.BuildAll(t.Context(), "BTCUSDT")

	assert.Equal(t, "BTCUSDT", set.Orderflow.Symbol)
	assert.Zero(t, set.Orderflow.Delta)
	assert.Equal(t, RegimeUnknown, set.Regime.Regime)
	assert.Equal(t, 0.5, set.Regime.VolatilityPercentile)
	assert.Equal(t, 0.5, set.Performance.WinRate)
	assert.Equal(t, 0.5, set.Performance.CalibrationScore)
}

func TestBuildOrderflowDeltaAndWhales(t *testing.T) {
	now := time.Now().UTC()
	m := fakeMarket{snaps: map[string]market.Snapshot{
		"BTCUSDT": {
			Symbol: "BTCUSDT",
			Ticker: market.Ticker{Symbol: "BTCUSDT", Price: 65000, Timestamp: now},
			Trades: []market.Trade{
				{Symbol: "BTCUSDT", Price: 65000, Quantity: 2, Side: "buy", Timestamp: now},    // whale buy 130k
				{Symbol: "BTCUSDT", Price: 65000, Quantity: 0.1, Side: "sell", Timestamp: now}, // 6.5k
			},
			Known: true,
		},
	}}
	b := newTestBuilder(t, m, fakeHistory{})

	ctx := b.BuildOrderflow("BTCUSDT")
	assert.InDelta(t, 130000-6500, ctx.Delta, 1e-9)
	assert.InDelta(t, 130000.0, ctx.WhaleBuyVolume, 1e-9)
	assert.Zero(t, ctx.WhaleSellVolume)
	assert.Equal(t, 2, ctx.TradeCount)
	assert.Equal(t, 65000.0, ctx.LastPrice)
}

func TestBuildOrderflowHistorySignals(t *testing.T) {
	now := time.Now().UTC()
	h := fakeHistory{events: []bus.Event{
		{Type: "market.liquidation", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT", "side": "long", "price": 65000.0, "quantity": 1.0}},
		{Type: "market.funding", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT", "rate": 0.0001}},
		{Type: "market.oi_update", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT", "open_interest": 1000.0}},
		{Type: "market.oi_update", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT", "open_interest": 1200.0}},
		{Type: "market.oi_update", Timestamp: now, Payload: map[string]any{"symbol": "ETHUSDT", "open_interest": 99.0}},
	}}
	b := newTestBuilder(t, fakeMarket{}, h)

	ctx := b.BuildOrderflow("BTCUSDT")
	assert.InDelta(t, 65000.0, ctx.LiquidationLongVol, 1e-9)
	assert.Zero(t, ctx.LiquidationShortVol)
	assert.Equal(t, 0.0001, ctx.FundingRate)
	assert.InDelta(t, 200.0, ctx.OpenInterestChange, 1e-9)
}

func TestBuildRegimeClassification(t *testing.T) {
	cases := []struct {
		name   string
		prices []float64
		want   string
	}{
		{"trending up", []float64{100, 100.2, 100.5}, RegimeTrendingUp},
		{"trending down", []float64{100, 99.8, 99.5}, RegimeTrendingDown},
		{"ranging", []float64{100, 100.05, 100.02}, RegimeRanging},
		{"volatile", []float64{100, 97, 103}, RegimeVolatile},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := fakeMarket{snaps: map[string]market.Snapshot{
				"BTCUSDT": {Symbol: "BTCUSDT", Trades: trades("BTCUSDT", c.prices...), Known: true},
			}}
			b := newTestBuilder(t, m, fakeHistory{})
			assert.Equal(t, c.want, b.BuildRegime("BTCUSDT").Regime)
		})
	}
}

func TestBuildPerformanceFromHistory(t *testing.T) {
	now := time.Now().UTC()
	h := fakeHistory{events: []bus.Event{
		{Type: "execution.position_closed", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT", "pnl": 120.0, "slippage_bps": 4.0, "latency_ms": 12.0}},
		{Type: "execution.position_closed", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT", "pnl": -40.0, "slippage_bps": 6.0, "latency_ms": 8.0}},
		{Type: "risk.rejected", Timestamp: now, Payload: map[string]any{"symbol": "BTCUSDT"}},
	}}
	b := newTestBuilder(t, fakeMarket{}, h)

	ctx := b.BuildPerformance("BTCUSDT")
	assert.Equal(t, 2, ctx.TradeCount)
	assert.Equal(t, 0.5, ctx.WinRate)
	assert.InDelta(t, 80.0, ctx.TotalPnL, 1e-9)
	assert.InDelta(t, 5.0, ctx.AvgSlippageBps, 1e-9)
	assert.Equal(t, 1, ctx.RiskBreaches)
}

func TestContextHashDeterminism(t *testing.T) {
	ts := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	a := OrderflowContext{Symbol: "BTCUSDT", Timestamp: ts, LookbackSec: 300, Delta: 42.5, FundingRate: 0.0001}
	b := OrderflowContext{FundingRate: 0.0001, Delta: 42.5, LookbackSec: 300, Timestamp: ts, Symbol: "BTCUSDT"}

	h1, err := a.Hash()
	require.NoError(t, err)
	h2, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	b.Delta = 43
	h3, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
