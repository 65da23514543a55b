package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotUnknownSymbol(t *testing.T) {
	s, err := NewStore(Config{})
	require.NoError(t, err)

	snap := s.Snapshot("BTCUSDT")
	assert.False(t, snap.Known)
	assert.Zero(t, snap.Ticker.Price)
	assert.Empty(t, snap.Trades)
}

func TestApplyTickReplacesTicker(t *testing.T) {
	s, err := NewStore(Config{})
	require.NoError(t, err)

	s.ApplyTick(Ticker{Symbol: "BTCUSDT", Price: 64000})
	s.ApplyTick(Ticker{Symbol: "BTCUSDT", Price: 65000})

	snap := s.Snapshot("BTCUSDT")
	require.True(t, snap.Known)
	assert.Equal(t, 65000.0, snap.Ticker.Price)
	assert.Less(t, snap.Age, time.Second)
}

func TestTradeWindowBound(t *testing.T) {
	s, err := NewStore(Config{TradeWindow: 3})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.ApplyTrade(Trade{Symbol: "ETHUSDT", Price: float64(100 + i), Quantity: 1, Side: "buy"})
	}

	snap := s.Snapshot("ETHUSDT")
	require.Len(t, snap.Trades, 3)
	assert.Equal(t, 102.0, snap.Trades[0].Price)
	assert.Equal(t, 104.0, snap.Trades[2].Price)
}

func TestAsFloatVariants(t *testing.T) {
	assert.Equal(t, 1.5, asFloat(1.5))
	assert.Equal(t, 2.0, asFloat(2))
	assert.Equal(t, 3.0, asFloat(int64(3)))
	assert.Equal(t, 4.25, asFloat("4.25"))
	assert.Zero(t, asFloat(nil))
	assert.Zero(t, asFloat("not a number"))
}
