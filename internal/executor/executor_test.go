package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/arbiter"
)

func newPaperRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter(Config{Mode: ModePaper, Paper: PaperConfig{InitialBalance: 10_000, SlippageBps: 5, FeeRate: 0.0004}})
	require.NoError(t, err)
	return r
}

func TestRouterHoldIsNoOp(t *testing.T) {
	r := newPaperRouter(t)

	for _, action := range []arbiter.Action{arbiter.ActionHold, arbiter.ActionConflict} {
		res := r.Execute(t.Context(), arbiter.Decision{Action: action, Symbol: "BTCUSDT"}, "cycle-1")
		assert.Truef(t, res.Success, "action %s", action)
		assert.Zerof(t, res.FilledSize, "action %s", action)
	}
	assert.Zero(t, r.OpenPositionCount())
}

func TestRouterLongOpensPosition(t *testing.T) {
	r := newPaperRouter(t)

	decision := arbiter.Decision{
		Action:   arbiter.ActionLong,
		Symbol:   "BTCUSDT",
		Size:     0.1,
		Entry:    65_000,
		StopLoss: 64_350,
		Leverage: 1,
	}
	res := r.Execute(t.Context(), decision, "cycle-1")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, SideBuy, res.Side)
	assert.InDelta(t, 65_032.5, res.FillPrice, 1e-9)
	assert.Equal(t, ModePaper, res.Mode)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 1, r.OpenPositionCount())

	positions, err := r.Positions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 64_350.0, positions[0].StopLoss)
}

func TestRouterCloseFlattens(t *testing.T) {
	r := newPaperRouter(t)

	open := r.Execute(t.Context(), arbiter.Decision{Action: arbiter.ActionShort, Symbol: "BTCUSDT", Size: 0.1, Entry: 65_000, Leverage: 1}, "cycle-1")
	require.True(t, open.Success)
	require.Equal(t, 1, r.OpenPositionCount())

	res := r.Execute(t.Context(), arbiter.Decision{Action: arbiter.ActionClose, Symbol: "BTCUSDT", Entry: 64_000}, "cycle-2")
	require.True(t, res.Success)
	assert.Positive(t, res.RealizedPnL)
	assert.Zero(t, r.OpenPositionCount())
}

func TestRouterStatus(t *testing.T) {
	r := newPaperRouter(t)

	status, err := r.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ModePaper, status.Mode)
	assert.Equal(t, 10_000.0, status.Balance)
	assert.Empty(t, status.OpenPositions)
}

func TestRouterRejectsUnknownMode(t *testing.T) {
	_, err := NewRouter(Config{Mode: "simulated"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestLiveModeRequiresBaseURL(t *testing.T) {
	_, err := NewRouter(Config{Mode: ModeLive})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseURL")
}
