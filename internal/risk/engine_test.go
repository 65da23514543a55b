package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/arbiter"
	"main/internal/market"
)

type fakeFreshness struct {
	age   time.Duration
	known bool
}

func (f fakeFreshness) Snapshot(symbol string) market.Snapshot {
	if !f.known {
		return market.Snapshot{Symbol: symbol}
	}
	return market.Snapshot{
		Symbol: symbol,
		Ticker: market.Ticker{Symbol: symbol, Price: 65000, Timestamp: time.Now().UTC().Add(-f.age)},
		Age:    f.age,
		Known:  true,
	}
}

type fakePositions struct{ open int }

func (f fakePositions) OpenPositionCount() int { return f.open }

func newTestManager(t *testing.T, cfg Config, open int) *Manager {
	t.Helper()
	m, err := NewManager(cfg, NewKillSwitch(), fakeFreshness{known: true, age: time.Second}, fakePositions{open: open})
	require.NoError(t, err)
	return m
}

func longDecision(size, entry, leverage float64) arbiter.Decision {
	return arbiter.Decision{
		Action:   arbiter.ActionLong,
		Symbol:   "BTCUSDT",
		Size:     size,
		Entry:    entry,
		StopLoss: entry * 0.99,
		Leverage: leverage,
	}
}

func checkByType(t *testing.T, res Result, typ CheckType) Check {
	t.Helper()
	for _, c := range res.Checks {
		if c.Type == typ {
			return c
		}
	}
	t.Fatalf("no %s check in result", typ)
	return Check{}
}

func TestHoldAlwaysApproved(t *testing.T) {
	m := newTestManager(t, Config{}, 0)
	m.KillSwitch().Trigger("manual stop")

	for _, action := range []arbiter.Action{arbiter.ActionHold, arbiter.ActionConflict} {
		res := m.Validate(t.Context(), arbiter.Decision{Action: action, Symbol: "BTCUSDT"}, 10_000)
		assert.Truef(t, res.Approved, "action %s", action)
		assert.Empty(t, res.Checks)
	}
}

func TestOversizedPositionRejected(t *testing.T) {
	m := newTestManager(t, Config{}, 0)

	// 1 BTC at 65k against a $10k account blows the 10% notional cap
	res := m.Validate(t.Context(), longDecision(1.0, 65_000, 10), 10_000)
	require.False(t, res.Approved)
	c := checkByType(t, res, CheckPositionSize)
	assert.False(t, c.Passed)
	assert.Equal(t, SeverityError, c.Severity)
	assert.Zero(t, res.AdjustedSize)
}

func TestApprovedWithinLimits(t *testing.T) {
	m := newTestManager(t, Config{}, 1)

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 2), 10_000)
	require.True(t, res.Approved)
	assert.Len(t, res.Checks, 5)
	assert.Equal(t, 0.01, res.AdjustedSize)
	assert.Equal(t, 2.0, res.AdjustedLeverage)
	assert.Empty(t, res.Warnings)
}

func TestLeverageClampedDown(t *testing.T) {
	m := newTestManager(t, Config{MaxLeverage: 3}, 0)

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 10), 10_000)
	require.True(t, res.Approved)
	assert.Equal(t, 3.0, res.AdjustedLeverage)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "leverage clamped")
}

func TestKillSwitchBlocksUntilAdminReset(t *testing.T) {
	m := newTestManager(t, Config{}, 0)
	m.KillSwitch().Trigger("exchange outage")

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 10_000)
	require.False(t, res.Approved)
	c := checkByType(t, res, CheckKillSwitch)
	assert.False(t, c.Passed)
	assert.Equal(t, SeverityCritical, c.Severity)
	assert.Contains(t, res.Reason, "kill switch")

	// a plain validation cycle must never reset it
	assert.ErrorIs(t, m.KillSwitch().Reset(false), ErrResetNeedsOverride)
	res = m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 10_000)
	assert.False(t, res.Approved)

	require.NoError(t, m.KillSwitch().Reset(true))
	res = m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 10_000)
	assert.True(t, res.Approved)
}

func TestDailyLossBreachTripsKillSwitch(t *testing.T) {
	m := newTestManager(t, Config{MaxDailyLossUSD: 500}, 0)
	m.RecordPnL(-600)

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 100_000)
	require.False(t, res.Approved)
	c := checkByType(t, res, CheckDailyLoss)
	assert.Equal(t, SeverityCritical, c.Severity)
	assert.True(t, m.KillSwitch().Active())
}

func TestHalfBudgetLossHalvesSize(t *testing.T) {
	m := newTestManager(t, Config{MaxDailyLossUSD: 1000}, 0)
	m.RecordPnL(-600)

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 100_000)
	require.True(t, res.Approved)
	assert.Equal(t, 0.005, res.AdjustedSize)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "size halved")
}

func TestPositionCountLimit(t *testing.T) {
	m := newTestManager(t, Config{MaxOpenPositions: 2}, 2)

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 10_000)
	require.False(t, res.Approved)
	c := checkByType(t, res, CheckPositionCount)
	assert.False(t, c.Passed)
}

func TestStaleDataRejected(t *testing.T) {
	m, err := NewManager(Config{MaxDataAge: 30 * time.Second}, NewKillSwitch(), fakeFreshness{known: true, age: time.Minute}, fakePositions{})
	require.NoError(t, err)

	res := m.Validate(t.Context(), longDecision(0.01, 65_000, 1), 10_000)
	require.False(t, res.Approved)
	c := checkByType(t, res, CheckDataFreshness)
	assert.False(t, c.Passed)
	assert.Equal(t, SeverityWarning, c.Severity)
	// stale data alone must not trip the kill switch
	assert.False(t, m.KillSwitch().Active())
}

func TestCloseSkipsSizeAndCountChecks(t *testing.T) {
	m := newTestManager(t, Config{MaxOpenPositions: 1}, 1)

	res := m.Validate(t.Context(), arbiter.Decision{Action: arbiter.ActionClose, Symbol: "BTCUSDT"}, 10_000)
	require.True(t, res.Approved)
	assert.True(t, checkByType(t, res, CheckPositionSize).Passed)
	assert.True(t, checkByType(t, res, CheckPositionCount).Passed)
}
