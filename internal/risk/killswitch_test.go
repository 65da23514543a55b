package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKillSwitchFirstReasonWins(t *testing.T) {
	k := NewKillSwitch()
	assert.False(t, k.Active())

	k.Trigger("daily loss limit")
	k.Trigger("exchange outage")

	active, reason, at := k.State()
	assert.True(t, active)
	assert.Equal(t, "daily loss limit", reason)
	assert.False(t, at.IsZero())
}

func TestKillSwitchReset(t *testing.T) {
	k := NewKillSwitch()
	k.Trigger("manual stop")

	assert.ErrorIs(t, k.Reset(false), ErrResetNeedsOverride)
	assert.True(t, k.Active())

	require.NoError(t, k.Reset(true))
	active, reason, _ := k.State()
	assert.False(t, active)
	assert.Empty(t, reason)

	// resetting an inactive switch is a no-op
	require.NoError(t, k.Reset(true))
}
