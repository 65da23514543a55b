package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": false}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":false,"z":true}}`, string(out))
}

func TestHashIgnoresConstructionOrder(t *testing.T) {
	first := map[string]any{"symbol": "BTCUSDT", "delta": 12.5, "cvd": -3.25}
	second := map[string]any{"cvd": -3.25, "delta": 12.5, "symbol": "BTCUSDT"}

	h1, err := Hash(first)
	require.NoError(t, err)
	h2, err := Hash(second)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashStructVersusMap(t *testing.T) {
	type payload struct {
		Symbol string  `json:"symbol"`
		Delta  float64 `json:"delta"`
	}

	h1, err := Hash(payload{Symbol: "ETHUSDT", Delta: 4})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"delta": 4, "symbol": "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
