package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

type failingStore struct {
	MemoryStore
	err error
}

func (s *failingStore) Save(context.Context, Record) error {
	return s.err
}

func TestTrailFillsIdentityFields(t *testing.T) {
	store := NewMemoryStore(0)
	trail, err := NewTrail(store)
	require.NoError(t, err)

	record, err := trail.RecordCycle(t.Context(), Record{
		Inputs: CycleInputs{CycleID: "c-1", Symbol: "BTCUSDT", Balance: 10_000},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "c-1", record.CycleID)
	assert.Equal(t, "BTCUSDT", record.Symbol)
	assert.NotEmpty(t, record.InputHash)
	assert.False(t, record.Timestamp.IsZero())

	stored, err := store.GetByCycle(t.Context(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, record.InputHash, stored.InputHash)
}

func TestTrailRecordsErroredCycles(t *testing.T) {
	store := NewMemoryStore(0)
	trail, err := NewTrail(store)
	require.NoError(t, err)

	record, err := trail.RecordCycle(t.Context(), Record{
		Inputs: CycleInputs{CycleID: "c-err", Symbol: "BTCUSDT"},
		Error:  "context build failed",
	})
	require.NoError(t, err)
	assert.Equal(t, "context build failed", record.Error)

	stats, err := store.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestTrailSurfacesPersistenceFailure(t *testing.T) {
	trail, err := NewTrail(&failingStore{err: errors.New("connection refused")})
	require.NoError(t, err)

	_, err = trail.RecordCycle(t.Context(), Record{
		Inputs: CycleInputs{CycleID: "c-1", Symbol: "BTCUSDT"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
