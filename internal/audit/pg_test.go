package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)

	store, err := NewPGStore(gdb)
	require.NoError(t, err)
	return store, mock
}

func pgRecordRows(t *testing.T, records ...Record) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows([]string{
		"id", "cycle_id", "symbol", "timestamp", "was_executed",
		"replay_count", "last_replay_at", "last_replay_matched", "payload",
	})
	for _, record := range records {
		payload, err := json.Marshal(record)
		require.NoError(t, err)
		rows.AddRow(record.ID, record.CycleID, record.Symbol, record.Timestamp, record.WasExecuted,
			record.ReplayCount, record.LastReplayAt, record.LastReplayMatched, payload)
	}
	return rows
}

func TestPGStoreSaveUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO "audit_records" .*ON CONFLICT \("cycle_id"\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(t.Context(), Record{
		ID:        "r-1",
		CycleID:   "c-1",
		Symbol:    "BTCUSDT",
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGet(t *testing.T) {
	store, mock := newMockStore(t)

	want := Record{ID: "r-1", CycleID: "c-1", Symbol: "BTCUSDT", InputHash: "abc", ReplayCount: 2}
	mock.ExpectQuery(`SELECT \* FROM "audit_records" WHERE id = `).
		WithArgs("r-1", 1).
		WillReturnRows(pgRecordRows(t, want))

	got, err := store.Get(t.Context(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.CycleID)
	assert.Equal(t, "abc", got.InputHash)
	assert.Equal(t, 2, got.ReplayCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "audit_records" WHERE id = `).
		WithArgs("missing", 1).
		WillReturnRows(pgRecordRows(t))

	_, err := store.Get(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStoreListFilters(t *testing.T) {
	store, mock := newMockStore(t)

	newest := Record{ID: "r-2", CycleID: "c-2", Symbol: "BTCUSDT", WasExecuted: true}
	older := Record{ID: "r-1", CycleID: "c-1", Symbol: "BTCUSDT", WasExecuted: true}
	mock.ExpectQuery(`SELECT \* FROM "audit_records" WHERE symbol = .* AND was_executed = .* ORDER BY timestamp DESC LIMIT`).
		WillReturnRows(pgRecordRows(t, newest, older))

	records, err := store.List(t.Context(), Filter{Symbol: "BTCUSDT", ExecutedOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r-2", records[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreStats(t *testing.T) {
	store, mock := newMockStore(t)

	count := func(n int64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"count"}).AddRow(n)
	}
	mock.ExpectQuery(`SELECT count\(\*\) FROM "audit_records"`).WillReturnRows(count(10))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "audit_records" WHERE was_executed`).WillReturnRows(count(4))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "audit_records" WHERE replay_count > 0`).WillReturnRows(count(3))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "audit_records" WHERE error <> ''`).WillReturnRows(count(1))
	mock.ExpectQuery(`SELECT symbol, count\(\*\) as count FROM "audit_records" GROUP BY`).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "count"}).
			AddRow("BTCUSDT", int64(7)).
			AddRow("ETHUSDT", int64(3)))

	stats, err := store.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(4), stats.Executed)
	assert.Equal(t, int64(3), stats.Replayed)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(7), stats.Symbols["BTCUSDT"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
