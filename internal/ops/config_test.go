package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/arbiter"
	"main/internal/executor"
	"main/internal/thought"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, "memory", cfg.Audit.Backend)
	assert.Equal(t, executor.ModePaper, cfg.Executor.Mode)
	assert.Equal(t, ":8080", cfg.API.Addr)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
symbols: [BTCUSDT, ETHUSDT]
interval: 10s
risk:
  maxLeverage: 4
executor:
  mode: paper
  paper:
    initialBalance: 25000
audit:
  backend: postgres
database:
  host: db.internal
  database: pipeline
api:
  addr: ":9999"
  adminToken: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 4.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 25_000.0, cfg.Executor.Paper.InitialBalance)
	assert.Equal(t, "postgres", cfg.Audit.Backend)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, "hunter2", cfg.API.AdminToken)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
risk:
  maxLeverage: 4
`)
	t.Setenv("PIPELINE_RISK__MAXLEVERAGE", "2")
	t.Setenv("PIPELINE_API__ADDR", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, ":7777", cfg.API.Addr)
}

func TestLoadMissingNamedFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	path := writeConfig(t, `
audit:
  backend: cassandra
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit backend")
}

func TestConfigHashIgnoresCredentials(t *testing.T) {
	base := DefaultConfig()
	h1, err := base.Hash()
	require.NoError(t, err)

	withToken := base
	withToken.API.AdminToken = "hunter2"
	withToken.Database.Password = "secret"
	h2, err := withToken.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	tightened := base
	tightened.Risk.MaxLeverage = 2
	h3, err := tightened.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestLoadedConfigKeepsClosePrioritization(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	loaded, err := arbiter.New(cfg.Arbiter)
	require.NoError(t, err)
	fallback, err := arbiter.New(arbiter.DefaultConfig())
	require.NoError(t, err)

	// 0.35 close share sits above the 0.3 priority threshold; both
	// arbiters must resolve it the same way.
	runs := []*thought.Run{
		{
			Spec:     thought.Spec{ID: "t1", Symbol: "BTCUSDT"},
			Status:   thought.StatusPassed,
			Decision: &thought.Decision{Signal: thought.SignalClose, Confidence: 0.35},
		},
		{
			Spec:     thought.Spec{ID: "t2", Symbol: "BTCUSDT"},
			Status:   thought.StatusPassed,
			Decision: &thought.Decision{Signal: thought.SignalHold, Confidence: 0.65},
		},
	}

	got := loaded.Reconcile(runs, 10_000)
	want := fallback.Reconcile(runs, 10_000)
	assert.Equal(t, arbiter.ActionClose, want.Action)
	assert.Equal(t, want.Action, got.Action)
	assert.Equal(t, want.Reason, got.Reason)
}
