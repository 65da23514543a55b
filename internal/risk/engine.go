// Package risk validates arbiter decisions against hard account limits and
// the global kill switch before anything reaches an executor.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"main/internal/arbiter"
	"main/internal/market"
)

// CheckType names the independent safety checks.
type CheckType string

const (
	CheckKillSwitch    CheckType = "kill_switch"
	CheckPositionSize  CheckType = "position_size"
	CheckDailyLoss     CheckType = "daily_loss"
	CheckPositionCount CheckType = "position_count"
	CheckDataFreshness CheckType = "data_freshness"
)

// Severity ranks a failed check; critical failures trip the kill switch.
type Severity uint8

const (
	_severity_beg Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
	_severity_end
)

func (s Severity) IsAvailable() bool {
	return s > _severity_beg && s < _severity_end
}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Check is the outcome of one safety check.
type Check struct {
	Type     CheckType `json:"type"`
	Passed   bool      `json:"passed"`
	Severity Severity  `json:"severity"`
	Reason   string    `json:"reason"`
}

// Result is the risk manager's verdict for one decision.
type Result struct {
	Approved         bool     `json:"approved"`
	Reason           string   `json:"reason"`
	Checks           []Check  `json:"checks"`
	Warnings         []string `json:"warnings,omitempty"`
	AdjustedSize     float64  `json:"adjusted_size"`
	AdjustedLeverage float64  `json:"adjusted_leverage"`
}

// Status is a point-in-time view of the risk manager.
type Status struct {
	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`
	DailyPnL         float64   `json:"daily_pnl"`
	Day              string    `json:"day"`
	OpenPositions    int       `json:"open_positions"`
	Limits           Config    `json:"limits"`
	AsOf             time.Time `json:"as_of"`
}

// Config defines the hard limits.
type Config struct {
	MaxPositionUSD   float64       `json:"maxPositionUSD"`
	MaxPositionPct   float64       `json:"maxPositionPct"`
	MaxDailyLossUSD  float64       `json:"maxDailyLossUSD"`
	MaxDailyLossPct  float64       `json:"maxDailyLossPct"`
	MaxOpenPositions int           `json:"maxOpenPositions"`
	MaxDataAge       time.Duration `json:"maxDataAge"`
	MaxLeverage      float64       `json:"maxLeverage"`
}

// DefaultConfig returns baseline limits.
func DefaultConfig() Config {
	return Config{
		MaxPositionUSD:   50_000,
		MaxPositionPct:   0.1,
		MaxDailyLossUSD:  1_000,
		MaxDailyLossPct:  0.05,
		MaxOpenPositions: 5,
		MaxDataAge:       30 * time.Second,
		MaxLeverage:      5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxPositionUSD == 0 {
		c.MaxPositionUSD = def.MaxPositionUSD
	}
	if c.MaxPositionPct == 0 {
		c.MaxPositionPct = def.MaxPositionPct
	}
	if c.MaxDailyLossUSD == 0 {
		c.MaxDailyLossUSD = def.MaxDailyLossUSD
	}
	if c.MaxDailyLossPct == 0 {
		c.MaxDailyLossPct = def.MaxDailyLossPct
	}
	if c.MaxOpenPositions == 0 {
		c.MaxOpenPositions = def.MaxOpenPositions
	}
	if c.MaxDataAge == 0 {
		c.MaxDataAge = def.MaxDataAge
	}
	if c.MaxLeverage == 0 {
		c.MaxLeverage = def.MaxLeverage
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.MaxPositionPct < 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("invalid risk config: MaxPositionPct must be in [0,1]")
	}
	if c.MaxDailyLossPct < 0 || c.MaxDailyLossPct > 1 {
		return fmt.Errorf("invalid risk config: MaxDailyLossPct must be in [0,1]")
	}
	if c.MaxOpenPositions < 0 {
		return fmt.Errorf("invalid risk config: MaxOpenPositions must be >= 0")
	}
	if c.MaxDataAge < 0 {
		return fmt.Errorf("invalid risk config: MaxDataAge must be >= 0")
	}
	if c.MaxLeverage < 1 {
		return fmt.Errorf("invalid risk config: MaxLeverage must be >= 1")
	}
	return nil
}

// FreshnessSource supplies market snapshot ages; satisfied by market.Store.
type FreshnessSource interface {
	Snapshot(symbol string) market.Snapshot
}

// PositionCounter supplies the open-position count; satisfied by the
// execution router.
type PositionCounter interface {
	OpenPositionCount() int
}

// Manager runs the independent safety checks for each decision.
type Manager struct {
	cfg       Config
	kill      *KillSwitch
	freshness FreshnessSource
	positions PositionCounter

	mu       sync.Mutex
	day      string
	dailyPnL float64
}

// NewManager creates a risk manager around an injected kill switch.
func NewManager(cfg Config, kill *KillSwitch, freshness FreshnessSource, positions PositionCounter) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if kill == nil {
		kill = NewKillSwitch()
	}
	return &Manager{cfg: cfg, kill: kill, freshness: freshness, positions: positions}, nil
}

// KillSwitch exposes the injected safety gate.
func (m *Manager) KillSwitch() *KillSwitch {
	return m.kill
}

// RecordPnL feeds realized PnL into the daily counter, resetting at UTC
// midnight. The manager is the only writer of this state.
func (m *Manager) RecordPnL(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.dailyPnL += delta
}

// Status snapshots the manager state.
func (m *Manager) Status() Status {
	active, reason, _ := m.kill.State()
	m.mu.Lock()
	m.rollDayLocked()
	pnl, day := m.dailyPnL, m.day
	m.mu.Unlock()
	open := 0
	if m.positions != nil {
		open = m.positions.OpenPositionCount()
	}
	return Status{
		KillSwitchActive: active,
		KillSwitchReason: reason,
		DailyPnL:         pnl,
		Day:              day,
		OpenPositions:    open,
		Limits:           m.cfg,
		AsOf:             time.Now().UTC(),
	}
}

// Validate runs all checks concurrently and aggregates the verdict.
// Non-directional decisions pass trivially; a critical failure trips the
// kill switch; an approval may still clamp size and leverage.
func (m *Manager) Validate(ctx context.Context, decision arbiter.Decision, balance float64) Result {
	if decision.Action == arbiter.ActionHold || decision.Action == arbiter.ActionConflict {
		return Result{
			Approved:         true,
			Reason:           "non-directional action " + string(decision.Action),
			AdjustedSize:     decision.Size,
			AdjustedLeverage: decision.Leverage,
		}
	}

	checks := []func(arbiter.Decision, float64) Check{
		m.checkKillSwitch,
		m.checkPositionSize,
		m.checkDailyLoss,
		m.checkPositionCount,
		m.checkDataFreshness,
	}
	results := make([]Check, len(checks))
	var wg sync.WaitGroup
	wg.Add(len(checks))
	for i, check := range checks {
		go func(i int, check func(arbiter.Decision, float64) Check) {
			defer wg.Done()
			results[i] = check(decision, balance)
		}(i, check)
	}
	wg.Wait()

	out := Result{
		Approved:         true,
		Reason:           "all checks passed",
		Checks:           results,
		AdjustedSize:     decision.Size,
		AdjustedLeverage: decision.Leverage,
	}
	var worst *Check
	for i := range results {
		c := &results[i]
		if c.Passed {
			continue
		}
		out.Approved = false
		if worst == nil || c.Severity > worst.Severity {
			worst = c
		}
		if c.Severity == SeverityCritical && c.Type != CheckKillSwitch {
			m.kill.Trigger(fmt.Sprintf("critical risk failure: %s", c.Reason))
		}
	}
	if worst != nil {
		out.Reason = worst.Reason
		out.AdjustedSize = 0
		out.AdjustedLeverage = 0
		return out
	}

	m.applyAdjustments(decision, balance, &out)
	return out
}

// applyAdjustments clamps leverage and trims size when the daily loss
// budget is more than half consumed.
func (m *Manager) applyAdjustments(decision arbiter.Decision, balance float64, out *Result) {
	if decision.Leverage > m.cfg.MaxLeverage {
		out.AdjustedLeverage = m.cfg.MaxLeverage
		out.Warnings = append(out.Warnings, fmt.Sprintf("leverage clamped from %.1f to %.1f", decision.Leverage, m.cfg.MaxLeverage))
	}
	loss := m.currentLoss()
	budget := m.lossBudget(balance)
	if budget > 0 && loss > budget/2 {
		out.AdjustedSize = decision.Size / 2
		out.Warnings = append(out.Warnings, fmt.Sprintf("size halved, daily loss %.2f over half the budget %.2f", loss, budget))
	}
}

func (m *Manager) checkKillSwitch(arbiter.Decision, float64) Check {
	c := Check{Type: CheckKillSwitch, Passed: true, Severity: SeverityInfo, Reason: "kill switch inactive"}
	if active, reason, _ := m.kill.State(); active {
		c.Passed = false
		c.Severity = SeverityCritical
		c.Reason = "kill switch active: " + reason
	}
	return c
}

func (m *Manager) checkPositionSize(decision arbiter.Decision, balance float64) Check {
	c := Check{Type: CheckPositionSize, Passed: true, Severity: SeverityInfo, Reason: "position size within limits"}
	if decision.Action == arbiter.ActionClose {
		c.Reason = "close carries no new exposure"
		return c
	}
	notional := decision.Size * decision.Entry
	if maxNotional := balance * m.cfg.MaxPositionPct; notional > maxNotional {
		c.Passed = false
		c.Severity = SeverityError
		c.Reason = fmt.Sprintf("notional %.2f exceeds %.0f%% of balance (%.2f)", notional, m.cfg.MaxPositionPct*100, maxNotional)
		return c
	}
	if notional > m.cfg.MaxPositionUSD {
		c.Passed = false
		c.Severity = SeverityError
		c.Reason = fmt.Sprintf("notional %.2f exceeds absolute cap %.2f", notional, m.cfg.MaxPositionUSD)
	}
	return c
}

func (m *Manager) checkDailyLoss(_ arbiter.Decision, balance float64) Check {
	c := Check{Type: CheckDailyLoss, Passed: true, Severity: SeverityInfo, Reason: "daily loss within limits"}
	loss := m.currentLoss()
	if loss >= m.cfg.MaxDailyLossUSD {
		c.Passed = false
		c.Severity = SeverityCritical
		c.Reason = fmt.Sprintf("daily loss %.2f reached absolute limit %.2f", loss, m.cfg.MaxDailyLossUSD)
		return c
	}
	if pctLimit := balance * m.cfg.MaxDailyLossPct; pctLimit > 0 && loss >= pctLimit {
		c.Passed = false
		c.Severity = SeverityCritical
		c.Reason = fmt.Sprintf("daily loss %.2f reached %.0f%% of balance", loss, m.cfg.MaxDailyLossPct*100)
	}
	return c
}

func (m *Manager) checkPositionCount(decision arbiter.Decision, _ float64) Check {
	c := Check{Type: CheckPositionCount, Passed: true, Severity: SeverityInfo, Reason: "open position count within limits"}
	if m.positions == nil || decision.Action == arbiter.ActionClose {
		return c
	}
	if open := m.positions.OpenPositionCount(); open >= m.cfg.MaxOpenPositions {
		c.Passed = false
		c.Severity = SeverityError
		c.Reason = fmt.Sprintf("%d open positions at limit %d", open, m.cfg.MaxOpenPositions)
	}
	return c
}

func (m *Manager) checkDataFreshness(decision arbiter.Decision, _ float64) Check {
	c := Check{Type: CheckDataFreshness, Passed: true, Severity: SeverityInfo, Reason: "market data fresh"}
	if m.freshness == nil {
		return c
	}
	snap := m.freshness.Snapshot(decision.Symbol)
	if !snap.Known || snap.Ticker.Timestamp.IsZero() {
		c.Passed = false
		c.Severity = SeverityWarning
		c.Reason = "no market snapshot for " + decision.Symbol
		return c
	}
	if snap.Age > m.cfg.MaxDataAge {
		c.Passed = false
		c.Severity = SeverityWarning
		c.Reason = fmt.Sprintf("market snapshot is %s old, ceiling %s", snap.Age.Truncate(time.Millisecond), m.cfg.MaxDataAge)
	}
	return c
}

func (m *Manager) currentLoss() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	if m.dailyPnL < 0 {
		return -m.dailyPnL
	}
	return 0
}

func (m *Manager) lossBudget(balance float64) float64 {
	budget := m.cfg.MaxDailyLossUSD
	if pct := balance * m.cfg.MaxDailyLossPct; pct > 0 && pct < budget {
		budget = pct
	}
	return budget
}

func (m *Manager) rollDayLocked() {
	today := time.Now().UTC().Format("2006-01-02")
	if m.day != today {
		m.day = today
		m.dailyPnL = 0
	}
}
