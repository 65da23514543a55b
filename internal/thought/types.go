// Package thought evaluates named trading hypotheses for a symbol. Each
// thought derives a candidate decision from the three context snapshots,
// then gates it through a layered filter chain before it may reach the
// arbiter.
package thought

import (
	"time"

	"github.com/google/uuid"

	"main/internal/marketctx"
)

// Status is the lifecycle state of one thought run.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPassed  Status = "PASSED"
	StatusWarned  Status = "WARNED"
	StatusBlocked Status = "BLOCKED"
	StatusError   Status = "ERROR"
	StatusTimeout Status = "TIMEOUT"
)

// Contributes reports whether a run in this status may vote in arbitration.
func (s Status) Contributes() bool {
	return s == StatusPassed || s == StatusWarned
}

// Signal is the directional outcome of a hypothesis.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalClose Signal = "CLOSE"
	SignalHold  Signal = "HOLD"
)

// FilterKind tags the closed set of filter stages.
type FilterKind string

const (
	FilterOrderflow   FilterKind = "orderflow"
	FilterRegime      FilterKind = "regime"
	FilterPerformance FilterKind = "performance"
)

// Verdict is one filter stage's outcome.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictWarn  Verdict = "WARN"
	VerdictBlock Verdict = "BLOCK"
)

// FilterResult records one filter stage's verdict and reason.
type FilterResult struct {
	Kind    FilterKind `json:"kind"`
	Verdict Verdict    `json:"verdict"`
	Reason  string     `json:"reason"`
}

// Spec declares one hypothesis to evaluate; constant for the life of a cycle.
type Spec struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Symbol     string        `json:"symbol"`
	Hypothesis string        `json:"hypothesis"`
	Kinds      []FilterKind  `json:"kinds"`
	Timeout    time.Duration `json:"timeout"`
}

// Decision is the candidate trading action emitted by a passing thought.
type Decision struct {
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Reason     string  `json:"reason"`
}

// Run is the mutable record of one hypothesis's execution.
type Run struct {
	Spec       Spec           `json:"spec"`
	Contexts   marketctx.Set  `json:"contexts"`
	Filters    []FilterResult `json:"filters"`
	Trace      []string       `json:"trace"`
	Decision   *Decision      `json:"decision,omitempty"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Err        string         `json:"error,omitempty"`
}

func (r *Run) trace(step string) {
	r.Trace = append(r.Trace, step)
}

// Default hypothesis names.
const (
	NameTrendFollowing = "trend-following"
	NameMeanReversion  = "mean-reversion"
	NameMomentum       = "momentum"
)

var defaultKinds = []FilterKind{FilterOrderflow, FilterRegime, FilterPerformance}

var defaultThoughtTimeout = 2 * time.Second

// DefaultSpecs returns the baseline hypothesis set for a symbol.
func DefaultSpecs(symbol string) []Spec {
	return []Spec{
		{
			ID:         uuid.NewString(),
			Name:       NameTrendFollowing,
			Symbol:     symbol,
			Hypothesis: "price continues in the direction of the prevailing regime",
			Kinds:      defaultKinds,
			Timeout:    defaultThoughtTimeout,
		},
		{
			ID:         uuid.NewString(),
			Name:       NameMeanReversion,
			Symbol:     symbol,
			Hypothesis: "short-term extensions inside a range revert to the mean",
			Kinds:      defaultKinds,
			Timeout:    defaultThoughtTimeout,
		},
		{
			ID:         uuid.NewString(),
			Name:       NameMomentum,
			Symbol:     symbol,
			Hypothesis: "aggressive orderflow imbalance precedes continuation",
			Kinds:      defaultKinds,
			Timeout:    defaultThoughtTimeout,
		},
	}
}
