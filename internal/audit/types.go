// Package audit persists one immutable record per decision cycle and can
// deterministically replay any recorded cycle from its stored inputs.
package audit

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/arbiter"
	"main/internal/executor"
	"main/internal/market"
	"main/internal/marketctx"
	"main/internal/risk"
	"main/internal/thought"
	"main/pkg/canon"
)

var ErrNotFound = errors.New("audit: record not found")

// CycleInputs is everything a cycle's decision depended on. Replaying a
// record feeds these back through the engine and arbiter unchanged.
type CycleInputs struct {
	CycleID     string                       `json:"cycle_id"`
	Symbol      string                       `json:"symbol"`
	Snapshot    market.Snapshot              `json:"snapshot"`
	Orderflow   marketctx.OrderflowContext   `json:"orderflow"`
	Regime      marketctx.RegimeContext      `json:"regime"`
	Performance marketctx.PerformanceContext `json:"performance"`
	Specs       []thought.Spec               `json:"specs"`
	Balance     float64                      `json:"balance"`
}

// Hash returns the canonical hash of the inputs, independent of field
// construction order.
func (in CycleInputs) Hash() (string, error) {
	return canon.Hash(in)
}

// Set bundles the stored contexts back into the engine's input shape.
func (in CycleInputs) Set() marketctx.Set {
	return marketctx.Set{
		Orderflow:   in.Orderflow,
		Regime:      in.Regime,
		Performance: in.Performance,
	}
}

// ThoughtSummary is the compact per-thought view stored on a record.
type ThoughtSummary struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Status     thought.Status         `json:"status"`
	Signal     thought.Signal         `json:"signal,omitempty"`
	Confidence float64                `json:"confidence"`
	Filters    []thought.FilterResult `json:"filters,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Err        string                 `json:"error,omitempty"`
}

// Summarize compacts engine runs for storage.
func Summarize(runs []*thought.Run) []ThoughtSummary {
	out := make([]ThoughtSummary, 0, len(runs))
	for _, run := range runs {
		if run == nil {
			continue
		}
		s := ThoughtSummary{
			ID:      run.Spec.ID,
			Name:    run.Spec.Name,
			Status:  run.Status,
			Filters: run.Filters,
			Err:     run.Err,
		}
		if run.Decision != nil {
			s.Signal = run.Decision.Signal
			s.Confidence = run.Decision.Confidence
			s.Reason = run.Decision.Reason
		}
		out = append(out, s)
	}
	return out
}

// Record is one decision cycle's immutable audit entry.
type Record struct {
	ID                string            `json:"id"`
	CycleID           string            `json:"cycle_id"`
	Timestamp         time.Time         `json:"timestamp"`
	Symbol            string            `json:"symbol"`
	Inputs            CycleInputs       `json:"inputs"`
	InputHash         string            `json:"input_hash"`
	Thoughts          []ThoughtSummary  `json:"thoughts"`
	Decision          *arbiter.Decision `json:"decision,omitempty"`
	Risk              *risk.Result      `json:"risk,omitempty"`
	Execution         *executor.Result  `json:"execution,omitempty"`
	WasExecuted       bool              `json:"was_executed"`
	Error             string            `json:"error,omitempty"`
	ConfigHash        string            `json:"config_hash,omitempty"`
	ReplayCount       int               `json:"replay_count"`
	LastReplayAt      *time.Time        `json:"last_replay_at,omitempty"`
	LastReplayMatched *bool             `json:"last_replay_matched,omitempty"`
	DurationMS        float64           `json:"duration_ms"`
}

// Filter narrows List queries.
type Filter struct {
	Symbol       string
	ExecutedOnly bool
	Limit        int
	Offset       int
}

// Stats aggregates the trail for the stats surface.
type Stats struct {
	Total    int64            `json:"total"`
	Executed int64            `json:"executed"`
	Replayed int64            `json:"replayed"`
	Errors   int64            `json:"errors"`
	Symbols  map[string]int64 `json:"symbols"`
}

// Store persists audit records. Save is an idempotent upsert on cycle_id.
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, error)
	GetByCycle(ctx context.Context, cycleID string) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
}
