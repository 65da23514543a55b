package audit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/arbiter"
	"main/internal/marketctx"
	"main/internal/thought"
)

// frozenProvider replays the recorded context set instead of rebuilding it
// from live data.
type frozenProvider struct {
	set marketctx.Set
}

func (p frozenProvider) BuildAll(context.Context, string) marketctx.Set {
	return p.set
}

// ReplayResult compares a stored decision with its deterministic re-run.
type ReplayResult struct {
	RecordID        string         `json:"record_id"`
	CycleID         string         `json:"cycle_id"`
	InputHash       string         `json:"input_hash"`
	OriginalAction  arbiter.Action `json:"original_action"`
	ReplayedAction  arbiter.Action `json:"replayed_action"`
	DecisionMatches bool           `json:"decision_matches"`
	Differences     []string       `json:"differences,omitempty"`
	ReplayedAt      time.Time      `json:"replayed_at"`
}

// Replayer re-runs recorded cycles through the thought engine and arbiter
// with the stored inputs frozen in place.
type Replayer struct {
	store      Store
	thoughtCfg thought.Config
	arbiterCfg arbiter.Config
}

// NewReplayer builds a replayer sharing the live pipeline's configuration.
// Replays only match live decisions when both run the same config.
func NewReplayer(store Store, thoughtCfg thought.Config, arbiterCfg arbiter.Config) (*Replayer, error) {
	if store == nil {
		return nil, errors.New("audit: nil store")
	}
	return &Replayer{store: store, thoughtCfg: thoughtCfg, arbiterCfg: arbiterCfg}, nil
}

// Replay re-evaluates one record and persists the replay outcome on it.
func (r *Replayer) Replay(ctx context.Context, id string) (ReplayResult, error) {
	record, err := r.store.Get(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}

	engine, err := thought.NewEngine(r.thoughtCfg, frozenProvider{set: record.Inputs.Set()}, nil)
	if err != nil {
		return ReplayResult{}, errors.Wrap(err, "build replay engine")
	}
	arb, err := arbiter.New(r.arbiterCfg)
	if err != nil {
		return ReplayResult{}, errors.Wrap(err, "build replay arbiter")
	}

	runs := engine.RunParallel(ctx, record.Inputs.Specs)
	replayed := arb.Reconcile(runs, record.Inputs.Balance)

	result := ReplayResult{
		RecordID:       record.ID,
		CycleID:        record.CycleID,
		InputHash:      record.InputHash,
		ReplayedAction: replayed.Action,
		ReplayedAt:     time.Now().UTC(),
	}
	if record.Decision != nil {
		result.OriginalAction = record.Decision.Action
		result.Differences = diffDecisions(*record.Decision, replayed)
	} else {
		result.Differences = []string{"original cycle produced no decision"}
	}
	result.DecisionMatches = len(result.Differences) == 0

	record.ReplayCount++
	record.LastReplayAt = &result.ReplayedAt
	matched := result.DecisionMatches
	record.LastReplayMatched = &matched
	if err := r.store.Save(ctx, record); err != nil {
		return result, errors.Wrap(err, "persist replay outcome")
	}

	if !result.DecisionMatches {
		logs.Warnf("replay mismatch for cycle %s: %v", record.CycleID, result.Differences)
	}
	return result, nil
}

const replayTolerance = 1e-9

func diffDecisions(original, replayed arbiter.Decision) []string {
	var diffs []string
	if original.Action != replayed.Action {
		diffs = append(diffs, fmt.Sprintf("action %s != %s", original.Action, replayed.Action))
	}
	if math.Abs(original.Confidence-replayed.Confidence) > replayTolerance {
		diffs = append(diffs, fmt.Sprintf("confidence %.6f != %.6f", original.Confidence, replayed.Confidence))
	}
	if math.Abs(original.Size-replayed.Size) > replayTolerance {
		diffs = append(diffs, fmt.Sprintf("size %.8f != %.8f", original.Size, replayed.Size))
	}
	if math.Abs(original.Entry-replayed.Entry) > replayTolerance {
		diffs = append(diffs, fmt.Sprintf("entry %.2f != %.2f", original.Entry, replayed.Entry))
	}
	return diffs
}
