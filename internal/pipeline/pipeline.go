// Package pipeline drives one full decision cycle: contexts, parallel
// thoughts, arbitration, risk validation, execution, audit.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/arbiter"
	"main/internal/audit"
	"main/internal/bus"
	"main/internal/executor"
	"main/internal/market"
	"main/internal/marketctx"
	"main/internal/risk"
	"main/internal/thought"
)

// Request identifies one cycle to run. Specs default to the baseline
// hypothesis set for the symbol. Mode, when set, must match the execution
// router's configured mode; it guards against firing paper requests at a
// live venue or the reverse.
type Request struct {
	Symbol string
	Specs  []thought.Spec
	Mode   executor.Mode
}

// Result is everything one cycle produced.
type Result struct {
	CycleID   string
	Record    audit.Record
	Decision  arbiter.Decision
	Risk      risk.Result
	Execution *executor.Result
	Duration  time.Duration
}

// Deps are the wired components a runner drives.
type Deps struct {
	Bus        *bus.Bus
	Market     *market.Store
	Builder    *marketctx.Builder
	ThoughtCfg thought.Config
	Arbiter    *arbiter.Arbiter
	Risk       *risk.Manager
	Router     *executor.Router
	Trail      *audit.Trail
	ConfigHash string
}

// Runner executes decision cycles.
type Runner struct {
	deps Deps
}

// NewRunner validates the wiring.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("pipeline: nil context builder")
	case deps.Arbiter == nil:
		return nil, errors.New("pipeline: nil arbiter")
	case deps.Risk == nil:
		return nil, errors.New("pipeline: nil risk manager")
	case deps.Router == nil:
		return nil, errors.New("pipeline: nil execution router")
	case deps.Trail == nil:
		return nil, errors.New("pipeline: nil audit trail")
	}
	return &Runner{deps: deps}, nil
}

// frozenSet pins one cycle's contexts so every thought, and any later
// replay, evaluates the same inputs.
type frozenSet struct {
	set marketctx.Set
}

func (f frozenSet) BuildAll(context.Context, string) marketctx.Set {
	return f.set
}

// RunCycle runs one cycle end to end. Whatever happens, an audit record is
// written before returning.
func (r *Runner) RunCycle(ctx context.Context, req Request) (Result, error) {
	started := time.Now().UTC()
	cycleID := uuid.NewString()

	specs := req.Specs
	if len(specs) == 0 {
		specs = thought.DefaultSpecs(req.Symbol)
	}

	inputs := audit.CycleInputs{
		CycleID: cycleID,
		Symbol:  req.Symbol,
		Specs:   specs,
	}

	if req.Mode != "" && req.Mode != r.deps.Router.Mode() {
		cause := errors.New(fmt.Sprintf("pipeline: requested mode %q but router runs %q", req.Mode, r.deps.Router.Mode()))
		return r.failCycle(ctx, started, inputs, cause)
	}
	if r.deps.Market != nil {
		inputs.Snapshot = r.deps.Market.Snapshot(req.Symbol)
	}
	set := r.deps.Builder.BuildAll(ctx, req.Symbol)
	inputs.Orderflow = set.Orderflow
	inputs.Regime = set.Regime
	inputs.Performance = set.Performance

	balance, err := r.deps.Router.Balance(ctx)
	if err != nil {
		return r.failCycle(ctx, started, inputs, errors.Wrap(err, "fetch balance"))
	}
	inputs.Balance = balance

	var pub thought.Publisher
	if r.deps.Bus != nil {
		pub = r.deps.Bus
	}
	engine, err := thought.NewEngine(r.deps.ThoughtCfg, frozenSet{set: set}, pub)
	if err != nil {
		return r.failCycle(ctx, started, inputs, errors.Wrap(err, "build engine"))
	}
	runs := engine.RunParallel(ctx, specs)

	decision := r.deps.Arbiter.Reconcile(runs, balance)
	r.publish("decision.made", cycleID, map[string]any{
		"symbol":     decision.Symbol,
		"action":     string(decision.Action),
		"confidence": decision.Confidence,
		"size":       decision.Size,
	})
	if decision.Conflict.HasConflict {
		r.publish("decision.conflict", cycleID, map[string]any{
			"symbol":      decision.Symbol,
			"long_votes":  decision.Conflict.LongVotes,
			"short_votes": decision.Conflict.ShortVotes,
			"resolution":  decision.Conflict.Resolution,
		})
	}

	riskRes := r.deps.Risk.Validate(ctx, decision, balance)
	if riskRes.Approved {
		r.publish("risk.approved", cycleID, map[string]any{
			"symbol":   decision.Symbol,
			"action":   string(decision.Action),
			"size":     riskRes.AdjustedSize,
			"warnings": len(riskRes.Warnings),
		})
	} else {
		r.publish("risk.rejected", cycleID, map[string]any{
			"symbol": decision.Symbol,
			"action": string(decision.Action),
			"reason": riskRes.Reason,
		})
	}

	var execution *executor.Result
	if riskRes.Approved && (decision.Action.Directional() || decision.Action == arbiter.ActionClose) {
		sized := decision
		sized.Size = riskRes.AdjustedSize
		sized.Leverage = riskRes.AdjustedLeverage
		res := r.deps.Router.Execute(ctx, sized, cycleID)
		execution = &res
		if res.Success {
			r.publish("execution.filled", cycleID, map[string]any{
				"symbol":     res.Symbol,
				"side":       string(res.Side),
				"fill_price": res.FillPrice,
				"size":       res.FilledSize,
				"fee":        res.Fee,
			})
			if res.RealizedPnL != 0 {
				r.deps.Risk.RecordPnL(res.RealizedPnL)
			}
		} else {
			r.publish("execution.failed", cycleID, map[string]any{
				"symbol": res.Symbol,
				"reason": res.Message,
			})
		}
	}

	record := audit.Record{
		CycleID:     cycleID,
		Symbol:      req.Symbol,
		Inputs:      inputs,
		Thoughts:    audit.Summarize(runs),
		Decision:    &decision,
		Risk:        &riskRes,
		Execution:   execution,
		WasExecuted: execution != nil && execution.Success && execution.FilledSize > 0,
		ConfigHash:  r.deps.ConfigHash,
		DurationMS:  float64(time.Since(started).Microseconds()) / 1000,
	}
	record, err = r.deps.Trail.RecordCycle(ctx, record)
	if err != nil {
		return Result{CycleID: cycleID, Record: record, Decision: decision, Risk: riskRes, Execution: execution}, err
	}
	r.publish("audit.recorded", cycleID, map[string]any{
		"record_id":  record.ID,
		"symbol":     record.Symbol,
		"input_hash": record.InputHash,
	})

	return Result{
		CycleID:   cycleID,
		Record:    record,
		Decision:  decision,
		Risk:      riskRes,
		Execution: execution,
		Duration:  time.Since(started),
	}, nil
}

// RunLoop runs cycles for each symbol on a fixed interval until the context
// ends. Cycle errors are logged and do not stop the loop.
func (r *Runner) RunLoop(ctx context.Context, symbols []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, symbol := range symbols {
				if _, err := r.RunCycle(ctx, Request{Symbol: symbol}); err != nil {
					logs.Errorf("cycle for %s failed, err: %+v", symbol, err)
				}
			}
		}
	}
}

// failCycle audits a cycle that died before producing a decision.
func (r *Runner) failCycle(ctx context.Context, started time.Time, inputs audit.CycleInputs, cause error) (Result, error) {
	record := audit.Record{
		CycleID:    inputs.CycleID,
		Symbol:     inputs.Symbol,
		Inputs:     inputs,
		Error:      cause.Error(),
		ConfigHash: r.deps.ConfigHash,
		DurationMS: float64(time.Since(started).Microseconds()) / 1000,
	}
	record, auditErr := r.deps.Trail.RecordCycle(ctx, record)
	if auditErr != nil {
		logs.Errorf("audit errored cycle %s, err: %+v", inputs.CycleID, auditErr)
	}
	return Result{CycleID: inputs.CycleID, Record: record}, cause
}

func (r *Runner) publish(eventType, cycleID string, payload map[string]any) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.TryPublish(eventType, payload, bus.PriorityHigh, "pipeline", cycleID)
}
