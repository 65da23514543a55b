package thought

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"main/internal/bus"
	"main/internal/marketctx"
)

// ContextProvider supplies the context set for a symbol. Live runs use the
// marketctx.Builder; replay substitutes recorded snapshots.
type ContextProvider interface {
	BuildAll(ctx context.Context, symbol string) marketctx.Set
}

// Publisher is the subset of the bus used for lifecycle events.
type Publisher interface {
	TryPublish(eventType string, payload map[string]any, priority bus.Priority, source, correlationID string)
}

// Config controls thought evaluation.
type Config struct {
	Filters FilterConfig
	// WarnPenalty multiplies confidence once per WARN verdict.
	WarnPenalty float64
}

// DefaultConfig returns baseline thought-engine settings.
func DefaultConfig() Config {
	return Config{Filters: DefaultFilterConfig(), WarnPenalty: 0.9}
}

func (c Config) withDefaults() Config {
	c.Filters = c.Filters.withDefaults()
	if c.WarnPenalty == 0 {
		c.WarnPenalty = 0.9
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.WarnPenalty < 0 || c.WarnPenalty > 1 {
		return fmt.Errorf("invalid thought config: WarnPenalty must be in [0,1]")
	}
	return nil
}

// Engine runs hypothesis evaluations.
type Engine struct {
	cfg      Config
	provider ContextProvider
	pub      Publisher
}

// NewEngine creates a thought engine; pub may be nil.
func NewEngine(cfg Config, provider ContextProvider, pub Publisher) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, provider: provider, pub: pub}, nil
}

// RunParallel evaluates specs concurrently with per-spec timeouts. A slow,
// failing or panicking thought never affects its siblings; results come
// back in spec order.
func (e *Engine) RunParallel(ctx context.Context, specs []Spec) []*Run {
	runs := make([]*Run, len(specs))
	var wg sync.WaitGroup
	wg.Add(len(specs))
	for i, spec := range specs {
		go func(i int, spec Spec) {
			defer wg.Done()
			runs[i] = e.RunThought(ctx, spec)
		}(i, spec)
	}
	wg.Wait()
	return runs
}

// RunThought evaluates one spec, bounded by the spec's own timeout.
func (e *Engine) RunThought(ctx context.Context, spec Spec) *Run {
	started := time.Now().UTC()
	e.publish("thought.started", spec, map[string]any{"symbol": spec.Symbol, "name": spec.Name})

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultThoughtTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *Run, 1)
	go func() {
		inner := &Run{Spec: spec, Status: StatusPending, StartedAt: started}
		defer func() {
			if r := recover(); r != nil {
				inner.Status = StatusError
				inner.Err = fmt.Sprintf("thought panic: %v", r)
				inner.trace("panic recovered")
			}
			done <- inner
		}()
		e.evaluate(ctx, inner)
	}()

	var run *Run
	select {
	case run = <-done:
	case <-ctx.Done():
		// the evaluation goroutine may still be finishing; its result is
		// abandoned and the run is taken as timed out
		run = &Run{Spec: spec, Status: StatusTimeout, StartedAt: started, Err: "timeout after " + timeout.String()}
	}
	run.FinishedAt = time.Now().UTC()
	e.publish("thought.completed", spec, map[string]any{
		"symbol": spec.Symbol,
		"name":   spec.Name,
		"status": string(run.Status),
	})
	return run
}

func (e *Engine) evaluate(ctx context.Context, run *Run) {
	spec := run.Spec
	run.Contexts = e.provider.BuildAll(ctx, spec.Symbol)
	run.trace(fmt.Sprintf("contexts built for %s", spec.Symbol))

	candidate := hypothesize(spec, run.Contexts)
	run.trace(fmt.Sprintf("hypothesis %s -> %s (%.2f)", spec.Name, candidate.Signal, candidate.Confidence))

	warns := 0
	kinds := spec.Kinds
	if len(kinds) == 0 {
		kinds = defaultKinds
	}
	for _, kind := range kinds {
		res := runFilter(kind, e.cfg.Filters, run.Contexts, candidate)
		run.Filters = append(run.Filters, res)
		run.trace(fmt.Sprintf("filter %s: %s (%s)", kind, res.Verdict, res.Reason))
		e.publish("filter."+strings.ToLower(string(res.Verdict)), spec, map[string]any{
			"symbol": spec.Symbol,
			"name":   spec.Name,
			"kind":   string(kind),
			"reason": res.Reason,
		})
		switch res.Verdict {
		case VerdictBlock:
			run.Status = StatusBlocked
			run.trace("chain stopped: " + res.Reason)
			return
		case VerdictWarn:
			warns++
		}
	}

	candidate.Confidence = math.Max(0, candidate.Confidence*math.Pow(e.cfg.WarnPenalty, float64(warns)))
	run.Decision = &candidate
	if warns > 0 {
		run.Status = StatusWarned
	} else {
		run.Status = StatusPassed
	}
	run.trace(fmt.Sprintf("decision %s confidence %.2f", candidate.Signal, candidate.Confidence))
}

func (e *Engine) publish(eventType string, spec Spec, payload map[string]any) {
	if e.pub == nil {
		return
	}
	e.pub.TryPublish(eventType, payload, bus.PriorityNormal, "thought-engine", spec.ID)
}
