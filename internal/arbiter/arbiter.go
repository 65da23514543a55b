// Package arbiter reconciles the passing thoughts of one cycle into a
// single trading action via confidence-weighted voting with explicit
// conflict detection.
package arbiter

import (
	"fmt"
	"math"
	"sort"

	"main/internal/thought"
)

// Action is the reconciled outcome of one cycle.
type Action string

const (
	ActionLong     Action = "LONG"
	ActionShort    Action = "SHORT"
	ActionClose    Action = "CLOSE"
	ActionHold     Action = "HOLD"
	ActionConflict Action = "CONFLICT"
)

// Directional reports whether the action opens or flips exposure.
func (a Action) Directional() bool {
	return a == ActionLong || a == ActionShort
}

// ConflictInfo describes opposing directional votes within one cycle.
type ConflictInfo struct {
	HasConflict bool    `json:"has_conflict"`
	LongVotes   float64 `json:"long_votes"`
	ShortVotes  float64 `json:"short_votes"`
	VoteGap     float64 `json:"vote_gap"`
	Resolution  string  `json:"resolution,omitempty"`
}

// Decision is the arbiter's immutable output for one cycle.
type Decision struct {
	Action          Action             `json:"action"`
	Symbol          string             `json:"symbol"`
	Size            float64            `json:"size"`
	Entry           float64            `json:"entry"`
	StopLoss        float64            `json:"stop_loss"`
	TakeProfit      float64            `json:"take_profit"`
	Leverage        float64            `json:"leverage"`
	Confidence      float64            `json:"confidence"`
	Reason          string             `json:"reason"`
	ContributingIDs []string           `json:"contributing_ids"`
	Conflict        ConflictInfo       `json:"conflict"`
	Votes           map[string]float64 `json:"votes"`
}

// Config holds the voting thresholds and sizing parameters.
type Config struct {
	// ConflictFloor is the normalized vote share both directions must
	// exceed to flag a conflict.
	ConflictFloor float64
	// CloseGap is the vote gap below which a conflict resolves to HOLD.
	CloseGap float64
	// ClosePriority promotes CLOSE above this vote share.
	ClosePriority float64
	// MinConfidence is the floor below which the winner falls back to HOLD.
	MinConfidence float64
	// ConflictPenalty multiplies confidence when a close conflict holds.
	ConflictPenalty float64
	// MajorityPenalty multiplies confidence when majority wins a conflict.
	MajorityPenalty float64
	// RiskPerTrade is the account fraction risked between entry and stop.
	RiskPerTrade float64
	// MaxPositionPct caps notional as a fraction of account size.
	MaxPositionPct float64
	// CloseDisabled turns off CLOSE prioritization. The zero value keeps it
	// on so partially populated configs behave like DefaultConfig.
	CloseDisabled bool
}

// DefaultConfig returns the baseline arbitration thresholds.
func DefaultConfig() Config {
	return Config{
		ConflictFloor:   0.2,
		CloseGap:        0.2,
		ClosePriority:   0.3,
		MinConfidence:   0.4,
		ConflictPenalty: 0.5,
		MajorityPenalty: 0.8,
		RiskPerTrade:    0.01,
		MaxPositionPct:  0.1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConflictFloor == 0 {
		c.ConflictFloor = def.ConflictFloor
	}
	if c.CloseGap == 0 {
		c.CloseGap = def.CloseGap
	}
	if c.ClosePriority == 0 {
		c.ClosePriority = def.ClosePriority
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.ConflictPenalty == 0 {
		c.ConflictPenalty = def.ConflictPenalty
	}
	if c.MajorityPenalty == 0 {
		c.MajorityPenalty = def.MajorityPenalty
	}
	if c.RiskPerTrade == 0 {
		c.RiskPerTrade = def.RiskPerTrade
	}
	if c.MaxPositionPct == 0 {
		c.MaxPositionPct = def.MaxPositionPct
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.ConflictFloor < 0 || c.ConflictFloor > 1 {
		return fmt.Errorf("invalid arbiter config: ConflictFloor must be in [0,1]")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("invalid arbiter config: MinConfidence must be in [0,1]")
	}
	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return fmt.Errorf("invalid arbiter config: RiskPerTrade must be in (0,1]")
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("invalid arbiter config: MaxPositionPct must be in (0,1]")
	}
	return nil
}

// Arbiter reconciles thought runs.
type Arbiter struct {
	cfg Config
}

// New creates an arbiter.
func New(cfg Config) (*Arbiter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Arbiter{cfg: cfg}, nil
}

// Reconcile turns the cycle's thought runs into one decision. Only PASSED
// and WARNED runs vote; votes are confidence shares normalized across all
// contributing thoughts.
func (a *Arbiter) Reconcile(runs []*thought.Run, balance float64) Decision {
	symbol := ""
	if len(runs) > 0 {
		symbol = runs[0].Spec.Symbol
	}

	contributing := make([]*thought.Run, 0, len(runs))
	total := 0.0
	for _, run := range runs {
		if run == nil || !run.Status.Contributes() || run.Decision == nil {
			continue
		}
		contributing = append(contributing, run)
		total += run.Decision.Confidence
	}
	if len(contributing) == 0 || total <= 0 {
		return Decision{
			Action:     ActionHold,
			Symbol:     symbol,
			Confidence: 0.1,
			Reason:     "no thoughts passed",
			Votes:      map[string]float64{},
		}
	}

	votes := map[string]float64{}
	for _, run := range contributing {
		votes[string(run.Decision.Signal)] += run.Decision.Confidence / total
	}

	conflict := ConflictInfo{
		LongVotes:  votes[string(thought.SignalLong)],
		ShortVotes: votes[string(thought.SignalShort)],
	}
	conflict.VoteGap = math.Abs(conflict.LongVotes - conflict.ShortVotes)
	conflict.HasConflict = conflict.LongVotes > a.cfg.ConflictFloor && conflict.ShortVotes > a.cfg.ConflictFloor

	if conflict.HasConflict {
		return a.resolveConflict(symbol, votes, conflict, contributing, balance)
	}

	if !a.cfg.CloseDisabled && votes[string(thought.SignalClose)] > a.cfg.ClosePriority {
		agreeing := agreeingWith(contributing, thought.SignalClose)
		return Decision{
			Action:          ActionClose,
			Symbol:          symbol,
			Confidence:      avgConfidence(agreeing),
			Reason:          "close prioritized by vote share",
			ContributingIDs: ids(agreeing),
			Conflict:        conflict,
			Votes:           votes,
		}
	}

	winner, share := maxVote(votes)
	if share < a.cfg.MinConfidence || winner == string(thought.SignalHold) {
		reason := fmt.Sprintf("top signal %s below confidence floor", winner)
		if winner == string(thought.SignalHold) {
			reason = "hold carries the vote"
		}
		return Decision{
			Action:          ActionHold,
			Symbol:          symbol,
			Confidence:      share,
			Reason:          reason,
			ContributingIDs: ids(contributing),
			Conflict:        conflict,
			Votes:           votes,
		}
	}

	agreeing := agreeingWith(contributing, thought.Signal(winner))
	d := a.sized(symbol, thought.Signal(winner), agreeing, balance)
	d.Confidence = avgConfidence(agreeing)
	d.Reason = fmt.Sprintf("%s wins with %.2f vote share", winner, share)
	d.Conflict = conflict
	d.Votes = votes
	return d
}

// resolveConflict applies the closeness rule: a narrow gap holds with a
// heavy confidence penalty, a wide gap lets the majority win with a
// lighter one.
func (a *Arbiter) resolveConflict(symbol string, votes map[string]float64, conflict ConflictInfo, contributing []*thought.Run, balance float64) Decision {
	if conflict.VoteGap < a.cfg.CloseGap {
		conflict.Resolution = "hold"
		return Decision{
			Action:          ActionHold,
			Symbol:          symbol,
			Confidence:      avgConfidence(contributing) * a.cfg.ConflictPenalty,
			Reason:          fmt.Sprintf("long/short conflict with gap %.2f below %.2f", conflict.VoteGap, a.cfg.CloseGap),
			ContributingIDs: ids(contributing),
			Conflict:        conflict,
			Votes:           votes,
		}
	}

	winner := thought.SignalLong
	if conflict.ShortVotes > conflict.LongVotes {
		winner = thought.SignalShort
	}
	conflict.Resolution = "majority"
	agreeing := agreeingWith(contributing, winner)
	d := a.sized(symbol, winner, agreeing, balance)
	d.Confidence = avgConfidence(agreeing) * a.cfg.MajorityPenalty
	d.Reason = fmt.Sprintf("conflict resolved by majority toward %s", winner)
	d.Conflict = conflict
	d.Votes = votes
	return d
}

// sized aggregates execution parameters from the thoughts agreeing with the
// winning action: mean entry, most conservative stop and target, and size
// from risk-per-trade over stop distance capped by the account fraction.
func (a *Arbiter) sized(symbol string, signal thought.Signal, agreeing []*thought.Run, balance float64) Decision {
	d := Decision{
		Action:          Action(signal),
		Symbol:          symbol,
		Leverage:        1,
		ContributingIDs: ids(agreeing),
	}
	if len(agreeing) == 0 {
		return d
	}

	var entrySum float64
	stops := make([]float64, 0, len(agreeing))
	targets := make([]float64, 0, len(agreeing))
	for _, run := range agreeing {
		entrySum += run.Decision.Entry
		stops = append(stops, run.Decision.StopLoss)
		targets = append(targets, run.Decision.TakeProfit)
	}
	d.Entry = entrySum / float64(len(agreeing))
	sort.Float64s(stops)
	sort.Float64s(targets)
	if signal == thought.SignalLong {
		// tightest stop and nearest target
		d.StopLoss = stops[len(stops)-1]
		d.TakeProfit = targets[0]
	} else {
		d.StopLoss = stops[0]
		d.TakeProfit = targets[len(targets)-1]
	}

	stopDistance := math.Abs(d.Entry - d.StopLoss)
	if stopDistance > 0 && balance > 0 && d.Entry > 0 {
		size := balance * a.cfg.RiskPerTrade / stopDistance
		maxSize := balance * a.cfg.MaxPositionPct / d.Entry
		d.Size = math.Min(size, maxSize)
	}
	return d
}

func agreeingWith(runs []*thought.Run, signal thought.Signal) []*thought.Run {
	out := make([]*thought.Run, 0, len(runs))
	for _, run := range runs {
		if run.Decision.Signal == signal {
			out = append(out, run)
		}
	}
	return out
}

func avgConfidence(runs []*thought.Run) float64 {
	if len(runs) == 0 {
		return 0
	}
	var sum float64
	for _, run := range runs {
		sum += run.Decision.Confidence
	}
	return sum / float64(len(runs))
}

func ids(runs []*thought.Run) []string {
	out := make([]string, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Spec.ID)
	}
	return out
}

func maxVote(votes map[string]float64) (string, float64) {
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	// stable winner on ties regardless of map order
	sort.Strings(keys)
	winner, best := string(thought.SignalHold), -1.0
	for _, k := range keys {
		if votes[k] > best {
			winner, best = k, votes[k]
		}
	}
	return winner, best
}
