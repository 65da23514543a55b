// Package executor routes approved decisions to a trading venue, either an
// in-memory paper book or a live REST venue.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"main/internal/arbiter"
)

// Mode selects the venue behind the router.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func (m Mode) IsAvailable() bool {
	return m == ModePaper || m == ModeLive
}

// Side is the venue-facing order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Order is a market order handed to a venue.
type Order struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Leverage   float64   `json:"leverage"`
	Reduce     bool      `json:"reduce"`
	CreatedAt  time.Time `json:"created_at"`
}

// Position is one open position on a venue.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Leverage   float64   `json:"leverage"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Result is the uniform execution outcome across venues. Venue and network
// failures land here as Success=false, never as a panic.
type Result struct {
	Success       bool      `json:"success"`
	OrderID       string    `json:"order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side,omitempty"`
	RequestedSize float64   `json:"requested_size"`
	FilledSize    float64   `json:"filled_size"`
	FillPrice     float64   `json:"fill_price"`
	SlippageBps   float64   `json:"slippage_bps"`
	Fee           float64   `json:"fee"`
	RealizedPnL   float64   `json:"realized_pnl"`
	LatencyMS     float64   `json:"latency_ms"`
	Mode          Mode      `json:"mode"`
	Message       string    `json:"message,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}

// Status is a point-in-time view of the router for the admin surface.
type Status struct {
	Mode          Mode       `json:"mode"`
	Balance       float64    `json:"balance"`
	OpenPositions []Position `json:"open_positions"`
	AsOf          time.Time  `json:"as_of"`
}

// Venue executes orders and reports account state.
type Venue interface {
	Execute(ctx context.Context, order Order) Result
	Positions(ctx context.Context) ([]Position, error)
	Balance(ctx context.Context) (float64, error)
}

// Config selects and configures the venue.
type Config struct {
	Mode  Mode        `json:"mode"`
	Paper PaperConfig `json:"paper"`
	Live  LiveConfig  `json:"live"`
}

// DefaultConfig returns a paper-mode configuration.
func DefaultConfig() Config {
	return Config{
		Mode:  ModePaper,
		Paper: DefaultPaperConfig(),
		Live:  DefaultLiveConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModePaper
	}
	c.Paper = c.Paper.withDefaults()
	c.Live = c.Live.withDefaults()
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if !c.Mode.IsAvailable() {
		return fmt.Errorf("invalid executor config: unknown mode %q", c.Mode)
	}
	if err := c.Paper.Validate(); err != nil {
		return err
	}
	if c.Mode == ModeLive {
		return c.Live.Validate()
	}
	return nil
}

// Router converts decisions into venue orders and tracks the open-position
// count for risk checks.
type Router struct {
	cfg   Config
	venue Venue

	mu        sync.Mutex
	openCount int
}

// NewRouter builds a router with the venue its config selects.
func NewRouter(cfg Config) (*Router, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var venue Venue
	switch cfg.Mode {
	case ModeLive:
		venue = NewLive(cfg.Live)
	default:
		venue = NewPaper(cfg.Paper)
	}
	return &Router{cfg: cfg, venue: venue}, nil
}

// Mode reports which venue the router drives.
func (r *Router) Mode() Mode {
	return r.cfg.Mode
}

// Execute turns the decision into a market order. HOLD and CONFLICT are
// successful no-ops.
func (r *Router) Execute(ctx context.Context, decision arbiter.Decision, cycleID string) Result {
	var order Order
	switch decision.Action {
	case arbiter.ActionLong:
		order.Side = SideBuy
	case arbiter.ActionShort:
		order.Side = SideSell
	case arbiter.ActionClose:
		order.Reduce = true
	default:
		return Result{
			Success:    true,
			Symbol:     decision.Symbol,
			Mode:       r.cfg.Mode,
			Message:    "no action for " + string(decision.Action),
			ExecutedAt: time.Now().UTC(),
		}
	}

	order.ID = uuid.NewString()
	order.CycleID = cycleID
	order.Symbol = decision.Symbol
	order.Size = decision.Size
	order.Price = decision.Entry
	order.StopLoss = decision.StopLoss
	order.TakeProfit = decision.TakeProfit
	order.Leverage = decision.Leverage
	order.CreatedAt = time.Now().UTC()

	res := r.venue.Execute(ctx, order)
	r.refreshOpenCount(ctx)
	return res
}

// Positions lists the venue's open positions.
func (r *Router) Positions(ctx context.Context) ([]Position, error) {
	positions, err := r.venue.Positions(ctx)
	if err != nil {
		return nil, err
	}
	r.setOpenCount(len(positions))
	return positions, nil
}

// Balance reports the venue account balance.
func (r *Router) Balance(ctx context.Context) (float64, error) {
	return r.venue.Balance(ctx)
}

// OpenPositionCount returns the last observed open-position count. It is
// refreshed on every execution and position query.
func (r *Router) OpenPositionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openCount
}

// Status snapshots the venue account for the admin surface.
func (r *Router) Status(ctx context.Context) (Status, error) {
	balance, err := r.venue.Balance(ctx)
	if err != nil {
		return Status{}, err
	}
	positions, err := r.Positions(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Mode:          r.cfg.Mode,
		Balance:       balance,
		OpenPositions: positions,
		AsOf:          time.Now().UTC(),
	}, nil
}

func (r *Router) refreshOpenCount(ctx context.Context) {
	if positions, err := r.venue.Positions(ctx); err == nil {
		r.setOpenCount(len(positions))
	}
}

func (r *Router) setOpenCount(n int) {
	r.mu.Lock()
	r.openCount = n
	r.mu.Unlock()
}
