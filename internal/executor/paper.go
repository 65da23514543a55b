package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// PaperConfig controls the simulated venue.
type PaperConfig struct {
	InitialBalance float64 `json:"initialBalance"`
	SlippageBps    float64 `json:"slippageBps"`
	FeeRate        float64 `json:"feeRate"`
	MaxHistory     int     `json:"maxHistory"`
}

// DefaultPaperConfig returns the simulation baseline.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		InitialBalance: 10_000,
		SlippageBps:    5,
		FeeRate:        0.0004,
		MaxHistory:     256,
	}
}

func (c PaperConfig) withDefaults() PaperConfig {
	def := DefaultPaperConfig()
	if c.InitialBalance == 0 {
		c.InitialBalance = def.InitialBalance
	}
	if c.SlippageBps == 0 {
		c.SlippageBps = def.SlippageBps
	}
	if c.FeeRate == 0 {
		c.FeeRate = def.FeeRate
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = def.MaxHistory
	}
	return c
}

// Validate checks if the configuration is usable.
func (c PaperConfig) Validate() error {
	if c.InitialBalance < 0 {
		return fmt.Errorf("invalid paper config: InitialBalance must be >= 0")
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("invalid paper config: SlippageBps must be >= 0")
	}
	if c.FeeRate < 0 || c.FeeRate > 1 {
		return fmt.Errorf("invalid paper config: FeeRate must be in [0,1]")
	}
	return nil
}

// Paper simulates fills against a reference price with fixed slippage and
// fees. One position per symbol; an opposite directional order flips it.
type Paper struct {
	cfg PaperConfig

	mu        sync.Mutex
	balance   float64
	positions map[string]*Position
	history   []Result
}

// NewPaper creates a simulated venue.
func NewPaper(cfg PaperConfig) *Paper {
	cfg = cfg.withDefaults()
	return &Paper{
		cfg:       cfg,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*Position),
	}
}

// Execute fills the order immediately at the slipped reference price.
func (p *Paper) Execute(_ context.Context, order Order) Result {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var res Result
	if order.Reduce {
		res = p.closeLocked(order)
	} else {
		res = p.openLocked(order)
	}
	res.Mode = ModePaper
	res.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	res.ExecutedAt = time.Now().UTC()
	p.record(res)
	return res
}

// Positions lists open simulated positions.
func (p *Paper) Positions(context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// Balance reports the simulated account balance.
func (p *Paper) Balance(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// History returns recorded execution results, oldest first.
func (p *Paper) History() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.history))
	copy(out, p.history)
	return out
}

func (p *Paper) openLocked(order Order) Result {
	res := Result{
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		RequestedSize: order.Size,
	}
	if order.Price <= 0 {
		res.Message = "no reference price"
		return res
	}
	if order.Size <= 0 {
		res.Message = "zero size"
		return res
	}

	fill := p.slip(order.Price, order.Side)
	fee := fill * order.Size * p.cfg.FeeRate
	leverage := order.Leverage
	if leverage < 1 {
		leverage = 1
	}
	if notional := fill * order.Size; notional > p.balance*leverage {
		res.Message = fmt.Sprintf("insufficient balance %.2f for notional %.2f", p.balance, notional)
		return res
	}

	if existing, ok := p.positions[order.Symbol]; ok && existing.Side != order.Side {
		closed := p.closeLocked(Order{
			ID:     order.ID,
			Symbol: order.Symbol,
			Price:  order.Price,
			Reduce: true,
		})
		res.RealizedPnL = closed.RealizedPnL
		logs.Infof("paper flip %s: closed %s %.4f, pnl %.2f", order.Symbol, closed.Side, closed.FilledSize, closed.RealizedPnL)
	}

	if existing, ok := p.positions[order.Symbol]; ok {
		total := existing.Size + order.Size
		existing.EntryPrice = (existing.EntryPrice*existing.Size + fill*order.Size) / total
		existing.Size = total
		if order.StopLoss > 0 {
			existing.StopLoss = order.StopLoss
		}
		if order.TakeProfit > 0 {
			existing.TakeProfit = order.TakeProfit
		}
	} else {
		p.positions[order.Symbol] = &Position{
			Symbol:     order.Symbol,
			Side:       order.Side,
			Size:       order.Size,
			EntryPrice: fill,
			StopLoss:   order.StopLoss,
			TakeProfit: order.TakeProfit,
			Leverage:   leverage,
			OpenedAt:   time.Now().UTC(),
		}
	}

	p.balance -= fee
	res.Success = true
	res.FilledSize = order.Size
	res.FillPrice = fill
	res.SlippageBps = p.cfg.SlippageBps
	res.Fee = fee
	return res
}

func (p *Paper) closeLocked(order Order) Result {
	res := Result{
		OrderID:       order.ID,
		Symbol:        order.Symbol,
		RequestedSize: order.Size,
	}
	pos, ok := p.positions[order.Symbol]
	if !ok {
		res.Success = true
		res.Message = "no open position for " + order.Symbol
		return res
	}

	ref := order.Price
	if ref <= 0 {
		ref = pos.EntryPrice
	}
	exitSide := pos.Side.opposite()
	fill := p.slip(ref, exitSide)
	fee := fill * pos.Size * p.cfg.FeeRate

	pnl := (fill - pos.EntryPrice) * pos.Size
	if pos.Side == SideSell {
		pnl = -pnl
	}
	p.balance += pnl - fee
	delete(p.positions, order.Symbol)

	res.Success = true
	res.Side = exitSide
	res.FilledSize = pos.Size
	res.FillPrice = fill
	res.SlippageBps = p.cfg.SlippageBps
	res.Fee = fee
	res.RealizedPnL = pnl
	return res
}

// slip moves the reference price against the taker.
func (p *Paper) slip(price float64, side Side) float64 {
	offset := price * p.cfg.SlippageBps / 10_000
	if side == SideBuy {
		return price + offset
	}
	return price - offset
}

func (p *Paper) record(res Result) {
	p.history = append(p.history, res)
	if over := len(p.history) - p.cfg.MaxHistory; over > 0 {
		p.history = p.history[over:]
	}
}
