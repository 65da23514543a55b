// Package market keeps the latest per-symbol market state fed from the bus.
// It is the fast-moving half of context building; slow-moving signals are
// read from the bus history instead.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"main/internal/bus"
)

const (
	defaultTradeWindow = 512
)

// Ticker is the latest quote for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade is one executed trade on the feed.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a copy of the live state for one symbol at call time.
type Snapshot struct {
	Symbol string        `json:"symbol"`
	Ticker Ticker        `json:"ticker"`
	Trades []Trade       `json:"trades"`
	Age    time.Duration `json:"age"`
	Known  bool          `json:"known"`
}

// Config bounds the per-symbol trade window.
type Config struct {
	TradeWindow int
}

func (c Config) withDefaults() Config {
	if c.TradeWindow == 0 {
		c.TradeWindow = defaultTradeWindow
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.TradeWindow < 0 {
		return fmt.Errorf("invalid market config: TradeWindow must be >= 0")
	}
	return nil
}

type symbolState struct {
	ticker Ticker
	trades []Trade
	next   int
}

// Store is the in-memory live market-data store.
type Store struct {
	cfg     Config
	mu      sync.RWMutex
	symbols map[string]*symbolState
}

// NewStore creates an empty store.
func NewStore(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, symbols: make(map[string]*symbolState)}, nil
}

// Attach subscribes the store to market events on the bus.
func (s *Store) Attach(b *bus.Bus) {
	b.Subscribe("market.tick", "market-store-tick", func(ctx context.Context, e bus.Event) error {
		s.ApplyTick(tickerFromPayload(e))
		return nil
	})
	b.Subscribe("market.trade", "market-store-trade", func(ctx context.Context, e bus.Event) error {
		s.ApplyTrade(tradeFromPayload(e))
		return nil
	})
}

// ApplyTick replaces the latest ticker for a symbol.
func (s *Store) ApplyTick(t Ticker) {
	if t.Symbol == "" {
		return
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(t.Symbol).ticker = t
}

// ApplyTrade appends a trade to the symbol's bounded window.
func (s *Store) ApplyTrade(t Trade) {
	if t.Symbol == "" {
		return
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(t.Symbol)
	if len(st.trades) < s.cfg.TradeWindow {
		st.trades = append(st.trades, t)
		return
	}
	st.trades[st.next] = t
	st.next = (st.next + 1) % len(st.trades)
}

// Snapshot copies the live state for a symbol; unknown symbols return a
// zero-valued snapshot with Known=false.
func (s *Store) Snapshot(symbol string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return Snapshot{Symbol: symbol}
	}
	trades := make([]Trade, 0, len(st.trades))
	// oldest first
	for i := 0; i < len(st.trades); i++ {
		trades = append(trades, st.trades[(st.next+i)%len(st.trades)])
	}
	age := time.Duration(0)
	if !st.ticker.Timestamp.IsZero() {
		age = time.Since(st.ticker.Timestamp)
	}
	return Snapshot{Symbol: symbol, Ticker: st.ticker, Trades: trades, Age: age, Known: true}
}

// Symbols lists symbols with any recorded state.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

func (s *Store) state(symbol string) *symbolState {
	st, ok := s.symbols[symbol]
	if !ok {
		st = &symbolState{}
		s.symbols[symbol] = st
	}
	return st
}
