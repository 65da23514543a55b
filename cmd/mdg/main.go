package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"main/internal/bus"
	"main/internal/market"
	"main/internal/mdg"
)

// Standalone harness for the synthetic feed: emits bursts through the bus,
// lets the market store consume them, and prints the resulting snapshots.
func main() {
	symbols := flag.String("symbols", "BTCUSDT", "Comma-separated symbols")
	bursts := flag.Int("bursts", 20, "Number of bursts to emit")
	interval := flag.Duration("interval", 50*time.Millisecond, "Delay between bursts")
	basePrice := flag.Float64("base-price", 65_000, "Starting price")
	volatility := flag.Float64("volatility", 0.0005, "Step stddev as a fraction of price")
	drift := flag.Float64("drift", 0.0001, "Per-step drift as a signed fraction")
	seed := flag.Int64("seed", 0, "Random seed (0=time-based)")
	flag.Parse()

	if *bursts <= 0 {
		log.Fatalf("bursts must be > 0")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := bus.New(bus.Config{}, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("bus init failed: %v", err)
	}
	b.Start(ctx)
	defer b.Stop()

	store, err := market.NewStore(market.Config{})
	if err != nil {
		log.Fatalf("market store init failed: %v", err)
	}
	store.Attach(b)

	feed, err := mdg.NewFeed(mdg.Config{
		Symbols:    splitSymbols(*symbols),
		BasePrice:  *basePrice,
		Volatility: *volatility,
		Drift:      *drift,
		Seed:       *seed,
	}, b)
	if err != nil {
		log.Fatalf("feed init failed: %v", err)
	}

	for i := 0; i < *bursts; i++ {
		feed.Emit(time.Now().UTC())
		time.Sleep(*interval)
	}

	// let the bus drain the last burst
	time.Sleep(200 * time.Millisecond)

	for _, symbol := range store.Symbols() {
		snap := store.Snapshot(symbol)
		fmt.Printf("%s price=%.2f bid=%.2f ask=%.2f trades=%d age=%s\n",
			symbol, snap.Ticker.Price, snap.Ticker.Bid, snap.Ticker.Ask, len(snap.Trades), snap.Age.Truncate(time.Millisecond))
	}

	stats := b.Snapshot()
	fmt.Printf("bus published=%d delivered=%d dropped=%d\n", stats.Published, stats.Delivered, stats.Dropped)
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
