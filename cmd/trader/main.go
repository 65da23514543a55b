package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"main/internal/api"
	"main/internal/arbiter"
	"main/internal/audit"
	"main/internal/bus"
	"main/internal/executor"
	"main/internal/market"
	"main/internal/marketctx"
	"main/internal/mdg"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/risk"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	mode := flag.String("mode", "", "Execution mode override (paper|live)")
	symbols := flag.String("symbols", "", "Comma-separated symbol override")
	interval := flag.Duration("interval", 0, "Cycle interval override (0=use config)")
	demoFeed := flag.Bool("demo-feed", false, "Publish a synthetic market feed")
	demoSeed := flag.Int64("demo-seed", 0, "Seed for the synthetic feed (0=random)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *mode != "" {
		cfg.Executor.Mode = executor.Mode(*mode)
	}
	if *symbols != "" {
		cfg.Symbols = splitSymbols(*symbols)
	}
	if *interval > 0 {
		cfg.Interval = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *demoFeed, *demoSeed); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func run(ctx context.Context, cfg ops.Config, demoFeed bool, demoSeed int64) error {
	registry := prometheus.NewRegistry()

	b, err := bus.New(cfg.Bus, registry)
	if err != nil {
		return err
	}
	b.Start(ctx)
	defer b.Stop()

	mkt, err := market.NewStore(cfg.Market)
	if err != nil {
		return err
	}
	mkt.Attach(b)

	builder, err := marketctx.NewBuilder(cfg.Context, mkt, b)
	if err != nil {
		return err
	}

	router, err := executor.NewRouter(cfg.Executor)
	if err != nil {
		return err
	}

	riskMgr, err := risk.NewManager(cfg.Risk, risk.NewKillSwitch(), mkt, router)
	if err != nil {
		return err
	}

	store, closeStore, err := openAuditStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	trail, err := audit.NewTrail(store)
	if err != nil {
		return err
	}

	arb, err := arbiter.New(cfg.Arbiter)
	if err != nil {
		return err
	}

	configHash, err := cfg.Hash()
	if err != nil {
		return err
	}

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Bus:        b,
		Market:     mkt,
		Builder:    builder,
		ThoughtCfg: cfg.Thought,
		Arbiter:    arb,
		Risk:       riskMgr,
		Router:     router,
		Trail:      trail,
		ConfigHash: configHash,
	})
	if err != nil {
		return err
	}

	replayer, err := audit.NewReplayer(store, cfg.Thought, cfg.Arbiter)
	if err != nil {
		return err
	}

	srv, err := api.NewServer(api.Config{Addr: cfg.API.Addr, AdminToken: cfg.API.AdminToken}, api.Deps{
		Runner:   runner,
		Store:    store,
		Replayer: replayer,
		Risk:     riskMgr,
		Router:   router,
		Bus:      b,
		Gatherer: registry,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup

	if demoFeed {
		feed, err := mdg.NewFeed(mdg.Config{Symbols: cfg.Symbols, Seed: demoSeed}, b)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runner.RunLoop(ctx, cfg.Symbols, cfg.Interval)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Printf("trader started symbols=%v interval=%s mode=%s", cfg.Symbols, cfg.Interval, cfg.Executor.Mode)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown: %v", err)
	}
	wg.Wait()
	return nil
}

// openAuditStore builds the configured audit backend and its teardown.
func openAuditStore(ctx context.Context, cfg ops.Config) (audit.Store, func(), error) {
	switch cfg.Audit.Backend {
	case ops.AuditBackendPostgres:
		client, err := conn.New(conn.Option{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, err := audit.NewPGStore(client.DB())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := store.Migrate(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	default:
		return audit.NewMemoryStore(cfg.Audit.MemoryCapacity), func() {}, nil
	}
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
