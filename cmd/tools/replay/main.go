package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"main/internal/audit"
	"main/internal/ops"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config")
	recordID := flag.String("record", "", "Replay a single record by id (default: all)")
	symbol := flag.String("symbol", "", "Only replay records for this symbol")
	limit := flag.Int("limit", 0, "Max records to replay (0=all)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Audit.Backend != ops.AuditBackendPostgres {
		log.Fatalf("replay tool needs the postgres audit backend, config has %q", cfg.Audit.Backend)
	}

	ctx := context.Background()
	client, err := conn.New(conn.Option{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer client.Close()

	store, err := audit.NewPGStore(client.DB())
	if err != nil {
		log.Fatalf("audit store init failed: %v", err)
	}
	replayer, err := audit.NewReplayer(store, cfg.Thought, cfg.Arbiter)
	if err != nil {
		log.Fatalf("replayer init failed: %v", err)
	}

	ids, err := collectIDs(ctx, store, *recordID, *symbol, *limit)
	if err != nil {
		log.Fatalf("list records failed: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("no records to replay")
	}

	var mismatches, failures int
	for _, id := range ids {
		result, err := replayer.Replay(ctx, id)
		if err != nil {
			failures++
			fmt.Printf("ERROR %s: %v\n", id, err)
			continue
		}
		if result.DecisionMatches {
			fmt.Printf("MATCH %s cycle=%s action=%s\n", id, result.CycleID, result.ReplayedAction)
			continue
		}
		mismatches++
		fmt.Printf("MISMATCH %s cycle=%s original=%s replayed=%s\n",
			id, result.CycleID, result.OriginalAction, result.ReplayedAction)
		for _, diff := range result.Differences {
			fmt.Printf("  %s\n", diff)
		}
	}

	fmt.Printf("replayed=%d mismatches=%d errors=%d\n", len(ids), mismatches, failures)
	if mismatches > 0 || failures > 0 {
		os.Exit(1)
	}
}

func collectIDs(ctx context.Context, store audit.Store, recordID, symbol string, limit int) ([]string, error) {
	if recordID != "" {
		return []string{recordID}, nil
	}
	records, err := store.List(ctx, audit.Filter{
		Symbol: strings.ToUpper(strings.TrimSpace(symbol)),
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids, nil
}
