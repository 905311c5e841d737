package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"webhook-trader/internal/activity"
	"webhook-trader/internal/api"
	"webhook-trader/internal/events"
	"webhook-trader/internal/executor"
	"webhook-trader/internal/ledger"
	"webhook-trader/internal/monitor"
	"webhook-trader/internal/persistence"
	"webhook-trader/internal/pipeline"
	"webhook-trader/internal/registry"
	"webhook-trader/internal/signal"
	"webhook-trader/pkg/cache"
	"webhook-trader/pkg/config"
	"webhook-trader/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting webhook-trader on port %s", cfg.Port)
	log.Printf("using database at %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Strategy registry seeded from YAML, state restored from DB
	reg := registry.New(database, bus)
	if cfg.StrategyConfig != "" {
		seeds, err := registry.LoadConfig(cfg.StrategyConfig)
		if err != nil {
			log.Printf("strategy config load failed: %v", err)
		} else if err := registry.SyncConfigToDB(ctx, database, seeds); err != nil {
			log.Printf("strategy sync failed: %v", err)
		} else {
			log.Printf("synced %d strategies from %s", len(seeds), cfg.StrategyConfig)
		}
	}
	if err := reg.Load(ctx); err != nil {
		log.Fatalf("registry load failed: %v", err)
	}

	// Histories
	led := ledger.New(database, cfg.LedgerLimit)
	if err := led.Load(ctx); err != nil {
		log.Fatalf("ledger load failed: %v", err)
	}
	log.Printf("ledger resumed at seq %d", led.Seq())

	metrics := monitor.NewSystemMetrics()

	writer := persistence.NewBatchWriter(database.DB, 64, time.Duration(cfg.ActivityFlushMs)*time.Millisecond)
	writer.SetLatency(metrics.DBLatency)
	defer writer.Close()

	act := activity.New(bus, writer, cfg.ActivityLimit)
	if err := act.Load(ctx, database); err != nil {
		log.Fatalf("activity load failed: %v", err)
	}

	// Execution
	dedup := cache.NewDedupCache()
	dedupWindow := time.Duration(cfg.DedupWindowMs) * time.Millisecond
	janitorStop := make(chan struct{})
	defer close(janitorStop)
	dedup.StartJanitor(time.Minute, dedupWindow, janitorStop)

	gw := executor.NewPaperGateway(cfg.PaperBalances, cfg.PaperSlippageBps, cfg.PaperFeeRate, time.Now().UnixNano())
	exec := executor.New(gw, bus, dedup, dedupWindow)
	exec.Gate = reg

	coord := pipeline.New(signal.NewParser(reg), reg, exec, led, act, bus, metrics, nil, cfg.LaneBuffer)

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}

	server := api.NewServer(api.Deps{
		Bus:       bus,
		DB:        database,
		Registry:  reg,
		Pipeline:  coord,
		Ledger:    led,
		Activity:  act,
		Gateway:   gw,
		Metrics:   metrics,
		JWTSecret: cfg.JWTSecret,
		Meta: api.SystemMeta{
			Venue:       "paper",
			Version:     version,
			DedupWindow: dedupWindow,
			StartedAt:   time.Now(),
		},
		RateLimit: api.RateLimitConfig{
			PerSecond: cfg.RateLimitPerSec,
			Burst:     cfg.RateLimitBurst,
		},
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	// Refuse new signals, settle in-flight ones, flush the activity log.
	coord.Close()
}
