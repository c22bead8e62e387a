package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	mode := flag.String("mode", ModeIncremental, "Run mode: full or incremental")
	batchSize := flag.Int("batch-size", 0, "Override configured staging batch size")
	daemon := flag.Bool("daemon", false, "Keep running on the configured interval")
	flag.Parse()

	log.Printf("🔧 Loading configuration from %s", *configPath)
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *batchSize != 0 {
		cfg.ETL.BatchSize = *batchSize
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("📋 Service: %s", cfg.Service.Name)
	log.Printf("📋 Mode: %s, batch size: %d, workers: %d", *mode, cfg.ETL.BatchSize, cfg.ETL.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sourcePool, err := connect(ctx, cfg.Source.ConnectionString(), "source")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer sourcePool.Close()

	warehousePool, err := connect(ctx, cfg.Warehouse.ConnectionString(), "warehouse")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer warehousePool.Close()

	if err := InitSchema(ctx, warehousePool); err != nil {
		log.Fatalf("Failed to initialize warehouse schema: %v", err)
	}

	if !*daemon {
		report := NewPipeline(cfg, sourcePool, warehousePool).Run(ctx, *mode)
		log.Println(report.Summary())
		if report.State != StateSucceeded {
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, cfg, sourcePool, warehousePool, *mode)
	log.Println("👋 Goodbye!")
}

// connect opens and verifies one database pool
func connect(ctx context.Context, connString, name string) (*pgxpool.Pool, error) {
	log.Printf("🔗 Connecting to %s database...", name)
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}
	log.Printf("✅ Connected to %s database", name)
	return pool, nil
}

// runDaemon runs the pipeline on the configured interval until a shutdown
// signal arrives. Each iteration is a fresh pipeline so every run carries its
// own correlation id.
func runDaemon(ctx context.Context, cfg *Config, sourcePool, warehousePool *pgxpool.Pool, mode string) {
	health := NewHealthServer(cfg.Service.HealthPort)
	if err := health.Start(); err != nil {
		log.Fatalf("Failed to start health server: %v", err)
	}
	defer health.Stop()

	log.Printf("⏰ Running every %v", cfg.RunInterval())

	runOnce := func() {
		report := NewPipeline(cfg, sourcePool, warehousePool).Run(ctx, mode)
		health.RecordRun(report)
		log.Println(report.Summary())
	}

	runOnce()

	ticker := time.NewTicker(cfg.RunInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Received shutdown signal, stopping...")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
