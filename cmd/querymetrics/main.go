// Command querymetrics tails the configured SQL execution log, fingerprints
// and aggregates executions per normalized query, and persists rolling
// percentile metrics with TTL.
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

	"github.com/redis/go-redis/v9"

	"github.com/ridgeline-oss/ridgeline/internal/config"
	"github.com/ridgeline-oss/ridgeline/pkg/logging"
	"github.com/ridgeline-oss/ridgeline/pkg/logtail"
	"github.com/ridgeline-oss/ridgeline/pkg/querymetrics"
)

const positionKey = "logprocessor:position"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet configuration file")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Bus.Address, Password: cfg.Bus.Password, DB: cfg.Bus.DB})
	defer client.Close()

	ttl := time.Duration(cfg.Query.TTLDays) * 24 * time.Hour
	aggregator := querymetrics.New(client, cfg.Query.MaxSamples, ttl)

	positionTTL := 30 * 24 * time.Hour
	if ttl > positionTTL {
		positionTTL = ttl
	}
	tailer := logtail.New(
		cfg.Query.LogFilePath,
		time.Duration(cfg.Query.PollIntervalMs)*time.Millisecond,
		client,
		positionKey,
		positionTTL,
		aggregator,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("shutting down query-metrics tailer...")
		cancel()
	}()

	if err := tailer.Start(ctx); err != nil {
		log.Fatalf("failed to start log tailer: %v", err)
	}

	<-ctx.Done()
	tailer.Stop()
	fmt.Println("query-metrics shutdown complete")
}
