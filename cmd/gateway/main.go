// Command gateway runs the JMS listener fleet and gateway pipeline: it
// ingests broker messages, persists them to the raw event store,
// dispatches to typed handlers, and forwards to the stream bus.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/internal/config"
	"github.com/ridgeline-oss/ridgeline/internal/gateway"
	"github.com/ridgeline-oss/ridgeline/internal/jmsfleet"
	"github.com/ridgeline-oss/ridgeline/pkg/handler"
	"github.com/ridgeline-oss/ridgeline/pkg/logging"
	"github.com/ridgeline-oss/ridgeline/pkg/rawstore"
	"github.com/ridgeline-oss/ridgeline/pkg/streampublish"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet configuration file")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer db.Close()

	store, err := rawstore.New(db, "pgx", logger)
	if err != nil {
		log.Fatalf("failed to init raw event store: %v", err)
	}

	registry, err := handler.New([]ridgeline.Handler{
		handler.Func(nil, 0, func(ctx context.Context, evt ridgeline.RawEvent) error { return nil }),
	}, logger)
	if err != nil {
		log.Fatalf("failed to build handler registry: %v", err)
	}

	busClient := redis.NewClient(&redis.Options{Addr: cfg.Bus.Address, Password: cfg.Bus.Password, DB: cfg.Bus.DB})
	defer busClient.Close()
	publisher := streampublish.New(busClient)

	retry := gateway.NewRetryPolicy(int64(cfg.Gateway.RetryAttempts), int64(cfg.Gateway.RetryDelayMs))
	streamFor := func(address string) string { return cfg.Gateway.StreamMapping[address] }
	pipeline := gateway.New(store, registry, publisher, streamFor, retry, logger)
	pipeline.SetAllowNoAckDebug(cfg.Gateway.AllowNoAckDebug)

	addresses := make([]jmsfleet.AddressConfig, 0, len(cfg.Gateway.Addresses))
	for _, addr := range cfg.Gateway.Addresses {
		addresses = append(addresses, jmsfleet.AddressConfig{Address: addr, SubscriberName: cfg.Gateway.SubscriberName})
	}
	backoff := jmsfleet.Backoff{
		Initial:    cfg.Gateway.Artemis.RetryInterval,
		Multiplier: cfg.Gateway.Artemis.RetryIntervalMultiplier,
		Max:        cfg.Gateway.Artemis.MaxRetryInterval,
		Attempts:   cfg.Gateway.Artemis.ReconnectAttempts,
	}
	fleet := jmsfleet.New(cfg.Broker.URL, addresses, backoff, pipeline.ProcessMessage, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("shutting down gateway...")
		cancel()
	}()

	if err := fleet.StartAll(ctx); err != nil {
		log.Fatalf("failed to start jms fleet: %v", err)
	}

	<-ctx.Done()
	fleet.StopAll(5 * time.Second)
	fmt.Println("gateway shutdown complete")
}
