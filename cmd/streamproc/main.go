// Command streamproc runs the stream orchestrator: it binds registered
// stream processors to stream-bus consumer groups and drives
// acknowledge-on-success consumption.
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
	"github.com/ridgeline-oss/ridgeline/internal/config"
	"github.com/ridgeline-oss/ridgeline/internal/orchestrator"
	"github.com/ridgeline-oss/ridgeline/internal/processor"
	"github.com/ridgeline-oss/ridgeline/pkg/dedup"
	"github.com/ridgeline-oss/ridgeline/pkg/enrichment"
	"github.com/ridgeline-oss/ridgeline/pkg/logging"
)

// passthroughBuilder maps every top-level payload key directly onto a
// column of the same name. It is the generic default registered here;
// domain-specific deployments supply their own processor.Builder per
// target table the way this one is built.
type passthroughBuilder struct {
	table string
}

func (b passthroughBuilder) Table() string { return b.table }

func (b passthroughBuilder) Build(ctx context.Context, messageID, eventType string, payload map[string]interface{}) ([]processor.Row, error) {
	row := make(processor.Row, len(payload))
	for k, v := range payload {
		row[k] = v
	}
	return []processor.Row{row}, nil
}

const (
	enrichmentPositiveTTL = 10 * time.Minute
	enrichmentNegativeTTL = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the fleet configuration file")
	instanceName := flag.String("instance", "", "consumer identity within each processor's consumer group; defaults to hostname")
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

	busClient := redis.NewClient(&redis.Options{Addr: cfg.Bus.Address, Password: cfg.Bus.Password, DB: cfg.Bus.DB})
	defer busClient.Close()

	consumer := *instanceName
	if consumer == "" {
		if hn, err := os.Hostname(); err == nil {
			consumer = hn
		} else {
			consumer = "streamproc"
		}
	}

	dedupIdx := dedup.New(db, "pgx")
	enrich := enrichment.New(db, "pgx", "enrichment_units", enrichmentPositiveTTL, enrichmentNegativeTTL)

	orch := orchestrator.New(busClient, consumer, logger)
	for address, streamName := range cfg.Gateway.StreamMapping {
		builder := passthroughBuilder{table: address}
		base := processor.New(streamName, "cg."+streamName, db, "pgx", dedupIdx, enrich, builder, logger)
		orch.Register(base)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("shutting down stream processor...")
		cancel()
	}()

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("failed to start orchestrator: %v", err)
	}

	<-ctx.Done()
	orch.Stop()
	fmt.Println("stream processor shutdown complete")
}
