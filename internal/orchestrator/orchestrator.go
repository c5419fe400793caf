// Package orchestrator implements StreamOrchestrator: it discovers
// registered stream processors, ensures each one's consumer group exists,
// binds a consumer, and drives acknowledge-on-success consumption with
// failures left in the bus's pending-entries list.
//
// Grounded on pkg/source/redis's idiom for the real go-redis/v9 stream API:
// idempotent XGroupCreateMkStream (swallowing BUSYGROUP), blocking
// XReadGroup, and XAck on success.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/wire"
)

// StreamProcessor is bound to exactly one stream + consumer group by the
// orchestrator. Process receives the already-decoded wire fields.
type StreamProcessor interface {
	StreamKey() string
	ConsumerGroup() string
	Process(ctx context.Context, fields map[string]string) error
}

// pollTimeout bounds each XReadGroup call so poll loops observe shutdown
// promptly, per the concurrency model's "suspension only at the bus poll"
// requirement.
const pollTimeout = 1 * time.Second

// Orchestrator is the StreamOrchestrator (SO).
type Orchestrator struct {
	client     *redis.Client
	consumer   string
	logger     ridgeline.Logger
	processors []StreamProcessor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Orchestrator. consumerName identifies this instance within
// each processor's consumer group (typically host/instance identity).
func New(client *redis.Client, consumerName string, logger ridgeline.Logger) *Orchestrator {
	return &Orchestrator{client: client, consumer: consumerName, logger: logger}
}

// Register adds a StreamProcessor to the fleet. Call before Start.
func (o *Orchestrator) Register(p StreamProcessor) {
	o.processors = append(o.processors, p)
}

// Start ensures every registered processor's consumer group exists and
// launches one poll loop per processor.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return &ridgeline.ConfigError{Reason: "orchestrator already running"}
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	for _, p := range o.processors {
		if err := o.ensureGroup(ctx, p); err != nil {
			cancel()
			return err
		}
	}

	for _, p := range o.processors {
		o.wg.Add(1)
		go o.pollLoop(runCtx, p)
	}
	return nil
}

// Stop cancels every poll loop and waits for them to quiesce.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.running = false
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
}

func (o *Orchestrator) ensureGroup(ctx context.Context, p StreamProcessor) error {
	err := o.client.XGroupCreateMkStream(ctx, p.StreamKey(), p.ConsumerGroup(), "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return &ridgeline.TransientIOError{Op: "ensure_consumer_group", Err: err}
	}
	return nil
}

func (o *Orchestrator) pollLoop(ctx context.Context, p StreamProcessor) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.ConsumerGroup(),
			Consumer: o.consumer,
			Streams:  []string{p.StreamKey(), ">"},
			Count:    10,
			Block:    pollTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			if o.logger != nil {
				o.logger.Warn("stream poll failed", "stream", p.StreamKey(), "group", p.ConsumerGroup(), "error", err)
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				o.handleOne(ctx, p, msg)
			}
		}
	}
}

func (o *Orchestrator) handleOne(ctx context.Context, p StreamProcessor, msg redis.XMessage) {
	raw := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			raw[k] = s
		}
	}
	messageID, eventType, payload, metadata := wire.DecodeRecord(raw)
	fields := map[string]string{
		wire.FieldMessageID: messageID,
		wire.FieldEventType: eventType,
		wire.FieldPayload:   payload,
		wire.FieldMetadata:  metadata,
	}

	if err := p.Process(ctx, fields); err != nil {
		if o.logger != nil {
			o.logger.Warn("stream record left in PEL", "stream", p.StreamKey(), "group", p.ConsumerGroup(), "id", msg.ID, "error", err)
		}
		return
	}

	if err := o.client.XAck(ctx, p.StreamKey(), p.ConsumerGroup(), msg.ID).Err(); err != nil && o.logger != nil {
		o.logger.Error("ack failed", "stream", p.StreamKey(), "group", p.ConsumerGroup(), "id", msg.ID, "error", err)
	}
}
