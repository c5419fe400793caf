// Package gateway implements GatewayPipeline: the per-message flow a JMS
// listener drives for every inbound broker message — persist the raw
// event, dispatch to a typed handler with bounded retry, then publish to
// the mapped stream.
//
// Grounded on pkg/engine's pipeline-stage style (parse, transform,
// persist, forward as discrete steps threaded through one context) and on
// the design notes' resolution of runtime-mutable retry parameters via
// atomic reads rather than a mutex-guarded struct.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/handler"
	"github.com/ridgeline-oss/ridgeline/pkg/rawstore"
)

// Publisher is the subset of pkg/streampublish.Publisher the pipeline
// needs.
type Publisher interface {
	Publish(ctx context.Context, streamName, messageID, eventType, payload, metadata string) (string, error)
}

// StreamMapper resolves the stream name a given broker address forwards
// to, per the address -> stream_name configuration.
type StreamMapper func(address string) string

// RetryPolicy holds the runtime-mutable retry budget. Both fields are read
// atomically so an operator can reconfigure them while the pipeline runs.
type RetryPolicy struct {
	attempts atomic.Int64
	delayMs  atomic.Int64
}

// NewRetryPolicy builds a RetryPolicy with an initial attempts/delay.
func NewRetryPolicy(attempts int64, delayMs int64) *RetryPolicy {
	p := &RetryPolicy{}
	p.attempts.Store(attempts)
	p.delayMs.Store(delayMs)
	return p
}

// Set atomically updates the policy.
func (p *RetryPolicy) Set(attempts, delayMs int64) {
	p.attempts.Store(attempts)
	p.delayMs.Store(delayMs)
}

func (p *RetryPolicy) snapshot() (int64, time.Duration) {
	return p.attempts.Load(), time.Duration(p.delayMs.Load()) * time.Millisecond
}

// Pipeline is the GatewayPipeline (GP).
type Pipeline struct {
	store     *rawstore.Store
	registry  *handler.Registry
	publisher Publisher
	streamFor StreamMapper
	retry     *RetryPolicy
	logger    ridgeline.Logger

	// allowNoAckDebug is a development-only escape hatch: when set, a fully
	// processed message still returns ErrRedeliveryForcing so the caller
	// leaves it un-acknowledged. Never enable in production; it exists to
	// let an operator watch the same message redeliver repeatedly while
	// inspecting handler behavior.
	allowNoAckDebug bool
}

// New builds a Pipeline over its four collaborators.
func New(store *rawstore.Store, registry *handler.Registry, publisher Publisher, streamFor StreamMapper, retry *RetryPolicy, logger ridgeline.Logger) *Pipeline {
	return &Pipeline{store: store, registry: registry, publisher: publisher, streamFor: streamFor, retry: retry, logger: logger}
}

// SetAllowNoAckDebug toggles the development-only forced-redelivery mode.
// Callers should only wire this from an explicit debug configuration flag,
// never from a default.
func (p *Pipeline) SetAllowNoAckDebug(enabled bool) {
	p.allowNoAckDebug = enabled
}

// ProcessMessage runs one JMS TextMessage delivered on address through the
// upsert/dispatch/publish flow. A non-nil error means the caller must roll
// back the broker session instead of acknowledging it.
func (p *Pipeline) ProcessMessage(ctx context.Context, address string, brokerMessageID string, payload []byte) error {
	messageID := brokerMessageID
	if messageID == "" {
		messageID = fallbackMessageID(address, payload)
	}

	eventTime := time.Now().UTC()
	if _, err := p.store.Upsert(ctx, messageID, address, eventTime, payload); err != nil {
		return err
	}

	evt := ridgeline.RawEvent{
		MessageID: messageID,
		EventType: address,
		EventTime: eventTime.UnixMilli(),
		Payload:   payload,
	}

	if err := p.dispatchWithRetry(ctx, address, evt); err != nil {
		return err
	}

	stream := p.streamFor(address)
	if stream == "" {
		return &ridgeline.ConfigError{Reason: "no stream mapped for address " + address}
	}
	if _, err := p.publisher.Publish(ctx, stream, messageID, address, string(payload), `{}`); err != nil {
		return err
	}

	if p.allowNoAckDebug {
		if p.logger != nil {
			p.logger.Debug("forcing redelivery, no-ack debug mode enabled", "address", address, "message_id", messageID)
		}
		return ridgeline.ErrRedeliveryForcing
	}
	return nil
}

func (p *Pipeline) dispatchWithRetry(ctx context.Context, address string, evt ridgeline.RawEvent) error {
	h := p.registry.GetHandler(address)

	attempts, delay := p.retry.snapshot()
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := int64(0); i < attempts; i++ {
		lastErr = h.Handle(ctx, evt)
		if lastErr == nil {
			return nil
		}
		if p.logger != nil {
			p.logger.Warn("handler dispatch failed", "address", address, "attempt", i+1, "error", lastErr)
		}
		if i < attempts-1 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}

// fallbackMessageID deterministically derives a message id from the
// address and payload bytes so that a redelivered message without a
// broker-assigned id collides with its earlier delivery.
func fallbackMessageID(address string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(address))
	h.Write(payload)
	return "SHA256:" + hex.EncodeToString(h.Sum(nil))
}
