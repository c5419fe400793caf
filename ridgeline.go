// Package ridgeline declares the contracts shared by the gateway, stream
// processor, and query-metrics fleets: the logging interface, the handler
// interface and raw event envelope, and the error kinds every component is
// expected to raise.
package ridgeline

import (
	"context"
	"fmt"
)

// Logger is the structured logging contract used throughout the fleet.
// Implementations are expected to be safe for concurrent use.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RawEvent is the envelope persisted by the raw event store and carried
// through the gateway pipeline.
type RawEvent struct {
	MessageID   string
	EventType   string
	EventTime   int64 // unix millis
	Payload     []byte
	Checksum    string
	ProcessedAt int64
	CreatedAt   int64
}

// Handler processes one raw event dispatched by a HandlerRegistry. A Handler
// is expected to be stateless and idempotent; errors are retried by the
// gateway pipeline up to its configured attempt budget.
type Handler interface {
	// SupportedTypes returns the event types this handler claims. An empty
	// slice marks the handler as the catch-all default.
	SupportedTypes() []string
	// Priority breaks ties deterministically when two handlers claim the
	// same event type; higher wins. Declaration order is the fallback.
	Priority() int
	Handle(ctx context.Context, evt RawEvent) error
}

// TransientIOError signals a broker/bus/store connectivity blip. The gateway
// pipeline surfaces it to the transport so the message is redelivered; its
// local bounded retry covers handler dispatch only, and a failed stream
// publish is not retried locally.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io error during %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// ParseError signals a malformed payload or metadata. The record is logged
// at warn and dropped without acknowledgement.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error (%s): %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigError signals missing or contradictory configuration discovered at
// startup. Components that raise it must fail fast and never start.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// StoreError signals a database constraint violation other than the
// unique-on-message_id case, or a transaction failure. The caller rolls
// back and lets the transport redeliver.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrRedeliveryForcing is raised intentionally to keep a JMS-style message
// un-acknowledged. The fleet's error handler downgrades it to a debug log;
// it is gated behind an explicit development-only flag and is never thrown
// in production operation.
var ErrRedeliveryForcing = fmt.Errorf("redelivery forcing: development-only debug aid")

// ErrDedupSkip names the dedup-skip outcome, which is not a failure. The
// stream processor template does not return it: when a non-resend record
// with an already-present message_id is skipped, Process logs at debug
// level and returns nil.
var ErrDedupSkip = fmt.Errorf("dedup skip")
