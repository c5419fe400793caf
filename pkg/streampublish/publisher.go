// Package streampublish implements StreamPublisher: a single
// at-most-one-network-write publish of a structured record onto a named
// stream on the bus, wire-encoded for the orchestrator to reverse.
//
// Grounded on pkg/source/redis's use of github.com/redis/go-redis/v9 for
// real stream operations (as opposed to pkg/sink/redis, which in the
// teacher repo is an unfinished stub with its XAdd call commented out).
package streampublish

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/wire"
)

// Publisher is the StreamPublisher (SP).
type Publisher struct {
	client *redis.Client
}

// New wraps an existing go-redis client. The caller owns the client's
// lifecycle.
func New(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish writes one record to streamName and returns the bus-assigned
// entry id. There is no retry inside Publish; the caller decides whether
// to retry a TransientIOError.
func (p *Publisher) Publish(ctx context.Context, streamName, messageID, eventType, payload, metadata string) (string, error) {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: wire.EncodeRecord(messageID, eventType, payload, metadata),
	}).Result()
	if err != nil {
		return "", &ridgeline.TransientIOError{Op: "stream_publish", Err: err}
	}
	return id, nil
}
