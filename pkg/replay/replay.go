// Package replay implements ReplayController: re-enqueues raw events
// already persisted in RawEventStore onto the stream bus, either
// preserving their original message_id (downstream treats it as a
// duplicate unless metadata.resend is set) or synthesizing a fresh one.
//
// Grounded on pkg/eventstore's Search/FindByID for selection and
// pkg/source/redis's publish idiom (here reused via pkg/streampublish).
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/rawstore"
)

// Publisher is the subset of pkg/streampublish.Publisher the controller
// needs; declared locally so tests can substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, streamName, messageID, eventType, payload, metadata string) (string, error)
}

// StreamMapper resolves the stream name a given event_type publishes to.
// It mirrors the gateway's address -> stream_name configuration.
type StreamMapper func(eventType string) string

// Controller is the ReplayController (RC).
type Controller struct {
	store     *rawstore.Store
	publisher Publisher
	streamFor StreamMapper
}

// New builds a Controller over store, publishing through publisher and
// resolving stream names with streamFor.
func New(store *rawstore.Store, publisher Publisher, streamFor StreamMapper) *Controller {
	return &Controller{store: store, publisher: publisher, streamFor: streamFor}
}

// ResendByIds re-enqueues the raw events named by ids. Missing ids are
// skipped without error. Returns the count actually republished.
func (c *Controller) ResendByIds(ctx context.Context, ids []string, forceNewMessageID bool) (int, error) {
	count := 0
	for _, id := range ids {
		rec, err := c.store.FindByID(ctx, id)
		if err != nil {
			return count, err
		}
		if rec == nil {
			continue
		}
		if err := c.resendOne(ctx, *rec, forceNewMessageID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ResendByFilter re-enqueues every raw event matching filter, capped by
// rawstore's own page-size bound per Search call.
func (c *Controller) ResendByFilter(ctx context.Context, filter rawstore.Filter, forceNewMessageID bool) (int, error) {
	recs, err := c.store.Search(ctx, filter, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, rec := range recs {
		if err := c.resendOne(ctx, rec, forceNewMessageID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (c *Controller) resendOne(ctx context.Context, rec rawstore.Record, forceNewMessageID bool) error {
	stream := c.streamFor(rec.EventType)
	if stream == "" {
		return &ridgeline.ConfigError{Reason: fmt.Sprintf("no stream mapped for event_type %q", rec.EventType)}
	}

	messageID := rec.MessageID
	metadata := `{}`
	if forceNewMessageID {
		messageID = newReplayMessageID()
	} else {
		metadata = `{"resend":true}`
	}

	_, err := c.publisher.Publish(ctx, stream, messageID, rec.EventType, string(rec.Payload), metadata)
	return err
}

// newReplayMessageID synthesizes a deterministic-shaped but unique id: a
// fixed prefix, the current timestamp, and a random nonce, so downstream
// dedup treats the republished record as genuinely new.
func newReplayMessageID() string {
	return fmt.Sprintf("REPLAY:%d:%s", time.Now().UTC().UnixNano(), uuid.NewString())
}
