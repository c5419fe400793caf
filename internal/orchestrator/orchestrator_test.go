package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

type capturingProcessor struct {
	streamKey     string
	consumerGroup string
	gotFields     map[string]string
	err           error
}

func (p *capturingProcessor) StreamKey() string     { return p.streamKey }
func (p *capturingProcessor) ConsumerGroup() string { return p.consumerGroup }
func (p *capturingProcessor) Process(ctx context.Context, fields map[string]string) error {
	p.gotFields = fields
	return p.err
}

func TestHandleOneStripsWireQuoteWrappingBeforeDispatch(t *testing.T) {
	proc := &capturingProcessor{streamKey: "s", consumerGroup: "g", err: errors.New("leave in PEL")}
	o := New(nil, "consumer-1", nil)

	msg := redis.XMessage{
		ID: "1-0",
		Values: map[string]interface{}{
			"message_id": `"k1"`,
			"event_type": `"ORDER_CREATED"`,
			"payload":    `{"a":1}`,
			"metadata":   `"{}"`,
		},
	}

	o.handleOne(context.Background(), proc, msg)

	if proc.gotFields["message_id"] != "k1" {
		t.Errorf("expected unwrapped message_id k1, got %q", proc.gotFields["message_id"])
	}
	if proc.gotFields["event_type"] != "ORDER_CREATED" {
		t.Errorf("expected unwrapped event_type, got %q", proc.gotFields["event_type"])
	}
	if proc.gotFields["payload"] != `{"a":1}` {
		t.Errorf("expected JSON object payload passed through unwrapped, got %q", proc.gotFields["payload"])
	}
}

func TestHandleOneFailureDoesNotPanicWithoutAcking(t *testing.T) {
	proc := &capturingProcessor{streamKey: "s", consumerGroup: "g", err: errors.New("boom")}
	o := New(nil, "consumer-1", nil)

	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{"message_id": `"k1"`}}

	// A failing Process must return before touching o.client (nil here),
	// so this call must not panic.
	o.handleOne(context.Background(), proc, msg)
}
