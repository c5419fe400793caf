package streampublish

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ridgeline-oss/ridgeline"
)

func TestPublishWrapsConnectivityFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	p := New(client)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := p.Publish(ctx, "stream.orders", "m1", "ADDR_X", `{"a":1}`, `{}`)
	if err == nil {
		t.Fatal("expected error against an unreachable bus")
	}
	if _, ok := err.(*ridgeline.TransientIOError); !ok {
		t.Errorf("expected *ridgeline.TransientIOError, got %T: %v", err, err)
	}
}
