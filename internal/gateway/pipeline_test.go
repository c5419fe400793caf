package gateway

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/handler"
	"github.com/ridgeline-oss/ridgeline/pkg/rawstore"
	_ "modernc.org/sqlite"
)

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, streamName, messageID, eventType, payload, metadata string) (string, error) {
	f.published = append(f.published, messageID)
	return "1-0", nil
}

func openTestStore(t *testing.T) *rawstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/gw.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := rawstore.New(db, "sqlite", nil)
	if err != nil {
		t.Fatalf("rawstore.New: %v", err)
	}
	return store
}

func streamFor(address string) string {
	if address == "ADDR_ORDERS" {
		return "stream.orders"
	}
	return ""
}

func TestProcessMessageUsesBrokerMessageIDWhenPresent(t *testing.T) {
	store := openTestStore(t)
	reg, err := handler.New([]ridgeline.Handler{handler.Func(nil, 0, func(ctx context.Context, evt ridgeline.RawEvent) error { return nil })}, nil)
	if err != nil {
		t.Fatalf("handler.New: %v", err)
	}
	pub := &fakePublisher{}
	p := New(store, reg, pub, streamFor, NewRetryPolicy(3, 0), nil)

	if err := p.ProcessMessage(context.Background(), "ADDR_ORDERS", "broker-id-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != "broker-id-1" {
		t.Fatalf("expected publish with broker-id-1, got %v", pub.published)
	}

	rec, err := store.FindByID(context.Background(), "broker-id-1")
	if err != nil || rec == nil {
		t.Fatalf("expected raw event persisted, err=%v rec=%v", err, rec)
	}
}

func TestProcessMessageSynthesizesDeterministicFallbackID(t *testing.T) {
	store := openTestStore(t)
	reg, _ := handler.New([]ridgeline.Handler{handler.Func(nil, 0, func(ctx context.Context, evt ridgeline.RawEvent) error { return nil })}, nil)
	pub := &fakePublisher{}
	p := New(store, reg, pub, streamFor, NewRetryPolicy(3, 0), nil)

	payload := []byte(`{"a":1}`)
	if err := p.ProcessMessage(context.Background(), "ADDR_ORDERS", "", payload); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	sum := sha256.Sum256(append([]byte("ADDR_ORDERS"), payload...))
	want := "SHA256:" + hex.EncodeToString(sum[:])
	if len(pub.published) != 1 || pub.published[0] != want {
		t.Fatalf("expected deterministic fallback id %q, got %v", want, pub.published)
	}
}

func TestDispatchRetriesThenExhausts(t *testing.T) {
	store := openTestStore(t)
	attemptsSeen := 0
	reg, _ := handler.New([]ridgeline.Handler{handler.Func(nil, 0, func(ctx context.Context, evt ridgeline.RawEvent) error {
		attemptsSeen++
		return errors.New("boom")
	})}, nil)
	pub := &fakePublisher{}
	p := New(store, reg, pub, streamFor, NewRetryPolicy(3, 1), nil)

	err := p.ProcessMessage(context.Background(), "ADDR_ORDERS", "m1", []byte(`{}`))
	if err == nil {
		t.Fatal("expected handler exhaustion error")
	}
	if attemptsSeen != 3 {
		t.Errorf("expected 3 attempts, got %d", attemptsSeen)
	}
	if len(pub.published) != 0 {
		t.Error("expected no publish after handler exhaustion")
	}
}

func TestProcessMessageForcesRedeliveryWhenNoAckDebugEnabled(t *testing.T) {
	store := openTestStore(t)
	reg, _ := handler.New([]ridgeline.Handler{handler.Func(nil, 0, func(ctx context.Context, evt ridgeline.RawEvent) error { return nil })}, nil)
	pub := &fakePublisher{}
	p := New(store, reg, pub, streamFor, NewRetryPolicy(1, 0), nil)
	p.SetAllowNoAckDebug(true)

	err := p.ProcessMessage(context.Background(), "ADDR_ORDERS", "m1", []byte(`{"a":1}`))
	if !errors.Is(err, ridgeline.ErrRedeliveryForcing) {
		t.Fatalf("expected ErrRedeliveryForcing, got %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected message to still be published once, got %v", pub.published)
	}
	rec, err := store.FindByID(context.Background(), "m1")
	if err != nil || rec == nil {
		t.Fatalf("expected raw event persisted despite forced redelivery, err=%v rec=%v", err, rec)
	}
}

func TestProcessMessageUnmappedAddressIsConfigError(t *testing.T) {
	store := openTestStore(t)
	reg, _ := handler.New([]ridgeline.Handler{handler.Func(nil, 0, func(ctx context.Context, evt ridgeline.RawEvent) error { return nil })}, nil)
	pub := &fakePublisher{}
	p := New(store, reg, pub, streamFor, NewRetryPolicy(1, 0), nil)

	err := p.ProcessMessage(context.Background(), "ADDR_UNKNOWN", "m1", []byte(`{}`))
	if _, ok := err.(*ridgeline.ConfigError); !ok {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
}
