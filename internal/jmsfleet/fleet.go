// Package jmsfleet implements JmsListenerFleet: one consumer per
// configured broker address, in either durable-multicast (a fully
// qualified queue name bound off a topic exchange) or anycast (a plain
// durable queue) mode, with exponential-backoff reconnection and
// start/stop/reconfigure lifecycle control.
//
// The example corpus has no JMS client; this models the JMS dual-mode
// contract (FQQN durable-multicast vs. anycast, transactional session
// semantics) over github.com/rabbitmq/amqp091-go, grounded on
// pkg/source/rabbitmq/rabbitmq_queue.go's connect/declare/consume/ack
// idiom and its mutex-guarded reconnect-on-error loop.
package jmsfleet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ridgeline-oss/ridgeline"
)

// AddressConfig describes one JMS address to consume. A non-empty
// SubscriberName selects durable-multicast (FQQN); empty selects anycast.
type AddressConfig struct {
	Address        string
	SubscriberName string
}

// fqqn returns the destination name per the dual-mode contract.
func (c AddressConfig) fqqn() string {
	if c.SubscriberName == "" {
		return c.Address
	}
	return c.Address + "::" + c.SubscriberName + "." + c.Address
}

func (c AddressConfig) mode() string {
	if c.SubscriberName == "" {
		return "anycast"
	}
	return "durable-multicast"
}

// Backoff parameterizes the reconnection schedule. Attempts of 0 means
// unbounded retry, the default.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Attempts   int
}

func (b Backoff) delayFor(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d > b.Max {
			return b.Max
		}
	}
	return d
}

// MessageHandler processes one delivered message. A non-nil error means
// the fleet must not acknowledge — the broker redelivers it.
type MessageHandler func(ctx context.Context, address string, brokerMessageID string, payload []byte) error

// Status reports one address's listener state.
type Status struct {
	Mode      string
	Running   bool
	InFlight  int64
	LastError string
}

type listener struct {
	cfg     AddressConfig
	running atomic.Bool
	inFlight atomic.Int64

	mu      sync.Mutex
	lastErr error

	cancel context.CancelFunc
	done   chan struct{}
}

// Fleet is the JmsListenerFleet (JLF).
type Fleet struct {
	url     string
	backoff Backoff
	handler MessageHandler
	logger  ridgeline.Logger

	mu        sync.Mutex
	addresses []AddressConfig
	listeners map[string]*listener
}

// New builds a Fleet. Call StartAll to bind consumers.
func New(url string, addresses []AddressConfig, backoff Backoff, handler MessageHandler, logger ridgeline.Logger) *Fleet {
	return &Fleet{
		url:       url,
		addresses: addresses,
		backoff:   backoff,
		handler:   handler,
		logger:    logger,
		listeners: make(map[string]*listener),
	}
}

// StartAll binds one consumer per configured address and returns once
// every listener goroutine has been launched. Connectivity failures do
// not fail StartAll; each listener retries with backoff in the
// background.
func (f *Fleet) StartAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasPrefix(f.url, "amqp://") && !strings.HasPrefix(f.url, "amqps://") {
		return &ridgeline.ConfigError{Reason: "jms fleet url must start with amqp:// or amqps://"}
	}

	for _, cfg := range f.addresses {
		l := &listener{cfg: cfg, done: make(chan struct{})}
		runCtx, cancel := context.WithCancel(ctx)
		l.cancel = cancel
		f.listeners[cfg.Address] = l
		go f.run(runCtx, l)
	}
	return nil
}

// StopAll cancels every listener, waiting up to grace for them to
// quiesce before returning.
func (f *Fleet) StopAll(grace time.Duration) {
	f.mu.Lock()
	listeners := make([]*listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.listeners = make(map[string]*listener)
	f.mu.Unlock()

	for _, l := range listeners {
		l.cancel()
	}

	deadline := time.After(grace)
	for _, l := range listeners {
		select {
		case <-l.done:
		case <-deadline:
		}
	}
}

// Reconfigure atomically stops the fleet, applies the new address set,
// and starts it again. If the restart fails, the previous configuration
// is restored and the error is returned.
func (f *Fleet) Reconfigure(ctx context.Context, addresses []AddressConfig, grace time.Duration) error {
	f.mu.Lock()
	previous := f.addresses
	f.mu.Unlock()

	f.StopAll(grace)

	f.mu.Lock()
	f.addresses = addresses
	f.mu.Unlock()

	if err := f.StartAll(ctx); err != nil {
		f.StopAll(grace)
		f.mu.Lock()
		f.addresses = previous
		f.mu.Unlock()
		if startErr := f.StartAll(ctx); startErr != nil && f.logger != nil {
			f.logger.Error("failed to restore previous jms fleet configuration", "error", startErr)
		}
		return err
	}
	return nil
}

// Status reports per-address listener state.
func (f *Fleet) Status() map[string]Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]Status, len(f.listeners))
	for addr, l := range f.listeners {
		l.mu.Lock()
		lastErr := ""
		if l.lastErr != nil {
			lastErr = l.lastErr.Error()
		}
		l.mu.Unlock()
		out[addr] = Status{
			Mode:      l.cfg.mode(),
			Running:   l.running.Load(),
			InFlight:  l.inFlight.Load(),
			LastError: lastErr,
		}
	}
	return out
}

func (f *Fleet) run(ctx context.Context, l *listener) {
	defer close(l.done)
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := f.consumeOnce(ctx, l)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.mu.Lock()
			l.lastErr = err
			l.mu.Unlock()
			l.running.Store(false)
			if f.logger != nil {
				f.logger.Warn("jms listener disconnected, backing off", "address", l.cfg.Address, "error", err)
			}
			if f.backoff.Attempts > 0 && attempt >= f.backoff.Attempts {
				if f.logger != nil {
					f.logger.Error("jms listener exhausted reconnect attempts", "address", l.cfg.Address)
				}
				return
			}
			delay := f.backoff.delayFor(attempt)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
	}
}

// consumeOnce connects, declares the destination for the listener's mode,
// and consumes until the connection drops or ctx is cancelled.
func (f *Fleet) consumeOnce(ctx context.Context, l *listener) error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	defer ch.Close()

	queueName, err := declareDestination(ch, l.cfg)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	l.running.Store(true)
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			l.running.Store(false)
			return nil
		case cerr := <-closeCh:
			l.running.Store(false)
			if cerr != nil {
				return fmt.Errorf("connection closed: %w", cerr)
			}
			return fmt.Errorf("connection closed")
		case d, ok := <-msgs:
			if !ok {
				l.running.Store(false)
				return fmt.Errorf("channel closed")
			}
			f.handleDelivery(ctx, l, d)
		}
	}
}

// declareDestination declares the exchange/queue topology for the
// listener's mode and returns the queue name to consume from.
func declareDestination(ch *amqp.Channel, cfg AddressConfig) (string, error) {
	if cfg.SubscriberName == "" {
		// anycast: a single durable queue named after the address.
		q, err := ch.QueueDeclare(cfg.Address, true, false, false, false, nil)
		if err != nil {
			return "", fmt.Errorf("declare anycast queue: %w", err)
		}
		return q.Name, nil
	}

	// durable-multicast: a topic exchange named after the address, with a
	// durable queue named by the fully qualified queue name bound to it.
	if err := ch.ExchangeDeclare(cfg.Address, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare multicast exchange: %w", err)
	}
	queueName := cfg.fqqn()
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare multicast queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.Address, cfg.Address, false, nil); err != nil {
		return "", fmt.Errorf("bind multicast queue: %w", err)
	}
	return q.Name, nil
}

func (f *Fleet) handleDelivery(ctx context.Context, l *listener, d amqp.Delivery) {
	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	err := f.handler(ctx, l.cfg.Address, d.MessageId, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil && f.logger != nil {
			f.logger.Error("ack failed", "address", l.cfg.Address, "error", ackErr)
		}
		return
	}

	if errors.Is(err, ridgeline.ErrRedeliveryForcing) {
		if f.logger != nil {
			f.logger.Debug("redelivery forced", "address", l.cfg.Address)
		}
	} else if f.logger != nil {
		f.logger.Warn("message processing failed, rolling back", "address", l.cfg.Address, "error", err)
	}

	if nackErr := d.Nack(false, true); nackErr != nil && f.logger != nil {
		f.logger.Error("nack failed", "address", l.cfg.Address, "error", nackErr)
	}
}
