// Package natsbroker adapts a NATS core pub/sub connection to the
// broker.Broker interface.
package natsbroker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Config mirrors the connection tuning knobs every NATS client in this
// codebase exposes.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// DefaultConfig returns reasonable defaults for a single-process demo.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    20 * time.Second,
	}
}

// Broker is a broker.Broker backed by a *nats.Conn.
type Broker struct {
	conn *nats.Conn

	mu        sync.RWMutex
	subs      map[string]*nats.Subscription
	onRestore func()
	onFailed  func(error)
}

// Connect dials NATS with config and returns a ready Broker. Connection
// lifecycle callbacks (disconnect/reconnect/error) feed
// OnConnectionRestored/OnConnectionFailed rather than logging directly, so
// the caller controls observability.
func Connect(config Config) (*Broker, error) {
	b := &Broker{subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.ReconnectJitter(config.ReconnectJitter, config.ReconnectJitter),
		nats.MaxPingsOutstanding(config.MaxPingsOut),
		nats.PingInterval(config.PingInterval),
		nats.ReconnectHandler(func(*nats.Conn) { b.fireRestored() }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.fireFailed(err)
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) { b.fireFailed(err) }),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbroker: connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *Broker) fireRestored() {
	b.mu.RLock()
	fn := b.onRestore
	b.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (b *Broker) fireFailed(err error) {
	b.mu.RLock()
	fn := b.onFailed
	b.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Subscribe registers handler on a NATS core subscription for channel.
func (b *Broker) Subscribe(_ context.Context, channel string, handler func([]byte)) error {
	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("natsbroker: subscribe %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[channel] = sub
	b.mu.Unlock()
	return nil
}

// Unsubscribe unsubscribes and removes the NATS subscription for channel.
func (b *Broker) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	if ok {
		delete(b.subs, channel)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("natsbroker: unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Publish sends payload as a core NATS message on channel.
func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	if err := b.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("natsbroker: publish %s: %w", channel, err)
	}
	return nil
}

func (b *Broker) OnConnectionRestored(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRestore = fn
}

func (b *Broker) OnConnectionFailed(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFailed = fn
}

// Close unsubscribes every remaining subscription and drains the
// connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return b.conn.Drain()
}
