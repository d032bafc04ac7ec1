// Package redisbroker adapts a Redis pub/sub connection to the
// broker.Broker interface. Unlike a Redis Streams consumer group, which
// assumes one durable stream shared by a fixed set of consumers, the
// lifetime manager subscribes and unsubscribes many independently named
// channels as connections and groups come and go, so this adapter is built
// on plain PUBLISH/SUBSCRIBE against a single shared *redis.PubSub.
package redisbroker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Broker is a broker.Broker backed by one redis.UniversalClient connection
// and one multiplexed *redis.PubSub.
type Broker struct {
	client redis.UniversalClient
	pubsub *redis.PubSub

	mu        sync.RWMutex
	handlers  map[string]func([]byte)
	onRestore func()
	onFailed  func(error)
	failed    bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Connect opens a pub/sub connection against client and starts the
// dispatch loop. The returned Broker owns no channel subscriptions until
// Subscribe is called.
func Connect(client redis.UniversalClient) (*Broker, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redisbroker: ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	b := &Broker{
		client:   client,
		pubsub:   client.Subscribe(ctx), // no channels yet
		handlers: make(map[string]func([]byte)),
		group:    group,
		cancel:   cancel,
	}

	group.Go(func() error {
		return b.dispatchLoop(groupCtx)
	})

	return b, nil
}

func (b *Broker) dispatchLoop(ctx context.Context) error {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.mu.RLock()
			handler := b.handlers[msg.Channel]
			b.mu.RUnlock()
			if handler != nil {
				handler([]byte(msg.Payload))
			}
		}
	}
}

// Subscribe registers handler for channel.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		b.fireFailed(err)
		return fmt.Errorf("redisbroker: subscribe %s: %w", channel, err)
	}
	b.fireRestored()
	b.mu.Lock()
	b.handlers[channel] = handler
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes the handler for channel.
func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	delete(b.handlers, channel)
	b.mu.Unlock()

	if err := b.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("redisbroker: unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Publish sends payload to channel via PUBLISH.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.fireFailed(err)
		return fmt.Errorf("redisbroker: publish %s: %w", channel, err)
	}
	b.fireRestored()
	return nil
}

func (b *Broker) fireFailed(err error) {
	b.mu.Lock()
	b.failed = true
	fn := b.onFailed
	b.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// fireRestored calls onRestore the first time a Publish or Subscribe call
// succeeds after a prior one recorded a failure via fireFailed.
func (b *Broker) fireRestored() {
	b.mu.Lock()
	if !b.failed {
		b.mu.Unlock()
		return
	}
	b.failed = false
	fn := b.onRestore
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnConnectionRestored registers fn. go-redis reconnects transparently
// per-command, so this fires once after any Publish/Subscribe call
// succeeds having previously failed; callers that need finer-grained
// connection tracking should watch client pool stats directly.
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

// Close stops the dispatch loop and closes the underlying pub/sub
// connection.
func (b *Broker) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	_ = b.group.Wait()
	if err != nil {
		return fmt.Errorf("redisbroker: close: %w", err)
	}
	return nil
}
