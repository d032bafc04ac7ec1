// Package brokertest provides an in-process Broker used by the lifetime
// manager's tests, and by multi-server scenario tests that need several
// "servers" to share one fabric without a live NATS/Redis instance.
package brokertest

import (
	"context"
	"sync"
)

// Fabric is a shared in-memory pub/sub bus. Multiple Broker handles backed
// by the same Fabric behave like multiple servers talking to one real
// broker.
type Fabric struct {
	mu       sync.RWMutex
	handlers map[string]map[*Broker]func([]byte)
}

// NewFabric returns an empty shared fabric.
func NewFabric() *Fabric {
	return &Fabric{handlers: make(map[string]map[*Broker]func([]byte))}
}

// Broker is one process's handle onto a shared Fabric.
type Broker struct {
	fabric *Fabric

	mu        sync.Mutex
	onRestore func()
	onFailed  func(error)
}

// NewBroker returns a Broker attached to fabric.
func NewBroker(fabric *Fabric) *Broker {
	return &Broker{fabric: fabric}
}

func (b *Broker) Subscribe(_ context.Context, channel string, handler func([]byte)) error {
	b.fabric.mu.Lock()
	defer b.fabric.mu.Unlock()
	if b.fabric.handlers[channel] == nil {
		b.fabric.handlers[channel] = make(map[*Broker]func([]byte))
	}
	b.fabric.handlers[channel][b] = handler
	return nil
}

func (b *Broker) Unsubscribe(_ context.Context, channel string) error {
	b.fabric.mu.Lock()
	defer b.fabric.mu.Unlock()
	if subs, ok := b.fabric.handlers[channel]; ok {
		delete(subs, b)
	}
	return nil
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.fabric.mu.RLock()
	subs := make([]func([]byte), 0, len(b.fabric.handlers[channel]))
	for _, h := range b.fabric.handlers[channel] {
		subs = append(subs, h)
	}
	b.fabric.mu.RUnlock()

	for _, h := range subs {
		h(payload)
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

func (b *Broker) Close() error {
	b.fabric.mu.Lock()
	defer b.fabric.mu.Unlock()
	for _, subs := range b.fabric.handlers {
		delete(subs, b)
	}
	return nil
}
