// Package broker defines the pub/sub fabric the lifetime manager is built
// on top of. The broker implementation itself -- transport, persistence,
// retry policy -- is an external collaborator; the manager only ever sees
// this interface.
package broker

import "context"

// Broker is a publish/subscribe fabric providing at-least-once delivery to
// currently subscribed consumers and sticky subscriptions across transient
// disconnects. Messages on channels this process has never subscribed to
// are never delivered to it.
type Broker interface {
	// Subscribe registers handler for channel. Re-subscription on
	// reconnect is the broker client's responsibility.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) error

	// Unsubscribe removes any handler registered for channel.
	Unsubscribe(ctx context.Context, channel string) error

	// Publish delivers payload to every process currently subscribed to
	// channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// OnConnectionRestored registers a callback invoked when a dropped
	// broker connection is re-established.
	OnConnectionRestored(func())

	// OnConnectionFailed registers a callback invoked when the broker
	// connection is lost.
	OnConnectionFailed(func(error))

	// Close releases broker resources.
	Close() error
}
