// Package realtime carries preview pushes from editors to subscribed viewers.
package realtime

import "context"

// Subscription delivers push payloads for one token in publish order.
// C is closed after Close or when the underlying transport ends.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// Channel is a token-keyed publish/subscribe transport.
type Channel interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Subscribe(ctx context.Context, key string) (Subscription, error)
}
