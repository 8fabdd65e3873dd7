// Package eventbus defines pub/sub interfaces for order transition events.
package eventbus

import (
	"context"

	"github.com/solroute/solroute/internal/schema"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus delivers transition events to subscribers keyed by order id.
type Bus interface {
	Publish(ctx context.Context, evt *schema.TransitionEvent) error
	Subscribe(ctx context.Context, orderID string) (SubscriptionID, <-chan *schema.TransitionEvent, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize    int
	FanoutWorkers int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}
