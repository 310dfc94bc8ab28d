package tether

import (
	"context"
	"time"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// OrderingPolicy defines which events a subscription handles strictly in
// publish order.
type OrderingPolicy string

const (
	// OrderingNone lets any worker take any event.
	OrderingNone OrderingPolicy = ""
	// OrderingConversation pins every conversation to one worker, so events
	// from the same source conversation run one at a time in publish order.
	OrderingConversation OrderingPolicy = "conversation"
)

// SubscriptionSpec configures a single consumer subscription.
//
// Zero values fall back to kernel defaults.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
	Ordering       OrderingPolicy
}

// NewDefaultSubscriptionSpec returns a named spec that uses kernel defaults.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// NewOrderedSubscriptionSpec returns a named spec that keeps each
// conversation's events in publish order.
func NewOrderedSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name, Ordering: OrderingConversation}
}

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// EventBus is the asynchronous pub/sub contract used by the kernel.
type EventBus interface {
	EventSink
	// Subscribe registers a handler with bounded buffering semantics.
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
	// Close shuts down the bus and all active subscriptions.
	Close(ctx context.Context) error
}
