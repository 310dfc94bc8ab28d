package kernel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"tether/pkg/tether"
)

// EventBus fans events out to bounded per-subscription queues drained by
// worker goroutines.
type EventBus struct {
	defaults     busDefaults
	onAsyncError func(context.Context, string, error)

	nextID atomic.Int64

	mu            sync.RWMutex
	closed        bool
	subscriptions map[int64]*busSubscription
}

type busDefaults struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
}

// NewEventBus creates an event bus. Zero subscription fields fall back to the
// given defaults; onAsyncError receives drops and handler failures.
func NewEventBus(
	buffer int,
	workers int,
	handlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		defaults: busDefaults{
			buffer:         buffer,
			workers:        workers,
			handlerTimeout: handlerTimeout,
		},
		onAsyncError:  onAsyncError,
		subscriptions: make(map[int64]*busSubscription),
	}
}

// Publish validates event and enqueues it on every matching subscription.
//
// Drops and closed subscriptions are reported asynchronously; only blocking
// enqueue failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *tether.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.activeSubscriptions()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var failures []error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, tether.ErrEventDropped), errors.Is(err, tether.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(failures...))
	}

	return nil
}

// Subscribe starts a consumer for events matching interest.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest tether.InterestSet,
	spec tether.SubscriptionSpec,
	handler tether.EventHandler,
) (tether.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	id := b.nextID.Add(1)
	spec, err := b.resolveSpec(spec, id)
	if err != nil {
		return nil, err
	}
	sub := startSubscription(id, interest, spec, handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.stop()
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, tether.ErrSubscriptionClosed)
	}
	b.subscriptions[id] = sub

	return sub, nil
}

// Close stops every subscription and rejects later publishes and subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	clear(b.subscriptions)
	b.mu.Unlock()

	var closeErr error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if closeErr != nil {
		return fmt.Errorf("close event bus: %w", closeErr)
	}

	return nil
}

func (b *EventBus) activeSubscriptions() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, tether.ErrSubscriptionClosed
	}
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	return subs, nil
}

func (b *EventBus) resolveSpec(spec tether.SubscriptionSpec, id int64) (tether.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.handlerTimeout
	}
	switch spec.Backpressure {
	case "":
		spec.Backpressure = tether.BackpressureDropNewest
	case tether.BackpressureDropNewest, tether.BackpressureDropOldest, tether.BackpressureBlock:
	default:
		return spec, fmt.Errorf("subscribe %s: backpressure %q: %w", spec.Name, spec.Backpressure, tether.ErrInvalidSubscription)
	}
	switch spec.Ordering {
	case tether.OrderingNone, tether.OrderingConversation:
	default:
		return spec, fmt.Errorf("subscribe %s: ordering %q: %w", spec.Name, spec.Ordering, tether.ErrInvalidSubscription)
	}

	return spec, nil
}

func (b *EventBus) unsubscribe(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[id]
	delete(b.subscriptions, id)
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns its queues and workers. Unordered subscriptions share
// one queue between all workers; ordered ones give each worker its own lane.
// Workers exit on context cancellation; queue channels are never closed.
type busSubscription struct {
	id       int64
	interest tether.InterestSet
	spec     tether.SubscriptionSpec
	handler  tether.EventHandler
	bus      *EventBus

	queues   []chan *tether.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	stopOnce sync.Once
}

func startSubscription(
	id int64,
	interest tether.InterestSet,
	spec tether.SubscriptionSpec,
	handler tether.EventHandler,
	bus *EventBus,
) *busSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		id:       id,
		interest: cloneInterest(interest),
		spec:     spec,
		handler:  handler,
		bus:      bus,
		queues:   makeQueues(spec),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	var workers sync.WaitGroup
	for worker := range spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.work(worker)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

func makeQueues(spec tether.SubscriptionSpec) []chan *tether.Event {
	lanes := 1
	if spec.Ordering == tether.OrderingConversation && spec.Workers > 1 {
		lanes = spec.Workers
	}
	queues := make([]chan *tether.Event, lanes)
	for index := range queues {
		queues[index] = make(chan *tether.Event, spec.Buffer)
	}

	return queues
}

func cloneInterest(interest tether.InterestSet) tether.InterestSet {
	cloned := interest
	cloned.Kinds = append([]tether.EventKind(nil), interest.Kinds...)
	cloned.Sources = append([]tether.EventSource(nil), interest.Sources...)
	cloned.Commands = append([]string(nil), interest.Commands...)

	return cloned
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close removes the subscription from its bus and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *tether.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, tether.ErrSubscriptionClosed)
	}

	queue := s.lane(event)
	switch s.spec.Backpressure {
	case tether.BackpressureBlock:
		select {
		case queue <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, tether.ErrSubscriptionClosed)
		}
	case tether.BackpressureDropOldest:
		if tryEnqueue(queue, event) {
			return nil
		}
		select {
		case <-queue:
		default:
		}
	}

	if tryEnqueue(queue, event) {
		return nil
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, tether.ErrEventDropped)
}

// lane picks the queue for event. Ordered subscriptions hash the source
// conversation so one conversation always lands on the same worker.
func (s *busSubscription) lane(event *tether.Event) chan *tether.Event {
	return s.queues[laneIndex(event, len(s.queues))]
}

func laneIndex(event *tether.Event, lanes int) int {
	if lanes <= 1 {
		return 0
	}
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(event.Source.ID))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(event.Conversation.ID))

	return int(hash.Sum32() % uint32(lanes))
}

func tryEnqueue(queue chan *tether.Event, event *tether.Event) bool {
	select {
	case queue <- event:
		return true
	default:
		return false
	}
}

func (s *busSubscription) work(worker int) {
	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	queue := s.queues[worker%len(s.queues)]
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-queue:
			if err := s.handle(scope, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

func (s *busSubscription) handle(scope string, event *tether.Event) error {
	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s %s: %w", event.Kind, event.ID, err)
	}

	return nil
}

func (s *busSubscription) stop() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

func (s *busSubscription) shutdown(ctx context.Context) error {
	s.stop()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}

var _ tether.EventBus = (*EventBus)(nil)
