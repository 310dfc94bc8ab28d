package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tether/pkg/tether"
)

// moduleRecord tracks what the kernel owns on behalf of one module.
type moduleRecord struct {
	name         string
	module       tether.Module
	capabilities []tether.Capability

	subMu         sync.Mutex
	subscriptions []tether.Subscription
}

func (m *moduleRecord) addSubscription(subscription tether.Subscription) {
	m.subMu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.subMu.Unlock()
}

// closeSubscriptions is idempotent: the tracked list is cleared first.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the tether.ModuleRuntime handed to one module.
type moduleRuntime struct {
	moduleName  string
	services    tether.ServiceRegistry
	bus         tether.EventBus
	record      *moduleRecord
	defaultSink *tether.SinkRef
}

// Services returns the registry, with the outbound dispatcher bound to the
// module's default sink.
func (r *moduleRuntime) Services() tether.ServiceRegistry {
	return moduleServiceRegistry{base: r.services, defaultSink: cloneSinkRef(r.defaultSink)}
}

// Subscribe registers a module-owned subscription covered by one of the
// module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest tether.InterestSet,
	spec tether.SubscriptionSpec,
	handler tether.EventHandler,
) (tether.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

func assertSubscriptionAllowed(capabilities []tether.Capability, interest tether.InterestSet) error {
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("%w: interest not covered by declared capabilities", tether.ErrInvalidSubscription)
}

type moduleServiceRegistry struct {
	base        tether.ServiceRegistry
	defaultSink *tether.SinkRef
}

func (r moduleServiceRegistry) Register(name string, service any) error {
	return r.base.Register(name, service)
}

func (r moduleServiceRegistry) Resolve(name string) (any, error) {
	service, err := r.base.Resolve(name)
	if err != nil || name != tether.ServiceOutboundDispatcher || r.defaultSink == nil {
		return service, err
	}
	dispatcher, ok := service.(tether.OutboundDispatcher)
	if !ok {
		return nil, fmt.Errorf("resolve service %s: %T: %w", name, service, tether.ErrServiceTypeMismatch)
	}

	return sinkDefaultingDispatcher{base: dispatcher, sink: r.defaultSink}, nil
}

// sinkDefaultingDispatcher fills in a sink for targets that name none.
type sinkDefaultingDispatcher struct {
	base tether.OutboundDispatcher
	sink *tether.SinkRef
}

func (d sinkDefaultingDispatcher) SendMessage(ctx context.Context, request tether.SendMessageRequest) (*tether.OutboundMessage, error) {
	request.Target = withDefaultSink(request.Target, d.sink)
	return d.base.SendMessage(ctx, request)
}

func (d sinkDefaultingDispatcher) EditMessage(ctx context.Context, request tether.EditMessageRequest) error {
	request.Target = withDefaultSink(request.Target, d.sink)
	return d.base.EditMessage(ctx, request)
}

func (d sinkDefaultingDispatcher) DeleteMessage(ctx context.Context, request tether.DeleteMessageRequest) error {
	request.Target = withDefaultSink(request.Target, d.sink)
	return d.base.DeleteMessage(ctx, request)
}

func (d sinkDefaultingDispatcher) AnswerInteraction(ctx context.Context, request tether.AnswerInteractionRequest) error {
	request.Target = withDefaultSink(request.Target, d.sink)
	return d.base.AnswerInteraction(ctx, request)
}

func withDefaultSink(target tether.OutboundTarget, sink *tether.SinkRef) tether.OutboundTarget {
	if target.Sink == nil && sink != nil {
		target.Sink = cloneSinkRef(sink)
	}

	return target
}

func cloneSinkRef(sink *tether.SinkRef) *tether.SinkRef {
	if sink == nil {
		return nil
	}
	cloned := *sink

	return &cloned
}

var (
	_ tether.ModuleRuntime      = (*moduleRuntime)(nil)
	_ tether.OutboundDispatcher = sinkDefaultingDispatcher{}
)
