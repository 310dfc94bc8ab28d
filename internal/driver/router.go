package driver

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"tether/pkg/tether"
)

type sinkRoute struct {
	ref        tether.SinkRef
	dispatcher tether.OutboundDispatcher
}

// Router sends outbound operations to the driver instance named by the
// request target.
//
// A target without a sink is routed to the only configured sink, if there is
// exactly one.
type Router struct {
	byID       map[string]sinkRoute
	byPlatform map[tether.Platform][]string
}

// NewRouter creates a router over every runtime that has a dispatcher.
func NewRouter(runtimes []Runtime) (*Router, error) {
	byID := make(map[string]sinkRoute)
	byPlatform := make(map[tether.Platform][]string)
	for _, runtime := range runtimes {
		if runtime.Dispatcher == nil {
			continue
		}
		if runtime.Source.ID == "" {
			return nil, fmt.Errorf("new router: missing sink id")
		}
		if _, exists := byID[runtime.Source.ID]; exists {
			return nil, fmt.Errorf("new router: duplicate sink id %s", runtime.Source.ID)
		}

		ref := tether.SinkRef{Platform: runtime.Source.Platform, ID: runtime.Source.ID}
		byID[ref.ID] = sinkRoute{ref: ref, dispatcher: runtime.Dispatcher}
		byPlatform[ref.Platform] = append(byPlatform[ref.Platform], ref.ID)
	}

	return &Router{byID: byID, byPlatform: byPlatform}, nil
}

// SendMessage routes send-message requests to one concrete sink.
func (r *Router) SendMessage(ctx context.Context, request tether.SendMessageRequest) (*tether.OutboundMessage, error) {
	dispatcher, err := r.resolve(request.Target)
	if err != nil {
		return nil, fmt.Errorf("resolve sink for send message: %w", err)
	}

	sent, err := dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return sent, nil
}

// EditMessage routes edit-message requests to one concrete sink.
func (r *Router) EditMessage(ctx context.Context, request tether.EditMessageRequest) error {
	dispatcher, err := r.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("resolve sink for edit message: %w", err)
	}
	if err := dispatcher.EditMessage(ctx, request); err != nil {
		return fmt.Errorf("route edit message: %w", err)
	}

	return nil
}

// DeleteMessage routes delete-message requests to one concrete sink.
func (r *Router) DeleteMessage(ctx context.Context, request tether.DeleteMessageRequest) error {
	dispatcher, err := r.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("resolve sink for delete message: %w", err)
	}
	if err := dispatcher.DeleteMessage(ctx, request); err != nil {
		return fmt.Errorf("route delete message: %w", err)
	}

	return nil
}

// AnswerInteraction routes interaction answers to one concrete sink.
func (r *Router) AnswerInteraction(ctx context.Context, request tether.AnswerInteractionRequest) error {
	dispatcher, err := r.resolve(request.Target)
	if err != nil {
		return fmt.Errorf("resolve sink for answer interaction: %w", err)
	}
	if err := dispatcher.AnswerInteraction(ctx, request); err != nil {
		return fmt.Errorf("route answer interaction: %w", err)
	}

	return nil
}

// Sinks lists configured sinks sorted by ID.
func (r *Router) Sinks() []tether.SinkRef {
	sinks := make([]tether.SinkRef, 0, len(r.byID))
	for _, route := range r.byID {
		sinks = append(sinks, route.ref)
	}
	slices.SortFunc(sinks, func(a, b tether.SinkRef) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return sinks
}

func (r *Router) resolve(target tether.OutboundTarget) (tether.OutboundDispatcher, error) {
	if r == nil {
		return nil, fmt.Errorf("nil router")
	}
	if len(r.byID) == 0 {
		return nil, fmt.Errorf("%w: no sinks configured", tether.ErrOutboundUnsupported)
	}
	if target.Sink != nil {
		return r.resolveSinkRef(*target.Sink)
	}
	if len(r.byID) == 1 {
		for _, route := range r.byID {
			return route.dispatcher, nil
		}
	}

	return nil, fmt.Errorf("%w: missing target sink", tether.ErrOutboundUnsupported)
}

func (r *Router) resolveSinkRef(ref tether.SinkRef) (tether.OutboundDispatcher, error) {
	if ref.ID != "" {
		route, exists := r.byID[ref.ID]
		if !exists {
			return nil, fmt.Errorf("%w: sink %s not found", tether.ErrOutboundUnsupported, ref.ID)
		}
		if ref.Platform != "" && route.ref.Platform != ref.Platform {
			return nil, fmt.Errorf("%w: sink %s platform mismatch: expected %s got %s",
				tether.ErrOutboundUnsupported, ref.ID, ref.Platform, route.ref.Platform)
		}

		return route.dispatcher, nil
	}

	ids := r.byPlatform[ref.Platform]
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: no sink for platform %q", tether.ErrOutboundUnsupported, ref.Platform)
	case 1:
		return r.byID[ids[0]].dispatcher, nil
	default:
		return nil, fmt.Errorf("%w: ambiguous sink for platform %s", tether.ErrOutboundUnsupported, ref.Platform)
	}
}

var _ tether.OutboundDispatcher = (*Router)(nil)
