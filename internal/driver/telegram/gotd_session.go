package telegram

import (
	"context"
	"fmt"
)

// GotdSessionClient abstracts one connected gotd session.
type GotdSessionClient interface {
	// Run starts the session and executes fn within the connected lifecycle.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdRawUpdateStream provides raw gotd updates from an active session.
type GotdRawUpdateStream interface {
	// Updates returns a channel of raw gotd updates bound to ctx lifetime.
	Updates(ctx context.Context) (<-chan any, error)
}

// GotdUpdateMapper maps raw gotd updates into adapter Update DTOs.
type GotdUpdateMapper interface {
	// Map converts a raw update into adapter DTO form.
	// The accepted flag allows skipping unsupported update classes.
	Map(ctx context.Context, raw any) (Update, bool, error)
}

// GotdSessionSource wires a gotd bot or user session into UpdateSource.
type GotdSessionSource struct {
	client GotdSessionClient
	stream GotdRawUpdateStream
	mapper GotdUpdateMapper
}

// NewGotdSessionSource creates a source backed by a gotd session.
func NewGotdSessionSource(
	client GotdSessionClient,
	stream GotdRawUpdateStream,
	mapper GotdUpdateMapper,
) (*GotdSessionSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new gotd session source: nil client")
	}
	if stream == nil {
		return nil, fmt.Errorf("new gotd session source: nil stream")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new gotd session source: nil mapper")
	}

	return &GotdSessionSource{
		client: client,
		stream: stream,
		mapper: mapper,
	}, nil
}

// Consume runs a gotd session and forwards mapped updates to the handler.
// Handler errors end the session.
func (s *GotdSessionSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		updates, err := s.stream.Updates(runCtx)
		if err != nil {
			return fmt.Errorf("get gotd updates stream: %w", err)
		}

		for {
			select {
			case <-runCtx.Done():
				return nil
			case rawUpdate, ok := <-updates:
				if !ok {
					return nil
				}

				mapped, accepted, mapErr := s.mapUpdateSafely(runCtx, rawUpdate)
				if mapErr != nil {
					return fmt.Errorf("map gotd update: %w", mapErr)
				}
				if !accepted {
					continue
				}
				if err := handler(runCtx, mapped); err != nil {
					return fmt.Errorf("consume gotd update %s: %w", mapped.Type, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd updates: %w", err)
	}

	return nil
}

// mapUpdateSafely isolates mapper panics so a bad mapping path cannot crash the process.
func (s *GotdSessionSource) mapUpdateSafely(ctx context.Context, rawUpdate any) (mapped Update, accepted bool, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("map gotd update panic: %v", recovered)
	}()

	mapped, accepted, err = s.mapper.Map(ctx, rawUpdate)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}

	return mapped, accepted, nil
}
