package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"tether/pkg/tether"

	"github.com/openai/openai-go/v3/responses"
)

const (
	eventOutputTextDelta = "response.output_text.delta"
	eventCompleted       = "response.completed"
	eventIncomplete      = "response.incomplete"
	eventFailed          = "response.failed"
	eventError           = "error"
)

type responseStream interface {
	Next() bool
	Current() responses.ResponseStreamEventUnion
	Err() error
	Close() error
}

type stream struct {
	mu       sync.Mutex
	source   responseStream
	finished bool
}

func newStream(source responseStream) *stream {
	return &stream{source: source}
}

// Recv skips events that carry no output text.
func (s *stream) Recv(ctx context.Context) (tether.LLMGenerateChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return tether.LLMGenerateChunk{}, fmt.Errorf("openai stream recv: %w", err)
		}

		event, err := s.next(ctx)
		if err != nil {
			return tether.LLMGenerateChunk{}, err
		}
		chunk, done, err := mapStreamEvent(event)
		if err != nil {
			return tether.LLMGenerateChunk{}, err
		}
		if done {
			s.finish()
			return tether.LLMGenerateChunk{}, io.EOF
		}
		if chunk.Delta != "" {
			return chunk, nil
		}
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	source := s.source
	s.source = nil
	s.finished = true
	s.mu.Unlock()

	if source == nil {
		return nil
	}
	if err := source.Close(); err != nil {
		return fmt.Errorf("openai stream close: %w", err)
	}

	return nil
}

func (s *stream) next(ctx context.Context) (responses.ResponseStreamEventUnion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.source == nil {
		return responses.ResponseStreamEventUnion{}, io.EOF
	}
	if !s.source.Next() {
		s.finished = true
		err := s.source.Err()
		switch {
		case err == nil:
			return responses.ResponseStreamEventUnion{}, io.EOF
		case ctx.Err() != nil:
			return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream context: %w", ctx.Err())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream canceled: %w", err)
		default:
			return responses.ResponseStreamEventUnion{}, fmt.Errorf("openai stream next: %w", err)
		}
	}

	return s.source.Current(), nil
}

func (s *stream) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func mapStreamEvent(event responses.ResponseStreamEventUnion) (tether.LLMGenerateChunk, bool, error) {
	eventType := strings.TrimSpace(event.Type)

	switch eventType {
	case "":
		return tether.LLMGenerateChunk{}, false, fmt.Errorf("openai stream parse event: missing type")
	case eventOutputTextDelta:
		if !event.JSON.Delta.Valid() {
			return tether.LLMGenerateChunk{}, false, parseError(eventType, "missing delta")
		}
		return tether.LLMGenerateChunk{Delta: event.Delta}, false, nil
	case eventCompleted, eventIncomplete:
		return tether.LLMGenerateChunk{}, true, nil
	case eventFailed:
		status := strings.TrimSpace(string(event.Response.Status))
		if status == "" {
			status = "unknown"
		}
		return tether.LLMGenerateChunk{}, false, fmt.Errorf("openai stream response failed: status=%s", status)
	case eventError:
		message := strings.TrimSpace(event.Message)
		if message == "" {
			return tether.LLMGenerateChunk{}, false, parseError(eventType, "empty message")
		}
		if code := strings.TrimSpace(event.Code); code != "" {
			return tether.LLMGenerateChunk{}, false, fmt.Errorf("openai stream error %s: %s", code, message)
		}
		return tether.LLMGenerateChunk{}, false, fmt.Errorf("openai stream error: %s", message)
	default:
		return tether.LLMGenerateChunk{}, false, nil
	}
}

func parseError(eventType, reason string) error {
	return fmt.Errorf("openai stream parse event %s: %s", eventType, reason)
}

var _ tether.LLMStream = (*stream)(nil)
