package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"tether/pkg/tether"

	"google.golang.org/genai"
)

type stream struct {
	mu       sync.Mutex
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	finished bool
}

func newStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	next, stop := iter.Pull2(seq)

	return &stream{next: next, stop: stop}
}

// Recv returns the visible text of one response. Thought parts are dropped.
func (s *stream) Recv(ctx context.Context) (tether.LLMGenerateChunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return tether.LLMGenerateChunk{}, fmt.Errorf("gemini stream recv: %w", err)
		}

		response, err := s.nextResponse(ctx)
		if err != nil {
			return tether.LLMGenerateChunk{}, err
		}
		delta, err := responseText(response)
		if err != nil {
			return tether.LLMGenerateChunk{}, err
		}
		if delta != "" {
			return tether.LLMGenerateChunk{Delta: delta}, nil
		}
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.next = nil
	s.finished = true
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	return nil
}

func (s *stream) nextResponse(ctx context.Context) (*genai.GenerateContentResponse, error) {
	s.mu.Lock()
	next := s.next
	if s.finished || next == nil {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	response, err, ok := next()
	if !ok {
		s.finish()
		return nil, io.EOF
	}
	if err != nil {
		s.finish()
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("gemini stream context: %w", ctx.Err())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("gemini stream canceled: %w", err)
		default:
			return nil, fmt.Errorf("gemini stream next: %w", err)
		}
	}

	return response, nil
}

func (s *stream) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
}

func responseText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil {
		return "", fmt.Errorf("gemini stream parse response: nil response")
	}
	if len(response.Candidates) == 0 || response.Candidates[0] == nil || response.Candidates[0].Content == nil {
		return "", nil
	}

	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		builder.WriteString(part.Text)
	}

	return builder.String(), nil
}

var _ tether.LLMStream = (*stream)(nil)
