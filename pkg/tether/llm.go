package tether

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LLMProviderRegistry resolves LLM providers by configured profile name.
type LLMProviderRegistry interface {
	// Resolve returns one configured provider by name.
	Resolve(provider string) (LLMProvider, error)
}

// LLMProvider exposes one stream-first text generation operation.
type LLMProvider interface {
	// GenerateStream starts one streaming generation request.
	GenerateStream(ctx context.Context, req LLMGenerateRequest) (LLMStream, error)
}

// LLMStream is a pull-based stream of generated text chunks.
type LLMStream interface {
	// Recv returns the next generated chunk, or io.EOF when the stream completes.
	Recv(ctx context.Context) (LLMGenerateChunk, error)
	// Close releases provider-side resources for this stream.
	Close() error
}

// LLMMessageRole identifies one message role in a multi-turn request.
type LLMMessageRole string

const (
	// LLMMessageRoleSystem identifies system-level instructions.
	LLMMessageRoleSystem LLMMessageRole = "system"
	// LLMMessageRoleUser identifies user-authored turns.
	LLMMessageRoleUser LLMMessageRole = "user"
	// LLMMessageRoleAssistant identifies assistant-authored turns.
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
)

// LLMMessage is one ordered message entry in a generation request.
type LLMMessage struct {
	Role    LLMMessageRole
	Content string
}

// LLMGenerateRequest describes one provider generation call.
type LLMGenerateRequest struct {
	// Model identifies which provider model should be used.
	Model string
	// Messages is the ordered conversation context.
	Messages []LLMMessage
	// MaxOutputTokens optionally bounds generated output.
	MaxOutputTokens int
	// Temperature optionally controls output randomness.
	Temperature float64
}

// Validate checks one generation request contract.
func (r LLMGenerateRequest) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("validate llm generate request: missing model")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("validate llm generate request: missing messages")
	}
	for index, message := range r.Messages {
		switch message.Role {
		case LLMMessageRoleSystem, LLMMessageRoleUser, LLMMessageRoleAssistant:
		default:
			return fmt.Errorf("validate llm generate request messages[%d]: unsupported role %q", index, message.Role)
		}
		if strings.TrimSpace(message.Content) == "" {
			return fmt.Errorf("validate llm generate request messages[%d]: missing content", index)
		}
	}
	if r.MaxOutputTokens < 0 {
		return fmt.Errorf("validate llm generate request: max_output_tokens must be >= 0")
	}
	if r.Temperature < 0 {
		return fmt.Errorf("validate llm generate request: temperature must be >= 0")
	}

	return nil
}

// LLMGenerateChunk carries incremental text from one stream.
type LLMGenerateChunk struct {
	// Delta is the newly generated text segment.
	Delta string
}

// CollectLLMStream drains stream into one string and closes it.
//
// truncated is true when output reached limit runes and the stream was cut
// short. A non-positive limit collects everything.
func CollectLLMStream(ctx context.Context, stream LLMStream, limit int) (text string, truncated bool, err error) {
	if stream == nil {
		return "", false, fmt.Errorf("collect llm stream: nil stream")
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("collect llm stream close: %w", closeErr)
		}
	}()

	var builder strings.Builder
	runes := 0
	for {
		chunk, recvErr := stream.Recv(ctx)
		if errors.Is(recvErr, io.EOF) {
			return builder.String(), false, nil
		}
		if recvErr != nil {
			return "", false, fmt.Errorf("collect llm stream: %w", recvErr)
		}
		for _, r := range chunk.Delta {
			if limit > 0 && runes >= limit {
				return builder.String(), true, nil
			}
			builder.WriteRune(r)
			runes++
		}
	}
}
