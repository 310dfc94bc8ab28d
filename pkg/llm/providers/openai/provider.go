// Package openai implements tether.LLMProvider on the OpenAI Responses API.
package openai

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"tether/pkg/tether"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// ProviderConfig configures one OpenAI-backed provider instance.
type ProviderConfig struct {
	APIKey string
	// BaseURL optionally points at an OpenAI-compatible endpoint.
	BaseURL      string
	Organization string
	Project      string
	// MaxRetries overrides the SDK retry count. Nil keeps the SDK default.
	MaxRetries *int
}

// Provider streams completions through the Responses API.
type Provider struct {
	responses responsesClient
}

type responsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) responseStream
}

type responseServiceAdapter struct {
	service responses.ResponseService
}

func (a responseServiceAdapter) NewStreaming(
	ctx context.Context,
	body responses.ResponseNewParams,
	opts ...option.RequestOption,
) responseStream {
	return a.service.NewStreaming(ctx, body, opts...)
}

// New builds one provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	normalized, err := normalizeProviderConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("new openai provider: %w", err)
	}

	options := []option.RequestOption{option.WithAPIKey(normalized.APIKey)}
	if normalized.BaseURL != "" {
		options = append(options, option.WithBaseURL(normalized.BaseURL))
	}
	if normalized.Organization != "" {
		options = append(options, option.WithOrganization(normalized.Organization))
	}
	if normalized.Project != "" {
		options = append(options, option.WithProject(normalized.Project))
	}
	if normalized.MaxRetries != nil {
		options = append(options, option.WithMaxRetries(*normalized.MaxRetries))
	}
	client := openai.NewClient(options...)

	return &Provider{responses: responseServiceAdapter{service: client.Responses}}, nil
}

// GenerateStream starts one streaming request.
func (p *Provider) GenerateStream(ctx context.Context, req tether.LLMGenerateRequest) (tether.LLMStream, error) {
	if p == nil || p.responses == nil {
		return nil, fmt.Errorf("openai generate stream: nil provider")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai generate stream validate request: %w", err)
	}

	params, err := mapGenerateRequest(req)
	if err != nil {
		return nil, fmt.Errorf("openai generate stream map request: %w", err)
	}
	stream := p.responses.NewStreaming(ctx, params)
	if stream == nil {
		return nil, fmt.Errorf("openai generate stream: nil stream")
	}

	return newStream(stream), nil
}

func mapGenerateRequest(req tether.LLMGenerateRequest) (responses.ResponseNewParams, error) {
	items := make(responses.ResponseInputParam, 0, len(req.Messages))
	for index, message := range req.Messages {
		role, err := mapMessageRole(message.Role)
		if err != nil {
			return responses.ResponseNewParams{}, fmt.Errorf("messages[%d] role: %w", index, err)
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(message.Content, role))
	}

	params := responses.ResponseNewParams{
		Model: strings.TrimSpace(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	return params, nil
}

func mapMessageRole(role tether.LLMMessageRole) (responses.EasyInputMessageRole, error) {
	switch role {
	case tether.LLMMessageRoleSystem:
		return responses.EasyInputMessageRoleSystem, nil
	case tether.LLMMessageRoleUser:
		return responses.EasyInputMessageRoleUser, nil
	case tether.LLMMessageRoleAssistant:
		return responses.EasyInputMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

func normalizeProviderConfig(cfg ProviderConfig) (ProviderConfig, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	cfg.Project = strings.TrimSpace(cfg.Project)

	if cfg.APIKey == "" {
		return ProviderConfig{}, fmt.Errorf("missing api_key")
	}
	if cfg.BaseURL != "" {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return ProviderConfig{}, fmt.Errorf("parse base_url: must include scheme and host")
		}
	}
	if cfg.MaxRetries != nil && *cfg.MaxRetries < 0 {
		return ProviderConfig{}, fmt.Errorf("max_retries must be >= 0")
	}

	return cfg, nil
}

var _ tether.LLMProvider = (*Provider)(nil)
