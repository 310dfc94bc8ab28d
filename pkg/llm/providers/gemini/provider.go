// Package gemini implements tether.LLMProvider on the Gemini Developer API.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode"

	"tether/pkg/tether"

	"google.golang.org/genai"
)

const defaultAPIVersion = "v1beta"

// ProviderConfig configures one Gemini-backed provider instance.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	// APIVersion defaults to v1beta.
	APIVersion string
	// GoogleSearch enables search grounding for every request.
	GoogleSearch *bool
}

// Provider streams completions through GenerateContentStream.
type Provider struct {
	models       modelsClient
	googleSearch bool
}

type modelsClient interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// New builds one provider instance.
func New(cfg ProviderConfig) (*Provider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("new gemini provider: missing api_key")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("new gemini provider: parse base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("new gemini provider: parse base_url: must include scheme and host")
		}
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	if !isValidAPIVersion(apiVersion) {
		return nil, fmt.Errorf("new gemini provider: invalid api_version %q", cfg.APIVersion)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	if client == nil || client.Models == nil {
		return nil, fmt.Errorf("new gemini client: models client is nil")
	}

	return &Provider{
		models:       client.Models,
		googleSearch: cfg.GoogleSearch != nil && *cfg.GoogleSearch,
	}, nil
}

// GenerateStream starts one streaming request.
func (p *Provider) GenerateStream(ctx context.Context, req tether.LLMGenerateRequest) (tether.LLMStream, error) {
	if p == nil || p.models == nil {
		return nil, fmt.Errorf("gemini generate stream: nil provider")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("gemini generate stream validate request: %w", err)
	}

	contents, config, err := mapGenerateRequest(req, p.googleSearch)
	if err != nil {
		return nil, fmt.Errorf("gemini generate stream map request: %w", err)
	}
	// The caller's context is the only deadline for streams.
	noTimeout := time.Duration(0)
	config.HTTPOptions = &genai.HTTPOptions{Timeout: &noTimeout}

	seq := p.models.GenerateContentStream(ctx, strings.TrimSpace(req.Model), contents, config)
	if seq == nil {
		return nil, fmt.Errorf("gemini generate stream: nil stream")
	}

	return newStream(seq), nil
}

func mapGenerateRequest(
	req tether.LLMGenerateRequest,
	googleSearch bool,
) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	systemParts := make([]string, 0, 1)
	contents := make([]*genai.Content, 0, len(req.Messages))
	for index, message := range req.Messages {
		switch message.Role {
		case tether.LLMMessageRoleSystem:
			systemParts = append(systemParts, message.Content)
		case tether.LLMMessageRoleUser:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleUser))
		case tether.LLMMessageRoleAssistant:
			contents = append(contents, genai.NewContentFromText(message.Content, genai.RoleModel))
		default:
			return nil, nil, fmt.Errorf("messages[%d] role: unsupported role %q", index, message.Role)
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("missing non-system messages")
	}

	config := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if req.MaxOutputTokens > 0 {
		if req.MaxOutputTokens > math.MaxInt32 {
			return nil, nil, fmt.Errorf("max_output_tokens exceeds int32 range")
		}
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if googleSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	return contents, config, nil
}

func isValidAPIVersion(raw string) bool {
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == '_' {
			continue
		}
		return false
	}

	return raw != ""
}

var _ tether.LLMProvider = (*Provider)(nil)
