// Package llm resolves named LLM provider profiles for content modules.
package llm

import (
	"fmt"
	"sort"
	"strings"

	"tether/pkg/llm/config"
	"tether/pkg/llm/providers/gemini"
	"tether/pkg/llm/providers/openai"
	"tether/pkg/tether"
)

// Registry resolves configured LLM providers by profile name.
//
// The provider map is copied on construction and never mutated, so Resolve is
// safe for parallel module workers.
type Registry struct {
	providers map[string]tether.LLMProvider
}

// NewRegistry constructs one immutable provider registry.
func NewRegistry(providers map[string]tether.LLMProvider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("new llm provider registry: empty providers")
	}

	cloned := make(map[string]tether.LLMProvider, len(providers))
	for key, provider := range providers {
		name := strings.TrimSpace(key)
		if name == "" {
			return nil, fmt.Errorf("new llm provider registry: empty provider key")
		}
		if provider == nil {
			return nil, fmt.Errorf("new llm provider registry: provider %s is nil", name)
		}
		if _, exists := cloned[name]; exists {
			return nil, fmt.Errorf("new llm provider registry: duplicate provider key %s", name)
		}
		cloned[name] = provider
	}

	return &Registry{providers: cloned}, nil
}

// NewRegistryFromConfig builds every configured provider profile.
func NewRegistryFromConfig(cfg config.Config) (*Registry, error) {
	providers := make(map[string]tether.LLMProvider, len(cfg.Providers))
	for name, profile := range cfg.Providers {
		provider, err := buildProvider(profile)
		if err != nil {
			return nil, fmt.Errorf("build llm provider %s: %w", name, err)
		}
		providers[name] = provider
	}

	return NewRegistry(providers)
}

func buildProvider(profile config.ProviderProfile) (tether.LLMProvider, error) {
	switch profile.Type {
	case config.ProviderTypeOpenAI:
		cfg := openai.ProviderConfig{APIKey: profile.APIKey, BaseURL: profile.BaseURL}
		if profile.OpenAI != nil {
			cfg.Organization = profile.OpenAI.Organization
			cfg.Project = profile.OpenAI.Project
			cfg.MaxRetries = profile.OpenAI.MaxRetries
		}
		return openai.New(cfg)
	case config.ProviderTypeGemini:
		cfg := gemini.ProviderConfig{APIKey: profile.APIKey, BaseURL: profile.BaseURL}
		if profile.Gemini != nil {
			cfg.APIVersion = profile.Gemini.APIVersion
			cfg.GoogleSearch = profile.Gemini.GoogleSearch
		}
		return gemini.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", profile.Type)
	}
}

// Resolve returns one configured provider by name.
func (r *Registry) Resolve(provider string) (tether.LLMProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve llm provider: nil registry")
	}

	name := strings.TrimSpace(provider)
	if name == "" {
		return nil, fmt.Errorf("resolve llm provider: empty provider key")
	}
	resolved, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("resolve llm provider: provider %s is not configured", name)
	}

	return resolved, nil
}

// Names lists configured profile names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

var _ tether.LLMProviderRegistry = (*Registry)(nil)
