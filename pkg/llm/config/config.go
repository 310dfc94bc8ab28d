// Package config parses the llm section of the bot configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// ProviderTypeOpenAI selects the OpenAI Responses provider.
	ProviderTypeOpenAI = "openai"
	// ProviderTypeGemini selects the Gemini provider.
	ProviderTypeGemini = "gemini"

	defaultRequestTimeout   = 60 * time.Second
	defaultGeminiAPIVersion = "v1beta"
)

// Config is the validated llm configuration section.
type Config struct {
	// RequestTimeout bounds one generation, including streaming.
	RequestTimeout time.Duration
	// Providers contains provider profiles keyed by profile name.
	Providers map[string]ProviderProfile
}

// ProviderProfile describes one named provider profile.
type ProviderProfile struct {
	Type    string
	APIKey  string
	BaseURL string
	OpenAI  *OpenAIOptions
	Gemini  *GeminiOptions
}

// OpenAIOptions carries OpenAI-specific profile options.
type OpenAIOptions struct {
	Organization string
	Project      string
	// MaxRetries overrides the SDK retry count. Nil keeps the SDK default.
	MaxRetries *int
}

// GeminiOptions carries Gemini-specific profile options.
type GeminiOptions struct {
	APIVersion   string
	GoogleSearch *bool
}

type fileConfig struct {
	RequestTimeout string                       `json:"request_timeout"`
	Providers      map[string]fileProviderEntry `json:"providers"`
}

type fileProviderEntry struct {
	Type      string           `json:"type"`
	APIKey    string           `json:"api_key"`
	APIKeyEnv string           `json:"api_key_env"`
	BaseURL   string           `json:"base_url"`
	OpenAI    *fileOpenAIEntry `json:"openai"`
	Gemini    *fileGeminiEntry `json:"gemini"`
}

type fileOpenAIEntry struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
	MaxRetries   *int   `json:"max_retries"`
}

type fileGeminiEntry struct {
	APIVersion   string `json:"api_version"`
	GoogleSearch *bool  `json:"google_search"`
}

// Parse decodes and validates one llm section.
//
// An empty section yields a Config without providers.
func Parse(raw []byte) (Config, error) {
	cfg := Config{
		RequestTimeout: defaultRequestTimeout,
		Providers:      map[string]ProviderProfile{},
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}

	var parsed fileConfig
	if err := decodeStrictJSON(raw, &parsed); err != nil {
		return Config{}, fmt.Errorf("parse llm config: %w", err)
	}

	if rawTimeout := strings.TrimSpace(parsed.RequestTimeout); rawTimeout != "" {
		timeout, err := time.ParseDuration(rawTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse llm config request_timeout: %w", err)
		}
		cfg.RequestTimeout = timeout
	}

	for key, entry := range parsed.Providers {
		name := strings.TrimSpace(key)
		if _, exists := cfg.Providers[name]; exists {
			return Config{}, fmt.Errorf("parse llm config providers: duplicate provider key %s", name)
		}
		cfg.Providers[name] = parseProviderProfile(entry)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence.
func (cfg Config) Validate() error {
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("validate llm config: request_timeout must be > 0")
	}
	for name, profile := range cfg.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("validate llm config providers: empty provider key")
		}
		if err := validateProviderProfile(profile); err != nil {
			return fmt.Errorf("validate llm config providers[%s]: %w", name, err)
		}
	}

	return nil
}

func parseProviderProfile(raw fileProviderEntry) ProviderProfile {
	apiKey := strings.TrimSpace(raw.APIKey)
	if apiKey == "" && strings.TrimSpace(raw.APIKeyEnv) != "" {
		apiKey = strings.TrimSpace(os.Getenv(strings.TrimSpace(raw.APIKeyEnv)))
	}

	profile := ProviderProfile{
		Type:    strings.ToLower(strings.TrimSpace(raw.Type)),
		APIKey:  apiKey,
		BaseURL: strings.TrimSpace(raw.BaseURL),
	}
	if raw.OpenAI != nil {
		profile.OpenAI = &OpenAIOptions{
			Organization: strings.TrimSpace(raw.OpenAI.Organization),
			Project:      strings.TrimSpace(raw.OpenAI.Project),
			MaxRetries:   raw.OpenAI.MaxRetries,
		}
	}
	if raw.Gemini != nil {
		profile.Gemini = &GeminiOptions{
			APIVersion:   strings.TrimSpace(raw.Gemini.APIVersion),
			GoogleSearch: raw.Gemini.GoogleSearch,
		}
	}
	if profile.Type == ProviderTypeGemini {
		if profile.Gemini == nil {
			profile.Gemini = &GeminiOptions{}
		}
		if profile.Gemini.APIVersion == "" {
			profile.Gemini.APIVersion = defaultGeminiAPIVersion
		}
	}

	return profile
}

func validateProviderProfile(profile ProviderProfile) error {
	switch profile.Type {
	case "":
		return fmt.Errorf("missing type")
	case ProviderTypeOpenAI:
		if profile.Gemini != nil {
			return fmt.Errorf("gemini options are only supported for gemini providers")
		}
		if profile.OpenAI != nil && profile.OpenAI.MaxRetries != nil && *profile.OpenAI.MaxRetries < 0 {
			return fmt.Errorf("openai.max_retries must be >= 0")
		}
	case ProviderTypeGemini:
		if profile.OpenAI != nil {
			return fmt.Errorf("openai options are only supported for openai providers")
		}
	default:
		return fmt.Errorf("unsupported type %q", profile.Type)
	}
	if profile.APIKey == "" {
		return fmt.Errorf("missing api_key")
	}

	if profile.BaseURL != "" {
		parsed, err := url.Parse(profile.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base_url: must include scheme and host")
		}
	}

	return nil
}

func decodeStrictJSON(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("decode json: trailing data")
	}

	return nil
}
