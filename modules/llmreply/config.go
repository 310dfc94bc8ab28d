package llmreply

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultTrigger         = "?ask "
	defaultSystemPrompt    = "You are a helpful assistant in a group chat. Answer concisely in plain text."
	defaultMaxReplyRunes   = 3500
	defaultRefreshInterval = time.Hour
	defaultRequestTimeout  = 60 * time.Second
	maxReplyRunesLimit     = 4000
)

// Config configures prompt detection and generation.
type Config struct {
	// Trigger is the prefix that turns a message into a prompt.
	Trigger string
	// Provider names the LLM provider profile to resolve.
	Provider string
	// Model is the provider model name.
	Model string
	// SystemPrompt is sent ahead of every prompt.
	SystemPrompt string
	// MaxOutputTokens optionally bounds generated tokens.
	MaxOutputTokens int
	// Temperature optionally controls output randomness.
	Temperature float64
	// MaxReplyRunes is the longest answer that is posted.
	MaxReplyRunes int
	// RefreshInterval is how long an answer is reused for the same prompt.
	RefreshInterval time.Duration
	// RequestTimeout bounds one generation.
	RequestTimeout time.Duration
	// CreateViewTimeout and EditViewTimeout bound how long reply buttons stay.
	CreateViewTimeout time.Duration
	EditViewTimeout   time.Duration
	// Moderators may delete or freeze any reply.
	Moderators []string
}

type fileConfig struct {
	Trigger           string   `json:"trigger"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	SystemPrompt      string   `json:"system_prompt"`
	MaxOutputTokens   int      `json:"max_output_tokens"`
	Temperature       float64  `json:"temperature"`
	MaxReplyRunes     int      `json:"max_reply_runes"`
	RefreshInterval   string   `json:"refresh_interval"`
	RequestTimeout    string   `json:"request_timeout"`
	CreateViewTimeout string   `json:"create_view_timeout"`
	EditViewTimeout   string   `json:"edit_view_timeout"`
	Moderators        []string `json:"moderators"`
}

// ParseConfig decodes the llmreply module section.
func ParseConfig(raw json.RawMessage) (Config, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Config{}, fmt.Errorf("parse llmreply config: empty section")
	}

	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse llmreply config: %w", err)
	}

	cfg := Config{
		Trigger:         parsed.Trigger,
		Provider:        strings.TrimSpace(parsed.Provider),
		Model:           strings.TrimSpace(parsed.Model),
		SystemPrompt:    strings.TrimSpace(parsed.SystemPrompt),
		MaxOutputTokens: parsed.MaxOutputTokens,
		Temperature:     parsed.Temperature,
		MaxReplyRunes:   parsed.MaxReplyRunes,
		Moderators:      append([]string(nil), parsed.Moderators...),
	}
	for _, field := range []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "refresh_interval", raw: parsed.RefreshInterval, target: &cfg.RefreshInterval},
		{name: "request_timeout", raw: parsed.RequestTimeout, target: &cfg.RequestTimeout},
		{name: "create_view_timeout", raw: parsed.CreateViewTimeout, target: &cfg.CreateViewTimeout},
		{name: "edit_view_timeout", raw: parsed.EditViewTimeout, target: &cfg.EditViewTimeout},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		value, err := time.ParseDuration(strings.TrimSpace(field.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse llmreply config %s: %w", field.name, err)
		}
		*field.target = value
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Trigger == "" {
		c.Trigger = defaultTrigger
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.MaxReplyRunes == 0 {
		c.MaxReplyRunes = defaultMaxReplyRunes
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}

	return c
}

// Validate checks configuration coherence.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Trigger) == "" {
		return fmt.Errorf("validate llmreply config: empty trigger")
	}
	if c.Provider == "" {
		return fmt.Errorf("validate llmreply config: missing provider")
	}
	if c.Model == "" {
		return fmt.Errorf("validate llmreply config: missing model")
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("validate llmreply config: max_output_tokens must be >= 0")
	}
	if c.Temperature < 0 {
		return fmt.Errorf("validate llmreply config: temperature must be >= 0")
	}
	if c.MaxReplyRunes <= 0 || c.MaxReplyRunes > maxReplyRunesLimit {
		return fmt.Errorf("validate llmreply config: max_reply_runes must be in 1..%d", maxReplyRunesLimit)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("validate llmreply config: refresh_interval must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("validate llmreply config: request_timeout must be > 0")
	}
	if c.CreateViewTimeout < 0 || c.EditViewTimeout < 0 {
		return fmt.Errorf("validate llmreply config: view timeouts must be >= 0")
	}
	for index, moderator := range c.Moderators {
		if strings.TrimSpace(moderator) == "" {
			return fmt.Errorf("validate llmreply config: moderators[%d] is empty", index)
		}
	}

	return nil
}
