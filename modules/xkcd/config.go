package xkcd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL         = "https://xkcd.com"
	defaultRefreshInterval = 12 * time.Hour
	defaultViewTimeout     = time.Hour
	defaultRequestTimeout  = 10 * time.Second
)

// Config configures comic lookups and reply buttons.
type Config struct {
	// BaseURL is the comic site root; metadata lives at <BaseURL>/<n>/info.0.json.
	BaseURL string
	// RefreshInterval is how long fetched comic metadata is served before a refetch.
	RefreshInterval time.Duration
	// ViewTimeout is how long reply buttons stay visible.
	ViewTimeout time.Duration
	// RequestTimeout bounds one metadata request.
	RequestTimeout time.Duration
	// Moderators may delete or freeze any reply.
	Moderators []string
}

type fileConfig struct {
	BaseURL         string   `json:"base_url"`
	RefreshInterval string   `json:"refresh_interval"`
	ViewTimeout     string   `json:"view_timeout"`
	RequestTimeout  string   `json:"request_timeout"`
	Moderators      []string `json:"moderators"`
}

// DefaultConfig returns the configuration used when the module section is empty.
func DefaultConfig() Config {
	return Config{
		BaseURL:         defaultBaseURL,
		RefreshInterval: defaultRefreshInterval,
		ViewTimeout:     defaultViewTimeout,
		RequestTimeout:  defaultRequestTimeout,
	}
}

// ParseConfig decodes the xkcd module section. Missing fields keep defaults.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return cfg, nil
	}

	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse xkcd config: %w", err)
	}

	if trimmed := strings.TrimSpace(parsed.BaseURL); trimmed != "" {
		cfg.BaseURL = strings.TrimRight(trimmed, "/")
	}
	for _, field := range []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{name: "refresh_interval", raw: parsed.RefreshInterval, target: &cfg.RefreshInterval},
		{name: "view_timeout", raw: parsed.ViewTimeout, target: &cfg.ViewTimeout},
		{name: "request_timeout", raw: parsed.RequestTimeout, target: &cfg.RequestTimeout},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		value, err := time.ParseDuration(strings.TrimSpace(field.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse xkcd config %s: %w", field.name, err)
		}
		*field.target = value
	}
	cfg.Moderators = append([]string(nil), parsed.Moderators...)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence.
func (c Config) Validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("validate xkcd config: base_url %q must include scheme and host", c.BaseURL)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("validate xkcd config: refresh_interval must be > 0")
	}
	if c.ViewTimeout <= 0 {
		return fmt.Errorf("validate xkcd config: view_timeout must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("validate xkcd config: request_timeout must be > 0")
	}
	for index, moderator := range c.Moderators {
		if strings.TrimSpace(moderator) == "" {
			return fmt.Errorf("validate xkcd config: moderators[%d] is empty", index)
		}
	}

	return nil
}
