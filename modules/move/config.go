package move

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Config configures who may move messages.
type Config struct {
	// Moderators are the actor ids allowed to run /move and to delete any
	// moved message.
	Moderators []string
}

type fileConfig struct {
	Moderators []string `json:"moderators"`
}

// ParseConfig decodes the move module section.
func ParseConfig(raw json.RawMessage) (Config, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Config{}, nil
	}

	var parsed fileConfig
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&parsed); err != nil {
		return Config{}, fmt.Errorf("parse move config: %w", err)
	}

	cfg := Config{Moderators: make([]string, 0, len(parsed.Moderators))}
	for _, moderator := range parsed.Moderators {
		cfg.Moderators = append(cfg.Moderators, strings.TrimSpace(moderator))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration coherence.
func (c Config) Validate() error {
	for index, moderator := range c.Moderators {
		if moderator == "" {
			return fmt.Errorf("validate move config: moderators[%d] is empty", index)
		}
	}

	return nil
}
