package summarize

import (
	"fmt"
	"strings"
)

// NewSummarizer builds the client the config asks for. Disabled or
// unkeyed configurations get the no-op client, which makes the
// pipeline fall back to truncation summaries.
func NewSummarizer(cfg Config) (Summarizer, error) {
	if !cfg.Enabled {
		return NewNoOp(), nil
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "disabled", "none":
		return NewNoOp(), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return NewNoOp(), nil
		}
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %q", cfg.Provider)
	}
}
