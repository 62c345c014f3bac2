package llm

import (
	"fmt"
	"strings"
)

// NewClient creates a fallback client for the configured provider.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported fallback provider: %s", cfg.Provider)
	}
}
