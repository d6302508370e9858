// Package llm is the answer-generation boundary: a chat completion client
// that turns retrieved passages and a question into prose.
package llm

import (
	"context"
	"time"
)

type Client interface {
	Chat(ctx context.Context, model string, system, user string) (*LLMResponse, error)
}

type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 60 * time.Second,
	}
}
