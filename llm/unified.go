package llm

import (
	"context"
	"fmt"
	"strings"
)

// UnifiedClient routes a model name to a backend: "ollama/<model>" goes to
// Ollama with the prefix stripped, anything else to OpenAI, falling back to
// whichever backend is configured.
type UnifiedClient struct {
	openai *OpenAIClient
	ollama *OpenAIClient
}

type UnifiedConfig struct {
	OpenAIKey     string
	OpenAIBaseURL string
	OllamaURL     string
}

func NewUnifiedClient(cfg UnifiedConfig) *UnifiedClient {
	u := &UnifiedClient{}

	if cfg.OpenAIKey != "" || cfg.OpenAIBaseURL != "" {
		u.openai = NewOpenAIClient(ClientConfig{APIKey: cfg.OpenAIKey, BaseURL: cfg.OpenAIBaseURL})
	}

	if cfg.OllamaURL != "" {
		base := strings.TrimSuffix(cfg.OllamaURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		u.ollama = NewOpenAIClient(ClientConfig{BaseURL: base})
	}

	return u
}

func (u *UnifiedClient) Chat(ctx context.Context, model string, system, user string) (*LLMResponse, error) {
	client, resolvedModel := u.resolveClient(model)
	if client == nil {
		return nil, fmt.Errorf("no chat client available for model: %s", model)
	}
	return client.Chat(ctx, resolvedModel, system, user)
}

func (u *UnifiedClient) resolveClient(model string) (*OpenAIClient, string) {
	if strings.HasPrefix(model, "ollama/") && u.ollama != nil {
		return u.ollama, strings.TrimPrefix(model, "ollama/")
	}
	if u.openai != nil {
		return u.openai, model
	}
	return u.ollama, strings.TrimPrefix(model, "ollama/")
}

func (u *UnifiedClient) HasOpenAI() bool {
	return u.openai != nil
}

func (u *UnifiedClient) HasOllama() bool {
	return u.ollama != nil
}
