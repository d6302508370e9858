package embedding

import (
	"cmp"
	"context"
	"encoding/json"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaProvider calls Ollama's native /api/embed endpoint.
type OllamaProvider struct {
	cfg ProviderConfig
	url string
}

func NewOllamaProvider(cfg ProviderConfig) *OllamaProvider {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	// Accept the OpenAI-compatible base as well as the bare host.
	host = strings.TrimSuffix(host, "/v1")
	host = cmp.Or(host, defaultOllamaBaseURL)
	return &OllamaProvider{cfg: cfg, url: host + "/api/embed"}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Embed(ctx context.Context, model string, inputs []string) ([]json.RawMessage, error) {
	reqBody := map[string]any{
		"model": model,
		"input": inputs,
	}

	var result ollamaEmbedResponse
	if err := postJSON(ctx, httpClient(p.cfg), p.Name(), p.url, bearer(p.cfg.APIKey), reqBody, &result); err != nil {
		return nil, err
	}

	if len(result.Embeddings) != len(inputs) {
		return nil, core.FormatError(p.Name(), "expected %d embeddings, got %d", len(inputs), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

type ollamaEmbedResponse struct {
	Embeddings []json.RawMessage `json:"embeddings"`
}
