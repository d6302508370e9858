package embedding

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint.
type OpenAIProvider struct {
	cfg ProviderConfig
	url string
}

func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	base := cmp.Or(strings.TrimSuffix(cfg.BaseURL, "/"), defaultOpenAIBaseURL)
	return &OpenAIProvider{cfg: cfg, url: base + "/embeddings"}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Embed(ctx context.Context, model string, inputs []string) ([]json.RawMessage, error) {
	reqBody := map[string]any{
		"model": model,
		"input": inputs,
	}

	var result openAIEmbeddingResponse
	if err := postJSON(ctx, httpClient(p.cfg), p.Name(), p.url, bearer(p.cfg.APIKey), reqBody, &result); err != nil {
		return nil, err
	}

	if len(result.Data) != len(inputs) {
		return nil, core.FormatError(p.Name(), "expected %d embeddings, got %d", len(inputs), len(result.Data))
	}

	// data[].index is authoritative; the array itself is not guaranteed ordered.
	slices.SortFunc(result.Data, func(a, b openAIEmbedding) int { return cmp.Compare(a.Index, b.Index) })

	out := make([]json.RawMessage, len(result.Data))
	for i, d := range result.Data {
		if d.Index != i {
			return nil, core.FormatError(p.Name(), "missing embedding for input %d", i)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

type openAIEmbeddingResponse struct {
	Data []openAIEmbedding `json:"data"`
}

type openAIEmbedding struct {
	Index     int             `json:"index"`
	Embedding json.RawMessage `json:"embedding"`
}
