package embedding

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
)

const defaultInferenceBaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction"

// InferenceProvider calls a HuggingFace-style feature-extraction endpoint at
// {base}/{model}. For a single input such endpoints answer with either a flat
// vector or a batch of one.
type InferenceProvider struct {
	cfg  ProviderConfig
	base string
}

func NewInferenceProvider(cfg ProviderConfig) *InferenceProvider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultInferenceBaseURL
	}
	return &InferenceProvider{cfg: cfg, base: base}
}

func (p *InferenceProvider) Name() string { return "inference" }

func (p *InferenceProvider) Embed(ctx context.Context, model string, inputs []string) ([]json.RawMessage, error) {
	var body any = inputs
	if len(inputs) == 1 {
		body = inputs[0]
	}
	reqBody := map[string]any{
		"inputs":  body,
		"options": map[string]any{"wait_for_model": true},
	}

	var raw json.RawMessage
	if err := postJSON(ctx, httpClient(p.cfg), p.Name(), p.base+"/"+model, bearer(p.cfg.APIKey), reqBody, &raw); err != nil {
		return nil, err
	}

	// A single input keeps the whole payload; Client unwraps the nesting.
	if len(inputs) == 1 {
		return []json.RawMessage{raw}, nil
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, core.FormatError(p.Name(), "batch response is not an array: %v", err)
	}
	if len(batch) != len(inputs) {
		return nil, core.FormatError(p.Name(), "expected %d embeddings, got %d", len(inputs), len(batch))
	}
	return batch, nil
}
