// Package embedding turns text into validated, fixed-dimension vectors by
// calling an external embedding provider.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Provider is the transport to one embedding API. Embed returns one raw
// payload per input, in input order. A payload is either a flat numeric
// array or a single-element array wrapping one; Client unwraps both.
type Provider interface {
	Name() string
	Embed(ctx context.Context, model string, inputs []string) ([]json.RawMessage, error)
}

// ProviderConfig holds the connection settings shared by every provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{Timeout: 60 * time.Second}
}

// NewProvider builds a provider by name: "openai", "ollama" or "inference".
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "inference", "huggingface", "hf":
		return NewInferenceProvider(cfg), nil
	default:
		return nil, core.Configuration("unknown embedding provider %q", name)
	}
}

func httpClient(cfg ProviderConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderConfig().Timeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to url and decodes a 2xx response into out. Transport
// failures and non-2xx statuses become *core.ProviderError; undecodable
// bodies become format errors.
func postJSON(ctx context.Context, client *http.Client, provider, url string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &core.ProviderError{Provider: provider, Err: transportError(ctx, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.ProviderError{Provider: provider, StatusCode: resp.StatusCode, Err: transportError(ctx, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &core.ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(truncate(string(respBody), 512)),
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return core.FormatError(provider, "empty response body")
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return core.FormatError(provider, "failed to decode response: %v", err)
	}
	return nil
}

// transportError prefers the context error so deadlines are reported as such.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func bearer(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
