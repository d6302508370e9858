package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		assert.Equal(t, "text-embedding-3-small", body["model"])
		assert.Equal(t, []any{"first", "second"}, body["input"])

		// out of order on purpose
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1,0]},
			{"index":0,"embedding":[1,0,0]}
		]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	c, err := NewClient(p, "text-embedding-3-small", 3, WithBatchSize(8))
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []vector.Vector{{1, 0, 0}, {0, 1, 0}}, vecs)
}

func TestOpenAIProvider_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), "m", []string{"a", "b"})
	assert.True(t, errors.Is(err, core.ErrEmbeddingFormat))
}

func TestOllamaProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "nomic-embed-text", body["model"])
		w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	// The OpenAI-compatible /v1 suffix is stripped.
	p := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL + "/v1"})
	c, err := NewClient(p, "nomic-embed-text", 3)
	require.NoError(t, err)

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{0.1, 0.2, 0.3}, v)
}

func TestInferenceProvider_SingleInputNested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sentence-transformers/all-MiniLM-L6-v2", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "hello world", body["inputs"])
		w.Write([]byte(`[[0.25,0.5,1]]`))
	}))
	defer srv.Close()

	p := NewInferenceProvider(ProviderConfig{BaseURL: srv.URL})
	c, err := NewClient(p, "sentence-transformers/all-MiniLM-L6-v2", 3)
	require.NoError(t, err)

	v, err := c.Embed(context.Background(), "hello\nworld")
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{0.25, 0.5, 1}, v)
}

func TestInferenceProvider_Batch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, []any{"a", "b"}, body["inputs"])
		w.Write([]byte(`[[1,0,0],[[0,1,0]]]`))
	}))
	defer srv.Close()

	c, err := NewClient(NewInferenceProvider(ProviderConfig{BaseURL: srv.URL}), "m", 3, WithBatchSize(2))
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []vector.Vector{{1, 0, 0}, {0, 1, 0}}, vecs)
}

func TestProvider_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	for _, p := range []Provider{
		NewOpenAIProvider(ProviderConfig{BaseURL: srv.URL}),
		NewOllamaProvider(ProviderConfig{BaseURL: srv.URL}),
		NewInferenceProvider(ProviderConfig{BaseURL: srv.URL}),
	} {
		t.Run(p.Name(), func(t *testing.T) {
			_, err := p.Embed(context.Background(), "m", []string{"x"})
			var pe *core.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
			assert.Equal(t, "rate limited", pe.Message)
			assert.True(t, pe.Retryable())
		})
	}
}

func TestProvider_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL}).Embed(context.Background(), "m", []string{"x"})
	var pe *core.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.False(t, pe.Retryable())
}

func TestProvider_MalformedBody(t *testing.T) {
	for name, body := range map[string]string{"garbage": "not json", "empty": ""} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL}).Embed(context.Background(), "m", []string{"x"})
			assert.True(t, errors.Is(err, core.ErrEmbeddingFormat), "got %v", err)
		})
	}
}

func TestProvider_HTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewOpenAIProvider(ProviderConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := p.Embed(context.Background(), "m", []string{"x"})
	var pe *core.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Zero(t, pe.StatusCode)
	assert.True(t, pe.Retryable())
}

func TestNewProvider(t *testing.T) {
	for name, want := range map[string]string{"openai": "openai", "Ollama": "ollama", "hf": "inference"} {
		p, err := NewProvider(name, DefaultProviderConfig())
		require.NoError(t, err)
		assert.Equal(t, want, p.Name())
	}

	_, err := NewProvider("carrier-pigeon", DefaultProviderConfig())
	assert.True(t, errors.Is(err, core.ErrConfiguration))
}
