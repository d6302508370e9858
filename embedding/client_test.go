package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector"
)

type fakeProvider struct {
	mu     sync.Mutex
	calls  [][]string
	embedF func(ctx context.Context, inputs []string) ([]json.RawMessage, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Embed(ctx context.Context, model string, inputs []string) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	f.mu.Unlock()
	return f.embedF(ctx, inputs)
}

func constant(payload string) *fakeProvider {
	return &fakeProvider{embedF: func(_ context.Context, inputs []string) ([]json.RawMessage, error) {
		out := make([]json.RawMessage, len(inputs))
		for i := range inputs {
			out[i] = json.RawMessage(payload)
		}
		return out, nil
	}}
}

// indexed embeds "text-N" as [N+1, 1, 0].
func indexed() *fakeProvider {
	return &fakeProvider{embedF: func(_ context.Context, inputs []string) ([]json.RawMessage, error) {
		out := make([]json.RawMessage, len(inputs))
		for i, in := range inputs {
			var n int
			if _, err := fmt.Sscanf(in, "text-%d", &n); err != nil {
				return nil, err
			}
			time.Sleep(time.Duration(10-n%10) * time.Millisecond)
			out[i] = json.RawMessage(fmt.Sprintf("[%d,1,0]", n+1))
		}
		return out, nil
	}}
}

func newClient(t *testing.T, p Provider, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(p, "test-model", 3, opts...)
	require.NoError(t, err)
	return c
}

func TestEmbed_Flat(t *testing.T) {
	c := newClient(t, constant(`[0.5, -1, 2]`))
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{0.5, -1, 2}, v)
}

func TestEmbed_UnwrapsSingletonBatch(t *testing.T) {
	c := newClient(t, constant(`[[0.5, -1, 2]]`))
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{0.5, -1, 2}, v)
}

func TestEmbed_AcceptsTextEncoding(t *testing.T) {
	c := newClient(t, constant(`"[0.5,-1,2]"`))
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{0.5, -1, 2}, v)
}

func TestEmbed_NormalizesNewlines(t *testing.T) {
	p := constant(`[1,0,0]`)
	c := newClient(t, p)
	_, err := c.Embed(context.Background(), "line one\nline two\r\nline three\rend")
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, []string{"line one line two line three end"}, p.calls[0])
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	c := newClient(t, constant(`[1, 2]`))
	_, err := c.Embed(context.Background(), "hello")

	var de *core.DimensionError
	require.True(t, errors.As(err, &de), "got %v", err)
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 2, de.Actual)
}

func TestEmbed_MalformedPayloads(t *testing.T) {
	for _, payload := range []string{`[]`, `null`, `[[]]`, `{"x":1}`, `[[1,2,3],[4,5,6]]`, `["a","b","c"]`} {
		t.Run(payload, func(t *testing.T) {
			c := newClient(t, constant(payload))
			_, err := c.Embed(context.Background(), "hello")
			assert.True(t, errors.Is(err, core.ErrEmbeddingFormat), "got %v", err)
		})
	}
}

func TestEmbed_DegenerateVector(t *testing.T) {
	c := newClient(t, constant(`[0, 0, 0]`))
	_, err := c.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, core.ErrDegenerateVector))
}

func TestEmbed_EmptyText(t *testing.T) {
	p := constant(`[1,0,0]`)
	c := newClient(t, p)
	_, err := c.Embed(context.Background(), " \n ")
	assert.True(t, errors.Is(err, core.ErrConfiguration))
	assert.Empty(t, p.calls)
}

func TestEmbed_ProviderErrors(t *testing.T) {
	perr := &core.ProviderError{Provider: "fake", StatusCode: 503, Message: "overloaded"}
	c := newClient(t, &fakeProvider{embedF: func(context.Context, []string) ([]json.RawMessage, error) {
		return nil, perr
	}})
	_, err := c.Embed(context.Background(), "hello")
	var got *core.ProviderError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 503, got.StatusCode)
	assert.True(t, got.Retryable())
	assert.True(t, errors.Is(err, core.ErrEmbeddingProvider))

	c = newClient(t, &fakeProvider{embedF: func(context.Context, []string) ([]json.RawMessage, error) {
		return nil, errors.New("connection reset")
	}})
	_, err = c.Embed(context.Background(), "hello")
	assert.True(t, errors.As(err, &got))
	assert.True(t, errors.Is(err, core.ErrEmbeddingProvider))
}

func TestEmbed_Timeout(t *testing.T) {
	p := &fakeProvider{embedF: func(ctx context.Context, _ []string) ([]json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newClient(t, p, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := c.Embed(context.Background(), "hello")
	assert.Less(t, time.Since(start), 2*time.Second)

	var pe *core.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Retryable())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	p := indexed()
	c := newClient(t, p, WithBatchSize(2), WithConcurrency(4))

	texts := make([]string, 11)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, v := range vecs {
		assert.Equal(t, vector.Vector{float64(i + 1), 1, 0}, v)
	}
	assert.Len(t, p.calls, 6)
}

func TestEmbedBatch_ReportsFailingIndex(t *testing.T) {
	p := &fakeProvider{embedF: func(_ context.Context, inputs []string) ([]json.RawMessage, error) {
		out := make([]json.RawMessage, len(inputs))
		for i, in := range inputs {
			out[i] = json.RawMessage(`[1,1,1]`)
			if in == "bad" {
				out[i] = json.RawMessage(`[1,1]`)
			}
		}
		return out, nil
	}}
	c := newClient(t, p, WithBatchSize(2))

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e", "bad", "g"})
	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 5, be.Index)
	var de *core.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestEmbedBatch_Empty(t *testing.T) {
	c := newClient(t, constant(`[1,0,0]`))
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedBatch_RateLimited(t *testing.T) {
	c := newClient(t, indexed(), WithBatchSize(1), WithRateLimit(1000, 1))
	vecs, err := c.EmbedBatch(context.Background(), []string{"text-0", "text-1", "text-2"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "m", 3)
	assert.True(t, errors.Is(err, core.ErrConfiguration))
	_, err = NewClient(constant(`[1]`), "m", 0)
	assert.True(t, errors.Is(err, core.ErrConfiguration))
}

func TestNormalizeInput(t *testing.T) {
	assert.Equal(t, "a b", NormalizeInput("a\nb"))
	assert.Equal(t, "a  b", NormalizeInput("a\n\nb"))
	assert.Equal(t, "plain", NormalizeInput("plain"))
}
