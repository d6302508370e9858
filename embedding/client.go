package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// Client validates provider output into vectors of one fixed dimension.
// It never retries: provider failures surface as *core.ProviderError and
// the caller decides.
type Client struct {
	provider    Provider
	model       string
	dimension   int
	timeout     time.Duration
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBatchSize sets how many inputs go into one provider request.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets how many provider requests EmbedBatch keeps in flight.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimit paces provider requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for model, expecting vectors of length dimension.
func NewClient(provider Provider, model string, dimension int, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, core.Configuration("embedding provider is required")
	}
	if dimension <= 0 {
		return nil, core.Configuration("embedding dimension must be positive, got %d", dimension)
	}
	c := &Client{
		provider:    provider,
		model:       model,
		dimension:   dimension,
		batchSize:   16,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "embed", "provider", provider.Name())
	return c, nil
}

// Dimension returns the expected vector length.
func (c *Client) Dimension() int { return c.dimension }

// Model returns the model name sent to the provider.
func (c *Client) Model() string { return c.model }

// Embed returns the embedding of one text.
func (c *Client) Embed(ctx context.Context, text string) (vector.Vector, error) {
	out, err := c.call(ctx, []string{text})
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return nil, be.Err
		}
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts and returns vectors in input order. Requests are
// split by the batch size and issued with the configured concurrency; the
// first failure cancels the rest and is reported as a *BatchError.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([]vector.Vector, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.call(gctx, texts[start:end])
			if err != nil {
				var be *BatchError
				if errors.As(err, &be) {
					be.Index += start
					return be
				}
				return &BatchError{Index: start, Err: err}
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, texts []string) ([]vector.Vector, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = NormalizeInput(t)
		if strings.TrimSpace(inputs[i]) == "" {
			return nil, &BatchError{Index: i, Err: core.Configuration("cannot embed empty text")}
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &core.ProviderError{Provider: c.provider.Name(), Err: err}
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raws, err := c.provider.Embed(callCtx, c.model, inputs)
	if err != nil {
		c.logger.Debug("embed failed", "inputs", len(inputs), "error", err)
		return nil, asProviderError(c.provider.Name(), err)
	}
	if len(raws) != len(inputs) {
		return nil, core.FormatError(c.provider.Name(), "expected %d embeddings, got %d", len(inputs), len(raws))
	}

	out := make([]vector.Vector, len(raws))
	for i, raw := range raws {
		v, err := c.decode(raw)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		out[i] = v
	}

	c.logger.Debug("embedded", "inputs", len(inputs), "elapsed", time.Since(start))
	return out, nil
}

// decode unwraps a flat or singleton-nested payload and validates it.
func (c *Client) decode(raw json.RawMessage) (vector.Vector, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, core.FormatError(c.provider.Name(), "empty embedding")
	}

	var nested []json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		first := bytes.TrimSpace(nested[0])
		if len(first) > 0 && first[0] == '[' {
			if len(nested) != 1 {
				return nil, core.FormatError(c.provider.Name(), "expected one embedding, got a batch of %d", len(nested))
			}
			raw = first
		}
	}

	v, err := vector.From(raw)
	if err != nil {
		return nil, core.FormatError(c.provider.Name(), "decode embedding: %v", err)
	}
	if len(v) == 0 {
		return nil, core.FormatError(c.provider.Name(), "empty embedding")
	}
	if err := vector.Validate(v, c.dimension); err != nil {
		return nil, err
	}
	return v, nil
}

// NormalizeInput collapses line breaks to single spaces.
func NormalizeInput(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(text)
}

func asProviderError(provider string, err error) error {
	var pe *core.ProviderError
	if errors.As(err, &pe) || errors.Is(err, core.ErrEmbeddingFormat) {
		return err
	}
	return &core.ProviderError{Provider: provider, Err: err}
}

// BatchError reports which input of a batch failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embed input %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
