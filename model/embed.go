package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// MaxBatchSize is the largest number of texts the embedding APIs accept in
// a single request.
const MaxBatchSize = 100

var ErrEmptyText = errors.New("text to embed is empty")

// Purpose biases the vector space towards short queries or long passages.
// Queries and documents must be embedded with their own purpose.
type Purpose string

const (
	PurposeQuery    Purpose = "RETRIEVAL_QUERY"
	PurposeDocument Purpose = "RETRIEVAL_DOCUMENT"
)

// Provider is one embedding backend. It must return exactly one vector per
// input text, in order, or an error for the whole batch.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)
	ModelName() string
}

// Result is the outcome for a single input text.
type Result struct {
	Values []float32
	Err    error
}

func (r Result) OK() bool {
	return r.Err == nil && len(r.Values) > 0
}

type Options struct {
	BatchSize    int
	FailurePause time.Duration
	// RequestsPerSecond limits calls to the provider; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Embedder splits inputs into provider-sized batches and turns failures into
// per-item results instead of errors.
type Embedder struct {
	provider     Provider
	batchSize    int
	failurePause time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration)
}

func NewEmbedder(p Provider, opts Options) *Embedder {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	if opts.FailurePause < 0 {
		opts.FailurePause = 0
	}
	e := &Embedder{
		provider:     p,
		batchSize:    opts.BatchSize,
		failurePause: opts.FailurePause,
		logger:       slog.Default().With("component", "embedder", "model", p.ModelName()),
		sleep:        sleepContext,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return e
}

// EmbedBatch returns one Result per text, aligned with the input. A failed
// provider call marks every text of that batch as failed.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, purpose Purpose) []Result {
	results := make([]Result, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		e.logger.Info("[EMBEDDER] generating embeddings", "batch", len(batch), "offset", start, "purpose", purpose)
		vectors, err := e.embed(ctx, batch, purpose)
		if err != nil {
			e.logger.Error("[EMBEDDER] batch failed", "offset", start, "batch", len(batch), "error", err)
			for range batch {
				results = append(results, Result{Err: err})
			}
			e.sleep(ctx, e.failurePause)
			continue
		}
		for _, v := range vectors {
			if len(v) == 0 {
				results = append(results, Result{Err: errors.New("empty embedding returned")})
				continue
			}
			results = append(results, Result{Values: v})
		}
	}
	return results
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vectors, err := e.embed(ctx, []string{text}, purpose)
	if err != nil {
		e.logger.Error("[EMBEDDER] embedding failed", "text", preview(text, 50), "error", err)
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return vectors[0], nil
}

func (e *Embedder) embed(ctx context.Context, batch []string, purpose Purpose) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	vectors, err := e.provider.EmbedTexts(ctx, batch, purpose)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(vectors), len(batch))
	}
	return vectors, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
