package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ragqa/pipeline"
	"ragqa/store"
	"ragqa/types"
)

var ErrPipelineUnavailable = errors.New("pipeline unavailable")

// BuildFunc constructs a ready pipeline.
type BuildFunc func(ctx context.Context) (*pipeline.Pipeline, error)

// StoreFunc opens a vector store for status probes.
type StoreFunc func(ctx context.Context) (store.VectorStore, error)

// Provider owns the pipeline. When construction fails at startup it keeps
// the error and retries exactly once, on first use.
type Provider struct {
	build     BuildFunc
	openStore StoreFunc
	logger    *slog.Logger

	mu      sync.Mutex
	p       *pipeline.Pipeline
	err     error
	retried bool
}

func NewProvider(ctx context.Context, build BuildFunc, openStore StoreFunc) *Provider {
	pr := &Provider{
		build:     build,
		openStore: openStore,
		logger:    slog.Default().With("component", "provider"),
	}
	pr.p, pr.err = build(ctx)
	if pr.err != nil {
		pr.logger.Error("CRITICAL: failed to initialize RAG pipeline", "error", pr.err)
	} else {
		pr.logger.Info("RAG pipeline initialized", "index", pr.p.IndexName())
	}
	return pr
}

func (pr *Provider) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.p != nil {
		return pr.p, nil
	}
	if !pr.retried {
		pr.retried = true
		pr.logger.Info("attempting to re-initialize RAG pipeline")
		pr.p, pr.err = pr.build(ctx)
		if pr.err == nil {
			pr.logger.Info("RAG pipeline re-initialized", "index", pr.p.IndexName())
			return pr.p, nil
		}
		pr.logger.Error("CRITICAL: failed to re-initialize RAG pipeline", "error", pr.err)
	}
	return nil, fmt.Errorf("%w: %v", ErrPipelineUnavailable, pr.err)
}

// Probe opens a short-lived store connection and describes the index.
func (pr *Provider) Probe(ctx context.Context) (types.IndexStatusResponse, error) {
	if pr.openStore == nil {
		return types.IndexStatusResponse{}, errors.New("no store available for probing")
	}
	vs, err := pr.openStore(ctx)
	if err != nil {
		return types.IndexStatusResponse{}, err
	}
	defer vs.Close()
	return pipeline.Probe(ctx, vs)
}

func (pr *Provider) Close() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.p == nil {
		return nil
	}
	return pr.p.Store().Close()
}
