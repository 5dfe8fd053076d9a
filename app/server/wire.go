package server

import (
	"context"
	"fmt"

	"ragqa/app/agent"
	"ragqa/config"
	"ragqa/model"
	"ragqa/pipeline"
	"ragqa/store"
)

func readyPolicy(cfg *config.Config) store.ReadyPolicy {
	return store.ReadyPolicy{Attempts: cfg.ReadyAttempts, Interval: cfg.ReadyInterval}
}

// NewStore opens the configured vector store backend.
func NewStore(ctx context.Context, cfg *config.Config) (store.VectorStore, error) {
	switch cfg.VectorStore {
	case config.StorePostgres:
		return store.NewPostgresStore(ctx, store.PostgresConfig{
			ConnString: cfg.PostgresConnString(),
			IndexName:  cfg.IndexName,
			Dimension:  cfg.VectorDimension,
			Ready:      readyPolicy(cfg),
		})
	case config.StoreQdrant:
		return store.NewQdrantStore(store.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.IndexName,
			Dimension:  cfg.VectorDimension,
			Timeout:    cfg.HTTPTimeout,
			Ready:      readyPolicy(cfg),
		})
	case config.StoreMemory:
		return store.NewMemoryStore(cfg.IndexName, cfg.VectorDimension), nil
	}
	return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore)
}

func NewEmbeddingProvider(cfg *config.Config) (model.Provider, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		return model.NewGeminiEmbedder(model.GeminiConfig{
			BaseURL:    cfg.GeminiBaseURL,
			APIKey:     cfg.GoogleAPIKey,
			Model:      cfg.GeminiEmbeddingModel,
			Dimensions: cfg.VectorDimension,
			Timeout:    cfg.HTTPTimeout,
		})
	case config.ProviderOllama:
		return model.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaEmbedModel, cfg.HTTPTimeout), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
}

func NewLLM(cfg *config.Config) (agent.LLM, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		return agent.NewGeminiLLM(cfg.GeminiBaseURL, cfg.GoogleAPIKey, cfg.GeminiGenerationModel, cfg.HTTPTimeout)
	case config.ProviderOllama:
		return agent.NewOllamaLLM(cfg.OllamaURL, cfg.OllamaLLMModel, cfg.HTTPTimeout), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
}

// Components are the external collaborators a pipeline is built from.
type Components struct {
	Embeddings model.Provider
	Store      store.VectorStore
	LLM        agent.LLM
}

// Assemble wires components into a pipeline and connects to (or creates)
// the index. The store is closed when assembly fails.
func Assemble(ctx context.Context, cfg *config.Config, c Components) (*pipeline.Pipeline, error) {
	embedder := model.NewEmbedder(c.Embeddings, model.Options{
		BatchSize:         cfg.EmbedBatchSize,
		FailurePause:      cfg.EmbedFailurePause,
		RequestsPerSecond: cfg.EmbedRPS,
		Burst:             cfg.EmbedBurst,
	})
	p, err := pipeline.New(embedder, c.Store, agent.NewAnswerer(c.LLM), pipeline.Options{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		TopK:            cfg.TopK,
		UpsertBatchSize: cfg.UpsertBatchSize,
	})
	if err != nil {
		c.Store.Close()
		return nil, err
	}
	if _, err := c.Store.EnsureIndex(ctx); err != nil {
		c.Store.Close()
		return nil, fmt.Errorf("ensure index: %w", err)
	}
	return p, nil
}

// Builder returns a BuildFunc that validates cfg and constructs every
// collaborator from it.
func Builder(cfg *config.Config) BuildFunc {
	return func(ctx context.Context) (*pipeline.Pipeline, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		embeddings, err := NewEmbeddingProvider(cfg)
		if err != nil {
			return nil, err
		}
		llm, err := NewLLM(cfg)
		if err != nil {
			return nil, err
		}
		vs, err := NewStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		return Assemble(ctx, cfg, Components{Embeddings: embeddings, Store: vs, LLM: llm})
	}
}

// StoreOpener returns a StoreFunc for status probes.
func StoreOpener(cfg *config.Config) StoreFunc {
	return func(ctx context.Context) (store.VectorStore, error) {
		return NewStore(ctx, cfg)
	}
}
