package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ragqa/loader"
	"ragqa/model"
	"ragqa/store"
	"ragqa/types"
)

// ContextSeparator joins retrieved chunks in the prompt context.
const ContextSeparator = "\n\n---\n\n"

// Answers returned to the user when a query step degrades.
const (
	MsgEmbeddingFailed  = "Sorry, I can't process your question right now (embedding error)."
	MsgNoRelevantInfo   = "Sorry, I couldn't find relevant information in the documents to answer your question."
	MsgNoUsableContext  = "Sorry, I found related entries but couldn't extract their content to answer."
	MsgGenerationFailed = "Sorry, I ran into a problem while generating the answer."
)

const DefaultTopK = 5

// Embedder is the part of model.Embedder the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, purpose model.Purpose) []model.Result
	EmbedOne(ctx context.Context, text string, purpose model.Purpose) ([]float32, error)
}

type Generator interface {
	GenerateAnswer(ctx context.Context, question, context string) (string, error)
}

type Options struct {
	ChunkSize       int
	ChunkOverlap    int
	TopK            int
	UpsertBatchSize int
}

type Pipeline struct {
	splitter    *loader.Splitter
	embedder    Embedder
	store       store.VectorStore
	generator   Generator
	topK        int
	upsertBatch int
	logger      *slog.Logger
}

func New(embedder Embedder, vs store.VectorStore, generator Generator, opts Options) (*Pipeline, error) {
	if embedder == nil || vs == nil || generator == nil {
		return nil, errors.New("pipeline: embedder, store and generator are required")
	}
	splitter, err := loader.NewSplitter(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = store.DefaultUpsertBatch
	}
	return &Pipeline{
		splitter:    splitter,
		embedder:    embedder,
		store:       vs,
		generator:   generator,
		topK:        opts.TopK,
		upsertBatch: opts.UpsertBatchSize,
		logger:      slog.Default().With("component", "pipeline", "index", vs.Name()),
	}, nil
}

func (p *Pipeline) IndexName() string { return p.store.Name() }

func (p *Pipeline) Store() store.VectorStore { return p.store }

// Outcome classifies an indexing run.
type Outcome string

const (
	OutcomeIndexed     Outcome = "indexed"
	OutcomeNoDocuments Outcome = "no_documents"
	OutcomeNoChunks    Outcome = "no_chunks"
	OutcomeNoVectors   Outcome = "no_vectors"
)

type IndexReport struct {
	Path        string
	Outcome     Outcome
	Documents   int
	Chunks      int
	Embedded    int
	Skipped     int
	Upserted    int
	VectorCount int64
	Message     string
}

// Index loads, chunks, embeds and upserts every document under path. Runs
// that have nothing to store are reported through Outcome, not as errors.
func (p *Pipeline) Index(ctx context.Context, path string) (IndexReport, error) {
	start := time.Now()
	report := IndexReport{Path: path}

	p.logger.Info("[INDEX] loading documents", "path", path)
	docs, err := loader.LoadDirectory(path)
	if err != nil {
		return report, err
	}
	report.Documents = len(docs)
	if len(docs) == 0 {
		report.Outcome = OutcomeNoDocuments
		report.Message = fmt.Sprintf("No documents found in '%s'. Add .txt files to index.", path)
		p.logger.Info("[INDEX] no documents found", "path", path)
		return report, nil
	}

	p.logger.Info("[INDEX] splitting documents", "documents", len(docs))
	chunks := p.splitter.SplitDocuments(docs)
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		report.Outcome = OutcomeNoChunks
		report.Message = fmt.Sprintf("No chunks created from documents in '%s'.", path)
		p.logger.Info("[INDEX] no chunks created", "path", path)
		return report, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	p.logger.Info("[INDEX] generating embeddings", "chunks", len(chunks))
	results := p.embedder.EmbedBatch(ctx, texts, model.PurposeDocument)

	records := BuildRecords(chunks, results)
	report.Embedded = len(records)
	report.Skipped = len(chunks) - len(records)
	if report.Skipped > 0 {
		p.logger.Warn("[INDEX] skipped chunks without embeddings", "skipped", report.Skipped)
	}
	if len(records) == 0 {
		report.Outcome = OutcomeNoVectors
		report.Message = fmt.Sprintf("No valid vectors could be created from '%s'; nothing was indexed.", path)
		p.logger.Warn("[INDEX] no valid vectors to upsert")
		return report, nil
	}

	if _, err := p.store.EnsureIndex(ctx); err != nil {
		return report, err
	}

	p.logger.Info("[INDEX] upserting vectors", "count", len(records))
	upserted, err := p.store.Upsert(ctx, records, p.upsertBatch)
	report.Upserted = upserted
	if err != nil {
		if upserted == 0 {
			return report, fmt.Errorf("upsert vectors: %w", err)
		}
		p.logger.Warn("[INDEX] partial upsert", "upserted", upserted, "expected", len(records), "error", err)
	}

	if stats, err := p.store.Stats(ctx); err == nil {
		report.VectorCount = stats.VectorCount
	} else {
		p.logger.Warn("[INDEX] could not read index stats", "error", err)
	}

	report.Outcome = OutcomeIndexed
	report.Message = fmt.Sprintf("Documents from '%s' processed and indexed successfully. Index '%s' now has %d vectors.",
		path, p.store.Name(), report.VectorCount)
	p.logger.Info("[INDEX] done", "documents", report.Documents, "chunks", report.Chunks,
		"upserted", report.Upserted, "vectors", report.VectorCount, "elapsed", time.Since(start))
	return report, nil
}

// BuildRecords pairs chunks with their embeddings, dropping chunks whose
// embedding failed.
func BuildRecords(chunks []types.Chunk, results []model.Result) []types.VectorRecord {
	records := make([]types.VectorRecord, 0, len(chunks))
	for i, c := range chunks {
		if i >= len(results) || !results[i].OK() {
			slog.Debug("[INDEX] skipping chunk due to missing embedding", "chunk", c.ID)
			continue
		}
		records = append(records, types.VectorRecord{
			ID:     c.ID,
			Values: results[i].Values,
			Metadata: types.RecordMetadata{
				Source:    c.Metadata.Source,
				TextChunk: c.Text,
			},
		})
	}
	return records
}

// Query answers a question from the indexed documents. Failing steps
// degrade to a fixed answer; only a blank question is an error.
func (p *Pipeline) Query(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", types.ErrEmptyQuestion
	}
	p.logger.Info("[QUERY] received question", "question", question)

	vector, err := p.embedder.EmbedOne(ctx, question, model.PurposeQuery)
	if err != nil || len(vector) == 0 {
		p.logger.Error("[QUERY] question embedding failed", "error", err)
		return MsgEmbeddingFailed, nil
	}

	matches, err := p.store.Query(ctx, vector, p.topK, nil)
	if err != nil {
		p.logger.Error("[QUERY] retrieval failed", "error", err)
		matches = nil
	}
	if len(matches) == 0 {
		return MsgNoRelevantInfo, nil
	}

	contextText, used := p.buildContext(matches)
	if used == 0 {
		return MsgNoUsableContext, nil
	}

	answer, err := p.generator.GenerateAnswer(ctx, question, contextText)
	if err != nil {
		p.logger.Error("[QUERY] answer generation failed", "error", err)
		return MsgGenerationFailed, nil
	}
	return answer, nil
}

func (p *Pipeline) buildContext(matches []types.Match) (string, int) {
	parts := make([]string, 0, len(matches))
	for i, m := range matches {
		text, ok := m.Text()
		if !ok {
			p.logger.Warn("[SEARCH] match metadata missing text_chunk", "rank", i+1, "id", m.ID)
			continue
		}
		p.logger.Info("[SEARCH] found chunk", "rank", i+1, "source", m.Source(), "score", fmt.Sprintf("%.4f", m.Score), "text", preview(text, 200))
		parts = append(parts, text)
	}
	return strings.Join(parts, ContextSeparator), len(parts)
}

// Status reports the index state and size straight from the store.
func (p *Pipeline) Status(ctx context.Context) (types.IndexStatusResponse, error) {
	return Probe(ctx, p.store)
}

// Probe describes the index without requiring an initialized handle.
func Probe(ctx context.Context, vs store.VectorStore) (types.IndexStatusResponse, error) {
	info, err := vs.Describe(ctx)
	if err != nil {
		return types.IndexStatusResponse{}, err
	}
	resp := types.IndexStatusResponse{
		IndexName: info.Name,
		Status:    info.Status,
		Dimension: info.Dimension,
	}
	if info.Status == types.StatusNotFound {
		return resp, nil
	}
	stats, err := vs.Stats(ctx)
	switch {
	case errors.Is(err, types.ErrIndexNotInitialized):
	case err != nil:
		return types.IndexStatusResponse{}, err
	default:
		resp.VectorCount = stats.VectorCount
		if stats.Dimension > 0 {
			resp.Dimension = stats.Dimension
		}
	}
	return resp, nil
}

// DeleteIndex irreversibly removes the index and everything in it.
func (p *Pipeline) DeleteIndex(ctx context.Context) (string, error) {
	name := p.store.Name()
	p.logger.Warn("[INDEX] deleting index")
	if err := p.store.DeleteIndex(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Index '%s' has been deleted successfully.", name), nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
