package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragqa/types"
)

const (
	MetricCosine = "cosine"

	DefaultDimension     = 768
	DefaultUpsertBatch   = 100
	DefaultReadyAttempts = 30
	DefaultReadyInterval = time.Second
)

// VectorStore owns the lifecycle of one named vector index.
type VectorStore interface {
	Name() string
	EnsureIndex(context.Context) (types.IndexInfo, error)
	Upsert(ctx context.Context, records []types.VectorRecord, batchSize int) (int, error)
	Query(ctx context.Context, vector []float32, topK int, filter types.Filter) ([]types.Match, error)
	Stats(context.Context) (types.IndexStats, error)
	// Describe probes the backend without requiring EnsureIndex.
	Describe(context.Context) (types.IndexInfo, error)
	DeleteIndex(context.Context) error
	Close() error
}

// ReadyPolicy bounds how long EnsureIndex waits for a new index.
type ReadyPolicy struct {
	Attempts int
	Interval time.Duration
}

func (p ReadyPolicy) withDefaults() ReadyPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultReadyAttempts
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}

// waitReady calls probe until it reports ready or the attempts run out.
func waitReady(ctx context.Context, name string, p ReadyPolicy, logger *slog.Logger, probe func(context.Context) (bool, error)) error {
	p = p.withDefaults()
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		ready, err := probe(ctx)
		if err == nil && ready {
			return nil
		}
		lastErr = err
		logger.Info("[STORE] waiting for index", "index", name, "attempt", attempt, "of", p.Attempts, "error", err)
		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}
	err := fmt.Errorf("index %q not ready after %d attempts: %w", name, p.Attempts, types.ErrIndexNotReady)
	if lastErr != nil {
		err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	return err
}

// acceptRecords drops records whose vector length differs from the index
// dimension.
func acceptRecords(records []types.VectorRecord, dimension int, logger *slog.Logger) []types.VectorRecord {
	valid := make([]types.VectorRecord, 0, len(records))
	for _, r := range records {
		if len(r.Values) != dimension {
			logger.Warn("[STORE] rejecting record with wrong dimension", "id", r.ID, "got", len(r.Values), "want", dimension)
			continue
		}
		valid = append(valid, r)
	}
	return valid
}

// upsertBatches submits records in sequential batches. A failed batch counts
// zero and the rest continue; the returned error joins the batch failures.
func upsertBatches(ctx context.Context, records []types.VectorRecord, batchSize int, logger *slog.Logger, send func(context.Context, []types.VectorRecord) (int, error)) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatch
	}
	var (
		total int
		errs  []error
	)
	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		end := min(start+batchSize, len(records))
		n, err := send(ctx, records[start:end])
		if err != nil {
			logger.Error("[STORE] upsert batch failed", "offset", start, "batch", end-start, "error", err)
			errs = append(errs, fmt.Errorf("batch at %d: %w", start, err))
			continue
		}
		logger.Info("[STORE] upserted batch", "offset", start, "count", n)
		total += n
	}
	return total, errors.Join(errs...)
}

func recordMetadata(m types.RecordMetadata) map[string]any {
	return map[string]any{
		types.MetaSource:    m.Source,
		types.MetaTextChunk: m.TextChunk,
	}
}
