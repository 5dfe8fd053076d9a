package store

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"ragqa/types"
)

type memoryRecord struct {
	values   []float32
	metadata map[string]any
}

// MemoryStore keeps vectors in process and ranks them by brute-force cosine
// similarity.
type MemoryStore struct {
	mu        sync.RWMutex
	name      string
	dimension int
	exists    bool
	ready     bool
	records   map[string]memoryRecord
	logger    *slog.Logger
}

func NewMemoryStore(name string, dimension int) *MemoryStore {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &MemoryStore{
		name:      name,
		dimension: dimension,
		logger:    slog.Default().With("store", "memory", "index", name),
	}
}

func (s *MemoryStore) Name() string { return s.name }

func (s *MemoryStore) EnsureIndex(_ context.Context) (types.IndexInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		s.logger.Info("[STORE] creating index", "dimension", s.dimension)
		s.exists = true
		s.records = make(map[string]memoryRecord)
	}
	s.ready = true
	return s.info(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, records []types.VectorRecord, batchSize int) (int, error) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready {
		return 0, types.ErrIndexNotInitialized
	}

	valid := acceptRecords(records, s.dimension, s.logger)
	return upsertBatches(ctx, valid, batchSize, s.logger, func(_ context.Context, batch []types.VectorRecord) (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.ready {
			return 0, types.ErrIndexNotInitialized
		}
		for _, r := range batch {
			s.records[r.ID] = memoryRecord{
				values:   append([]float32(nil), r.Values...),
				metadata: recordMetadata(r.Metadata),
			}
		}
		return len(batch), nil
	})
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, topK int, filter types.Filter) ([]types.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, types.ErrIndexNotInitialized
	}
	if topK <= 0 {
		return []types.Match{}, nil
	}

	matches := make([]types.Match, 0, len(s.records))
	for id, rec := range s.records {
		if !matchesFilter(rec.metadata, filter) {
			continue
		}
		meta := make(map[string]any, len(rec.metadata))
		for k, v := range rec.metadata {
			meta[k] = v
		}
		matches = append(matches, types.Match{
			ID:       id,
			Score:    cosineSimilarity(vector, rec.values),
			Metadata: meta,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Stats(_ context.Context) (types.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return types.IndexStats{}, types.ErrIndexNotInitialized
	}
	return types.IndexStats{VectorCount: int64(len(s.records)), Dimension: s.dimension}, nil
}

func (s *MemoryStore) Describe(_ context.Context) (types.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info(), nil
}

func (s *MemoryStore) DeleteIndex(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		s.logger.Info("[STORE] index does not exist, nothing to delete")
		s.ready = false
		return nil
	}
	s.exists = false
	s.ready = false
	s.records = nil
	s.logger.Info("[STORE] index deleted")
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) info() types.IndexInfo {
	info := types.IndexInfo{Name: s.name, Dimension: s.dimension, Metric: MetricCosine, Status: types.StatusNotFound}
	if s.exists {
		info.Status = types.StatusReady
	}
	return info
}

func matchesFilter(meta map[string]any, filter types.Filter) bool {
	for k, want := range filter {
		got, ok := meta[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
