package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragqa/types"
)

// payloadChunkID keeps the original record id; Qdrant only accepts UUIDs or
// unsigned integers as point ids.
const payloadChunkID = "chunk_id"

var errCollectionNotFound = errors.New("collection not found")

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
	Ready      ReadyPolicy
}

// QdrantStore is a REST client to one Qdrant collection with cosine distance.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	ready      ReadyPolicy
	client     *http.Client
	logger     *slog.Logger

	mu          sync.RWMutex
	dimension   int
	initialized bool
}

type qdrantCollectionInfo struct {
	Result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, errors.New("qdrant: url and collection are required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		ready:      cfg.Ready,
		client:     &http.Client{Timeout: timeout},
		logger:     slog.Default().With("store", "qdrant", "index", cfg.Collection),
	}, nil
}

func (s *QdrantStore) Name() string { return s.collection }

func (s *QdrantStore) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *QdrantStore) EnsureIndex(ctx context.Context) (types.IndexInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.getCollection(ctx)
	switch {
	case errors.Is(err, errCollectionNotFound):
		s.logger.Info("[STORE] creating index", "dimension", s.dimension, "metric", MetricCosine)
		body := map[string]any{
			"vectors": map[string]any{
				"size":     s.dimension,
				"distance": "Cosine",
			},
		}
		status, err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil)
		// 409: created concurrently by someone else
		if err != nil && status != http.StatusConflict {
			return types.IndexInfo{}, fmt.Errorf("create index %q: %w", s.collection, err)
		}
	case err != nil:
		return types.IndexInfo{}, fmt.Errorf("check index %q: %w", s.collection, err)
	default:
		if size := info.Result.Config.Params.Vectors.Size; size > 0 && size != s.dimension {
			s.logger.Warn("[STORE] existing index has a different dimension", "existing", size, "configured", s.dimension)
			s.dimension = size
		}
		s.logger.Info("[STORE] connecting to existing index", "dimension", s.dimension)
	}

	probe := func(ctx context.Context) (bool, error) {
		info, err := s.getCollection(ctx)
		if err != nil {
			return false, err
		}
		return info.Result.Status == "green", nil
	}
	if err := waitReady(ctx, s.collection, s.ready, s.logger, probe); err != nil {
		return types.IndexInfo{}, err
	}
	s.initialized = true

	return types.IndexInfo{Name: s.collection, Dimension: s.dimension, Metric: MetricCosine, Status: types.StatusReady}, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, records []types.VectorRecord, batchSize int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return 0, types.ErrIndexNotInitialized
	}

	valid := acceptRecords(records, s.dimension, s.logger)
	return upsertBatches(ctx, valid, batchSize, s.logger, func(ctx context.Context, batch []types.VectorRecord) (int, error) {
		points := make([]qdrantPoint, len(batch))
		for i, r := range batch {
			payload := recordMetadata(r.Metadata)
			payload[payloadChunkID] = r.ID
			points[i] = qdrantPoint{ID: PointID(r.ID), Vector: r.Values, Payload: payload}
		}
		body := map[string]any{"points": points}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
			return 0, err
		}
		return len(batch), nil
	})
}

func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int, filter types.Filter) ([]types.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, types.ErrIndexNotInitialized
	}
	if topK <= 0 {
		return []types.Match{}, nil
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filter) > 0 {
		req["filter"] = qdrantFilter(filter)
	}

	var resp qdrantSearchResponse
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	matches := make([]types.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := fmt.Sprint(r.ID)
		if v, ok := r.Payload[payloadChunkID].(string); ok {
			id = v
			delete(r.Payload, payloadChunkID)
		}
		matches = append(matches, types.Match{ID: id, Score: r.Score, Metadata: r.Payload})
	}
	return matches, nil
}

func (s *QdrantStore) Stats(ctx context.Context) (types.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return types.IndexStats{}, types.ErrIndexNotInitialized
	}

	info, err := s.getCollection(ctx)
	if err != nil {
		return types.IndexStats{}, err
	}
	return types.IndexStats{
		VectorCount: info.Result.PointsCount,
		Dimension:   info.Result.Config.Params.Vectors.Size,
	}, nil
}

func (s *QdrantStore) Describe(ctx context.Context) (types.IndexInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := types.IndexInfo{Name: s.collection, Dimension: s.dimension, Metric: MetricCosine, Status: types.StatusNotFound}
	info, err := s.getCollection(ctx)
	if errors.Is(err, errCollectionNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if size := info.Result.Config.Params.Vectors.Size; size > 0 {
		out.Dimension = size
	}
	out.Status = types.StatusInitializing
	if info.Result.Status == "green" {
		out.Status = types.StatusReady
	}
	return out, nil
}

func (s *QdrantStore) DeleteIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = false
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
	if status == http.StatusNotFound {
		s.logger.Info("[STORE] index does not exist, nothing to delete")
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete index %q: %w", s.collection, err)
	}
	s.logger.Info("[STORE] index deleted")
	return nil
}

func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) getCollection(ctx context.Context) (qdrantCollectionInfo, error) {
	var info qdrantCollectionInfo
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &info)
	if status == http.StatusNotFound {
		return info, errCollectionNotFound
	}
	return info, err
}

// do sends a JSON request and decodes the response into out when non-nil.
// The status code is returned even when err is set.
func (s *QdrantStore) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// PointID maps a record id to the deterministic UUID used as Qdrant point id.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(recordID)).String()
}

func qdrantFilter(filter types.Filter) map[string]any {
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}
