package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/types"
)

func record(id, source string, values ...float32) types.VectorRecord {
	return types.VectorRecord{
		ID:       id,
		Values:   values,
		Metadata: types.RecordMetadata{Source: source, TextChunk: "text of " + id},
	}
}

func TestMemoryStoreRequiresEnsureIndex(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []types.VectorRecord{record("a", "a.txt", 1, 0)}, 10)
	assert.ErrorIs(t, err, types.ErrIndexNotInitialized)

	_, err = s.Query(ctx, []float32{1, 0}, 3, nil)
	assert.ErrorIs(t, err, types.ErrIndexNotInitialized)

	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, types.ErrIndexNotInitialized)

	info, err := s.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotFound, info.Status)
}

func TestMemoryStoreEnsureIndexIsIdempotent(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()

	info, err := s.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.IndexInfo{Name: "docs", Dimension: 2, Metric: MetricCosine, Status: types.StatusReady}, info)

	_, err = s.Upsert(ctx, []types.VectorRecord{record("a", "a.txt", 1, 0)}, 10)
	require.NoError(t, err)

	_, err = s.EnsureIndex(ctx)
	require.NoError(t, err)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.VectorCount)
}

func TestMemoryStoreQueryRanksByCosine(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()
	_, err := s.EnsureIndex(ctx)
	require.NoError(t, err)

	n, err := s.Upsert(ctx, []types.VectorRecord{
		record("far", "b.txt", 0, 1),
		record("near", "a.txt", 1, 0.1),
		record("mid", "a.txt", 1, 1),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := s.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].ID)
	assert.Equal(t, "mid", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	text, ok := matches[0].Text()
	assert.True(t, ok)
	assert.Equal(t, "text of near", text)
	assert.Equal(t, "a.txt", matches[0].Source())
}

func TestMemoryStoreQueryFilter(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()
	_, _ = s.EnsureIndex(ctx)
	_, err := s.Upsert(ctx, []types.VectorRecord{
		record("a1", "a.txt", 1, 0),
		record("b1", "b.txt", 1, 0),
	}, 10)
	require.NoError(t, err)

	matches, err := s.Query(ctx, []float32{1, 0}, 5, types.Filter{types.MetaSource: "b.txt"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b1", matches[0].ID)
}

func TestMemoryStoreEmptyIndexQuery(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()
	_, _ = s.EnsureIndex(ctx)

	matches, err := s.Query(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestMemoryStoreRejectsWrongDimension(t *testing.T) {
	s := NewMemoryStore("docs", 3)
	ctx := context.Background()
	_, _ = s.EnsureIndex(ctx)

	n, err := s.Upsert(ctx, []types.VectorRecord{
		record("ok", "a.txt", 1, 0, 0),
		record("short", "a.txt", 1, 0),
	}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreUpsertOverwritesByID(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()
	_, _ = s.EnsureIndex(ctx)

	for i := 0; i < 3; i++ {
		_, err := s.Upsert(ctx, []types.VectorRecord{record("a.txt_chunk_0", "a.txt", 1, float32(i))}, 10)
		require.NoError(t, err)
	}
	stats, _ := s.Stats(ctx)
	assert.EqualValues(t, 1, stats.VectorCount)
}

func TestMemoryStoreDeleteIndex(t *testing.T) {
	s := NewMemoryStore("docs", 2)
	ctx := context.Background()

	require.NoError(t, s.DeleteIndex(ctx), "deleting a missing index is a no-op")

	_, _ = s.EnsureIndex(ctx)
	_, _ = s.Upsert(ctx, []types.VectorRecord{record("a", "a.txt", 1, 0)}, 10)
	require.NoError(t, s.DeleteIndex(ctx))

	info, err := s.Describe(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotFound, info.Status)

	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, types.ErrIndexNotInitialized)

	_, _ = s.EnsureIndex(ctx)
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.VectorCount)
}

func TestUpsertBatchesContinuesAfterFailure(t *testing.T) {
	recs := make([]types.VectorRecord, 5)
	for i := range recs {
		recs[i] = record(fmt.Sprintf("r%d", i), "a.txt", 1)
	}
	var sizes []int
	n, err := upsertBatches(context.Background(), recs, 2, testLogger(), func(_ context.Context, b []types.VectorRecord) (int, error) {
		sizes = append(sizes, len(b))
		if len(sizes) == 2 {
			return 0, fmt.Errorf("boom")
		}
		return len(b), nil
	})
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, 3, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch at 2")
}

func TestWaitReadyIsBounded(t *testing.T) {
	calls := 0
	err := waitReady(context.Background(), "docs", ReadyPolicy{Attempts: 3, Interval: time.Millisecond}, testLogger(),
		func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIndexNotReady)
	assert.Contains(t, err.Error(), `index "docs" not ready after 3 attempts`)
	assert.Equal(t, 3, calls)
}

func TestWaitReadySucceedsEventually(t *testing.T) {
	calls := 0
	err := waitReady(context.Background(), "docs", ReadyPolicy{Attempts: 5}, testLogger(),
		func(context.Context) (bool, error) {
			calls++
			return calls == 2, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
