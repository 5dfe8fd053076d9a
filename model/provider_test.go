package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type geminiEmbedBody struct {
	Requests []struct {
		Model   string `json:"model"`
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		TaskType             string `json:"taskType"`
		OutputDimensionality int    `json:"outputDimensionality"`
	} `json:"requests"`
}

func TestGeminiEmbedderRequestShape(t *testing.T) {
	var got geminiEmbedBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/text-embedding-004:batchEmbedContents", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2]},{"values":[0.3,0.4]}]}`))
	}))
	defer srv.Close()

	e, err := NewGeminiEmbedder(GeminiConfig{
		BaseURL:    srv.URL,
		APIKey:     "secret",
		Model:      "text-embedding-004",
		Dimensions: 768,
	})
	require.NoError(t, err)
	assert.Equal(t, "models/text-embedding-004", e.ModelName())

	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"}, PurposeDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)

	require.Len(t, got.Requests, 2)
	assert.Equal(t, "models/text-embedding-004", got.Requests[0].Model)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", got.Requests[0].TaskType)
	assert.Equal(t, 768, got.Requests[0].OutputDimensionality)
	require.Len(t, got.Requests[1].Content.Parts, 1)
	assert.Equal(t, "b", got.Requests[1].Content.Parts[0].Text)
}

func TestGeminiEmbedderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	e, err := NewGeminiEmbedder(GeminiConfig{BaseURL: srv.URL, APIKey: "k", Model: "models/m"})
	require.NoError(t, err)

	_, err = e.EmbedTexts(context.Background(), []string{"a"}, PurposeQuery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewGeminiEmbedderRequiresKey(t *testing.T) {
	_, err := NewGeminiEmbedder(GeminiConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewGeminiEmbedder(GeminiConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestOllamaEmbedderPrefixesAndNormalizes(t *testing.T) {
	var got OllamaEmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"embeddings":[[3,4]]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "nomic-embed-text", 0)
	vecs, err := e.EmbedTexts(context.Background(), []string{"hello"}, PurposeQuery)
	require.NoError(t, err)

	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, []string{"search_query: hello"}, got.Input)
	require.Len(t, vecs, 1)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
}

func TestOllamaEmbedderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "missing", 0).EmbedTexts(context.Background(), []string{"x"}, PurposeDocument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestNormalize64(t *testing.T) {
	v := normalize64([]float64{1, 1, 1, 1})
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
	assert.Equal(t, []float64{0, 0}, normalize64([]float64{0, 0}))
}
