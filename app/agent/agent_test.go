package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	prompts []string
	answer  string
	err     error
}

func (f *fakeLLM) ModelName() string { return "fake" }

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func newTestAnswerer(llm LLM) *Answerer {
	a := NewAnswerer(llm)
	a.countTokens = func(s string) (int, error) { return len(strings.Fields(s)), nil }
	return a
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("What is RAG?", "RAG combines retrieval with generation.")

	assert.True(t, strings.HasPrefix(p, "Answer based on the information provided."))
	assert.Contains(t, p, "Reference information:\n---\nRAG combines retrieval with generation.\n---")
	assert.Contains(t, p, "Question: What is RAG?")
	assert.True(t, strings.HasSuffix(p, "Answer:"))
}

func TestGenerateAnswer(t *testing.T) {
	llm := &fakeLLM{answer: "  Retrieval augmented generation.\n"}
	a := newTestAnswerer(llm)

	answer, err := a.GenerateAnswer(context.Background(), "What is RAG?", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "  Retrieval augmented generation.\n", answer)
	require.Len(t, llm.prompts, 1)
	assert.Equal(t, BuildPrompt("What is RAG?", "ctx"), llm.prompts[0])
}

func TestGenerateAnswerErrors(t *testing.T) {
	boom := errors.New("quota")
	_, err := newTestAnswerer(&fakeLLM{err: boom}).GenerateAnswer(context.Background(), "q", "c")
	assert.ErrorIs(t, err, boom)

}

func TestGenerateAnswerReturnsEmptyCompletion(t *testing.T) {
	answer, err := newTestAnswerer(&fakeLLM{answer: ""}).GenerateAnswer(context.Background(), "q", "c")
	require.NoError(t, err)
	assert.Empty(t, answer)
}

func TestGenerateAnswerIgnoresTokenCountFailure(t *testing.T) {
	a := NewAnswerer(&fakeLLM{answer: "ok"})
	a.countTokens = func(string) (int, error) { return 0, errors.New("no encoding") }

	answer, err := a.GenerateAnswer(context.Background(), "q", "c")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
}

func TestOllamaLLM(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"forty-two","done":true}`))
	}))
	defer srv.Close()

	out, err := NewOllamaLLM(srv.URL, "llama3", 0).Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "prompt", got.Prompt)
	assert.False(t, got.Stream)
}

func TestOllamaLLMStreamedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"response\":\"forty\"}\n{\"response\":\"-two\"}\n"))
	}))
	defer srv.Close()

	out, err := NewOllamaLLM(srv.URL, "llama3", 0).Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
}

func TestGeminiLLM(t *testing.T) {
	var got struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"forty"},{"text":"-two"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	llm, err := NewGeminiLLM(srv.URL, "k", "gemini-1.5-flash", 0)
	require.NoError(t, err)
	assert.Equal(t, "models/gemini-1.5-flash", llm.ModelName())

	out, err := llm.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", out)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "prompt", got.Contents[0].Parts[0].Text)
}

func TestGeminiLLMFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	llm, err := NewGeminiLLM(srv.URL, "k", "m", 0)
	require.NoError(t, err)
	_, err = llm.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")

	_, err = NewGeminiLLM("", "", "m", 0)
	assert.Error(t, err)
	_, err = NewGeminiLLM("", "k", "", 0)
	assert.Error(t, err)
}
