package model

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiEmbedder embeds text through the Gemini API batch embedding call.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions requests a reduced output size; zero keeps the model default.
	Dimensions int
	Timeout    time.Duration
}

// NewGeminiClient returns a Gemini API client authenticated with an API key.
// baseURL is the service root without the API version.
func NewGeminiClient(baseURL, apiKey string, timeout time.Duration) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/") + "/"},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return client, nil
}

func NewGeminiEmbedder(cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: embedding model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client, err := NewGeminiClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{
		client:     client,
		model:      GeminiModelPath(cfg.Model),
		dimensions: cfg.Dimensions,
	}, nil
}

// GeminiModelPath returns the model in "models/<id>" form.
func GeminiModelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func (e *GeminiEmbedder) ModelName() string { return e.model }

func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: string(purpose)}
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb != nil {
			out[i] = emb.Values
		}
	}
	return out, nil
}
