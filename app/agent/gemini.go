package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"ragqa/model"
)

// GeminiLLM generates answers with a Gemini model.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

func NewGeminiLLM(baseURL, apiKey, modelName string, timeout time.Duration) (*GeminiLLM, error) {
	if modelName == "" {
		return nil, errors.New("gemini: generation model is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client, err := model.NewGeminiClient(baseURL, apiKey, timeout)
	if err != nil {
		return nil, err
	}
	return &GeminiLLM{client: client, model: model.GeminiModelPath(modelName)}, nil
}

func (g *GeminiLLM) ModelName() string { return g.model }

func (g *GeminiLLM) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked the prompt: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	return resp.Text(), nil
}
