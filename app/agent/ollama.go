package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// OllamaLLM completes prompts through Ollama's /api/generate.
type OllamaLLM struct {
	apiURL string
	model  string
	system string
	client *http.Client
}

func NewOllamaLLM(apiURL, model string, timeout time.Duration) *OllamaLLM {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaLLM{
		apiURL: strings.TrimRight(apiURL, "/"),
		model:  model,
		system: "Answer clearly and to the point. Don't add introductions like 'Of course!' or 'Here's the answer:'.",
		client: &http.Client{Timeout: timeout},
	}
}

func (o *OllamaLLM) ModelName() string { return o.model }

func (o *OllamaLLM) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:  o.model,
		System: o.system,
		Prompt: prompt,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil {
		if genResp.Error != "" {
			return "", fmt.Errorf("ollama: %s", genResp.Error)
		}
		if genResp.Response != "" {
			return genResp.Response, nil
		}
	}

	// Some servers stream regardless of stream=false; collect the pieces.
	var sb strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", fmt.Errorf("decode stream: %w", err)
		}
		sb.WriteString(chunk.Response)
	}
	return sb.String(), nil
}
