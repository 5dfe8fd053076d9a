package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// LLM is a text completion backend.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

const promptTemplate = `Answer based on the information provided. If you do not find the relevant information, please say you don't know, do not try to make up an answer. Only use the information provided in the "Reference information" to answer the question. Do not add any additional information.

Reference information:
---
%s
---

Question: %s

Answer:`

// BuildPrompt renders the grounded-answer prompt.
func BuildPrompt(question, context string) string {
	return fmt.Sprintf(promptTemplate, context, question)
}

// Answerer turns a question and retrieved context into a model answer.
type Answerer struct {
	llm         LLM
	logger      *slog.Logger
	countTokens func(string) (int, error)
}

func NewAnswerer(llm LLM) *Answerer {
	return &Answerer{
		llm:         llm,
		logger:      slog.Default().With("component", "answerer", "model", llm.ModelName()),
		countTokens: CountTokens,
	}
}

// GenerateAnswer returns the raw completion. Failures are returned to the
// caller, which decides what the user sees.
func (a *Answerer) GenerateAnswer(ctx context.Context, question, context string) (string, error) {
	start := time.Now()
	defer func() {
		a.logger.Info("[LLM] answer took", "elapsed", time.Since(start))
	}()

	prompt := BuildPrompt(question, context)
	if count, err := a.countTokens(prompt); err == nil {
		a.logger.Info("[LLM] prompt size", "tokens", count, "chars", len(prompt))
	} else {
		a.logger.Debug("[LLM] token count unavailable", "error", err)
	}

	answer, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		a.logger.Error("[LLM] generation failed", "error", err)
		return "", err
	}
	return answer, nil
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// CountTokens approximates the prompt size with the cl100k encoding.
func CountTokens(text string) (int, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.EncodingForModel("gpt-3.5-turbo")
	})
	if encErr != nil {
		return 0, encErr
	}
	return len(enc.Encode(text, nil, nil)), nil
}
