package ai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

type OllamaClientConfig struct {
	Host           string
	EmbeddingModel string
	Timeout        time.Duration
}

// OllamaClient talks to a local Ollama server through langchaingo. Vision
// models are created lazily, one per model name.
type OllamaClient struct {
	host    string
	timeout time.Duration

	mu     sync.Mutex
	models map[string]*ollama.LLM

	embedder embeddings.Embedder
}

func NewOllamaClient(config OllamaClientConfig) (*OllamaClient, error) {
	if strings.TrimSpace(config.Host) == "" {
		config.Host = "http://localhost:11434"
	}
	if strings.TrimSpace(config.EmbeddingModel) == "" {
		config.EmbeddingModel = "nomic-embed-text"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	embedLLM, err := ollama.New(
		ollama.WithModel(config.EmbeddingModel),
		ollama.WithServerURL(config.Host),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	return &OllamaClient{
		host:     config.Host,
		timeout:  config.Timeout,
		models:   make(map[string]*ollama.LLM),
		embedder: embedder,
	}, nil
}

func (c *OllamaClient) Describe(ctx context.Context, imagePath, model string) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("model is required")
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	llm, err := c.model(model)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(imageMIMEType(imagePath, data), data),
			llms.TextPart(DescribePrompt),
		},
	}}
	response, err := llm.GenerateContent(callCtx, messages)
	if err != nil {
		return "", fmt.Errorf("ollama describe: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", ErrEmptyDescription
	}

	description := CleanDescription(response.Choices[0].Content)
	if description == "" {
		return "", ErrEmptyDescription
	}
	return description, nil
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	vector, err := c.embedder.EmbedQuery(callCtx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return vector, nil
}

func (c *OllamaClient) model(name string) (*ollama.LLM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if llm, ok := c.models[name]; ok {
		return llm, nil
	}
	llm, err := ollama.New(
		ollama.WithModel(name),
		ollama.WithServerURL(c.host),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama model %s: %w", name, err)
	}
	c.models[name] = llm
	return llm, nil
}
