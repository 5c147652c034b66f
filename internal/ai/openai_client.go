package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var ErrOpenAIUnavailable = errors.New("openai client unavailable")

// OpenAIClientConfig targets any OpenAI-compatible server, including the
// /v1 endpoint exposed by Ollama itself.
type OpenAIClientConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	MaxRetries     int
	HTTPClient     *http.Client
	Organization   string
}

type OpenAIClient struct {
	apiKey         string
	baseURL        string
	embeddingModel string
	timeout        time.Duration
	maxRetries     int
	httpClient     *http.Client
	organization   string
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(config.EmbeddingModel) == "" {
		config.EmbeddingModel = "text-embedding-3-small"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &OpenAIClient{
		apiKey:         strings.TrimSpace(config.APIKey),
		baseURL:        strings.TrimSuffix(config.BaseURL, "/"),
		embeddingModel: config.EmbeddingModel,
		timeout:        config.Timeout,
		maxRetries:     config.MaxRetries,
		httpClient:     config.HTTPClient,
		organization:   strings.TrimSpace(config.Organization),
	}
}

func (c *OpenAIClient) Available() bool {
	return c.apiKey != ""
}

func (c *OpenAIClient) Describe(ctx context.Context, imagePath, model string) (string, error) {
	if !c.Available() {
		return "", ErrOpenAIUnavailable
	}
	if strings.TrimSpace(model) == "" {
		return "", errors.New("model is required")
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	dataURL := "data:" + imageMIMEType(imagePath, data) + ";base64," + base64.StdEncoding.EncodeToString(data)
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": DescribePrompt},
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
			},
		}},
		"temperature": 0.2,
		"max_tokens":  64,
	}

	var raw chatCompletionResponse
	if err := c.post(ctx, "/chat/completions", payload, &raw); err != nil {
		return "", err
	}
	if len(raw.Choices) == 0 {
		return "", ErrEmptyDescription
	}

	description := CleanDescription(raw.Choices[0].Message.Content)
	if description == "" {
		return "", ErrEmptyDescription
	}
	return description, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.Available() {
		return nil, ErrOpenAIUnavailable
	}

	payload := map[string]any{
		"model": c.embeddingModel,
		"input": text,
	}

	var raw embeddingsResponse
	if err := c.post(ctx, "/embeddings", payload, &raw); err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 || len(raw.Data[0].Embedding) == 0 {
		return nil, errors.New("openai response without embedding")
	}
	return raw.Data[0].Embedding, nil
}

// post sends payload and retries rate limits, server errors and timeouts.
func (c *OpenAIClient) post(ctx context.Context, path string, payload any, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal openai payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		callErr := c.call(ctx, path, encoded, out)
		if callErr == nil {
			return nil
		}
		lastErr = callErr

		if !isRetryableError(callErr) || attempt == c.maxRetries {
			break
		}

		backoff := time.Duration(350*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown openai error")
	}
	return lastErr
}

func (c *OpenAIClient) call(ctx context.Context, path string, payload []byte, out any) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create openai request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if c.organization != "" {
		httpRequest.Header.Set("OpenAI-Organization", c.organization)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("openai timeout: %w", err)
		}
		return fmt.Errorf("openai transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("read openai body: %w", err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > 700 {
			message = message[:700]
		}
		return &openaiHTTPError{
			StatusCode: httpResponse.StatusCode,
			Message:    message,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode openai response: %w", err)
	}
	return nil
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openaiHTTPError struct {
	StatusCode int
	Message    string
}

func (e *openaiHTTPError) Error() string {
	return fmt.Sprintf("openai status %d: %s", e.StatusCode, e.Message)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *openaiHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "timeout") || strings.Contains(message, "tempor") {
		return true
	}
	return false
}
