package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/time/rate"

	"github.com/Cavedragon13/ai-image-organizer/internal/cache"
)

// RateLimited shares one request budget across every job calling the
// wrapped client.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

func NewRateLimited(next Client, requestsPerSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Describe(ctx context.Context, imagePath, model string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Describe(ctx, imagePath, model)
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Embed(ctx, text)
}

// Cached serves repeated describe and embed calls from a cache.Store.
// Descriptions are keyed by model and file content, embeddings by embedding
// model and text. Cache failures are logged and never fail the call.
type Cached struct {
	next           Client
	store          cache.Store
	embeddingModel string
	logger         *slog.Logger
}

func NewCached(next Client, store cache.Store, embeddingModel string, logger *slog.Logger) *Cached {
	return &Cached{next: next, store: store, embeddingModel: embeddingModel, logger: logger}
}

func (c *Cached) Describe(ctx context.Context, imagePath, model string) (string, error) {
	digest, err := fileDigest(imagePath)
	if err != nil {
		return "", fmt.Errorf("digest image: %w", err)
	}
	key := cache.BuildKey("describe", model, digest)

	if value, ok := c.lookup(ctx, key); ok {
		return string(value), nil
	}

	description, err := c.next.Describe(ctx, imagePath, model)
	if err != nil {
		return "", err
	}
	c.save(ctx, key, []byte(description))
	return description, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.BuildKey("embed", c.embeddingModel, text)

	if value, ok := c.lookup(ctx, key); ok {
		var vector []float32
		if err := json.Unmarshal(value, &vector); err == nil && len(vector) > 0 {
			return vector, nil
		}
	}

	vector, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(vector); err == nil {
		c.save(ctx, key, encoded)
	}
	return vector, nil
}

func (c *Cached) lookup(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", "error", err)
		return nil, false
	}
	return value, ok
}

func (c *Cached) save(ctx context.Context, key string, value []byte) {
	if err := c.store.Set(ctx, key, value); err != nil {
		c.logger.Warn("cache store failed", "error", err)
	}
}

func fileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
