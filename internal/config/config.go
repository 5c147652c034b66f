// Package config loads organizer settings from defaults, an optional TOML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Jobs    JobsConfig    `toml:"jobs"`
	AI      AIConfig      `toml:"ai"`
	Cache   CacheConfig   `toml:"cache"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port           string   `toml:"port"`
	AuthToken      string   `toml:"auth_token"`
	CORSOrigins    []string `toml:"cors_allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

type JobsConfig struct {
	WorkerPoolSize      int     `toml:"worker_pool_size"`
	QueueCapacity       int     `toml:"queue_capacity"`
	DefaultModel        string  `toml:"default_model"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	MinGroupSize        int     `toml:"min_group_size"`
	CopyFiles           bool    `toml:"copy_files"`
}

type AIConfig struct {
	Provider          string  `toml:"provider"`
	OllamaHost        string  `toml:"ollama_host"`
	OpenAIAPIKey      string  `toml:"openai_api_key"`
	OpenAIBaseURL     string  `toml:"openai_base_url"`
	EmbeddingModel    string  `toml:"embedding_model"`
	TimeoutMS         int     `toml:"timeout_ms"`
	MaxRetries        int     `toml:"max_retries"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type CacheConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	MaxEntries    int    `toml:"max_entries"`
}

type StorageConfig struct {
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			CORSOrigins:    []string{"http://localhost:8080"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Jobs: JobsConfig{
			WorkerPoolSize:      2,
			QueueCapacity:       64,
			DefaultModel:        domain.DefaultModel,
			SimilarityThreshold: domain.DefaultSimilarityThreshold,
			MinGroupSize:        domain.DefaultMinGroupSize,
			CopyFiles:           domain.DefaultCopyFiles,
		},
		AI: AIConfig{
			Provider:       ProviderOllama,
			OllamaHost:     "http://localhost:11434",
			OpenAIBaseURL:  "https://api.openai.com/v1",
			EmbeddingModel: "nomic-embed-text",
			TimeoutMS:      120000,
			MaxRetries:     2,
			Burst:          1,
		},
		Cache: CacheConfig{
			TTLSeconds: 86400,
			MaxEntries: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path names a TOML file; when empty the
// CONFIG_FILE variable is consulted. A missing file is not an error when it
// was not named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		contents, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(contents, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.AuthToken = getEnv("API_AUTH_TOKEN", c.Server.AuthToken)
	c.Server.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.CORSOrigins)
	c.Server.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.Server.RateLimitRPS)
	c.Server.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.Server.RateLimitBurst)

	c.Jobs.WorkerPoolSize = getEnvInt("WORKER_POOL_SIZE", c.Jobs.WorkerPoolSize)
	c.Jobs.QueueCapacity = getEnvInt("JOB_QUEUE_CAPACITY", c.Jobs.QueueCapacity)
	c.Jobs.DefaultModel = getEnv("DEFAULT_VISION_MODEL", c.Jobs.DefaultModel)

	c.AI.Provider = strings.ToLower(getEnv("AI_PROVIDER", c.AI.Provider))
	c.AI.OllamaHost = getEnv("OLLAMA_HOST", c.AI.OllamaHost)
	c.AI.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.AI.OpenAIAPIKey)
	c.AI.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.AI.OpenAIBaseURL)
	c.AI.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.AI.EmbeddingModel)
	c.AI.TimeoutMS = getEnvInt("AI_TIMEOUT_MS", c.AI.TimeoutMS)
	c.AI.MaxRetries = getEnvInt("AI_MAX_RETRIES", c.AI.MaxRetries)
	c.AI.RequestsPerSecond = getEnvFloat("AI_REQUESTS_PER_SECOND", c.AI.RequestsPerSecond)
	c.AI.Burst = getEnvInt("AI_BURST", c.AI.Burst)

	c.Cache.RedisAddr = getEnv("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("REDIS_DB", c.Cache.RedisDB)
	c.Cache.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", c.Cache.TTLSeconds)
	c.Cache.MaxEntries = getEnvInt("CACHE_MAX_ENTRIES", c.Cache.MaxEntries)

	c.Storage.DatabaseURL = getEnv("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
}

func (c Config) Validate() error {
	switch c.AI.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("ai provider: unsupported value %q", c.AI.Provider)
	}
	if c.Jobs.WorkerPoolSize <= 0 {
		return errors.New("worker_pool_size must be positive")
	}
	if c.Jobs.QueueCapacity <= 0 {
		return errors.New("queue_capacity must be positive")
	}
	return nil
}

// DefaultSettings are the job settings applied when a submission omits them.
func (c Config) DefaultSettings() domain.Settings {
	return domain.Settings{
		Model:               c.Jobs.DefaultModel,
		SimilarityThreshold: c.Jobs.SimilarityThreshold,
		MinGroupSize:        c.Jobs.MinGroupSize,
		CopyFiles:           c.Jobs.CopyFiles,
	}
}

func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
