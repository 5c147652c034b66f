package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ProviderOllama, cfg.AI.Provider)
	assert.Equal(t, 2*time.Minute, cfg.AI.Timeout())
	assert.Equal(t, 0.85, cfg.DefaultSettings().SimilarityThreshold)
	assert.True(t, cfg.DefaultSettings().CopyFiles)
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "organizer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "9000"
cors_allowed_origins = ["http://a.test"]

[jobs]
similarity_threshold = 0.7
min_group_size = 5

[ai]
provider = "openai"
`), 0o644))
	t.Setenv("PORT", "9100")
	t.Setenv("CACHE_TTL_SECONDS", "60")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, []string{"http://a.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0.7, cfg.Jobs.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Jobs.MinGroupSize)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, time.Minute, cfg.Cache.TTL())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadIgnoresMissingFileFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))
	_, err := Load("")
	assert.NoError(t, err)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("AI_PROVIDER", "gemini")
	_, err := Load("")
	assert.ErrorContains(t, err, "gemini")
}

func TestEnvListAndBadNumbers(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("WORKER_POOL_SIZE", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2, cfg.Jobs.WorkerPoolSize)
}

func TestReadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`# comment
export OLLAMA_HOST=http://gpu:11434
EMBEDDING_MODEL="nomic \"embed\""
LOG_FILE='/tmp/a b.log'
LOG_LEVEL=debug # verbose
broken line
=novalue
`), 0o644))

	values, err := ReadDotEnv(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"OLLAMA_HOST":     "http://gpu:11434",
		"EMBEDDING_MODEL": `nomic "embed"`,
		"LOG_FILE":        "/tmp/a b.log",
		"LOG_LEVEL":       "debug",
	}, values)
}

func TestLoadDotEnvKeepsProcessEnv(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env")
	second := filepath.Join(dir, ".env.local")
	require.NoError(t, os.WriteFile(first, []byte("ORGANIZER_TEST_A=file\nORGANIZER_TEST_B=first\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("ORGANIZER_TEST_B=second\n"), 0o644))
	t.Setenv("ORGANIZER_TEST_A", "process")
	t.Setenv("ORGANIZER_TEST_B", "")
	require.NoError(t, os.Unsetenv("ORGANIZER_TEST_B"))

	require.NoError(t, LoadDotEnv(first, filepath.Join(dir, "missing"), second))

	assert.Equal(t, "process", os.Getenv("ORGANIZER_TEST_A"))
	assert.Equal(t, "first", os.Getenv("ORGANIZER_TEST_B"))
}
