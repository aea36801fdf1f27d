package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, DefaultPipelineCost, cfg.Credits.PipelineCost)
	assert.Equal(t, DefaultRateLimitPerMin, cfg.RateLimit.PerMinute)
	assert.Equal(t, 30*time.Second, cfg.LLM.TimeoutDuration())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[llm]
model = "gpt-4o"
timeout = "5s"

[credits]
pipeline_cost = 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 5*time.Second, cfg.LLM.TimeoutDuration())
	assert.Equal(t, 7, cfg.Credits.PipelineCost)
	// untouched sections keep defaults
	assert.Equal(t, DefaultPGDatabase, cfg.Postgres.Database)
}

func TestTimeoutDurationFallsBackOnGarbage(t *testing.T) {
	c := LLMConfig{Timeout: "soon"}
	assert.Equal(t, 30*time.Second, c.TimeoutDuration())
}
