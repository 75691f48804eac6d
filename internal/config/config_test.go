package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyradar/internal/aiconnectors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replyradar.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, aiconnectors.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "gpt-4o-mini", cfg.Classifier.Model, "classifier inherits the connector model")
	assert.Equal(t, "gpt-4o-mini", cfg.Drafter.Model)
	assert.True(t, cfg.Sources.Reddit.Enabled)
	assert.False(t, cfg.Sources.Forum.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Queue.TickInterval)
	assert.Equal(t, time.Hour, cfg.Budget.AlertCooldown)
	assert.Equal(t, 720*time.Hour, cfg.Retention.DismissedAfter)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "claude"
api_key = "from-file"
model = "claude-3-5-haiku-latest"

[pipeline]
queries = ["backtesting tool"]

[sources.reddit]
subreddits = ["algotrading"]
interval = "5s"

[sources.forum]
enabled = true
base_url = "https://forum.example.com"

[drafter]
model = "claude-3-5-sonnet-latest"

[drafter.style_guides.reddit]
tone = "casual"
max_length = 800

[budget.pricing.claude-3-5-haiku-latest]
input = 0.8
output = 4.0
`)
	t.Setenv("REPLYRADAR_LLM__API_KEY", "from-env")
	t.Setenv("REPLYRADAR_SERVER__JOB_SECRET", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, aiconnectors.ProviderClaude, cfg.LLM.Provider)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, "s3cret", cfg.Server.JobSecret)
	assert.Equal(t, []string{"backtesting tool"}, cfg.Pipeline.Queries)
	assert.Equal(t, []string{"algotrading"}, cfg.Sources.Reddit.Subreddits)
	assert.Equal(t, 5*time.Second, cfg.Sources.Reddit.Interval)
	assert.Equal(t, "https://forum.example.com", cfg.Sources.Forum.BaseURL)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Classifier.Model)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Drafter.Model)
	assert.Equal(t, 800, cfg.Drafter.StyleGuides["reddit"].MaxLength)
	assert.InDelta(t, 0.8, cfg.Budget.Pricing["claude-3-5-haiku-latest"].InputPerMillion, 1e-9)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := LoadConfig(writeConfig(t, "[llm]\napi_key = \"k\"\n[pipeline]\nqueries = [\"q\"]\n"))
		require.NoError(t, err)
		require.NoError(t, Validate(cfg))
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "skynet" }},
		{"no queries", func(c *Config) { c.Pipeline.Queries = nil }},
		{"no sources", func(c *Config) {
			c.Sources.Reddit.Enabled = false
			c.Sources.HackerNews.Enabled = false
		}},
		{"forum without base url", func(c *Config) { c.Sources.Forum.Enabled = true }},
		{"bad timezone", func(c *Config) { c.Budget.Timezone = "Mars/Olympus" }},
		{"notify sender without webhook", func(c *Config) { c.Autopilot.Sender = "notify" }},
		{"queue interval too short", func(c *Config) { c.Queue.TickInterval = time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid(t)
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	t.Run("ollama needs no key", func(t *testing.T) {
		cfg := valid(t)
		cfg.LLM.Provider = aiconnectors.ProviderOllama
		cfg.LLM.APIKey = ""
		assert.NoError(t, Validate(cfg))
	})
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replyradar.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Equal(t, []string{"algotrading", "quant"}, cfg.Sources.Reddit.Subreddits)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "llm.api_key", envKey("REPLYRADAR_LLM__API_KEY"))
	assert.Equal(t, "database.url", envKey("REPLYRADAR_DATABASE__URL"))
}
