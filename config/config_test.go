package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobfill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_MODEL", "")
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Feedback.MaxRounds)
	assert.Equal(t, 2*time.Minute, cfg.Feedback.Timeout)
	assert.Equal(t, "application", cfg.Feedback.PathPrefix)
	assert.Equal(t, "terminal", cfg.Feedback.Channel)
	assert.InDelta(t, 0.4, cfg.Mapper.MinConfidence, 1e-9)
	assert.InDelta(t, 0.7, cfg.Mapper.PartialCap, 1e-9)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Extract)
	assert.True(t, *cfg.Browser.Headless)
	assert.True(t, *cfg.Browser.Stealth)
	assert.Equal(t, "file", cfg.Profile.Driver)
	assert.Equal(t, "profile.json", cfg.Profile.Path)
	assert.Equal(t, "default", cfg.Profile.UserID)
	assert.False(t, cfg.NeedsModel())
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENAI_MODEL", "")
	path := writeConfig(t, `
feedback:
  max_rounds: 5
  timeout: 30s
  channel: http
mapper:
  model_fallback: true
browser:
  headless: false
  element_timeout: 2s
profile:
  driver: sqlite
llm:
  api_key: sk-file
  model: gpt-4o
log:
  level: debug
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Feedback.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.Feedback.Timeout)
	assert.Equal(t, "http", cfg.Feedback.Channel)
	assert.False(t, *cfg.Browser.Headless)
	assert.True(t, *cfg.Browser.Stealth)
	assert.Equal(t, 2*time.Second, cfg.Browser.ElementTimeout)
	assert.Equal(t, "jobfill.db", cfg.Profile.Path)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey, "environment wins over the file")
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.True(t, cfg.NeedsModel())

	level, err := ParseLevel(cfg.Log.Level)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `
profile:
  driver: redis
feedback:
  channel: email
mapper:
  model_fallback: true
log:
  level: loud
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	for _, part := range []string{"profile.driver", "feedback.channel", "api_key", "log.level"} {
		assert.ErrorContains(t, err, part)
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "feedback: [unclosed"))
	assert.ErrorContains(t, err, "parse")
}
