package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".recall", "index.db"), cfg.Store.Path)
	assert.Equal(t, filepath.Join(home, ".claude", "projects"), cfg.Logs.Root)
	assert.Equal(t, 7, cfg.Indexer.LookbackDays)
	assert.Equal(t, "disabled", cfg.Summarizer.Provider)
	assert.Equal(t, 20, cfg.Summarizer.BatchSize)
	assert.Equal(t, 3, cfg.Summarizer.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Watcher.IdleThreshold.Duration())
	assert.Equal(t, time.Second, cfg.Watcher.TickInterval.Duration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("RECALL_DB_PATH", "/tmp/custom/recall.db")
	t.Setenv("RECALL_LOGS_ROOT", "/tmp/custom/logs")
	t.Setenv("RECALL_WATCHER_IDLE_THRESHOLD", "5s")
	t.Setenv("RECALL_SUMMARIZER_PROVIDER", "anthropic")
	t.Setenv("RECALL_SUMMARIZER_API_KEY", "sk-ant-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom/recall.db", cfg.Store.Path)
	assert.Equal(t, "/tmp/custom/logs", cfg.Logs.Root)
	assert.Equal(t, 5*time.Second, cfg.Watcher.IdleThreshold.Duration())
	assert.Equal(t, "anthropic", cfg.Summarizer.Provider)
	assert.Equal(t, "sk-ant-test", cfg.Summarizer.APIKey.Value())
}

func TestLoad_DBPathEnvBeatsSectionedForm(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("RECALL_STORE_PATH", "/tmp/sectioned.db")
	t.Setenv("RECALL_DB_PATH", "/tmp/documented.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/documented.db", cfg.Store.Path)
}

func TestLoad_ConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "recall")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	content := []byte(`
store:
  path: /data/recall.db
indexer:
  lookback_days: 30
watcher:
  idle_threshold: 10s
logging:
  level: debug
  format: json
`)
	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, content, 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/data/recall.db", cfg.Store.Path)
	assert.Equal(t, 30, cfg.Indexer.LookbackDays)
	assert.Equal(t, 10*time.Second, cfg.Watcher.IdleThreshold.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_RejectsInsecureFilePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "recall")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  path: /x.db\n"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("{}\n"), 0600))

	_, err := Load(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file must be in")
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"RECALL_STORE_PATH", "store.path"},
		{"RECALL_LOGS_ROOT", "logs.root"},
		{"RECALL_WATCHER_IDLE_THRESHOLD", "watcher.idle_threshold"},
		{"RECALL_SUMMARIZER_API_KEY", "summarizer.api_key"},
		{"RECALL_TELEMETRY_ENABLED", "telemetry.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, transformEnvKey(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		require.NoError(t, applyDefaults(cfg))
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := base()
		cfg.Summarizer.Provider = "openai-compatible"
		assert.Error(t, cfg.Validate())
	})

	t.Run("anthropic without api key", func(t *testing.T) {
		cfg := base()
		cfg.Summarizer.Enabled = true
		cfg.Summarizer.Provider = "anthropic"
		cfg.Summarizer.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative lookback", func(t *testing.T) {
		cfg := base()
		cfg.Indexer.LookbackDays = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.Logging.Level = "loud"
		assert.Error(t, cfg.Validate())
	})

	t.Run("telemetry sample rate out of range", func(t *testing.T) {
		cfg := base()
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.SampleRate = 1.5
		assert.Error(t, cfg.Validate())
	})
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"2m0s"`, string(out))
}

func TestSecret(t *testing.T) {
	s := Secret("sk-ant-very-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-ant-very-secret", s.Value())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(out))

	assert.Equal(t, "", Secret("").String())
}
