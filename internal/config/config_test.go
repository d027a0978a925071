package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Testing = true
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "PREFER_PHP7", cfg.ParserMode)
	assert.Equal(t, 4096, cfg.Engine.MaxRounds)
	assert.Equal(t, 512000, cfg.Engine.DepthLimit)
	assert.Equal(t, 100, cfg.Engine.ScoreThreshold)
	assert.True(t, cfg.Decoding.Base64)
	assert.True(t, cfg.Decoding.ApplyExtractedFunctions)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFiles(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err, "a missing default file is not an error")
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadConfig("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	yamlData := `
parser_mode: PREFER_PHP8
engine:
  max_rounds: 12
passes:
  disabled: [pure-expression]
  weights:
    string-chain: 3
decoding:
  url_safe: false
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "PREFER_PHP8", cfg.ParserMode)
	assert.Equal(t, 12, cfg.Engine.MaxRounds)
	assert.Equal(t, 512000, cfg.Engine.DepthLimit, "unset keys keep their defaults")
	assert.False(t, cfg.PassEnabled("pure-expression"))
	assert.True(t, cfg.PassEnabled("string-chain"))
	assert.Equal(t, 3, cfg.Weight("string-chain", 10))
	assert.Equal(t, 25, cfg.Weight("dynamic-exec", 25))
	assert.False(t, cfg.Decoding.URLSafe)
	assert.True(t, cfg.Decoding.Base64)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"parser mode", "parser_mode: PHP42\n"},
		{"round cap", "engine:\n  max_rounds: 0\n"},
		{"depth limit", "engine:\n  depth_limit: -1\n"},
		{"negative weight", "passes:\n  weights:\n    string-chain: -2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PHPUNMIXER_ENGINE_MAX_ROUNDS", "7")
	t.Setenv("PHPUNMIXER_DEBUG_MODE", "true")
	t.Setenv("PHPUNMIXER_PASSES_DISABLED", "dynamic-exec,pure-expression")
	t.Setenv("PHPUNMIXER_DECODING_BASE64", "false")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.MaxRounds)
	assert.True(t, cfg.DebugMode)
	assert.Equal(t, []string{"dynamic-exec", "pure-expression"}, cfg.Passes.Disabled)
	assert.False(t, cfg.Decoding.Base64)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "phpunmixer.yaml")
	require.NoError(t, SaveConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestIsPHPFile(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.IsPHPFile("a/b/index.php"))
	assert.True(t, cfg.IsPHPFile("legacy.PHTML"))
	assert.False(t, cfg.IsPHPFile("README.md"))
	assert.False(t, cfg.IsPHPFile("Makefile"))
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Silent = true
	log := NewLogger(cfg, &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	cfg.DebugMode = true
	NewLogger(cfg, &buf).Debug("details")
	assert.Contains(t, buf.String(), "details")
}
