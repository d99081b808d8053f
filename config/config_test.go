package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.APIServerPort)
	assert.Equal(t, "/interlude", cfg.UIPathPrefix)
	assert.Equal(t, "nginx", cfg.Proxy.Binary)
	assert.False(t, cfg.DryRunOverride)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"api_server_port": ":9000",
		"fallback_backend": "10.0.0.1:8000",
		"proxy": {"listen_port": ":80", "binary": "openresty", "config_path": "/tmp/p.conf"}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.APIServerPort)
	assert.Equal(t, "10.0.0.1:8000", cfg.FallbackBackend)
	assert.Equal(t, "openresty", cfg.Proxy.Binary)
	// Untouched fields keep their defaults
	assert.Equal(t, "/interlude", cfg.UIPathPrefix)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INTERLUDE_API_PORT", "7777")
	t.Setenv("INTERLUDE_UI_PATH", "launcher/")
	t.Setenv("INTERLUDE_DRY_RUN", "TRUE")
	t.Setenv("INTERLUDE_CANCEL_GRACE", "30")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.APIServerPort)
	assert.Equal(t, "/launcher", cfg.UIPathPrefix)
	assert.True(t, cfg.DryRunOverride)
	assert.Equal(t, 30, cfg.CancelGraceSeconds)
}

func TestLoadConfigBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
