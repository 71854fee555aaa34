package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilescrape-engine/internal/dom"
)

func TestDefaultsMatchBundledFile(t *testing.T) {
	dir := t.TempDir()
	path, err := EnsureUserConfig(dir)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, dom.DefaultTimings(), cfg.Timings())
}

func TestEnsureUserConfigKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  port: 9000\n"), 0o600))

	got, err := EnsureUserConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.App.Port)
	// unset sections keep their defaults
	assert.Equal(t, 600, cfg.Sessions.IdleTimeoutSeconds)
	assert.Equal(t, 10*time.Minute, cfg.IdleTimeout())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("app: [\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeAndValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "  DEBUG "
	cfg.Narrative.BaseURL = " http://localhost:9999/ "

	out, vr := NormalizeAndValidate(cfg)
	assert.True(t, vr.OK(), vr.Errors)
	assert.Equal(t, "debug", out.Logging.Level)
	assert.Equal(t, "http://localhost:9999", out.Narrative.BaseURL)

	cfg.App.Port = 0
	cfg.Scrape.ScrollStepMS = 0
	cfg.Logging.Level = "loud"
	cfg.Browser.ControlURL = "not a url"
	_, vr = NormalizeAndValidate(cfg)
	assert.False(t, vr.OK())
	assert.Contains(t, vr.Errors, "app.port must be 1..65535")
	assert.Contains(t, vr.Errors, "scrape.scroll_step_ms must be > 0")
	assert.Len(t, vr.Errors, 4)
	assert.Error(t, vr.Err())
}

func TestValidateWarnings(t *testing.T) {
	cfg := Defaults()
	cfg.Browser.RequestsPerSecond = 0
	cfg.Sessions.IdleTimeoutSeconds = 30

	_, vr := NormalizeAndValidate(cfg)
	assert.True(t, vr.OK())
	assert.Len(t, vr.Warnings, 2)
}

func TestSaveAtomicKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path, err := EnsureUserConfig(dir)
	require.NoError(t, err)

	cfg := Defaults()
	cfg.App.Port = 40000
	require.NoError(t, SaveAtomic(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40000, got.App.Port)

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, DefaultYAML(), bak)

	cfg.App.Port = -1
	assert.Error(t, SaveAtomic(path, cfg))
	got, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40000, got.App.Port)
}

func TestRestartRequired(t *testing.T) {
	prev := Defaults()
	next := Defaults()
	assert.Empty(t, RestartRequired(prev, next))

	next.Sessions.IdleTimeoutSeconds = 60
	next.Narrative.Model = "gemini-2.5-pro"
	assert.Empty(t, RestartRequired(prev, next))

	next.App.Port = 9000
	next.Logging.Level = "debug"
	assert.Equal(t, []string{"app", "logging"}, RestartRequired(prev, next))
}
