package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultProfiles(t *testing.T) {
	cfg := Default()

	gen, err := cfg.Class(ClassGeneration)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, gen.InitialDelay)
	assert.Equal(t, 600*time.Second, gen.MaxWait)

	dialog, err := cfg.Class(ClassDialogRender)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, dialog.InitialDelay)

	settle, err := cfg.Class(ClassNetworkSettle)
	require.NoError(t, err)
	assert.True(t, settle.IsFixedDelay())
	assert.Equal(t, 3*time.Second, settle.InitialDelay)
}

func TestClassUnknown(t *testing.T) {
	_, err := Default().Class("teleport")
	assert.Error(t, err)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studiodriver.yml")
	data := `
base_url: https://v0.app
headless: true
timing:
  generation:
    initial_delay_seconds: 30
    poll_interval_seconds: 2
    max_wait_seconds: 300
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://v0.app", cfg.BaseURL)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 30.0, cfg.Timing.Generation.InitialDelaySeconds)
	// Untouched sections keep defaults.
	assert.Equal(t, 1.0, cfg.Timing.DialogRender.PollIntervalSeconds)
	assert.Equal(t, 3.0, cfg.Timing.NetworkSettleSeconds)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default().BaseURL, cfg.BaseURL)
}

func TestLoadRejectsNonPositiveTiming(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "zero poll interval",
			body: "timing:\n  generation:\n    initial_delay_seconds: 30\n    poll_interval_seconds: 0\n    max_wait_seconds: 300\n",
		},
		{
			name: "negative initial delay",
			body: "timing:\n  dialog_render:\n    initial_delay_seconds: -1\n    poll_interval_seconds: 1\n    max_wait_seconds: 30\n",
		},
		{
			name: "zero network settle",
			body: "timing:\n  network_settle_seconds: 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0600))

			_, err := Load(path)
			assert.Error(t, err, "non-positive timing values must be rejected, never clamped")
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()

	out, err := cfg.ApplyOverrides(map[string]time.Duration{
		ClassGeneration:   15 * time.Minute,
		ClassDialogRender: time.Minute,
	})
	require.NoError(t, err)

	gen, err := out.Class(ClassGeneration)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, gen.MaxWait)

	dialog, err := out.Class(ClassDialogRender)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, dialog.MaxWait)

	// The base configuration is untouched.
	orig, err := cfg.Class(ClassGeneration)
	require.NoError(t, err)
	assert.Equal(t, 600*time.Second, orig.MaxWait)
}

func TestApplyOverridesRejectsNonPositive(t *testing.T) {
	_, err := Default().ApplyOverrides(map[string]time.Duration{ClassGeneration: 0})
	assert.Error(t, err)

	_, err = Default().ApplyOverrides(map[string]time.Duration{ClassGeneration: -time.Second})
	assert.Error(t, err)
}

func TestApplyOverridesRejectsUnknownClass(t *testing.T) {
	_, err := Default().ApplyOverrides(map[string]time.Duration{"warp": time.Second})
	assert.Error(t, err)
}

func TestApplyOverridesEmptyReturnsSame(t *testing.T) {
	cfg := Default()
	out, err := cfg.ApplyOverrides(nil)
	require.NoError(t, err)
	assert.Same(t, cfg, out)
}

func TestResolveStorageStatePath(t *testing.T) {
	cfg := Default()
	cfg.StorageStatePath = "/tmp/auth.json"
	path, err := cfg.ResolveStorageStatePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/auth.json", path)

	cfg.StorageStatePath = ""
	path, err = cfg.ResolveStorageStatePath()
	require.NoError(t, err)
	assert.Contains(t, path, ".studiodriver")
}
