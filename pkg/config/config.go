// Package config loads and validates studiodriver configuration: the
// named operation-class timing table, session storage paths, target
// URLs, and server settings.
//
// Timing values are plain numbers of seconds in the file. Validation
// rejects non-positive values outright; nothing is ever clamped to a
// minimum, because a silently widened or narrowed wait hides real
// misconfiguration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jgwill/mcpservers/pkg/probe"
)

// Operation-class names, used for per-request timeout overrides and
// metrics labels.
const (
	ClassGeneration    = "generation"
	ClassDialogRender  = "dialog-render"
	ClassNetworkSettle = "network-settle"
)

// Config is the full studiodriver configuration.
type Config struct {
	// StorageStatePath is the file holding the persisted browser
	// authentication state. Empty means ~/.studiodriver/auth_state.json.
	StorageStatePath string `yaml:"storage_state_path"`

	// BaseURL is the target application's entry point.
	BaseURL string `yaml:"base_url"`

	// Headless controls browser visibility. Interactive login always
	// runs headful regardless of this setting.
	Headless bool `yaml:"headless"`

	// ListenAddr is the HTTP API bind address for serve mode.
	ListenAddr string `yaml:"listen_addr"`

	// Timing is the operation-class table injected into the prober.
	Timing Timing `yaml:"timing"`
}

// Timing holds one profile per operation class.
type Timing struct {
	// Generation covers remote content generation: the operation may
	// legitimately take much longer than its minimum, so the initial
	// delay is long, polling is coarse, and the budget generous.
	Generation ProfileConfig `yaml:"generation"`

	// DialogRender covers in-page dialog and panel rendering.
	DialogRender ProfileConfig `yaml:"dialog_render"`

	// NetworkSettleSeconds is the single fixed post-navigation pause.
	// There is no polling loop for this class.
	NetworkSettleSeconds float64 `yaml:"network_settle_seconds"`
}

// ProfileConfig is the file representation of one polling profile.
type ProfileConfig struct {
	InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	MaxWaitSeconds      float64 `yaml:"max_wait_seconds"`
}

// Profile converts the file representation to the prober's form.
func (p ProfileConfig) Profile() probe.Profile {
	return probe.Profile{
		InitialDelay: seconds(p.InitialDelaySeconds),
		PollInterval: seconds(p.PollIntervalSeconds),
		MaxWait:      seconds(p.MaxWaitSeconds),
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Default returns the documented defaults. The generation timings come
// from observed behavior of the target UI: checking before the initial
// delay has always failed, and implementations routinely run for
// several minutes.
func Default() *Config {
	return &Config{
		BaseURL:    "https://aistudio.google.com",
		Headless:   false,
		ListenAddr: ":8639",
		Timing: Timing{
			Generation: ProfileConfig{
				InitialDelaySeconds: 90,
				PollIntervalSeconds: 5,
				MaxWaitSeconds:      600,
			},
			DialogRender: ProfileConfig{
				InitialDelaySeconds: 2,
				PollIntervalSeconds: 1,
				MaxWaitSeconds:      30,
			},
			NetworkSettleSeconds: 3,
		},
	}
}

// Load reads path and merges the file over the defaults. A missing
// file is not an error: the defaults are the documented configuration.
// The loaded configuration is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				if err := cfg.Validate(); err != nil {
					return nil, err
				}
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects unusable configuration at load time.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must be set")
	}
	if err := c.Timing.Generation.Profile().Validate(); err != nil {
		return fmt.Errorf("timing.generation: %w", err)
	}
	if err := c.Timing.DialogRender.Profile().Validate(); err != nil {
		return fmt.Errorf("timing.dialog_render: %w", err)
	}
	if c.Timing.NetworkSettleSeconds <= 0 {
		return fmt.Errorf("timing.network_settle_seconds must be positive, got %v", c.Timing.NetworkSettleSeconds)
	}
	return nil
}

// Class returns the profile for a named operation class.
func (c *Config) Class(name string) (probe.Profile, error) {
	switch name {
	case ClassGeneration:
		return c.Timing.Generation.Profile(), nil
	case ClassDialogRender:
		return c.Timing.DialogRender.Profile(), nil
	case ClassNetworkSettle:
		return probe.FixedDelay(seconds(c.Timing.NetworkSettleSeconds)), nil
	default:
		return probe.Profile{}, fmt.Errorf("unknown operation class %q", name)
	}
}

// ApplyOverrides returns a copy of the configuration with per-class
// MaxWait values replaced by the caller's overrides (for the
// network-settle class, the fixed delay itself). Overrides go through
// the same validation as the file: non-positive values are rejected.
func (c *Config) ApplyOverrides(overrides map[string]time.Duration) (*Config, error) {
	if len(overrides) == 0 {
		return c, nil
	}

	out := *c
	for class, d := range overrides {
		if d <= 0 {
			return nil, fmt.Errorf("timeout override for %s must be positive, got %v", class, d)
		}
		switch class {
		case ClassGeneration:
			out.Timing.Generation.MaxWaitSeconds = d.Seconds()
		case ClassDialogRender:
			out.Timing.DialogRender.MaxWaitSeconds = d.Seconds()
		case ClassNetworkSettle:
			out.Timing.NetworkSettleSeconds = d.Seconds()
		default:
			return nil, fmt.Errorf("unknown operation class %q in timeout overrides", class)
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveStorageStatePath returns the configured storage-state path, or
// the default under the user's home directory.
func (c *Config) ResolveStorageStatePath() (string, error) {
	if c.StorageStatePath != "" {
		return c.StorageStatePath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".studiodriver", "auth_state.json"), nil
}
