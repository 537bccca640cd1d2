// Package cli implements the metricstore command-line demo: a small set of
// pflag-based one-shot commands plus an interactive query REPL, built
// directly on top of the public metricstore.Engine API.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// Config holds everything needed to open an [metricstore.Engine], loaded
// from an optional JSONC config file and overridable via CLI flags.
type Config struct {
	Dir                string   `json:"dir"`
	Peers              []string `json:"peers,omitempty"`
	SealAfterSeconds   int      `json:"seal_after_seconds,omitempty"`
	MaxAgeSeconds      int      `json:"max_age_seconds,omitempty"`
	MaintenanceSeconds int      `json:"maintenance_seconds,omitempty"`
	CompactionSeconds  int      `json:"compaction_seconds,omitempty"`
	Parallelism        int      `json:"parallelism,omitempty"`
}

// DefaultConfig returns the configuration used when no config file exists
// and no flags override it.
func DefaultConfig() Config {
	return Config{Dir: ".metricstore"}
}

// SealAfter returns the configured seal-after duration, or zero if unset
// (selecting the engine's own default).
func (c Config) SealAfter() time.Duration {
	return time.Duration(c.SealAfterSeconds) * time.Second
}

// MaxAge returns the configured retention horizon, or zero if unset.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// MaintenanceInterval returns the configured maintenance-loop interval, or
// zero if unset.
func (c Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceSeconds) * time.Second
}

// CompactionInterval returns the configured compaction-loop interval, or
// zero if unset.
func (c Config) CompactionInterval() time.Duration {
	return time.Duration(c.CompactionSeconds) * time.Second
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride string // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string // -c/--config flag value
	DirOverride     string // --dir flag value; empty means no override
}

// LoadConfig loads configuration with the following precedence (highest
// wins): defaults, then the project config file (./.metricstore.json,
// unless an explicit path is given), then CLI overrides.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	fileCfg, loaded, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = mergeConfig(cfg, fileCfg)
	}

	if input.DirOverride != "" {
		cfg.Dir = input.DirOverride
	}

	if cfg.Dir == "" {
		return Config{}, fmt.Errorf("config: dir must not be empty")
	}

	if !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(workDir, cfg.Dir)
	}

	return cfg, nil
}

const configFileName = ".metricstore.json"

func loadProjectConfig(workDir, configPath string) (Config, bool, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true
	} else {
		cfgFile = filepath.Join(workDir, configFileName)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("reading config %s: %w", cfgFile, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("config %s: %w", cfgFile, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Dir != "" {
		base.Dir = overlay.Dir
	}

	if len(overlay.Peers) > 0 {
		base.Peers = overlay.Peers
	}

	if overlay.SealAfterSeconds > 0 {
		base.SealAfterSeconds = overlay.SealAfterSeconds
	}

	if overlay.MaxAgeSeconds > 0 {
		base.MaxAgeSeconds = overlay.MaxAgeSeconds
	}

	if overlay.MaintenanceSeconds > 0 {
		base.MaintenanceSeconds = overlay.MaintenanceSeconds
	}

	if overlay.CompactionSeconds > 0 {
		base.CompactionSeconds = overlay.CompactionSeconds
	}

	if overlay.Parallelism > 0 {
		base.Parallelism = overlay.Parallelism
	}

	return base
}
