// Package config loads agent profiles and orchestrator settings from
// <corral home>/config.json.
//
// Profiles are read verbatim from the file. Settings are layered through
// viper so every key can be overridden from the environment, e.g.
// CORRAL_SETTINGS_TASK_TIMEOUT=30m.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/agusx1211/corral/internal/debug"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CORRAL"

// Config holds everything stored in config.json.
type Config struct {
	Profiles []Profile `json:"profiles"`
	Settings Settings  `json:"settings"`

	path string
}

// Dir returns the corral home directory, creating it if needed.
func Dir() string {
	dir := debug.Home()
	os.MkdirAll(dir, 0755)
	return dir
}

// DefaultPath returns <corral home>/config.json.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Load reads the default config file. A missing file yields an empty config
// with default settings.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the config file at path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{path: path}
	if len(bytes.TrimSpace(data)) > 0 {
		var file struct {
			Profiles []Profile `json:"profiles"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.Profiles = file.Profiles
	} else {
		data = []byte("{}")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing settings in %s: %w", path, err)
	}
	cfg.Settings = readSettings(v)
	cfg.Settings.normalize()

	debug.LogKV("config", "loaded", "path", path, "profiles", len(cfg.Profiles))
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("settings.default_concurrency", d.DefaultConcurrency)
	v.SetDefault("settings.task_timeout", d.TaskTimeout)
	v.SetDefault("settings.output_cap_bytes", d.OutputCapBytes)
	v.SetDefault("settings.health_interval", d.HealthInterval)
	v.SetDefault("settings.grace_window", d.GraceWindow)
	v.SetDefault("settings.failure_threshold", d.FailureThreshold)
	v.SetDefault("settings.probe_timeout", d.ProbeTimeout)
	v.SetDefault("settings.scrollback_lines", d.ScrollbackLines)
	v.SetDefault("settings.data_dir", "")
}

func readSettings(v *viper.Viper) Settings {
	return Settings{
		DefaultConcurrency: v.GetInt("settings.default_concurrency"),
		TaskTimeout:        v.GetDuration("settings.task_timeout"),
		OutputCapBytes:     v.GetInt("settings.output_cap_bytes"),
		HealthInterval:     v.GetDuration("settings.health_interval"),
		GraceWindow:        v.GetDuration("settings.grace_window"),
		FailureThreshold:   v.GetInt("settings.failure_threshold"),
		ProbeTimeout:       v.GetDuration("settings.probe_timeout"),
		ScrollbackLines:    v.GetInt("settings.scrollback_lines"),
		DataDir:            v.GetString("settings.data_dir"),
	}
}

// Path returns the file this config was loaded from.
func (c *Config) Path() string {
	if c.path == "" {
		return DefaultPath()
	}
	return c.path
}

// DataDir returns the task store root.
func (c *Config) DataDir() string {
	if d := strings.TrimSpace(c.Settings.DataDir); d != "" {
		return d
	}
	return filepath.Join(filepath.Dir(c.Path()), "data")
}

// Save writes the config back to its file atomically.
func (c *Config) Save() error {
	path := c.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Profile implements ProfileStore.
func (c *Config) Profile(id string) (*Profile, bool) {
	for i := range c.Profiles {
		if c.Profiles[i].ID == id {
			return &c.Profiles[i], true
		}
	}
	return nil, false
}

// AddProfile validates p and appends it. Returns an error if the id is taken.
func (c *Config) AddProfile(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := c.Profile(p.ID); ok {
		return fmt.Errorf("profile already exists: %s", p.ID)
	}
	c.Profiles = append(c.Profiles, p)
	return nil
}

// RemoveProfile deletes a profile by id and reports whether it existed.
func (c *Config) RemoveProfile(id string) bool {
	out := c.Profiles[:0]
	removed := false
	for _, p := range c.Profiles {
		if p.ID == id {
			removed = true
			continue
		}
		out = append(out, p)
	}
	c.Profiles = out
	return removed
}
