package config

import (
	"encoding/json"
	"time"
)

// Defaults for the orchestration core.
const (
	DefaultConcurrency      = 2
	DefaultTaskTimeout      = 4 * time.Hour
	DefaultOutputCapBytes   = 50 * 1024 * 1024
	DefaultHealthInterval   = 8 * time.Second
	DefaultGraceWindow      = 10 * time.Second
	DefaultFailureThreshold = 3
	DefaultProbeTimeout     = 1500 * time.Millisecond
	DefaultScrollbackLines  = 10000
)

// Settings tunes the scheduler, engine, session manager and health monitor.
type Settings struct {
	DefaultConcurrency int
	TaskTimeout        time.Duration
	OutputCapBytes     int
	HealthInterval     time.Duration
	GraceWindow        time.Duration
	FailureThreshold   int
	ProbeTimeout       time.Duration
	ScrollbackLines    int
	DataDir            string // task store root; empty = <home>/data
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		DefaultConcurrency: DefaultConcurrency,
		TaskTimeout:        DefaultTaskTimeout,
		OutputCapBytes:     DefaultOutputCapBytes,
		HealthInterval:     DefaultHealthInterval,
		GraceWindow:        DefaultGraceWindow,
		FailureThreshold:   DefaultFailureThreshold,
		ProbeTimeout:       DefaultProbeTimeout,
		ScrollbackLines:    DefaultScrollbackLines,
	}
}

// normalize replaces zero or negative values with defaults.
func (s *Settings) normalize() {
	d := DefaultSettings()
	if s.DefaultConcurrency <= 0 {
		s.DefaultConcurrency = d.DefaultConcurrency
	}
	if s.TaskTimeout <= 0 {
		s.TaskTimeout = d.TaskTimeout
	}
	if s.OutputCapBytes <= 0 {
		s.OutputCapBytes = d.OutputCapBytes
	}
	if s.HealthInterval <= 0 {
		s.HealthInterval = d.HealthInterval
	}
	if s.GraceWindow <= 0 {
		s.GraceWindow = d.GraceWindow
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	if s.ScrollbackLines <= 0 {
		s.ScrollbackLines = d.ScrollbackLines
	}
}

// settingsFile is the on-disk shape: durations are written as strings
// ("4h0m0s") so the file stays editable by hand.
type settingsFile struct {
	DefaultConcurrency int    `json:"default_concurrency,omitempty"`
	TaskTimeout        string `json:"task_timeout,omitempty"`
	OutputCapBytes     int    `json:"output_cap_bytes,omitempty"`
	HealthInterval     string `json:"health_interval,omitempty"`
	GraceWindow        string `json:"grace_window,omitempty"`
	FailureThreshold   int    `json:"failure_threshold,omitempty"`
	ProbeTimeout       string `json:"probe_timeout,omitempty"`
	ScrollbackLines    int    `json:"scrollback_lines,omitempty"`
	DataDir            string `json:"data_dir,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsFile{
		DefaultConcurrency: s.DefaultConcurrency,
		TaskTimeout:        durationString(s.TaskTimeout),
		OutputCapBytes:     s.OutputCapBytes,
		HealthInterval:     durationString(s.HealthInterval),
		GraceWindow:        durationString(s.GraceWindow),
		FailureThreshold:   s.FailureThreshold,
		ProbeTimeout:       durationString(s.ProbeTimeout),
		ScrollbackLines:    s.ScrollbackLines,
		DataDir:            s.DataDir,
	})
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}
