package config

import (
	"errors"
	"fmt"
	"strings"
)

// Profile is the identity and launch configuration for one agent. The core
// treats it as read-only.
type Profile struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Runtime      string            `json:"runtime"`           // "claude", "codex", "gemini", "generic", "generic-arg"
	Command      string            `json:"command,omitempty"` // binary override (required for generic)
	Args         []string          `json:"args,omitempty"`    // extra args appended to every invocation
	Model        string            `json:"model,omitempty"`   // model override (empty = runtime default)
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Cwd          string            `json:"cwd,omitempty"` // workspace directory
	Env          map[string]string `json:"env,omitempty"` // explicit extra environment

	FullAccess     bool `json:"full_access,omitempty"`     // skip permission prompts
	AllowInterrupt bool `json:"allow_interrupt,omitempty"` // user may cancel mid-task
	MaxConcurrent  int  `json:"max_concurrent,omitempty"`  // 0 = settings default
}

// ProfileStore is the read side of the profile store the core depends on.
type ProfileStore interface {
	Profile(id string) (*Profile, bool)
}

// DisplayName returns Name, falling back to ID.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return p.ID
}

// Concurrency returns the per-agent task cap, using def when unset.
func (p *Profile) Concurrency(def int) int {
	if p != nil && p.MaxConcurrent > 0 {
		return p.MaxConcurrent
	}
	if def <= 0 {
		return DefaultConcurrency
	}
	return def
}

// Validate checks the fields every runtime needs.
func (p *Profile) Validate() error {
	if p == nil {
		return errors.New("profile is nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("profile id is required")
	}
	if strings.ContainsAny(p.ID, "/\\ \t\n") {
		return fmt.Errorf("profile id %q must not contain whitespace or path separators", p.ID)
	}
	if strings.TrimSpace(p.Runtime) == "" {
		return fmt.Errorf("profile %q: runtime is required", p.ID)
	}
	if strings.HasPrefix(p.Runtime, "generic") && strings.TrimSpace(p.Command) == "" {
		return fmt.Errorf("profile %q: generic runtime requires a command", p.ID)
	}
	if p.MaxConcurrent < 0 {
		return fmt.Errorf("profile %q: max_concurrent must be >= 0", p.ID)
	}
	return nil
}

// StaticProfiles is an in-memory ProfileStore keyed by profile id.
type StaticProfiles map[string]*Profile

// Profile implements ProfileStore.
func (s StaticProfiles) Profile(id string) (*Profile, bool) {
	p, ok := s[id]
	return p, ok
}
