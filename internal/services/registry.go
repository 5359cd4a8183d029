// Package services tracks long-running processes agents start in their
// workspaces (dev servers, watchers) and keeps them observable: it reads each
// workspace's manifest, probes the recorded ports, and can restart or stop a
// service on request.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/events"
)

var (
	ErrNotFound  = errors.New("service not found")
	ErrNoCommand = errors.New("service has no recorded command")
)

const defaultScanConcurrency = 4

// TrackedService is the registry's view of one logical service.
type TrackedService struct {
	AgentID     string    `json:"agent_id"`
	Workspace   string    `json:"workspace"`
	Port        int       `json:"port"`
	Name        string    `json:"name"`
	Command     string    `json:"command,omitempty"`
	Cwd         string    `json:"cwd,omitempty"`
	LogFile     string    `json:"log_file,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Alive       bool      `json:"alive"`
	LastChecked time.Time `json:"last_checked,omitempty"`
	Failures    int       `json:"failures"`

	graceUntil time.Time
}

// Options tunes a Registry. Zero values take the config defaults.
type Options struct {
	Bus              *events.Bus
	Interval         time.Duration
	GraceWindow      time.Duration
	FailureThreshold int
	ProbeTimeout     time.Duration
	KillGrace        time.Duration
	ScanConcurrency  int

	// Probe overrides the TCP liveness check.
	Probe func(ctx context.Context, port int) bool
}

// OptionsFromSettings maps daemon settings onto registry options.
func OptionsFromSettings(s config.Settings, bus *events.Bus) Options {
	return Options{
		Bus:              bus,
		Interval:         s.HealthInterval,
		GraceWindow:      s.GraceWindow,
		FailureThreshold: s.FailureThreshold,
		ProbeTimeout:     s.ProbeTimeout,
	}
}

type Registry struct {
	opts Options
	now  func() time.Time

	mu         sync.Mutex
	agents     map[string]map[string]*TrackedService // agent id -> name -> service
	workspaces map[string]string

	checking sync.Mutex

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultHealthInterval
	}
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = config.DefaultGraceWindow
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = config.DefaultFailureThreshold
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = config.DefaultProbeTimeout
	}
	if opts.ScanConcurrency <= 0 {
		opts.ScanConcurrency = defaultScanConcurrency
	}
	r := &Registry{
		opts:       opts,
		now:        time.Now,
		agents:     make(map[string]map[string]*TrackedService),
		workspaces: make(map[string]string),
	}
	if r.opts.Probe == nil {
		r.opts.Probe = r.dialProbe
	}
	return r
}

// Scan reads agentID's manifest and replaces its tracked set with the
// deduplicated entries. Health state carries over for services whose name,
// port and start time are unchanged.
func (r *Registry) Scan(agentID, workspace string) ([]TrackedService, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	if strings.TrimSpace(workspace) == "" {
		return nil, fmt.Errorf("agent %s has no workspace", agentID)
	}
	entries, err := ReadManifest(ManifestPath(workspace))
	if err != nil {
		return nil, err
	}
	entries = Dedup(entries)

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.agents[agentID]
	next := make(map[string]*TrackedService, len(entries))
	for _, e := range entries {
		svc, ok := prev[e.Name]
		if !ok || svc.Port != e.Port || !svc.StartedAt.Equal(e.StartedAt) {
			svc = &TrackedService{
				AgentID:    agentID,
				Alive:      true,
				graceUntil: e.StartedAt.Add(r.opts.GraceWindow),
			}
		}
		svc.Workspace = workspace
		svc.Port = e.Port
		svc.Name = e.Name
		svc.Command = e.Command
		svc.Cwd = e.Cwd
		svc.LogFile = e.LogFile
		svc.StartedAt = e.StartedAt
		next[e.Name] = svc
	}
	r.agents[agentID] = next
	r.workspaces[agentID] = workspace

	debug.LogKV("services", "scanned manifest", "agent", agentID, "workspace", workspace, "services", len(next))
	return sortedCopies(next), nil
}

// ScanAll scans every agent's workspace with bounded parallelism. Agents map
// id to workspace directory. Every scan runs; failures are joined.
func (r *Registry) ScanAll(ctx context.Context, agents map[string]string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.ScanConcurrency)

	var (
		mu   sync.Mutex
		errs []error
	)
	for id, ws := range agents {
		if strings.TrimSpace(ws) == "" {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := r.Scan(id, ws); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("scan %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// ScanProfiles scans every profile with a workspace directory.
func (r *Registry) ScanProfiles(ctx context.Context, profiles []config.Profile) error {
	agents := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if p.Cwd != "" {
			agents[p.ID] = p.Cwd
		}
	}
	return r.ScanAll(ctx, agents)
}

// List returns every tracked service ordered by agent then name.
func (r *Registry) List() []TrackedService {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []TrackedService
	for _, set := range r.agents {
		out = append(out, sortedCopies(set)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ListForAgent returns agentID's services ordered by name.
func (r *Registry) ListForAgent(agentID string) []TrackedService {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedCopies(r.agents[agentID])
}

// Prune rewrites agentID's manifest keeping only the deduplicated entries.
func (r *Registry) Prune(agentID string) (int, error) {
	r.mu.Lock()
	ws, ok := r.workspaces[agentID]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: no scanned workspace for agent %s", ErrNotFound, agentID)
	}

	path := ManifestPath(ws)
	entries, err := ReadManifest(path)
	if err != nil {
		return 0, err
	}
	kept := Dedup(entries)
	if len(kept) == len(entries) {
		return 0, nil
	}
	if err := writeManifest(path, kept); err != nil {
		return 0, err
	}
	removed := len(entries) - len(kept)
	debug.LogKV("services", "pruned manifest", "agent", agentID, "removed", removed)
	return removed, nil
}

// findLocked returns the service called name. With the same name under several
// agents the first agent id wins.
func (r *Registry) findLocked(name string) *TrackedService {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if svc, ok := r.agents[id][name]; ok {
			return svc
		}
	}
	return nil
}

func (r *Registry) findPortLocked(port int) []*TrackedService {
	var out []*TrackedService
	for _, set := range r.agents {
		for _, svc := range set {
			if svc.Port == port {
				out = append(out, svc)
			}
		}
	}
	return out
}

func (r *Registry) publish(svc *TrackedService) {
	if r.opts.Bus == nil {
		return
	}
	r.opts.Bus.Publish(events.Event{
		Topic:   events.ServiceChanged,
		AgentID: svc.AgentID,
		Data: events.ServiceStatus{
			AgentID:  svc.AgentID,
			Name:     svc.Name,
			Port:     svc.Port,
			Alive:    svc.Alive,
			Failures: svc.Failures,
		},
	})
}

func sortedCopies(set map[string]*TrackedService) []TrackedService {
	out := make([]TrackedService, 0, len(set))
	for _, svc := range set {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
