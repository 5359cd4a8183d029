package services

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agusx1211/corral/internal/debug"
)

const probeConcurrency = 16

func (r *Registry) dialProbe(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: r.opts.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

type probeResult struct {
	svc   *TrackedService
	alive bool
}

// Check runs one probe pass over every tracked service. A pass already in
// progress makes this call return immediately.
//
// A failed probe inside a service's grace window is ignored. Outside it,
// the service is marked dead once FailureThreshold probes in a row have
// failed; one success marks it alive and resets the count.
func (r *Registry) Check(ctx context.Context) {
	if !r.checking.TryLock() {
		debug.LogKV("services", "probe pass skipped: previous pass still running")
		return
	}
	defer r.checking.Unlock()

	r.mu.Lock()
	var targets []*TrackedService
	for _, set := range r.agents {
		for _, svc := range set {
			targets = append(targets, svc)
		}
	}
	ports := make([]int, len(targets))
	for i, svc := range targets {
		ports[i] = svc.Port
	}
	r.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	results := make([]probeResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i := range targets {
		g.Go(func() error {
			results[i] = probeResult{svc: targets[i], alive: r.opts.Probe(gctx, ports[i])}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}

	now := r.now()
	var changed []TrackedService
	r.mu.Lock()
	for _, res := range results {
		svc := res.svc
		if r.agents[svc.AgentID][svc.Name] != svc {
			continue // replaced by a rescan mid-pass
		}
		svc.LastChecked = now
		wasAlive := svc.Alive
		switch {
		case res.alive:
			svc.Failures = 0
			svc.Alive = true
		case now.Before(svc.graceUntil):
		default:
			svc.Failures++
			if svc.Failures >= r.opts.FailureThreshold {
				svc.Alive = false
			}
		}
		if svc.Alive != wasAlive {
			changed = append(changed, *svc)
		}
	}
	r.mu.Unlock()

	for i := range changed {
		svc := &changed[i]
		debug.LogKV("services", "liveness changed", "agent", svc.AgentID, "service", svc.Name, "port", svc.Port, "alive", svc.Alive, "failures", svc.Failures)
		r.publish(svc)
	}
}

// rescan rereads the manifest of every workspace scanned so far, so services
// agents record after startup get tracked.
func (r *Registry) rescan(ctx context.Context) {
	r.mu.Lock()
	agents := make(map[string]string, len(r.workspaces))
	for id, ws := range r.workspaces {
		agents[id] = ws
	}
	r.mu.Unlock()
	if len(agents) == 0 {
		return
	}
	if err := r.ScanAll(ctx, agents); err != nil && ctx.Err() == nil {
		debug.LogKV("services", "manifest rescan failed", "error", err)
	}
}

// StartHealthMonitor rescans known workspaces and probes every Interval on
// one goroutine until ctx ends or StopHealthMonitor is called. Starting
// twice is a no-op.
func (r *Registry) StartHealthMonitor(ctx context.Context) {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()
	if r.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.monitorCancel = cancel
	r.monitorDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		debug.LogKV("services", "health monitor started", "interval", r.opts.Interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.rescan(ctx)
				r.Check(ctx)
			}
		}
	}()
}

// StopHealthMonitor stops the loop and waits for an in-flight pass.
func (r *Registry) StopHealthMonitor() {
	r.monitorMu.Lock()
	cancel, done := r.monitorCancel, r.monitorDone
	r.monitorCancel, r.monitorDone = nil, nil
	r.monitorMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	debug.LogKV("services", "health monitor stopped")
}
