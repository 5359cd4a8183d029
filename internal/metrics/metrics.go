// Package metrics exposes Prometheus collectors for executions, task
// transitions, sessions and service liveness.
package metrics

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/events"
)

const namespace = "corral"

// Metrics holds every collector. A nil *Metrics is a valid no-op.
type Metrics struct {
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	truncated         *prometheus.CounterVec
	tokens            *prometheus.CounterVec
	costUSD           *prometheus.CounterVec

	transitions  *prometheus.CounterVec
	results      *prometheus.CounterVec
	tasksRunning prometheus.Gauge

	sessionExits *prometheus.CounterVec
	serviceAlive *prometheus.GaugeVec
	busDrops     prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered under the same name. Any other registration error
// panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		executions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Agent executions by runtime and outcome.",
		}, []string{"runtime", "outcome"})),
		executionDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of agent executions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 14400},
		}, []string{"runtime"})),
		truncated: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "output_truncated_total",
			Help:      "Executions whose output exceeded the capture cap.",
		}, []string{"runtime"})),
		tokens: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tokens_total",
			Help:      "Tokens reported by runtimes.",
		}, []string{"runtime", "kind"})),
		costUSD: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cost_usd_total",
			Help:      "Cost in USD reported by runtimes.",
		}, []string{"runtime"})),
		transitions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"status"})),
		results: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_results_total",
			Help:      "Finished task executions by success.",
		}, []string{"success"})),
		tasksRunning: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_running",
			Help:      "Tasks currently running.",
		})),
		sessionExits: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "terminal",
			Name:      "session_exits_total",
			Help:      "Interactive sessions that ended, by clean exit.",
		}, []string{"clean"})),
		serviceAlive: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "services",
			Name:      "alive",
			Help:      "1 when a tracked service answers its port, 0 once declared dead.",
		}, []string{"agent", "service", "port"})),
		busDrops: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped",
			Help:      "Events dropped because a subscriber was full.",
		})),
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveExecution records one finished execution. Its signature matches
// agent.Engine.Observe.
func (m *Metrics) ObserveExecution(p *config.Profile, res agent.Result) {
	if m == nil {
		return
	}
	runtime := "unknown"
	if p != nil && p.Runtime != "" {
		runtime = p.Runtime
	}
	outcome := "success"
	if !res.Success {
		outcome = string(res.ErrorKind)
		if outcome == "" {
			outcome = string(agent.KindProcess)
		}
	}
	m.executions.WithLabelValues(runtime, outcome).Inc()
	m.executionDuration.WithLabelValues(runtime).Observe(res.Duration.Seconds())
	if res.Truncated {
		m.truncated.WithLabelValues(runtime).Inc()
	}
	if u := res.Usage; u != nil {
		m.tokens.WithLabelValues(runtime, "input").Add(float64(u.InputTokens))
		m.tokens.WithLabelValues(runtime, "output").Add(float64(u.OutputTokens))
		m.tokens.WithLabelValues(runtime, "cache_read").Add(float64(u.CacheReadInputTokens))
		m.tokens.WithLabelValues(runtime, "cache_creation").Add(float64(u.CacheCreationInputTokens))
		if u.CostUSD > 0 {
			m.costUSD.WithLabelValues(runtime).Add(u.CostUSD)
		}
	}
}

// Watch consumes bus events until ctx ends.
func (m *Metrics) Watch(ctx context.Context, bus *events.Bus) {
	if m == nil || bus == nil {
		return
	}
	sub := bus.Subscribe(1024, events.TaskUpdated, events.TaskResult, events.SessionExit, events.ServiceChanged)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			m.Record(ev)
			m.busDrops.Set(float64(bus.Dropped()))
		}
	}
}

// Record folds one event into the collectors.
func (m *Metrics) Record(ev events.Event) {
	if m == nil {
		return
	}
	switch data := ev.Data.(type) {
	case events.TaskChange:
		if ev.Topic != events.TaskUpdated {
			return
		}
		m.transitions.WithLabelValues(data.Status).Inc()
		if data.Status == "running" {
			m.tasksRunning.Inc()
		}
		if data.Previous == "running" {
			m.tasksRunning.Dec()
		}
	case events.ResultReady:
		m.results.WithLabelValues(strconv.FormatBool(data.Success)).Inc()
	case events.SessionEnded:
		m.sessionExits.WithLabelValues(strconv.FormatBool(data.ExitCode == 0)).Inc()
	case events.ServiceStatus:
		v := 0.0
		if data.Alive {
			v = 1
		}
		m.serviceAlive.WithLabelValues(data.AgentID, data.Name, strconv.Itoa(data.Port)).Set(v)
	}
}
