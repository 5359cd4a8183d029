package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/events"
	"github.com/agusx1211/corral/internal/stream"
)

func TestObserveExecution(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())
	p := &config.Profile{ID: "a", Runtime: "claude"}

	m.ObserveExecution(p, agent.Result{
		Success:   true,
		Duration:  2 * time.Second,
		Truncated: true,
		Usage:     &stream.Usage{InputTokens: 10, OutputTokens: 4, CostUSD: 0.25},
	})
	m.ObserveExecution(p, agent.Result{ErrorKind: agent.KindTimeout})
	m.ObserveExecution(nil, agent.Result{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("claude", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("claude", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("unknown", "process")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.truncated.WithLabelValues("claude")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.tokens.WithLabelValues("claude", "input")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.tokens.WithLabelValues("claude", "output")))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.costUSD.WithLabelValues("claude")))
}

func TestRecordEvents(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.Record(events.Event{Topic: events.TaskUpdated, Data: events.TaskChange{Previous: "assigned", Status: "running"}})
	m.Record(events.Event{Topic: events.TaskUpdated, Data: events.TaskChange{Previous: "assigned", Status: "running"}})
	m.Record(events.Event{Topic: events.TaskUpdated, Data: events.TaskChange{Previous: "running", Status: "completed"}})
	m.Record(events.Event{Topic: events.TaskCompleted, Data: events.TaskChange{Previous: "running", Status: "completed"}})
	m.Record(events.Event{Topic: events.TaskResult, Data: events.ResultReady{Success: true}})
	m.Record(events.Event{Topic: events.SessionExit, Data: events.SessionEnded{ExitCode: 1}})
	m.Record(events.Event{Topic: events.ServiceChanged, Data: events.ServiceStatus{AgentID: "a", Name: "web", Port: 3000, Alive: false}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionExits.WithLabelValues("false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.serviceAlive.WithLabelValues("a", "web", "3000")))
}

func TestMustNewMetricsReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)
	second.ObserveExecution(&config.Profile{Runtime: "codex"}, agent.Result{Success: true})
	assert.Equal(t, 1.0, testutil.ToFloat64(first.executions.WithLabelValues("codex", "success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveExecution(nil, agent.Result{})
	m.Record(events.Event{})
	m.Watch(context.Background(), events.NewBus())
}

func TestWatchConsumesBus(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Watch(ctx, bus)
		close(done)
	}()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(events.Event{Topic: events.TaskResult, Data: events.ResultReady{Success: false}})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.results.WithLabelValues("false")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
