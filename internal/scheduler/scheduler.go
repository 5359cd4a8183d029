// Package scheduler owns the task state machine. It assigns tasks to agents
// under a per-agent concurrency cap, runs each through the execution engine
// with a safety-net timeout, and recovers tasks left running by a previous
// process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/events"
	"github.com/agusx1211/corral/internal/store"
	"github.com/agusx1211/corral/internal/stream"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTerminal     = errors.New("task already finished")
	ErrTransition   = errors.New("invalid status transition")
	ErrNotStarted   = errors.New("scheduler not started")
)

// TaskStore is the durable source of truth for tasks. The scheduler keeps no
// task state beyond a single operation.
type TaskStore interface {
	Create(t *store.Task) (*store.Task, error)
	Get(id string) (*store.Task, error)
	Update(id string, p store.Patch) (*store.Task, error)
	List(f store.Filter) ([]*store.Task, error)
}

// Executor runs one task execution. *agent.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, p *config.Profile, input string, opts agent.Options) agent.Result
}

// CancelResult reports the outcome of CancelTask.
type CancelResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Options wires a Scheduler.
type Options struct {
	Store    TaskStore
	Profiles config.ProfileStore
	Engine   Executor
	Bus      *events.Bus
	Settings config.Settings
}

var (
	errTimedOut  = errors.New("safety-net timeout")
	errCancelled = errors.New("cancelled by request")
	errStopping  = errors.New("scheduler stopping")
)

// sweepInterval re-offers every agent to dispatch in case a bus event was
// dropped.
const sweepInterval = 30 * time.Second

type execution struct {
	taskID   string
	agentID  string
	cancel   context.CancelCauseFunc
	timer    *time.Timer
	timedOut bool
}

type Scheduler struct {
	store    TaskStore
	profiles config.ProfileStore
	engine   Executor
	bus      *events.Bus

	defaultCap int
	timeout    time.Duration

	mu       sync.Mutex
	ctx      context.Context
	stop     context.CancelFunc
	started  bool
	stopping bool
	active   map[string]int // agent id -> running executions
	running  map[string]*execution
	sub      *events.Subscription
	wg       sync.WaitGroup
}

// New returns a stopped scheduler.
func New(opts Options) *Scheduler {
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	timeout := opts.Settings.TaskTimeout
	if timeout <= 0 {
		timeout = config.DefaultTaskTimeout
	}
	return &Scheduler{
		store:      opts.Store,
		profiles:   opts.Profiles,
		engine:     opts.Engine,
		bus:        bus,
		defaultCap: opts.Settings.DefaultConcurrency,
		timeout:    timeout,
		active:     make(map[string]int),
		running:    make(map[string]*execution),
	}
}

// Bus returns the bus the scheduler publishes on.
func (s *Scheduler) Bus() *events.Bus { return s.bus }

// Start recovers tasks left running, subscribes to task events and offers
// every agent with assigned tasks to dispatch.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.stop = context.WithCancel(ctx)
	s.started = true
	s.stopping = false
	s.sub = s.bus.Subscribe(1024, events.TaskCreated, events.TaskUpdated)
	sub, loopCtx := s.sub, s.ctx
	s.mu.Unlock()

	n, err := s.Recover()
	if err != nil {
		debug.LogKV("sched", "recovery failed", "error", err)
	} else if n > 0 {
		debug.LogKV("sched", "recovered interrupted tasks", "count", n)
	}

	s.wg.Add(1)
	go s.loop(loopCtx, sub)
	s.dispatchAll()
	return err
}

// Stop cancels in-flight executions and waits for them. Their tasks stay
// running in the store and are reset by the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stopping = true
	for _, ex := range s.running {
		stopTimer(ex)
		ex.cancel(errStopping)
	}
	s.stop()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	sub.Close()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sub *events.Subscription) {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchAll()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			change, _ := ev.Data.(events.TaskChange)
			if ev.AgentID != "" && change.Status == string(store.StatusAssigned) {
				s.dispatch(ev.AgentID)
			}
		}
	}
}

// Submit stores a new task. A task that names an agent is assigned right
// away and picked up by dispatch.
func (s *Scheduler) Submit(t *store.Task) (*store.Task, error) {
	if t == nil {
		return nil, errors.New("task is nil")
	}
	draft := t.Clone()
	agentID := strings.TrimSpace(draft.AssignedTo)
	draft.Status = store.StatusCreated
	draft.AssignedTo = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.store.Create(draft)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.publishChange(events.TaskCreated, task, "")
	if agentID == "" {
		return task, nil
	}
	return s.transitionLocked(task, store.StatusAssigned, store.Patch{AssignedTo: store.Ptr(agentID)}, false)
}

// Assign gives a created task to an agent.
func (s *Scheduler) Assign(taskID, agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return errors.New("agent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(taskID)
	if err != nil {
		return err
	}
	_, err = s.transitionLocked(task, store.StatusAssigned, store.Patch{AssignedTo: store.Ptr(agentID)}, false)
	return err
}

// ActiveCount returns the number of running executions for agentID.
func (s *Scheduler) ActiveCount(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[agentID]
}

// ActiveTotal returns the number of running executions across agents.
func (s *Scheduler) ActiveTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Recover resets every task stored as running that this scheduler is not
// executing back to assigned. Running it twice is harmless.
func (s *Scheduler) Recover() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.store.List(store.Filter{Statuses: []store.Status{store.StatusRunning}})
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}
	n := 0
	var errs []error
	for _, task := range tasks {
		if _, tracked := s.running[task.ID]; tracked {
			continue
		}
		if _, err := s.transitionLocked(task, store.StatusAssigned, store.Patch{}, true); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// CancelTask cancels a task in any non-terminal state.
func (s *Scheduler) CancelTask(id string) CancelResult {
	if err := s.Cancel(id); err != nil {
		return CancelResult{Success: false, Error: err.Error()}
	}
	return CancelResult{Success: true}
}

// Cancel is CancelTask with a typed error: ErrTaskNotFound or ErrTerminal.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	task, err := s.getLocked(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if task.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, task.Status)
	}

	// The outcome is recorded before the process is touched; a failed write
	// leaves the execution running and the task as it was.
	now := time.Now().UTC()
	if _, err := s.transitionLocked(task, store.StatusCancelled, store.Patch{CompletedAt: &now}, false); err != nil {
		s.mu.Unlock()
		debug.LogKV("sched", "cancel not recorded", "task", id, "error", err)
		return err
	}
	ex, tracked := s.running[id]
	if tracked {
		stopTimer(ex)
		ex.cancel(errCancelled)
		s.releaseLocked(ex)
	}
	agentID := task.AssignedTo
	s.mu.Unlock()

	debug.LogKV("sched", "task cancelled", "task", id, "agent", agentID, "was_running", tracked)
	if tracked {
		s.dispatch(agentID)
	}
	return nil
}

func (s *Scheduler) dispatchAll() {
	tasks, err := s.store.List(store.Filter{Statuses: []store.Status{store.StatusAssigned}})
	if err != nil {
		debug.LogKV("sched", "list assigned tasks failed", "error", err)
		return
	}
	seen := make(map[string]bool)
	for _, t := range tasks {
		if t.AssignedTo == "" || seen[t.AssignedTo] {
			continue
		}
		seen[t.AssignedTo] = true
		s.dispatch(t.AssignedTo)
	}
}

// dispatch starts as many of agentID's assigned tasks as its cap allows,
// highest priority first, then oldest.
func (s *Scheduler) dispatch(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopping {
		return
	}

	prof, ok := s.profiles.Profile(agentID)
	if !ok || prof == nil {
		debug.LogKV("sched", "dispatch deferred: unknown agent", "agent", agentID)
		return
	}
	limit := prof.Concurrency(s.defaultCap)
	if s.active[agentID] >= limit {
		return
	}

	waiting, err := s.store.List(store.Filter{Statuses: []store.Status{store.StatusAssigned}, AssignedTo: agentID})
	if err != nil {
		debug.LogKV("sched", "list waiting tasks failed", "agent", agentID, "error", err)
		return
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].Priority != waiting[j].Priority {
			return waiting[i].Priority > waiting[j].Priority
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})

	for _, task := range waiting {
		if s.active[agentID] >= limit {
			return
		}
		if err := s.launchLocked(task, prof); err != nil {
			debug.LogKV("sched", "launch failed", "task", task.ID, "agent", agentID, "error", err)
		}
	}
}

func (s *Scheduler) launchLocked(task *store.Task, prof *config.Profile) error {
	now := time.Now().UTC()
	resume := task.SessionID
	task, err := s.transitionLocked(task, store.StatusRunning, store.Patch{
		StartedAt: &now,
		Attempts:  store.Ptr(task.Attempts + 1),
		Result:    store.Ptr(""),
		Error:     store.Ptr(""),
	}, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(s.ctx)
	ex := &execution{taskID: task.ID, agentID: task.AssignedTo, cancel: cancel}
	ex.timer = time.AfterFunc(s.timeout, func() { s.expire(ex) })
	s.running[task.ID] = ex
	s.active[ex.agentID]++

	debug.LogKV("sched", "task started",
		"task", task.ID,
		"agent", ex.agentID,
		"active", s.active[ex.agentID],
		"attempt", task.Attempts,
		"resume_session", resume,
	)

	s.wg.Add(1)
	go s.run(ctx, ex, task, prof, resume)
	return nil
}

func (s *Scheduler) run(ctx context.Context, ex *execution, task *store.Task, prof *config.Profile, resume string) {
	defer s.wg.Done()
	defer ex.cancel(nil)
	res := s.engine.Execute(ctx, prof, taskInput(task), agent.Options{
		WorkDir:         prof.Cwd,
		ResumeSessionID: resume,
		OnEvent: func(ev stream.Event) {
			if ev.Type == "system" && ev.Subtype == "init" && ev.SessionID != "" {
				s.recordSession(task.ID, ev.SessionID)
			}
		},
	})
	s.finish(ex, task, res)
}

func (s *Scheduler) recordSession(taskID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.store.Update(taskID, store.Patch{SessionID: store.Ptr(sessionID)}); err != nil {
		debug.LogKV("sched", "record session id failed", "task", taskID, "error", err)
	}
}

func (s *Scheduler) expire(ex *execution) {
	s.mu.Lock()
	if s.running[ex.taskID] != ex {
		s.mu.Unlock()
		return
	}
	ex.timedOut = true
	ex.timer = nil
	s.mu.Unlock()
	debug.LogKV("sched", "task timed out", "task", ex.taskID, "agent", ex.agentID, "timeout", s.timeout)
	ex.cancel(errTimedOut)
}

func (s *Scheduler) finish(ex *execution, task *store.Task, res agent.Result) {
	s.mu.Lock()
	if s.running[ex.taskID] != ex {
		// Cancel already released the slot and recorded the outcome.
		s.mu.Unlock()
		return
	}
	stopTimer(ex)
	s.releaseLocked(ex)
	if s.stopping {
		s.mu.Unlock()
		return
	}

	current, err := s.getLocked(ex.taskID)
	if err != nil {
		s.mu.Unlock()
		debug.LogKV("sched", "task vanished during execution", "task", ex.taskID, "error", err)
		s.dispatch(ex.agentID)
		return
	}

	now := time.Now().UTC()
	patch := store.Patch{CompletedAt: &now}
	if res.SessionID != "" {
		patch.SessionID = store.Ptr(res.SessionID)
	}
	to := store.StatusCompleted
	var errText string
	switch {
	case ex.timedOut:
		to = store.StatusFailed
		errText = "timed out after " + s.timeout.String()
	case !res.Success:
		to = store.StatusFailed
		errText = res.Error
		if errText == "" {
			errText = "execution failed"
		}
	}
	if to == store.StatusCompleted {
		patch.Result = store.Ptr(res.Text)
	} else {
		patch.Error = store.Ptr(errText)
		if res.Text != "" {
			patch.Result = store.Ptr(res.Text)
		}
	}

	if _, err := s.transitionLocked(current, to, patch, false); err != nil {
		debug.LogKV("sched", "record outcome failed", "task", ex.taskID, "error", err)
	} else {
		text := res.Text
		if to != store.StatusCompleted {
			text = errText
		}
		s.bus.Publish(events.Event{
			Topic:   events.TaskResult,
			TaskID:  task.ID,
			AgentID: ex.agentID,
			Data: events.ResultReady{
				TaskID:  task.ID,
				AgentID: ex.agentID,
				Title:   task.Title,
				Text:    text,
				Success: to == store.StatusCompleted,
			},
		})
	}
	debug.LogKV("sched", "task finished",
		"task", ex.taskID,
		"agent", ex.agentID,
		"status", to,
		"error_kind", res.ErrorKind,
		"duration", res.Duration,
	)
	s.mu.Unlock()

	s.dispatch(ex.agentID)
}

func (s *Scheduler) releaseLocked(ex *execution) {
	delete(s.running, ex.taskID)
	s.active[ex.agentID]--
	if s.active[ex.agentID] <= 0 {
		delete(s.active, ex.agentID)
	}
}

func stopTimer(ex *execution) {
	if ex.timer != nil {
		ex.timer.Stop()
		ex.timer = nil
	}
}

// pendingTimers counts armed safety-net timers.
func (s *Scheduler) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ex := range s.running {
		if ex.timer != nil {
			n++
		}
	}
	return n
}

func (s *Scheduler) getLocked(id string) (*store.Task, error) {
	task, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return task, nil
}

// transitionLocked validates and stores one status change, then publishes
// task.updated and, for terminal states, task.completed. Callers hold s.mu,
// which keeps each task's notifications in order.
func (s *Scheduler) transitionLocked(task *store.Task, to store.Status, p store.Patch, recovery bool) (*store.Task, error) {
	from := task.Status
	if !Allowed(from, to, recovery) {
		if from.Terminal() {
			return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, task.ID, from)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransition, from, to)
	}
	p.Status = store.Ptr(to)
	updated, err := s.store.Update(task.ID, p)
	if err != nil {
		return nil, fmt.Errorf("update task %s: %w", task.ID, err)
	}
	s.publishChange(events.TaskUpdated, updated, from)
	if to.Terminal() {
		s.publishChange(events.TaskCompleted, updated, from)
	}
	return updated, nil
}

func (s *Scheduler) publishChange(topic events.Topic, task *store.Task, from store.Status) {
	s.bus.Publish(events.Event{
		Topic:   topic,
		TaskID:  task.ID,
		AgentID: task.AssignedTo,
		Data: events.TaskChange{
			Previous: string(from),
			Status:   string(task.Status),
			Error:    task.Error,
			Task:     task.Clone(),
		},
	})
}

// Allowed reports whether a task may move from one status to another.
// running -> assigned is only legal during recovery.
func Allowed(from, to store.Status, recovery bool) bool {
	switch from {
	case store.StatusCreated:
		return to == store.StatusAssigned || to == store.StatusCancelled
	case store.StatusAssigned:
		return to == store.StatusRunning || to == store.StatusCancelled
	case store.StatusRunning:
		return to.Terminal() || (recovery && to == store.StatusAssigned)
	}
	return false
}

func taskInput(t *store.Task) string {
	if strings.TrimSpace(t.Description) == "" {
		return t.Title
	}
	return t.Title + "\n\n" + t.Description
}
