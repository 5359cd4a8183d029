// Package events is the in-process notification bus. Publishers never block:
// each subscriber has its own buffered channel and a full channel drops the
// event for that subscriber only.
package events

import (
	"sync"
	"time"

	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/eventq"
)

// Topic names one kind of notification.
type Topic string

const (
	TaskCreated    Topic = "task.created"
	TaskUpdated    Topic = "task.updated"
	TaskCompleted  Topic = "task.completed"
	TaskResult     Topic = "task.result"
	SessionOutput  Topic = "session.output"
	SessionExit    Topic = "session.exit"
	ServiceChanged Topic = "service.changed"
)

// Topics lists every topic the core publishes.
var Topics = []Topic{TaskCreated, TaskUpdated, TaskCompleted, TaskResult, SessionOutput, SessionExit, ServiceChanged}

// Event is one notification. Data holds the topic's payload type.
type Event struct {
	Topic   Topic     `json:"topic"`
	At      time.Time `json:"at"`
	TaskID  string    `json:"task_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// TaskChange is the payload of task.created, task.updated and
// task.completed.
type TaskChange struct {
	Previous string `json:"previous,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Task     any    `json:"task,omitempty"`
}

// ResultReady is the payload of task.result.
type ResultReady struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// SessionChunk is the payload of session.output.
type SessionChunk struct {
	Data string `json:"data"`
}

// SessionEnded is the payload of session.exit.
type SessionEnded struct {
	ExitCode int    `json:"exit_code"`
	Tail     string `json:"tail"`
}

// ServiceStatus is the payload of service.changed.
type ServiceStatus struct {
	AgentID  string `json:"agent_id"`
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Alive    bool   `json:"alive"`
	Failures int    `json:"failures"`
}

const defaultBuffer = 256

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	drops  eventq.DropCounter
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription receives events for a set of topics until closed.
type Subscription struct {
	bus    *Bus
	id     uint64
	topics map[Topic]bool
	ch     chan Event
	once   sync.Once
}

// Subscribe registers a subscriber. No topics means every topic. buffer <= 0
// uses a default size.
func (b *Bus) Subscribe(buffer int, topics ...Topic) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// C is the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unsubscribes and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) wants(t Topic) bool {
	return s.topics == nil || s.topics[t]
}

// Publish delivers ev to every interested subscriber without blocking. A
// zero At is stamped with the current time. Events from one publisher
// arrive in publish order.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Topic) {
			continue
		}
		if eventq.Offer(sub.ch, ev) {
			continue
		}
		if total, shouldLog := b.drops.Report(); shouldLog {
			debug.LogKV("events", "subscriber full, dropping event", "topic", ev.Topic, "subscriber", sub.id, "dropped_total", total)
		}
	}
}

// Dropped returns how many deliveries were dropped.
func (b *Bus) Dropped() uint64 { return b.drops.Total() }

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
