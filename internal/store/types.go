package store

import (
	"slices"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusAssigned, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Source says who created a task.
type Source string

const (
	SourceUser   Source = "user"
	SourceSystem Source = "system"
	SourceAgent  Source = "agent"
)

// Task is a unit of work with a tracked lifecycle.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Source      Source     `json:"source"`
	CreatedBy   string     `json:"created_by,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Tags        []string   `json:"tags,omitempty"`

	// SessionID is the runtime's resume id from the latest execution.
	SessionID string `json:"session_id,omitempty"`
	// Attempts counts dispatches, including ones lost to a restart.
	Attempts int `json:"attempts,omitempty"`
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = slices.Clone(t.Tags)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Status      *Status
	AssignedTo  *string
	Priority    *int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *string
	Error       *string
	SessionID   *string
	Attempts    *int
	Tags        []string
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

func (p Patch) apply(t *Task) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AssignedTo != nil {
		t.AssignedTo = *p.AssignedTo
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.StartedAt != nil {
		v := p.StartedAt.UTC()
		t.StartedAt = &v
	}
	if p.CompletedAt != nil {
		v := p.CompletedAt.UTC()
		t.CompletedAt = &v
	}
	if p.Result != nil {
		t.Result = *p.Result
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if p.SessionID != nil {
		t.SessionID = *p.SessionID
	}
	if p.Attempts != nil {
		t.Attempts = *p.Attempts
	}
	if p.Tags != nil {
		t.Tags = slices.Clone(p.Tags)
	}
}

// Filter selects tasks in List. Zero fields match everything.
type Filter struct {
	Statuses   []Status
	AssignedTo string
	Source     Source
	Tag        string
	Limit      int
}

func (f Filter) match(t *Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.Tag != "" && !slices.Contains(t.Tags, f.Tag) {
		return false
	}
	return true
}
