// Package store is the durable task store: one JSON file per task under
// <root>/tasks.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown task id.
var ErrNotFound = errors.New("task not found")

type Store struct {
	root string
	mu   sync.RWMutex
	now  func() time.Time
}

// New opens a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	s := &Store{root: dir, now: time.Now}
	if err := os.MkdirAll(s.tasksDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating task directory: %w", err)
	}
	return s, nil
}

func (s *Store) Root() string { return s.root }

func (s *Store) tasksDir() string { return filepath.Join(s.root, "tasks") }

func (s *Store) taskPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid task id %q", id)
	}
	return filepath.Join(s.tasksDir(), id+".json"), nil
}

// Create stores a new task. Missing id, status, source and timestamps are
// filled in.
func (s *Store) Create(t *Task) (*Task, error) {
	if t == nil {
		return nil, errors.New("task is nil")
	}
	if strings.TrimSpace(t.Title) == "" {
		return nil, errors.New("task title is required")
	}
	task := t.Clone()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = StatusCreated
	}
	if !task.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", task.Status)
	}
	if task.Source == "" {
		task.Source = SourceUser
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	path, err := s.taskPath(task.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("task %s already exists", task.ID)
	}
	if err := writeJSON(path, task); err != nil {
		return nil, fmt.Errorf("writing task %s: %w", task.ID, err)
	}
	return task.Clone(), nil
}

// Get returns a copy of the task.
func (s *Store) Get(id string) (*Task, error) {
	path, err := s.taskPath(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readTask(path, id)
}

// Update applies p to the task and returns the result.
func (s *Store) Update(id string, p Patch) (*Task, error) {
	path, err := s.taskPath(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := readTask(path, id)
	if err != nil {
		return nil, err
	}
	p.apply(task)
	if !task.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", task.Status)
	}
	task.UpdatedAt = s.now().UTC()
	if err := writeJSON(path, task); err != nil {
		return nil, fmt.Errorf("writing task %s: %w", id, err)
	}
	return task.Clone(), nil
}

// Delete removes the task file.
func (s *Store) Delete(id string) error {
	path, err := s.taskPath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// List returns the tasks matching f, oldest first. Unreadable files are
// skipped.
func (s *Store) List(f Filter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.tasksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tasks []*Task
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		task, err := readTask(filepath.Join(s.tasksDir(), name), id)
		if err != nil {
			continue
		}
		if f.match(task) {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	return tasks, nil
}

func readTask(path, id string) (*Task, error) {
	var task Task
	if err := readJSON(path, &task); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}
	return &task, nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
