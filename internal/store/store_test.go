package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateFillsDefaults(t *testing.T) {
	s := newTestStore(t)

	task, err := s.Create(&Task{Title: "write docs", Tags: []string{"docs"}})
	require.NoError(t, err)

	_, err = uuid.Parse(task.ID)
	require.NoError(t, err, "id should be a uuid")
	assert.Equal(t, StatusCreated, task.Status)
	assert.Equal(t, SourceUser, task.Source)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = os.Stat(filepath.Join(s.Root(), "tasks", task.ID+".json"))
	require.NoError(t, err)
}

func TestCreateRejects(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(&Task{})
	require.Error(t, err)

	_, err = s.Create(&Task{Title: "x", Status: "bogus"})
	require.Error(t, err)

	first, err := s.Create(&Task{ID: "fixed", Title: "one"})
	require.NoError(t, err)
	_, err = s.Create(&Task{ID: first.ID, Title: "two"})
	require.Error(t, err)

	_, err = s.Create(&Task{ID: "../escape", Title: "x"})
	require.Error(t, err)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update("nope", Patch{Status: Ptr(StatusRunning)})
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete("nope"), ErrNotFound)
}

func TestUpdateAppliesPatch(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(&Task{Title: "build"})
	require.NoError(t, err)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := s.Update(task.ID, Patch{
		Status:     Ptr(StatusRunning),
		AssignedTo: Ptr("alpha"),
		StartedAt:  &started,
		Attempts:   Ptr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "alpha", got.AssignedTo)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "build", got.Title, "untouched fields survive")

	_, err = s.Update(task.ID, Patch{Status: Ptr(Status("weird"))})
	require.Error(t, err)
	reread, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, reread.Status, "rejected patch must not be written")
}

func TestListFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mk := func(title, agent string, status Status, offset time.Duration, tags ...string) *Task {
		task, err := s.Create(&Task{
			Title:      title,
			AssignedTo: agent,
			Status:     status,
			CreatedAt:  base.Add(offset),
			Tags:       tags,
		})
		require.NoError(t, err)
		return task
	}
	c := mk("c", "alpha", StatusAssigned, 2*time.Hour)
	a := mk("a", "alpha", StatusRunning, 0, "urgent")
	b := mk("b", "beta", StatusAssigned, time.Hour)

	all, err := s.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	alpha, err := s.List(Filter{AssignedTo: "alpha"})
	require.NoError(t, err)
	require.Len(t, alpha, 2)

	assigned, err := s.List(Filter{Statuses: []Status{StatusAssigned}})
	require.NoError(t, err)
	require.Len(t, assigned, 2)

	urgent, err := s.List(Filter{Tag: "urgent"})
	require.NoError(t, err)
	require.Len(t, urgent, 1)
	assert.Equal(t, a.ID, urgent[0].ID)

	limited, err := s.List(Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(&Task{Title: "ok"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "tasks", "broken.json"), []byte("{"), 0o644))

	tasks, err := s.List(Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestStatusTerminal(t *testing.T) {
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.True(t, st.Terminal(), st)
	}
	for _, st := range []Status{StatusCreated, StatusAssigned, StatusRunning} {
		assert.False(t, st.Terminal(), st)
	}
}
