package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifestLines(t *testing.T, workspace string, lines ...string) string {
	t.Helper()
	path := ManifestPath(workspace)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var body string
	for _, l := range lines {
		body += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadManifestSkipsMalformedLines(t *testing.T) {
	ws := t.TempDir()
	path := writeManifestLines(t, ws,
		`{"port":3000,"name":"web","command":"npm run dev","cwd":"/w","logFile":"web.log","startedAt":"2026-01-02T03:04:05Z"}`,
		`not json`,
		`{"port":0,"name":"bad-port","startedAt":"2026-01-02T03:04:05Z"}`,
		`{"port":4000,"name":"","startedAt":"2026-01-02T03:04:05Z"}`,
		``,
		`{"port":5173,"name":"vite","startedAt":"2026-01-02T03:04:06Z"}`,
	)

	entries, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{
		Port:      3000,
		Name:      "web",
		Command:   "npm run dev",
		Cwd:       "/w",
		LogFile:   "web.log",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, entries[0])
	assert.Equal(t, "vite", entries[1].Name)
}

func TestReadManifestMissingFile(t *testing.T) {
	entries, err := ReadManifest(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDedup(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }

	tests := []struct {
		name string
		in   []Entry
		want []Entry
	}{
		{
			name: "newer entry wins for the same name",
			in: []Entry{
				{Port: 3000, Name: "web", Command: "old", StartedAt: at(0)},
				{Port: 3000, Name: "web", Command: "new", StartedAt: at(5)},
			},
			want: []Entry{{Port: 3000, Name: "web", Command: "new", StartedAt: at(5)}},
		},
		{
			name: "older line written later still loses",
			in: []Entry{
				{Port: 3000, Name: "web", Command: "new", StartedAt: at(5)},
				{Port: 3000, Name: "web", Command: "old", StartedAt: at(0)},
			},
			want: []Entry{{Port: 3000, Name: "web", Command: "new", StartedAt: at(5)}},
		},
		{
			name: "port reused by a renamed service evicts the old name",
			in: []Entry{
				{Port: 3000, Name: "web", StartedAt: at(0)},
				{Port: 3000, Name: "frontend", StartedAt: at(1)},
			},
			want: []Entry{{Port: 3000, Name: "frontend", StartedAt: at(1)}},
		},
		{
			name: "service moved to another port frees the old one",
			in: []Entry{
				{Port: 3000, Name: "web", StartedAt: at(0)},
				{Port: 3001, Name: "web", StartedAt: at(1)},
				{Port: 3000, Name: "api", StartedAt: at(2)},
			},
			want: []Entry{
				{Port: 3000, Name: "api", StartedAt: at(2)},
				{Port: 3001, Name: "web", StartedAt: at(1)},
			},
		},
		{
			name: "distinct services are kept",
			in: []Entry{
				{Port: 8080, Name: "api", StartedAt: at(0)},
				{Port: 5173, Name: "vite", StartedAt: at(0)},
			},
			want: []Entry{
				{Port: 8080, Name: "api", StartedAt: at(0)},
				{Port: 5173, Name: "vite", StartedAt: at(0)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dedup(tt.in))
		})
	}
}

func TestAppendManifestCreatesFile(t *testing.T) {
	ws := t.TempDir()
	path := ManifestPath(ws)
	e := Entry{Port: 9000, Name: "worker", StartedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, AppendManifest(path, e))
	require.NoError(t, AppendManifest(path, e))

	entries, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{e, e}, entries)
}
