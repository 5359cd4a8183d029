package services

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agusx1211/corral/internal/debug"
)

const (
	ManifestDir  = ".corral"
	ManifestFile = "services.jsonl"
)

// Entry is one line of a workspace's service manifest. Agents append a line
// each time they start a long-running process.
type Entry struct {
	Port      int       `json:"port"`
	Name      string    `json:"name"`
	Command   string    `json:"command,omitempty"`
	Cwd       string    `json:"cwd,omitempty"`
	LogFile   string    `json:"logFile,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// ManifestPath returns <workspace>/.corral/services.jsonl.
func ManifestPath(workspace string) string {
	return filepath.Join(workspace, ManifestDir, ManifestFile)
}

// ReadManifest parses every well-formed line of the manifest. A missing file
// is an empty manifest.
func ReadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			debug.LogKV("services", "skipping malformed manifest line", "path", path, "line", lineNo, "error", err)
			continue
		}
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" || e.Port <= 0 || e.Port > 65535 {
			debug.LogKV("services", "skipping incomplete manifest line", "path", path, "line", lineNo)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("scanning manifest %s: %w", path, err)
	}
	return entries, nil
}

// AppendManifest adds one entry to the manifest, creating it if needed.
func AppendManifest(path string, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest dir: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening manifest %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to manifest %s: %w", path, err)
	}
	return nil
}

// writeManifest replaces the manifest with entries.
func writeManifest(path string, entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Dedup keeps the newest entry per name and per port. When a port is reused
// under a different name the older name is dropped. Equal timestamps are
// broken by manifest order, later lines winning.
func Dedup(entries []Entry) []Entry {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartedAt.Before(ordered[j].StartedAt)
	})

	byName := make(map[string]Entry)
	byPort := make(map[int]string)
	for _, e := range ordered {
		if prev, ok := byPort[e.Port]; ok && prev != e.Name {
			delete(byName, prev)
		}
		if prev, ok := byName[e.Name]; ok && prev.Port != e.Port {
			if byPort[prev.Port] == e.Name {
				delete(byPort, prev.Port)
			}
		}
		byName[e.Name] = e
		byPort[e.Port] = e.Name
	}

	out := make([]Entry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
