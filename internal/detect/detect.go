// Package detect finds the agent CLIs installed on this machine so profiles
// can be created for them.
package detect

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agusx1211/corral/internal/agent"
	"github.com/agusx1211/corral/internal/config"
)

const versionProbeTimeout = 1800 * time.Millisecond

// searchDirs lists the fallback install dirs probed after PATH.
var searchDirs = installDirs

var semverRE = regexp.MustCompile(`(?i)\bv?(\d+\.\d+(?:\.\d+)?(?:[-+][0-9A-Za-z.-]+)?)\b`)

// Found is one installed runtime binary.
type Found struct {
	Runtime string `json:"runtime"`
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Scan looks up the default binary of every registered runtime that has
// one and probes its version. Generic runtimes have no default binary and
// are skipped.
func Scan(ctx context.Context) []Found {
	var candidates []Found
	for _, kind := range agent.Kinds() {
		rt, ok := agent.Lookup(kind)
		if !ok {
			continue
		}
		bin := strings.TrimSpace(rt.Command(&config.Profile{}))
		if bin == "" {
			continue
		}
		if path, ok := resolveBinary(bin); ok {
			candidates = append(candidates, Found{Runtime: kind, Path: path})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range candidates {
		g.Go(func() error {
			candidates[i].Version = probeVersion(gctx, candidates[i].Path)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Runtime < candidates[j].Runtime })
	return candidates
}

// resolveBinary searches PATH, then the usual per-user install dirs.
func resolveBinary(bin string) (string, bool) {
	var paths []string
	if p, err := exec.LookPath(bin); err == nil {
		paths = append(paths, p)
	}
	for _, dir := range searchDirs() {
		paths = append(paths, filepath.Join(dir, bin))
	}
	for _, p := range paths {
		if real, ok := executable(p); ok {
			return real, true
		}
	}
	return "", false
}

func installDirs() []string {
	dirs := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, ".claude", "local"),
		)
	}
	return dirs
}

func executable(path string) (string, bool) {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Mode()&0111 == 0 {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, true
}

func probeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, _ := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if v := parseVersion(string(out)); v != "" {
		return v
	}
	return "unknown"
}

func parseVersion(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}
	if m := semverRE.FindStringSubmatch(output); len(m) > 1 {
		return m[1]
	}
	line, _, _ := strings.Cut(output, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 48 {
		line = line[:48]
	}
	return line
}
