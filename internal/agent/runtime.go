package agent

import (
	"sort"
	"sync"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/stream"
)

// InputMode says how a runtime receives the task input.
type InputMode int

const (
	// InputStdin writes the input to the child's stdin.
	InputStdin InputMode = iota
	// InputArg passes the input on the command line; the runtime's Args
	// hook places it.
	InputArg
)

// Options are per-execution settings.
type Options struct {
	WorkDir         string            // overrides the profile cwd
	Env             map[string]string // overlaid last
	OnProgress      func(stream.Progress)
	OnEvent         func(stream.Event)
	ResumeSessionID string
}

// Output is everything a runtime needs to build a Result once the process
// has closed.
type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	State     stream.State
	Truncated bool
}

// Runtime adapts one agent CLI to the engine. Execute calls the hooks in
// order: Command, Args, Env, InputMode, NewStrategy, ParseResult.
type Runtime interface {
	Name() string
	Command(p *config.Profile) string
	Args(p *config.Profile, input string, opts Options) []string
	Env(p *config.Profile) map[string]string
	InputMode() InputMode
	NewStrategy(sink stream.Sink) stream.Strategy
	ParseResult(out Output) Result
}

// InputFormatter is implemented by runtimes that rewrite stdin input, for
// example to prepend a system prompt the CLI has no flag for.
type InputFormatter interface {
	FormatInput(p *config.Profile, input string) string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Runtime{
		"claude":      claudeRuntime{},
		"codex":       codexRuntime{},
		"gemini":      geminiRuntime{},
		"generic":     genericRuntime{mode: InputStdin},
		"generic-arg": genericRuntime{mode: InputArg},
	}
)

// Lookup returns the runtime registered under kind.
func Lookup(kind string) (Runtime, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	rt, ok := registry[kind]
	return rt, ok
}

// Register adds or replaces a runtime.
func Register(kind string, rt Runtime) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = rt
}

// Kinds lists the registered runtime kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
