package agent

import (
	"strings"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/stream"
)

// genericRuntime wraps any CLI as an agent. Stdout is the response text.
// With InputArg the input is appended as the final argument.
type genericRuntime struct {
	mode InputMode
}

func (g genericRuntime) Name() string {
	if g.mode == InputArg {
		return "generic-arg"
	}
	return "generic"
}

func (genericRuntime) Command(p *config.Profile) string { return p.Command }

func (g genericRuntime) Args(p *config.Profile, input string, _ Options) []string {
	args := append([]string(nil), p.Args...)
	if g.mode == InputArg && input != "" {
		args = append(args, input)
	}
	return args
}

func (genericRuntime) Env(*config.Profile) map[string]string { return nil }

func (g genericRuntime) InputMode() InputMode { return g.mode }

func (genericRuntime) NewStrategy(sink stream.Sink) stream.Strategy {
	return stream.NewRaw(sink)
}

func (genericRuntime) ParseResult(out Output) Result {
	res := Result{
		Success: out.ExitCode == 0,
		Text:    strings.TrimSpace(out.Stdout),
	}
	if !res.Success {
		res.ErrorKind = KindProcess
		res.Error = bestError("", out.Stderr, out.ExitCode)
	}
	return res
}
