package agent

import (
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/stream"
)

// claudeRuntime runs Anthropic's claude CLI in print mode with stream-json
// output. The prompt goes on stdin.
type claudeRuntime struct{}

func (claudeRuntime) Name() string { return "claude" }

func (claudeRuntime) Command(p *config.Profile) string {
	if p.Command != "" {
		return p.Command
	}
	return "claude"
}

func (claudeRuntime) Args(p *config.Profile, _ string, opts Options) []string {
	args := make([]string, 0, len(p.Args)+10)
	args = append(args, p.Args...)
	// --verbose is required by the CLI for stream-json.
	args = append(args, "--print", "--output-format", "stream-json", "--verbose")
	if p.Model != "" && !hasFlag(p.Args, "--model") {
		args = append(args, "--model", p.Model)
	}
	if p.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", p.SystemPrompt)
	}
	if p.FullAccess && !hasFlag(p.Args, "--dangerously-skip-permissions") {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	return args
}

func (claudeRuntime) Env(*config.Profile) map[string]string {
	return passthrough("ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "CLAUDE_CODE_OAUTH_TOKEN")
}

func (claudeRuntime) InputMode() InputMode { return InputStdin }

func (claudeRuntime) NewStrategy(sink stream.Sink) stream.Strategy {
	return stream.NewNDJSON("claude", stream.DecodeClaude, sink)
}

func (claudeRuntime) ParseResult(out Output) Result { return structuredResult(out) }
