package agent

import (
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/stream"
)

const codexDefaultRustLog = "error,codex_core::rollout::list=off"

// codexRuntime runs OpenAI's codex CLI through `codex exec --json` so the
// TUI never takes over. The prompt goes on stdin to avoid argv limits.
type codexRuntime struct{}

func (codexRuntime) Name() string { return "codex" }

func (codexRuntime) Command(p *config.Profile) string {
	if p.Command != "" {
		return p.Command
	}
	return "codex"
}

func (codexRuntime) Args(p *config.Profile, _ string, opts Options) []string {
	args := make([]string, 0, len(p.Args)+8)
	args = append(args, "exec")
	if !hasFlag(p.Args, "--skip-git-repo-check") {
		args = append(args, "--skip-git-repo-check")
	}
	// --full-auto re-enables the workspace sandbox.
	user := p.Args
	if p.FullAccess {
		user = withoutFlag(user, "--full-auto")
	}
	args = append(args, user...)
	if p.Model != "" && !hasFlag(user, "-m") && !hasFlag(user, "--model") {
		args = append(args, "--model", p.Model)
	}
	if p.FullAccess && !hasFlag(user, "--dangerously-bypass-approvals-and-sandbox") && !hasFlag(user, "--yolo") {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	}
	if !hasFlag(user, "--json") {
		args = append(args, "--json")
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "resume", opts.ResumeSessionID)
	}
	// A lone "-" tells codex exec to read the prompt from stdin.
	return append(args, "-")
}

func (codexRuntime) Env(*config.Profile) map[string]string {
	env := passthrough("OPENAI_API_KEY", "OPENAI_BASE_URL", "CODEX_HOME", "RUST_LOG")
	if _, ok := env["RUST_LOG"]; !ok {
		env["RUST_LOG"] = codexDefaultRustLog
	}
	return env
}

func (codexRuntime) InputMode() InputMode { return InputStdin }

// FormatInput prepends the system prompt; codex exec has no flag for it.
func (codexRuntime) FormatInput(p *config.Profile, input string) string {
	return withSystemPrompt(p, input)
}

func (codexRuntime) NewStrategy(sink stream.Sink) stream.Strategy {
	return stream.NewNDJSON("codex", stream.DecodeCodex, sink)
}

func (codexRuntime) ParseResult(out Output) Result { return structuredResult(out) }

func withSystemPrompt(p *config.Profile, input string) string {
	if p.SystemPrompt == "" {
		return input
	}
	return p.SystemPrompt + "\n\n---\n\n" + input
}
