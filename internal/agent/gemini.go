package agent

import (
	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/stream"
)

// geminiRuntime runs Google's gemini CLI with stream-json output. An empty
// -p value forces headless mode while the prompt itself goes on stdin.
type geminiRuntime struct{}

func (geminiRuntime) Name() string { return "gemini" }

func (geminiRuntime) Command(p *config.Profile) string {
	if p.Command != "" {
		return p.Command
	}
	return "gemini"
}

func (geminiRuntime) Args(p *config.Profile, _ string, opts Options) []string {
	args := make([]string, 0, len(p.Args)+8)
	args = append(args, p.Args...)
	args = append(args, "--output-format", "stream-json")
	if p.Model != "" && !hasFlag(p.Args, "-m") && !hasFlag(p.Args, "--model") {
		args = append(args, "--model", p.Model)
	}
	if p.FullAccess && !hasFlag(p.Args, "-y") && !hasFlag(p.Args, "--yolo") {
		args = append(args, "--yolo")
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	return append(args, "-p", "")
}

func (geminiRuntime) Env(*config.Profile) map[string]string {
	return passthrough("GEMINI_API_KEY", "GOOGLE_API_KEY", "GOOGLE_CLOUD_PROJECT")
}

func (geminiRuntime) InputMode() InputMode { return InputStdin }

func (geminiRuntime) FormatInput(p *config.Profile, input string) string {
	return withSystemPrompt(p, input)
}

func (geminiRuntime) NewStrategy(sink stream.Sink) stream.Strategy {
	return stream.NewNDJSON("gemini", stream.DecodeGemini, sink)
}

func (geminiRuntime) ParseResult(out Output) Result { return structuredResult(out) }
