package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/agusx1211/corral/internal/config"
	"github.com/agusx1211/corral/internal/debug"
	"github.com/agusx1211/corral/internal/proctree"
	"github.com/agusx1211/corral/internal/stream"
)

// Engine runs one non-interactive execution of an agent CLI per call.
type Engine struct {
	// OutputCap bounds stdout and stderr each.
	OutputCap int64
	// Grace is the SIGTERM to SIGKILL delay when a tree is torn down.
	Grace time.Duration
	// WaitDelay bounds how long Execute waits for pipes held open by
	// escaped descendants after the child exits or is killed.
	WaitDelay time.Duration
	// Observe, when set, is called with every finished result.
	Observe func(p *config.Profile, r Result)
}

// NewEngine returns an Engine configured from settings.
func NewEngine(s config.Settings) *Engine {
	return &Engine{
		OutputCap: int64(s.OutputCapBytes),
		Grace:     proctree.DefaultGrace,
		WaitDelay: 5 * time.Second,
	}
}

// Execute runs input through the profile's runtime. It never returns an
// error: spawn failures, non-zero exits, cancellation and timeouts are all
// reported in the Result. It returns once the process tree is gone.
func (e *Engine) Execute(ctx context.Context, p *config.Profile, input string, opts Options) Result {
	start := time.Now()
	res := e.execute(ctx, p, input, opts)
	res.Duration = time.Since(start)
	if e.Observe != nil {
		e.Observe(p, res)
	}
	return res
}

func (e *Engine) execute(ctx context.Context, p *config.Profile, input string, opts Options) Result {
	if p == nil {
		return spawnFailure(errors.New("no profile"))
	}
	rt, ok := Lookup(p.Runtime)
	if !ok {
		return spawnFailure(fmt.Errorf("unknown runtime %q", p.Runtime))
	}

	name := rt.Command(p)
	args := rt.Args(p, input, opts)
	if strings.TrimSpace(name) == "" {
		return spawnFailure(fmt.Errorf("runtime %s: no command configured", rt.Name()))
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = p.Cwd
	}
	overlay := map[string]string{}
	if debug.Enabled() {
		overlay = debug.PropagatedEnv(overlay, "agent:"+p.ID)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	cmd.Env = BuildEnv(rt.Env(p), p.Env, opts.Env, overlay)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		debug.LogKV("agent", "terminating process tree", "profile", p.ID, "pid", cmd.Process.Pid, "cause", context.Cause(ctx))
		return proctree.Kill(cmd.Process.Pid, e.grace())
	}
	cmd.WaitDelay = e.WaitDelay

	if rt.InputMode() == InputStdin && input != "" {
		if f, ok := rt.(InputFormatter); ok {
			input = f.FormatInput(p, input)
		}
		cmd.Stdin = strings.NewReader(input)
	}

	limit := e.OutputCap
	if limit <= 0 {
		limit = config.DefaultOutputCapBytes
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	strategy := rt.NewStrategy(stream.Sink{OnEvent: opts.OnEvent, OnProgress: opts.OnProgress})
	cmd.Stdout = &strategyWriter{buf: stdout, strategy: strategy}
	cmd.Stderr = stderr

	debug.LogKV("agent", "starting execution",
		"profile", p.ID,
		"runtime", rt.Name(),
		"binary", name,
		"args", strings.Join(args, " "),
		"workdir", workDir,
		"input_len", len(input),
		"resume_session", opts.ResumeSessionID,
	)

	if err := cmd.Start(); err != nil {
		debug.LogKV("agent", "spawn failed", "profile", p.ID, "binary", name, "error", err)
		res := spawnFailure(fmt.Errorf("start %s: %w", name, err))
		if ctx.Err() != nil {
			res.ErrorKind = KindCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				res.ErrorKind = KindTimeout
			}
		}
		return res
	}

	waitErr := cmd.Wait()
	strategy.Flush()

	exitCode, err := extractExitCode(cmd, waitErr)
	if err != nil {
		debug.LogKV("agent", "wait failed", "profile", p.ID, "error", err)
	}

	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		State:     strategy.State(),
		Truncated: stdout.truncated() || stderr.truncated(),
	}
	res := rt.ParseResult(out)
	res.ExitCode = exitCode
	res.Truncated = out.Truncated

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Success = false
		res.ErrorKind = KindCancelled
		res.Error = "execution cancelled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			res.ErrorKind = KindTimeout
			res.Error = "execution timed out"
		}
	} else if !res.Success && res.ErrorKind == KindNone {
		res.ErrorKind = KindProcess
	}

	debug.LogKV("agent", "execution finished",
		"profile", p.ID,
		"exit_code", exitCode,
		"success", res.Success,
		"error_kind", res.ErrorKind,
		"stdout_bytes", len(out.Stdout),
		"truncated", res.Truncated,
		"events", out.State.Events,
	)
	return res
}

func (e *Engine) grace() time.Duration {
	if e.Grace > 0 {
		return e.Grace
	}
	return proctree.DefaultGrace
}

func spawnFailure(err error) Result {
	return Result{Success: false, Error: err.Error(), ErrorKind: KindSpawn, ExitCode: -1}
}

// extractExitCode interprets the error from Wait. Pipes held open past
// WaitDelay by an escaped descendant do not change the child's own status.
func extractExitCode(cmd *exec.Cmd, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), err
	}
	return -1, err
}
