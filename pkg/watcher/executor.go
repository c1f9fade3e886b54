package watcher

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"agentwatch/internal"
)

// CommandExecutor runs the configured external command for each
// non-duplicate event: it posts the acknowledgement comment, renders the
// prompt, spawns the command with a curated environment, and optionally
// posts the command's stdout as a follow-up comment.
type CommandExecutor struct {
	cfg    internal.ExecutorConfig
	prompt *PromptRenderer
	logger *log.Logger
}

// NewCommandExecutor builds the executor, loading prompt templates eagerly
// so misconfiguration fails at startup rather than on the first event.
func NewCommandExecutor(cfg internal.ExecutorConfig, logger *log.Logger) (*CommandExecutor, error) {
	if logger == nil {
		logger = internal.NewLogger("executor")
	}
	prompt, err := NewPromptRenderer(cfg)
	if err != nil {
		return nil, err
	}
	return &CommandExecutor{cfg: cfg, prompt: prompt, logger: logger}, nil
}

// Enabled reports whether the executor will run commands.
func (x *CommandExecutor) Enabled() bool {
	return x != nil && x.cfg.Enabled
}

// Execute runs the §4.6 sequence for one event. The acknowledgement comment
// is posted before the subprocess launches: it is the idempotency marker
// that suppresses replays. Errors after the marker are logged and swallowed;
// event processing is best-effort.
func (x *CommandExecutor) Execute(ctx context.Context, e *internal.Event, reactor Reactor) error {
	display := e.DisplayString()
	if _, err := reactor.PostComment(ctx, "Agent is working on "+display); err != nil {
		return fmt.Errorf("post acknowledgement for %s: %w", display, err)
	}

	prompt, err := x.prompt.Render(e)
	if err != nil {
		x.logger.Printf("render prompt for %s failed: %v", e.ID, err)
		prompt = ""
	}

	if x.cfg.DryRun {
		x.logDryRun(e, prompt)
		return nil
	}

	stdout, stderr, exitCode, err := x.run(ctx, e, prompt)
	internal.IncCommandRun(e.Provider)
	if err != nil {
		x.logger.Printf("command for %s failed: %v", e.ID, err)
		return nil
	}
	if exitCode != 0 {
		x.logger.Printf("command for %s exited %d: %s", e.ID, exitCode, strings.TrimSpace(stderr))
		return nil
	}

	if x.cfg.FollowUp && strings.TrimSpace(stdout) != "" {
		if _, err := reactor.PostComment(ctx, stdout); err != nil {
			x.logger.Printf("follow-up comment for %s failed: %v", e.ID, err)
		}
	}
	return nil
}

func (x *CommandExecutor) run(ctx context.Context, e *internal.Event, prompt string) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", x.cfg.Command)
	cmd.Env = append(os.Environ(), x.commandEnv(e, prompt)...)

	if x.cfg.UseStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, runErr
	}
	return stdout, stderr, 0, nil
}

// commandEnv curates the subprocess environment. PROMPT is set only when
// the prompt is not delivered on stdin.
func (x *CommandExecutor) commandEnv(e *internal.Event, prompt string) []string {
	env := []string{
		"EVENT_ID=" + e.ID,
		"EVENT_SAFE_ID=" + e.SafeID(),
		"EVENT_SHORT_ID=" + e.ShortID(),
	}
	if !x.cfg.UseStdin {
		env = append(env, "PROMPT="+prompt)
	}
	return env
}

func (x *CommandExecutor) logDryRun(e *internal.Event, prompt string) {
	if x.cfg.UseStdin {
		x.logger.Printf("dry run for %s: command=%q stdin=%q", e.ID, x.cfg.Command, truncate(prompt, 500))
		return
	}
	x.logger.Printf("dry run for %s: command=%q PROMPT=%q", e.ID, x.cfg.Command, truncate(prompt, 100))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
