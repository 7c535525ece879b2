// Package command runs the external tools of the pipeline.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cuongbtq/transcriptomics-atlas/internal/worker/domain"
)

const (
	defaultWaitDelay = 10 * time.Second
	stderrTailBytes  = 4096
)

// Command is one tool invocation for one stage
type Command struct {
	Stage   domain.Stage
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration

	// DiscardStderr drops the tool's stderr instead of keeping its tail for the error message
	DiscardStderr bool
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Result is what a finished tool left behind
type Result struct {
	Stdout   []byte
	Duration time.Duration
}

// Runner runs a command to completion
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands as child processes
type ExecRunner struct {
	waitDelay time.Duration
	logger    *slog.Logger
}

// NewExecRunner creates a runner. waitDelay bounds how long pipes are drained after a kill.
func NewExecRunner(waitDelay time.Duration, logger *slog.Logger) *ExecRunner {
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}
	return &ExecRunner{
		waitDelay: waitDelay,
		logger:    logger,
	}
}

// Run starts the tool and waits for it. The child is always reaped before Run returns.
// A non-zero exit is a *domain.StageError and an expired timeout a *domain.StageTimeoutError.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = r.waitDelay

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr := &tailBuffer{limit: stderrTailBytes}
	if !c.DiscardStderr {
		cmd.Stderr = stderr
	}

	r.logger.Debug("Running command",
		slog.String("stage", string(c.Stage)),
		slog.String("command", c.String()),
	)

	start := time.Now()
	err := cmd.Run()
	result := &Result{Stdout: stdout.Bytes(), Duration: time.Since(start)}

	if err == nil {
		return result, nil
	}

	// The stage deadline fired while the caller was still waiting
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, &domain.StageTimeoutError{Stage: c.Stage, Timeout: c.Timeout, Err: err}
	}

	if ctx.Err() != nil {
		return result, domain.NewStageError(c.Stage, fmt.Errorf("%s interrupted: %w", c.Path, ctx.Err()))
	}

	stageErr := &domain.StageError{Stage: c.Stage, Err: err}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stageErr.ExitCode = exitErr.ExitCode()
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			stageErr.Err = fmt.Errorf("%w: %s", err, tail)
		}
	}

	return result, stageErr
}

// Expand substitutes {name} placeholders in every argument
func Expand(args []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	replacer := strings.NewReplacer(pairs...)

	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
