package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattjoyce/strata/internal/log"
	"github.com/mattjoyce/strata/internal/stage"
)

// DefaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Options configures how stages are spawned.
type Options struct {
	WorkDir      string        // working directory for every stage (project root)
	GracePeriod  time.Duration // SIGTERM to SIGKILL delay
	StreamOutput bool          // log output lines as they arrive
	Logger       *slog.Logger  // defaults to the process logger
}

// Result is the outcome of one stage invocation.
type Result struct {
	Stage     string        `json:"stage"`
	Command   []string      `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Executor spawns stage processes one at a time.
type Executor struct {
	opts Options
}

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Executor{opts: opts}
}

// Run executes unit and blocks until it exits.
//
// With simulate set it logs the command line and returns nil, nil. Otherwise
// the returned Result is populated even when the stage fails; failure is
// reported as *StageError.
func (e *Executor) Run(ctx context.Context, unit stage.Unit, simulate bool) (*Result, error) {
	logger := e.stageLogger(unit.Name)

	if len(unit.Command) == 0 {
		return nil, fmt.Errorf("stage %s has no command", unit.Name)
	}

	if simulate {
		logger.Info("dry run: would execute", "command", strings.Join(unit.Command, " "), "dir", e.opts.WorkDir)
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: unit.Name, ExitCode: -1, Canceled: true, Err: err}
	}

	logger.Info("executing stage", "command", strings.Join(unit.Command, " "))

	cmd := exec.Command(unit.Command[0], unit.Command[1:]...)
	cmd.Dir = e.opts.WorkDir
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	var streams []*lineWriter
	if e.opts.StreamOutput {
		outLines := newLineWriter(logger, "stdout")
		errLines := newLineWriter(logger, "stderr")
		streams = append(streams, outLines, errLines)
		cmd.Stdout = io.MultiWriter(&stdout, outLines)
		cmd.Stderr = io.MultiWriter(&stderr, errLines)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	result := &Result{
		Stage:     unit.Name,
		Command:   unit.Command,
		StartedAt: time.Now(),
	}

	if err := cmd.Start(); err != nil {
		result.ExitCode = -1
		result.Duration = time.Since(result.StartedAt)
		logger.Error("stage could not start", "error", err)
		return result, &StageError{Stage: unit.Name, ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if unit.Timeout > 0 {
		timer := time.NewTimer(unit.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var (
		err      error
		timedOut bool
		canceled bool
	)
	select {
	case err = <-waitErr:
	case <-timeoutC:
		timedOut = true
		logger.Warn("stage timed out, sending SIGTERM", "timeout", unit.Timeout)
		err = e.stop(cmd, waitErr, logger)
	case <-ctx.Done():
		canceled = true
		logger.Warn("run canceled, sending SIGTERM to stage")
		err = e.stop(cmd, waitErr, logger)
	}

	for _, s := range streams {
		s.Flush()
	}

	result.Duration = time.Since(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.ExitCode = exitCode(cmd, err)

	if timedOut || canceled {
		cause := context.DeadlineExceeded
		if canceled {
			cause = ctx.Err()
		}
		logger.Error("stage failed",
			"exit_code", result.ExitCode,
			"duration", result.Duration,
			"timed_out", timedOut,
			"canceled", canceled,
			"stdout", result.Stdout,
			"stderr", result.Stderr,
		)
		return result, &StageError{
			Stage:    unit.Name,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			TimedOut: timedOut,
			Canceled: canceled,
			Err:      cause,
		}
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logger.Error("stage failed",
				"error", err,
				"duration", result.Duration,
				"stdout", result.Stdout,
				"stderr", result.Stderr,
			)
			return result, &StageError{Stage: unit.Name, ExitCode: -1, Stdout: result.Stdout, Stderr: result.Stderr,
				Err: fmt.Errorf("wait for process: %w", err)}
		}
		logger.Error("stage failed",
			"exit_code", result.ExitCode,
			"duration", result.Duration,
			"stdout", result.Stdout,
			"stderr", result.Stderr,
		)
		return result, &StageError{
			Stage:    unit.Name,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	// Streamed output has already been logged line by line.
	if !e.opts.StreamOutput {
		if result.Stdout != "" {
			logger.Debug("stage stdout", "stdout", result.Stdout)
		}
		if result.Stderr != "" {
			logger.Debug("stage stderr", "stderr", result.Stderr)
		}
	}
	logger.Info("stage finished", "duration", result.Duration)
	return result, nil
}

func (e *Executor) stageLogger(name string) *slog.Logger {
	if e.opts.Logger != nil {
		return e.opts.Logger.With(slog.String("stage", name))
	}
	return log.WithStage(name)
}

// stop sends SIGTERM to the stage's process group, waits the grace period,
// then sends SIGKILL. It returns the process's wait error.
func (e *Executor) stop(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) error {
	if err := terminate(cmd); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(e.opts.GracePeriod)
	defer grace.Stop()

	select {
	case err := <-waitErr:
		logger.Info("stage exited after SIGTERM")
		return err
	case <-grace.C:
		logger.Warn("stage did not exit after SIGTERM, sending SIGKILL")
		if err := kill(cmd); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		return <-waitErr
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
