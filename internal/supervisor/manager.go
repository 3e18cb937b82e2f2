package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/turtacn/meshconverge/pkg/logger"
)

// Result is the captured outcome of one agent command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Err is set when the command could not be started or was cut short by
	// the context. ExitCode is -1 in that case.
	Err error
}

// Succeeded reports a zero exit status from a command that ran to completion.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Output returns stdout and stderr joined, trimmed, for pattern matching.
func (r Result) Output() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{r.Stdout, r.Stderr} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if r.Err != nil {
		parts = append(parts, r.Err.Error())
	}
	return strings.Join(parts, "\n")
}

// Runner executes an external command and captures its result. It never
// returns an error of its own; failures are reported inside Result.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) Result
}

// ProcessManager runs agent and host tool commands as child processes.
type ProcessManager struct {
	log logger.Logger
	// Redact lists substrings that must never appear in logs.
	Redact []string
}

// New creates a new ProcessManager instance.
func New() *ProcessManager {
	return &ProcessManager{log: logger.Log.With("component", "supervisor")}
}

// Run starts name with args, waits for it, and captures stdout, stderr and
// the exit code. Cancelling ctx kills the process.
func (pm *ProcessManager) Run(ctx context.Context, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	pm.log.Debug("Supervisor: running command", "cmd", pm.redact(name, args))
	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	pm.log.Debug("Supervisor: command finished", "cmd", name, "exit", res.ExitCode, "duration", res.Duration)
	return res
}

func (pm *ProcessManager) redact(name string, args []string) string {
	line := strings.Join(append([]string{name}, args...), " ")
	for _, secret := range pm.Redact {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "[REDACTED]")
		}
	}
	return line
}

// Personal.AI order the ending
