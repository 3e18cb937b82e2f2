// Package supervisortest provides a scripted supervisor.Runner for tests.
package supervisortest

import (
	"context"
	"strings"
	"sync"

	"github.com/turtacn/meshconverge/internal/supervisor"
)

// Runner returns canned results keyed by the command line. A key maps to a
// queue; the last result of a queue repeats once the queue is drained.
// Unmatched commands return exit 127.
type Runner struct {
	mu      sync.Mutex
	results map[string][]supervisor.Result
	calls   []string
}

func NewRunner() *Runner {
	return &Runner{results: make(map[string][]supervisor.Result)}
}

// On queues results for the command line "name arg1 arg2 ...".
func (r *Runner) On(cmdline string, results ...supervisor.Result) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[cmdline] = append(r.results[cmdline], results...)
	return r
}

// OK is a shorthand for a zero-exit result with the given stdout.
func OK(stdout string) supervisor.Result {
	return supervisor.Result{ExitCode: 0, Stdout: stdout}
}

// Exit is a shorthand for a non-zero result with the given stderr.
func Exit(code int, stderr string) supervisor.Result {
	return supervisor.Result{ExitCode: code, Stderr: stderr}
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) supervisor.Result {
	line := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, line)
	if err := ctx.Err(); err != nil {
		return supervisor.Result{ExitCode: -1, Err: err}
	}
	q, ok := r.results[line]
	if !ok || len(q) == 0 {
		return supervisor.Result{ExitCode: 127, Stderr: "command not scripted: " + line}
	}
	res := q[0]
	if len(q) > 1 {
		r.results[line] = q[1:]
	}
	return res
}

// Calls returns every command line run so far.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times cmdline was run.
func (r *Runner) Count(cmdline string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == cmdline {
			n++
		}
	}
	return n
}

// Personal.AI order the ending
