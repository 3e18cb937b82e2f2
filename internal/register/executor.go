// Package register performs single registration attempts and classifies
// their failures.
package register

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/turtacn/meshconverge/internal/supervisor"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

const (
	placeholderCredential = "{credential}"
	placeholderEndpoint   = "{endpoint}"
	redacted              = "[REDACTED]"
	maxMessageLen         = 2048
)

type rule struct {
	kind apperrors.ErrorKind
	re   *regexp.Regexp
}

// Evaluated in order; the first match wins.
var rules = []rule{
	{apperrors.KindDeadlineExceeded, regexp.MustCompile(`(?i)context deadline exceeded|deadline exceeded|timed out`)},
	{apperrors.KindConnectionRefused, regexp.MustCompile(`(?i)connection refused|actively refused`)},
	{apperrors.KindInvalidCredential, regexp.MustCompile(`(?i)invalid setup key|setup key .*(invalid|expired|revoked|not found)|unauthenticated|unauthorized|invalid credential`)},
	{apperrors.KindNetworkError, regexp.MustCompile(`(?i)no such host|network is unreachable|i/o timeout|dial tcp|connection reset|tls handshake|temporary failure in name resolution|dns`)},
}

// Classify maps failure output to an ErrorKind. It never returns KindNone.
func Classify(output string) apperrors.ErrorKind {
	for _, r := range rules {
		if r.re.MatchString(output) {
			return r.kind
		}
	}
	return apperrors.KindUnknown
}

// Executor runs the agent's registration command.
type Executor struct {
	runner  supervisor.Runner
	args    []string
	timeout time.Duration
	log     logger.Logger
}

func New(r supervisor.Runner, agent protocol.AgentConfig) *Executor {
	return &Executor{
		runner:  r,
		args:    agent.RegisterArgs,
		timeout: agent.RegisterTimeout.Std(),
		log:     logger.Log.With("component", "register"),
	}
}

// Attempt runs the registration command exactly once.
func (e *Executor) Attempt(ctx context.Context, h protocol.AgentHandle, credential, endpoint string, index int) protocol.RegistrationAttempt {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	att := protocol.RegistrationAttempt{Index: index, StartedAt: time.Now()}
	e.log.Info("Registration attempt", "attempt", index, "endpoint", endpoint)
	res := e.runner.Run(ctx, h.BinaryPath, Args(e.args, credential, endpoint)...)
	att.Duration = time.Since(att.StartedAt)
	att.ExitCode = res.ExitCode
	output := redact(res.Output(), credential)
	att.Message = truncate(output)

	if res.Succeeded() {
		att.Success = true
		e.log.Info("Registration command succeeded", "attempt", index, "duration", att.Duration)
		return att
	}
	// The agent may log at length before the line that names the failure.
	att.Kind = Classify(output)
	e.log.Warn("Registration command failed", "attempt", index, "exit", res.ExitCode, "kind", att.Kind)
	return att
}

// Args substitutes the credential and endpoint into the argument template.
// A flag whose placeholder value is empty is dropped along with it, so an
// absent credential lets the agent reuse its existing registration.
func Args(tmpl []string, credential, endpoint string) []string {
	empty := map[string]bool{placeholderCredential: credential == "", placeholderEndpoint: endpoint == ""}
	out := make([]string, 0, len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		a := tmpl[i]
		if i+1 < len(tmpl) && empty[tmpl[i+1]] && strings.HasPrefix(a, "-") {
			i++
			continue
		}
		a = strings.ReplaceAll(a, placeholderCredential, credential)
		a = strings.ReplaceAll(a, placeholderEndpoint, endpoint)
		out = append(out, a)
	}
	return out
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, redacted)
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return s[:maxMessageLen] + "..."
}

// Personal.AI order the ending
