package register

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/internal/supervisor/supervisortest"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

const (
	key      = "nbs_4f3c2a1b0e9d8c7b6a5f4e3d"
	endpoint = "https://vpn.example.com"
	upLine   = "/usr/bin/netbird up --setup-key " + key + " --management-url " + endpoint
)

var handle = protocol.AgentHandle{BinaryPath: "/usr/bin/netbird", ServiceName: "netbird"}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   apperrors.ErrorKind
	}{
		{"grpc deadline", "Error: login failed: rpc error: code = DeadlineExceeded desc = context deadline exceeded", apperrors.KindDeadlineExceeded},
		{"timed out", "waiting for daemon: operation timed out", apperrors.KindDeadlineExceeded},
		{"refused", "dial unix /var/run/netbird.sock: connect: connection refused", apperrors.KindConnectionRefused},
		{"windows refused", "No connection could be made because the target machine actively refused it.", apperrors.KindConnectionRefused},
		{"bad key", "Error: login failed: invalid setup key", apperrors.KindInvalidCredential},
		{"expired key", "setup key is expired", apperrors.KindInvalidCredential},
		{"grpc unauth", "rpc error: code = Unauthenticated desc = peer login failed", apperrors.KindInvalidCredential},
		{"dns", "dial tcp: lookup vpn.example.com: no such host", apperrors.KindNetworkError},
		{"tls", "tls handshake failure", apperrors.KindNetworkError},
		{"unknown", "panic: something odd", apperrors.KindUnknown},
		{"empty", "", apperrors.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.output))
		})
	}
}

func TestClassify_OrderMatters(t *testing.T) {
	// Matches both the deadline and network rules.
	assert.Equal(t, apperrors.KindDeadlineExceeded, Classify("dial tcp 10.0.0.1:443: i/o timeout: context deadline exceeded"))
	assert.Equal(t, apperrors.KindConnectionRefused, Classify("dial tcp 10.0.0.1:443: connect: connection refused"))
}

func TestAttempt_Success(t *testing.T) {
	r := supervisortest.NewRunner().On(upLine, supervisortest.OK("Connected"))
	e := New(r, protocol.DefaultConfig().Agent)

	att := e.Attempt(context.Background(), handle, key, endpoint, 1)
	assert.True(t, att.Success)
	assert.Equal(t, 1, att.Index)
	assert.Equal(t, apperrors.KindNone, att.Kind)
	assert.Equal(t, 1, r.Count(upLine))
}

func TestAttempt_ExitZeroWinsOverText(t *testing.T) {
	r := supervisortest.NewRunner().On(upLine, supervisortest.OK("warning: connection refused once, retried"))
	att := New(r, protocol.DefaultConfig().Agent).Attempt(context.Background(), handle, key, endpoint, 1)
	assert.True(t, att.Success)
}

func TestAttempt_FailureRedactsCredential(t *testing.T) {
	r := supervisortest.NewRunner().On(upLine, supervisortest.Exit(1, "Error: invalid setup key "+key))
	att := New(r, protocol.DefaultConfig().Agent).Attempt(context.Background(), handle, key, endpoint, 2)

	assert.False(t, att.Success)
	assert.Equal(t, apperrors.KindInvalidCredential, att.Kind)
	assert.Equal(t, 1, att.ExitCode)
	assert.NotContains(t, att.Message, key)
	assert.Contains(t, att.Message, "[REDACTED]")
}

func TestAttempt_ContextTimeout(t *testing.T) {
	r := supervisortest.NewRunner().On(upLine, supervisor.Result{ExitCode: -1, Err: context.DeadlineExceeded})
	att := New(r, protocol.DefaultConfig().Agent).Attempt(context.Background(), handle, key, endpoint, 1)
	assert.Equal(t, apperrors.KindDeadlineExceeded, att.Kind)
}

func TestArgs(t *testing.T) {
	tmpl := protocol.DefaultConfig().Agent.RegisterArgs
	assert.Equal(t, []string{"up", "--setup-key", "k", "--management-url", "https://x"}, Args(tmpl, "k", "https://x"))
	assert.Equal(t, []string{"up", "--setup-key", "k"}, Args(tmpl, "k", ""))
}

func TestAttempt_ClassifiesBeyondMessageLimit(t *testing.T) {
	verbose := strings.Repeat("INFO client: retrying login step\n", 100) + "Error: invalid setup key"
	r := supervisortest.NewRunner().On(upLine, supervisortest.Exit(1, verbose))
	att := New(r, protocol.DefaultConfig().Agent).Attempt(context.Background(), handle, key, endpoint, 1)

	assert.Greater(t, len(verbose), maxMessageLen)
	assert.Equal(t, apperrors.KindInvalidCredential, att.Kind)
	assert.LessOrEqual(t, len(att.Message), maxMessageLen+len("..."))
	assert.NotContains(t, att.Message, "invalid setup key")
}

func TestArgs_EmptyCredentialDropsFlag(t *testing.T) {
	tmpl := protocol.DefaultConfig().Agent.RegisterArgs
	assert.Equal(t, []string{"up", "--management-url", "https://x"}, Args(tmpl, "", "https://x"))
	assert.Equal(t, []string{"up"}, Args(tmpl, "", ""))
}

func TestAttempt_WithoutCredential(t *testing.T) {
	line := "/usr/bin/netbird up --management-url " + endpoint
	r := supervisortest.NewRunner().On(line, supervisortest.OK("Connected"))
	att := New(r, protocol.DefaultConfig().Agent).Attempt(context.Background(), handle, "", endpoint, 1)
	assert.True(t, att.Success)
	assert.Equal(t, 1, r.Count(line))
}
