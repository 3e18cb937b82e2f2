package probe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/meshconverge/internal/supervisor/supervisortest"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

const connectedJSON = `{
  "peers": {"total": 3, "connected": 3},
  "cliVersion": "0.28.4",
  "daemonVersion": "0.28.4",
  "management": {"url": "https://vpn.example.com:443", "connected": true},
  "signal": {"url": "https://vpn.example.com:443", "connected": true},
  "netbirdIp": "100.92.10.4/16",
  "fqdn": "host-a.netbird.cloud"
}`

const connectedText = `OS: linux/amd64
Daemon version: 0.28.4
CLI version: 0.28.4
Management: Connected
Signal: Connected
Relays: 2/2 Available
NetBird IP: 100.92.10.4/16
Interface type: Kernel
Peers count: 3/3 Connected
`

var handle = protocol.AgentHandle{BinaryPath: "/usr/bin/netbird", ServiceName: "netbird"}

func newProber(r *supervisortest.Runner) *Prober {
	cfg := protocol.DefaultConfig()
	return New(r, cfg.Agent, cfg.Status)
}

func TestProbe_PrefersStructured(t *testing.T) {
	r := supervisortest.NewRunner().On("/usr/bin/netbird status --json", supervisortest.OK(connectedJSON))

	snap := newProber(r).Probe(context.Background(), handle)
	assert.True(t, snap.Structured)
	assert.True(t, snap.ManagementConnected)
	assert.True(t, snap.SignalConnected)
	assert.True(t, snap.DaemonVersionPresent)
	assert.Equal(t, "100.92.10.4/16", snap.AssignedAddress)
	assert.Empty(t, snap.RawIndicators)
	assert.Equal(t, 0, r.Count("/usr/bin/netbird status -d"))
}

func TestProbe_FallsBackToText(t *testing.T) {
	r := supervisortest.NewRunner().
		On("/usr/bin/netbird status --json", supervisortest.Exit(1, "unknown flag: --json")).
		On("/usr/bin/netbird status -d", supervisortest.OK(connectedText))

	snap := newProber(r).Probe(context.Background(), handle)
	assert.False(t, snap.Structured)
	assert.True(t, snap.ManagementConnected)
	assert.True(t, snap.SignalConnected)
	assert.True(t, snap.DaemonVersionPresent)
	assert.Equal(t, "100.92.10.4/16", snap.AssignedAddress)
	assert.Equal(t, 0, snap.ExitCode)
}

func TestProbe_InvalidJSONFallsBack(t *testing.T) {
	r := supervisortest.NewRunner().
		On("/usr/bin/netbird status --json", supervisortest.OK("not json {")).
		On("/usr/bin/netbird status -d", supervisortest.OK(connectedText))

	snap := newProber(r).Probe(context.Background(), handle)
	assert.False(t, snap.Structured)
	assert.True(t, snap.ManagementConnected)
}

func TestProbe_DaemonDown(t *testing.T) {
	down := supervisortest.Exit(1, "Error: status failed: failed to connect to daemon error: context deadline exceeded\nIf the daemon is not running please run: \nnetbird service install \nnetbird service start")
	r := supervisortest.NewRunner().
		On("/usr/bin/netbird status --json", down).
		On("/usr/bin/netbird status -d", down)

	snap := newProber(r).Probe(context.Background(), handle)
	assert.False(t, snap.ManagementConnected)
	assert.False(t, snap.DaemonVersionPresent)
	assert.Equal(t, 1, snap.ExitCode)
	assert.Equal(t, []string{"context deadline exceeded", "daemon is not running", "failed to connect"}, snap.RawIndicators)
}

func TestProbe_NeedsLogin(t *testing.T) {
	text := "Daemon version: 0.28.4\nDaemon status: NeedsLogin\n\nRun UP command to log in with SSO (interactive login):\n"
	r := supervisortest.NewRunner().
		On("/usr/bin/netbird status --json", supervisortest.Exit(1, "")).
		On("/usr/bin/netbird status -d", supervisortest.OK(text))

	snap := newProber(r).Probe(context.Background(), handle)
	assert.True(t, snap.DaemonVersionPresent)
	assert.False(t, snap.ManagementConnected)
	assert.True(t, snap.HasIndicator("needslogin"))
}

func TestProbe_AddressPlaceholder(t *testing.T) {
	text := "Daemon version: 0.28.4\nManagement: Disconnected\nSignal: Disconnected\nNetBird IP: N/A\n"
	r := supervisortest.NewRunner().
		On("/usr/bin/netbird status --json", supervisortest.Exit(1, "")).
		On("/usr/bin/netbird status -d", supervisortest.OK(text))

	snap := newProber(r).Probe(context.Background(), handle)
	assert.Empty(t, snap.AssignedAddress)
	assert.False(t, snap.SignalConnected)
}
