package readiness

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

type fakeService struct {
	mu     sync.Mutex
	states []supervisor.ServiceState
	calls  int
}

func (f *fakeService) Start(context.Context, string) error { return nil }
func (f *fakeService) Stop(context.Context, string) error  { return nil }
func (f *fakeService) QueryState(context.Context, string) supervisor.ServiceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.states) == 0 {
		return supervisor.ServiceUnknown
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return s
}

type fakeProber struct {
	snap   protocol.StatusSnapshot
	probes int
}

func (f *fakeProber) Probe(context.Context, protocol.AgentHandle) protocol.StatusSnapshot {
	f.probes++
	return f.snap
}

func readyGate(t *testing.T, svc *fakeService, prober *fakeProber) (*Gate, protocol.AgentHandle) {
	t.Helper()
	agent := protocol.DefaultConfig().Agent
	agent.ControlAddress = "unix:///var/run/netbird.sock"
	g := New(svc, prober, agent)
	g.Dial = func(context.Context, string, string) (net.Conn, error) {
		c1, c2 := net.Pipe()
		_ = c2.Close()
		return c1, nil
	}
	g.Commandlines = func(context.Context) ([][]string, error) {
		return [][]string{{"/usr/bin/netbird", "service", "run"}, {"sshd"}}, nil
	}
	h := protocol.AgentHandle{BinaryPath: "/usr/bin/netbird", ServiceName: "netbird", StateDir: t.TempDir()}
	return g, h
}

var healthySnap = protocol.StatusSnapshot{DaemonVersionPresent: true, Structured: true}

func TestEvaluate_AllPass(t *testing.T) {
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceRunning}}, &fakeProber{snap: healthySnap})
	set := g.Evaluate(context.Background(), h)
	require.Len(t, set, 5)
	assert.True(t, set.AllPassed(), "%+v", set)
	names := make([]string, 0, len(set))
	for _, c := range set {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		protocol.CheckServiceRunning, protocol.CheckDaemonResponding, protocol.CheckControlChannelOpen,
		protocol.CheckNoActiveSession, protocol.CheckStateStoreWritable,
	}, names)
}

func TestEvaluate_ServiceDownSkipsExpensiveChecks(t *testing.T) {
	prober := &fakeProber{snap: healthySnap}
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceStopped}}, prober)
	set := g.Evaluate(context.Background(), h)
	assert.False(t, set.AllPassed())
	assert.Len(t, set, 5)
	assert.Equal(t, 0, prober.probes)
	assert.Equal(t, "skipped", set[1].Detail)
}

func TestEvaluate_DaemonDown(t *testing.T) {
	prober := &fakeProber{snap: protocol.StatusSnapshot{RawIndicators: []string{"daemon is not running"}, ExitCode: 1}}
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceRunning}}, prober)
	set := g.Evaluate(context.Background(), h)
	assert.Equal(t, []string{protocol.CheckDaemonResponding}, set.Failed())
}

func TestEvaluate_ControlChannelClosed(t *testing.T) {
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceRunning}}, &fakeProber{snap: healthySnap})
	g.Dial = func(context.Context, string, string) (net.Conn, error) { return nil, errors.New("no such file") }
	assert.Equal(t, []string{protocol.CheckControlChannelOpen}, g.Evaluate(context.Background(), h).Failed())
}

func TestEvaluate_ConcurrentRegistration(t *testing.T) {
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceRunning}}, &fakeProber{snap: healthySnap})
	g.Commandlines = func(context.Context) ([][]string, error) {
		return [][]string{{"/usr/bin/netbird", "up", "--setup-key", "x"}}, nil
	}
	assert.Equal(t, []string{protocol.CheckNoActiveSession}, g.Evaluate(context.Background(), h).Failed())
}

func TestEvaluate_ProcessListFailureIsTolerated(t *testing.T) {
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceRunning}}, &fakeProber{snap: healthySnap})
	g.Commandlines = func(context.Context) ([][]string, error) { return nil, errors.New("permission denied") }
	set := g.Evaluate(context.Background(), h)
	assert.True(t, set.AllPassed())
	assert.Contains(t, set[3].Detail, "unknown")
}

func TestStateStoreWritable_MissingDirUsesParent(t *testing.T) {
	c := stateStoreWritable(filepath.Join(t.TempDir(), "netbird"))
	assert.True(t, c.Passed, c.Detail)
}

func TestWait_BecomesReady(t *testing.T) {
	svc := &fakeService{states: []supervisor.ServiceState{supervisor.ServiceStopped, supervisor.ServiceStopped, supervisor.ServiceRunning}}
	g, h := readyGate(t, svc, &fakeProber{snap: healthySnap})
	res := g.Wait(context.Background(), h, time.Second, time.Millisecond)
	assert.True(t, res.Ready)
	assert.Equal(t, 3, res.Polls)
	assert.True(t, res.Checks.AllPassed())
}

func TestWait_TimeoutReturnsLastSet(t *testing.T) {
	g, h := readyGate(t, &fakeService{states: []supervisor.ServiceState{supervisor.ServiceStopped}}, &fakeProber{snap: healthySnap})
	res := g.Wait(context.Background(), h, 20*time.Millisecond, 5*time.Millisecond)
	assert.False(t, res.Ready)
	assert.GreaterOrEqual(t, res.Polls, 2)
	assert.Equal(t, protocol.CheckServiceRunning, res.Checks[0].Name)
	assert.False(t, res.Checks[0].Passed)
}

func TestParseControlAddr(t *testing.T) {
	n, a, err := parseControlAddr("unix:///var/run/netbird.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix", n)
	assert.Equal(t, "/var/run/netbird.sock", a)

	n, a, err = parseControlAddr("tcp://127.0.0.1:41731")
	require.NoError(t, err)
	assert.Equal(t, "tcp", n)
	assert.Equal(t, "127.0.0.1:41731", a)

	_, _, err = parseControlAddr("pipe://x")
	assert.Error(t, err)
}
