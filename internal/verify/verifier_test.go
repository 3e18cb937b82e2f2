package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/meshconverge/pkg/protocol"
)

var converged = protocol.StatusSnapshot{
	ManagementConnected:  true,
	SignalConnected:      true,
	AssignedAddress:      "100.92.14.7/16",
	DaemonVersionPresent: true,
}

type scriptedProber struct {
	snaps []protocol.StatusSnapshot
	calls int
}

func (s *scriptedProber) Probe(context.Context, protocol.AgentHandle) protocol.StatusSnapshot {
	s.calls++
	snap := s.snaps[0]
	if len(s.snaps) > 1 {
		s.snaps = s.snaps[1:]
	}
	return snap
}

func cfg() protocol.VerifyConfig {
	return protocol.VerifyConfig{PollInterval: protocol.Duration(time.Millisecond), RequireSignal: true}
}

func TestMissing(t *testing.T) {
	assert.Empty(t, Missing(converged, true))

	noSignal := converged
	noSignal.SignalConnected = false
	assert.Equal(t, []string{IndicatorSignal}, Missing(noSignal, true))
	assert.Empty(t, Missing(noSignal, false))

	broken := converged
	broken.AssignedAddress = ""
	broken.RawIndicators = []string{"needslogin"}
	assert.Equal(t, []string{IndicatorAddress, IndicatorNoErrors}, Missing(broken, true))

	assert.Len(t, Missing(protocol.StatusSnapshot{}, true), 4)
}

func TestVerify_EventuallyConverges(t *testing.T) {
	p := &scriptedProber{snaps: []protocol.StatusSnapshot{{DaemonVersionPresent: true}, {DaemonVersionPresent: true, ManagementConnected: true}, converged}}
	res := New(p, cfg()).Verify(context.Background(), protocol.AgentHandle{}, time.Second)
	assert.True(t, res.Verified)
	assert.Equal(t, 3, res.Polls)
	assert.Empty(t, res.Missing)
	assert.Equal(t, "100.92.14.7/16", res.Last.AssignedAddress)
}

func TestVerify_Timeout(t *testing.T) {
	p := &scriptedProber{snaps: []protocol.StatusSnapshot{{DaemonVersionPresent: true, ManagementConnected: true}}}
	res := New(p, cfg()).Verify(context.Background(), protocol.AgentHandle{}, 10*time.Millisecond)
	assert.False(t, res.Verified)
	assert.Contains(t, res.Missing, IndicatorSignal)
	assert.GreaterOrEqual(t, res.Polls, 1)
}

func TestVerify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &scriptedProber{snaps: []protocol.StatusSnapshot{converged}}
	res := New(p, cfg()).Verify(ctx, protocol.AgentHandle{}, time.Second)
	assert.False(t, res.Verified)
	assert.Equal(t, 0, p.calls)
}

func TestCheck_SingleProbe(t *testing.T) {
	p := &scriptedProber{snaps: []protocol.StatusSnapshot{converged}}
	res := New(p, cfg()).Check(context.Background(), protocol.AgentHandle{})
	assert.True(t, res.Verified)
	assert.Equal(t, 1, p.calls)
}

// alternatingProber cycles through snaps forever.
type alternatingProber struct {
	snaps []protocol.StatusSnapshot
	calls int
}

func (a *alternatingProber) Probe(context.Context, protocol.AgentHandle) protocol.StatusSnapshot {
	snap := a.snaps[a.calls%len(a.snaps)]
	a.calls++
	return snap
}

func TestVerify_IndicatorsMustHoldInOneSnapshot(t *testing.T) {
	managementOnly := converged
	managementOnly.SignalConnected = false
	signalOnly := converged
	signalOnly.ManagementConnected = false

	p := &alternatingProber{snaps: []protocol.StatusSnapshot{managementOnly, signalOnly}}
	res := New(p, cfg()).Verify(context.Background(), protocol.AgentHandle{}, 20*time.Millisecond)
	assert.False(t, res.Verified)
	assert.GreaterOrEqual(t, p.calls, 2, "both halves were observed")
	assert.Len(t, res.Missing, 1)
}
