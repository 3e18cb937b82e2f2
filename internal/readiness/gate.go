// Package readiness decides whether the local agent is actually responsive,
// as opposed to merely started.
package readiness

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/turtacn/meshconverge/internal/poll"
	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Status indicators meaning the daemon side of the control channel is absent.
var daemonDownIndicators = []string{"daemon is not running", "connection refused"}

// StatusProber is satisfied by probe.Prober.
type StatusProber interface {
	Probe(ctx context.Context, h protocol.AgentHandle) protocol.StatusSnapshot
}

// Gate evaluates the readiness check set.
type Gate struct {
	svc          supervisor.ServiceManager
	prober       StatusProber
	controlAddr  string
	registerVerb string
	log          logger.Logger

	// Dial opens the control channel; the connection is closed immediately.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
	// Commandlines lists the argv of every running process.
	Commandlines func(ctx context.Context) ([][]string, error)
}

func New(svc supervisor.ServiceManager, prober StatusProber, agent protocol.AgentConfig) *Gate {
	verb := ""
	if len(agent.RegisterArgs) > 0 {
		verb = agent.RegisterArgs[0]
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return &Gate{
		svc:          svc,
		prober:       prober,
		controlAddr:  agent.ControlAddress,
		registerVerb: verb,
		log:          logger.Log.With("component", "readiness"),
		Dial:         d.DialContext,
		Commandlines: processCommandlines,
	}
}

// Wait polls Evaluate until every check passes or maxWait elapses.
func (g *Gate) Wait(ctx context.Context, h protocol.AgentHandle, maxWait, interval time.Duration) protocol.ReadinessResult {
	var last protocol.ReadinessCheckSet
	ok, polls, err := poll.Until(ctx, maxWait, interval, func(ctx context.Context) bool {
		last = g.Evaluate(ctx, h)
		if !last.AllPassed() {
			g.log.Debug("Agent not ready yet", "failed", last.Failed())
		}
		return last.AllPassed()
	})
	if err != nil {
		g.log.Warn("Readiness wait interrupted", "err", err)
	}
	if ok {
		g.log.Info("Agent ready", "polls", polls)
	} else {
		g.log.Warn("Agent not ready within budget", "max_wait", maxWait, "failed", last.Failed())
	}
	return protocol.ReadinessResult{Ready: ok, Checks: last, Polls: polls}
}

// Evaluate computes the check set once. ServiceRunning gates the rest.
func (g *Gate) Evaluate(ctx context.Context, h protocol.AgentHandle) protocol.ReadinessCheckSet {
	set := make(protocol.ReadinessCheckSet, 0, 5)

	state := g.svc.QueryState(ctx, h.ServiceName)
	running := state == supervisor.ServiceRunning
	set = append(set, protocol.CheckResult{Name: protocol.CheckServiceRunning, Passed: running, Detail: string(state)})
	if !running {
		for _, name := range []string{protocol.CheckDaemonResponding, protocol.CheckControlChannelOpen,
			protocol.CheckNoActiveSession, protocol.CheckStateStoreWritable} {
			set = append(set, protocol.CheckResult{Name: name, Detail: "skipped"})
		}
		return set
	}

	snap := g.prober.Probe(ctx, h)
	set = append(set,
		daemonResponding(snap),
		g.controlChannel(ctx, snap),
		g.noActiveSession(ctx, h),
		stateStoreWritable(h.StateDir),
	)
	return set
}

func daemonResponding(snap protocol.StatusSnapshot) protocol.CheckResult {
	c := protocol.CheckResult{Name: protocol.CheckDaemonResponding}
	for _, ind := range daemonDownIndicators {
		if snap.HasIndicator(ind) {
			c.Detail = ind
			return c
		}
	}
	if !snap.DaemonVersionPresent {
		c.Detail = fmt.Sprintf("no daemon version in status (exit %d)", snap.ExitCode)
		return c
	}
	c.Passed = true
	return c
}

func (g *Gate) controlChannel(ctx context.Context, snap protocol.StatusSnapshot) protocol.CheckResult {
	c := protocol.CheckResult{Name: protocol.CheckControlChannelOpen}
	if g.controlAddr == "" {
		c.Passed = snap.Structured
		c.Detail = "inferred from structured status"
		return c
	}
	network, addr, err := parseControlAddr(g.controlAddr)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	conn, err := g.Dial(ctx, network, addr)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	_ = conn.Close()
	c.Passed = true
	c.Detail = g.controlAddr
	return c
}

func parseControlAddr(raw string) (network, addr string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported control address %q", raw)
	}
}

func (g *Gate) noActiveSession(ctx context.Context, h protocol.AgentHandle) protocol.CheckResult {
	c := protocol.CheckResult{Name: protocol.CheckNoActiveSession, Passed: true}
	if g.registerVerb == "" {
		return c
	}
	cmdlines, err := g.Commandlines(ctx)
	if err != nil {
		c.Detail = "unknown: " + err.Error()
		return c
	}
	bin := strings.ToLower(filepath.Base(h.BinaryPath))
	for _, argv := range cmdlines {
		if len(argv) < 2 || strings.ToLower(filepath.Base(argv[0])) != bin {
			continue
		}
		for _, a := range argv[1:] {
			if a == g.registerVerb {
				c.Passed = false
				c.Detail = "registration already in progress: " + strings.Join(argv[:2], " ")
				return c
			}
		}
	}
	return c
}

func processCommandlines(ctx context.Context) ([][]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	out := make([][]string, 0, len(procs))
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		argv, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(argv) == 0 {
			continue
		}
		out = append(out, argv)
	}
	return out, nil
}

func stateStoreWritable(dir string) protocol.CheckResult {
	c := protocol.CheckResult{Name: protocol.CheckStateStoreWritable}
	if dir == "" {
		c.Detail = "no state directory"
		return c
	}
	target := dir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		target = filepath.Dir(dir)
	}
	f, err := os.CreateTemp(target, ".meshconverge-probe-*")
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Passed = true
	c.Detail = target
	return c
}

// Personal.AI order the ending
