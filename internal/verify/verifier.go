// Package verify confirms that a registration actually converged.
package verify

import (
	"context"
	"time"

	"github.com/turtacn/meshconverge/internal/poll"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Indicator names reported in Result.Missing.
const (
	IndicatorManagement = "ManagementConnected"
	IndicatorSignal     = "SignalConnected"
	IndicatorAddress    = "AddressAssigned"
	IndicatorDaemon     = "DaemonResponsive"
	IndicatorNoErrors   = "NoErrorIndicators"
)

// StatusProber is satisfied by probe.Prober.
type StatusProber interface {
	Probe(ctx context.Context, h protocol.AgentHandle) protocol.StatusSnapshot
}

// Result is the outcome of a verification.
type Result struct {
	Verified bool
	Last     protocol.StatusSnapshot
	Missing  []string
	Polls    int
}

type Verifier struct {
	prober        StatusProber
	interval      time.Duration
	requireSignal bool
	log           logger.Logger
}

func New(prober StatusProber, cfg protocol.VerifyConfig) *Verifier {
	return &Verifier{
		prober:        prober,
		interval:      cfg.PollInterval.Std(),
		requireSignal: cfg.RequireSignal,
		log:           logger.Log.With("component", "verify"),
	}
}

// Verify polls until every required indicator holds in one snapshot or
// maxWait elapses.
func (v *Verifier) Verify(ctx context.Context, h protocol.AgentHandle, maxWait time.Duration) Result {
	var res Result
	ok, polls, err := poll.Until(ctx, maxWait, v.interval, func(ctx context.Context) bool {
		res.Last = v.prober.Probe(ctx, h)
		res.Missing = Missing(res.Last, v.requireSignal)
		return len(res.Missing) == 0
	})
	res.Verified = ok
	res.Polls = polls
	switch {
	case ok:
		v.log.Info("Convergence verified", "address", res.Last.AssignedAddress, "polls", polls)
	case err != nil:
		v.log.Warn("Verification interrupted", "err", err, "missing", res.Missing)
	default:
		v.log.Warn("Convergence not verified", "max_wait", maxWait, "missing", res.Missing)
	}
	return res
}

// Check probes once.
func (v *Verifier) Check(ctx context.Context, h protocol.AgentHandle) Result {
	snap := v.prober.Probe(ctx, h)
	missing := Missing(snap, v.requireSignal)
	return Result{Verified: len(missing) == 0, Last: snap, Missing: missing, Polls: 1}
}

// Missing lists the convergence indicators snap does not satisfy.
func Missing(snap protocol.StatusSnapshot, requireSignal bool) []string {
	var out []string
	if !snap.ManagementConnected {
		out = append(out, IndicatorManagement)
	}
	if requireSignal && !snap.SignalConnected {
		out = append(out, IndicatorSignal)
	}
	if snap.AssignedAddress == "" {
		out = append(out, IndicatorAddress)
	}
	if !snap.DaemonVersionPresent {
		out = append(out, IndicatorDaemon)
	}
	if len(snap.RawIndicators) > 0 {
		out = append(out, IndicatorNoErrors)
	}
	return out
}

// Personal.AI order the ending
