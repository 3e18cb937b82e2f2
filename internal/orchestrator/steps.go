package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/meshconverge/internal/prereq"
	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/pkg/consts"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/fsm"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// run is the mutable state of a single Converge call.
type run struct {
	e          *Engine
	id         string
	log        logger.Logger
	sm         *fsm.StateMachine
	h          protocol.AgentHandle
	credential string
	endpoint   string
	opts       protocol.Options
	started    time.Time

	network   *protocol.NetworkReport
	readiness *protocol.ReadinessResult
	prereq    *protocol.PrereqReport
	lastSnap  *protocol.StatusSnapshot
	final     *protocol.StatusSnapshot

	attempts    []protocol.RegistrationAttempt
	recoveries  []protocol.RecoveryRecord
	transitions []protocol.StateTransition
	// pending is the kind of the failure Recovering must handle.
	pending apperrors.ErrorKind
	kind    apperrors.ErrorKind
	reason  string
	skipped bool
}

func (r *run) stateClearPlanned() bool {
	return r.opts.FreshInstall || r.opts.ForceFullReset
}

// networkCheck gives the host two strikes separated by the configured backoff.
func (r *run) networkCheck(ctx context.Context) string {
	report := r.e.deps.Network.Check(ctx)
	if !report.CriticalPass {
		backoff := r.e.cfg.Network.RetryBackoff.Std()
		r.log.Warn("Network prerequisites failed, retrying once", "issues", report.BlockingIssues, "backoff", backoff)
		if err := r.e.Sleep(ctx, backoff); err != nil {
			r.network = &report
			return r.cancelled(err)
		}
		report = r.e.deps.Network.Check(ctx)
	}
	r.network = &report
	for _, w := range report.Warnings {
		r.log.Warn("Network advisory", "warning", w)
	}
	if !report.CriticalPass {
		return r.fail(apperrors.KindNetworkError, "network prerequisites failed: "+strings.Join(report.BlockingIssues, "; "))
	}
	return consts.EventNetworkOK
}

func (r *run) agentReadiness(ctx context.Context) string {
	svc := r.e.deps.Service
	if svc.QueryState(ctx, r.h.ServiceName) != supervisor.ServiceRunning {
		r.log.Info("Starting agent service", "service", r.h.ServiceName)
		if err := svc.Start(ctx, r.h.ServiceName); err != nil {
			r.log.Warn("Service start failed", "err", err)
		}
	}
	if !r.waitReady(ctx) {
		if err := ctx.Err(); err != nil {
			return r.cancelled(err)
		}
		r.log.Warn("Agent not ready, restarting service once", "failed", r.readiness.Checks.Failed())
		if err := supervisor.Restart(ctx, svc, r.h.ServiceName); err != nil {
			r.log.Warn("Service restart failed", "err", err)
		}
		if !r.waitReady(ctx) {
			if err := ctx.Err(); err != nil {
				return r.cancelled(err)
			}
			return r.fail(apperrors.KindDeadlineExceeded,
				fmt.Sprintf("agent not ready after %s: %s", r.opts.DaemonWait, strings.Join(r.readiness.Checks.Failed(), ", ")))
		}
	}

	if !r.opts.ForceFullReset {
		check := r.e.deps.Verifier.Check(ctx, r.h)
		r.lastSnap = &check.Last
		if check.Verified {
			r.log.Info("Agent already converged, nothing to do")
			r.final = &check.Last
			r.skipped = true
			return consts.EventAlreadyConverged
		}
	}
	return consts.EventReady
}

func (r *run) waitReady(ctx context.Context) bool {
	res := r.e.deps.Readiness.Wait(ctx, r.h, r.opts.DaemonWait, r.e.cfg.Readiness.PollInterval.Std())
	r.readiness = &res
	return res.Ready
}

func (r *run) prereqCheck(ctx context.Context) string {
	report := r.e.deps.Prereq.Validate(ctx, r.h, r.credential, r.endpoint,
		prereq.ValidateOptions{StateClearPlanned: r.stateClearPlanned()})
	r.prereq = &report
	if !report.Passed {
		return r.fail(report.Kind(), "registration prerequisites failed: "+failedPrereqs(report))
	}
	if r.stateClearPlanned() {
		return consts.EventClearState
	}
	return consts.EventPrereqOK
}

func failedPrereqs(report protocol.PrereqReport) string {
	var out []string
	for _, c := range report.Checks {
		if c.Critical && !c.Passed {
			out = append(out, c.Name+" ("+c.Detail+")")
		}
	}
	return strings.Join(out, ", ")
}

func (r *run) stateClear(ctx context.Context) string {
	r.log.Info("Clearing agent state", "dir", r.h.StateDir, "fresh_install", r.opts.FreshInstall)
	if err := r.resetState(ctx, true); err != nil {
		return r.fail(apperrors.KindUnknown, "state clear failed: "+err.Error())
	}
	if !r.waitReady(ctx) {
		if err := ctx.Err(); err != nil {
			return r.cancelled(err)
		}
		return r.fail(apperrors.KindDeadlineExceeded, "agent not ready after state clear")
	}
	return consts.EventCleared
}

// resetState stops the service, removes the session files or the whole state
// directory, and starts the service again.
func (r *run) resetState(ctx context.Context, full bool) error {
	svc := r.e.deps.Service
	if err := svc.Stop(ctx, r.h.ServiceName); err != nil {
		return err
	}
	store := r.e.deps.States(r.h)
	var err error
	if full {
		err = store.ClearAll()
	} else {
		err = store.ClearSession()
	}
	if startErr := svc.Start(ctx, r.h.ServiceName); err == nil {
		err = startErr
	}
	return err
}

func (r *run) attempting(ctx context.Context) string {
	index := len(r.attempts) + 1
	if !r.waitReady(ctx) {
		if err := ctx.Err(); err != nil {
			return r.cancelled(err)
		}
		return r.fail(apperrors.KindDeadlineExceeded,
			fmt.Sprintf("agent not ready before attempt %d: %s", index, strings.Join(r.readiness.Checks.Failed(), ", ")))
	}

	att := r.e.deps.Executor.Attempt(ctx, r.h, r.credential, r.endpoint, index)
	r.attempts = append(r.attempts, att)
	r.e.deps.Metrics.ObserveAttempt(att)
	if att.Success {
		return consts.EventAttemptSucceeded
	}
	r.pending = att.Kind
	r.log.Warn("Registration attempt failed", "attempt", index, "kind", att.Kind)
	return consts.EventAttemptFailed
}

func (r *run) verifying(ctx context.Context) string {
	res := r.e.deps.Verifier.Verify(ctx, r.h, r.opts.VerifyWait)
	r.lastSnap = &res.Last
	if res.Verified {
		r.final = &res.Last
		return consts.EventVerified
	}
	if err := ctx.Err(); err != nil {
		return r.cancelled(err)
	}
	r.pending = apperrors.KindVerificationFailed
	r.log.Warn("Registration reported success but convergence was not verified", "missing", res.Missing)
	return consts.EventVerifyFailed
}

func (r *run) recovering(ctx context.Context) string {
	attempt := len(r.attempts)
	if attempt >= r.opts.MaxAttempts {
		return r.fail(r.pending, fmt.Sprintf("retry budget of %d attempts exhausted", r.opts.MaxAttempts))
	}
	d := r.e.deps.Policy.Decide(r.pending, attempt)
	if d.Action == protocol.ActionNone {
		return r.fail(r.pending, fmt.Sprintf("%s cannot be fixed by retrying", r.pending))
	}

	r.log.Info("Recovery action", "action", d.Action, "kind", r.pending, "after_attempt", attempt, "wait", d.Wait)
	rec := protocol.RecoveryRecord{AfterAttempt: attempt, Kind: r.pending, Action: d.Action, Wait: d.Wait}
	ev, err := r.perform(ctx, d.Action)
	if err != nil {
		rec.Error = err.Error()
		r.log.Warn("Recovery action failed", "action", d.Action, "err", err)
	}
	r.recoveries = append(r.recoveries, rec)
	r.e.deps.Metrics.ObserveRecovery(d.Action)
	if ev != "" {
		return ev
	}

	if err := r.e.Sleep(ctx, d.Wait); err != nil {
		return r.cancelled(err)
	}
	return consts.EventRetry
}

// perform executes action. A non-empty event ends recovery early.
func (r *run) perform(ctx context.Context, action protocol.RecoveryAction) (string, error) {
	svc := r.e.deps.Service
	switch action {
	case protocol.ActionWaitLonger:
		return "", nil
	case protocol.ActionRestartAgent:
		err := supervisor.Restart(ctx, svc, r.h.ServiceName)
		r.waitReady(ctx)
		return "", err
	case protocol.ActionPartialStateReset, protocol.ActionFullStateReset:
		err := r.resetState(ctx, action == protocol.ActionFullStateReset)
		r.waitReady(ctx)
		return "", err
	case protocol.ActionRetestPrerequisites:
		report := r.e.deps.Network.Check(ctx)
		r.network = &report
		if !report.CriticalPass {
			return r.fail(apperrors.KindNetworkError, "network prerequisites failed on retest: "+strings.Join(report.BlockingIssues, "; ")), nil
		}
		pre := r.e.deps.Prereq.Validate(ctx, r.h, r.credential, r.endpoint,
			prereq.ValidateOptions{StateClearPlanned: r.stateClearPlanned()})
		r.prereq = &pre
		if !pre.Passed {
			return r.fail(pre.Kind(), "registration prerequisites failed on retest: "+failedPrereqs(pre)), nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("unsupported recovery action %q", action)
	}
}

// Personal.AI order the ending
