package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/meshconverge/internal/diagnostics"
	"github.com/turtacn/meshconverge/internal/poll"
	"github.com/turtacn/meshconverge/internal/prereq"
	"github.com/turtacn/meshconverge/internal/recovery"
	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/internal/verify"
	"github.com/turtacn/meshconverge/pkg/consts"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/fsm"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

type NetworkGate interface {
	Check(ctx context.Context) protocol.NetworkReport
}

type ReadinessGate interface {
	Wait(ctx context.Context, h protocol.AgentHandle, maxWait, interval time.Duration) protocol.ReadinessResult
}

type Validator interface {
	Validate(ctx context.Context, h protocol.AgentHandle, credential, endpoint string, opts prereq.ValidateOptions) protocol.PrereqReport
}

type Executor interface {
	Attempt(ctx context.Context, h protocol.AgentHandle, credential, endpoint string, index int) protocol.RegistrationAttempt
}

type Verifier interface {
	Verify(ctx context.Context, h protocol.AgentHandle, maxWait time.Duration) verify.Result
	Check(ctx context.Context, h protocol.AgentHandle) verify.Result
}

type Policy interface {
	Decide(kind apperrors.ErrorKind, attempt int) recovery.Decision
}

// StateStore clears the agent state directory. Implemented by agentstate.Store.
type StateStore interface {
	ClearSession() error
	ClearAll() error
}

type Exporter interface {
	Export(r diagnostics.Report) (string, error)
}

// Recorder receives run metrics. Implemented by monitor.Metrics.
type Recorder interface {
	ObserveAttempt(a protocol.RegistrationAttempt)
	ObserveRecovery(action protocol.RecoveryAction)
	ObserveTransition(from, to string)
	ObserveResult(r protocol.ConvergenceResult)
}

// Deps are the collaborators of one Engine.
type Deps struct {
	Network   NetworkGate
	Readiness ReadinessGate
	Prereq    Validator
	Executor  Executor
	Verifier  Verifier
	Policy    Policy
	Service   supervisor.ServiceManager
	States    func(h protocol.AgentHandle) StateStore
	Exporter  Exporter
	Metrics   Recorder
}

type Engine struct {
	cfg  *protocol.Config
	deps Deps
	log  logger.Logger

	// Sleep pauses between network strikes and after recovery actions.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func NewEngine(cfg *protocol.Config, deps Deps) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		log:   logger.Log.With("component", "orchestrator"),
		Sleep: poll.Sleep,
		Now:   time.Now,
	}
}

func (e *Engine) setupFSM(sm *fsm.StateMachine, onTransition fsm.Handler) {
	add := func(from, to consts.ConvergeState, event string) {
		sm.AddTransition(fsm.State(from), fsm.State(to), fsm.Event(event), onTransition)
	}

	add(consts.StateIdle, consts.StateNetworkCheck, consts.EventStart)
	add(consts.StateNetworkCheck, consts.StateAgentReadiness, consts.EventNetworkOK)

	// Readiness established: either already converged or on to prerequisites
	add(consts.StateAgentReadiness, consts.StatePrereqCheck, consts.EventReady)
	add(consts.StateAgentReadiness, consts.StateConverged, consts.EventAlreadyConverged)

	add(consts.StatePrereqCheck, consts.StateAttempting, consts.EventPrereqOK)
	add(consts.StatePrereqCheck, consts.StateStateClear, consts.EventClearState)
	add(consts.StateStateClear, consts.StateAttempting, consts.EventCleared)

	// Attempt, verify, recover loop
	add(consts.StateAttempting, consts.StateVerifying, consts.EventAttemptSucceeded)
	add(consts.StateAttempting, consts.StateRecovering, consts.EventAttemptFailed)
	add(consts.StateVerifying, consts.StateConverged, consts.EventVerified)
	add(consts.StateVerifying, consts.StateRecovering, consts.EventVerifyFailed)
	add(consts.StateRecovering, consts.StateAttempting, consts.EventRetry)

	for _, s := range []consts.ConvergeState{
		consts.StateIdle, consts.StateNetworkCheck, consts.StateAgentReadiness, consts.StatePrereqCheck,
		consts.StateStateClear, consts.StateAttempting, consts.StateVerifying, consts.StateRecovering,
	} {
		add(s, consts.StateFailed, consts.EventFail)
	}
}

// Converge drives the agent identified by h into a verified connected state.
// It never returns an error: every outcome, including cancellation of ctx, is
// a ConvergenceResult.
func (e *Engine) Converge(ctx context.Context, h protocol.AgentHandle, credential, endpoint string, opts protocol.Options) protocol.ConvergenceResult {
	if endpoint == "" {
		endpoint = e.cfg.Agent.ManagementURL
	}
	r := &run{
		e:          e,
		id:         uuid.NewString(),
		h:          h,
		credential: credential,
		endpoint:   endpoint,
		opts:       e.resolve(opts),
		started:    e.Now(),
	}
	r.log = e.log.With("run_id", r.id)
	r.sm = fsm.New(fsm.State(consts.StateIdle))
	e.setupFSM(r.sm, r.onTransition)

	r.log.Info("Convergence started", "agent", h.BinaryPath, "endpoint", endpoint,
		"max_attempts", r.opts.MaxAttempts, "force_full_reset", r.opts.ForceFullReset, "fresh_install", r.opts.FreshInstall)
	r.fire(ctx, consts.EventStart)

	for {
		state := consts.ConvergeState(r.sm.Current())
		if state.Terminal() {
			break
		}
		if err := ctx.Err(); err != nil {
			r.fire(ctx, r.cancelled(err))
			continue
		}
		var ev string
		switch state {
		case consts.StateNetworkCheck:
			ev = r.networkCheck(ctx)
		case consts.StateAgentReadiness:
			ev = r.agentReadiness(ctx)
		case consts.StatePrereqCheck:
			ev = r.prereqCheck(ctx)
		case consts.StateStateClear:
			ev = r.stateClear(ctx)
		case consts.StateAttempting:
			ev = r.attempting(ctx)
		case consts.StateVerifying:
			ev = r.verifying(ctx)
		case consts.StateRecovering:
			ev = r.recovering(ctx)
		default:
			ev = r.fail(apperrors.KindUnknown, "unexpected state "+string(state))
		}
		if !r.fire(ctx, ev) {
			break
		}
	}
	return r.finish(ctx)
}

func (e *Engine) resolve(o protocol.Options) protocol.Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = e.cfg.Recovery.MaxAttempts
	}
	if o.DaemonWait <= 0 {
		o.DaemonWait = e.cfg.Readiness.MaxWait.Std()
	}
	if o.VerifyWait <= 0 {
		o.VerifyWait = e.cfg.Verify.MaxWait.Std()
	}
	return o
}

// fire applies event. A rejected transition is a bug in the step logic; the
// run is failed rather than left in limbo. It reports whether the machine
// is still consistent.
func (r *run) fire(ctx context.Context, event string) bool {
	err := r.sm.Fire(fsm.Event(event))
	if err == nil {
		return true
	}
	r.log.Error("Illegal transition", "err", err)
	if r.kind == apperrors.KindNone {
		r.kind, r.reason = apperrors.KindUnknown, err.Error()
	}
	return event != consts.EventFail && r.sm.Fire(fsm.Event(consts.EventFail)) == nil
}

func (r *run) onTransition(from, to fsm.State, event fsm.Event) error {
	r.transitions = append(r.transitions, protocol.StateTransition{
		From: string(from), To: string(to), Event: string(event), At: r.e.Now(),
	})
	r.e.deps.Metrics.ObserveTransition(string(from), string(to))
	r.log.Debug("State transition", "from", from, "to", to, "event", event)
	return nil
}

func (r *run) cancelled(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return r.fail(apperrors.KindDeadlineExceeded, "run deadline exceeded")
	}
	return r.fail(apperrors.KindUnknown, "run cancelled: "+err.Error())
}

// fail records the terminal failure and returns the fail event.
func (r *run) fail(kind apperrors.ErrorKind, reason string) string {
	r.kind = kind
	r.reason = reason
	return consts.EventFail
}

func (r *run) finish(ctx context.Context) protocol.ConvergenceResult {
	res := protocol.ConvergenceResult{
		Success:     consts.ConvergeState(r.sm.Current()) == consts.StateConverged,
		Skipped:     r.skipped,
		Attempts:    r.attempts,
		Recoveries:  r.recoveries,
		Final:       r.final,
		Transitions: r.transitions,
		Duration:    r.e.Now().Sub(r.started),
	}
	if res.Success {
		r.log.Info("Convergence succeeded", "skipped", res.Skipped, "attempts", len(res.Attempts),
			"address", res.Final.AssignedAddress, "management", res.Final.ManagementConnected,
			"signal", res.Final.SignalConnected, "duration", res.Duration)
	} else {
		res.LastErrorKind = r.kind
		if res.LastErrorKind == apperrors.KindNone {
			res.LastErrorKind = apperrors.KindUnknown
		}
		res.Reason = r.reason
		res.DiagnosticsPath = r.exportDiagnostics(ctx, res)
		r.log.Error("Convergence failed", "kind", res.LastErrorKind, "reason", res.Reason,
			"attempts", len(res.Attempts), "diagnostics", res.DiagnosticsPath)
	}
	r.e.deps.Metrics.ObserveResult(res)
	return res
}

func (r *run) exportDiagnostics(ctx context.Context, res protocol.ConvergenceResult) string {
	if r.e.deps.Exporter == nil {
		return ""
	}
	// The run context may be the reason we failed.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), consts.DefaultCheckTimeout)
	defer cancel()

	report := diagnostics.Report{
		RunID:         r.id,
		GeneratedAt:   r.e.Now().UTC(),
		Handle:        r.h,
		Endpoint:      r.endpoint,
		Reason:        res.Reason,
		LastErrorKind: res.LastErrorKind,
		LastStatus:    r.lastSnap,
		Readiness:     r.readiness,
		Network:       r.network,
		Prereq:        r.prereq,
		Attempts:      res.Attempts,
		Recoveries:    res.Recoveries,
		Transitions:   res.Transitions,
	}
	if r.e.deps.Service != nil {
		report.ServiceState = string(r.e.deps.Service.QueryState(dctx, r.h.ServiceName))
	}
	if report.LastStatus == nil && r.e.deps.Verifier != nil {
		snap := r.e.deps.Verifier.Check(dctx, r.h).Last
		report.LastStatus = &snap
	}
	path, err := r.e.deps.Exporter.Export(report)
	if err != nil {
		r.log.Error("Failed to write diagnostics", "err", err)
		return ""
	}
	return path
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(protocol.RegistrationAttempt) {}
func (nopRecorder) ObserveRecovery(protocol.RecoveryAction)     {}
func (nopRecorder) ObserveTransition(string, string)            {}
func (nopRecorder) ObserveResult(protocol.ConvergenceResult)    {}

// Personal.AI order the ending
