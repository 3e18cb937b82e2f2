package cli

import (
	"context"

	"github.com/turtacn/meshconverge/internal/agentstate"
	"github.com/turtacn/meshconverge/internal/diagnostics"
	"github.com/turtacn/meshconverge/internal/monitor"
	"github.com/turtacn/meshconverge/internal/netgate"
	"github.com/turtacn/meshconverge/internal/orchestrator"
	"github.com/turtacn/meshconverge/internal/prereq"
	"github.com/turtacn/meshconverge/internal/probe"
	"github.com/turtacn/meshconverge/internal/reach"
	"github.com/turtacn/meshconverge/internal/readiness"
	"github.com/turtacn/meshconverge/internal/recovery"
	"github.com/turtacn/meshconverge/internal/register"
	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/internal/verify"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// stack is every production component built from one config.
type stack struct {
	cfg       *protocol.Config
	runner    *supervisor.ProcessManager
	service   supervisor.ServiceManager
	prober    *probe.Prober
	network   *netgate.Gate
	readiness *readiness.Gate
	validator *prereq.Validator
	verifier  *verify.Verifier
	metrics   *monitor.Metrics
}

// newStack wires the components. secrets are redacted from command logs.
func newStack(cfg *protocol.Config, endpoint string, secrets ...string) *stack {
	runner := supervisor.New()
	runner.Redact = secrets
	service := supervisor.NewServiceManager(runner)
	prober := probe.New(runner, cfg.Agent, cfg.Status)
	reacher := reach.New(cfg.Network.CheckTimeout.Std(), cfg.Registration.ProbeRetries)

	return &stack{
		cfg:       cfg,
		runner:    runner,
		service:   service,
		prober:    prober,
		network:   netgate.New(cfg.Network, endpoint, reacher),
		readiness: readiness.New(service, prober, cfg.Agent),
		validator: prereq.New(cfg.Registration, cfg.Agent, runner, reacher.Reachable),
		verifier:  verify.New(prober, cfg.Verify),
		metrics:   monitor.New(),
	}
}

// detect finds the agent, running the install hook first when install is set
// and the agent is missing. installed reports whether the hook ran.
func (s *stack) detect(ctx context.Context, install bool) (h protocol.AgentHandle, installed bool, err error) {
	h, err = supervisor.Detect(s.cfg.Agent)
	if err == nil || !install {
		return h, false, err
	}
	code, _ := apperrors.CodeOf(err)
	if code != apperrors.ErrCodeAgentNotFound {
		return h, false, err
	}
	logger.Log.Info("Agent not found, installing")
	h, err = supervisor.NewHookInstaller(s.runner, s.cfg.Agent, s.cfg.Install).Install(ctx)
	return h, err == nil, err
}

func (s *stack) engine() (*orchestrator.Engine, error) {
	policy, err := recovery.FromConfig(s.cfg.Recovery)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "Engine", "recovery", err)
	}
	agent := s.cfg.Agent
	return orchestrator.NewEngine(s.cfg, orchestrator.Deps{
		Network:   s.network,
		Readiness: s.readiness,
		Prereq:    s.validator,
		Executor:  register.New(s.runner, agent),
		Verifier:  s.verifier,
		Policy:    policy,
		Service:   s.service,
		States: func(h protocol.AgentHandle) orchestrator.StateStore {
			return agentstate.New(h, agent)
		},
		Exporter: diagnostics.New(s.cfg.Diagnostics.Path),
		Metrics:  s.metrics,
	}), nil
}

// Personal.AI order the ending
