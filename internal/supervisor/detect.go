package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Detect resolves the agent binary and builds the handle used for the rest of
// the run.
func Detect(cfg protocol.AgentConfig) (protocol.AgentHandle, error) {
	h := protocol.AgentHandle{
		ServiceName: cfg.ServiceName,
		StateDir:    cfg.StateDir,
	}

	candidates := make([]string, 0, len(cfg.SearchPaths)+1)
	if filepath.IsAbs(cfg.Binary) {
		candidates = append(candidates, cfg.Binary)
	} else if p, err := exec.LookPath(cfg.Binary); err == nil {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, cfg.SearchPaths...)

	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			h.BinaryPath = c
			return h, nil
		}
	}
	return h, apperrors.New(apperrors.ErrCodeAgentNotFound, "Detect",
		fmt.Sprintf("agent binary %q not found on PATH or in %s", cfg.Binary, strings.Join(cfg.SearchPaths, ", ")), nil)
}

// Installer puts the agent on the host. Install must be safe to call when the
// agent is already installed.
type Installer interface {
	Install(ctx context.Context) (protocol.AgentHandle, error)
}

// HookInstaller runs the configured install command, then detects the agent.
// With no command configured it only detects.
type HookInstaller struct {
	runner Runner
	agent  protocol.AgentConfig
	hook   protocol.InstallConfig
	log    logger.Logger
}

func NewHookInstaller(r Runner, agent protocol.AgentConfig, hook protocol.InstallConfig) *HookInstaller {
	return &HookInstaller{
		runner: r,
		agent:  agent,
		hook:   hook,
		log:    logger.Log.With("component", "installer"),
	}
}

func (i *HookInstaller) Install(ctx context.Context) (protocol.AgentHandle, error) {
	if len(i.hook.Command) > 0 {
		if i.hook.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, i.hook.Timeout.Std())
			defer cancel()
		}
		i.log.Info("Running install hook", "cmd", i.hook.Command[0])
		res := i.runner.Run(ctx, i.hook.Command[0], i.hook.Command[1:]...)
		if res.ExitCode != 0 {
			return protocol.AgentHandle{}, apperrors.New(apperrors.ErrCodeInstallFailed, "Install",
				fmt.Sprintf("install hook exited %d: %s", res.ExitCode, res.Output()), res.Err)
		}
	}
	return Detect(i.agent)
}

// Personal.AI order the ending
