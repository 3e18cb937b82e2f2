package supervisor

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
)

// ServiceState is the coarse state reported by the host service manager.
type ServiceState string

const (
	ServiceRunning ServiceState = "Running"
	ServiceStopped ServiceState = "Stopped"
	ServiceUnknown ServiceState = "Unknown"
)

// ServiceManager controls the OS service wrapping the agent daemon.
type ServiceManager interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	QueryState(ctx context.Context, name string) ServiceState
}

// NewServiceManager picks the service manager for the running OS.
func NewServiceManager(r Runner) ServiceManager {
	switch runtime.GOOS {
	case "windows":
		return &WindowsSCM{runner: r}
	case "darwin":
		return &Launchd{runner: r}
	default:
		return &Systemd{runner: r}
	}
}

// Restart stops then starts the named service.
func Restart(ctx context.Context, sm ServiceManager, name string) error {
	if err := sm.Stop(ctx, name); err != nil {
		return err
	}
	return sm.Start(ctx, name)
}

func serviceErr(op, name string, res Result) error {
	return apperrors.New(apperrors.ErrCodeServiceControl, op,
		fmt.Sprintf("service %s: exit %d: %s", name, res.ExitCode, res.Output()), res.Err)
}

// Systemd drives units through systemctl.
type Systemd struct {
	runner Runner
}

func NewSystemd(r Runner) *Systemd { return &Systemd{runner: r} }

func (s *Systemd) Start(ctx context.Context, name string) error {
	if res := s.runner.Run(ctx, "systemctl", "start", name); res.ExitCode != 0 {
		return serviceErr("ServiceStart", name, res)
	}
	return nil
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	if res := s.runner.Run(ctx, "systemctl", "stop", name); res.ExitCode != 0 {
		return serviceErr("ServiceStop", name, res)
	}
	return nil
}

func (s *Systemd) QueryState(ctx context.Context, name string) ServiceState {
	res := s.runner.Run(ctx, "systemctl", "is-active", name)
	if res.Err != nil {
		return ServiceUnknown
	}
	switch strings.TrimSpace(res.Stdout) {
	case "active", "reloading":
		return ServiceRunning
	case "inactive", "failed", "activating", "deactivating":
		return ServiceStopped
	default:
		return ServiceUnknown
	}
}

// WindowsSCM drives services through sc.exe.
type WindowsSCM struct {
	runner Runner
}

func NewWindowsSCM(r Runner) *WindowsSCM { return &WindowsSCM{runner: r} }

// sc.exe exit codes meaning the service is already in the requested state.
const (
	scAlreadyRunning = 1056
	scNotActive      = 1062
)

func (w *WindowsSCM) Start(ctx context.Context, name string) error {
	res := w.runner.Run(ctx, "sc.exe", "start", name)
	if res.ExitCode != 0 && res.ExitCode != scAlreadyRunning {
		return serviceErr("ServiceStart", name, res)
	}
	return nil
}

func (w *WindowsSCM) Stop(ctx context.Context, name string) error {
	res := w.runner.Run(ctx, "sc.exe", "stop", name)
	if res.ExitCode != 0 && res.ExitCode != scNotActive {
		return serviceErr("ServiceStop", name, res)
	}
	return nil
}

func (w *WindowsSCM) QueryState(ctx context.Context, name string) ServiceState {
	res := w.runner.Run(ctx, "sc.exe", "query", name)
	if res.ExitCode != 0 {
		return ServiceUnknown
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if !strings.Contains(line, "STATE") {
			continue
		}
		switch {
		case strings.Contains(line, "RUNNING"):
			return ServiceRunning
		case strings.Contains(line, "STOPPED"), strings.Contains(line, "PENDING"):
			return ServiceStopped
		}
	}
	return ServiceUnknown
}

// Launchd drives system daemons through launchctl.
type Launchd struct {
	runner Runner
}

func NewLaunchd(r Runner) *Launchd { return &Launchd{runner: r} }

func (l *Launchd) Start(ctx context.Context, name string) error {
	if res := l.runner.Run(ctx, "launchctl", "kickstart", "system/"+name); res.ExitCode != 0 {
		return serviceErr("ServiceStart", name, res)
	}
	return nil
}

func (l *Launchd) Stop(ctx context.Context, name string) error {
	if res := l.runner.Run(ctx, "launchctl", "kill", "SIGTERM", "system/"+name); res.ExitCode != 0 {
		if l.QueryState(ctx, name) == ServiceStopped {
			return nil
		}
		return serviceErr("ServiceStop", name, res)
	}
	return nil
}

func (l *Launchd) QueryState(ctx context.Context, name string) ServiceState {
	res := l.runner.Run(ctx, "launchctl", "print", "system/"+name)
	if res.Err != nil {
		return ServiceUnknown
	}
	if res.ExitCode != 0 {
		return ServiceStopped
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "state = ") {
			if strings.TrimPrefix(line, "state = ") == "running" {
				return ServiceRunning
			}
			return ServiceStopped
		}
	}
	return ServiceUnknown
}

// Personal.AI order the ending
