package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/meshconverge/internal/privilege"
	"github.com/turtacn/meshconverge/pkg/consts"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

type convergeFlags struct {
	setupKey          string
	managementURL     string
	forceFullReset    bool
	freshInstall      bool
	install           bool
	maxAttempts       int
	daemonWaitSeconds int
	verifyWaitSeconds int
	timeout           time.Duration
}

var convergeOpts convergeFlags

var convergeCmd = &cobra.Command{
	Use:   "converge",
	Short: "Register the local agent and wait until it is verifiably connected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConverge(cmd, convergeOpts)
	},
}

func init() {
	f := convergeCmd.Flags()
	f.StringVar(&convergeOpts.setupKey, "setup-key", "", "setup key (default $"+consts.EnvSetupKey+")")
	f.StringVar(&convergeOpts.managementURL, "management-url", "", "management endpoint (default $"+consts.EnvManagementURL+" or agent.management_url)")
	f.BoolVar(&convergeOpts.forceFullReset, "force-full-reset", false, "clear all agent state before registering, even if already connected")
	f.BoolVar(&convergeOpts.freshInstall, "fresh-install", false, "treat the agent as freshly installed and clear its state before the first attempt")
	f.BoolVar(&convergeOpts.install, "install", false, "run the install hook when the agent is not found")
	f.IntVar(&convergeOpts.maxAttempts, "max-attempts", 0, "registration attempt budget (default recovery.max_attempts)")
	f.IntVar(&convergeOpts.daemonWaitSeconds, "daemon-wait-seconds", 0, "readiness wait in seconds (default readiness.max_wait)")
	f.IntVar(&convergeOpts.verifyWaitSeconds, "verify-wait-seconds", 0, "verification wait in seconds (default verify.max_wait)")
	f.DurationVar(&convergeOpts.timeout, "timeout", 0, "overall deadline for the run, 0 for none")
}

// credentials resolves the setup key and endpoint from flags, environment and
// config, in that order.
func (f convergeFlags) credentials(cfg *protocol.Config) (credential, endpoint string) {
	credential = f.setupKey
	if credential == "" {
		credential = os.Getenv(consts.EnvSetupKey)
	}
	endpoint = f.managementURL
	if endpoint == "" {
		endpoint = os.Getenv(consts.EnvManagementURL)
	}
	if endpoint == "" {
		endpoint = cfg.Agent.ManagementURL
	}
	return credential, endpoint
}

func (f convergeFlags) options() protocol.Options {
	return protocol.Options{
		ForceFullReset: f.forceFullReset,
		FreshInstall:   f.freshInstall,
		MaxAttempts:    f.maxAttempts,
		DaemonWait:     time.Duration(f.daemonWaitSeconds) * time.Second,
		VerifyWait:     time.Duration(f.verifyWaitSeconds) * time.Second,
	}
}

func runConverge(cmd *cobra.Command, flags convergeFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.maxAttempts < 0 || flags.daemonWaitSeconds < 0 || flags.verifyWaitSeconds < 0 {
		return &exitError{code: consts.ExitUsage, err: fmt.Errorf("attempt and wait flags must not be negative")}
	}
	if err := privilege.Require(); err != nil {
		return err
	}

	credential, endpoint := flags.credentials(cfg)
	s := newStack(cfg, endpoint, credential)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		_, shutdown, err := s.metrics.Serve(addr)
		if err != nil {
			logger.Log.Warn("Metrics listener disabled", "err", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	h, installed, err := s.detect(ctx, flags.install)
	if err != nil {
		return err
	}
	opts := flags.options()
	opts.FreshInstall = opts.FreshInstall || installed

	engine, err := s.engine()
	if err != nil {
		return err
	}
	res := engine.Converge(ctx, h, credential, endpoint, opts)

	if path := cfg.Observability.MetricsTextfile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			logger.Log.Warn("Failed to write metrics textfile", "err", err)
		}
	}

	printResult(cmd.OutOrStdout(), res)
	if code := res.ExitCode(); code != consts.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func printResult(w io.Writer, res protocol.ConvergenceResult) {
	switch {
	case res.Success && res.Skipped:
		color.New(color.FgGreen).Fprint(w, "ALREADY CONVERGED")
		fmt.Fprintf(w, " address=%s\n", res.Final.AssignedAddress)
	case res.Success:
		color.New(color.FgGreen).Fprint(w, "CONVERGED")
		fmt.Fprintf(w, " address=%s attempts=%d duration=%s\n",
			res.Final.AssignedAddress, len(res.Attempts), res.Duration.Round(time.Millisecond))
	default:
		color.New(color.FgRed).Fprint(w, "FAILED")
		fmt.Fprintf(w, " kind=%s attempts=%d reason=%q", res.LastErrorKind, len(res.Attempts), res.Reason)
		if res.DiagnosticsPath != "" {
			fmt.Fprintf(w, " diagnostics=%s", res.DiagnosticsPath)
		}
		fmt.Fprintln(w)
	}
}

// Personal.AI order the ending
