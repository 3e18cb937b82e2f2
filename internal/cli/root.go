package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/meshconverge/internal/recovery"
	"github.com/turtacn/meshconverge/pkg/consts"
	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "meshconverge",
	Short:         "meshconverge: drives a mesh VPN agent into a verified connected state",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", consts.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
	rootCmd.AddCommand(convergeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
}

// exitError carries a process exit code out of a command. A nil err means
// the command already reported the outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code. Errors without a
// code come from flag parsing.
func exitCode(err error) int {
	if err == nil {
		return consts.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if _, ok := apperrors.CodeOf(err); ok {
		return apperrors.ExitCode(err)
	}
	return consts.ExitUsage
}

// loadConfig reads the config file over the defaults. A missing file at the
// default path is not an error.
func loadConfig() (*protocol.Config, error) {
	var cfg *protocol.Config
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) && cfgFile == consts.DefaultConfigPath {
		cfg = protocol.DefaultConfig()
	} else {
		cfg, err = protocol.Load(cfgFile)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeConfigRead, "LoadConfig", cfgFile, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "LoadConfig", cfgFile, err)
	}
	if _, err := recovery.FromConfig(cfg.Recovery); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "LoadConfig", cfgFile, err)
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.Observability.LogFormat = logFormat
	}
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	return cfg, nil
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if !errors.As(err, &ee) || ee.err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

// Personal.AI order the ending
