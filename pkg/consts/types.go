package consts

import "time"

// ConvergeState defines the lifecycle state of one convergence run.
// Transitions between states are enforced by pkg/fsm.
type ConvergeState string

const (
	StateIdle           ConvergeState = "IDLE"
	StateNetworkCheck   ConvergeState = "NETWORK_CHECK"   // Host network stack usable
	StateAgentReadiness ConvergeState = "AGENT_READINESS" // Daemon and control channel responsive
	StatePrereqCheck    ConvergeState = "PREREQ_CHECK"    // Credential, endpoint, prior state
	StateStateClear     ConvergeState = "STATE_CLEAR"     // Fresh install or forced reset
	StateAttempting     ConvergeState = "ATTEMPTING"
	StateVerifying      ConvergeState = "VERIFYING"
	StateRecovering     ConvergeState = "RECOVERING"
	StateConverged      ConvergeState = "CONVERGED"
	StateFailed         ConvergeState = "FAILED"
)

// Terminal reports whether no further transition leaves s.
func (s ConvergeState) Terminal() bool {
	return s == StateConverged || s == StateFailed
}

// Events fired on the convergence state machine.
const (
	EventStart            = "start"
	EventNetworkOK        = "network_ok"
	EventReady            = "ready"
	EventAlreadyConverged = "already_converged"
	EventClearState       = "clear_state"
	EventPrereqOK         = "prereq_ok"
	EventCleared          = "cleared"
	EventAttemptSucceeded = "attempt_succeeded"
	EventAttemptFailed    = "attempt_failed"
	EventVerified         = "verified"
	EventVerifyFailed     = "verify_failed"
	EventRetry            = "retry"
	EventFail             = "fail"
)

// Environment variables read by the CLI.
const (
	EnvSetupKey      = "MESHCONVERGE_SETUP_KEY"
	EnvManagementURL = "MESHCONVERGE_MANAGEMENT_URL"
)

// Process exit codes. Per-kind failure codes live in pkg/errors.
const (
	ExitOK            = 0
	ExitUsage         = 2
	ExitAdminRequired = 3
)

// Defaults used when the config file leaves a value unset.
const (
	DefaultConfigPath        = "/etc/meshconverge/meshconverge.yaml"
	DefaultMaxAttempts       = 5
	DefaultDaemonWait        = 60 * time.Second
	DefaultReadinessInterval = 2 * time.Second
	DefaultVerifyWait        = 90 * time.Second
	DefaultVerifyInterval    = 3 * time.Second
	DefaultNetworkBackoff    = 15 * time.Second
	DefaultCheckTimeout      = 5 * time.Second
	DefaultCommandTimeout    = 30 * time.Second
	DefaultRegisterTimeout   = 120 * time.Second
	DefaultClockSkew         = 5 * time.Second
	DefaultCredentialMinLen  = 20
	DefaultMinFreeBytes      = 64 << 20
	DefaultDiagnosticsPath   = "/var/log/meshconverge/diagnostics.json"
	DefaultNTPPool           = "pool.ntp.org"
)

// Personal.AI order the ending
