package protocol

import (
	"time"

	"github.com/turtacn/meshconverge/pkg/errors"
)

// AgentHandle identifies the local agent for the duration of one run.
type AgentHandle struct {
	BinaryPath  string `json:"binary_path"`
	ServiceName string `json:"service_name"`
	StateDir    string `json:"state_dir"`
}

// StatusSnapshot is the normalized result of one status probe.
type StatusSnapshot struct {
	ManagementConnected  bool      `json:"management_connected"`
	SignalConnected      bool      `json:"signal_connected"`
	AssignedAddress      string    `json:"assigned_address,omitempty"`
	DaemonVersionPresent bool      `json:"daemon_version_present"`
	RawIndicators        []string  `json:"raw_indicators,omitempty"`
	ExitCode             int       `json:"exit_code"`
	Structured           bool      `json:"structured"`
	Raw                  string    `json:"raw,omitempty"`
	ProbedAt             time.Time `json:"probed_at"`
}

// HasIndicator reports whether the probe matched the given error substring.
func (s StatusSnapshot) HasIndicator(ind string) bool {
	for _, r := range s.RawIndicators {
		if r == ind {
			return true
		}
	}
	return false
}

// CheckResult is one named pass/fail entry of a check set.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Readiness check names, in evaluation order.
const (
	CheckServiceRunning     = "ServiceRunning"
	CheckDaemonResponding   = "DaemonResponding"
	CheckControlChannelOpen = "ControlChannelOpen"
	CheckNoActiveSession    = "NoActiveSession"
	CheckStateStoreWritable = "StateStoreWritable"
)

// ReadinessCheckSet is the ordered outcome of one readiness poll.
type ReadinessCheckSet []CheckResult

// AllPassed reports whether the set is non-empty and every check passed.
func (s ReadinessCheckSet) AllPassed() bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns the names of the checks that did not pass.
func (s ReadinessCheckSet) Failed() []string {
	var out []string
	for _, c := range s {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// ReadinessResult is the outcome of a bounded readiness wait.
type ReadinessResult struct {
	Ready  bool              `json:"ready"`
	Checks ReadinessCheckSet `json:"checks"`
	Polls  int               `json:"polls"`
}

// Outcome is the tri-state result of a host check whose mechanism may be
// unavailable on the current platform.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeUnknown Outcome = "unknown"
)

// Network check names.
const (
	NetActiveInterface     = "ActiveInterface"
	NetDefaultRoute        = "DefaultRoute"
	NetDNSServer           = "DNSServerConfigured"
	NetDNSResolution       = "DNSResolution"
	NetInternetReachable   = "InternetReachable"
	NetClockSync           = "ClockSync"
	NetNoInterceptProxy    = "NoInterceptingProxy"
	NetRelayHostsReachable = "RelayHostsReachable"
	NetEndpointGroundTruth = "ManagementEndpointReachable"
)

// NetworkCheck is one host network check.
type NetworkCheck struct {
	Name     string  `json:"name"`
	Critical bool    `json:"critical"`
	Outcome  Outcome `json:"outcome"`
	Detail   string  `json:"detail,omitempty"`
}

// NetworkReport is the result of one pass of the network prerequisite gate.
type NetworkReport struct {
	CriticalPass   bool           `json:"critical_pass"`
	BlockingIssues []string       `json:"blocking_issues,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	Checks         []NetworkCheck `json:"checks"`
}

// PrereqCheck is one registration prerequisite result.
type PrereqCheck struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail,omitempty"`
}

// Registration prerequisite check names.
const (
	PrereqValidCredential   = "ValidCredential"
	PrereqEndpointReachable = "EndpointReachable"
	PrereqNoConflict        = "NoConflictingRegistration"
	PrereqStorageHeadroom   = "StorageHeadroom"
	PrereqFirewallEgress    = "FirewallEgress"
)

// PrereqReport is the outcome of the registration prerequisite validator.
type PrereqReport struct {
	Passed bool          `json:"passed"`
	Checks []PrereqCheck `json:"checks"`
}

// Kind maps the first failing critical check to the error kind reported for
// the run.
func (r PrereqReport) Kind() errors.ErrorKind {
	for _, c := range r.Checks {
		if !c.Critical || c.Passed {
			continue
		}
		switch c.Name {
		case PrereqValidCredential:
			return errors.KindInvalidCredential
		case PrereqEndpointReachable:
			return errors.KindNetworkError
		default:
			return errors.KindUnknown
		}
	}
	return errors.KindNone
}

// Check returns the named check, if present.
func (r PrereqReport) Check(name string) (PrereqCheck, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return PrereqCheck{}, false
}

// RegistrationAttempt records one execution of the registration command.
type RegistrationAttempt struct {
	Index     int              `json:"index"`
	Success   bool             `json:"success"`
	Kind      errors.ErrorKind `json:"kind,omitempty"`
	Message   string           `json:"message,omitempty"`
	ExitCode  int              `json:"exit_code"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
}

// RecoveryAction is the closed set of remedies the policy can choose.
type RecoveryAction string

const (
	ActionNone                RecoveryAction = "None"
	ActionWaitLonger          RecoveryAction = "WaitLonger"
	ActionRetestPrerequisites RecoveryAction = "RetestPrerequisites"
	ActionRestartAgent        RecoveryAction = "RestartAgent"
	ActionPartialStateReset   RecoveryAction = "PartialStateReset"
	ActionFullStateReset      RecoveryAction = "FullStateReset"
)

// Rank orders actions by how disruptive they are. None ranks highest since it
// ends the run.
func (a RecoveryAction) Rank() int {
	switch a {
	case ActionWaitLonger:
		return 1
	case ActionRetestPrerequisites:
		return 2
	case ActionRestartAgent:
		return 3
	case ActionPartialStateReset:
		return 4
	case ActionFullStateReset:
		return 5
	case ActionNone:
		return 6
	default:
		return 0
	}
}

// ParseAction maps a config spelling to a RecoveryAction.
func ParseAction(s string) (RecoveryAction, bool) {
	for _, a := range []RecoveryAction{ActionNone, ActionWaitLonger, ActionRetestPrerequisites,
		ActionRestartAgent, ActionPartialStateReset, ActionFullStateReset} {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// RecoveryRecord captures one recovery decision and how executing it went.
type RecoveryRecord struct {
	AfterAttempt int              `json:"after_attempt"`
	Kind         errors.ErrorKind `json:"kind"`
	Action       RecoveryAction   `json:"action"`
	Wait         time.Duration    `json:"wait"`
	Error        string           `json:"error,omitempty"`
}

// StateTransition is a state machine step, kept for diagnostics.
type StateTransition struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Options tune a single convergence run.
type Options struct {
	ForceFullReset bool
	FreshInstall   bool
	MaxAttempts    int
	DaemonWait     time.Duration
	VerifyWait     time.Duration
}

// ConvergenceResult is the terminal outcome of a run.
type ConvergenceResult struct {
	Success         bool                  `json:"success"`
	Skipped         bool                  `json:"skipped,omitempty"`
	LastErrorKind   errors.ErrorKind      `json:"last_error_kind,omitempty"`
	Reason          string                `json:"reason,omitempty"`
	DiagnosticsPath string                `json:"diagnostics_path,omitempty"`
	Attempts        []RegistrationAttempt `json:"attempts,omitempty"`
	Recoveries      []RecoveryRecord      `json:"recoveries,omitempty"`
	Final           *StatusSnapshot       `json:"final,omitempty"`
	Transitions     []StateTransition     `json:"transitions,omitempty"`
	Duration        time.Duration         `json:"duration"`
}

// ExitCode returns the process exit code for the result.
func (r ConvergenceResult) ExitCode() int {
	if r.Success {
		return 0
	}
	if r.LastErrorKind == errors.KindNone {
		return errors.KindUnknown.ExitCode()
	}
	return r.LastErrorKind.ExitCode()
}

// Personal.AI order the ending
