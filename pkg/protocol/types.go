package protocol

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/turtacn/meshconverge/pkg/consts"
	"gopkg.in/yaml.v3"
)

// Config represents the root configuration file.
type Config struct {
	Version       string              `yaml:"version"`
	Agent         AgentConfig         `yaml:"agent"`
	Install       InstallConfig       `yaml:"install"`
	Status        StatusConfig        `yaml:"status"`
	Network       NetworkConfig       `yaml:"network"`
	Readiness     ReadinessConfig     `yaml:"readiness"`
	Registration  RegistrationConfig  `yaml:"registration"`
	Verify        VerifyConfig        `yaml:"verify"`
	Recovery      RecoveryConfig      `yaml:"recovery"`
	Diagnostics   DiagnosticsConfig   `yaml:"diagnostics"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type AgentConfig struct {
	Binary         string   `yaml:"binary"`       // Name on PATH or absolute path
	SearchPaths    []string `yaml:"search_paths"` // Checked when Binary is not on PATH
	ServiceName    string   `yaml:"service_name"`
	StateDir       string   `yaml:"state_dir"`
	ConfigFile     string   `yaml:"config_file"`   // Relative to StateDir
	SessionFiles   []string `yaml:"session_files"` // Relative to StateDir, cleared on partial reset
	ControlAddress string   `yaml:"control_address"`
	ManagementURL  string   `yaml:"management_url"`

	StatusArgs      []string `yaml:"status_args"`
	StatusJSONArgs  []string `yaml:"status_json_args"`
	RegisterArgs    []string `yaml:"register_args"` // {credential} and {endpoint} are substituted
	CommandTimeout  Duration `yaml:"command_timeout"`
	RegisterTimeout Duration `yaml:"register_timeout"`
}

type InstallConfig struct {
	Command []string `yaml:"command"`
	Timeout Duration `yaml:"timeout"`
}

type StatusConfig struct {
	// ErrorIndicators are case-insensitive substrings that mark a status
	// output as unhealthy even when the channels report connected.
	ErrorIndicators []string `yaml:"error_indicators"`
}

type NetworkConfig struct {
	DNSProbeHost       string   `yaml:"dns_probe_host"`
	InternetProbes     []string `yaml:"internet_probes"`
	RelayHosts         []string `yaml:"relay_hosts"` // host:port
	NTPPool            string   `yaml:"ntp_pool"`
	ClockSkewThreshold Duration `yaml:"clock_skew_threshold"`
	RetryBackoff       Duration `yaml:"retry_backoff"`
	CheckTimeout       Duration `yaml:"check_timeout"`
	ResolvConf         string   `yaml:"resolv_conf"`
}

type ReadinessConfig struct {
	MaxWait      Duration `yaml:"max_wait"`
	PollInterval Duration `yaml:"poll_interval"`
}

type RegistrationConfig struct {
	CredentialMinLength int      `yaml:"credential_min_length"`
	CredentialPrefixes  []string `yaml:"credential_prefixes"`
	MinFreeBytes        uint64   `yaml:"min_free_bytes"`
	ProbeRetries        int      `yaml:"probe_retries"`
	// Critical overrides the default criticality of individual checks by name.
	Critical map[string]bool `yaml:"critical"`
}

type VerifyConfig struct {
	MaxWait       Duration `yaml:"max_wait"`
	PollInterval  Duration `yaml:"poll_interval"`
	RequireSignal bool     `yaml:"require_signal"`
}

type RecoveryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// Waits maps an action name to the pause taken after performing it.
	Waits map[string]Duration `yaml:"waits"`
	// Ladders replaces the escalation ladder of an error kind.
	Ladders map[string][]string `yaml:"ladders"`
}

type DiagnosticsConfig struct {
	Path string `yaml:"path"`
}

type ObservabilityConfig struct {
	MetricsAddr     string `yaml:"metrics_addr"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig returns the settings used for anything a config file leaves out.
func DefaultConfig() *Config {
	cfg := &Config{
		Version: "1",
		Agent: AgentConfig{
			Binary:          "netbird",
			ServiceName:     "netbird",
			ConfigFile:      "config.json",
			SessionFiles:    []string{"state.json"},
			StatusArgs:      []string{"status", "-d"},
			StatusJSONArgs:  []string{"status", "--json"},
			RegisterArgs:    []string{"up", "--setup-key", "{credential}", "--management-url", "{endpoint}"},
			CommandTimeout:  Duration(consts.DefaultCommandTimeout),
			RegisterTimeout: Duration(consts.DefaultRegisterTimeout),
		},
		Install: InstallConfig{
			Timeout: Duration(10 * time.Minute),
		},
		Status: StatusConfig{
			ErrorIndicators: []string{
				"daemon is not running",
				"connection refused",
				"context deadline exceeded",
				"needslogin",
				"loginfailed",
				"sessionexpired",
				"failed to connect",
			},
		},
		Network: NetworkConfig{
			DNSProbeHost:       "dns.google",
			InternetProbes:     []string{"https://www.google.com/generate_204", "https://cloudflare.com/cdn-cgi/trace"},
			NTPPool:            consts.DefaultNTPPool,
			ClockSkewThreshold: Duration(consts.DefaultClockSkew),
			RetryBackoff:       Duration(consts.DefaultNetworkBackoff),
			CheckTimeout:       Duration(consts.DefaultCheckTimeout),
			ResolvConf:         "/etc/resolv.conf",
		},
		Readiness: ReadinessConfig{
			MaxWait:      Duration(consts.DefaultDaemonWait),
			PollInterval: Duration(consts.DefaultReadinessInterval),
		},
		Registration: RegistrationConfig{
			CredentialMinLength: consts.DefaultCredentialMinLen,
			CredentialPrefixes:  []string{"nbs_", "nbk_"},
			MinFreeBytes:        consts.DefaultMinFreeBytes,
			ProbeRetries:        2,
		},
		Verify: VerifyConfig{
			MaxWait:       Duration(consts.DefaultVerifyWait),
			PollInterval:  Duration(consts.DefaultVerifyInterval),
			RequireSignal: true,
		},
		Recovery: RecoveryConfig{
			MaxAttempts: consts.DefaultMaxAttempts,
		},
		Diagnostics: DiagnosticsConfig{
			Path: consts.DefaultDiagnosticsPath,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}

	switch runtime.GOOS {
	case "windows":
		cfg.Agent.Binary = "netbird.exe"
		cfg.Agent.ServiceName = "Netbird"
		cfg.Agent.SearchPaths = []string{`C:\Program Files\Netbird\netbird.exe`}
		cfg.Agent.StateDir = `C:\ProgramData\Netbird`
		cfg.Agent.ControlAddress = "tcp://127.0.0.1:41731"
		cfg.Diagnostics.Path = `C:\ProgramData\meshconverge\diagnostics.json`
	case "darwin":
		cfg.Agent.SearchPaths = []string{"/usr/local/bin/netbird", "/opt/homebrew/bin/netbird"}
		cfg.Agent.StateDir = "/var/lib/netbird"
		cfg.Agent.ControlAddress = "unix:///var/run/netbird.sock"
	default:
		cfg.Agent.SearchPaths = []string{"/usr/bin/netbird", "/usr/local/bin/netbird"}
		cfg.Agent.StateDir = "/etc/netbird"
		cfg.Agent.ControlAddress = "unix:///var/run/netbird.sock"
	}
	return cfg
}

// Load reads a YAML config file over DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings that would make a poll loop or the retry budget
// unbounded or meaningless.
func (c *Config) Validate() error {
	switch {
	case c.Agent.Binary == "":
		return fmt.Errorf("agent.binary must be set")
	case c.Agent.StateDir == "":
		return fmt.Errorf("agent.state_dir must be set")
	case len(c.Agent.RegisterArgs) == 0:
		return fmt.Errorf("agent.register_args must be set")
	case c.Readiness.MaxWait <= 0 || c.Readiness.PollInterval <= 0:
		return fmt.Errorf("readiness.max_wait and readiness.poll_interval must be positive")
	case c.Verify.MaxWait <= 0 || c.Verify.PollInterval <= 0:
		return fmt.Errorf("verify.max_wait and verify.poll_interval must be positive")
	case c.Recovery.MaxAttempts <= 0:
		return fmt.Errorf("recovery.max_attempts must be positive")
	case c.Network.CheckTimeout <= 0:
		return fmt.Errorf("network.check_timeout must be positive")
	}
	return nil
}

// Personal.AI order the ending
