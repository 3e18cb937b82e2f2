// Package prereq validates, without side effects, that a registration attempt
// could plausibly succeed.
package prereq

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/turtacn/meshconverge/internal/agentstate"
	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

var reOpaqueToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var defaultCritical = map[string]bool{
	protocol.PrereqValidCredential:   true,
	protocol.PrereqEndpointReachable: true,
	protocol.PrereqNoConflict:        true,
	protocol.PrereqStorageHeadroom:   false,
	protocol.PrereqFirewallEgress:    false,
}

// ValidateOptions carries run-level context that changes how checks are judged.
type ValidateOptions struct {
	// StateClearPlanned demotes the conflict check: the state is about to go.
	StateClearPlanned bool
}

// Validator runs the registration prerequisite checks.
type Validator struct {
	cfg      protocol.RegistrationConfig
	agent    protocol.AgentConfig
	runner   supervisor.Runner
	critical map[string]bool
	log      logger.Logger

	// Reachable probes the management endpoint.
	Reachable func(ctx context.Context, url string) (bool, string)
	// FreeBytes reports free space on the volume holding path.
	FreeBytes func(ctx context.Context, path string) (uint64, error)
	GOOS      string
}

func New(cfg protocol.RegistrationConfig, agent protocol.AgentConfig, runner supervisor.Runner,
	reachable func(ctx context.Context, url string) (bool, string)) *Validator {
	critical := make(map[string]bool, len(defaultCritical))
	for k, v := range defaultCritical {
		critical[k] = v
	}
	for k, v := range cfg.Critical {
		critical[k] = v
	}
	return &Validator{
		cfg:       cfg,
		agent:     agent,
		runner:    runner,
		critical:  critical,
		log:       logger.Log.With("component", "prereq"),
		Reachable: reachable,
		FreeBytes: freeBytes,
		GOOS:      runtime.GOOS,
	}
}

// Validate runs every check and reports whether all critical checks passed.
func (v *Validator) Validate(ctx context.Context, h protocol.AgentHandle, credential, endpoint string, opts ValidateOptions) protocol.PrereqReport {
	checks := []protocol.PrereqCheck{
		v.credential(h, credential, endpoint, opts),
		v.endpoint(ctx, endpoint),
		v.conflict(h, endpoint),
		v.storage(ctx, h.StateDir),
		v.firewall(ctx),
	}
	report := protocol.PrereqReport{Passed: true, Checks: checks}
	for i := range report.Checks {
		c := &report.Checks[i]
		c.Critical = v.critical[c.Name]
		if c.Name == protocol.PrereqNoConflict && opts.StateClearPlanned {
			c.Critical = false
		}
		if c.Critical && !c.Passed {
			report.Passed = false
		}
	}
	if !report.Passed {
		v.log.Warn("Registration prerequisites failed", "kind", report.Kind())
	}
	return report
}

// credential accepts an absent credential only when the agent already holds a
// registration for the requested endpoint that the run will not clear.
func (v *Validator) credential(h protocol.AgentHandle, cred, endpoint string, opts ValidateOptions) protocol.PrereqCheck {
	c := protocol.PrereqCheck{Name: protocol.PrereqValidCredential}
	if cred == "" && !opts.StateClearPlanned {
		registered, ok, err := agentstate.New(h, v.agent).RegisteredEndpoint()
		if err == nil && ok && (endpoint == "" || agentstate.SameEndpoint(registered, endpoint)) {
			c.Passed = true
			c.Detail = "reusing existing registration"
			return c
		}
	}
	ok, why := ValidCredential(cred, v.cfg.CredentialMinLength, v.cfg.CredentialPrefixes)
	c.Passed = ok
	c.Detail = why
	return c
}

// ValidCredential checks the format of a setup credential. It accepts a UUID,
// an opaque token, or a known prefix followed by an opaque token, of at least
// minLen characters.
func ValidCredential(cred string, minLen int, prefixes []string) (bool, string) {
	if cred == "" {
		return false, "credential is empty"
	}
	if len(cred) < minLen {
		return false, fmt.Sprintf("credential shorter than %d characters", minLen)
	}
	if _, err := uuid.Parse(cred); err == nil {
		return true, "uuid"
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(cred, p) && reOpaqueToken.MatchString(cred[len(p):]) {
			return true, "prefixed token " + p
		}
	}
	if reOpaqueToken.MatchString(cred) {
		return true, "opaque token"
	}
	return false, "credential contains characters outside [A-Za-z0-9_-]"
}

func (v *Validator) endpoint(ctx context.Context, endpoint string) protocol.PrereqCheck {
	c := protocol.PrereqCheck{Name: protocol.PrereqEndpointReachable}
	if endpoint == "" {
		c.Detail = "no management endpoint configured"
		return c
	}
	c.Passed, c.Detail = v.Reachable(ctx, endpoint)
	return c
}

func (v *Validator) conflict(h protocol.AgentHandle, endpoint string) protocol.PrereqCheck {
	c := protocol.PrereqCheck{Name: protocol.PrereqNoConflict, Passed: true}
	registered, ok, err := agentstate.New(h, v.agent).RegisteredEndpoint()
	switch {
	case err != nil:
		c.Detail = "unreadable agent config: " + err.Error()
	case !ok:
		c.Detail = "no existing registration"
	case endpoint == "" || agentstate.SameEndpoint(registered, endpoint):
		c.Detail = "registered to " + registered
	default:
		c.Passed = false
		c.Detail = fmt.Sprintf("registered to %s, requested %s", registered, endpoint)
	}
	return c
}

func (v *Validator) storage(ctx context.Context, dir string) protocol.PrereqCheck {
	c := protocol.PrereqCheck{Name: protocol.PrereqStorageHeadroom}
	path := existingAncestor(dir)
	free, err := v.FreeBytes(ctx, path)
	if err != nil {
		c.Passed = true
		c.Detail = "unknown: " + err.Error()
		return c
	}
	c.Passed = free >= v.cfg.MinFreeBytes
	c.Detail = fmt.Sprintf("%d bytes free on %s", free, path)
	return c
}

func existingAncestor(dir string) string {
	p := filepath.Clean(dir)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

func freeBytes(ctx context.Context, path string) (uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

func (v *Validator) firewall(ctx context.Context) protocol.PrereqCheck {
	c := protocol.PrereqCheck{Name: protocol.PrereqFirewallEgress, Passed: true}
	var name string
	var args []string
	var denies func(out string) bool
	switch v.GOOS {
	case "linux":
		name, args = "iptables", []string{"-S", "OUTPUT"}
		denies = func(out string) bool {
			return strings.Contains(out, "-P OUTPUT DROP") || strings.Contains(out, "-P OUTPUT REJECT")
		}
	case "windows":
		name, args = "netsh", []string{"advfirewall", "show", "currentprofile"}
		denies = func(out string) bool {
			for _, line := range strings.Split(out, "\n") {
				if strings.HasPrefix(strings.TrimSpace(line), "Firewall Policy") && strings.Contains(line, "BlockOutbound") {
					return true
				}
			}
			return false
		}
	default:
		c.Detail = "unknown: no firewall tool for " + v.GOOS
		return c
	}

	res := v.runner.Run(ctx, name, args...)
	if res.Err != nil || res.ExitCode != 0 {
		c.Detail = fmt.Sprintf("unknown: %s exit %d", name, res.ExitCode)
		return c
	}
	if denies(res.Stdout) {
		c.Passed = false
		c.Detail = "default outbound policy denies traffic"
		return c
	}
	c.Detail = "outbound allowed"
	return c
}

// Personal.AI order the ending
