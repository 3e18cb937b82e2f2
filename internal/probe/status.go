// Package probe turns the agent's status command output into a StatusSnapshot.
package probe

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/turtacn/meshconverge/internal/supervisor"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// JSON paths in the structured status document.
const (
	pathManagementConnected = "management.connected"
	pathSignalConnected     = "signal.connected"
	pathAddress             = "netbirdIp"
	pathDaemonVersion       = "daemonVersion"
)

var (
	reManagement = regexp.MustCompile(`(?mi)^\s*management:\s*connected\b`)
	reSignal     = regexp.MustCompile(`(?mi)^\s*signal:\s*connected\b`)
	reAddress    = regexp.MustCompile(`(?mi)^\s*netbird ip:\s*(\S+)`)
	reDaemon     = regexp.MustCompile(`(?mi)^\s*daemon version:\s*(\S+)`)
)

// Prober runs the status command. It never caches: every call re-probes.
type Prober struct {
	runner     supervisor.Runner
	jsonArgs   []string
	textArgs   []string
	indicators []string
	timeout    time.Duration
	log        logger.Logger
}

func New(r supervisor.Runner, agent protocol.AgentConfig, status protocol.StatusConfig) *Prober {
	ind := make([]string, 0, len(status.ErrorIndicators))
	for _, s := range status.ErrorIndicators {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			ind = append(ind, s)
		}
	}
	return &Prober{
		runner:     r,
		jsonArgs:   agent.StatusJSONArgs,
		textArgs:   agent.StatusArgs,
		indicators: ind,
		timeout:    agent.CommandTimeout.Std(),
		log:        logger.Log.With("component", "probe"),
	}
}

// Probe queries the structured status first and falls back to the text form.
func (p *Prober) Probe(ctx context.Context, h protocol.AgentHandle) protocol.StatusSnapshot {
	if len(p.jsonArgs) > 0 {
		res := p.run(ctx, h, p.jsonArgs)
		out := strings.TrimSpace(res.Stdout)
		if res.ExitCode == 0 && out != "" && gjson.Valid(out) {
			return p.fromJSON(out, res)
		}
		p.log.Debug("Structured status unavailable, falling back to text", "exit", res.ExitCode)
	}
	res := p.run(ctx, h, p.textArgs)
	return p.fromText(res)
}

func (p *Prober) run(ctx context.Context, h protocol.AgentHandle, args []string) supervisor.Result {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.runner.Run(ctx, h.BinaryPath, args...)
}

func (p *Prober) fromJSON(doc string, res supervisor.Result) protocol.StatusSnapshot {
	parsed := gjson.Parse(doc)
	return protocol.StatusSnapshot{
		ManagementConnected:  parsed.Get(pathManagementConnected).Bool(),
		SignalConnected:      parsed.Get(pathSignalConnected).Bool(),
		AssignedAddress:      normalizeAddress(parsed.Get(pathAddress).String()),
		DaemonVersionPresent: strings.TrimSpace(parsed.Get(pathDaemonVersion).String()) != "",
		RawIndicators:        p.indicatorsIn(res.Output()),
		ExitCode:             res.ExitCode,
		Structured:           true,
		Raw:                  res.Output(),
		ProbedAt:             time.Now(),
	}
}

func (p *Prober) fromText(res supervisor.Result) protocol.StatusSnapshot {
	text := res.Output()
	snap := protocol.StatusSnapshot{
		ManagementConnected: reManagement.MatchString(text),
		SignalConnected:     reSignal.MatchString(text),
		RawIndicators:       p.indicatorsIn(text),
		ExitCode:            res.ExitCode,
		Raw:                 text,
		ProbedAt:            time.Now(),
	}
	if m := reAddress.FindStringSubmatch(text); m != nil {
		snap.AssignedAddress = normalizeAddress(m[1])
	}
	if m := reDaemon.FindStringSubmatch(text); m != nil {
		snap.DaemonVersionPresent = true
	}
	return snap
}

func (p *Prober) indicatorsIn(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var found []string
	for _, ind := range p.indicators {
		if strings.Contains(lower, ind) {
			found = append(found, ind)
		}
	}
	sort.Strings(found)
	return dedupe(found)
}

func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "n/a", "-", "none", "null":
		return ""
	}
	return s
}

// Personal.AI order the ending
