// Package netgate checks that the host network stack is usable before the
// agent is touched.
package netgate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/beevik/ntp"

	"github.com/turtacn/meshconverge/internal/reach"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// HostNetwork exposes link and routing state. Either method may fail when the
// platform lacks the mechanism; the gate then records the check as unknown.
type HostNetwork interface {
	ActiveInterfaces() ([]string, error)
	DefaultRoute() (bool, error)
}

// Gate runs the critical and advisory network checks. The function fields
// default to real implementations and are swapped out in tests.
type Gate struct {
	cfg      protocol.NetworkConfig
	endpoint string
	log      logger.Logger

	Host          HostNetwork
	ReadFile      func(name string) ([]byte, error)
	LookupHost    func(ctx context.Context, host string) ([]string, error)
	HTTPReachable func(ctx context.Context, url string) (bool, string)
	DialTCP       func(ctx context.Context, addr string) error
	ClockOffset   func(pool string, timeout time.Duration) (time.Duration, error)
	ProxyFor      func(req *http.Request) (*url.URL, error)
	GOOS          string
}

// New builds a Gate that uses endpoint as end-to-end ground truth when a
// critical check cannot be evaluated.
func New(cfg protocol.NetworkConfig, endpoint string, p *reach.Prober) *Gate {
	return &Gate{
		cfg:           cfg,
		endpoint:      endpoint,
		log:           logger.Log.With("component", "netgate"),
		Host:          defaultHost(),
		ReadFile:      os.ReadFile,
		LookupHost:    net.DefaultResolver.LookupHost,
		HTTPReachable: p.Reachable,
		DialTCP: func(ctx context.Context, addr string) error {
			return p.TCP(ctx, "tcp", addr)
		},
		ClockOffset: func(pool string, timeout time.Duration) (time.Duration, error) {
			resp, err := ntp.QueryWithOptions(pool, ntp.QueryOptions{Timeout: timeout})
			if err != nil {
				return 0, err
			}
			return resp.ClockOffset, nil
		},
		ProxyFor: http.ProxyFromEnvironment,
		GOOS:     runtime.GOOS,
	}
}

// Check runs every check once. It has no side effects.
func (g *Gate) Check(ctx context.Context) protocol.NetworkReport {
	critical := []protocol.NetworkCheck{
		g.checkInterfaces(),
		g.checkDefaultRoute(),
		g.checkDNSServer(),
		g.checkDNSResolution(ctx),
		g.checkInternet(ctx),
	}
	advisory := []protocol.NetworkCheck{
		g.checkClock(),
		g.checkProxy(),
		g.checkRelays(ctx),
	}

	report := protocol.NetworkReport{CriticalPass: true}
	sawUnknown := false
	for _, c := range critical {
		c.Critical = true
		switch c.Outcome {
		case protocol.OutcomeFail:
			report.CriticalPass = false
			report.BlockingIssues = append(report.BlockingIssues, c.Name+": "+c.Detail)
		case protocol.OutcomeUnknown:
			sawUnknown = true
		}
		report.Checks = append(report.Checks, c)
	}

	if report.CriticalPass && sawUnknown && g.endpoint != "" {
		ok, detail := g.reachable(ctx, g.endpoint)
		gt := protocol.NetworkCheck{Name: protocol.NetEndpointGroundTruth, Critical: true, Outcome: protocol.OutcomePass, Detail: detail}
		if !ok {
			gt.Outcome = protocol.OutcomeFail
			report.CriticalPass = false
			report.BlockingIssues = append(report.BlockingIssues, gt.Name+": "+detail)
		}
		report.Checks = append(report.Checks, gt)
	}

	for _, c := range advisory {
		if c.Outcome == protocol.OutcomeFail {
			report.Warnings = append(report.Warnings, c.Name+": "+c.Detail)
		}
		report.Checks = append(report.Checks, c)
	}

	for _, w := range report.Warnings {
		g.log.Warn("Network advisory check failed", "issue", w)
	}
	if !report.CriticalPass {
		g.log.Error("Network prerequisites not met", "issues", report.BlockingIssues)
	}
	return report
}

func (g *Gate) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.cfg.CheckTimeout.Std())
}

func (g *Gate) reachable(ctx context.Context, u string) (bool, string) {
	cctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.HTTPReachable(cctx, u)
}

func pass(name, detail string) protocol.NetworkCheck {
	return protocol.NetworkCheck{Name: name, Outcome: protocol.OutcomePass, Detail: detail}
}

func fail(name, detail string) protocol.NetworkCheck {
	return protocol.NetworkCheck{Name: name, Outcome: protocol.OutcomeFail, Detail: detail}
}

func unknown(name, detail string) protocol.NetworkCheck {
	return protocol.NetworkCheck{Name: name, Outcome: protocol.OutcomeUnknown, Detail: detail}
}

func (g *Gate) checkInterfaces() protocol.NetworkCheck {
	names, err := g.Host.ActiveInterfaces()
	if err != nil {
		return unknown(protocol.NetActiveInterface, err.Error())
	}
	if len(names) == 0 {
		return fail(protocol.NetActiveInterface, "no non-loopback interface is up")
	}
	return pass(protocol.NetActiveInterface, strings.Join(names, ","))
}

func (g *Gate) checkDefaultRoute() protocol.NetworkCheck {
	ok, err := g.Host.DefaultRoute()
	if err != nil {
		return unknown(protocol.NetDefaultRoute, err.Error())
	}
	if !ok {
		return fail(protocol.NetDefaultRoute, "no default route")
	}
	return pass(protocol.NetDefaultRoute, "")
}

func (g *Gate) checkDNSServer() protocol.NetworkCheck {
	if g.GOOS == "windows" || g.cfg.ResolvConf == "" {
		return unknown(protocol.NetDNSServer, "resolver configuration not inspectable")
	}
	data, err := g.ReadFile(g.cfg.ResolvConf)
	if err != nil {
		return unknown(protocol.NetDNSServer, err.Error())
	}
	servers := nameservers(data)
	if len(servers) == 0 {
		return fail(protocol.NetDNSServer, "no nameserver in "+g.cfg.ResolvConf)
	}
	return pass(protocol.NetDNSServer, strings.Join(servers, ","))
}

func nameservers(resolvConf []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(resolvConf))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "nameserver" {
			out = append(out, fields[1])
		}
	}
	return out
}

func (g *Gate) checkDNSResolution(ctx context.Context) protocol.NetworkCheck {
	if g.cfg.DNSProbeHost == "" {
		return unknown(protocol.NetDNSResolution, "no probe host configured")
	}
	cctx, cancel := g.withTimeout(ctx)
	defer cancel()
	addrs, err := g.LookupHost(cctx, g.cfg.DNSProbeHost)
	if err != nil {
		return fail(protocol.NetDNSResolution, err.Error())
	}
	if len(addrs) == 0 {
		return fail(protocol.NetDNSResolution, g.cfg.DNSProbeHost+" resolved to nothing")
	}
	return pass(protocol.NetDNSResolution, g.cfg.DNSProbeHost+" -> "+addrs[0])
}

func (g *Gate) checkInternet(ctx context.Context) protocol.NetworkCheck {
	if len(g.cfg.InternetProbes) == 0 {
		return unknown(protocol.NetInternetReachable, "no probe URLs configured")
	}
	var errs []string
	for _, u := range g.cfg.InternetProbes {
		ok, detail := g.reachable(ctx, u)
		if ok {
			return pass(protocol.NetInternetReachable, u+" "+detail)
		}
		errs = append(errs, u+": "+detail)
	}
	return fail(protocol.NetInternetReachable, strings.Join(errs, "; "))
}

func (g *Gate) checkClock() protocol.NetworkCheck {
	if g.cfg.NTPPool == "" {
		return unknown(protocol.NetClockSync, "no NTP pool configured")
	}
	offset, err := g.ClockOffset(g.cfg.NTPPool, g.cfg.CheckTimeout.Std())
	if err != nil {
		return unknown(protocol.NetClockSync, err.Error())
	}
	if offset.Abs() > g.cfg.ClockSkewThreshold.Std() {
		return fail(protocol.NetClockSync, fmt.Sprintf("clock offset %s exceeds %s", offset, g.cfg.ClockSkewThreshold.Std()))
	}
	return pass(protocol.NetClockSync, "offset "+offset.String())
}

func (g *Gate) checkProxy() protocol.NetworkCheck {
	if g.endpoint == "" {
		return unknown(protocol.NetNoInterceptProxy, "no endpoint to check")
	}
	req, err := http.NewRequest(http.MethodGet, g.endpoint, nil)
	if err != nil {
		return unknown(protocol.NetNoInterceptProxy, err.Error())
	}
	proxy, err := g.ProxyFor(req)
	if err != nil {
		return unknown(protocol.NetNoInterceptProxy, err.Error())
	}
	if proxy != nil {
		return fail(protocol.NetNoInterceptProxy, "management traffic routed through proxy "+proxy.Redacted())
	}
	return pass(protocol.NetNoInterceptProxy, "")
}

func (g *Gate) checkRelays(ctx context.Context) protocol.NetworkCheck {
	if len(g.cfg.RelayHosts) == 0 {
		return pass(protocol.NetRelayHostsReachable, "none configured")
	}
	var down []string
	for _, addr := range g.cfg.RelayHosts {
		cctx, cancel := g.withTimeout(ctx)
		err := g.DialTCP(cctx, addr)
		cancel()
		if err != nil {
			down = append(down, addr)
		}
	}
	if len(down) > 0 {
		return fail(protocol.NetRelayHostsReachable, "unreachable: "+strings.Join(down, ","))
	}
	return pass(protocol.NetRelayHostsReachable, fmt.Sprintf("%d reachable", len(g.cfg.RelayHosts)))
}

// Personal.AI order the ending
