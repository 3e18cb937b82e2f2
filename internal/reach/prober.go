// Package reach probes remote endpoints over HTTP and TCP.
package reach

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/turtacn/meshconverge/pkg/logger"
)

// Prober performs lightweight reachability probes.
type Prober struct {
	http    *retryablehttp.Client
	dialer  *net.Dialer
	timeout time.Duration
}

// New builds a Prober whose requests each time out after timeout and which
// retries transport failures up to retries times.
func New(timeout time.Duration, retries int) *Prober {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = logger.Log.With("component", "reach")
	// Only transport errors are worth retrying; any HTTP status proves the
	// endpoint is there.
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Prober{
		http:    c,
		dialer:  &net.Dialer{Timeout: timeout},
		timeout: timeout,
	}
}

// HTTP issues a GET to url and returns the response status. A server that
// answers at all, with any status, yields err == nil.
func (p *Prober) HTTP(ctx context.Context, url string) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "meshconverge-probe")
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// Reachable reports whether url answers with a non-5xx status. A 4xx is
// reachable: a bare probe of an API root commonly gets one.
func (p *Prober) Reachable(ctx context.Context, url string) (bool, string) {
	code, err := p.HTTP(ctx, url)
	if err != nil {
		return false, err.Error()
	}
	if code >= 500 {
		return false, fmt.Sprintf("HTTP %d", code)
	}
	return true, fmt.Sprintf("HTTP %d", code)
}

// TCP dials addr once.
func (p *Prober) TCP(ctx context.Context, network, addr string) error {
	conn, err := p.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Personal.AI order the ending
