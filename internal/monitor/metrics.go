package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Metrics holds the collectors for one convergence run on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Attempts counts registration attempts by outcome and error kind.
	Attempts *prometheus.CounterVec
	// Recoveries counts executed recovery actions.
	Recoveries *prometheus.CounterVec
	// Transitions counts state machine transitions.
	Transitions *prometheus.CounterVec
	// Results counts terminal results by error kind.
	Results *prometheus.CounterVec
	// Duration tracks the wall time of a run in seconds.
	Duration prometheus.Histogram
}

// New creates and registers the run collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshconverge_registration_attempts_total",
			Help: "Registration attempts by outcome and error kind",
		}, []string{"outcome", "kind"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshconverge_recovery_actions_total",
			Help: "Recovery actions executed",
		}, []string{"action"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshconverge_state_transitions_total",
			Help: "Orchestrator state transitions",
		}, []string{"from", "to"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshconverge_results_total",
			Help: "Terminal convergence results by error kind",
		}, []string{"kind"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshconverge_convergence_duration_seconds",
			Help:    "Time taken for a convergence run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
	m.Registry.MustRegister(m.Attempts, m.Recoveries, m.Transitions, m.Results, m.Duration)
	return m
}

func (m *Metrics) ObserveAttempt(a protocol.RegistrationAttempt) {
	outcome := "failure"
	if a.Success {
		outcome = "success"
	}
	m.Attempts.WithLabelValues(outcome, a.Kind.String()).Inc()
}

func (m *Metrics) ObserveRecovery(action protocol.RecoveryAction) {
	m.Recoveries.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveResult(r protocol.ConvergenceResult) {
	kind := r.LastErrorKind
	if r.Success {
		kind = apperrors.KindNone
	}
	m.Results.WithLabelValues(kind.String()).Inc()
	m.Duration.Observe(r.Duration.Seconds())
}

// Serve exposes the registry on addr under /metrics. It returns the bound
// address and a function that shuts the listener down.
func (m *Metrics) Serve(addr string) (string, func(context.Context) error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, apperrors.New(apperrors.ErrCodeMetricsWrite, "Serve", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}

	go func() {
		logger.Log.Info("Metrics server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
	return ln.Addr().String(), srv.Shutdown, nil
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return apperrors.New(apperrors.ErrCodeMetricsWrite, "WriteTextfile", path, err)
	}
	return nil
}

// Personal.AI order the ending
