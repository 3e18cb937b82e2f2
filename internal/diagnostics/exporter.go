// Package diagnostics writes a post-mortem report when a run fails.
package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/logger"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Report is the diagnostics document. It never contains the credential.
type Report struct {
	RunID         string                         `json:"run_id"`
	GeneratedAt   time.Time                      `json:"generated_at"`
	Handle        protocol.AgentHandle           `json:"handle"`
	Endpoint      string                         `json:"endpoint,omitempty"`
	Reason        string                         `json:"reason"`
	LastErrorKind apperrors.ErrorKind            `json:"last_error_kind"`
	ServiceState  string                         `json:"service_state"`
	LastStatus    *protocol.StatusSnapshot       `json:"last_status,omitempty"`
	Readiness     *protocol.ReadinessResult      `json:"readiness,omitempty"`
	Network       *protocol.NetworkReport        `json:"network,omitempty"`
	Prereq        *protocol.PrereqReport         `json:"prereq,omitempty"`
	Attempts      []protocol.RegistrationAttempt `json:"attempts"`
	Recoveries    []protocol.RecoveryRecord      `json:"recoveries"`
	Transitions   []protocol.StateTransition     `json:"transitions"`
}

// Exporter writes reports to a fixed path.
type Exporter struct {
	path string
	log  logger.Logger
}

func New(path string) *Exporter {
	return &Exporter{path: path, log: logger.Log.With("component", "diagnostics")}
}

func (e *Exporter) Path() string { return e.path }

// Export writes r atomically with owner-only permissions and returns the path.
func (e *Exporter) Export(r Report) (string, error) {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeDiagnosticsWrite, "Export", "marshal report", err)
	}
	if err := writeAtomic(e.path, data); err != nil {
		return "", apperrors.New(apperrors.ErrCodeDiagnosticsWrite, "Export", e.path, err)
	}
	e.log.Info("Diagnostics written", "path", e.path, "kind", r.LastErrorKind)
	return e.path, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Personal.AI order the ending
