// Package agentstate reads and wholesale-clears the agent's persisted state
// directory. Individual state files are never rewritten.
package agentstate

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Store is a view over one agent state directory.
type Store struct {
	dir          string
	configFile   string
	sessionFiles []string
}

func New(h protocol.AgentHandle, agent protocol.AgentConfig) *Store {
	return &Store{
		dir:          h.StateDir,
		configFile:   agent.ConfigFile,
		sessionFiles: agent.SessionFiles,
	}
}

func (s *Store) Dir() string { return s.dir }

// Exists reports whether the state directory holds anything.
func (s *Store) Exists() bool {
	entries, err := os.ReadDir(s.dir)
	return err == nil && len(entries) > 0
}

// RegisteredEndpoint returns the management URL recorded in the agent config,
// if there is one. The agent writes it either as a string or as a serialized
// url.URL object.
func (s *Store) RegisteredEndpoint() (string, bool, error) {
	if s.configFile == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, s.configFile))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !gjson.ValidBytes(data) {
		return "", false, fmt.Errorf("%s is not valid JSON", s.configFile)
	}
	v := gjson.GetBytes(data, "ManagementURL")
	var endpoint string
	switch {
	case v.Type == gjson.String:
		endpoint = v.String()
	case v.IsObject():
		host := v.Get("Host").String()
		if host != "" {
			scheme := v.Get("Scheme").String()
			if scheme == "" {
				scheme = "https"
			}
			endpoint = scheme + "://" + host
		}
	}
	return endpoint, endpoint != "", nil
}

// ClearSession removes the transient session files only.
func (s *Store) ClearSession() error {
	if err := s.guard(); err != nil {
		return err
	}
	for _, name := range s.sessionFiles {
		p := filepath.Join(s.dir, name)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return apperrors.New(apperrors.ErrCodeStateClear, "ClearSession", p, err)
		}
	}
	return nil
}

// ClearAll removes every entry of the state directory, keeping the directory.
func (s *Store) ClearAll() error {
	if err := s.guard(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStateClear, "ClearAll", s.dir, err)
	}
	for _, e := range entries {
		p := filepath.Join(s.dir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			return apperrors.New(apperrors.ErrCodeStateClear, "ClearAll", p, err)
		}
	}
	return nil
}

func (s *Store) guard() error {
	clean := filepath.Clean(s.dir)
	if s.dir == "" || clean == string(filepath.Separator) || clean == "." || filepath.VolumeName(clean)+string(filepath.Separator) == clean {
		return apperrors.New(apperrors.ErrCodeStateClear, "Clear", fmt.Sprintf("refusing to clear %q", s.dir), nil)
	}
	return nil
}

// SameEndpoint compares two management URLs by scheme-default host:port.
func SameEndpoint(a, b string) bool {
	na, oka := normalize(a)
	nb, okb := normalize(b)
	if !oka || !okb {
		return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
	}
	return na == nb
}

func normalize(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}
	return net.JoinHostPort(host, port), true
}

// Personal.AI order the ending
