// Package daemon tracks a background `bugflow serve` process through a state
// file holding its PID, listen address and start time.
package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// State is what a running server records about itself.
type State struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Uptime is how long the server has been running at now.
func (s State) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt).Truncate(time.Second)
}

// PIDFile manages the state file of a background server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process listening on addr.
func (p *PIDFile) Write(addr string) error {
	return p.WriteState(State{PID: os.Getpid(), Addr: addr, StartedAt: time.Now().UTC()})
}

// WriteState writes s, creating the parent directory when needed.
func (p *PIDFile) WriteState(s State) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(p.Path, append(data, '\n'), 0o644)
}

// ReadState reads the recorded state. A file holding a bare PID is accepted.
func (p *PIDFile) ReadState() (State, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return State{}, err
	}
	trimmed := strings.TrimSpace(string(data))

	var s State
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return State{}, fmt.Errorf("invalid PID file content: %w", err)
		}
	} else {
		pid, err := strconv.Atoi(trimmed)
		if err != nil {
			return State{}, fmt.Errorf("invalid PID file content: %w", err)
		}
		s.PID = pid
	}
	if s.PID <= 0 {
		return State{}, fmt.Errorf("invalid PID file content: pid %d", s.PID)
	}
	return s, nil
}

// Read returns just the recorded PID.
func (p *PIDFile) Read() (int, error) {
	s, err := p.ReadState()
	if err != nil {
		return 0, err
	}
	return s.PID, nil
}

// Remove deletes the state file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WaitExit polls until the recorded process is gone or timeout passes.
func (p *PIDFile) WaitExit(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, running := p.IsRunning(); !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
