// Package emergency implements the break-glass stop for agent execution: a
// process-wide flag mirrored by an on-disk sentinel file so that any
// cooperating process sharing the working directory can halt the others.
package emergency

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultSentinelPath is the sentinel file checked at every yield point.
const DefaultSentinelPath = ".emergency_stop"

// ErrStopped is returned by Check while the stop is active. The reason is
// attached via StopError.
var ErrStopped = errors.New("emergency stop activated")

// StopError carries the stop reason. It unwraps to ErrStopped.
type StopError struct {
	Reason string
}

func (e *StopError) Error() string {
	if e.Reason == "" {
		return "emergency stop activated"
	}
	return "emergency stop: " + e.Reason
}

func (e *StopError) Unwrap() error { return ErrStopped }

type sentinelRecord struct {
	Stopped   bool   `json:"stopped"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// Stop is the process-wide emergency stop. All mutations go through its
// methods; the sentinel file is re-read on every Check so external triggers
// are observed without signals or watchers.
type Stop struct {
	mu       sync.Mutex
	set      bool
	reason   string
	sentinel string
}

// New creates a Stop using the given sentinel path ("" means
// DefaultSentinelPath). An already-present sentinel activates the stop
// immediately.
func New(sentinelPath string) *Stop {
	if sentinelPath == "" {
		sentinelPath = DefaultSentinelPath
	}
	s := &Stop{sentinel: sentinelPath}
	s.syncFromFile()
	return s
}

// InstallSignalHandlers triggers the stop on SIGINT/SIGTERM. The returned
// function removes the handlers.
func (s *Stop) InstallSignalHandlers() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			s.Trigger("signal: " + sig.String())
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Trigger activates the stop and writes the sentinel so other processes
// observe it.
func (s *Stop) Trigger(reason string) {
	if reason == "" {
		reason = "emergency stop activated"
	}
	s.mu.Lock()
	s.set = true
	s.reason = reason
	sentinel := s.sentinel
	s.mu.Unlock()

	rec := sentinelRecord{Stopped: true, Reason: reason, Timestamp: time.Now().Format(time.RFC3339)}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(sentinel, data, 0o644)
}

// Reset clears the flag and removes the sentinel file.
func (s *Stop) Reset() {
	s.mu.Lock()
	s.set = false
	s.reason = ""
	sentinel := s.sentinel
	s.mu.Unlock()
	_ = os.Remove(sentinel)
}

// IsSet reports whether the stop is active, consulting the sentinel file
// first so stops triggered by other processes are picked up.
func (s *Stop) IsSet() bool {
	s.syncFromFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Reason returns the stop reason, or "" when not stopped.
func (s *Stop) Reason() string {
	s.syncFromFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Check is the non-blocking poll invoked at every yield point. It returns a
// *StopError when the stop is active and nil otherwise.
func (s *Stop) Check() error {
	if !s.IsSet() {
		return nil
	}
	return &StopError{Reason: s.Reason()}
}

func (s *Stop) syncFromFile() {
	s.mu.Lock()
	sentinel := s.sentinel
	alreadySet := s.set
	s.mu.Unlock()
	if alreadySet {
		return
	}

	data, err := os.ReadFile(sentinel)
	if err != nil {
		return
	}
	reason := "stop file detected"
	var rec sentinelRecord
	if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil && rec.Reason != "" {
		reason = rec.Reason
	} else if !json.Valid(data) && len(data) > 0 {
		// Plain-text sentinel: contents are the reason.
		reason = strings.TrimSpace(string(data))
		if reason == "" {
			reason = "stop file detected"
		}
	}
	s.mu.Lock()
	s.set = true
	s.reason = reason
	s.mu.Unlock()
}
