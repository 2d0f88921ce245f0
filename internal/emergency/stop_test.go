package emergency

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func sentinelPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".emergency_stop")
}

func TestCheckCleanIsNil(t *testing.T) {
	s := New(sentinelPath(t))
	if s.IsSet() {
		t.Error("fresh stop reports active")
	}
	if got := s.Reason(); got != "" {
		t.Errorf("Reason() = %q, want empty", got)
	}
	if err := s.Check(); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestTriggerAndCheck(t *testing.T) {
	s := New(sentinelPath(t))
	s.Trigger("maintenance window")

	if !s.IsSet() {
		t.Fatal("stop not active after Trigger")
	}
	if got := s.Reason(); got != "maintenance window" {
		t.Errorf("Reason() = %q", got)
	}

	err := s.Check()
	if err == nil {
		t.Fatal("Check() = nil, want StopError")
	}
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Check() error does not unwrap to ErrStopped: %v", err)
	}
	var stopErr *StopError
	if !errors.As(err, &stopErr) || stopErr.Reason != "maintenance window" {
		t.Errorf("Check() = %v, want StopError with reason", err)
	}
	if got := err.Error(); got != "emergency stop: maintenance window" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTriggerDefaultsReason(t *testing.T) {
	s := New(sentinelPath(t))
	s.Trigger("")
	if got := s.Reason(); got != "emergency stop activated" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestSentinelSharedAcrossInstances(t *testing.T) {
	path := sentinelPath(t)
	New(path).Trigger("triggered elsewhere")

	other := New(path)
	if !other.IsSet() {
		t.Fatal("second instance does not observe the sentinel")
	}
	if got := other.Reason(); got != "triggered elsewhere" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestResetClearsFlagAndSentinel(t *testing.T) {
	path := sentinelPath(t)
	s := New(path)
	s.Trigger("oops")
	s.Reset()

	if s.IsSet() {
		t.Error("stop still active after Reset")
	}
	if err := s.Check(); err != nil {
		t.Errorf("Check() after Reset = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("sentinel file still present: %v", err)
	}
	if New(path).IsSet() {
		t.Error("fresh instance sees a stop after Reset")
	}
}

func TestPlainTextSentinel(t *testing.T) {
	path := sentinelPath(t)
	if err := os.WriteFile(path, []byte("disk full\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	if !s.IsSet() {
		t.Fatal("plain-text sentinel ignored")
	}
	if got := s.Reason(); got != "disk full" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestEmptySentinelUsesFallbackReason(t *testing.T) {
	path := sentinelPath(t)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(path)
	if !s.IsSet() {
		t.Fatal("empty sentinel ignored")
	}
	if got := s.Reason(); got != "stop file detected" {
		t.Errorf("Reason() = %q", got)
	}
}

func TestInstallSignalHandlers(t *testing.T) {
	s := New(sentinelPath(t))
	uninstall := s.InstallSignalHandlers()
	defer uninstall()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !s.IsSet() {
		if time.Now().After(deadline) {
			t.Fatal("signal did not trigger the stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Reason(); !strings.HasPrefix(got, "signal: ") {
		t.Errorf("Reason() = %q, want signal prefix", got)
	}
}
