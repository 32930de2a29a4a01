package autorun

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

func testLogger() logger.Logger {
	return logger.NewSimpleLogger("", "error")
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestController_LaunchesOnFirstSuccess(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "run.sh", "#!/bin/sh\nsleep 5\n")

	enabled := true
	c := New("svc", dir, bin, &types.AutoRunConfig{Enabled: &enabled}, testLogger())

	c.OnBuildSuccess()
	time.Sleep(50 * time.Millisecond)

	if got := c.State(); got != StateRunning {
		t.Errorf("expected running, got %v", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("expected idle after stop, got %v", got)
	}
}

func TestController_MissingBinaryStaysIdle(t *testing.T) {
	dir := t.TempDir()
	enabled := true
	c := New("svc", dir, "nonexistent", &types.AutoRunConfig{Enabled: &enabled}, testLogger())

	c.OnBuildSuccess()
	time.Sleep(20 * time.Millisecond)

	if got := c.State(); got != StateIdle {
		t.Errorf("expected idle, got %v", got)
	}
}

func TestController_SecondSuccessCoalescesIntoOneRestart(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "run.sh", "#!/bin/sh\nsleep 5\n")

	delay := 30
	enabled := true
	c := New("svc", dir, bin, &types.AutoRunConfig{Enabled: &enabled, RestartDelayMs: &delay}, testLogger())

	c.OnBuildSuccess()
	time.Sleep(50 * time.Millisecond)
	if got := c.State(); got != StateRunning {
		t.Fatalf("expected running before restart, got %v", got)
	}

	c.OnBuildSuccess()
	c.OnBuildSuccess()

	if got := c.State(); got != StateRestartPending {
		t.Errorf("expected restart-pending immediately after second success, got %v", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := c.State(); got != StateRunning {
		t.Errorf("expected running again after the coalesced restart, got %v", got)
	}

	c.Stop()
}
