package state_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wisptrack/poltergeist/internal/state"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

type mockTarget struct {
	name string
	typ  types.TargetType
}

func (m *mockTarget) GetName() string                   { return m.name }
func (m *mockTarget) GetType() types.TargetType         { return m.typ }
func (m *mockTarget) IsEnabled() bool                   { return true }
func (m *mockTarget) GetBuildCommand() string           { return "build" }
func (m *mockTarget) GetWatchPaths() []string           { return []string{"*"} }
func (m *mockTarget) GetSettlingDelay() int              { return 100 }
func (m *mockTarget) GetAutoRun() *types.AutoRunConfig  { return nil }
func (m *mockTarget) GetOutputPath() string             { return "" }
func (m *mockTarget) GetEnvironment() map[string]string { return nil }
func (m *mockTarget) GetMaxRetries() int                { return 3 }
func (m *mockTarget) GetIcon() string                   { return "" }

func newTestManager(t *testing.T) (*state.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := state.NewManager(state.Config{
		ProjectRoot: dir,
		StateDir:    filepath.Join(dir, ".poltergeist", "state"),
	}, logger.NewSimpleLogger("", "error"))
	return mgr, dir
}

func TestInitializeStateWritesDeterministicFilename(t *testing.T) {
	mgr, dir := newTestManager(t)
	target := &mockTarget{name: "cli", typ: types.TargetTypeExecutable}

	s, err := mgr.InitializeState(target)
	if err != nil {
		t.Fatalf("InitializeState: %v", err)
	}
	if s.Target != "cli" {
		t.Errorf("expected target cli, got %s", s.Target)
	}
	if s.Process.PID != os.Getpid() {
		t.Errorf("expected current pid, got %d", s.Process.PID)
	}

	entries, err := os.ReadDir(filepath.Join(dir, ".poltergeist", "state"))
	if err != nil {
		t.Fatalf("read state dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one state file, got %d", len(entries))
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".state" {
		t.Errorf("expected .state extension, got %s", name)
	}
}

func TestReadStateLenientOnCorruption(t *testing.T) {
	mgr, dir := newTestManager(t)
	target := &mockTarget{name: "cli", typ: types.TargetTypeExecutable}
	if _, err := mgr.InitializeState(target); err != nil {
		t.Fatalf("InitializeState: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, ".poltergeist", "state"))
	path := filepath.Join(dir, ".poltergeist", "state", entries[0].Name())
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt state file: %v", err)
	}

	// Fresh manager to bypass the in-memory cache.
	mgr2, _ := newTestManager(t)
	_ = mgr2

	freshMgr := state.NewManager(state.Config{
		ProjectRoot: dir,
		StateDir:    filepath.Join(dir, ".poltergeist", "state"),
	}, logger.NewSimpleLogger("", "error"))

	s, err := freshMgr.ReadState("cli")
	if err != nil {
		t.Fatalf("lenient ReadState must not error, got: %v", err)
	}
	if s != nil {
		t.Errorf("expected nil state for corrupt file, got %+v", s)
	}

	if _, err := freshMgr.ReadStateStrict("cli"); err == nil {
		t.Error("expected ReadStateStrict to surface the parse error")
	}
}

func TestIsLockedOwnedBySelf(t *testing.T) {
	mgr, _ := newTestManager(t)
	target := &mockTarget{name: "cli", typ: types.TargetTypeExecutable}
	if _, err := mgr.InitializeState(target); err != nil {
		t.Fatalf("InitializeState: %v", err)
	}

	locked, err := mgr.IsLocked("cli")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Error("state owned by self must never be locked")
	}
}

func TestIsLockedNoState(t *testing.T) {
	mgr, _ := newTestManager(t)
	locked, err := mgr.IsLocked("missing")
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Error("missing state must not be locked")
	}
}

func TestUpdateBuildStatusPersists(t *testing.T) {
	mgr, _ := newTestManager(t)
	target := &mockTarget{name: "cli", typ: types.TargetTypeExecutable}
	if _, err := mgr.InitializeState(target); err != nil {
		t.Fatalf("InitializeState: %v", err)
	}

	status := types.BuildStatus{Status: types.BuildStateSuccess, Timestamp: time.Now()}
	if err := mgr.UpdateBuildStatus("cli", status); err != nil {
		t.Fatalf("UpdateBuildStatus: %v", err)
	}

	s, err := mgr.ReadState("cli")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if s.LastBuild == nil || s.LastBuild.Status != types.BuildStateSuccess {
		t.Errorf("expected persisted success status, got %+v", s.LastBuild)
	}
}

func TestDiscoverStatesScopesToProject(t *testing.T) {
	mgr, _ := newTestManager(t)
	for _, name := range []string{"a", "b"} {
		if _, err := mgr.InitializeState(&mockTarget{name: name, typ: types.TargetTypeExecutable}); err != nil {
			t.Fatalf("InitializeState(%s): %v", name, err)
		}
	}

	found, err := mgr.DiscoverStates()
	if err != nil {
		t.Fatalf("DiscoverStates: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 states, got %d", len(found))
	}
}

func TestStopHeartbeatMarksStateInactive(t *testing.T) {
	mgr, _ := newTestManager(t)
	target := &mockTarget{name: "cli", typ: types.TargetTypeExecutable}
	before, err := mgr.InitializeState(target)
	if err != nil {
		t.Fatalf("InitializeState: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.StartHeartbeat(ctx)
	time.Sleep(20 * time.Millisecond)
	mgr.StopHeartbeat()

	after, err := mgr.ReadState("cli")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if after.Process.IsActive {
		t.Error("StopHeartbeat must flush isActive=false")
	}
	_ = before
}
