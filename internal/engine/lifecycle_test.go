package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/mocks"
	"github.com/wisptrack/poltergeist/pkg/types"
)

func testTarget(name string) types.Target {
	enabled := true
	return &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name:         name,
			Type:         types.TargetTypeExecutable,
			Enabled:      &enabled,
			BuildCommand: "go build -o " + name,
			WatchPaths:   []string{"**/*.go"},
			OutputPath:   "./" + name,
		},
	}
}

func mustMarshalTarget(t *testing.T, name string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"name":         name,
		"type":         "executable",
		"buildCommand": "go build -o " + name,
		"watchPaths":   []string{"**/*.go"},
		"outputPath":   "./" + name,
	})
	if err != nil {
		t.Fatalf("marshal target: %v", err)
	}
	return raw
}

func newTestLifecycle() (*TargetLifecycle, *mocks.MockBuilderFactory, *mocks.MockStateManager) {
	factory := mocks.NewMockBuilderFactory()
	stateManager := mocks.NewMockStateManager()
	lifecycle := NewTargetLifecycle("/project", logger.NewSimpleLogger("", "error"), factory, stateManager)
	return lifecycle, factory, stateManager
}

func TestTargetLifecycle_AddTargetsRegistersAndInitializesState(t *testing.T) {
	lifecycle, _, stateManager := newTestLifecycle()

	records, err := lifecycle.AddTargets([]types.Target{testTarget("app")}, func(string, []string) {})
	if err != nil {
		t.Fatalf("AddTargets: %v", err)
	}
	if len(records) != 1 || records[0].Target.GetName() != "app" {
		t.Fatalf("expected one record for app, got %+v", records)
	}

	persisted, err := stateManager.ReadState("app")
	if err != nil || persisted == nil {
		t.Errorf("expected state to be initialized for app, err=%v", err)
	}

	record, ok := lifecycle.Get("app")
	if !ok || record.Debouncer == nil {
		t.Fatalf("expected app to be registered with a debouncer")
	}
}

func TestTargetLifecycle_OnSettledForwardsTargetName(t *testing.T) {
	lifecycle, _, _ := newTestLifecycle()

	settledFor := make(chan string, 1)
	_, err := lifecycle.AddTargets([]types.Target{testTarget("app")}, func(name string, files []string) {
		settledFor <- name
	})
	if err != nil {
		t.Fatalf("AddTargets: %v", err)
	}

	record, _ := lifecycle.Get("app")
	record.Debouncer.delay = time.Millisecond
	record.Debouncer.Add([]string{"main.go"})

	select {
	case name := <-settledFor:
		if name != "app" {
			t.Errorf("expected settle callback for app, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("debouncer never settled")
	}
}

func TestTargetLifecycle_RemoveTargetsStopsAndDeletes(t *testing.T) {
	lifecycle, _, _ := newTestLifecycle()

	if _, err := lifecycle.AddTargets([]types.Target{testTarget("app")}, func(string, []string) {}); err != nil {
		t.Fatalf("AddTargets: %v", err)
	}

	lifecycle.RemoveTargets([]string{"app"})

	if _, ok := lifecycle.Get("app"); ok {
		t.Errorf("expected app to be removed from the lifecycle")
	}
}

func TestTargetLifecycle_InitTargetsFiltersToNamedTarget(t *testing.T) {
	lifecycle, _, _ := newTestLifecycle()

	raw := []json.RawMessage{
		mustMarshalTarget(t, "app"),
		mustMarshalTarget(t, "worker"),
	}

	records, err := lifecycle.InitTargets(raw, "worker", func(string, []string) {})
	if err != nil {
		t.Fatalf("InitTargets: %v", err)
	}
	if len(records) != 1 || records[0].Target.GetName() != "worker" {
		t.Fatalf("expected only worker to be initialized, got %+v", records)
	}
}
