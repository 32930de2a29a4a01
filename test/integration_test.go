// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wisptrack/poltergeist/internal/engine"
	"github.com/wisptrack/poltergeist/internal/state"
	"github.com/wisptrack/poltergeist/pkg/config"
	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

func newStateManager(tmpDir string, log logger.Logger) interfaces.StateManager {
	return state.NewManager(state.Config{ProjectRoot: tmpDir}, log)
}

// depsFor builds a full dependency set for cfg via the default factory,
// overriding the state manager so callers can inspect persisted state.
func depsFor(cfg *types.PoltergeistConfig, tmpDir string, log logger.Logger, sm interfaces.StateManager) interfaces.PoltergeistDependencies {
	factory := engine.NewDependencyFactory(tmpDir, log, cfg)
	return factory.CreateWithOverrides(interfaces.PoltergeistDependencies{StateManager: sm})
}

func rawTarget(t *testing.T, fields map[string]interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal target: %v", err)
	}
	return data
}

// TestEndToEndBuild tests a complete build cycle
func TestEndToEndBuild(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	mainFile := filepath.Join(tmpDir, "main.go")
	if err := os.WriteFile(mainFile, []byte(`
		package main
		import "fmt"
		func main() { fmt.Println("Hello, Poltergeist!") }
	`), 0644); err != nil {
		t.Fatalf("failed to create main.go: %v", err)
	}

	cfg := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectType("go"),
		Targets: []json.RawMessage{
			rawTarget(t, map[string]interface{}{
				"name":         "main",
				"type":         "executable",
				"buildCommand": "go build -o main main.go",
				"watchPaths":   []string{"*.go"},
				"outputPath":   "main",
			}),
		},
	}

	log := logger.CreateLogger("", "info")
	deps := depsFor(cfg, tmpDir, log, newStateManager(tmpDir, log))

	p := engine.New(cfg, tmpDir, log, deps, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	time.Sleep(2 * time.Second)

	if err := os.WriteFile(mainFile, []byte(`
		package main
		import "fmt"
		func main() { fmt.Println("Updated!") }
	`), 0644); err != nil {
		t.Fatalf("failed to update main.go: %v", err)
	}

	time.Sleep(2 * time.Second)

	p.StopWithContext(context.Background())

	outputPath := filepath.Join(tmpDir, "main")
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Error("expected output binary to be created")
	}
}

// TestMultiTargetBuilds tests building multiple targets concurrently
func TestMultiTargetBuilds(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	files := map[string]string{
		"cmd1/main.go": `package main; func main() { println("cmd1") }`,
		"cmd2/main.go": `package main; func main() { println("cmd2") }`,
		"cmd3/main.go": `package main; func main() { println("cmd3") }`,
	}
	for path, content := range files {
		fullPath := filepath.Join(tmpDir, path)
		os.MkdirAll(filepath.Dir(fullPath), 0755)
		os.WriteFile(fullPath, []byte(content), 0644)
	}

	var targets []json.RawMessage
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("cmd%d", i)
		targets = append(targets, rawTarget(t, map[string]interface{}{
			"name":         name,
			"type":         "executable",
			"buildCommand": fmt.Sprintf("go build -o %s %s/main.go", name, name),
			"watchPaths":   []string{name + "/*.go"},
			"outputPath":   name,
		}))
	}

	cfg := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectType("go"),
		Targets:     targets,
		BuildScheduling: &types.BuildSchedulingConfig{
			Parallelization: 3,
			Prioritization:  types.BuildPrioritization{Enabled: true},
		},
	}

	log := logger.CreateLogger("", "info")
	stateManager := newStateManager(tmpDir, log)
	deps := depsFor(cfg, tmpDir, log, stateManager)

	p := engine.New(cfg, tmpDir, log, deps, "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	time.Sleep(5 * time.Second)

	for i := 1; i <= 3; i++ {
		outputPath := filepath.Join(tmpDir, fmt.Sprintf("cmd%d", i))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			t.Errorf("expected cmd%d to be built", i)
		}
	}

	p.StopWithContext(context.Background())
}

// TestBuildFailureRecovery tests recovery from build failures
func TestBuildFailureRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	mainFile := filepath.Join(tmpDir, "main.go")
	os.WriteFile(mainFile, []byte(`
		package main
		func main() {
			println("missing closing
		}
	`), 0644)

	cfg := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectType("go"),
		Targets: []json.RawMessage{
			rawTarget(t, map[string]interface{}{
				"name":         "main",
				"type":         "executable",
				"buildCommand": "go build -o main main.go",
				"watchPaths":   []string{"*.go"},
				"outputPath":   "main",
				"maxRetries":   2,
			}),
		},
	}

	log := logger.CreateLogger("", "info")
	deps := depsFor(cfg, tmpDir, log, newStateManager(tmpDir, log))

	p := engine.New(cfg, tmpDir, log, deps, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	time.Sleep(2 * time.Second)

	os.WriteFile(mainFile, []byte(`
		package main
		func main() {
			println("fixed!")
		}
	`), 0644)

	time.Sleep(3 * time.Second)

	outputPath := filepath.Join(tmpDir, "main")
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Error("expected build to succeed after fixing error")
	}

	p.StopWithContext(context.Background())
}

// TestStatePersistence tests state persistence across restarts
func TestStatePersistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	cfg := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectType("go"),
		Targets: []json.RawMessage{
			rawTarget(t, map[string]interface{}{
				"name":         "test",
				"type":         "executable",
				"buildCommand": "echo building",
				"watchPaths":   []string{"*.go"},
				"outputPath":   "test",
			}),
		},
	}

	log := logger.CreateLogger("", "info")

	sm := newStateManager(tmpDir, log)
	deps := depsFor(cfg, tmpDir, log, sm)

	p := engine.New(cfg, tmpDir, log, deps, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := p.StartWithContext(ctx, ""); err != nil {
		cancel()
		t.Fatalf("failed to start: %v", err)
	}
	time.Sleep(2 * time.Second)

	sm.UpdateBuildStatus("test", types.BuildStatus{Status: types.BuildStateSuccess, Timestamp: time.Now()})

	p.StopWithContext(context.Background())
	cancel()

	sm2 := newStateManager(tmpDir, log)
	persisted, err := sm2.ReadState("test")
	if err != nil {
		t.Fatalf("failed to read persisted state: %v", err)
	}
	if persisted == nil || persisted.LastBuild == nil || persisted.LastBuild.Status != types.BuildStateSuccess {
		t.Errorf("expected build status to be persisted as success, got %+v", persisted)
	}
}

// TestConcurrentFileChanges tests handling of rapid file changes
func TestConcurrentFileChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	for i := 0; i < 10; i++ {
		file := filepath.Join(tmpDir, fmt.Sprintf("file%d.go", i))
		os.WriteFile(file, []byte(fmt.Sprintf("package main\n// File %d", i)), 0644)
	}

	cfg := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectType("go"),
		Targets: []json.RawMessage{
			rawTarget(t, map[string]interface{}{
				"name":          "test",
				"type":          "executable",
				"buildCommand":  "echo building",
				"watchPaths":    []string{"*.go"},
				"outputPath":    "test",
				"settlingDelay": 100,
			}),
		},
	}

	log := logger.CreateLogger("", "info")
	deps := depsFor(cfg, tmpDir, log, newStateManager(tmpDir, log))

	p := engine.New(cfg, tmpDir, log, deps, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	time.Sleep(1 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			file := filepath.Join(tmpDir, fmt.Sprintf("file%d.go", index))
			for j := 0; j < 5; j++ {
				content := fmt.Sprintf("package main\n// File %d, change %d", index, j)
				os.WriteFile(file, []byte(content), 0644)
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	time.Sleep(2 * time.Second)

	// Should handle all changes without crashing.
	p.StopWithContext(context.Background())
}

// TestConfigReload tests configuration hot-reloading
func TestConfigReload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "poltergeist.config.json")

	initialConfig := map[string]interface{}{
		"version":     "1.0",
		"projectType": "go",
		"targets": []map[string]interface{}{
			{
				"name":         "target1",
				"type":         "executable",
				"buildCommand": "echo target1",
				"watchPaths":   []string{"*.go"},
				"outputPath":   "target1",
			},
		},
	}
	data, _ := json.Marshal(initialConfig)
	os.WriteFile(configPath, data, 0644)

	manager := config.NewManager()
	cfg, err := manager.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	log := logger.CreateLogger("", "info")
	deps := depsFor(cfg, tmpDir, log, newStateManager(tmpDir, log))

	p := engine.New(cfg, tmpDir, log, deps, configPath)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	time.Sleep(1 * time.Second)

	updatedConfig := initialConfig
	updatedConfig["targets"] = append(
		updatedConfig["targets"].([]map[string]interface{}),
		map[string]interface{}{
			"name":         "target2",
			"type":         "executable",
			"buildCommand": "echo target2",
			"watchPaths":   []string{"*.js"},
			"outputPath":   "target2",
		},
	)
	data, _ = json.Marshal(updatedConfig)
	os.WriteFile(configPath, data, 0644)

	time.Sleep(2 * time.Second)

	if names := p.TargetNames(); len(names) != 2 {
		t.Errorf("expected config reload to add target2, watched targets: %v", names)
	}

	p.StopWithContext(context.Background())
}

// TestPerformance tests build performance with many targets
func TestPerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	numTargets := 20

	var targets []json.RawMessage
	for i := 0; i < numTargets; i++ {
		name := fmt.Sprintf("target%d", i)
		targets = append(targets, rawTarget(t, map[string]interface{}{
			"name":         name,
			"type":         "executable",
			"buildCommand": fmt.Sprintf("echo building %s", name),
			"watchPaths":   []string{fmt.Sprintf("src%d/*.go", i)},
			"outputPath":   name,
		}))

		srcDir := filepath.Join(tmpDir, fmt.Sprintf("src%d", i))
		os.MkdirAll(srcDir, 0755)
		os.WriteFile(filepath.Join(srcDir, "main.go"), []byte("package main\nfunc main(){}"), 0644)
	}

	cfg := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectType("go"),
		Targets:     targets,
		BuildScheduling: &types.BuildSchedulingConfig{
			Parallelization: 5,
			Prioritization:  types.BuildPrioritization{Enabled: true},
		},
	}

	log := logger.CreateLogger("", "info")
	stateManager := newStateManager(tmpDir, log)
	deps := depsFor(cfg, tmpDir, log, stateManager)

	p := engine.New(cfg, tmpDir, log, deps, "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	time.Sleep(10 * time.Second)

	duration := time.Since(start)
	if duration > 30*time.Second {
		t.Errorf("builds took too long: %v", duration)
	}

	p.StopWithContext(context.Background())
}
