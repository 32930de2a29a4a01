package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/wisptrack/poltergeist/pkg/types"
)

func writeConfig(t *testing.T, dir string, cfg types.PoltergeistConfig) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "poltergeist.config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func withProjectRoot(t *testing.T, dir string) {
	t.Helper()
	original := projectRoot
	projectRoot = dir
	t.Cleanup(func() { projectRoot = original })
}

func TestDetectProjectType(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		expected string
	}{
		{"swift project", "Package.swift", "swift"},
		{"node project", "package.json", "node"},
		{"rust project", "Cargo.toml", "rust"},
		{"python project", "pyproject.toml", "python"},
		{"cmake project", "CMakeLists.txt", "cmake"},
		{"mixed project", "Makefile", "mixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			withProjectRoot(t, tmpDir)

			if err := os.WriteFile(filepath.Join(tmpDir, tt.file), []byte("test"), 0644); err != nil {
				t.Fatalf("write project file: %v", err)
			}

			if got := detectProjectType(); got != tt.expected {
				t.Errorf("detectProjectType() = %q, want %q", got, tt.expected)
			}
		})
	}

	t.Run("no markers found", func(t *testing.T) {
		withProjectRoot(t, t.TempDir())
		if got := detectProjectType(); got != "" {
			t.Errorf("detectProjectType() = %q, want empty string", got)
		}
	})
}

func TestRunList(t *testing.T) {
	tmpDir := t.TempDir()
	withProjectRoot(t, tmpDir)

	target, _ := json.Marshal(types.NpmTarget{
		BaseTarget: types.BaseTarget{
			Name:         "web",
			Type:         types.TargetTypeNpm,
			WatchPaths:   []string{"src/**/*.ts"},
			BuildCommand: "npm run build",
		},
		Script: "build",
	})
	writeConfig(t, tmpDir, types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectTypeNode,
		Targets:     []json.RawMessage{target},
	})

	if err := runList(); err != nil {
		t.Errorf("runList() error = %v", err)
	}
}

func TestRunListMissingConfig(t *testing.T) {
	withProjectRoot(t, t.TempDir())

	if err := runList(); err == nil {
		t.Error("runList() expected an error when no config file is present")
	}
}

func TestRunStatus(t *testing.T) {
	tmpDir := t.TempDir()
	withProjectRoot(t, tmpDir)

	target, _ := json.Marshal(types.NpmTarget{
		BaseTarget: types.BaseTarget{
			Name:         "web",
			Type:         types.TargetTypeNpm,
			WatchPaths:   []string{"src/**/*.ts"},
			BuildCommand: "npm run build",
		},
		Script: "build",
	})
	writeConfig(t, tmpDir, types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectTypeNode,
		Targets:     []json.RawMessage{target},
	})

	if err := runStatus(); err != nil {
		t.Errorf("runStatus() error = %v", err)
	}
}

func TestRunValidate(t *testing.T) {
	tests := []struct {
		name        string
		target      interface{}
		shouldError bool
	}{
		{
			name: "valid target",
			target: types.NpmTarget{
				BaseTarget: types.BaseTarget{
					Name:         "web",
					Type:         types.TargetTypeNpm,
					WatchPaths:   []string{"src/**/*.ts"},
					BuildCommand: "npm run build",
				},
				Script: "build",
			},
			shouldError: false,
		},
		{
			name: "missing build command",
			target: types.NpmTarget{
				BaseTarget: types.BaseTarget{
					Name:       "web",
					Type:       types.TargetTypeNpm,
					WatchPaths: []string{"src/**/*.ts"},
				},
				Script: "build",
			},
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			withProjectRoot(t, tmpDir)

			raw, err := json.Marshal(tt.target)
			if err != nil {
				t.Fatalf("marshal target: %v", err)
			}
			writeConfig(t, tmpDir, types.PoltergeistConfig{
				Version:     "1.0",
				ProjectType: types.ProjectTypeNode,
				Targets:     []json.RawMessage{raw},
			})

			err = runValidate()
			if tt.shouldError && err == nil {
				t.Error("runValidate() expected an error but got none")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("runValidate() unexpected error: %v", err)
			}
		})
	}
}

func TestRunClean(t *testing.T) {
	tmpDir := t.TempDir()
	withProjectRoot(t, tmpDir)

	stateDir := filepath.Join(tmpDir, ".poltergeist")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "daemon.pid"), []byte("1234"), 0644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	if err := runClean(); err != nil {
		t.Fatalf("runClean() error = %v", err)
	}

	if _, err := os.Stat(stateDir); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", stateDir)
	}
}

func TestRunDaemonCommandsNotImplemented(t *testing.T) {
	for _, fn := range []func() error{runDaemonStart, runDaemonStop, runDaemonRestart} {
		if err := fn(); err == nil {
			t.Error("expected daemon command to report not-implemented error")
		}
	}
	if err := runDaemonStatus(); err != nil {
		t.Errorf("runDaemonStatus() error = %v", err)
	}
}
