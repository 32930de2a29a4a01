package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLogFile(t *testing.T, dir, target string, lines []string) string {
	t.Helper()
	logDir := filepath.Join(dir, ".poltergeist", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}
	path := filepath.Join(logDir, target+".log")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	return path
}

func TestRunLogs_AllTargets(t *testing.T) {
	tempDir := t.TempDir()
	withProjectRoot(t, tempDir)

	writeLogFile(t, tempDir, "target1", []string{"build started", "build completed"})
	writeLogFile(t, tempDir, "target2", []string{"build started", "compile error"})

	if err := runLogs("", false, 50); err != nil {
		t.Errorf("runLogs() error = %v", err)
	}
}

func TestRunLogs_SpecificTarget(t *testing.T) {
	tempDir := t.TempDir()
	withProjectRoot(t, tempDir)

	writeLogFile(t, tempDir, "target1", []string{"build started", "build completed"})

	if err := runLogs("target1", false, 50); err != nil {
		t.Errorf("runLogs() error = %v", err)
	}
}

func TestRunLogs_NonexistentTarget(t *testing.T) {
	tempDir := t.TempDir()
	withProjectRoot(t, tempDir)

	writeLogFile(t, tempDir, "target1", []string{"build started"})

	if err := runLogs("missing", false, 50); err == nil {
		t.Error("runLogs() expected an error for a target with no log file")
	}
}

func TestRunLogs_NoLogDirectory(t *testing.T) {
	withProjectRoot(t, t.TempDir())

	if err := runLogs("", false, 50); err != nil {
		t.Errorf("runLogs() should warn, not error, when no logs exist yet: %v", err)
	}
}

func TestRunLogs_EmptyLogDirectory(t *testing.T) {
	tempDir := t.TempDir()
	withProjectRoot(t, tempDir)

	logDir := filepath.Join(tempDir, ".poltergeist", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("mkdir log dir: %v", err)
	}

	if err := runLogs("", false, 50); err != nil {
		t.Errorf("runLogs() should handle an empty log directory: %v", err)
	}
}

func TestReadLastNLines(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "build.log")

	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("entry %d", i))
	}
	if err := os.WriteFile(logFile, []byte(joinLines(lines)), 0644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	content, err := readLastNLines(logFile, 5)
	if err != nil {
		t.Fatalf("readLastNLines() error = %v", err)
	}

	for _, want := range lines[15:] {
		if !strings.Contains(content, want) {
			t.Errorf("readLastNLines() missing expected tail line %q in %q", want, content)
		}
	}
	if strings.Contains(content, "entry 0\n") {
		t.Error("readLastNLines() should not include lines before the requested window")
	}
}

func TestReadLastNLines_FewerThanRequested(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "build.log")
	if err := os.WriteFile(logFile, []byte("only one line\n"), 0644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	content, err := readLastNLines(logFile, 50)
	if err != nil {
		t.Fatalf("readLastNLines() error = %v", err)
	}
	if !strings.Contains(content, "only one line") {
		t.Errorf("readLastNLines() = %q, want it to contain the single line", content)
	}
}

func TestReadLastNLines_NonexistentFile(t *testing.T) {
	if _, err := readLastNLines(filepath.Join(t.TempDir(), "missing.log"), 10); err == nil {
		t.Error("readLastNLines() expected an error for a missing file")
	}
}

func TestDisplayLogFile(t *testing.T) {
	tempDir := t.TempDir()
	logFile := writeLogFile(t, tempDir, "target1", []string{"build started", "build completed"})

	if err := displayLogFile(logFile, 10, false); err != nil {
		t.Errorf("displayLogFile() error = %v", err)
	}
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}
