// Package freshness implements the read-only binary-vs-build-vs-git-HEAD
// check used by the CLI and by dashboards to answer "is this artifact
// still good?" without triggering a rebuild.
package freshness

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wisptrack/poltergeist/internal/state"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// Reader is the subset of the State Store freshness needs. Satisfied by
// *state.Manager; kept as an interface so freshness can be tested without
// touching disk.
type Reader interface {
	ReadState(targetName string) (*state.PersistedState, error)
}

// IsBinaryFresh reports whether binaryPath still reflects the last
// successful build recorded for targetName. When that build recorded a
// git hash, HEAD must still equal it and the working tree must be clean;
// with no recorded hash, git is not consulted. Every failure mode
// returns false (fail-closed), including errors invoking git.
func IsBinaryFresh(reader Reader, projectRoot, targetName, binaryPath string) bool {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return false
	}

	persisted, err := reader.ReadState(targetName)
	if err != nil || persisted == nil || persisted.LastBuild == nil {
		return false
	}
	if persisted.LastBuild.Status != types.BuildStateSuccess {
		return false
	}

	buildTime := persisted.LastBuild.Timestamp
	if info.ModTime().Add(time.Millisecond).Before(buildTime) {
		return false
	}

	if persisted.LastBuild.GitHash == "" {
		return true
	}

	head, err := gitHead(projectRoot)
	if err != nil || head != persisted.LastBuild.GitHash {
		return false
	}

	dirty, err := gitDirty(projectRoot)
	if err != nil || dirty {
		return false
	}

	return true
}

func gitHead(projectRoot string) (string, error) {
	out, err := runGit(projectRoot, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func gitDirty(projectRoot string) (bool, error) {
	out, err := runGit(projectRoot, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func runGit(projectRoot string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// BinaryPath resolves an output path relative to the project root, for
// callers that only have the raw target-configured path.
func BinaryPath(projectRoot, outputPath string) string {
	if filepath.IsAbs(outputPath) {
		return outputPath
	}
	return filepath.Join(projectRoot, outputPath)
}
