// Package builders provides build target implementations (§4.F).
package builders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// BaseBuilder provides the process-execution, logging, and metrics
// machinery shared by every concrete builder. Build must resolve to a
// types.BuildStatus even on error; Stop must cause an in-flight Build to
// return within a short bounded time.
type BaseBuilder struct {
	Target       types.Target
	ProjectRoot  string
	Logger       logger.Logger
	StateManager interfaces.StateManager

	mu            sync.Mutex
	runningCmd    *exec.Cmd
	lastBuildTime time.Duration
	totalBuilds   int
	successBuilds int
}

// NewBaseBuilder creates a new base builder.
func NewBaseBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *BaseBuilder {
	var targetLogger logger.Logger
	if log != nil {
		targetLogger = log.WithTarget(target.GetName())
	}

	return &BaseBuilder{
		Target:       target,
		ProjectRoot:  projectRoot,
		Logger:       targetLogger,
		StateManager: stateManager,
	}
}

// Validate checks that the target is buildable from this project root.
func (b *BaseBuilder) Validate() error {
	if _, err := os.Stat(b.ProjectRoot); os.IsNotExist(err) {
		return fmt.Errorf("project root does not exist: %s", b.ProjectRoot)
	}
	if len(b.Target.GetWatchPaths()) == 0 {
		return fmt.Errorf("no watch paths defined for target %s", b.Target.GetName())
	}
	if b.Target.GetBuildCommand() == "" {
		return fmt.Errorf("no build command defined for target %s", b.Target.GetName())
	}
	return nil
}

// Build runs the target's build command to completion, logging to the
// target's companion log file, and returns a terminal BuildStatus.
func (b *BaseBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	return b.RunCommand(ctx, b.Target.GetBuildCommand(), changedFiles)
}

// RunCommand runs an arbitrary command through the same process,
// logging, and metrics plumbing as Build. Exported so multi-phase
// builders (e.g. CMake's configure-then-build) defined outside this
// package can drive extra commands without duplicating it.
func (b *BaseBuilder) RunCommand(ctx context.Context, command string, changedFiles []string) (types.BuildStatus, error) {
	startTime := time.Now()
	defer func() {
		b.mu.Lock()
		b.lastBuildTime = time.Since(startTime)
		b.totalBuilds++
		b.mu.Unlock()
	}()

	logFile, err := b.prepareLogFile("")
	if err != nil && b.Logger != nil {
		b.Logger.Warn(fmt.Sprintf("failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	b.logToFile(logFile, fmt.Sprintf("\n=== build started at %s ===\n", timestamp))

	if b.Logger != nil {
		b.Logger.Info(fmt.Sprintf("building with %d changed files", len(changedFiles)))
	}
	if len(changedFiles) > 0 {
		b.logToFile(logFile, fmt.Sprintf("changed files: %v\n", changedFiles))
	}

	cmd := b.createCommand(ctx, command)
	b.logToFile(logFile, fmt.Sprintf("executing: %s\n", command))

	if env := b.Target.GetEnvironment(); env != nil {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	cmd.Dir = b.ProjectRoot

	var outputBuffer bytes.Buffer
	var multiWriter io.Writer = &outputBuffer
	if logFile != nil {
		multiWriter = io.MultiWriter(&outputBuffer, logFile)
	}
	cmd.Stdout = multiWriter
	cmd.Stderr = multiWriter

	b.mu.Lock()
	b.runningCmd = cmd
	b.mu.Unlock()

	runErr := cmd.Run()

	b.mu.Lock()
	b.runningCmd = nil
	b.mu.Unlock()

	output := outputBuffer.Bytes()
	duration := time.Since(startTime)

	if runErr != nil {
		errType := classifyBuildError(runErr)
		var exitCode *int
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			exitCode = &code
		}
		summary := summarizeOutput(string(output), runErr)

		if b.Logger != nil {
			b.Logger.Error("build failed",
				logger.WithField("error", runErr.Error()),
				logger.WithField("output", string(output)))
		}
		b.logToFile(logFile, fmt.Sprintf("\n=== build FAILED after %s ===\n", duration))
		b.logToFile(logFile, fmt.Sprintf("error: %v\n", runErr))

		return types.BuildStatus{
			Status:       types.BuildStateFailure,
			Timestamp:    time.Now(),
			DurationMs:   duration.Milliseconds(),
			ExitCode:     exitCode,
			Error:        runErr.Error(),
			ErrorSummary: summary,
			ErrorType:    errType,
			Builder:      b.DescribeBuilder(),
		}, fmt.Errorf("build failed: %w", runErr)
	}

	b.mu.Lock()
	b.successBuilds++
	b.mu.Unlock()

	if b.Logger != nil {
		b.Logger.Success(fmt.Sprintf("build completed in %s", duration))
		if len(output) > 0 {
			b.Logger.Debug("build output", logger.WithField("output", string(output)))
		}
	}
	b.logToFile(logFile, fmt.Sprintf("\n=== build SUCCEEDED after %s ===\n", duration))

	code := 0
	return types.BuildStatus{
		Status:     types.BuildStateSuccess,
		Timestamp:  time.Now(),
		DurationMs: duration.Milliseconds(),
		ExitCode:   &code,
		Builder:    b.DescribeBuilder(),
	}, nil
}

// classifyBuildError maps a command-execution error onto the closed
// BuildErrorType taxonomy (§7).
func classifyBuildError(err error) types.BuildErrorType {
	if _, ok := err.(*exec.ExitError); ok {
		return types.BuildErrorCompilation
	}
	if _, ok := err.(*exec.Error); ok {
		return types.BuildErrorConfiguration
	}
	return types.BuildErrorUnknown
}

// summarizeOutput extracts a short human-readable cause from build
// output, falling back to the error text. Capped at 100 characters (§7).
func summarizeOutput(output string, fallback error) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		lower := strings.ToLower(line)
		if line != "" && (strings.Contains(lower, "error") || strings.Contains(lower, "failed")) {
			return truncate(line, 100)
		}
	}
	if fallback != nil {
		return truncate(fallback.Error(), 100)
	}
	return "build failed"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Stop terminates an in-flight build, SIGTERM first, SIGKILL if it does
// not exit within the grace period (§5).
func (b *BaseBuilder) Stop() error {
	b.mu.Lock()
	cmd := b.runningCmd
	b.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return cmd.Process.Kill()
	}
}

// Clean performs cleanup operations; concrete builders override when
// there is a build directory or output artifact to remove.
func (b *BaseBuilder) Clean() error {
	return nil
}

// GetTarget returns the target this builder was constructed for.
func (b *BaseBuilder) GetTarget() types.Target {
	return b.Target
}

// GetLastBuildTime returns the most recent build's wall-clock duration.
func (b *BaseBuilder) GetLastBuildTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBuildTime
}

// GetSuccessRate returns successes/total, defaulting to 1.0 before any
// build has run (an untested target is not presumed broken).
func (b *BaseBuilder) GetSuccessRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.totalBuilds == 0 {
		return 1.0
	}
	return float64(b.successBuilds) / float64(b.totalBuilds)
}

// DescribeBuilder returns a short human-readable builder identity,
// used in BuildStatus.Builder and CLI status output.
func (b *BaseBuilder) DescribeBuilder() string {
	return fmt.Sprintf("%s(%s)", b.Target.GetType(), b.Target.GetName())
}

// GetOutputInfo returns a human-readable description of the build
// artifact; concrete builders override to report a resolved path.
func (b *BaseBuilder) GetOutputInfo() string {
	if p := b.Target.GetOutputPath(); p != "" {
		return b.resolvePath(p)
	}
	return ""
}

func (b *BaseBuilder) createCommand(ctx context.Context, command string) *exec.Cmd {
	var cmd *exec.Cmd
	if strings.ContainsAny(command, "&|;") {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		parts := strings.Fields(command)
		if len(parts) > 0 {
			cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", command)
		}
	}
	return cmd
}

func (b *BaseBuilder) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.ProjectRoot, path)
}

func (b *BaseBuilder) fileExists(path string) bool {
	_, err := os.Stat(b.resolvePath(path))
	return err == nil
}

// prepareLogFile opens the target's companion log file in append mode,
// {target}[-{channel}].log per §6.
func (b *BaseBuilder) prepareLogFile(channel string) (*os.File, error) {
	logDir := filepath.Join(b.ProjectRoot, ".poltergeist", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := b.Target.GetName()
	if channel != "" {
		name = fmt.Sprintf("%s-%s", name, channel)
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("%s.log", name))
	return os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func (b *BaseBuilder) logToFile(logFile *os.File, message string) {
	if logFile != nil {
		logFile.WriteString(message)
	}
}

// ExecutableBuilder builds a plain executable target.
type ExecutableBuilder struct {
	*BaseBuilder
	outputPath string
}

// NewExecutableBuilder creates a new executable builder.
func NewExecutableBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *ExecutableBuilder {
	return &ExecutableBuilder{
		BaseBuilder: NewBaseBuilder(target, projectRoot, log, stateManager),
		outputPath:  target.GetOutputPath(),
	}
}

// Validate requires an output path in addition to the base checks.
func (b *ExecutableBuilder) Validate() error {
	if err := b.BaseBuilder.Validate(); err != nil {
		return err
	}
	if b.outputPath == "" {
		return fmt.Errorf("output path not specified for executable target %s", b.Target.GetName())
	}
	return nil
}

// Build removes the stale binary, runs the build, and verifies the
// artifact landed where declared.
func (b *ExecutableBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	outputPath := b.resolvePath(b.outputPath)
	if b.fileExists(outputPath) {
		if err := os.Remove(outputPath); err != nil && b.Logger != nil {
			b.Logger.Warn("failed to remove old executable", logger.WithField("error", err.Error()))
		}
	}

	status, err := b.BaseBuilder.Build(ctx, changedFiles)
	if err != nil {
		return status, err
	}

	if !b.fileExists(outputPath) {
		status.Status = types.BuildStateFailure
		status.Error = fmt.Sprintf("build succeeded but output not found: %s", outputPath)
		status.ErrorSummary = truncate(status.Error, 100)
		status.ErrorType = types.BuildErrorIO
		return status, fmt.Errorf("%s", status.Error)
	}

	if err := os.Chmod(outputPath, 0755); err != nil && b.Logger != nil {
		b.Logger.Warn("failed to make output executable", logger.WithField("error", err.Error()))
	}
	return status, nil
}

// GetOutputInfo reports the resolved binary path.
func (b *ExecutableBuilder) GetOutputInfo() string {
	return b.resolvePath(b.outputPath)
}

// AppBundleBuilder builds a macOS/iOS app bundle and, when configured,
// kills and relaunches the running app around each build.
type AppBundleBuilder struct {
	*BaseBuilder
	outputPath    string
	bundleID      string
	platform      types.Platform
	autoRelaunch  bool
	launchCommand string
}

// NewAppBundleBuilder creates a new app bundle builder.
func NewAppBundleBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *AppBundleBuilder {
	builder := &AppBundleBuilder{
		BaseBuilder: NewBaseBuilder(target, projectRoot, log, stateManager),
		outputPath:  target.GetOutputPath(),
	}
	if appTarget, ok := target.(*types.AppBundleTarget); ok {
		builder.bundleID = appTarget.BundleID
		builder.platform = appTarget.Platform
		if appTarget.AutoRelaunch != nil {
			builder.autoRelaunch = *appTarget.AutoRelaunch
		}
		builder.launchCommand = appTarget.LaunchCommand
	}
	return builder
}

// Build builds the bundle, optionally killing and relaunching the app.
func (b *AppBundleBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	if b.autoRelaunch {
		b.killRunningApp()
	}

	status, err := b.BaseBuilder.Build(ctx, changedFiles)
	if err != nil {
		return status, err
	}

	if b.autoRelaunch && b.launchCommand != "" {
		if err := b.launchApp(ctx); err != nil && b.Logger != nil {
			b.Logger.Warn("failed to relaunch app", logger.WithField("error", err.Error()))
		}
	}
	return status, nil
}

// GetOutputInfo reports the resolved bundle path.
func (b *AppBundleBuilder) GetOutputInfo() string {
	return b.resolvePath(b.outputPath)
}

func (b *AppBundleBuilder) killRunningApp() {
	if b.bundleID == "" {
		return
	}
	if err := exec.Command("pkill", "-f", b.bundleID).Run(); err != nil {
		exec.Command("killall", "-9", b.bundleID).Run()
	}
}

func (b *AppBundleBuilder) launchApp(ctx context.Context) error {
	cmd := b.createCommand(ctx, b.launchCommand)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch app: %w", err)
	}
	go cmd.Wait()
	if b.Logger != nil {
		b.Logger.Info("app relaunched successfully")
	}
	return nil
}

// NpmBuilder builds an npm/yarn/pnpm script target.
type NpmBuilder struct {
	*BaseBuilder
	script         string
	packageManager string
}

// NewNpmBuilder creates a new npm builder.
func NewNpmBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *NpmBuilder {
	builder := &NpmBuilder{
		BaseBuilder:    NewBaseBuilder(target, projectRoot, log, stateManager),
		packageManager: "npm",
	}
	if npmTarget, ok := target.(*types.NpmTarget); ok {
		builder.script = npmTarget.Script
		if npmTarget.PackageManager != "" {
			builder.packageManager = npmTarget.PackageManager
		}
	}
	return builder
}

// Validate checks the project root, the watch paths and the script name.
// No build command is required, since Build runs the script instead.
func (b *NpmBuilder) Validate() error {
	if _, err := os.Stat(b.ProjectRoot); os.IsNotExist(err) {
		return fmt.Errorf("project root does not exist: %s", b.ProjectRoot)
	}
	if len(b.Target.GetWatchPaths()) == 0 {
		return fmt.Errorf("no watch paths defined for target %s", b.Target.GetName())
	}
	if b.script == "" {
		return fmt.Errorf("no script specified for npm target %s", b.Target.GetName())
	}
	return nil
}

// Build runs `<packageManager> run <script>` instead of the raw build
// command, so the same target works across npm, yarn, and pnpm.
func (b *NpmBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	runner := "run"
	if b.packageManager == "yarn" {
		runner = "" // yarn <script> works without "run"
	}
	command := fmt.Sprintf("%s %s %s", b.packageManager, runner, b.script)
	command = strings.Join(strings.Fields(command), " ")
	return b.RunCommand(ctx, command, changedFiles)
}

// TestBuilder runs test targets instead of a production build.
type TestBuilder struct {
	*BaseBuilder
	testCommand  string
	coverageFile string
}

// NewTestBuilder creates a new test builder.
func NewTestBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *TestBuilder {
	builder := &TestBuilder{BaseBuilder: NewBaseBuilder(target, projectRoot, log, stateManager)}
	if testTarget, ok := target.(*types.TestTarget); ok {
		builder.testCommand = testTarget.TestCommand
		builder.coverageFile = testTarget.CoverageFile
	}
	return builder
}

// Build runs the test command and checks for a coverage artifact.
func (b *TestBuilder) Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error) {
	command := b.Target.GetBuildCommand()
	if b.testCommand != "" {
		command = b.testCommand
	}
	status, err := b.RunCommand(ctx, command, changedFiles)
	if err == nil && b.coverageFile != "" && b.fileExists(b.coverageFile) && b.Logger != nil {
		b.Logger.Info("coverage report generated", logger.WithField("file", b.coverageFile))
	}
	return status, err
}

// CustomBuilder builds a target whose behavior is entirely described by
// its free-form Config map; it otherwise just runs the build command.
type CustomBuilder struct {
	*BaseBuilder
	config map[string]interface{}
}

// NewCustomBuilder creates a new custom builder.
func NewCustomBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CustomBuilder {
	builder := &CustomBuilder{BaseBuilder: NewBaseBuilder(target, projectRoot, log, stateManager)}
	if customTarget, ok := target.(*types.CustomTarget); ok {
		builder.config = customTarget.Config
	}
	return builder
}
