// Package types provides core types and configurations for Poltergeist
package types

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"
)

// DefaultParallelization returns the default build-queue parallelism
// when a config leaves BuildScheduling.Parallelization unset: the host's
// CPU count, capped at 4 and floored at 1.
func DefaultParallelization() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// TargetType represents supported build target types. This is a closed
// set: adding a variant requires a matching case in ParseTarget and in
// the builder factory, so the switch stays exhaustiveness-checkable.
type TargetType string

const (
	TargetTypeExecutable      TargetType = "executable"
	TargetTypeAppBundle       TargetType = "app-bundle"
	TargetTypeNpm             TargetType = "npm"
	TargetTypeCMakeExecutable TargetType = "cmake-executable"
	TargetTypeCMakeLibrary    TargetType = "cmake-library"
	TargetTypeCMakeCustom     TargetType = "cmake-custom"
	TargetTypeTest            TargetType = "test"
	TargetTypeCustom          TargetType = "custom"
)

// Platform represents supported Apple platforms
type Platform string

const (
	PlatformMacOS    Platform = "macos"
	PlatformIOS      Platform = "ios"
	PlatformTVOS     Platform = "tvos"
	PlatformWatchOS  Platform = "watchos"
	PlatformVisionOS Platform = "visionos"
)

// LibraryType represents library linkage types, used by CMake library targets.
type LibraryType string

const (
	LibraryTypeStatic  LibraryType = "static"
	LibraryTypeDynamic LibraryType = "dynamic"
	LibraryTypeShared  LibraryType = "shared"
)

// CMakeBuildType represents CMake build configurations
type CMakeBuildType string

const (
	CMakeBuildTypeDebug          CMakeBuildType = "Debug"
	CMakeBuildTypeRelease        CMakeBuildType = "Release"
	CMakeBuildTypeRelWithDebInfo CMakeBuildType = "RelWithDebInfo"
	CMakeBuildTypeMinSizeRel     CMakeBuildType = "MinSizeRel"
)

// ProjectType represents different project ecosystems
type ProjectType string

const (
	ProjectTypeSwift  ProjectType = "swift"
	ProjectTypeNode   ProjectType = "node"
	ProjectTypeRust   ProjectType = "rust"
	ProjectTypePython ProjectType = "python"
	ProjectTypeCMake  ProjectType = "cmake"
	ProjectTypeMixed  ProjectType = "mixed"
)

// PerformanceProfile represents performance optimization profiles
type PerformanceProfile string

const (
	PerformanceProfileConservative PerformanceProfile = "conservative"
	PerformanceProfileBalanced     PerformanceProfile = "balanced"
	PerformanceProfileAggressive   PerformanceProfile = "aggressive"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// BuildState is the observable status tag of a BuildStatus record.
type BuildState string

const (
	BuildStateIdle     BuildState = "idle"
	BuildStateBuilding BuildState = "building"
	BuildStateSuccess  BuildState = "success"
	BuildStateFailure  BuildState = "failure"
)

// BuildErrorType is the closed error taxonomy used across the core.
type BuildErrorType string

const (
	BuildErrorConfiguration BuildErrorType = "configuration"
	BuildErrorValidation    BuildErrorType = "validation"
	BuildErrorCompilation   BuildErrorType = "compilation"
	BuildErrorRuntime       BuildErrorType = "runtime"
	BuildErrorIO            BuildErrorType = "io"
	BuildErrorUnknown       BuildErrorType = "unknown"
)

// BuildStatus is the observable outcome of one build attempt. Invariants
// (enforced by callers, not the type itself): status=success implies
// Error is empty; status=building implies Duration=0 and ExitCode unset;
// Duration is set iff status is success or failure.
type BuildStatus struct {
	Status       BuildState     `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMs   int64          `json:"duration"`
	ExitCode     *int           `json:"exitCode,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorSummary string         `json:"errorSummary,omitempty"`
	ErrorType    BuildErrorType `json:"errorType,omitempty"`
	GitHash      string         `json:"gitHash,omitempty"`
	Builder      string         `json:"builder,omitempty"`
}

// ChangeType represents the classification of file changes
type ChangeType string

const (
	ChangeTypeDirect    ChangeType = "direct"
	ChangeTypeShared    ChangeType = "shared"
	ChangeTypeGenerated ChangeType = "generated"
)

// AutoRunConfig configures the Auto-Run Controller for a target.
type AutoRunConfig struct {
	Enabled        *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Command        string            `json:"command,omitempty" yaml:"command,omitempty"`
	RestartSignal  string            `json:"restartSignal,omitempty" yaml:"restartSignal,omitempty"`
	RestartDelayMs *int              `json:"restartDelayMs,omitempty" yaml:"restartDelayMs,omitempty"`
}

// IsEnabled reports whether auto-run should be constructed for the target.
func (a *AutoRunConfig) IsEnabled() bool {
	return a != nil && a.Enabled != nil && *a.Enabled
}

// RestartDelay returns the configured restart delay, default 250ms.
func (a *AutoRunConfig) RestartDelay() time.Duration {
	if a != nil && a.RestartDelayMs != nil {
		return time.Duration(*a.RestartDelayMs) * time.Millisecond
	}
	return 250 * time.Millisecond
}

// Signal returns the configured restart signal name, default SIGINT.
func (a *AutoRunConfig) Signal() string {
	if a != nil && a.RestartSignal != "" {
		return a.RestartSignal
	}
	return "SIGINT"
}

// BaseTarget represents common fields for all target types
type BaseTarget struct {
	Name          string            `json:"name" yaml:"name"`
	Type          TargetType        `json:"type" yaml:"type"`
	Enabled       *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	BuildCommand  string            `json:"buildCommand,omitempty" yaml:"buildCommand,omitempty"`
	WatchPaths    []string          `json:"watchPaths" yaml:"watchPaths"`
	SettlingDelay *int              `json:"settlingDelay,omitempty" yaml:"settlingDelay,omitempty"`
	AutoRun       *AutoRunConfig    `json:"autoRun,omitempty" yaml:"autoRun,omitempty"`
	OutputPath    string            `json:"outputPath,omitempty" yaml:"outputPath,omitempty"`
	Environment   map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	MaxRetries    *int              `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	Icon          string            `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// ExecutableTarget represents a CLI tool or binary target
type ExecutableTarget struct {
	BaseTarget
}

// AppBundleTarget represents macOS/iOS application bundles
type AppBundleTarget struct {
	BaseTarget
	Platform      Platform `json:"platform,omitempty" yaml:"platform,omitempty"`
	BundleID      string   `json:"bundleId" yaml:"bundleId"`
	AutoRelaunch  *bool    `json:"autoRelaunch,omitempty" yaml:"autoRelaunch,omitempty"`
	LaunchCommand string   `json:"launchCommand,omitempty" yaml:"launchCommand,omitempty"`
}

// NpmTarget represents a target built through a package.json script.
type NpmTarget struct {
	BaseTarget
	Script         string `json:"script,omitempty" yaml:"script,omitempty"`
	PackageManager string `json:"packageManager,omitempty" yaml:"packageManager,omitempty"`
}

// TestTarget represents test suites
type TestTarget struct {
	BaseTarget
	TestCommand  string `json:"testCommand" yaml:"testCommand"`
	CoverageFile string `json:"coverageFile,omitempty" yaml:"coverageFile,omitempty"`
}

// CustomTarget represents user-defined targets
type CustomTarget struct {
	BaseTarget
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// CMakeExecutableTarget represents CMake executable targets
type CMakeExecutableTarget struct {
	BaseTarget
	Generator  string         `json:"generator,omitempty" yaml:"generator,omitempty"`
	BuildType  CMakeBuildType `json:"buildType,omitempty" yaml:"buildType,omitempty"`
	CMakeArgs  []string       `json:"cmakeArgs,omitempty" yaml:"cmakeArgs,omitempty"`
	TargetName string         `json:"targetName" yaml:"targetName"`
	Parallel   *bool          `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// CMakeLibraryTarget represents CMake library targets
type CMakeLibraryTarget struct {
	BaseTarget
	Generator   string         `json:"generator,omitempty" yaml:"generator,omitempty"`
	BuildType   CMakeBuildType `json:"buildType,omitempty" yaml:"buildType,omitempty"`
	CMakeArgs   []string       `json:"cmakeArgs,omitempty" yaml:"cmakeArgs,omitempty"`
	TargetName  string         `json:"targetName" yaml:"targetName"`
	LibraryType LibraryType    `json:"libraryType" yaml:"libraryType"`
	Parallel    *bool          `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// CMakeCustomTarget represents custom CMake targets
type CMakeCustomTarget struct {
	BaseTarget
	Generator  string         `json:"generator,omitempty" yaml:"generator,omitempty"`
	BuildType  CMakeBuildType `json:"buildType,omitempty" yaml:"buildType,omitempty"`
	CMakeArgs  []string       `json:"cmakeArgs,omitempty" yaml:"cmakeArgs,omitempty"`
	TargetName string         `json:"targetName" yaml:"targetName"`
	Parallel   *bool          `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Target represents any build target (interface). Targets are immutable
// within a lifecycle; updates replace rather than mutate an instance.
type Target interface {
	GetName() string
	GetType() TargetType
	IsEnabled() bool
	GetBuildCommand() string
	GetWatchPaths() []string
	GetSettlingDelay() int
	GetAutoRun() *AutoRunConfig
	GetOutputPath() string
	GetEnvironment() map[string]string
	GetMaxRetries() int
	GetIcon() string
}

// ExclusionRule represents a file exclusion pattern
type ExclusionRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Action  string `json:"action" yaml:"action"`
	Reason  string `json:"reason" yaml:"reason"`
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// PerformanceMetrics represents performance monitoring configuration
type PerformanceMetrics struct {
	Enabled        bool `json:"enabled" yaml:"enabled"`
	ReportInterval int  `json:"reportInterval" yaml:"reportInterval"`
}

// PerformanceConfig represents performance optimization settings
type PerformanceConfig struct {
	Profile      PerformanceProfile `json:"profile" yaml:"profile"`
	AutoOptimize bool               `json:"autoOptimize" yaml:"autoOptimize"`
	Metrics      PerformanceMetrics `json:"metrics" yaml:"metrics"`
}

// WatchmanConfig represents file watching configuration
type WatchmanConfig struct {
	UseDefaultExclusions bool            `json:"useDefaultExclusions" yaml:"useDefaultExclusions"`
	ExcludeDirs          []string        `json:"excludeDirs" yaml:"excludeDirs"`
	ProjectType          ProjectType     `json:"projectType,omitempty" yaml:"projectType,omitempty"`
	MaxFileEvents        int             `json:"maxFileEvents" yaml:"maxFileEvents"`
	RecrawlThreshold     int             `json:"recrawlThreshold" yaml:"recrawlThreshold"`
	SettlingDelay        int             `json:"settlingDelay" yaml:"settlingDelay"`
	Rules                []ExclusionRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// BuildPrioritization represents build priority configuration
type BuildPrioritization struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	FocusDetectionWindow   int     `json:"focusDetectionWindow" yaml:"focusDetectionWindow"`
	PriorityDecayTime      int     `json:"priorityDecayTime" yaml:"priorityDecayTime"`
	BuildTimeoutMultiplier float64 `json:"buildTimeoutMultiplier" yaml:"buildTimeoutMultiplier"`
}

// BuildSchedulingConfig represents build scheduling configuration
type BuildSchedulingConfig struct {
	Parallelization int                 `json:"parallelization" yaml:"parallelization"`
	Prioritization  BuildPrioritization `json:"prioritization" yaml:"prioritization"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// PoltergeistConfig represents the main configuration
type PoltergeistConfig struct {
	Version         string                 `json:"version" yaml:"version"`
	ProjectType     ProjectType            `json:"projectType" yaml:"projectType"`
	Targets         []json.RawMessage      `json:"targets" yaml:"targets"`
	Watchman        *WatchmanConfig        `json:"watchman,omitempty" yaml:"watchman,omitempty"`
	Performance     *PerformanceConfig     `json:"performance,omitempty" yaml:"performance,omitempty"`
	BuildScheduling *BuildSchedulingConfig `json:"buildScheduling,omitempty" yaml:"buildScheduling,omitempty"`
	Notifications   *NotificationConfig    `json:"notifications,omitempty" yaml:"notifications,omitempty"`
	Logging         *LoggingConfig         `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	File            string     `json:"file"`
	Timestamp       time.Time  `json:"timestamp"`
	AffectedTargets []string   `json:"affectedTargets"`
	ChangeType      ChangeType `json:"changeType"`
	ImpactWeight    float64    `json:"impactWeight"`
}

// ParseTarget unmarshals a target from JSON based on its type tag. The
// switch is exhaustive over TargetType; an unrecognized tag is an error,
// never a silent fallback.
func ParseTarget(data []byte) (Target, error) {
	var base struct {
		Type TargetType `json:"type"`
	}

	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to parse target type: %w", err)
	}

	switch base.Type {
	case TargetTypeExecutable:
		var t ExecutableTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeAppBundle:
		var t AppBundleTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeNpm:
		var t NpmTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeTest:
		var t TestTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeCMakeExecutable:
		var t CMakeExecutableTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeCMakeLibrary:
		var t CMakeLibraryTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeCMakeCustom:
		var t CMakeCustomTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	case TargetTypeCustom:
		var t CustomTarget
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, err
		}
		return &t, nil

	default:
		return nil, fmt.Errorf("unknown target type: %s", base.Type)
	}
}

// BaseTarget's implementation of the Target interface. Every concrete
// target type embeds BaseTarget and gets these for free; only types
// that override behavior need their own methods.

func (t *BaseTarget) GetName() string         { return t.Name }
func (t *BaseTarget) GetType() TargetType     { return t.Type }
func (t *BaseTarget) IsEnabled() bool         { return t.Enabled == nil || *t.Enabled }
func (t *BaseTarget) GetBuildCommand() string { return t.BuildCommand }
func (t *BaseTarget) GetWatchPaths() []string { return t.WatchPaths }
func (t *BaseTarget) GetSettlingDelay() int {
	if t.SettlingDelay != nil {
		return *t.SettlingDelay
	}
	return 1000
}
func (t *BaseTarget) GetAutoRun() *AutoRunConfig        { return t.AutoRun }
func (t *BaseTarget) GetOutputPath() string             { return t.OutputPath }
func (t *BaseTarget) GetEnvironment() map[string]string { return t.Environment }
func (t *BaseTarget) GetMaxRetries() int {
	if t.MaxRetries != nil {
		return *t.MaxRetries
	}
	return 3
}
func (t *BaseTarget) GetIcon() string { return t.Icon }
