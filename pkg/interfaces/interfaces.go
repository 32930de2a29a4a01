// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/wisptrack/poltergeist/internal/state"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// WatchmanClient abstracts file watching operations
type WatchmanClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	WatchProject(projectPath string) error
	Subscribe(
		root string,
		name string,
		config SubscriptionConfig,
		callback FileChangeCallback,
		exclusions []ExclusionExpression,
	) error
	Unsubscribe(subscriptionName string) error
	IsConnected() bool
}

// SubscriptionConfig represents watchman subscription configuration
type SubscriptionConfig struct {
	Expression []interface{}
	Fields     []string
}

// FileChangeCallback is called when a batch of files changes for one
// subscription. The Debouncer is the only component that registers one.
type FileChangeCallback func(files []FileChange)

// FileChange represents a changed file. Entries whose Exists is false
// are delivered too, so removals propagate.
type FileChange struct {
	Name   string
	Exists bool
	Type   string
}

// ExclusionExpression represents a watchman exclusion pattern
type ExclusionExpression struct {
	Type     string
	Patterns []string
}

// StateManager handles persistent state for targets
type StateManager interface {
	InitializeState(target types.Target) (*state.PersistedState, error)
	ReadState(targetName string) (*state.PersistedState, error)
	ReadStateStrict(targetName string) (*state.PersistedState, error)
	UpdateBuildStatus(targetName string, status types.BuildStatus) error
	UpdateAppInfo(targetName string, partial state.AppInfo) error
	RemoveState(targetName string) error
	IsLocked(targetName string) (bool, error)
	ForceUnlock(targetName string) error
	DiscoverStates() (map[string]*state.PersistedState, error)
	StartHeartbeat(ctx context.Context)
	StopHeartbeat()
	Cleanup() error
}

// Builder is the contract every target builder implements (§4.F). The
// queue treats builders as opaque processes: build must eventually
// resolve, and Stop must cause a pending Build to resolve with a
// failure status within a short bounded time.
type Builder interface {
	Validate() error
	Build(ctx context.Context, changedFiles []string) (types.BuildStatus, error)
	Stop() error
	Clean() error
	GetTarget() types.Target
	GetLastBuildTime() time.Duration
	GetSuccessRate() float64
	DescribeBuilder() string
	GetOutputInfo() string
}

// BuilderFactory creates builders for targets, keyed on the target's
// type tag. The switch over TargetType inside an implementation must be
// exhaustive.
type BuilderFactory interface {
	CreateBuilder(
		target types.Target,
		projectRoot string,
		logger logger.Logger,
		stateManager StateManager,
	) (Builder, error)
}

// BuildNotifier handles build notifications. Explicitly an external
// collaborator (§1) — the core depends only on this interface.
type BuildNotifier interface {
	NotifyBuildStart(target string)
	NotifyBuildSuccess(target string, duration time.Duration)
	NotifyBuildFailure(target string, err error)
	NotifyQueueStatus(active int, queued int)
}

// WatchmanConfigManager manages watch pattern normalization and exclusions.
type WatchmanConfigManager interface {
	EnsureConfigUpToDate(config *types.PoltergeistConfig) error
	SuggestOptimizations() ([]string, error)
	CreateExclusionExpressions(config *types.PoltergeistConfig) []ExclusionExpression
	NormalizeWatchPattern(pattern string) (string, error)
	ValidateWatchPattern(pattern string) error
}

// QueueEntryState is the observable state of one queue entry.
type QueueEntryState string

const (
	QueueEntryPending  QueueEntryState = "pending"
	QueueEntryBuilding QueueEntryState = "building"
	QueueEntryBuffered QueueEntryState = "buffered"
)

// QueueStatusEntry is one row of BuildQueue.GetQueueStatus.
type QueueStatusEntry struct {
	Target      string
	State       QueueEntryState
	Priority    float64
	MergedCount int
	EnqueuedAt  time.Time
}

// BuildReason is why a queue entry exists.
type BuildReason string

const (
	ReasonInitialBuild BuildReason = "initial-build"
	ReasonFileChange   BuildReason = "file-change"
	ReasonRetry        BuildReason = "retry"
	ReasonManual       BuildReason = "manual"
)

// BuildQueue is the Intelligent Build Queue's public contract (§4.E).
type BuildQueue interface {
	RegisterTarget(target types.Target, builder Builder)
	QueueTargetBuild(targetName string, reason BuildReason)
	OnFileChanged(changedFiles []string, targetNames []string)
	GetQueueStatus() []QueueStatusEntry
	Start(ctx context.Context)
	Stop()
}

// ProcessManager handles process lifecycle
type ProcessManager interface {
	RegisterShutdownHandler(handler func())
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
}

// ConfigManager handles configuration loading and validation
type ConfigManager interface {
	LoadConfig(path string) (*types.PoltergeistConfig, error)
	ValidateConfig(config *types.PoltergeistConfig) error
	GetDefaultConfig(projectType types.ProjectType) *types.PoltergeistConfig
}

// DaemonManager manages background daemon processes
type DaemonManager interface {
	Start(config *types.PoltergeistConfig) error
	Stop() error
	Restart() error
	Status() (DaemonStatus, error)
	IsRunning() bool
}

// DaemonStatus represents daemon process status
type DaemonStatus struct {
	Running   bool
	PID       int
	StartTime time.Time
	Targets   []string
	Builds    int
	Errors    int
}

// PoltergeistDependencies contains all injectable dependencies
type PoltergeistDependencies struct {
	WatchmanClient        WatchmanClient
	StateManager          StateManager
	BuilderFactory        BuilderFactory
	Notifier              BuildNotifier
	WatchmanConfigManager WatchmanConfigManager
	ConfigManager         ConfigManager
	ProcessManager        ProcessManager
	BuildQueue            BuildQueue
}
