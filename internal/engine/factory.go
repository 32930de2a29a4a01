package engine

import (
	internalbuilders "github.com/wisptrack/poltergeist/internal/builders"
	"github.com/wisptrack/poltergeist/internal/state"
	"github.com/wisptrack/poltergeist/internal/watchman"
	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/notifier"
	"github.com/wisptrack/poltergeist/pkg/process"
	"github.com/wisptrack/poltergeist/pkg/queue"
	"github.com/wisptrack/poltergeist/pkg/types"
	pkgwatchman "github.com/wisptrack/poltergeist/pkg/watchman"
)

// DependencyFactory creates default implementations of dependencies.
// This follows the dependency injection pattern and removes hidden
// concrete fallbacks from constructors.
type DependencyFactory struct {
	projectRoot string
	configPath  string
	logger      logger.Logger
	config      *types.PoltergeistConfig
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, config *types.PoltergeistConfig) *DependencyFactory {
	return &DependencyFactory{
		projectRoot: projectRoot,
		logger:      log,
		config:      config,
	}
}

// CreateDefaults creates all default dependencies for Poltergeist.
// This centralizes dependency creation and makes it explicit and testable.
func (f *DependencyFactory) CreateDefaults() interfaces.PoltergeistDependencies {
	deps := interfaces.PoltergeistDependencies{
		StateManager:          f.createStateManager(),
		BuilderFactory:        f.createBuilderFactory(),
		WatchmanClient:        f.createWatchmanClient(),
		WatchmanConfigManager: f.createWatchmanConfigManager(),
		ProcessManager:        process.NewManager(f.logger),
	}

	deps.Notifier = f.createNotifier()
	deps.BuildQueue = f.createBuildQueue(deps.StateManager, deps.Notifier)

	return deps
}

// CreateWithOverrides creates dependencies with specific overrides.
// This is useful for testing or custom configurations.
func (f *DependencyFactory) CreateWithOverrides(overrides interfaces.PoltergeistDependencies) interfaces.PoltergeistDependencies {
	deps := f.CreateDefaults()

	if overrides.StateManager != nil {
		deps.StateManager = overrides.StateManager
	}
	if overrides.BuilderFactory != nil {
		deps.BuilderFactory = overrides.BuilderFactory
	}
	if overrides.ProcessManager != nil {
		deps.ProcessManager = overrides.ProcessManager
	}
	if overrides.WatchmanClient != nil {
		deps.WatchmanClient = overrides.WatchmanClient
	}
	if overrides.WatchmanConfigManager != nil {
		deps.WatchmanConfigManager = overrides.WatchmanConfigManager
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	if overrides.BuildQueue != nil {
		deps.BuildQueue = overrides.BuildQueue
	}

	return deps
}

// Individual factory methods for each dependency

func (f *DependencyFactory) createStateManager() interfaces.StateManager {
	return state.NewManager(state.Config{
		ProjectRoot: f.projectRoot,
		ConfigPath:  f.configPath,
	}, f.logger)
}

func (f *DependencyFactory) createBuilderFactory() interfaces.BuilderFactory {
	return internalbuilders.NewFactory()
}

func (f *DependencyFactory) createWatchmanClient() interfaces.WatchmanClient {
	return watchman.NewClient(f.logger)
}

func (f *DependencyFactory) createWatchmanConfigManager() interfaces.WatchmanConfigManager {
	return pkgwatchman.NewConfigManager(f.projectRoot, f.logger)
}

func (f *DependencyFactory) createBuildQueue(stateManager interfaces.StateManager, notify interfaces.BuildNotifier) interfaces.BuildQueue {
	schedulingConfig := f.config.BuildScheduling
	if schedulingConfig == nil {
		schedulingConfig = &types.BuildSchedulingConfig{
			Parallelization: types.DefaultParallelization(),
			Prioritization: types.BuildPrioritization{
				Enabled:                true,
				FocusDetectionWindow:   300000,
				PriorityDecayTime:      1800000,
				BuildTimeoutMultiplier: 2.0,
			},
		}
	}
	return queue.New(schedulingConfig, f.logger, stateManager, notify, func(targetName string, status types.BuildStatus) {
		_ = targetName
		_ = status
	})
}

func (f *DependencyFactory) createNotifier() interfaces.BuildNotifier {
	enabled := f.config.Notifications != nil && f.config.Notifications.Enabled != nil && *f.config.Notifications.Enabled
	return notifier.New(notifier.Config{Enabled: enabled}, f.logger)
}
