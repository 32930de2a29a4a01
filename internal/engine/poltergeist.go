// Package engine provides the core build orchestration engine for Poltergeist.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/wisptrack/poltergeist/internal/autorun"
	"github.com/wisptrack/poltergeist/internal/configwatch"
	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/queue"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// Poltergeist is the main build orchestration engine. It wires together
// the Target Lifecycle, the Intelligent Build Queue, the Auto-Run
// Controller (one per executable target with autoRun enabled), and the
// Config-Reload Orchestrator on top of a Watchman-backed file source.
type Poltergeist struct {
	config                *types.PoltergeistConfig
	projectRoot           string
	configPath            string
	logger                logger.Logger
	stateManager          interfaces.StateManager
	processManager        interfaces.ProcessManager
	watchman              interfaces.WatchmanClient
	watchmanConfigManager interfaces.WatchmanConfigManager
	buildQueue            interfaces.BuildQueue
	notifier              interfaces.BuildNotifier

	lifecycle   *TargetLifecycle
	configWatch *configwatch.Orchestrator

	mu            sync.RWMutex
	autoruns      map[string]*autorun.Controller
	subscriptions []string

	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a new Poltergeist instance.
func New(
	config *types.PoltergeistConfig,
	projectRoot string,
	log logger.Logger,
	deps interfaces.PoltergeistDependencies,
	configPath string,
) *Poltergeist {
	ctx, cancel := context.WithCancel(context.Background())

	absProjectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to get absolute path for project root: %v", err))
	} else {
		projectRoot = absProjectRoot
	}

	if deps.StateManager == nil {
		panic("StateManager dependency is required")
	}
	if deps.BuilderFactory == nil {
		panic("BuilderFactory dependency is required")
	}
	if deps.WatchmanClient == nil {
		panic("WatchmanClient dependency is required")
	}
	if deps.WatchmanConfigManager == nil {
		panic("WatchmanConfigManager dependency is required")
	}
	if deps.BuildQueue == nil {
		panic("BuildQueue dependency is required")
	}

	p := &Poltergeist{
		config:                config,
		projectRoot:           projectRoot,
		configPath:            configPath,
		logger:                log,
		stateManager:          deps.StateManager,
		watchman:              deps.WatchmanClient,
		watchmanConfigManager: deps.WatchmanConfigManager,
		processManager:        deps.ProcessManager,
		buildQueue:            deps.BuildQueue,
		notifier:              deps.Notifier,
		lifecycle:             NewTargetLifecycle(projectRoot, log, deps.BuilderFactory, deps.StateManager),
		autoruns:              make(map[string]*autorun.Controller),
		ctx:                   ctx,
		cancel:                cancel,
	}

	if q, ok := p.buildQueue.(*queue.Queue); ok {
		q.SetOnBuildDone(p.onBuildDone)
	} else {
		log.Warn("build queue implementation does not expose a completion callback; auto-run will not relaunch targets")
	}

	return p
}

// StartWithContext begins watching and building targets with the given context.
func (p *Poltergeist) StartWithContext(ctx context.Context, targetName string) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("poltergeist is already running")
	}
	p.isRunning = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	return p.start(targetName)
}

// Start begins watching and building targets (deprecated - use StartWithContext).
func (p *Poltergeist) Start(targetName string) error {
	return p.StartWithContext(context.Background(), targetName)
}

func (p *Poltergeist) start(targetName string) error {
	p.logger.Info("Starting Poltergeist...")

	p.stateManager.StartHeartbeat(p.ctx)

	if err := p.setupWatchmanConfig(); err != nil {
		return fmt.Errorf("failed to setup watchman config: %w", err)
	}

	p.buildQueue.Start(p.ctx)

	records, err := p.lifecycle.InitTargets(p.config.Targets, targetName, p.onSettled)
	if err != nil {
		return err
	}

	p.logger.Info(fmt.Sprintf("Building %d enabled target(s)", len(records)))

	for _, record := range records {
		p.registerRecord(record)
	}

	if err := p.watchman.Connect(p.ctx); err != nil {
		return fmt.Errorf("failed to connect to watchman: %w", err)
	}

	if err := p.watchman.WatchProject(p.projectRoot); err != nil {
		return fmt.Errorf("failed to watch project: %w", err)
	}

	if err := p.subscribeToChanges(); err != nil {
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	if p.configPath != "" {
		p.configWatch = configwatch.New(p.configPath, p.config, p.logger, p.onConfigChanged)
		if err := p.configWatch.Start(); err != nil {
			p.logger.Warn("Failed to watch config file for reload", logger.WithField("error", err))
		} else {
			p.logger.Info("Watching configuration file for changes")
		}
	}

	p.performInitialBuilds()

	p.logger.Info("Poltergeist is now watching for changes...")

	if p.processManager != nil {
		p.processManager.RegisterShutdownHandler(func() {
			p.Stop()
			p.Cleanup()
		})
		p.processManager.Start(p.ctx)
	}

	return nil
}

// registerRecord wires a newly-lifecycle-registered target into the
// build queue and, if it opts in, an Auto-Run Controller.
func (p *Poltergeist) registerRecord(record *TargetRecord) {
	p.buildQueue.RegisterTarget(record.Target, record.Builder)

	name := record.Target.GetName()
	autoRun := record.Target.GetAutoRun()

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.autoruns[name]; ok {
		_ = existing.Stop()
		delete(p.autoruns, name)
	}
	if autoRun.IsEnabled() && record.Target.GetType() == types.TargetTypeExecutable {
		ctrl := autorun.New(name, p.projectRoot, record.Target.GetOutputPath(), autoRun, p.logger.WithTarget(name))
		p.autoruns[name] = ctrl
	}
}

// onSettled is the Debouncer callback for every registered target: it
// hands the settled file set to the Intelligent Build Queue.
func (p *Poltergeist) onSettled(targetName string, files []string) {
	p.buildQueue.OnFileChanged(files, []string{targetName})
}

// onBuildDone is wired into the build queue as its completion callback,
// forwarding success/failure to that target's Auto-Run Controller, if any.
func (p *Poltergeist) onBuildDone(targetName string, status types.BuildStatus) {
	p.mu.RLock()
	ctrl, ok := p.autoruns[targetName]
	p.mu.RUnlock()
	if !ok {
		return
	}
	if status.Status == types.BuildStateSuccess {
		ctrl.OnBuildSuccess()
	} else {
		ctrl.OnBuildFailure()
	}
}

// StopWithContext stops the Poltergeist engine with the given context for timeout control.
func (p *Poltergeist) StopWithContext(ctx context.Context) {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	p.logger.Info("Stopping Poltergeist...")

	p.cancel()

	done := make(chan struct{})

	go func() {
		p.buildQueue.Stop()

		p.lifecycle.StopTargets()

		p.mu.RLock()
		autoruns := make([]*autorun.Controller, 0, len(p.autoruns))
		for _, ctrl := range p.autoruns {
			autoruns = append(autoruns, ctrl)
		}
		p.mu.RUnlock()

		sg, _ := NewSafeGroup(context.Background(), p.logger)
		for _, ctrl := range autoruns {
			ctrl := ctrl
			sg.Go(func() error {
				return ctrl.Stop()
			})
		}
		if err := sg.Wait(); err != nil {
			p.logger.Warn("Error stopping auto-run controllers", logger.WithField("error", err))
		}

		if p.configWatch != nil {
			if err := p.configWatch.Stop(); err != nil {
				p.logger.Warn("Failed to stop config watcher", logger.WithField("error", err))
			}
		}

		p.stateManager.StopHeartbeat()

		if p.watchman != nil && p.watchman.IsConnected() {
			if err := p.watchman.Disconnect(); err != nil {
				p.logger.Warn("Failed to disconnect from watchman", logger.WithField("error", err))
			}
		}

		p.wg.Wait()

		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Poltergeist stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("Poltergeist shutdown timed out", logger.WithField("error", ctx.Err()))
	}
}

// Stop stops the Poltergeist engine (deprecated - use StopWithContext).
func (p *Poltergeist) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.StopWithContext(ctx)
}

// Cleanup performs cleanup operations.
func (p *Poltergeist) Cleanup() error {
	return p.stateManager.Cleanup()
}

// TargetNames returns the names of every target currently registered
// with the lifecycle, for status reporting.
func (p *Poltergeist) TargetNames() []string {
	states := p.lifecycle.GetTargetStates()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	return names
}

// Private methods

func (p *Poltergeist) setupWatchmanConfig() error {
	p.logger.Info("Setting up Watchman configuration...")

	if err := p.watchmanConfigManager.EnsureConfigUpToDate(p.config); err != nil {
		return err
	}

	suggestions, err := p.watchmanConfigManager.SuggestOptimizations()
	if err == nil && len(suggestions) > 0 {
		p.logger.Info("Optimization suggestions:")
		for _, s := range suggestions {
			p.logger.Info(fmt.Sprintf("  - %s", s))
		}
	}

	return nil
}

// subscribeToChanges groups every registered target's watch patterns and
// creates one Watchman subscription per distinct pattern.
func (p *Poltergeist) subscribeToChanges() error {
	pathToTargets := make(map[string][]string)

	for name, record := range p.lifecycle.GetTargetStates() {
		for _, pattern := range record.Target.GetWatchPaths() {
			pathToTargets[pattern] = append(pathToTargets[pattern], name)
		}
	}

	exclusions := p.watchmanConfigManager.CreateExclusionExpressions(p.config)

	var names []string
	for pattern, targetNames := range pathToTargets {
		normalizedPattern, err := p.watchmanConfigManager.NormalizeWatchPattern(pattern)
		if err != nil {
			return fmt.Errorf("invalid watch pattern %s: %w", pattern, err)
		}
		if err := p.watchmanConfigManager.ValidateWatchPattern(normalizedPattern); err != nil {
			return fmt.Errorf("invalid watch pattern %s: %w", pattern, err)
		}

		subscriptionName := fmt.Sprintf("poltergeist_%s", normalizedPattern)
		targetNames := targetNames

		err = p.watchman.Subscribe(
			p.projectRoot,
			subscriptionName,
			interfaces.SubscriptionConfig{
				Expression: []interface{}{"match", normalizedPattern, "wholename"},
				Fields:     []string{"name", "exists", "type"},
			},
			func(files []interfaces.FileChange) {
				p.handleFileChanges(files, targetNames)
			},
			exclusions,
		)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
		}

		names = append(names, subscriptionName)
		p.logger.Info(fmt.Sprintf("Watching %d target(s): %s", len(targetNames), normalizedPattern))
	}

	p.mu.Lock()
	p.subscriptions = names
	p.mu.Unlock()

	return nil
}

// resubscribe tears down every subscription this instance created and
// recreates them from the lifecycle's current target set. Used after a
// config reload adds, removes, or reshapes watch patterns.
func (p *Poltergeist) resubscribe() error {
	p.mu.Lock()
	existing := p.subscriptions
	p.subscriptions = nil
	p.mu.Unlock()

	for _, name := range existing {
		if err := p.watchman.Unsubscribe(name); err != nil {
			p.logger.Warn("Failed to unsubscribe", logger.WithField("subscription", name), logger.WithField("error", err))
		}
	}

	return p.subscribeToChanges()
}

func (p *Poltergeist) handleFileChanges(files []interfaces.FileChange, targetNames []string) {
	changedFiles := make([]string, 0, len(files))
	for _, f := range files {
		if f.Exists {
			changedFiles = append(changedFiles, f.Name)
		}
	}
	if len(changedFiles) == 0 {
		return
	}

	p.logger.Debug(fmt.Sprintf("Files changed: %v", changedFiles))

	for _, targetName := range targetNames {
		record, ok := p.lifecycle.Get(targetName)
		if !ok {
			continue
		}
		record.Debouncer.Add(changedFiles)
	}
}

// onConfigChanged is the Config-Reload Orchestrator's handler: it
// applies the diff to the lifecycle, build queue, and auto-run
// controllers without disturbing targets the reload left untouched.
func (p *Poltergeist) onConfigChanged(diff configwatch.Diff, newConfig *types.PoltergeistConfig) {
	p.mu.Lock()
	p.config = newConfig
	p.mu.Unlock()

	if len(diff.TargetsRemoved) > 0 {
		p.lifecycle.RemoveTargets(diff.TargetsRemoved)
		p.mu.Lock()
		for _, name := range diff.TargetsRemoved {
			if ctrl, ok := p.autoruns[name]; ok {
				_ = ctrl.Stop()
				delete(p.autoruns, name)
			}
		}
		p.mu.Unlock()
	}

	if len(diff.TargetsAdded) > 0 {
		records, err := p.lifecycle.AddTargets(diff.TargetsAdded, p.onSettled)
		if err != nil {
			p.logger.Error("failed to register added targets", logger.WithField("error", err))
		}
		for _, record := range records {
			p.registerRecord(record)
		}
	}

	if len(diff.TargetsModified) > 0 {
		modified := make([]types.Target, 0, len(diff.TargetsModified))
		for _, change := range diff.TargetsModified {
			modified = append(modified, change.NewTarget)
		}
		records, err := p.lifecycle.UpdateTargets(modified, p.onSettled)
		if err != nil {
			p.logger.Error("failed to apply modified targets", logger.WithField("error", err))
		}
		for _, record := range records {
			p.registerRecord(record)
		}
	}

	if len(diff.TargetsAdded) > 0 || len(diff.TargetsRemoved) > 0 || len(diff.TargetsModified) > 0 || diff.WatchmanChanged {
		if err := p.resubscribe(); err != nil {
			p.logger.Error("failed to resubscribe after config reload", logger.WithField("error", err))
		}
	}

	if diff.BuildSchedulingChanged {
		p.rebuildQueue(newConfig)
	}

	for _, added := range diff.TargetsAdded {
		p.buildQueue.QueueTargetBuild(added.GetName(), interfaces.ReasonInitialBuild)
	}
}

// rebuildQueue replaces the build queue with a fresh instance sized to
// newConfig.BuildScheduling, re-registers every live target's builder,
// and re-enqueues whatever the old queue had pending or buffered.
// §4.E "Scheduling-config reload".
func (p *Poltergeist) rebuildQueue(newConfig *types.PoltergeistConfig) {
	old, ok := p.buildQueue.(*queue.Queue)
	if !ok {
		p.logger.Warn("build queue implementation does not support rebuild; scheduling config change ignored")
		return
	}

	pending := old.DrainPending()
	old.Stop()

	schedulingConfig := newConfig.BuildScheduling
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

	fresh := queue.New(schedulingConfig, p.logger, p.stateManager, p.notifier, p.onBuildDone)

	p.mu.Lock()
	p.buildQueue = fresh
	p.mu.Unlock()

	for _, record := range p.lifecycle.GetTargetStates() {
		fresh.RegisterTarget(record.Target, record.Builder)
	}

	fresh.Start(p.ctx)

	for _, pm := range pending {
		fresh.QueueTargetBuild(pm.TargetName, pm.Reason)
	}

	p.logger.Info(fmt.Sprintf("Rebuilt build queue with parallelization=%d after scheduling config change", schedulingConfig.Parallelization))
}

func (p *Poltergeist) performInitialBuilds() {
	for name := range p.lifecycle.GetTargetStates() {
		p.buildQueue.QueueTargetBuild(name, interfaces.ReasonInitialBuild)
	}
}
