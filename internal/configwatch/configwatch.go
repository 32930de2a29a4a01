// Package configwatch implements the Config-Reload Orchestrator: it
// watches poltergeist.config.json for changes, debounces edits the way
// pkg/config.ReloadManager already does, and turns an old/new config
// pair into a structural diff the supervisor can act on without
// tearing down targets that didn't change.
package configwatch

import (
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wisptrack/poltergeist/pkg/config"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// TargetChange describes a target present in both the old and new
// config whose definition differs.
type TargetChange struct {
	Name      string
	OldTarget types.Target
	NewTarget types.Target
}

// Diff is a structural comparison between two loaded configurations.
type Diff struct {
	TargetsAdded    []types.Target
	TargetsRemoved  []string
	TargetsModified []TargetChange

	WatchmanChanged        bool
	NotificationsChanged   bool
	BuildSchedulingChanged bool
}

// IsEmpty reports whether the diff carries no actionable change.
func (d Diff) IsEmpty() bool {
	return len(d.TargetsAdded) == 0 && len(d.TargetsRemoved) == 0 && len(d.TargetsModified) == 0 &&
		!d.WatchmanChanged && !d.NotificationsChanged && !d.BuildSchedulingChanged
}

// Compute builds a Diff between an old and a new configuration. Targets
// are parsed and keyed by name; a target present in both configs is
// compared with cmp.Equal on its parsed value, so only edits to fields
// ParseTarget decodes surface as a modification.
func Compute(oldCfg, newCfg *types.PoltergeistConfig) (Diff, error) {
	oldTargets, err := parseTargets(oldCfg)
	if err != nil {
		return Diff{}, fmt.Errorf("parsing previous config targets: %w", err)
	}
	newTargets, err := parseTargets(newCfg)
	if err != nil {
		return Diff{}, fmt.Errorf("parsing reloaded config targets: %w", err)
	}

	var diff Diff
	for name, nt := range newTargets {
		ot, existed := oldTargets[name]
		if !existed {
			diff.TargetsAdded = append(diff.TargetsAdded, nt)
			continue
		}
		if !cmp.Equal(ot, nt) {
			diff.TargetsModified = append(diff.TargetsModified, TargetChange{Name: name, OldTarget: ot, NewTarget: nt})
		}
	}
	for name := range oldTargets {
		if _, stillPresent := newTargets[name]; !stillPresent {
			diff.TargetsRemoved = append(diff.TargetsRemoved, name)
		}
	}

	diff.WatchmanChanged = !cmp.Equal(oldCfg.Watchman, newCfg.Watchman)
	diff.NotificationsChanged = !cmp.Equal(oldCfg.Notifications, newCfg.Notifications)
	diff.BuildSchedulingChanged = !cmp.Equal(oldCfg.BuildScheduling, newCfg.BuildScheduling)

	return diff, nil
}

func parseTargets(cfg *types.PoltergeistConfig) (map[string]types.Target, error) {
	out := make(map[string]types.Target, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		target, err := types.ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		out[target.GetName()] = target
	}
	return out, nil
}

// Handler is notified whenever a reload produces a non-empty diff.
type Handler func(diff Diff, newConfig *types.PoltergeistConfig)

// Orchestrator wires pkg/config.ReloadManager's file-watch+debounce
// loop to Compute, so callers only see changes that actually matter.
type Orchestrator struct {
	reload  *config.ReloadManager
	logger  logger.Logger
	current *types.PoltergeistConfig
	handler Handler
}

// New creates a Config-Reload Orchestrator for the config file at path.
// currentConfig is the configuration already in effect.
func New(path string, currentConfig *types.PoltergeistConfig, log logger.Logger, handler Handler) *Orchestrator {
	o := &Orchestrator{
		reload:  config.NewReloadManager(path, log),
		logger:  log,
		current: currentConfig,
		handler: handler,
	}

	// Debounce config edits on the same settling window as file-change
	// detection, rather than the reload manager's generic default, so a
	// burst of saves from an editor settles on one reload.
	if currentConfig != nil && currentConfig.Watchman != nil && currentConfig.Watchman.SettlingDelay > 0 {
		o.reload.SetDebouncePeriod(time.Duration(currentConfig.Watchman.SettlingDelay) * time.Millisecond)
	}

	o.reload.AddCallback(o.onReload)
	return o
}

// Start begins watching the configuration file.
func (o *Orchestrator) Start() error {
	return o.reload.StartWatching()
}

// Stop stops watching the configuration file.
func (o *Orchestrator) Stop() error {
	return o.reload.StopWatching()
}

func (o *Orchestrator) onReload(newConfig *types.PoltergeistConfig, event config.ReloadEvent, err error) {
	if err != nil {
		o.logger.Error("configuration reload failed, keeping previous configuration",
			logger.WithField("event", event.EventType), logger.WithField("error", err))
		return
	}

	diff, err := Compute(o.current, newConfig)
	if err != nil {
		o.logger.Error("configuration reload produced an unparseable diff, keeping previous configuration",
			logger.WithField("error", err))
		return
	}
	if diff.IsEmpty() {
		o.logger.Debug("configuration reloaded with no structural change")
		return
	}

	o.logger.Info("configuration changed",
		logger.WithField("added", len(diff.TargetsAdded)),
		logger.WithField("removed", len(diff.TargetsRemoved)),
		logger.WithField("modified", len(diff.TargetsModified)))

	o.current = newConfig
	o.handler(diff, newConfig)
}
