package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

// TargetRecord is a registered target together with its builder and
// debouncer. The supervisor and the build queue both read from it.
type TargetRecord struct {
	Target    types.Target
	Builder   interfaces.Builder
	Debouncer *Debouncer
}

// TargetLifecycle owns registration and teardown of the set of targets
// being watched. It validates each target's builder before admitting it,
// and stops in-flight builders on removal.
type TargetLifecycle struct {
	projectRoot    string
	logger         logger.Logger
	builderFactory interfaces.BuilderFactory
	stateManager   interfaces.StateManager

	mu      sync.RWMutex
	records map[string]*TargetRecord
}

// NewTargetLifecycle creates a target lifecycle manager.
func NewTargetLifecycle(
	projectRoot string,
	log logger.Logger,
	builderFactory interfaces.BuilderFactory,
	stateManager interfaces.StateManager,
) *TargetLifecycle {
	return &TargetLifecycle{
		projectRoot:    projectRoot,
		logger:         log,
		builderFactory: builderFactory,
		stateManager:   stateManager,
		records:        make(map[string]*TargetRecord),
	}
}

// InitTargets resolves raw config targets to the requested set (all
// enabled targets, or a single named one), builds a validated builder for
// each, and registers them. A target already registered under the same
// name is replaced; other previously registered targets are kept.
func (l *TargetLifecycle) InitTargets(rawTargets []json.RawMessage, targetName string, onSettled func(targetName string, files []string)) ([]*TargetRecord, error) {
	targets, err := l.resolveTargets(rawTargets, targetName)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets to watch")
	}

	var records []*TargetRecord
	for _, target := range targets {
		record, err := l.addTargetLocked(target, onSettled)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (l *TargetLifecycle) resolveTargets(rawTargets []json.RawMessage, targetName string) ([]types.Target, error) {
	var targets []types.Target
	for _, raw := range rawTargets {
		target, err := types.ParseTarget(raw)
		if err != nil {
			l.logger.Warn("Failed to parse target", logger.WithField("error", err))
			continue
		}
		if targetName != "" {
			if target.GetName() == targetName {
				if target.IsEnabled() {
					targets = append(targets, target)
				}
				return targets, nil
			}
			continue
		}
		if target.IsEnabled() {
			targets = append(targets, target)
		}
	}
	if targetName != "" && len(targets) == 0 {
		return nil, fmt.Errorf("target %q not found or disabled", targetName)
	}
	return targets, nil
}

// AddTargets registers new targets discovered after a config reload.
func (l *TargetLifecycle) AddTargets(targets []types.Target, onSettled func(targetName string, files []string)) ([]*TargetRecord, error) {
	var records []*TargetRecord
	for _, target := range targets {
		record, err := l.addTargetLocked(target, onSettled)
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (l *TargetLifecycle) addTargetLocked(target types.Target, onSettled func(targetName string, files []string)) (*TargetRecord, error) {
	builder, err := l.builderFactory.CreateBuilder(target, l.projectRoot, l.logger, l.stateManager)
	if err != nil {
		return nil, fmt.Errorf("no builder for target %s: %w", target.GetName(), err)
	}
	if err := builder.Validate(); err != nil {
		return nil, fmt.Errorf("target validation failed for %s: %w", target.GetName(), err)
	}

	record := &TargetRecord{
		Target:  target,
		Builder: builder,
		Debouncer: NewDebouncer(time.Duration(target.GetSettlingDelay())*time.Millisecond, func(files []string) {
			onSettled(target.GetName(), files)
		}),
	}

	if _, err := l.stateManager.InitializeState(target); err != nil {
		l.logger.Warn(fmt.Sprintf("Failed to initialize state for %s", target.GetName()), logger.WithField("error", err))
	}

	l.mu.Lock()
	if existing, ok := l.records[target.GetName()]; ok {
		existing.Debouncer.Stop()
	}
	l.records[target.GetName()] = record
	l.mu.Unlock()

	return record, nil
}

// UpdateTargets swaps the builder/debouncer for targets whose config
// changed. Callers identify which targets changed; InitTargets/AddTargets
// semantics (validate, then swap) apply here too.
func (l *TargetLifecycle) UpdateTargets(targets []types.Target, onSettled func(targetName string, files []string)) ([]*TargetRecord, error) {
	return l.AddTargets(targets, onSettled)
}

// RemoveTargets stops and unregisters targets that disappeared from config.
func (l *TargetLifecycle) RemoveTargets(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range names {
		if record, ok := l.records[name]; ok {
			record.Debouncer.Stop()
			_ = record.Builder.Stop()
			delete(l.records, name)
		}
	}
}

// StopTargets stops every registered builder and debouncer, without
// removing the records (used on full shutdown).
func (l *TargetLifecycle) StopTargets() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, record := range l.records {
		record.Debouncer.Stop()
		_ = record.Builder.Stop()
	}
}

// GetTargetStates returns a snapshot of registered records.
func (l *TargetLifecycle) GetTargetStates() map[string]*TargetRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*TargetRecord, len(l.records))
	for k, v := range l.records {
		out[k] = v
	}
	return out
}

// Get returns a single registered record by target name.
func (l *TargetLifecycle) Get(name string) (*TargetRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	record, ok := l.records[name]
	return record, ok
}
