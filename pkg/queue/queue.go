// Package queue implements the Intelligent Build Queue: it orders,
// deduplicates, and dispatches builds under a parallelism cap with a
// focus-score priority model that favors recently-edited targets.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wisptrack/poltergeist/pkg/interfaces"
	"github.com/wisptrack/poltergeist/pkg/logger"
	"github.com/wisptrack/poltergeist/pkg/types"
)

const dispatchTick = 100 * time.Millisecond

// defaultBuildTimeout is the baseline build duration used to compute a
// per-target timeout when the target carries no build history yet.
const defaultBuildTimeout = 5 * time.Minute

// entry is one queued unit, §3 "Queue entries".
type entry struct {
	id           string
	targetName   string
	reason       interfaces.BuildReason
	changedFiles map[string]struct{}
	enqueuedAt   time.Time
	mergedCount  int
}

func newEntry(targetName string, reason interfaces.BuildReason) *entry {
	return &entry{
		id:           uuid.New().String(),
		targetName:   targetName,
		reason:       reason,
		changedFiles: make(map[string]struct{}),
		enqueuedAt:   time.Now(),
	}
}

func (e *entry) addFiles(files []string) {
	for _, f := range files {
		e.changedFiles[f] = struct{}{}
	}
}

func (e *entry) fileList() []string {
	out := make([]string, 0, len(e.changedFiles))
	for f := range e.changedFiles {
		out = append(out, f)
	}
	return out
}

func (e *entry) merge(other *entry) {
	for f := range other.changedFiles {
		e.changedFiles[f] = struct{}{}
	}
	e.mergedCount += other.mergedCount + 1
}

// targetState tracks per-target focus-score bookkeeping and the single
// in-flight/buffered slots §4.E's invariants require.
type targetState struct {
	target       types.Target
	builder      interfaces.Builder
	focusScore   float64
	lastChangeAt time.Time
	building     bool
	buffered     *entry
	lastBuildDur time.Duration
}

// Queue is the Intelligent Build Queue.
type Queue struct {
	config       *types.BuildSchedulingConfig
	logger       logger.Logger
	stateManager interfaces.StateManager
	notifier     interfaces.BuildNotifier
	onBuildDone  func(targetName string, status types.BuildStatus)

	mu      sync.Mutex
	targets map[string]*targetState
	pending []*entry // not yet dispatched, not yet in-flight

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue. onBuildDone, if non-nil, is invoked after every
// completed build (success or failure) so the supervisor can notify the
// Auto-Run Controller on success.
func New(
	config *types.BuildSchedulingConfig,
	log logger.Logger,
	stateManager interfaces.StateManager,
	notifier interfaces.BuildNotifier,
	onBuildDone func(targetName string, status types.BuildStatus),
) *Queue {
	return &Queue{
		config:       config,
		logger:       log,
		stateManager: stateManager,
		notifier:     notifier,
		onBuildDone:  onBuildDone,
		targets:      make(map[string]*targetState),
	}
}

// PendingMigration describes one queued or buffered build carried over
// during a scheduling-config reload, §4.E "Scheduling-config reload".
type PendingMigration struct {
	TargetName string
	Reason     interfaces.BuildReason
}

// DrainPending snapshots every not-yet-dispatched entry, both the
// pending list and each target's single buffered follow-up, so a
// rebuilt queue can re-enqueue them. It does not touch in-flight
// builds; those finish against the queue that started them.
func (q *Queue) DrainPending() []PendingMigration {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingMigration, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, PendingMigration{TargetName: e.targetName, Reason: e.reason})
	}
	for name, ts := range q.targets {
		if ts.buffered != nil {
			out = append(out, PendingMigration{TargetName: name, Reason: ts.buffered.reason})
		}
	}
	return out
}

// SetOnBuildDone replaces the completion callback. Exists so a caller
// that obtained the queue from a factory (which doesn't yet know the
// supervisor's per-target collaborators) can wire it in afterward.
func (q *Queue) SetOnBuildDone(onBuildDone func(targetName string, status types.BuildStatus)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onBuildDone = onBuildDone
}

func (q *Queue) parallelization() int {
	if q.config == nil || q.config.Parallelization <= 0 {
		return types.DefaultParallelization()
	}
	return q.config.Parallelization
}

func (q *Queue) prioritizationEnabled() bool {
	return q.config != nil && q.config.Prioritization.Enabled
}

func (q *Queue) decayTime() time.Duration {
	if q.prioritizationEnabled() && q.config.Prioritization.PriorityDecayTime > 0 {
		return time.Duration(q.config.Prioritization.PriorityDecayTime) * time.Millisecond
	}
	return 30 * time.Minute
}

func (q *Queue) buildTimeoutMultiplier() float64 {
	if q.prioritizationEnabled() && q.config.Prioritization.BuildTimeoutMultiplier > 0 {
		return q.config.Prioritization.BuildTimeoutMultiplier
	}
	return 2.0
}

// RegisterTarget registers or updates the builder backing a target.
func (q *Queue) RegisterTarget(target types.Target, builder interfaces.Builder) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.targets[target.GetName()]
	if !ok {
		q.targets[target.GetName()] = &targetState{target: target, builder: builder, lastBuildDur: defaultBuildTimeout}
		return
	}
	ts.target = target
	ts.builder = builder
}

// QueueTargetBuild schedules a build with no file context — used for
// initial-build, manual, and retry.
func (q *Queue) QueueTargetBuild(targetName string, reason interfaces.BuildReason) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(targetName, reason, nil)
}

// OnFileChanged schedules builds for a debounced batch, bumping each
// target's focus score to 1.0.
func (q *Queue) OnFileChanged(changedFiles []string, targetNames []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, name := range targetNames {
		if ts, ok := q.targets[name]; ok {
			ts.focusScore = 1.0
			ts.lastChangeAt = now
		}
		q.enqueueLocked(name, interfaces.ReasonFileChange, changedFiles)
	}

	if q.notifier != nil {
		q.notifier.NotifyQueueStatus(q.countInFlightLocked(), len(q.pending))
	}
}

// enqueueLocked adds or merges an entry for targetName. Caller holds q.mu.
func (q *Queue) enqueueLocked(targetName string, reason interfaces.BuildReason, files []string) {
	ts, known := q.targets[targetName]
	if !known {
		q.logger.Warn("build requested for unregistered target", logger.WithField("target", targetName))
		return
	}

	// Invariant 1: at most one in-flight build per target. If building,
	// buffer and merge instead of adding a second pending entry.
	if ts.building {
		if ts.buffered == nil {
			ts.buffered = newEntry(targetName, reason)
		}
		ts.buffered.addFiles(files)
		if reason == interfaces.ReasonFileChange {
			ts.buffered.reason = interfaces.ReasonFileChange
		}
		ts.buffered.mergedCount++
		return
	}

	for _, p := range q.pending {
		if p.targetName == targetName {
			p.addFiles(files)
			p.mergedCount++
			if reason == interfaces.ReasonFileChange {
				p.reason = interfaces.ReasonFileChange
			}
			return
		}
	}

	e := newEntry(targetName, reason)
	e.addFiles(files)
	q.pending = append(q.pending, e)
}

func (q *Queue) countInFlightLocked() int {
	n := 0
	for _, ts := range q.targets {
		if ts.building {
			n++
		}
	}
	return n
}

// GetQueueStatus returns a snapshot of in-flight and pending entries.
func (q *Queue) GetQueueStatus() []interfaces.QueueStatusEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]interfaces.QueueStatusEntry, 0, len(q.pending)+len(q.targets))
	for _, e := range q.pending {
		out = append(out, interfaces.QueueStatusEntry{
			Target:      e.targetName,
			State:       interfaces.QueueEntryPending,
			Priority:    q.priorityLocked(e),
			MergedCount: e.mergedCount,
			EnqueuedAt:  e.enqueuedAt,
		})
	}
	for name, ts := range q.targets {
		if ts.building {
			out = append(out, interfaces.QueueStatusEntry{Target: name, State: interfaces.QueueEntryBuilding})
		}
		if ts.buffered != nil {
			out = append(out, interfaces.QueueStatusEntry{
				Target:      name,
				State:       interfaces.QueueEntryBuffered,
				MergedCount: ts.buffered.mergedCount,
				EnqueuedAt:  ts.buffered.enqueuedAt,
			})
		}
	}
	return out
}

// priorityLocked computes priority = focusScore + reasonBoost. Caller holds q.mu.
func (q *Queue) priorityLocked(e *entry) float64 {
	if !q.prioritizationEnabled() {
		return 0
	}
	ts := q.targets[e.targetName]
	score := 0.0
	if ts != nil && !ts.lastChangeAt.IsZero() {
		elapsed := time.Since(ts.lastChangeAt)
		decay := q.decayTime()
		if elapsed >= decay {
			score = 0
		} else {
			score = ts.focusScore * (1.0 - float64(elapsed)/float64(decay))
		}
	}
	return score + reasonBoost(e.reason)
}

func reasonBoost(reason interfaces.BuildReason) float64 {
	switch reason {
	case interfaces.ReasonRetry:
		return 0.5
	case interfaces.ReasonInitialBuild:
		return -0.25
	default:
		return 0
	}
}

// Start launches the dispatch loop.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.dispatchLoop()
}

// Stop cancels the dispatch loop and waits for in-flight workers to exit
// their coordination goroutines (not the underlying builder process,
// which Lifecycle.stopTargets tears down separately).
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) dispatchLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(dispatchTick)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchReady()
		}
	}
}

// dispatchReady picks the highest-priority ready entry, for as many
// slots as parallelization allows, and spawns a worker per dispatch.
func (q *Queue) dispatchReady() {
	for {
		e, ts := q.claimNextLocked()
		if e == nil {
			return
		}
		q.wg.Add(1)
		go q.runBuild(e, ts)
	}
}

func (q *Queue) claimNextLocked() (*entry, *targetState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.countInFlightLocked() >= q.parallelization() {
		return nil, nil
	}
	if len(q.pending) == 0 {
		return nil, nil
	}

	sort.SliceStable(q.pending, func(i, j int) bool {
		pi, pj := q.priorityLocked(q.pending[i]), q.priorityLocked(q.pending[j])
		if pi != pj {
			return pi > pj
		}
		if !q.pending[i].enqueuedAt.Equal(q.pending[j].enqueuedAt) {
			return q.pending[i].enqueuedAt.Before(q.pending[j].enqueuedAt)
		}
		return q.pending[i].targetName < q.pending[j].targetName
	})

	// Skip targets already in-flight (should not happen: enqueueLocked
	// buffers instead, but the invariant is cheap to double-check here).
	for i, e := range q.pending {
		ts := q.targets[e.targetName]
		if ts == nil || ts.building {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		ts.building = true
		return e, ts
	}
	return nil, nil
}

func (q *Queue) runBuild(e *entry, ts *targetState) {
	defer q.wg.Done()

	if q.notifier != nil {
		q.notifier.NotifyBuildStart(e.targetName)
	}

	timeout := time.Duration(float64(ts.lastBuildDur) * q.buildTimeoutMultiplier())
	if timeout <= 0 {
		timeout = defaultBuildTimeout * time.Duration(q.buildTimeoutMultiplier())
	}
	buildCtx, cancel := context.WithTimeout(q.ctx, timeout)
	defer cancel()

	start := time.Now()
	status, buildErr := ts.builder.Build(buildCtx, e.fileList())
	duration := time.Since(start)

	if buildCtx.Err() == context.DeadlineExceeded {
		_ = ts.builder.Stop()
		status = types.BuildStatus{
			Status:       types.BuildStateFailure,
			Timestamp:    time.Now(),
			DurationMs:   duration.Milliseconds(),
			Error:        "build timed out",
			ErrorSummary: "build timed out",
			ErrorType:    types.BuildErrorRuntime,
		}
	} else if buildErr != nil && status.Status == "" {
		status = types.BuildStatus{
			Status:       types.BuildStateFailure,
			Timestamp:    time.Now(),
			DurationMs:   duration.Milliseconds(),
			Error:        buildErr.Error(),
			ErrorSummary: summarize(buildErr.Error()),
			ErrorType:    types.BuildErrorUnknown,
		}
	}

	if q.stateManager != nil {
		if err := q.stateManager.UpdateBuildStatus(e.targetName, status); err != nil {
			q.logger.Error("failed to persist build status",
				logger.WithField("target", e.targetName), logger.WithField("error", err.Error()))
		}
	}

	if q.notifier != nil {
		if status.Status == types.BuildStateSuccess {
			q.notifier.NotifyBuildSuccess(e.targetName, duration)
		} else {
			q.notifier.NotifyBuildFailure(e.targetName, fmt.Errorf("%s", status.Error))
		}
	}

	if q.onBuildDone != nil {
		q.onBuildDone(e.targetName, status)
	}

	q.mu.Lock()
	ts.building = false
	ts.lastBuildDur = duration
	buffered := ts.buffered
	ts.buffered = nil
	q.mu.Unlock()

	if buffered != nil {
		q.mu.Lock()
		q.pending = append(q.pending, buffered)
		q.mu.Unlock()
	}

	if q.notifier != nil {
		q.mu.Lock()
		active, queued := q.countInFlightLocked(), len(q.pending)
		q.mu.Unlock()
		q.notifier.NotifyQueueStatus(active, queued)
	}
}

func summarize(msg string) string {
	if len(msg) <= 100 {
		return msg
	}
	return msg[:97] + "..."
}
