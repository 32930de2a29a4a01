package engine

import (
	"sync"
	"time"
)

// Debouncer accumulates changed file paths for a single target and fires
// onSettled with the union once no new file has arrived for the settling
// delay. Each new arrival cancels and rearms the timer, per spec.md §4.D.
type Debouncer struct {
	delay     time.Duration
	onSettled func(files []string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewDebouncer creates a debouncer that waits delay after the last file
// change before calling onSettled with the settled file set.
func NewDebouncer(delay time.Duration, onSettled func(files []string)) *Debouncer {
	return &Debouncer{
		delay:     delay,
		onSettled: onSettled,
		pending:   make(map[string]struct{}),
	}
}

// Add merges files into the pending set and (re)arms the settling timer.
func (d *Debouncer) Add(files []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, f := range files {
		d.pending[f] = struct{}{}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	files := make([]string, 0, len(d.pending))
	for f := range d.pending {
		files = append(files, f)
	}
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	if len(files) > 0 {
		d.onSettled(files)
	}
}

// Stop cancels any pending timer without firing it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}
