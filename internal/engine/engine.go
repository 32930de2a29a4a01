// Package engine provides the core build orchestration engine for Poltergeist.
// It wires the Target Lifecycle, Debouncer, and the Intelligent Build Queue
// (pkg/queue) together behind the Poltergeist supervisor.
package engine

// This file serves as the package documentation.
// The actual implementation is split across multiple files for clarity:
// - poltergeist.go: supervisor wiring lifecycle, queue, auto-run, config reload
// - lifecycle.go: Target Lifecycle (registration, teardown, per-target debouncer)
// - debounce.go: settling-window debouncer
// - factory.go: dependency injection factory
// - safegroup.go: panic-safe concurrency utilities
