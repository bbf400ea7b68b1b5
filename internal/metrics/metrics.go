// Package metrics provides lightweight, lock-free counters using atomic
// operations so they impose minimal overhead on the ingest hot path.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the ban-enforcement pipeline.
//
// All counters are accessed exclusively through atomic operations, which means:
//   - There is no mutex contention even with hundreds of nodes streaming logs
//     concurrently.
//   - The struct may be embedded or passed as a pointer without additional
//     synchronisation.
//   - Reads and writes are linearisable: a value read after a write always
//     reflects at least that write.
//
// Fields are uint64 and aligned to 64-bit boundaries to satisfy the
// requirements of sync/atomic on 32-bit platforms.
type Metrics struct {
	// ObservationsProcessed counts observations the Check Service admitted
	// to the Active-Users Store (excepted IPs and failed limit lookups are
	// not counted).
	ObservationsProcessed uint64

	// ObservationsDropped counts observations dropped because the log queue
	// was full (spec.md §7 "Queue full: drop observation, log warning").
	ObservationsDropped uint64

	// BansIssued counts successful violation-episode ban decisions made by
	// the Check Service, regardless of how many nodes actually accepted the
	// per-node BanUser call.
	BansIssued uint64

	// BanRPCFailures counts individual per-node BanUser calls that failed;
	// one ban decision can contribute multiple failures across a fleet.
	BanRPCFailures uint64

	// PanelAuthFailures counts 401 responses from the panel that triggered
	// a token clear-and-retry cycle.
	PanelAuthFailures uint64

	// LimitResolutionTimeouts counts limit lookups that exceeded the 10s
	// budget from spec.md §7 and were dropped for the current observation.
	LimitResolutionTimeouts uint64

	// startTime records when the metrics instance was created so that
	// ObservationsPerSecond can compute a meaningful rate.
	startTime time.Time
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncrementObservationsProcessed atomically increments the processed counter.
func (m *Metrics) IncrementObservationsProcessed() {
	atomic.AddUint64(&m.ObservationsProcessed, 1)
}

// IncrementObservationsDropped atomically increments the dropped counter.
func (m *Metrics) IncrementObservationsDropped() {
	atomic.AddUint64(&m.ObservationsDropped, 1)
}

// IncrementBansIssued atomically increments the bans-issued counter.
func (m *Metrics) IncrementBansIssued() {
	atomic.AddUint64(&m.BansIssued, 1)
}

// IncrementBanRPCFailures atomically increments the per-node ban-failure counter.
func (m *Metrics) IncrementBanRPCFailures() {
	atomic.AddUint64(&m.BanRPCFailures, 1)
}

// IncrementPanelAuthFailures atomically increments the panel-401 counter.
func (m *Metrics) IncrementPanelAuthFailures() {
	atomic.AddUint64(&m.PanelAuthFailures, 1)
}

// IncrementLimitResolutionTimeouts atomically increments the limit-timeout counter.
func (m *Metrics) IncrementLimitResolutionTimeouts() {
	atomic.AddUint64(&m.LimitResolutionTimeouts, 1)
}

// ObservationsPerSecond returns the average observation-processing rate since
// the Metrics instance was created. Returns 0 only when no time at all has
// elapsed, to avoid division by zero.
func (m *Metrics) ObservationsPerSecond() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&m.ObservationsProcessed)) / elapsed
}

// Snapshot returns a point-in-time copy of the counters. Because the loads
// are not performed under a single lock, the snapshot may be very slightly
// inconsistent at nanosecond granularity, which is acceptable for monitoring
// purposes.
func (m *Metrics) Snapshot() (processed, dropped, bans, banFailures, authFailures, limitTimeouts uint64) {
	return atomic.LoadUint64(&m.ObservationsProcessed),
		atomic.LoadUint64(&m.ObservationsDropped),
		atomic.LoadUint64(&m.BansIssued),
		atomic.LoadUint64(&m.BanRPCFailures),
		atomic.LoadUint64(&m.PanelAuthFailures),
		atomic.LoadUint64(&m.LimitResolutionTimeouts)
}
