// Package stats collects operation metrics for sorted record files with
// minimal contention, using atomic counters.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpLocate OperationType = "locate"
	OpInsert OperationType = "insert"
	OpUpdate OperationType = "update"
	OpScan   OperationType = "scan"
	OpVerify OperationType = "verify"
)

// Collector provides centralized statistics collection using atomic
// operations for thread safety.
type Collector struct {
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Search behavior
	probes       atomic.Uint64
	resyncScans  atomic.Uint64
	resyncBytes  atomic.Uint64
	hintsApplied atomic.Uint64
	hintsDropped atomic.Uint64
	cacheHits    atomic.Uint64

	// Write behavior
	shiftedBytes atomic.Uint64

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // nanoseconds
	max   atomic.Uint64 // nanoseconds
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	return &Collector{
		counts:    make(map[OperationType]*atomic.Uint64),
		errors:    make(map[string]*atomic.Uint64),
		latencies: make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the given operation type
func (c *Collector) TrackOperation(op OperationType) {
	c.counterFor(op).Add(1)
}

// TrackOperationWithLatency records an operation and its duration
func (c *Collector) TrackOperationWithLatency(op OperationType, latency time.Duration) {
	c.counterFor(op).Add(1)

	c.latenciesMu.RLock()
	tracker, ok := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !ok {
		c.latenciesMu.Lock()
		tracker, ok = c.latencies[op]
		if !ok {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	ns := uint64(latency.Nanoseconds())
	tracker.count.Add(1)
	tracker.sum.Add(ns)
	for {
		current := tracker.max.Load()
		if ns <= current || tracker.max.CompareAndSwap(current, ns) {
			break
		}
	}
}

// TrackProbes adds to the running count of locate probes
func (c *Collector) TrackProbes(n int) {
	c.probes.Add(uint64(n))
}

// TrackResync records a resynchronization scan and the bytes it examined
func (c *Collector) TrackResync(scannedBytes int64) {
	c.resyncScans.Add(1)
	c.resyncBytes.Add(uint64(scannedBytes))
}

// TrackHint records whether a caller-supplied search hint was applied or
// discarded as inconsistent
func (c *Collector) TrackHint(applied bool) {
	if applied {
		c.hintsApplied.Add(1)
	} else {
		c.hintsDropped.Add(1)
	}
}

// TrackCacheHit records a boundary cache hit that narrowed a search window
func (c *Collector) TrackCacheHit() {
	c.cacheHits.Add(1)
}

// TrackShift adds to the running count of bytes moved by region shifts
func (c *Collector) TrackShift(bytes int64) {
	c.shiftedBytes.Add(uint64(bytes))
}

// TrackError increments the counter for the given error class
func (c *Collector) TrackError(class string) {
	c.errorsMu.RLock()
	counter, ok := c.errors[class]
	c.errorsMu.RUnlock()

	if !ok {
		c.errorsMu.Lock()
		counter, ok = c.errors[class]
		if !ok {
			counter = &atomic.Uint64{}
			c.errors[class] = counter
		}
		c.errorsMu.Unlock()
	}
	counter.Add(1)
}

func (c *Collector) counterFor(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, ok := c.counts[op]
	c.countsMu.RUnlock()

	if !ok {
		c.countsMu.Lock()
		counter, ok = c.counts[op]
		if !ok {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}
	return counter
}

// LatencyStats summarizes tracked latencies for one operation type
type LatencyStats struct {
	Count uint64
	Avg   time.Duration
	Max   time.Duration
}

// Snapshot is a point-in-time copy of all collected statistics
type Snapshot struct {
	Counts       map[OperationType]uint64
	Probes       uint64
	ResyncScans  uint64
	ResyncBytes  uint64
	HintsApplied uint64
	HintsDropped uint64
	CacheHits    uint64
	ShiftedBytes uint64
	Errors       map[string]uint64
	Latencies    map[OperationType]LatencyStats
}

// GetStats returns a snapshot of the current statistics
func (c *Collector) GetStats() Snapshot {
	snap := Snapshot{
		Counts:       make(map[OperationType]uint64),
		Probes:       c.probes.Load(),
		ResyncScans:  c.resyncScans.Load(),
		ResyncBytes:  c.resyncBytes.Load(),
		HintsApplied: c.hintsApplied.Load(),
		HintsDropped: c.hintsDropped.Load(),
		CacheHits:    c.cacheHits.Load(),
		ShiftedBytes: c.shiftedBytes.Load(),
		Errors:       make(map[string]uint64),
		Latencies:    make(map[OperationType]LatencyStats),
	}

	c.countsMu.RLock()
	for op, counter := range c.counts {
		snap.Counts[op] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.errorsMu.RLock()
	for class, counter := range c.errors {
		snap.Errors[class] = counter.Load()
	}
	c.errorsMu.RUnlock()

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		stats := LatencyStats{
			Count: count,
			Max:   time.Duration(tracker.max.Load()),
		}
		if count > 0 {
			stats.Avg = time.Duration(tracker.sum.Load() / count)
		}
		snap.Latencies[op] = stats
	}
	c.latenciesMu.RUnlock()

	return snap
}
