package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

const (
	OpRecover OperationType = "recover"
	OpRead    OperationType = "read"
	OpWrite   OperationType = "write"
	OpRotate  OperationType = "rotate"
	OpFormat  OperationType = "format"
)

// AtomicCollector collects store statistics using atomic counters. Maps are
// only locked when a new operation or error type is first seen.
type AtomicCollector struct {
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex

	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	cellsProgrammed atomic.Uint64
	cellsSkipped    atomic.Uint64
	bytesRead       atomic.Uint64
	rotations       atomic.Uint64

	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	recoveryStats RecoveryStats

	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex
}

// RecoveryStats describes the most recent recovery scan
type RecoveryStats struct {
	BlocksScanned    atomic.Uint64
	Found            atomic.Bool
	BlockAddr        atomic.Uint32
	RecoveryDuration atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // nanoseconds
	max   atomic.Uint64
	min   atomic.Uint64 // zero until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	for {
		current := tracker.max.Load()
		if latencyNs <= current {
			break
		}
		if tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	for {
		current := tracker.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackCells records programmed and skipped cell writes
func (c *AtomicCollector) TrackCells(programmed, skipped uint64) {
	c.cellsProgrammed.Add(programmed)
	c.cellsSkipped.Add(skipped)
}

// TrackBytesRead adds to the count of record bytes read
func (c *AtomicCollector) TrackBytesRead(bytes uint64) {
	c.bytesRead.Add(bytes)
}

// TrackRotation increments the rotation counter
func (c *AtomicCollector) TrackRotation() {
	c.rotations.Add(1)
}

// StartRecovery resets recovery statistics and returns the start time
func (c *AtomicCollector) StartRecovery() time.Time {
	c.recoveryStats.BlocksScanned.Store(0)
	c.recoveryStats.Found.Store(false)
	c.recoveryStats.BlockAddr.Store(0)
	c.recoveryStats.RecoveryDuration.Store(0)

	return time.Now()
}

// FinishRecovery records the outcome of a recovery scan
func (c *AtomicCollector) FinishRecovery(startTime time.Time, blocksScanned uint64, found bool, blockAddr uint32) {
	c.recoveryStats.BlocksScanned.Store(blocksScanned)
	c.recoveryStats.Found.Store(found)
	c.recoveryStats.BlockAddr.Store(blockAddr)
	c.recoveryStats.RecoveryDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["cells_programmed"] = c.cellsProgrammed.Load()
	stats["cells_skipped"] = c.cellsSkipped.Load()
	stats["bytes_read"] = c.bytesRead.Load()
	stats["rotations"] = c.rotations.Load()

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	recoveryStats := map[string]interface{}{
		"blocks_scanned": c.recoveryStats.BlocksScanned.Load(),
		"found":          c.recoveryStats.Found.Load(),
		"block_addr":     c.recoveryStats.BlockAddr.Load(),
	}
	if d := c.recoveryStats.RecoveryDuration.Load(); d > 0 {
		recoveryStats["duration_us"] = d / int64(time.Microsecond)
	}
	stats["recovery"] = recoveryStats

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics whose key starts with prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
