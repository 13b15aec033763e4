package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackCells records cells that were physically programmed and cells
	// whose write was skipped because the value was unchanged
	TrackCells(programmed, skipped uint64)

	// TrackBytesRead adds to the count of record bytes returned to callers
	TrackBytesRead(bytes uint64)

	// TrackRotation increments the block rotation counter
	TrackRotation()

	// StartRecovery initializes recovery statistics
	StartRecovery() time.Time

	// FinishRecovery completes recovery statistics
	FinishRecovery(startTime time.Time, blocksScanned uint64, found bool, blockAddr uint32)
}

var _ Collector = (*AtomicCollector)(nil)
