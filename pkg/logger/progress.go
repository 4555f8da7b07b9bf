package logger

import (
	"fmt"
	"sync"
	"time"
)

// BatchTracker counts the outcome of a best-effort pass over many items,
// such as creating ledger entries for every unreconciled line on confirm.
type BatchTracker struct {
	logger    Logger
	operation string
	total     int
	succeeded int
	failed    int
	startTime time.Time
	mutex     sync.Mutex
}

// NewBatchTracker creates a tracker and logs the start of the pass
func NewBatchTracker(operation string, total int, logger Logger) *BatchTracker {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	tracker := &BatchTracker{
		logger:    logger.WithComponent("batch"),
		operation: operation,
		total:     total,
		startTime: time.Now(),
	}

	tracker.logger.WithFields(Fields{
		"operation": operation,
		"total":     total,
	}).Debug("Starting batch")

	return tracker
}

// Succeeded records one successful item
func (b *BatchTracker) Succeeded() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.succeeded++
}

// Failed records one failed item and logs it at warn level
func (b *BatchTracker) Failed(item string, err error) {
	b.mutex.Lock()
	b.failed++
	b.mutex.Unlock()

	b.logger.WithError(err).WithFields(Fields{
		"operation": b.operation,
		"item":      item,
	}).Warn("Batch item failed")
}

// Complete logs the final counts and returns them
func (b *BatchTracker) Complete() BatchStats {
	stats := b.Stats()

	entry := b.logger.WithFields(Fields{
		"operation": stats.Operation,
		"total":     stats.Total,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"duration":  stats.Duration.String(),
	})
	if stats.Failed > 0 {
		entry.Warn("Batch completed with failures")
	} else {
		entry.Debug("Batch completed")
	}

	return stats
}

// Stats returns the current counts
func (b *BatchTracker) Stats() BatchStats {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return BatchStats{
		Operation: b.operation,
		Total:     b.total,
		Succeeded: b.succeeded,
		Failed:    b.failed,
		Duration:  time.Since(b.startTime),
	}
}

// BatchStats contains batch statistics
type BatchStats struct {
	Operation string        `json:"operation"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// String returns a human-readable representation of the batch
func (bs BatchStats) String() string {
	return fmt.Sprintf("%s: %d/%d succeeded, %d failed in %v",
		bs.Operation, bs.Succeeded, bs.Total, bs.Failed, bs.Duration.Round(time.Millisecond))
}

// OperationLogger provides structured logging for operations with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	ol.logger.WithField("operation", operation).Debug("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) merged(extra Fields) Fields {
	fields := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string, extra Fields) {
	f := ol.merged(extra)
	f["step"] = step
	ol.logger.WithFields(f).Debug("Operation step")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string, extra Fields) {
	f := ol.merged(extra)
	f["duration"] = time.Since(ol.startTime).String()
	ol.logger.WithFields(f).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	f := ol.merged(nil)
	f["duration"] = time.Since(ol.startTime).String()
	ol.logger.WithError(err).WithFields(f).Error(message)
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string, extra Fields) {
	ol.logger.WithFields(ol.merged(extra)).Warn(message)
}
