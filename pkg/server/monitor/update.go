package monitor

import (
	"sync"
	"time"
)

// DefaultMaxAge is how long an update job may go without a successful run
// before it is reported unhealthy.
const DefaultMaxAge = 15 * time.Minute

// UpdateMonitor tracks the health of a scheduled update job.
type UpdateMonitor struct {
	// MaxAge overrides DefaultMaxAge when set.
	MaxAge time.Duration

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	processed         int
	backlog           int
}

// RecordSuccess records a successful update run.
func (um *UpdateMonitor) RecordSuccess(processed, backlog int) {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.lastSuccess = time.Now()
	um.lastAttempt = um.lastSuccess
	um.consecutiveErrors = 0
	um.lastError = ""
	um.processed += processed
	um.backlog = backlog
}

// RecordFailure records a failed update run.
func (um *UpdateMonitor) RecordFailure(err error) {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.lastAttempt = time.Now()
	um.consecutiveErrors++
	if err != nil {
		um.lastError = err.Error()
	}
}

// IsHealthy returns true if updates are running properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within MaxAge
//   - More than 3 consecutive failures
func (um *UpdateMonitor) IsHealthy() bool {
	um.mu.RLock()
	defer um.mu.RUnlock()
	return um.healthy()
}

func (um *UpdateMonitor) healthy() bool {
	maxAge := um.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if um.lastSuccess.IsZero() {
		return false
	}
	if time.Since(um.lastSuccess) > maxAge {
		return false
	}
	return um.consecutiveErrors <= 3
}

// UpdateStatus is the update job state reported by health checks.
type UpdateStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	GapsProcessed     int    `json:"gaps_processed"`
	Backlog           int    `json:"backlog"`
}

// Status returns current update status for health checks.
func (um *UpdateMonitor) Status() UpdateStatus {
	um.mu.RLock()
	defer um.mu.RUnlock()

	status := UpdateStatus{
		Healthy:       um.healthy(),
		GapsProcessed: um.processed,
		Backlog:       um.backlog,
	}
	if !um.lastSuccess.IsZero() {
		status.LastSuccess = um.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(um.lastSuccess).Round(time.Second).String()
	}
	if !um.lastAttempt.IsZero() {
		status.LastAttempt = um.lastAttempt.Format(time.RFC3339)
	}
	if um.consecutiveErrors > 0 {
		status.ConsecutiveErrors = um.consecutiveErrors
		status.LastError = um.lastError
	}
	return status
}
