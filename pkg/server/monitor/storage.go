// Package monitor tracks the health of the local data directory and of
// scheduled update jobs for the health endpoints.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StorageMonitor reports disk usage of the local data directory (sample
// store and state files), cached for a few seconds.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a storage monitor. maxBytes <= 0 disables the
// limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current storage usage in bytes.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// CheckLimit returns an error when usage has reached the limit.
func (sm *StorageMonitor) CheckLimit() error {
	if sm.maxBytes <= 0 {
		return nil
	}
	used, err := sm.GetUsage()
	if err != nil {
		return fmt.Errorf("failed to check storage usage: %w", err)
	}
	if used >= sm.maxBytes {
		return fmt.Errorf("storage limit reached: %d of %d bytes used", used, sm.maxBytes)
	}
	return nil
}

func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		actual, err := getActualFileSize(filePath, info)
		if err != nil || actual <= 0 {
			actual = info.Size()
		}
		size += actual
		return nil
	})
	return size, err
}
