package monitor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStorageMonitor_GetUsage(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "bou-sqdist.json"), []byte(`{"version":1}`), 0644); err != nil {
		t.Fatalf("Failed to create state file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir, 1<<30)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage <= 0 {
		t.Errorf("GetUsage() = %d, want > 0", usage)
	}
	if got := sm.GetLimit(); got != 1<<30 {
		t.Errorf("GetLimit() = %d, want %d", got, 1<<30)
	}

	again, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if again != usage {
		t.Errorf("cached usage differs: %d != %d", again, usage)
	}
}

func TestStorageMonitor_CheckLimit(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "data.vlog"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create data file: %v", err)
	}

	if err := NewStorageMonitor(tmpDir, 1<<30).CheckLimit(); err != nil {
		t.Errorf("CheckLimit() under limit = %v, want nil", err)
	}
	if err := NewStorageMonitor(tmpDir, 1).CheckLimit(); err == nil {
		t.Error("CheckLimit() over limit should fail")
	}
	if err := NewStorageMonitor(tmpDir, 0).CheckLimit(); err != nil {
		t.Errorf("CheckLimit() without limit = %v, want nil", err)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345", 1<<30)
	if _, err := sm.GetUsage(); err == nil {
		t.Error("GetUsage() should return error for nonexistent directory")
	}
}
