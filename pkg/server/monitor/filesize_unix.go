//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// getActualFileSize returns allocated bytes on Unix systems, which is
// smaller than the logical size for sparse files.
func getActualFileSize(_ string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// st_blocks is in 512 byte units
	return stat.Blocks * 512, nil
}
