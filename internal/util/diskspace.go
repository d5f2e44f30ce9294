package util

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// CheckFreeSpace fails when the filesystem holding path has less than minFreeMB free.
// minFreeMB == 0 skips the check.
func CheckFreeSpace(path string, minFreeMB uint64) error {
	if minFreeMB == 0 {
		return nil
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("disk usage for %s: %w", path, err)
	}

	freeMB := usage.Free / (1024 * 1024)
	if freeMB < minFreeMB {
		return fmt.Errorf("only %d MB free on %s, need at least %d MB", freeMB, usage.Path, minFreeMB)
	}

	return nil
}
