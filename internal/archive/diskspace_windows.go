//go:build windows

package archive

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// freeSpacePercent returns the free space of the disk holding dir as a
// percentage of its size
func freeSpacePercent(dir string) (float64, error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}

	var available, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(path, &available, &total, &totalFree); err != nil {
		return 0, fmt.Errorf("failed to get disk stats: %w", err)
	}
	if total == 0 {
		return 100, nil
	}
	return float64(available) / float64(total) * 100, nil
}
