//go:build unix

package archive

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freeSpacePercent returns the free space of the disk holding dir as a
// percentage of its size
func freeSpacePercent(dir string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to get disk stats: %w", err)
	}

	total := float64(stat.Blocks) * float64(stat.Bsize)
	if total == 0 {
		return 100, nil
	}
	available := float64(stat.Bavail) * float64(stat.Bsize)
	return available / total * 100, nil
}
