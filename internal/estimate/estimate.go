// Package estimate predicts output size for audiobook assembly and checks
// available disk space before work starts.
package estimate

import (
	"fmt"

	"golang.org/x/sys/unix"

	"bindery/internal/services"
)

// Compression ratios observed against typical MP3 source material, padded 5%
// so the prediction errs on the side of caution.
const (
	highQualityRatio = 0.8
	lowQualityRatio  = 0.4
	safetyMargin     = 1.05
)

// Estimate predicts the output file size in bytes for the given source file
// sizes. An empty input yields zero. Negative sizes are rejected.
func Estimate(sizes []int64, highQuality bool) (int64, error) {
	if len(sizes) == 0 {
		return 0, nil
	}

	var total int64
	for _, size := range sizes {
		if size < 0 {
			return 0, services.Wrap(services.ErrConfig, "", "estimate size",
				fmt.Sprintf("negative source size %d", size), nil)
		}
		total += size
	}

	ratio := lowQualityRatio
	if highQuality {
		ratio = highQualityRatio
	}
	return int64(float64(total) * ratio * safetyMargin), nil
}

// FreeSpace returns the number of bytes available to unprivileged callers on
// the filesystem containing path.
func FreeSpace(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, services.Wrap(services.ErrIO, "", "stat filesystem",
			fmt.Sprintf("statfs %s", path), err)
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// FormatSize renders a byte count with a binary unit suffix, one decimal.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
