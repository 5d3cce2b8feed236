// Package fileutil provides copy and move helpers for staging assembled
// output into place.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	return CopyFileMode(src, dst, 0o644)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// MoveFile relocates src to dst, preferring rename and falling back to a
// copy-then-remove when the paths live on different filesystems. The
// destination directory is created if missing. A failed copy never leaves a
// partial file at dst.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyIntoPlace(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// copyIntoPlace stages the copy beside dst and renames it in, so readers of
// dst only ever see a complete file.
func copyIntoPlace(src, dst string) error {
	staging := dst + ".partial"
	if err := CopyFile(src, staging); err != nil {
		_ = os.Remove(staging)
		return err
	}
	return os.Rename(staging, dst)
}

// UniquePath returns path if nothing exists there, otherwise appends a
// numeric suffix before the extension until an unused name is found.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
