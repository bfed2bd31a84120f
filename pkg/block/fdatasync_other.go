//go:build windows

package block

import "os"

// fdatasync falls back to the full fsync-strength os.File.Sync on
// platforms (Windows) with no dedicated fdatasync syscall, matching the
// teacher's own mmap_windows.go fallback pattern for that platform.
func fdatasync(f *os.File) error {
	return f.Sync()
}
