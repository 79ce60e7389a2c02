//go:build windows

package conversation

import "os"

// openFileNoFollow opens a file for writing.
// On Windows, O_NOFOLLOW is not available; the caller still refuses to
// rename over a symlink.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
