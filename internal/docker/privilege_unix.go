//go:build !windows

package docker

import (
	"os"

	"golang.org/x/sys/unix"
)

// socketWritable checks the socket with access(2), which honours the
// caller's real uid/gid and supplementary groups (e.g. the docker group).
func socketWritable(path string) (bool, bool) {
	if _, err := os.Stat(path); err != nil {
		return false, false
	}
	return true, unix.Access(path, unix.W_OK) == nil
}
