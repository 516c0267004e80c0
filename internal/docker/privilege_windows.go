//go:build windows

package docker

// socketWritable always reports a writable socket: Docker Desktop on
// Windows is reached through a named pipe and there is no sudo.
func socketWritable(string) (bool, bool) {
	return true, true
}
