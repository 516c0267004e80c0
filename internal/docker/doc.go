// Package docker provides the docker CLI and Docker Engine API plumbing
// for the containers of a podnet session.
//
// This package handles:
//   - Privilege-aware command construction (sudo when the Docker socket
//     is not writable by the current user)
//   - Running docker commands through a Runner seam so callers can be
//     tested without a daemon
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Container label management for persisting session metadata
//     (Docker labels are the only state a session leaves behind)
//   - Container naming, stopping and label-based listing
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
