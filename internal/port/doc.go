// Package port implements the host port pre-flight for podnet sessions.
//
// User-supplied -p/--publish flags are moved from the workload onto the
// network sidecar, because the workload shares the sidecar's network
// namespace and cannot publish ports itself. A host port that is already
// taken would only surface as an opaque "docker run" failure of the
// sidecar, so the ports are checked up front:
//   - HostPorts parses a publish value into the host bindings it requests
//   - Scanner checks each binding with net.Listen/net.ListenPacket
package port
