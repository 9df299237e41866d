package dbus

import "net"

// DialUnix is the reference transport (C10): a thin wrapper around
// net.Dial for a Unix domain socket path, matching spec §6 ("the
// reference transport is a Unix domain socket path supplied by the
// caller"). Address discovery (e.g. reading $DBUS_SESSION_BUS_ADDRESS)
// and abstract-socket syntax are platform credential/transport-discovery
// concerns and stay out of scope (spec §1).
func DialUnix(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
