// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"net"
	"net/netip"
)

// connectSourceBound establishes a TCP connection from local to remote.
//
// The Go dialer could do this with [net.Dialer.LocalAddr], but we want the
// bind and connect system calls to be explicit and to run on a worker that
// the [Offloader] dedicates to blocking calls.
//
// We refuse to connect when the two families differ rather than picking
// an IPv4-mapped or IPv4-compatible form on behalf of the caller.
func connectSourceBound(ctx context.Context, o Offloader, remote netip.AddrPort, local netip.Addr) (net.Conn, error) {
	if local.Is4() != remote.Addr().Is4() {
		return nil, ErrFamilyMismatch
	}
	return SpawnBlocking(ctx, o, func() (net.Conn, error) {
		return dialSourceBound(local, remote)
	}, func(conn net.Conn) {
		// Nobody wants this connection anymore.
		conn.Close()
	})
}
