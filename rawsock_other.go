// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !unix

package dnssocket

import (
	"errors"
	"net"
	"net/netip"
)

// dialSourceBound is not implemented on this platform.
func dialSourceBound(local netip.Addr, remote netip.AddrPort) (net.Conn, error) {
	return nil, errors.ErrUnsupported
}
