// SPDX-License-Identifier: GPL-3.0-or-later

// Package exchange implements DNS over UDP, TCP, TLS, and QUIC transports
// on top of a [dnssocket.Runtime].
//
// Each transport targets a single netip.AddrPort endpoint and does not reuse
// sockets across requests. The socket layer enforces no timeouts, so the
// transports own the timeout policy: the context deadline becomes the socket
// deadline and canceling the context closes the socket.
//
// Set the LocalAddr field of a transport or dialer to pin the source address.
package exchange
