// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"io"
	"net/netip"
	"time"
)

// DatagramSocket is a UDP socket bound to a local address.
//
// The only way to obtain one is [Runtime.BindDatagram], so send and receive
// cannot happen before the bind completes. The caller exclusively owns the
// socket and MUST call Close to release the OS handle.
type DatagramSocket interface {
	// ReceiveFrom reads a single datagram into buf and returns the number of
	// bytes read along with the address of the peer that sent it.
	ReceiveFrom(buf []byte) (int, netip.AddrPort, error)

	// SendTo sends buf as a single datagram to target.
	SendTo(buf []byte, target netip.AddrPort) (int, error)

	// LocalAddr returns the bound local address.
	LocalAddr() netip.AddrPort

	// SetDeadline sets the read and write deadlines.
	SetDeadline(t time.Time) error

	// SetReadDeadline sets the read deadline.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the write deadline.
	SetWriteDeadline(t time.Time) error

	// Close closes the OS handle.
	io.Closer
}

// StreamSocket is a connected TCP socket with Nagle's algorithm disabled.
//
// Read and Write may transfer fewer bytes than requested. Read returns
// [io.EOF] when the peer closes the connection in an orderly fashion. There
// is no buffering layer, so Flush is a no-op kept for symmetry with
// buffered writers. The caller exclusively owns the socket.
type StreamSocket interface {
	// We can obviously do I/O with the stream.
	io.ReadWriteCloser

	// Flush flushes pending writes, which is a no-op without buffering.
	Flush() error

	// CloseWrite shuts down the writing side of the connection.
	CloseWrite() error

	// LocalAddr returns the local endpoint of the connection.
	LocalAddr() netip.AddrPort

	// RemoteAddr returns the remote endpoint of the connection.
	RemoteAddr() netip.AddrPort

	// SetDeadline sets the read and write deadlines.
	SetDeadline(t time.Time) error

	// SetReadDeadline sets the read deadline.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the write deadline.
	SetWriteDeadline(t time.Time) error
}

// Runtime provides sockets and scheduling primitives to a DNS engine.
//
// Implemented by [*NetRuntime] and [*PoolRuntime]. Code using sockets should
// depend on this interface only.
type Runtime interface {
	// BindDatagram binds a [DatagramSocket] to the given local address.
	//
	// Use port zero to let the OS choose an ephemeral port.
	BindDatagram(ctx context.Context, local netip.AddrPort) (DatagramSocket, error)

	// ConnectStream connects a [StreamSocket] to remote.
	//
	// When local is valid, the connection uses local as its source address
	// and an OS-assigned port. Otherwise, the OS chooses the source address.
	ConnectStream(ctx context.Context, remote netip.AddrPort, local netip.Addr) (StreamSocket, error)

	// Sleep blocks for d or until the context is done, whichever
	// comes first, and returns the context error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error

	// Runtimes expose their blocking offload primitive.
	Offloader
}
