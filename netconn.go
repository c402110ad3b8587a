// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"net"
)

// AsNetConn returns a [net.Conn] view of a [StreamSocket], which is
// useful to layer [crypto/tls] on top of the socket.
//
// Closing the returned conn closes the socket.
func AsNetConn(sock StreamSocket) net.Conn {
	return &streamNetConn{sock}
}

type streamNetConn struct {
	StreamSocket
}

// LocalAddr implements [net.Conn].
func (c *streamNetConn) LocalAddr() net.Addr {
	return net.TCPAddrFromAddrPort(c.StreamSocket.LocalAddr())
}

// RemoteAddr implements [net.Conn].
func (c *streamNetConn) RemoteAddr() net.Addr {
	return net.TCPAddrFromAddrPort(c.StreamSocket.RemoteAddr())
}

// AsPacketConn returns a [net.PacketConn] view of a [DatagramSocket], which
// is useful to run QUIC on top of the socket.
//
// Closing the returned conn closes the socket.
func AsPacketConn(sock DatagramSocket) net.PacketConn {
	return &datagramPacketConn{sock}
}

type datagramPacketConn struct {
	DatagramSocket
}

// ReadFrom implements [net.PacketConn].
func (c *datagramPacketConn) ReadFrom(buf []byte) (int, net.Addr, error) {
	count, peer, err := c.ReceiveFrom(buf)
	if err != nil {
		return count, nil, err
	}
	return count, net.UDPAddrFromAddrPort(peer), nil
}

// WriteTo implements [net.PacketConn].
func (c *datagramPacketConn) WriteTo(buf []byte, addr net.Addr) (int, error) {
	target := addrPortFromNetAddr(addr)
	if !target.IsValid() {
		return 0, &IOError{Op: "sendto", Err: ErrInvalidAddress}
	}
	return c.SendTo(buf, target)
}

// LocalAddr implements [net.PacketConn].
func (c *datagramPacketConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(c.DatagramSocket.LocalAddr())
}
