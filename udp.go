// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// PacketListener is typically [*net.ListenConfig].
type PacketListener interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// bindDatagram implements [Runtime.BindDatagram] on top of a [PacketListener].
func bindDatagram(ctx context.Context, lc PacketListener, local netip.AddrPort) (DatagramSocket, error) {
	if !local.Addr().IsValid() {
		return nil, &BindError{Addr: local, Err: ErrInvalidAddress}
	}
	pconn, err := lc.ListenPacket(ctx, "udp", local.String())
	if err != nil {
		return nil, &BindError{Addr: local, Err: err}
	}
	return &datagramSocket{pconn: pconn}, nil
}

// datagramSocket implements [DatagramSocket].
//
// The zero value is an unbound socket on which every operation fails.
type datagramSocket struct {
	pconn net.PacketConn
}

var _ DatagramSocket = &datagramSocket{}

// ReceiveFrom implements [DatagramSocket].
func (s *datagramSocket) ReceiveFrom(buf []byte) (int, netip.AddrPort, error) {
	if s.pconn == nil {
		return 0, netip.AddrPort{}, &IOError{Op: "recvfrom", Err: ErrNotBound}
	}
	if uconn, ok := s.pconn.(*net.UDPConn); ok {
		count, peer, err := uconn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return count, netip.AddrPort{}, newIOError("recvfrom", err)
		}
		return count, unmapAddrPort(peer), nil
	}
	count, addr, err := s.pconn.ReadFrom(buf)
	if err != nil {
		return count, netip.AddrPort{}, newIOError("recvfrom", err)
	}
	return count, addrPortFromNetAddr(addr), nil
}

// SendTo implements [DatagramSocket].
func (s *datagramSocket) SendTo(buf []byte, target netip.AddrPort) (int, error) {
	if s.pconn == nil {
		return 0, &IOError{Op: "sendto", Err: ErrNotBound}
	}
	if uconn, ok := s.pconn.(*net.UDPConn); ok {
		count, err := uconn.WriteToUDPAddrPort(buf, target)
		return count, newIOError("sendto", err)
	}
	count, err := s.pconn.WriteTo(buf, net.UDPAddrFromAddrPort(target))
	return count, newIOError("sendto", err)
}

// LocalAddr implements [DatagramSocket].
func (s *datagramSocket) LocalAddr() netip.AddrPort {
	if s.pconn == nil {
		return netip.AddrPort{}
	}
	return addrPortFromNetAddr(s.pconn.LocalAddr())
}

// SetDeadline implements [DatagramSocket].
func (s *datagramSocket) SetDeadline(t time.Time) error {
	if s.pconn == nil {
		return ErrNotBound
	}
	return s.pconn.SetDeadline(t)
}

// SetReadDeadline implements [DatagramSocket].
func (s *datagramSocket) SetReadDeadline(t time.Time) error {
	if s.pconn == nil {
		return ErrNotBound
	}
	return s.pconn.SetReadDeadline(t)
}

// SetWriteDeadline implements [DatagramSocket].
func (s *datagramSocket) SetWriteDeadline(t time.Time) error {
	if s.pconn == nil {
		return ErrNotBound
	}
	return s.pconn.SetWriteDeadline(t)
}

// Close implements [DatagramSocket].
func (s *datagramSocket) Close() error {
	if s.pconn == nil {
		return ErrNotBound
	}
	return newIOError("close", s.pconn.Close())
}

// addrPortFromNetAddr converts UDP and TCP addresses to [netip.AddrPort].
//
// Returns the zero value when the address cannot be converted.
func addrPortFromNetAddr(addr net.Addr) netip.AddrPort {
	switch addr := addr.(type) {
	case *net.UDPAddr:
		return unmapAddrPort(addr.AddrPort())
	case *net.TCPAddr:
		return unmapAddrPort(addr.AddrPort())
	case nil:
		return netip.AddrPort{}
	default:
		ap, _ := netip.ParseAddrPort(addr.String())
		return unmapAddrPort(ap)
	}
}

// unmapAddrPort converts IPv4-mapped IPv6 addresses, which the standard
// library produces for IPv4 peers of dual-stack sockets, to IPv4.
func unmapAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
