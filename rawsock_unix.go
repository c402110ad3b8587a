// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package dnssocket

import (
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// dialSourceBound binds a new TCP socket to (local, 0) and connects it to
// remote using blocking system calls. Then, it registers the connected
// socket with the netpoller and returns it.
//
// This function blocks for the whole TCP handshake and MUST run on
// an [Offloader] worker. The socket is closed on every failure path.
func dialSourceBound(local netip.Addr, remote netip.AddrPort) (net.Conn, error) {
	// 1. prepare both socket addresses before allocating any handle
	localAddr := netip.AddrPortFrom(local, 0)
	localSA, err := sockaddrFromAddrPort(localAddr)
	if err != nil {
		return nil, &BindError{Addr: localAddr, Err: err}
	}
	remoteSA, err := sockaddrFromAddrPort(remote)
	if err != nil {
		return nil, err
	}

	// 2. create the socket and make sure we close it on early return
	sock, err := newRawSocket(sockaddrFamily(local))
	if err != nil {
		return nil, err
	}
	defer sock.Close()

	// 3. bind-before-connect
	if err := sock.Bind(localSA); err != nil {
		return nil, &BindError{Addr: localAddr, Err: err}
	}
	if err := sock.Connect(remoteSA); err != nil {
		return nil, err
	}

	// 4. hand the connected socket over to the netpoller
	return sock.IntoConn()
}

// rawSocket is a blocking OS socket owned by a single goroutine.
//
// Close is a no-op once IntoConn has transferred ownership.
type rawSocket struct {
	fd int
}

// newRawSocket creates a close-on-exec TCP socket for the given family.
func newRawSocket(family int) (*rawSocket, error) {
	// Hold the fork lock so that a concurrent fork+exec does not inherit
	// the descriptor before we set close-on-exec.
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return &rawSocket{fd: fd}, nil
}

// Bind binds the socket to the given address.
func (s *rawSocket) Bind(sa unix.Sockaddr) error {
	return os.NewSyscallError("bind", unix.Bind(s.fd, sa))
}

// Connect connects the socket and blocks until the handshake completes.
func (s *rawSocket) Connect(sa unix.Sockaddr) error {
	switch err := unix.Connect(s.fd, sa); err {
	case nil:
		return nil

	// A signal interrupted connect, but the handshake continues in the
	// kernel, so we wait for it rather than connecting again.
	case unix.EINTR, unix.EINPROGRESS, unix.EALREADY:
		return s.waitConnected()

	default:
		return os.NewSyscallError("connect", err)
	}
}

func (s *rawSocket) waitConnected() error {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		break
	}
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soerr != 0 {
		return os.NewSyscallError("connect", syscall.Errno(soerr))
	}
	return nil
}

// IntoConn transfers the socket to a [net.Conn] using the netpoller.
func (s *rawSocket) IntoConn() (net.Conn, error) {
	file := os.NewFile(uintptr(s.fd), "tcp")
	s.fd = -1

	// [net.FileConn] duplicates the descriptor, so we always close the
	// original, including when [net.FileConn] fails.
	defer file.Close()
	return net.FileConn(file)
}

// Close closes the socket unless ownership has been transferred.
func (s *rawSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return os.NewSyscallError("close", err)
}

func sockaddrFamily(addr netip.Addr) int {
	if addr.Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// sockaddrFromAddrPort converts a [netip.AddrPort] to a [unix.Sockaddr].
//
// IPv4-mapped IPv6 addresses are IPv6 addresses here: we never coerce families.
func sockaddrFromAddrPort(ap netip.AddrPort) (unix.Sockaddr, error) {
	addr := ap.Addr()
	if !addr.IsValid() {
		return nil, ErrInvalidAddress
	}
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, nil
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		zoneID, err := zoneToIndex(zone)
		if err != nil {
			return nil, err
		}
		sa.ZoneId = zoneID
	}
	return sa, nil
}

// zoneToIndex maps an IPv6 zone, either an interface name or a
// numeric index, to the interface index.
func zoneToIndex(zone string) (uint32, error) {
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index), nil
	}
	index, err := strconv.ParseUint(zone, 10, 32)
	if err != nil {
		return 0, ErrInvalidAddress
	}
	return uint32(index), nil
}
