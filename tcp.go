// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"time"
)

// errNoDelay means that the connection does not allow us to disable
// Nagle's algorithm, therefore it cannot become a [StreamSocket].
var errNoDelay = errors.New("dnssocket: connection does not support disabling Nagle's algorithm")

// noDelaySetter abstracts over [*net.TCPConn].
type noDelaySetter interface {
	SetNoDelay(noDelay bool) error
}

// closeWriter abstracts over [*net.TCPConn].
type closeWriter interface {
	CloseWrite() error
}

// newStreamSocket disables Nagle's algorithm on conn and wraps it.
//
// The caller retains ownership of conn on failure.
func newStreamSocket(conn net.Conn) (*streamSocket, error) {
	nd, ok := conn.(noDelaySetter)
	if !ok {
		return nil, errNoDelay
	}
	if err := nd.SetNoDelay(true); err != nil {
		return nil, err
	}
	return &streamSocket{conn: conn}, nil
}

// streamSocket implements [StreamSocket] using a [net.Conn].
type streamSocket struct {
	conn net.Conn
}

var _ StreamSocket = &streamSocket{}

// Read implements [StreamSocket].
func (s *streamSocket) Read(buf []byte) (int, error) {
	count, err := s.conn.Read(buf)
	if err == io.EOF {
		// Keep io.EOF as is since io.ReadFull et al. compare it directly.
		return count, io.EOF
	}
	return count, newIOError("read", err)
}

// Write implements [StreamSocket].
func (s *streamSocket) Write(data []byte) (int, error) {
	count, err := s.conn.Write(data)
	return count, newIOError("write", err)
}

// Flush implements [StreamSocket].
func (s *streamSocket) Flush() error {
	return nil
}

// CloseWrite implements [StreamSocket].
func (s *streamSocket) CloseWrite() error {
	cw, ok := s.conn.(closeWriter)
	if !ok {
		return &IOError{Op: "shutdown", Err: errors.ErrUnsupported}
	}
	return newIOError("shutdown", cw.CloseWrite())
}

// Close implements [StreamSocket].
func (s *streamSocket) Close() error {
	return newIOError("close", s.conn.Close())
}

// LocalAddr implements [StreamSocket].
func (s *streamSocket) LocalAddr() netip.AddrPort {
	return addrPortFromNetAddr(s.conn.LocalAddr())
}

// RemoteAddr implements [StreamSocket].
func (s *streamSocket) RemoteAddr() netip.AddrPort {
	return addrPortFromNetAddr(s.conn.RemoteAddr())
}

// SetDeadline implements [StreamSocket].
func (s *streamSocket) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// SetReadDeadline implements [StreamSocket].
func (s *streamSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements [StreamSocket].
func (s *streamSocket) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
