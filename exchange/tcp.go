// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"context"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnssocket"
)

// StreamOpenerDialerTCP implements [StreamOpenerDialer] for DNS over TCP.
//
// Construct using [NewStreamOpenerDialerTCP].
type StreamOpenerDialerTCP struct {
	// Runtime is the [dnssocket.Runtime] to connect with.
	//
	// Set by [NewStreamOpenerDialerTCP] to the user-provided value.
	Runtime dnssocket.Runtime

	// LocalAddr is the OPTIONAL local address to connect from.
	LocalAddr netip.Addr
}

// NewStreamOpenerDialerTCP creates a new [*StreamOpenerDialerTCP].
func NewStreamOpenerDialerTCP(rt dnssocket.Runtime) *StreamOpenerDialerTCP {
	return &StreamOpenerDialerTCP{Runtime: rt}
}

var _ StreamOpenerDialer = &StreamOpenerDialerTCP{}

// NewTCPStreamOpener creates a [StreamOpener] from an existing [dnssocket.StreamSocket].
//
// This allows callers who already hold a connection to use
// [*Transport.ExchangeWithStreamOpener] without dialing.
func NewTCPStreamOpener(sock dnssocket.StreamSocket) StreamOpener {
	return &tcpStreamConn{sock: sock}
}

// NewTransportTCP returns a new [*Transport] for DNS over TCP.
func NewTransportTCP(rt dnssocket.Runtime, endpoint netip.AddrPort) *Transport {
	return NewTransport(NewStreamOpenerDialerTCP(rt), endpoint)
}

// DialContext implements [StreamOpenerDialer].
func (d *StreamOpenerDialerTCP) DialContext(ctx context.Context, address netip.AddrPort) (StreamOpener, error) {
	sock, err := d.Runtime.ConnectStream(ctx, address, d.LocalAddr)
	if err != nil {
		return nil, err
	}
	return &tcpStreamConn{sock: sock}, nil
}

// tcpStreamConn implements [StreamOpener] for TCP.
type tcpStreamConn struct {
	sock dnssocket.StreamSocket
}

// Close implements [StreamOpener].
func (s *tcpStreamConn) Close() error {
	return s.sock.Close()
}

// MutateQuery implements [StreamOpener].
func (s *tcpStreamConn) MutateQuery(msg *dnscodec.Query) {
	msg.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// OpenStream implements [StreamOpener].
func (s *tcpStreamConn) OpenStream() (Stream, error) {
	return &tcpStream{s.sock}, nil
}

// tcpStream implements [Stream] for TCP.
type tcpStream struct {
	sock dnssocket.StreamSocket
}

// Close implements [Stream].
func (s *tcpStream) Close() error {
	// We do not close the stream midway for TCP.
	return nil
}

// Read implements [Stream].
func (s *tcpStream) Read(buff []byte) (int, error) {
	return s.sock.Read(buff)
}

// SetDeadline implements [Stream].
func (s *tcpStream) SetDeadline(t time.Time) error {
	return s.sock.SetDeadline(t)
}

// Write implements [Stream].
func (s *tcpStream) Write(data []byte) (int, error) {
	count, err := s.sock.Write(data)
	if err != nil {
		return count, err
	}
	return count, s.sock.Flush()
}
