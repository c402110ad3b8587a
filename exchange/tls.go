// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnssocket"
)

// NewTLSConfigDNSOverTLS returns the [*tls.Config] to use for DNS-over-TLS.
func NewTLSConfigDNSOverTLS(serverName string) *tls.Config {
	return &tls.Config{
		NextProtos: []string{"dot"},
		ServerName: serverName,
	}
}

// StreamOpenerDialerTLS implements [StreamOpenerDialer] for DNS over TLS.
//
// Construct using [NewStreamOpenerDialerTLS].
type StreamOpenerDialerTLS struct {
	// Config is the MANDATORY [*tls.Config].
	//
	// Set by [NewStreamOpenerDialerTLS] to the user-provided value.
	Config *tls.Config

	// Runtime is the [dnssocket.Runtime] to connect with.
	//
	// Set by [NewStreamOpenerDialerTLS] to the user-provided value.
	Runtime dnssocket.Runtime

	// LocalAddr is the OPTIONAL local address to connect from.
	LocalAddr netip.Addr
}

// NewStreamOpenerDialerTLS creates a new [*StreamOpenerDialerTLS].
func NewStreamOpenerDialerTLS(rt dnssocket.Runtime, config *tls.Config) *StreamOpenerDialerTLS {
	return &StreamOpenerDialerTLS{Config: config, Runtime: rt}
}

var _ StreamOpenerDialer = &StreamOpenerDialerTLS{}

// NewTLSStreamOpener creates a [StreamOpener] from an existing TLS [net.Conn].
//
// The caller is responsible for ensuring the conn actually performs TLS.
func NewTLSStreamOpener(conn net.Conn) StreamOpener {
	return &tlsStreamConn{conn: conn}
}

// NewTransportTLS returns a new [*Transport] for DNS over TLS.
func NewTransportTLS(rt dnssocket.Runtime, config *tls.Config, endpoint netip.AddrPort) *Transport {
	return NewTransport(NewStreamOpenerDialerTLS(rt, config), endpoint)
}

// DialContext implements [StreamOpenerDialer].
func (d *StreamOpenerDialerTLS) DialContext(ctx context.Context, address netip.AddrPort) (StreamOpener, error) {
	sock, err := d.Runtime.ConnectStream(ctx, address, d.LocalAddr)
	if err != nil {
		return nil, err
	}
	tconn := tls.Client(dnssocket.AsNetConn(sock), d.Config)
	if err := tconn.HandshakeContext(ctx); err != nil {
		tconn.Close()
		return nil, err
	}
	return &tlsStreamConn{conn: tconn}, nil
}

// tlsStreamConn implements [StreamOpener] for TLS.
type tlsStreamConn struct {
	conn net.Conn
}

// Close implements [StreamOpener].
func (s *tlsStreamConn) Close() error {
	return s.conn.Close()
}

// MutateQuery implements [StreamOpener].
func (s *tlsStreamConn) MutateQuery(msg *dnscodec.Query) {
	msg.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	msg.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// OpenStream implements [StreamOpener].
func (s *tlsStreamConn) OpenStream() (Stream, error) {
	return &tlsStream{s.conn}, nil
}

// tlsStream implements [Stream] for TLS.
type tlsStream struct {
	conn net.Conn
}

// Close implements [Stream].
func (s *tlsStream) Close() error {
	// We do not close the stream midway for TLS.
	return nil
}

// Read implements [Stream].
func (s *tlsStream) Read(buff []byte) (int, error) {
	return s.conn.Read(buff)
}

// SetDeadline implements [Stream].
func (s *tlsStream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Write implements [Stream].
func (s *tlsStream) Write(data []byte) (int, error) {
	return s.conn.Write(data)
}
