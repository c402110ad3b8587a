//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Written by @roopeshsn and @bassosimone
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/doquic.go
// Adapted from: https://github.com/rbmk-project/dnscore/blob/v0.14.0/doquic.go
//
// See https://github.com/rbmk-project/dnscore/pull/18
//
// See https://datatracker.ietf.org/doc/rfc9250/
//

package exchange

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnssocket"
	"github.com/quic-go/quic-go"
)

// NewTLSConfigDNSOverQUIC returns the [*tls.Config] to use for DNS-over-QUIC.
func NewTLSConfigDNSOverQUIC(serverName string) *tls.Config {
	return &tls.Config{
		NextProtos: []string{"doq"},
		ServerName: serverName,
	}
}

// QUICDialer dials a [*quic.Conn] over a [dnssocket.DatagramSocket] bound
// using the [dnssocket.Runtime] for each connection.
//
// Construct using [NewQUICDialer].
type QUICDialer struct {
	// QUICConfig contains OPTIONAL [*quic.Config].
	QUICConfig *quic.Config

	// TLSConfig is the MANDATORY [*tls.Config].
	TLSConfig *tls.Config

	// Runtime is the MANDATORY [dnssocket.Runtime] to bind with.
	Runtime dnssocket.Runtime

	// LocalAddr is the OPTIONAL local address to bind to.
	//
	// When unset, we bind to the unspecified address of the
	// endpoint family using an ephemeral port.
	LocalAddr netip.AddrPort
}

// NewQUICDialer creates a new [*QUICDialer] using the given serverName
// for the [*tls.Config] and the given [dnssocket.Runtime].
func NewQUICDialer(rt dnssocket.Runtime, serverName string) *QUICDialer {
	return &QUICDialer{
		QUICConfig: &quic.Config{},
		TLSConfig:  NewTLSConfigDNSOverQUIC(serverName),
		Runtime:    rt,
	}
}

// Dial creates a [StreamOpener] wrapping a [*quic.Conn] with address.
//
// Closing the [StreamOpener] also closes the datagram socket.
func (qd *QUICDialer) Dial(ctx context.Context, address netip.AddrPort) (StreamOpener, error) {
	local, err := localDatagramAddr(qd.LocalAddr, address)
	if err != nil {
		return nil, err
	}
	sock, err := qd.Runtime.BindDatagram(ctx, local)
	if err != nil {
		return nil, err
	}
	pconn := dnssocket.AsPacketConn(sock)
	transport := &quic.Transport{Conn: pconn}
	cleanup := func() error {
		return errors.Join(transport.Close(), pconn.Close())
	}
	qconn, err := transport.Dial(ctx, net.UDPAddrFromAddrPort(address), qd.TLSConfig, qd.QUICConfig)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &quicConnAdapter{qconn: qconn, cleanup: cleanup}, nil
}

// NewQUICStreamOpener creates a [StreamOpener] from an existing [*quic.Conn].
//
// Closing the [StreamOpener] closes the [*quic.Conn] but not its transport.
func NewQUICStreamOpener(qconn *quic.Conn) StreamOpener {
	return &quicConnAdapter{qconn: qconn}
}

// NewTransportQUIC returns a new [*Transport] for DNS over QUIC.
func NewTransportQUIC(dialer *QUICDialer, endpoint netip.AddrPort) *Transport {
	return NewTransport(&quicStreamDialer{dialer}, endpoint)
}

// quicStreamDialer implements [StreamOpenerDialer] for QUIC.
type quicStreamDialer struct {
	qd *QUICDialer
}

var _ StreamOpenerDialer = &quicStreamDialer{}

// DialContext implements [StreamOpenerDialer].
func (d *quicStreamDialer) DialContext(ctx context.Context, address netip.AddrPort) (StreamOpener, error) {
	return d.qd.Dial(ctx, address)
}

// quicConnAdapter adapts [*quic.Conn] to [StreamOpener].
type quicConnAdapter struct {
	qconn   *quic.Conn
	cleanup func() error
	once    sync.Once
}

// Close implements [StreamOpener].
func (q *quicConnAdapter) Close() (err error) {
	q.once.Do(func() {
		// Closing w/o specific error -- RFC 9250 Sect. 4.3
		const quicNoError = 0x00
		err = q.qconn.CloseWithError(quicNoError, "")
		if q.cleanup != nil {
			err = errors.Join(err, q.cleanup())
		}
	})
	return
}

// MutateQuery implements [StreamOpener].
func (q *quicConnAdapter) MutateQuery(msg *dnscodec.Query) {
	msg.Flags |= dnscodec.QueryFlagBlockLengthPadding | dnscodec.QueryFlagDNSSec
	msg.ID = 0
	msg.MaxSize = dnscodec.QueryMaxResponseSizeTCP
}

// OpenStream implements [StreamOpener].
func (q *quicConnAdapter) OpenStream() (Stream, error) {
	stream, err := q.qconn.OpenStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// localDatagramAddr returns the local address for binding a datagram socket
// used to reach remote, defaulting to the unspecified address.
func localDatagramAddr(local, remote netip.AddrPort) (netip.AddrPort, error) {
	if !local.Addr().IsValid() {
		if remote.Addr().Is4() {
			return netip.AddrPortFrom(netip.IPv4Unspecified(), 0), nil
		}
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0), nil
	}
	if local.Addr().Is4() != remote.Addr().Is4() {
		return netip.AddrPort{}, &dnssocket.BindError{Addr: local, Err: dnssocket.ErrFamilyMismatch}
	}
	return local, nil
}
