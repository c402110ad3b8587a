//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Written by @roopeshsn and @bassosimone
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/dotcp.go
// Adapted from: https://github.com/ooni/probe-engine/blob/v0.23.0/netx/resolver/dnsovertcp.go
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/dns/dnscore/doquic.go
// Adapted from: https://github.com/rbmk-project/dnscore/blob/v0.14.0/doquic.go
//
// See https://github.com/rbmk-project/dnscore/pull/18
//
// See https://datatracker.ietf.org/doc/rfc7766/
//
// See https://datatracker.ietf.org/doc/rfc9250/
//

package exchange

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

// Stream is a stream suitable for DNS over TCP, TLS, or QUIC.
type Stream interface {
	// SetDeadline sets the I/O deadline.
	SetDeadline(t time.Time) error

	// We can obviously do I/O with the stream.
	io.ReadWriter

	// The semantics of closing a stream depends on the protocol.
	//
	// For TCP and TLS, this is a no-op since the stream is the connection.
	//
	// For QUIC, this sends the STREAM FIN.
	io.Closer
}

// StreamOpener opens [Stream] instances over an established connection.
type StreamOpener interface {
	// Close closes the underlying connection.
	Close() error

	// MutateQuery mutates the [*dnscodec.Query] to apply the correct
	// settings for the protocol that we are using.
	MutateQuery(msg *dnscodec.Query)

	// OpenStream opens a new [Stream].
	//
	// For TCP and TLS, this returns the connection itself.
	OpenStream() (Stream, error)
}

// StreamOpenerDialer establishes connections and returns a [StreamOpener].
type StreamOpenerDialer interface {
	DialContext(ctx context.Context, address netip.AddrPort) (StreamOpener, error)
}

// Transport is a transport for DNS over TCP, TLS, and QUIC.
//
// Construct using [NewTransport], [NewTransportTCP], [NewTransportTLS],
// or [NewTransportQUIC].
//
// Transport creates a new connection for each Exchange call and targets the
// specific [netip.AddrPort] endpoint configured at construction time.
type Transport struct {
	// Dialer is the [StreamOpenerDialer] to establish connections.
	//
	// Set by [NewTransport] to the user-provided value.
	Dialer StreamOpenerDialer

	// Endpoint is the server endpoint to use to query.
	//
	// Set by [NewTransport] to the user-provided value.
	Endpoint netip.AddrPort

	// ObserveRawQuery is an optional hook called with a copy of the raw DNS query.
	ObserveRawQuery func([]byte)

	// ObserveRawResponse is an optional hook called with a copy of the raw DNS response.
	ObserveRawResponse func([]byte)
}

// NewTransport creates a new [*Transport].
func NewTransport(dialer StreamOpenerDialer, endpoint netip.AddrPort) *Transport {
	return &Transport{Dialer: dialer, Endpoint: endpoint}
}

// Exchange sends a [*dnscodec.Query] and receives a [*dnscodec.Response].
//
// Canceling the context closes the connection and interrupts pending I/O.
func (dt *Transport) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	// 1. create the connection
	conn, err := dt.Dialer.DialContext(ctx, dt.Endpoint)
	if err != nil {
		return nil, err
	}

	// 2. Use a single connection per request and make sure we
	// react to the context being canceled early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// 3. defer to ExchangeWithStreamOpener.
	return dt.ExchangeWithStreamOpener(ctx, conn, query)
}

// ExchangeWithStreamOpener sends a [*dnscodec.Query] and receives a
// [*dnscodec.Response] using an existing [StreamOpener].
//
// The caller owns conn. We only honor deadlines from the context;
// canceling the context without a deadline does not interrupt I/O.
func (dt *Transport) ExchangeWithStreamOpener(
	ctx context.Context, conn StreamOpener, query *dnscodec.Query) (*dnscodec.Response, error) {
	// 1. Open the stream for sending the query.
	stream, err := conn.OpenStream()
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	// 2. Use the context deadline to limit the query lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
		defer stream.SetDeadline(time.Time{})
	}

	// 3. Mutate and serialize the query.
	query = query.Clone()
	conn.MutateQuery(query)
	queryMsg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, err
	}
	if dt.ObserveRawQuery != nil {
		dt.ObserveRawQuery(bytes.Clone(rawQuery))
	}

	// 4. Send the framed query.
	if _, err := stream.Write(newStreamMsgFrame(rawQuery)); err != nil {
		return nil, err
	}

	// 5. Signal that no further data will be sent on the stream. This
	// is a no-op for TCP and TLS. With QUIC, some servers do not reply
	// until they see the STREAM FIN (RFC 9250 Sect. 4.2).
	stream.Close()

	// 6. Read the response header and message.
	br := bufio.NewReader(stream)
	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	length := int(header[0])<<8 | int(header[1])
	rawResp := make([]byte, length)
	if _, err := io.ReadFull(br, rawResp); err != nil {
		return nil, err
	}
	if dt.ObserveRawResponse != nil {
		dt.ObserveRawResponse(bytes.Clone(rawResp))
	}

	// 7. Parse the response and return.
	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	return dnscodec.ParseResponse(queryMsg, respMsg)
}

// newStreamMsgFrame prepends the two-byte length prefix to a raw message.
func newStreamMsgFrame(rawMsg []byte) []byte {
	// a packed DNS message never exceeds 64 KiB
	runtimex.Assert(len(rawMsg) <= math.MaxUint16)
	rawMsgFrame := make([]byte, 0, 2+len(rawMsg))
	rawMsgFrame = append(rawMsgFrame, byte(len(rawMsg)>>8), byte(len(rawMsg)))
	return append(rawMsgFrame, rawMsg...)
}
