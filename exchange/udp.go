// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"bytes"
	"context"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnssocket"
	"github.com/miekg/dns"
)

// UDPTransport is a transport for DNS over UDP.
//
// Construct using [NewTransportUDP].
//
// UDPTransport binds a new [dnssocket.DatagramSocket] for each Exchange call
// and targets the specific [netip.AddrPort] endpoint configured at
// construction time.
type UDPTransport struct {
	// Runtime is the [dnssocket.Runtime] to bind with.
	//
	// Set by [NewTransportUDP] to the user-provided value.
	Runtime dnssocket.Runtime

	// Endpoint is the server endpoint to use to query.
	//
	// Set by [NewTransportUDP] to the user-provided value.
	Endpoint netip.AddrPort

	// LocalAddr is the OPTIONAL local address to bind to.
	//
	// When unset, we bind to the unspecified address of the
	// endpoint family using an ephemeral port.
	LocalAddr netip.AddrPort

	// ObserveRawQuery is an optional hook called with a copy of the raw DNS query.
	ObserveRawQuery func([]byte)

	// ObserveRawResponse is an optional hook called with a copy of the raw DNS response.
	ObserveRawResponse func([]byte)
}

// NewTransportUDP creates a new [*UDPTransport].
func NewTransportUDP(rt dnssocket.Runtime, endpoint netip.AddrPort) *UDPTransport {
	return &UDPTransport{Runtime: rt, Endpoint: endpoint}
}

// Bind binds the [dnssocket.DatagramSocket] used to reach the endpoint.
//
// This method enables reusing a socket across multiple exchanges
// via [*UDPTransport.ExchangeWithSocket].
func (dt *UDPTransport) Bind(ctx context.Context) (dnssocket.DatagramSocket, error) {
	local, err := localDatagramAddr(dt.LocalAddr, dt.Endpoint)
	if err != nil {
		return nil, err
	}
	return dt.Runtime.BindDatagram(ctx, local)
}

// Exchange sends a [*dnscodec.Query] and receives a [*dnscodec.Response].
//
// Canceling the context closes the socket and interrupts pending I/O.
func (dt *UDPTransport) Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error) {
	// 1. bind the socket
	sock, err := dt.Bind(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Use a single socket per request and make sure we
	// react to the context being canceled early.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer sock.Close()
		<-ctx.Done()
	}()

	// 3. defer to ExchangeWithSocket.
	return dt.ExchangeWithSocket(ctx, sock, query)
}

// ExchangeWithSocket sends a [*dnscodec.Query] and receives a
// [*dnscodec.Response] using an existing [dnssocket.DatagramSocket].
//
// The caller owns sock. We only honor deadlines from the context;
// canceling the context without a deadline does not interrupt I/O.
func (dt *UDPTransport) ExchangeWithSocket(ctx context.Context,
	sock dnssocket.DatagramSocket, query *dnscodec.Query) (*dnscodec.Response, error) {
	queryMsg, err := dt.SendQuery(ctx, sock, query)
	if err != nil {
		return nil, err
	}
	return dt.RecvResponse(ctx, sock, queryMsg)
}

// SendQuery sends a [*dnscodec.Query] to the endpoint using sock.
func (dt *UDPTransport) SendQuery(ctx context.Context,
	sock dnssocket.DatagramSocket, query *dnscodec.Query) (*dns.Msg, error) {
	// 1. Use the context deadline to limit the lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = sock.SetDeadline(deadline)
		defer sock.SetDeadline(time.Time{})
	}

	// 2. Mutate and serialize the query.
	query = query.Clone()
	query.MaxSize = dnscodec.QueryMaxResponseSizeUDP
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

	// 3. Send the query.
	if _, err := sock.SendTo(rawQuery, dt.Endpoint); err != nil {
		return nil, err
	}
	return queryMsg, nil
}

// RecvResponse receives the [*dnscodec.Response] to queryMsg using sock.
//
// The socket is not connected, so we discard datagrams that do not come
// from the endpoint and keep reading until the deadline.
func (dt *UDPTransport) RecvResponse(ctx context.Context,
	sock dnssocket.DatagramSocket, queryMsg *dns.Msg) (*dnscodec.Response, error) {
	// 1. Use the context deadline to limit the lifetime.
	if deadline, ok := ctx.Deadline(); ok {
		_ = sock.SetDeadline(deadline)
		defer sock.SetDeadline(time.Time{})
	}

	// 2. Read the response message.
	buff := make([]byte, dnscodec.QueryMaxResponseSizeUDP)
	var rawResp []byte
	for {
		count, peer, err := sock.ReceiveFrom(buff)
		if err != nil {
			return nil, err
		}
		if sameEndpoint(peer, dt.Endpoint) {
			rawResp = buff[:count]
			break
		}
	}
	if dt.ObserveRawResponse != nil {
		dt.ObserveRawResponse(bytes.Clone(rawResp))
	}

	// 3. Parse the response.
	respMsg := new(dns.Msg)
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	return dnscodec.ParseResponse(queryMsg, respMsg)
}

// sameEndpoint compares endpoints ignoring IPv4-mapped IPv6 encoding.
func sameEndpoint(a, b netip.AddrPort) bool {
	return a.Addr().Unmap() == b.Addr().Unmap() && a.Port() == b.Port()
}
