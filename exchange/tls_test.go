// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnssocket"
	"github.com/bassosimone/dnstest"
	"github.com/bassosimone/pkitest"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// newLocalTLSServer starts a [dnstest] TLS server and returns its endpoint
// along with a client [*tls.Config] trusting the server certificate.
func newLocalTLSServer(t *testing.T) (netip.AddrPort, *tls.Config) {
	t.Helper()
	pki := pkitest.MustNewPKI(t.TempDir())
	cert := pki.MustNewCert(&pkitest.SelfSignedCertConfig{
		CommonName:   "example.com",
		DNSNames:     []string{"example.com"},
		IPAddrs:      []net.IP{net.IPv4(127, 0, 0, 1)},
		Organization: []string{"Example"},
	})
	server := dnstest.MustNewTLSServer(&net.ListenConfig{}, "127.0.0.1:0", cert, newTestHandler())
	t.Cleanup(server.Close)
	endpoint, err := netip.ParseAddrPort(server.Address())
	require.NoError(t, err)
	config := &tls.Config{
		RootCAs:    pki.CertPool(),
		ServerName: "example.com",
	}
	return endpoint, config
}

func TestNewTLSConfigDNSOverTLS(t *testing.T) {
	cfg := NewTLSConfigDNSOverTLS("dns.example.com")

	require.Equal(t, "dns.example.com", cfg.ServerName)
	require.Contains(t, cfg.NextProtos, "dot")
}

func TestTransportTLSWithLocalServer(t *testing.T) {
	endpoint, config := newLocalTLSServer(t)

	type testCase struct {
		// name is the subtest name.
		name string

		// local is the local address to connect from.
		local netip.Addr
	}

	tests := []testCase{
		{
			name:  "native path",
			local: netip.Addr{},
		},

		{
			name:  "source-bound path",
			local: netip.MustParseAddr("127.0.0.1"),
		},
	}

	for name, rt := range runtimesForTest(t) {
		for _, tc := range tests {
			t.Run(name+"/"+tc.name, func(t *testing.T) {
				dialer := NewStreamOpenerDialerTLS(rt, config)
				dialer.LocalAddr = tc.local
				dt := NewTransport(dialer, endpoint)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				resp, err := dt.Exchange(ctx, dnscodec.NewQuery("dns.google", dns.TypeA))
				requireDNSGoogle(t, resp, err)
			})
		}
	}
}

func TestTransportTLSHandshakeFailure(t *testing.T) {
	endpoint, config := newLocalTLSServer(t)
	config = config.Clone()
	config.RootCAs = nil // so the certificate is not trusted

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dt := NewTransportTLS(dnssocket.NewNetRuntime(), config, endpoint)
	_, err := dt.Exchange(ctx, dnscodec.NewQuery("dns.google", dns.TypeA))
	require.Error(t, err)
}

func TestNewTLSStreamOpener(t *testing.T) {
	endpoint, config := newLocalTLSServer(t)
	sock, err := dnssocket.NewNetRuntime().ConnectStream(context.Background(), endpoint, netip.Addr{})
	require.NoError(t, err)
	tconn := tls.Client(dnssocket.AsNetConn(sock), config)
	opener := NewTLSStreamOpener(tconn)
	defer opener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dt := NewTransportTLS(dnssocket.NewNetRuntime(), config, endpoint)
	resp, err := dt.ExchangeWithStreamOpener(ctx, opener, dnscodec.NewQuery("dns.google", dns.TypeA))
	requireDNSGoogle(t, resp, err)
}

func TestTlsStreamConnMutateQuery(t *testing.T) {
	conn := &tlsStreamConn{conn: nil}
	query := dnscodec.NewQuery("example.com", dns.TypeA)

	conn.MutateQuery(query)

	require.Equal(t, uint16(dnscodec.QueryMaxResponseSizeTCP), query.MaxSize)
	require.NotZero(t, query.Flags&dnscodec.QueryFlagBlockLengthPadding)
	require.NotZero(t, query.Flags&dnscodec.QueryFlagDNSSec)
}
