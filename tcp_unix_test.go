// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package dnssocket

import (
	"context"
	"io"
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// requireNoDelay ensures that TCP_NODELAY is set on the socket.
func requireNoDelay(t *testing.T, sock StreamSocket) {
	t.Helper()
	ss, ok := sock.(*streamSocket)
	require.True(t, ok)
	sc, ok := ss.conn.(syscall.Conn)
	require.True(t, ok)
	rawConn, err := sc.SyscallConn()
	require.NoError(t, err)

	var (
		value   int
		sockErr error
	)
	require.NoError(t, rawConn.Control(func(fd uintptr) {
		value, sockErr = unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY)
	}))
	require.NoError(t, sockErr)
	require.NotZero(t, value)
}

func TestConnectStreamSourceBound(t *testing.T) {
	endpoint := newLocalListener(t, echoHandler)
	local := netip.MustParseAddr("127.0.0.1")
	for name, rt := range runtimesForTest(t) {
		t.Run(name, func(t *testing.T) {
			sock, err := rt.ConnectStream(context.Background(), endpoint, local)
			require.NoError(t, err)
			defer sock.Close()

			require.Equal(t, endpoint, sock.RemoteAddr())
			require.Equal(t, local, sock.LocalAddr().Addr())
			require.NotZero(t, sock.LocalAddr().Port())
			requireNoDelay(t, sock)

			// I/O must go through the netpoller, so deadlines must work
			require.NoError(t, sock.SetDeadline(time.Now().Add(5*time.Second)))
			_, err = sock.Write([]byte("pong"))
			require.NoError(t, err)
			buf := make([]byte, 4)
			_, err = io.ReadFull(sock, buf)
			require.NoError(t, err)
			require.Equal(t, []byte("pong"), buf)
		})
	}
}

func TestConnectStreamSourceBoundReadDeadline(t *testing.T) {
	// the handler never writes and holds the connection open
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	endpoint := newLocalListener(t, func(conn net.Conn) {
		defer conn.Close()
		<-hold
	})

	sock, err := NewNetRuntime().ConnectStream(context.Background(), endpoint, netip.MustParseAddr("127.0.0.1"))
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	_, err = sock.Read(make([]byte, 4))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	require.True(t, ioErr.Timeout())
}

func TestConnectStreamNativePathNoDelay(t *testing.T) {
	endpoint := newLocalListener(t, echoHandler)
	sock, err := NewNetRuntime().ConnectStream(context.Background(), endpoint, netip.Addr{})
	require.NoError(t, err)
	defer sock.Close()
	requireNoDelay(t, sock)
}

func TestConnectStreamRefused(t *testing.T) {
	endpoint := closedLocalPort(t)

	type testCase struct {
		// name is the subtest name.
		name string

		// local is the requested local address.
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
				_, err := rt.ConnectStream(context.Background(), endpoint, tc.local)
				var connectErr *ConnectError
				require.ErrorAs(t, err, &connectErr)
				require.Equal(t, endpoint, connectErr.Remote)
				require.ErrorIs(t, err, syscall.ECONNREFUSED)
			})
		}
	}
}

func TestConnectStreamSourceBoundBindFailure(t *testing.T) {
	endpoint := newLocalListener(t, echoHandler)

	// 192.0.2.0/24 is TEST-NET-1, which no local interface should own
	local := netip.MustParseAddr("192.0.2.1")
	_, err := NewNetRuntime().ConnectStream(context.Background(), endpoint, local)

	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	require.Equal(t, netip.AddrPortFrom(local, 0), bindErr.Addr)
}

func TestSockaddrFromAddrPort(t *testing.T) {
	t.Run("IPv4", func(t *testing.T) {
		sa, err := sockaddrFromAddrPort(netip.MustParseAddrPort("127.0.0.1:53"))
		require.NoError(t, err)
		sa4, ok := sa.(*unix.SockaddrInet4)
		require.True(t, ok)
		require.Equal(t, 53, sa4.Port)
		require.Equal(t, [4]byte{127, 0, 0, 1}, sa4.Addr)
	})

	t.Run("IPv4-mapped IPv6 stays IPv6", func(t *testing.T) {
		sa, err := sockaddrFromAddrPort(netip.MustParseAddrPort("[::ffff:127.0.0.1]:53"))
		require.NoError(t, err)
		_, ok := sa.(*unix.SockaddrInet6)
		require.True(t, ok)
	})

	t.Run("numeric zone", func(t *testing.T) {
		sa, err := sockaddrFromAddrPort(netip.MustParseAddrPort("[fe80::1%7]:53"))
		require.NoError(t, err)
		sa6, ok := sa.(*unix.SockaddrInet6)
		require.True(t, ok)
		require.Equal(t, uint32(7), sa6.ZoneId)
	})

	t.Run("unknown zone", func(t *testing.T) {
		_, err := sockaddrFromAddrPort(netip.MustParseAddrPort("[fe80::1%nonexistent0]:53"))
		require.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("invalid address", func(t *testing.T) {
		_, err := sockaddrFromAddrPort(netip.AddrPort{})
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
}

func TestRawSocketCloseIsIdempotent(t *testing.T) {
	sock, err := newRawSocket(unix.AF_INET)
	require.NoError(t, err)
	require.NoError(t, sock.Close())
	require.Equal(t, -1, sock.fd)
	require.NoError(t, sock.Close())
}
