// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"io"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countOpenFDs returns the number of descriptors open in this process.
func countOpenFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestConnectStreamSourceBoundDoesNotLeak(t *testing.T) {
	const attempts = 16
	endpoint := newLocalListener(t, echoHandler)
	refused := closedLocalPort(t)
	rt := NewNetRuntime()
	ctx := context.Background()

	// creating the listener above also initialized the netpoller
	baseline := countOpenFDs(t)

	for range attempts {
		// bind failure
		_, err := rt.ConnectStream(ctx, endpoint, netip.MustParseAddr("192.0.2.1"))
		require.Error(t, err)

		// connect failure
		_, err = rt.ConnectStream(ctx, refused, netip.MustParseAddr("127.0.0.1"))
		require.Error(t, err)

		// family mismatch
		_, err = rt.ConnectStream(ctx, endpoint, netip.MustParseAddr("::1"))
		require.ErrorIs(t, err, ErrFamilyMismatch)
	}

	require.Equal(t, baseline, countOpenFDs(t))
}

// gatedOffloader is an [Offloader] whose jobs start once gate is closed.
type gatedOffloader struct {
	gate chan struct{}
}

var _ Offloader = &gatedOffloader{}

// Offload implements [Offloader].
func (o *gatedOffloader) Offload(ctx context.Context, fn func()) error {
	go func() {
		<-o.gate
		fn()
	}()
	return nil
}

func TestConnectStreamSourceBoundCanceledWhileRunning(t *testing.T) {
	peerClosed := make(chan struct{})
	endpoint := newLocalListener(t, func(conn net.Conn) {
		defer close(peerClosed)
		defer conn.Close()
		io.Copy(io.Discard, conn)
	})
	baseline := countOpenFDs(t)

	offloader := &gatedOffloader{gate: make(chan struct{})}
	rt := NewNetRuntime()
	rt.Offloader = offloader

	ctx, cancel := context.WithCancel(context.Background())
	errch := make(chan error, 1)
	go func() {
		_, err := rt.ConnectStream(ctx, endpoint, netip.MustParseAddr("127.0.0.1"))
		errch <- err
	}()

	// the job is accepted but cannot complete before the cancellation
	cancel()
	require.ErrorIs(t, <-errch, context.Canceled)

	// the job now connects and nobody is waiting for the connection
	close(offloader.gate)
	select {
	case <-peerClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("the late connection was not closed")
	}

	require.Eventually(t, func() bool {
		return countOpenFDs(t) == baseline
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBindDatagramDoesNotLeak(t *testing.T) {
	const count = 16
	rt := NewNetRuntime()
	ctx := context.Background()

	warmup, err := rt.BindDatagram(ctx, netip.MustParseAddrPort("127.0.0.1:0"))
	require.NoError(t, err)
	require.NoError(t, warmup.Close())
	baseline := countOpenFDs(t)

	socks := make([]DatagramSocket, 0, count)
	for range count {
		sock, err := rt.BindDatagram(ctx, netip.MustParseAddrPort("127.0.0.1:0"))
		require.NoError(t, err)
		socks = append(socks, sock)
	}
	require.Equal(t, baseline+count, countOpenFDs(t))

	for _, sock := range socks {
		require.NoError(t, sock.Close())
	}
	require.Equal(t, baseline, countOpenFDs(t))
}
