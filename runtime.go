// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// NetDialer is typically [*net.Dialer].
type NetDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// connectStream implements [Runtime.ConnectStream] for the runtimes
// driven by the Go netpoller.
//
// Without a local address we use the native dialer. Otherwise, we run the
// bind-before-connect sequence on the [Offloader]. Either way, we disable
// Nagle's algorithm before returning the [StreamSocket].
func connectStream(ctx context.Context, dialer NetDialer, o Offloader,
	remote netip.AddrPort, local netip.Addr) (StreamSocket, error) {
	// 1. refuse obviously invalid remote addresses
	if !remote.Addr().IsValid() {
		return nil, &ConnectError{Remote: remote, Local: local, Err: ErrInvalidAddress}
	}

	// 2. select the path depending on whether there is a local address
	var (
		conn net.Conn
		err  error
	)
	if local.IsValid() {
		conn, err = connectSourceBound(ctx, o, remote, local)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", remote.String())
	}
	if err != nil {
		return nil, &ConnectError{Remote: remote, Local: local, Err: err}
	}

	// 3. disable Nagle's algorithm or close the connection
	sock, err := newStreamSocket(conn)
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Remote: remote, Local: local, Err: err}
	}
	return sock, nil
}

// sleep implements [Runtime.Sleep] using [time.Timer].
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
