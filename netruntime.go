// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// NetRuntime is a [Runtime] using the standard library network stack and
// running each blocking job in a dedicated goroutine locked to its thread.
//
// Construct using [NewNetRuntime].
type NetRuntime struct {
	// Dialer is the [NetDialer] used to connect without a local address.
	//
	// Set by [NewNetRuntime] to a [*net.Dialer].
	Dialer NetDialer

	// ListenConfig is the [PacketListener] used to bind datagram sockets.
	//
	// Set by [NewNetRuntime] to a [*net.ListenConfig].
	ListenConfig PacketListener

	// Offloader runs the blocking bind-before-connect sequence.
	//
	// Set by [NewNetRuntime] to [GoroutineOffloader].
	Offloader Offloader
}

// NewNetRuntime creates a new [*NetRuntime].
func NewNetRuntime() *NetRuntime {
	return &NetRuntime{
		Dialer:       &net.Dialer{},
		ListenConfig: &net.ListenConfig{},
		Offloader:    GoroutineOffloader{},
	}
}

var _ Runtime = &NetRuntime{}

// BindDatagram implements [Runtime].
func (r *NetRuntime) BindDatagram(ctx context.Context, local netip.AddrPort) (DatagramSocket, error) {
	return bindDatagram(ctx, r.ListenConfig, local)
}

// ConnectStream implements [Runtime].
func (r *NetRuntime) ConnectStream(ctx context.Context, remote netip.AddrPort, local netip.Addr) (StreamSocket, error) {
	return connectStream(ctx, r.Dialer, r.Offloader, remote, local)
}

// Sleep implements [Runtime].
func (r *NetRuntime) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// Offload implements [Runtime].
func (r *NetRuntime) Offload(ctx context.Context, fn func()) error {
	return r.Offloader.Offload(ctx, fn)
}
