// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// DefaultPoolWorkers is the default number of [*PoolRuntime] workers.
const DefaultPoolWorkers = 4

// PoolRuntime is a [Runtime] using the standard library network stack and
// running blocking jobs on a fixed [*WorkerPool].
//
// This runtime bounds the number of OS threads that may be stuck inside
// a blocking connect at any given time.
//
// Construct using [NewPoolRuntime]. Call Close when done.
type PoolRuntime struct {
	// Dialer is the [NetDialer] used to connect without a local address.
	//
	// Set by [NewPoolRuntime] to a [*net.Dialer].
	Dialer NetDialer

	// ListenConfig is the [PacketListener] used to bind datagram sockets.
	//
	// Set by [NewPoolRuntime] to a [*net.ListenConfig].
	ListenConfig PacketListener

	// pool runs the blocking jobs.
	pool *WorkerPool
}

// NewPoolRuntime creates a new [*PoolRuntime] with the given number of
// workers. A non-positive value selects [DefaultPoolWorkers].
func NewPoolRuntime(workers int) *PoolRuntime {
	if workers <= 0 {
		workers = DefaultPoolWorkers
	}
	return &PoolRuntime{
		Dialer:       &net.Dialer{},
		ListenConfig: &net.ListenConfig{},
		pool:         NewWorkerPool(workers, workers),
	}
}

var _ Runtime = &PoolRuntime{}

// BindDatagram implements [Runtime].
func (r *PoolRuntime) BindDatagram(ctx context.Context, local netip.AddrPort) (DatagramSocket, error) {
	return bindDatagram(ctx, r.ListenConfig, local)
}

// ConnectStream implements [Runtime].
func (r *PoolRuntime) ConnectStream(ctx context.Context, remote netip.AddrPort, local netip.Addr) (StreamSocket, error) {
	return connectStream(ctx, r.Dialer, r.pool, remote, local)
}

// Sleep implements [Runtime].
func (r *PoolRuntime) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// Offload implements [Runtime].
func (r *PoolRuntime) Offload(ctx context.Context, fn func()) error {
	return r.pool.Offload(ctx, fn)
}

// Close stops the workers after the pending jobs complete.
func (r *PoolRuntime) Close() error {
	return r.pool.Close()
}
