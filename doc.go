// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnssocket provides the UDP and TCP sockets used by DNS engines.
//
// A DNS engine depends on the [Runtime] interface only. The [Runtime] binds
// a [DatagramSocket] with [Runtime.BindDatagram] and connects a [StreamSocket]
// with [Runtime.ConnectStream]. We implement two runtimes:
//
//  1. [*NetRuntime] runs blocking jobs in per-job goroutines.
//
//  2. [*PoolRuntime] runs blocking jobs on a fixed [*WorkerPool].
//
// When [Runtime.ConnectStream] receives a valid local address, we pin the
// source address of the connection by creating the socket ourselves, binding
// it to the local address and port zero, and calling connect. These are
// blocking system calls, so they run on the runtime [Offloader]. Then, we
// hand the connected socket over to the Go netpoller.
//
// Every [StreamSocket] has Nagle's algorithm disabled.
//
// This package does not enforce timeouts and does not retry. Use deadlines
// and contexts to implement a timeout policy. The [exchange] package shows
// how to build DNS transports on top of this package.
//
// [exchange]: https://pkg.go.dev/github.com/bassosimone/dnssocket/exchange
package dnssocket
