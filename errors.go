// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"errors"
	"net/netip"
	"os"
)

var (
	// ErrNotBound means the datagram socket was used before a successful bind.
	ErrNotBound = errors.New("dnssocket: datagram socket not bound")

	// ErrFamilyMismatch means the requested local address and the remote
	// address belong to different address families.
	ErrFamilyMismatch = errors.New("dnssocket: local and remote address family mismatch")

	// ErrInvalidAddress means that an address is the zero [netip.Addr] or otherwise unusable.
	ErrInvalidAddress = errors.New("dnssocket: invalid address")

	// ErrOffloaderClosed means the [Offloader] does not accept jobs anymore.
	ErrOffloaderClosed = errors.New("dnssocket: offloader closed")
)

// BindError is returned when we cannot bind a socket to a local address.
type BindError struct {
	// Addr is the local address we tried to bind.
	Addr netip.AddrPort

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *BindError) Error() string {
	return "bind " + e.Addr.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *BindError) Unwrap() error {
	return e.Err
}

// ConnectError is returned when we cannot establish a stream.
type ConnectError struct {
	// Remote is the address we tried to connect to.
	Remote netip.AddrPort

	// Local is the requested local address, if any.
	Local netip.Addr

	// Err is the underlying error.
	//
	// When the source-bound connect fails while binding, Err is a [*BindError].
	Err error
}

// Error implements error.
func (e *ConnectError) Error() string {
	msg := "connect " + e.Remote.String()
	if e.Local.IsValid() {
		msg += " from " + e.Local.String()
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOError is returned when reading, writing, sending or receiving fails.
type IOError struct {
	// Op is the operation that failed (e.g., "read", "sendto").
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Timeout returns whether the I/O failed because a deadline expired.
func (e *IOError) Timeout() bool {
	return errors.Is(e.Err, os.ErrDeadlineExceeded)
}

// newIOError wraps err into an [*IOError] unless it is nil.
func newIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
