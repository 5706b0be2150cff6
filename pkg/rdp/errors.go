// RustConn Go - Remote connection engine for RDP sessions
// Copyright (C) 2025 - RustConn contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rdp

import (
	"errors"
	"fmt"
)

// ErrNoBackendAvailable is returned by the Selector when neither the native
// client nor any external FreeRDP variant is present on the host. It is a
// selection failure, never a handshake failure.
var ErrNoBackendAvailable = errors.New("no RDP backend available")

// Phase identifies where in the connection sequence an error occurred.
type Phase uint8

const (
	PhaseTCPConnect Phase = iota
	PhaseNegotiation
	PhaseTLSUpgrade
	PhaseFinalize
)

func (p Phase) String() string {
	switch p {
	case PhaseTCPConnect:
		return "tcp-connect"
	case PhaseNegotiation:
		return "negotiation"
	case PhaseTLSUpgrade:
		return "tls-upgrade"
	case PhaseFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// ErrorKind classifies a connection failure.
type ErrorKind uint8

const (
	// KindTimeout means the TCP connect exceeded the caller-supplied bound.
	KindTimeout ErrorKind = iota
	// KindConnectionFailed covers DNS, TCP, negotiation and TLS errors.
	KindConnectionFailed
	// KindFinalizeFailed covers credential and capability exchange errors.
	// Kept distinct from KindConnectionFailed because a finalize failure
	// usually indicates misconfiguration rather than unreachability.
	KindFinalizeFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection-failed"
	case KindFinalizeFailed:
		return "finalize-failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ConnectError is the failure result of a single connection attempt. Each
// handshake phase wraps its underlying error with a phase tag and returns
// immediately; a connect call never retries internally.
type ConnectError struct {
	Phase Phase
	Kind  ErrorKind
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("rdp %s: %s: %v", e.Phase, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func timeoutErr(phase Phase, err error) *ConnectError {
	return &ConnectError{Phase: phase, Kind: KindTimeout, Err: err}
}

func connectionFailed(phase Phase, err error) *ConnectError {
	return &ConnectError{Phase: phase, Kind: KindConnectionFailed, Err: err}
}

func finalizeFailed(err error) *ConnectError {
	return &ConnectError{Phase: PhaseFinalize, Kind: KindFinalizeFailed, Err: err}
}

// IsTimeout reports whether err is a connection attempt that ran out the
// caller-supplied TCP connect bound.
func IsTimeout(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == KindTimeout
}
