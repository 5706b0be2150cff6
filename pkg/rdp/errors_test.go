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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := connectionFailed(PhaseTCPConnect, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "tcp-connect")
	assert.Contains(t, err.Error(), "connection-failed")

	var ce *ConnectError
	assert.ErrorAs(t, error(err), &ce)
	assert.Equal(t, PhaseTCPConnect, ce.Phase)
	assert.Equal(t, KindConnectionFailed, ce.Kind)
}

func TestIsTimeout(t *testing.T) {
	cause := errors.New("i/o timeout")
	assert.True(t, IsTimeout(timeoutErr(PhaseNegotiation, cause)))
	assert.True(t, IsTimeout(fmt.Errorf("attempt: %w", timeoutErr(PhaseTCPConnect, cause))))
	assert.False(t, IsTimeout(connectionFailed(PhaseTCPConnect, cause)))
	assert.False(t, IsTimeout(finalizeFailed(cause)))
	assert.False(t, IsTimeout(cause))
}

func TestFinalizeFailedPhase(t *testing.T) {
	err := finalizeFailed(errors.New("no demand active PDU received"))
	assert.Equal(t, PhaseFinalize, err.Phase)
	assert.Equal(t, KindFinalizeFailed, err.Kind)
}

func TestPhaseAndKindStrings(t *testing.T) {
	assert.Equal(t, "tcp-connect", PhaseTCPConnect.String())
	assert.Equal(t, "negotiation", PhaseNegotiation.String())
	assert.Equal(t, "tls-upgrade", PhaseTLSUpgrade.String())
	assert.Equal(t, "finalize", PhaseFinalize.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "connection-failed", KindConnectionFailed.String())
	assert.Equal(t, "finalize-failed", KindFinalizeFailed.String())
}
